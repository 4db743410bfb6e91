package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
)

// KinesisSink publishes events as JSON records to an AWS Kinesis data stream.
// Records are partitioned by stream key so one stream's events stay ordered.
type KinesisSink struct {
	client     kinesisiface.KinesisAPI
	streamName string
}

// NewKinesisSink creates a sink using a session for region.
func NewKinesisSink(region, streamName string) (*KinesisSink, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewKinesisSinkWithClient(kinesis.New(sess), streamName), nil
}

// NewKinesisSinkWithClient creates a sink on an existing client.
func NewKinesisSinkWithClient(client kinesisiface.KinesisAPI, streamName string) *KinesisSink {
	return &KinesisSink{client: client, streamName: streamName}
}

// Publish implements Sink.
func (k *KinesisSink) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	partition := e.StreamKey
	if partition == "" {
		partition = string(e.Type)
	}

	_, err = k.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		Data:         data,
		PartitionKey: aws.String(partition),
		StreamName:   aws.String(k.streamName),
	})
	if err != nil {
		return fmt.Errorf("put record to kinesis: %w", err)
	}
	return nil
}
