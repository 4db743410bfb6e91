package livestream

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

const dynamoKeyAttr = "stream_key"

// DynamoDBStore keeps one item per stream, hashed on stream_key.
type DynamoDBStore struct {
	db    dynamodbiface.DynamoDBAPI
	table string
}

// NewDynamoDBClient builds a DynamoDB client for region. A non-empty endpoint
// points it at DynamoDB Local or LocalStack.
func NewDynamoDBClient(region, endpoint string) (*dynamodb.DynamoDB, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return dynamodb.New(sess), nil
}

// NewDynamoDBStore returns a store backed by table.
func NewDynamoDBStore(db dynamodbiface.DynamoDBAPI, table string) *DynamoDBStore {
	return &DynamoDBStore{db: db, table: table}
}

// EnsureTable creates the table with on-demand billing if it does not exist
// and waits until it is active.
func (s *DynamoDBStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("failed to describe table %s: %w", s.table, err)
	}

	_, err = s.db.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(dynamoKeyAttr), KeyType: aws.String(dynamodb.KeyTypeHash)},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String(dynamoKeyAttr), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	return s.db.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
}

// Get implements Store.Get.
func (s *DynamoDBStore) Get(ctx context.Context, key string) (StreamRecord, bool, error) {
	out, err := s.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			dynamoKeyAttr: {S: aws.String(key)},
		},
	})
	if err != nil {
		return StreamRecord{}, false, fmt.Errorf("failed to get item %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return StreamRecord{}, false, nil
	}

	var rec StreamRecord
	if err := dynamodbattribute.UnmarshalMap(out.Item, &rec); err != nil {
		return StreamRecord{}, false, fmt.Errorf("failed to unmarshal stream %s: %w", key, err)
	}
	return rec, true, nil
}

// Put implements Store.Put.
func (s *DynamoDBStore) Put(ctx context.Context, rec StreamRecord) error {
	item, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	_, err = s.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item %s: %w", rec.StreamKey, err)
	}
	return nil
}

// List implements Store.List.
func (s *DynamoDBStore) List(ctx context.Context) ([]StreamRecord, error) {
	return s.scan(ctx, &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	})
}

// ListByStatus implements Store.ListByStatus.
func (s *DynamoDBStore) ListByStatus(ctx context.Context, status Status) ([]StreamRecord, error) {
	return s.scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		ConsistentRead:   aws.Bool(true),
		FilterExpression: aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]*string{
			"#status": aws.String("status"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":status": {S: aws.String(string(status))},
		},
	})
}

func (s *DynamoDBStore) scan(ctx context.Context, in *dynamodb.ScanInput) ([]StreamRecord, error) {
	var (
		out     []StreamRecord
		pageErr error
	)
	err := s.db.ScanPagesWithContext(ctx, in, func(page *dynamodb.ScanOutput, _ bool) bool {
		var recs []StreamRecord
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			pageErr = err
			return false
		}
		out = append(out, recs...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.table, err)
	}
	if pageErr != nil {
		return nil, fmt.Errorf("failed to unmarshal streams: %w", pageErr)
	}
	return out, nil
}
