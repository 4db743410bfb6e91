package livestream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps records as JSON in one hash, plus one set of keys per
// status so listing by status does not scan every record.
//
//	<prefix>:streams            hash  stream_key -> json
//	<prefix>:status:<status>    set   stream_key
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore returns a store using keys under prefix (default "livesync").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "livesync"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hashKey() string {
	return s.prefix + ":streams"
}

func (s *RedisStore) statusKey(st Status) string {
	return s.prefix + ":status:" + string(st)
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key string) (StreamRecord, bool, error) {
	data, err := s.client.HGet(ctx, s.hashKey(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return StreamRecord{}, false, nil
	}
	if err != nil {
		return StreamRecord{}, false, fmt.Errorf("failed to get stream %s: %w", key, err)
	}

	var rec StreamRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return StreamRecord{}, false, fmt.Errorf("failed to unmarshal stream %s: %w", key, err)
	}
	return rec, true, nil
}

// Put implements Store.Put. The record and its status-set membership are
// written in one MULTI/EXEC transaction.
func (s *RedisStore) Put(ctx context.Context, rec StreamRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.hashKey(), rec.StreamKey, data)
		for _, st := range Statuses {
			if st != rec.Status {
				pipe.SRem(ctx, s.statusKey(st), rec.StreamKey)
			}
		}
		pipe.SAdd(ctx, s.statusKey(rec.Status), rec.StreamKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put stream %s: %w", rec.StreamKey, err)
	}
	return nil
}

// List implements Store.List.
func (s *RedisStore) List(ctx context.Context) ([]StreamRecord, error) {
	vals, err := s.client.HVals(ctx, s.hashKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	out := make([]StreamRecord, 0, len(vals))
	for _, v := range vals {
		var rec StreamRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListByStatus implements Store.ListByStatus.
func (s *RedisStore) ListByStatus(ctx context.Context, status Status) ([]StreamRecord, error) {
	keys, err := s.client.SMembers(ctx, s.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s streams: %w", status, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.client.HMGet(ctx, s.hashKey(), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s streams: %w", status, err)
	}

	out := make([]StreamRecord, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec StreamRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
		}
		// the set can lag the hash if another writer raced us
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}
