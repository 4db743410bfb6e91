package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	fieldAccessToken = "access_token"
	fieldExpiresAt   = "expires_at"
)

// RedisSource reads the current token from a Redis hash with the fields
// access_token and expires_at (RFC 3339). A token that expires within
// MinRemaining is treated as missing.
type RedisSource struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// NewRedisSource returns a Source reading the hash at key.
func NewRedisSource(client *redis.Client, key string) *RedisSource {
	return &RedisSource{client: client, key: key, now: time.Now}
}

// Token implements Source.
func (s *RedisSource) Token(ctx context.Context) (string, error) {
	vals, err := s.client.HMGet(ctx, s.key, fieldAccessToken, fieldExpiresAt).Result()
	if err != nil {
		return "", fmt.Errorf("read token %s: %w", s.key, err)
	}

	token, _ := vals[0].(string)
	expires, _ := vals[1].(string)
	if token == "" {
		return "", &MissingCredentialsError{Reason: "no token stored"}
	}

	exp, err := time.Parse(time.RFC3339, expires)
	if err != nil {
		return "", &MissingCredentialsError{Reason: "token has no valid expiry"}
	}
	if !exp.After(s.now().Add(MinRemaining)) {
		return "", &MissingCredentialsError{Reason: "token expired or about to expire"}
	}
	return token, nil
}

// Save stores a token and its expiry. Used by whatever refreshes tokens.
func (s *RedisSource) Save(ctx context.Context, token string, expiresAt time.Time) error {
	err := s.client.HSet(ctx, s.key,
		fieldAccessToken, token,
		fieldExpiresAt, expiresAt.UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("save token %s: %w", s.key, err)
	}
	return nil
}
