package debuglog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sink receives the records of a finished run.
type Sink interface {
	Push(ctx context.Context, runID string, records []Record) error
}

// DefaultRedisKey is the list records are pushed to.
const DefaultRedisKey = "bpread:attempts"

// RedisOptions configures a RedisSink.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// MaxLen caps the list; older entries are trimmed.
	MaxLen int64
	TTL    time.Duration
}

// listClient is the part of the redis client the sink uses.
type listClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisSink appends JSON records to a capped Redis list.
type RedisSink struct {
	client listClient
	key    string
	maxLen int64
	ttl    time.Duration
	closer func() error
}

// NewRedisSink connects to Redis at opts.Addr.
func NewRedisSink(opts RedisOptions) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s := newRedisSink(client, opts)
	s.closer = client.Close
	return s
}

func newRedisSink(client listClient, opts RedisOptions) *RedisSink {
	key := opts.Key
	if key == "" {
		key = DefaultRedisKey
	}
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisSink{client: client, key: key, maxLen: maxLen, ttl: opts.TTL}
}

// Push appends the records of one run and trims the list to its cap.
func (s *RedisSink) Push(ctx context.Context, runID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(records))
	for _, r := range records {
		if r.RunID == "" {
			r.RunID = runID
		}
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		values = append(values, string(b))
	}
	if err := s.client.RPush(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("push %d records to %s: %w", len(values), s.key, err)
	}
	if err := s.client.LTrim(ctx, s.key, -s.maxLen, -1).Err(); err != nil {
		return fmt.Errorf("trim %s: %w", s.key, err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, s.key, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", s.key, err)
		}
	}
	return nil
}

// Close releases the client connection.
func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
