package gojob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	pgqueue "github.com/goliatone/go-job/queue/adapters/postgres"
	redisqueue "github.com/goliatone/go-job/queue/adapters/redis"
	"github.com/redis/go-redis/v9"
)

const (
	RedisQueueName        = "creditlots:jobs"
	PostgresQueueTable    = "creditlots_job_queue"
	PostgresDLQTable      = "creditlots_job_dlq"
	PostgresStatusTable   = "creditlots_job_status"
	queueVisibilityWindow = 5 * time.Minute
)

// RedisCommands is the slice of go-redis the job queue needs. *redis.Client
// and *redis.ClusterClient satisfy it.
type RedisCommands interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	RPop(ctx context.Context, key string) *redis.StringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisQueueClient implements go-job's redis queue client over go-redis.
// Missing keys read as empty values instead of redis.Nil errors.
type RedisQueueClient struct {
	client RedisCommands
}

func NewRedisQueueClient(client RedisCommands) *RedisQueueClient {
	return &RedisQueueClient{client: client}
}

func (c *RedisQueueClient) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values)*2)
	for field, value := range values {
		args = append(args, field, value)
	}
	return c.client.HSet(ctx, key, args...).Err()
}

func (c *RedisQueueClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.client.HGetAll(ctx, key).Result()
}

func (c *RedisQueueClient) HGet(ctx context.Context, key, field string) (string, error) {
	value, err := c.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (c *RedisQueueClient) HDel(ctx context.Context, key string, fields ...string) error {
	return c.client.HDel(ctx, key, fields...).Err()
}

func (c *RedisQueueClient) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, value := range values {
		args[i] = value
	}
	return c.client.LPush(ctx, key, args...).Err()
}

func (c *RedisQueueClient) RPop(ctx context.Context, key string) (string, error) {
	value, err := c.client.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func (c *RedisQueueClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *RedisQueueClient) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, member := range members {
		args[i] = member
	}
	return c.client.ZRem(ctx, key, args...).Err()
}

func (c *RedisQueueClient) ZRangeByScore(ctx context.Context, key string, max float64, limit int64) ([]redisqueue.ZItem, error) {
	entries, err := c.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(max, 'f', -1, 64),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	items := make([]redisqueue.ZItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, redisqueue.ZItem{Member: fmt.Sprint(entry.Member), Score: entry.Score})
	}
	return items, nil
}

func (c *RedisQueueClient) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	value, err := c.client.Eval(ctx, script, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

func (c *RedisQueueClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

func (c *RedisQueueClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// NewRedisQueue builds the go-job redis queue under the creditlots key
// prefix. The adapter is both the enqueuer and the worker dequeuer.
func NewRedisQueue(client RedisCommands, opts ...redisqueue.Option) (*redisqueue.Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("gojob: redis client is required")
	}
	opts = append([]redisqueue.Option{
		redisqueue.WithQueueName(RedisQueueName),
		redisqueue.WithVisibilityTimeout(queueVisibilityWindow),
	}, opts...)
	return redisqueue.NewAdapter(redisqueue.NewStorage(NewRedisQueueClient(client), opts...)), nil
}

// NewPostgresQueue builds the go-job postgres queue on db and creates its
// tables when missing.
func NewPostgresQueue(ctx context.Context, db *sql.DB, opts ...pgqueue.Option) (*pgqueue.Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("gojob: postgres queue needs a database handle")
	}
	opts = append([]pgqueue.Option{
		pgqueue.WithTableName(PostgresQueueTable),
		pgqueue.WithDLQTableName(PostgresDLQTable),
		pgqueue.WithStatusTableName(PostgresStatusTable),
		pgqueue.WithVisibilityTimeout(queueVisibilityWindow),
	}, opts...)
	storage := pgqueue.NewStorage(db, opts...)
	if err := storage.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("gojob: migrate postgres queue: %w", err)
	}
	return pgqueue.NewAdapter(storage), nil
}

var _ redisqueue.Client = (*RedisQueueClient)(nil)
