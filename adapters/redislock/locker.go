// Package redislock implements core.LeaderLocker on Redis so that only one
// process runs the expiry sweep at a time.
package redislock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-creditlots/core"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "creditlots:lock:"

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of *redis.Client the locker uses.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

type Locker struct {
	client Client
	token  func() string
}

var _ core.LeaderLocker = (*Locker)(nil)

func New(client Client) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redislock: redis client is required")
	}
	return &Locker{client: client, token: uuid.NewString}, nil
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (core.LockHandle, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("redislock: lock key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("redislock: lock ttl must be positive")
	}
	redisKey := keyPrefix + key
	token := l.token()
	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, core.ExternalDependencyError(err, "redislock: acquire "+key)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrLeaderLockHeld, key)
	}
	return &handle{client: l.client, key: redisKey, token: token}, nil
}

type handle struct {
	client Client
	key    string
	token  string
}

// Unlock is a no-op once the lease expired and another holder took the key.
func (h *handle) Unlock(ctx context.Context) error {
	if err := h.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Err(); err != nil {
		return core.ExternalDependencyError(err, "redislock: release "+strings.TrimPrefix(h.key, keyPrefix))
	}
	return nil
}
