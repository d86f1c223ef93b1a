package redislock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-creditlots/core"
	"github.com/redis/go-redis/v9"
)

type stubClient struct {
	values  map[string]string
	ttls    map[string]time.Duration
	failSet error
}

func newStubClient() *stubClient {
	return &stubClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *stubClient) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if c.failSet != nil {
		return redis.NewBoolResult(false, c.failSet)
	}
	if _, ok := c.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	c.values[key] = value.(string)
	c.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (c *stubClient) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	if c.values[keys[0]] == args[0].(string) {
		delete(c.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestLocker_AcquireIsExclusive(t *testing.T) {
	client := newStubClient()
	locker, err := New(client)
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}
	ctx := context.Background()

	handle, err := locker.Acquire(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if client.ttls["creditlots:lock:sweep"] != time.Minute {
		t.Fatalf("expected lease ttl to be forwarded, got %v", client.ttls)
	}
	if _, err := locker.Acquire(ctx, "sweep", time.Minute); !errors.Is(err, core.ErrLeaderLockHeld) {
		t.Fatalf("expected ErrLeaderLockHeld, got %v", err)
	}
	if err := handle.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := locker.Acquire(ctx, "sweep", time.Minute); err != nil {
		t.Fatalf("expected reacquire after unlock, got %v", err)
	}
}

func TestLocker_UnlockKeepsForeignLease(t *testing.T) {
	client := newStubClient()
	locker, _ := New(client)
	ctx := context.Background()

	handle, err := locker.Acquire(ctx, "sweep", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// the lease expired and another process took it
	client.values["creditlots:lock:sweep"] = "other-holder"

	if err := handle.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if client.values["creditlots:lock:sweep"] != "other-holder" {
		t.Fatalf("expected foreign lease to survive unlock")
	}
}

func TestLocker_Errors(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected nil client to be rejected")
	}
	client := newStubClient()
	client.failSet = errors.New("connection refused")
	locker, _ := New(client)
	_, err := locker.Acquire(context.Background(), "sweep", time.Minute)
	if !core.HasTextCode(err, core.ErrorExternalDependency) {
		t.Fatalf("expected %s, got %v", core.ErrorExternalDependency, err)
	}
	if _, err := locker.Acquire(context.Background(), " ", time.Minute); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}
