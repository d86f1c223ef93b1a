package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type stubRedis struct {
	hashes  map[string]map[string]string
	lists   map[string][]string
	zsets   map[string][]redis.Z
	evalOut any
	evalErr error
	rangeBy *redis.ZRangeBy
	expired map[string]time.Duration
	deleted []string
}

func newStubRedis() *stubRedis {
	return &stubRedis{
		hashes:  map[string]map[string]string{},
		lists:   map[string][]string{},
		zsets:   map[string][]redis.Z{},
		expired: map[string]time.Duration{},
	}
}

func (s *stubRedis) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	hash := s.hashes[key]
	if hash == nil {
		hash = map[string]string{}
		s.hashes[key] = hash
	}
	for i := 0; i+1 < len(values); i += 2 {
		hash[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (s *stubRedis) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	return redis.NewMapStringStringResult(s.hashes[key], nil)
}

func (s *stubRedis) HGet(_ context.Context, key, field string) *redis.StringCmd {
	value, ok := s.hashes[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (s *stubRedis) HDel(_ context.Context, key string, fields ...string) *redis.IntCmd {
	for _, field := range fields {
		delete(s.hashes[key], field)
	}
	return redis.NewIntResult(int64(len(fields)), nil)
}

func (s *stubRedis) LPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	for _, value := range values {
		s.lists[key] = append([]string{value.(string)}, s.lists[key]...)
	}
	return redis.NewIntResult(int64(len(s.lists[key])), nil)
}

func (s *stubRedis) RPop(_ context.Context, key string) *redis.StringCmd {
	list := s.lists[key]
	if len(list) == 0 {
		return redis.NewStringResult("", redis.Nil)
	}
	s.lists[key] = list[:len(list)-1]
	return redis.NewStringResult(list[len(list)-1], nil)
}

func (s *stubRedis) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	s.zsets[key] = append(s.zsets[key], members...)
	return redis.NewIntResult(int64(len(members)), nil)
}

func (s *stubRedis) ZRem(_ context.Context, key string, members ...any) *redis.IntCmd {
	kept := s.zsets[key][:0]
	for _, entry := range s.zsets[key] {
		removed := false
		for _, member := range members {
			if entry.Member == member {
				removed = true
			}
		}
		if !removed {
			kept = append(kept, entry)
		}
	}
	s.zsets[key] = kept
	return redis.NewIntResult(int64(len(members)), nil)
}

func (s *stubRedis) ZRangeByScoreWithScores(_ context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd {
	s.rangeBy = opt
	return redis.NewZSliceCmdResult(s.zsets[key], nil)
}

func (s *stubRedis) Eval(context.Context, string, []string, ...any) *redis.Cmd {
	return redis.NewCmdResult(s.evalOut, s.evalErr)
}

func (s *stubRedis) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	s.expired[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (s *stubRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	s.deleted = append(s.deleted, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestRedisQueueClient_HashAndListCommands(t *testing.T) {
	ctx := context.Background()
	stub := newStubRedis()
	client := NewRedisQueueClient(stub)

	if err := client.HSet(ctx, "msg:1", map[string]string{"payload": "{}", "attempts": "0"}); err != nil {
		t.Fatalf("hset: %v", err)
	}
	fields, err := client.HGetAll(ctx, "msg:1")
	if err != nil || fields["payload"] != "{}" || fields["attempts"] != "0" {
		t.Fatalf("expected both fields back, got %v err=%v", fields, err)
	}
	missing, err := client.HGet(ctx, "msg:1", "token")
	if err != nil || missing != "" {
		t.Fatalf("expected a missing field to read empty, got %q err=%v", missing, err)
	}

	if err := client.LPush(ctx, "ready", "a", "b"); err != nil {
		t.Fatalf("lpush: %v", err)
	}
	if first, _ := client.RPop(ctx, "ready"); first != "a" {
		t.Fatalf("expected fifo pop of a, got %q", first)
	}
	_, _ = client.RPop(ctx, "ready")
	empty, err := client.RPop(ctx, "ready")
	if err != nil || empty != "" {
		t.Fatalf("expected an empty list to pop empty, got %q err=%v", empty, err)
	}
}

func TestRedisQueueClient_SortedSetAndEval(t *testing.T) {
	ctx := context.Background()
	stub := newStubRedis()
	client := NewRedisQueueClient(stub)

	if err := client.ZAdd(ctx, "delayed", 42, "msg-1"); err != nil {
		t.Fatalf("zadd: %v", err)
	}
	items, err := client.ZRangeByScore(ctx, "delayed", 100, 10)
	if err != nil {
		t.Fatalf("zrange: %v", err)
	}
	if len(items) != 1 || items[0].Member != "msg-1" || items[0].Score != 42 {
		t.Fatalf("unexpected items %+v", items)
	}
	if stub.rangeBy.Min != "-inf" || stub.rangeBy.Max != "100" || stub.rangeBy.Count != 10 {
		t.Fatalf("unexpected range %+v", stub.rangeBy)
	}
	if err := client.ZRem(ctx, "delayed", "msg-1"); err != nil || len(stub.zsets["delayed"]) != 0 {
		t.Fatalf("expected member removal, got %v err=%v", stub.zsets["delayed"], err)
	}

	stub.evalErr = redis.Nil
	out, err := client.Eval(ctx, "return nil", []string{"k"})
	if err != nil || out != nil {
		t.Fatalf("expected a nil script reply to read as empty, got %v err=%v", out, err)
	}
	stub.evalOut, stub.evalErr = nil, errors.New("NOSCRIPT")
	if _, err := client.Eval(ctx, "return 1", nil); err == nil {
		t.Fatalf("expected script errors to surface")
	}

	if err := client.Expire(ctx, "status:1", time.Hour); err != nil || stub.expired["status:1"] != time.Hour {
		t.Fatalf("expected expire to be forwarded, got %v err=%v", stub.expired, err)
	}
	if err := client.Del(ctx); err != nil || len(stub.deleted) != 0 {
		t.Fatalf("expected an empty delete to be skipped")
	}
}

func TestDurableQueueConstructorsRequireBackends(t *testing.T) {
	if _, err := NewRedisQueue(nil); err == nil {
		t.Fatalf("expected a nil redis client to be rejected")
	}
	if _, err := NewPostgresQueue(context.Background(), nil); err == nil {
		t.Fatalf("expected a nil database to be rejected")
	}
	adapter, err := NewRedisQueue(newStubRedis())
	if err != nil || adapter == nil {
		t.Fatalf("expected a redis queue, got %v", err)
	}
}
