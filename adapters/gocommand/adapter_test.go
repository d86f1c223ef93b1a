package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type okMessage struct{}

func (okMessage) Type() string { return "creditlots.test.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "creditlots.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type reserveMessage struct {
	Amount int64
}

func (reserveMessage) Type() string { return "creditlots.test.reserve" }

type resultMessage struct {
	LotID string
}

func (resultMessage) Type() string { return "creditlots.test.result" }

type queueMessage struct{}

func (queueMessage) Type() string { return "creditlots.test.queue" }

type lookupMessage struct {
	LotID string
}

func (lookupMessage) Type() string { return "creditlots.test.lookup" }

func TestValidateMessageContract(t *testing.T) {
	cases := []struct {
		name string
		msg  any
		want error
	}{
		{name: "typed", msg: okMessage{}},
		{name: "untyped", msg: struct{}{}, want: ErrNotMessage},
		{name: "empty type", msg: invalidMessage{}, want: ErrEmptyMessageType},
	}
	for _, tc := range cases {
		if err := ValidateMessageContract(tc.msg); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestUnconfiguredAdapterRefusesWork(t *testing.T) {
	var adapter *RegistryAdapter
	if adapter.HasResolver("queue") {
		t.Fatalf("expected no resolvers on a nil adapter")
	}
	if err := adapter.Initialize(); err == nil {
		t.Fatalf("expected initialize to fail without a registry")
	}
	cmd := command.CommandFunc[okMessage](func(context.Context, okMessage) error { return nil })
	if _, err := RegisterAndSubscribe(adapter, cmd); err == nil {
		t.Fatalf("expected registration to fail without a registry")
	}
}

func TestRegisterAndDispatch(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	var reserved int64

	cmd := command.CommandFunc[reserveMessage](func(_ context.Context, msg reserveMessage) error {
		reserved += msg.Amount
		return nil
	})
	subscription, err := RegisterAndSubscribe(adapter, cmd)
	if err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	defer subscription.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if err := Dispatch(context.Background(), reserveMessage{Amount: 100000}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if reserved != 100000 {
		t.Fatalf("expected 100000 reserved, got %d", reserved)
	}
	if err := Dispatch(context.Background(), failingMessage{}); err == nil {
		t.Fatalf("expected invalid message to be rejected before dispatch")
	}
}

func TestDispatchResultReturnsCollectedValue(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	cmd := command.CommandFunc[resultMessage](func(ctx context.Context, msg resultMessage) error {
		if collector := command.ResultFromContext[string](ctx); collector != nil {
			collector.Store("created:" + msg.LotID)
		}
		return nil
	})
	subscription, err := RegisterAndSubscribe(adapter, cmd)
	if err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	defer subscription.Unsubscribe()

	value, err := DispatchResult[resultMessage, string](context.Background(), resultMessage{LotID: "lot-1"})
	if err != nil {
		t.Fatalf("dispatch result: %v", err)
	}
	if value != "created:lot-1" {
		t.Fatalf("expected created:lot-1, got %q", value)
	}
}

func TestRegisterAndQuery(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	qry := command.QueryFunc[lookupMessage, int64](func(_ context.Context, msg lookupMessage) (int64, error) {
		if msg.LotID != "lot-1" {
			return 0, errors.New("unknown lot")
		}
		return 450000, nil
	})
	subscription, err := RegisterAndSubscribeQuery(adapter, qry)
	if err != nil {
		t.Fatalf("register query: %v", err)
	}
	subs := Subscriptions{subscription}
	defer subs.Unsubscribe()

	available, err := Query[lookupMessage, int64](context.Background(), lookupMessage{LotID: "lot-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if available != 450000 {
		t.Fatalf("expected 450000 available, got %d", available)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if !adapter.HasResolver("queue") {
		t.Fatalf("expected queue resolver to be registered")
	}
	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })
	subscription, err := RegisterAndSubscribe(adapter, cmd)
	if err != nil {
		t.Fatalf("register command: %v", err)
	}
	defer subscription.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("creditlots.test.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}
