// Package gocommand binds credit lot commands and queries to go-command:
// handlers are registered once in a command registry and subscribed on the
// global dispatcher, and callers dispatch typed messages through it.
package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

var (
	ErrNotMessage       = errors.New("gocommand: message must implement Type() string")
	ErrEmptyMessageType = errors.New("gocommand: message type is required")
	errNoRegistry       = errors.New("gocommand: registry is not configured")
)

// ValidateMessageContract checks that msg names its type and then runs its
// Validate method, if it has one.
func ValidateMessageContract(msg any) error {
	typed, ok := msg.(command.Message)
	if !ok {
		return ErrNotMessage
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return ErrEmptyMessageType
	}
	return command.ValidateMessage(msg)
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

// AddQueueResolver lets every registered handler also be reached as a go-job
// queue command under key.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	registry, err := a.configured()
	if err != nil {
		return err
	}
	return registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	registry, err := a.configured()
	return err == nil && registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	registry, err := a.configured()
	if err != nil {
		return err
	}
	return registry.Initialize()
}

func (a *RegistryAdapter) configured() (*command.Registry, error) {
	if a == nil || a.registry == nil {
		return nil, errNoRegistry
	}
	return a.registry, nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

// DispatchResult dispatches msg and returns what the handler stored in the
// context result collector. A handler that stores nothing is an error.
func DispatchResult[T any, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	collector := command.NewResult[R]()
	if err := Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	if value, ok := collector.Load(); ok {
		return value, nil
	}
	return zero, fmt.Errorf("gocommand: %T produced no result", msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

// Subscriptions is the set of dispatcher bindings made for one facade.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

func RegisterAndSubscribe[T any](adapter *RegistryAdapter, cmd command.Commander[T], opts ...runner.Option) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	return bind(adapter, cmd, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeCommand(cmd, opts...)
	})
}

func RegisterAndSubscribeQuery[T any, R any](adapter *RegistryAdapter, qry command.Querier[T, R], opts ...runner.Option) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return bind(adapter, qry, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeQuery(qry, opts...)
	})
}

// bind registers handler before subscribing it, so a handler the registry
// refuses never reaches the dispatcher.
func bind(adapter *RegistryAdapter, handler any, subscribe func() commanddispatcher.Subscription) (commanddispatcher.Subscription, error) {
	registry, err := adapter.configured()
	if err != nil {
		return nil, err
	}
	if err := registry.RegisterCommand(handler); err != nil {
		return nil, err
	}
	return subscribe(), nil
}
