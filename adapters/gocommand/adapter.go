// Package gocommand mounts integration commands and queries on a host's
// go-command registry and dispatcher, with an optional mirror into
// go-job's queue command registry for deferred execution.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// Subscription is the dispatcher handle a mounted handler holds.
type Subscription = commanddispatcher.Subscription

// Bus wraps a go-command registry with the wiring a host repeats for
// every integration handler: register, resolve, initialize.
type Bus struct {
	registry *command.Registry
}

// NewBus wraps registry; a nil registry gets a fresh one.
func NewBus(registry *command.Registry) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry}
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// Register adds a command or query handler to the registry. Queries ride
// the same registration path as commands.
func (b *Bus) Register(handler any) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: bus is not configured")
	}
	return b.registry.RegisterCommand(handler)
}

func (b *Bus) AddResolver(key string, resolver command.Resolver) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: bus is not configured")
	}
	return b.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// MirrorToQueue resolves every registered handler into the go-job queue
// command registry during Initialize, so queued jobs can dispatch the
// same messages the in-process bus serves.
func (b *Bus) MirrorToQueue(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return b.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (b *Bus) HasResolver(key string) bool {
	if b == nil || b.registry == nil {
		return false
	}
	return b.registry.HasResolver(strings.TrimSpace(key))
}

func (b *Bus) Initialize() error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: bus is not configured")
	}
	return b.registry.Initialize()
}

// Mount subscribes a command on the dispatcher and registers it on the
// bus. A failed registration unwinds the subscription so the dispatcher
// never serves a handler the registry refused.
func Mount[T any](bus *Bus, cmd command.Commander[T], opts ...runner.Option) (Subscription, error) {
	if bus == nil || bus.registry == nil {
		return nil, fmt.Errorf("gocommand: bus is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}

	subscription := commanddispatcher.SubscribeCommand(cmd, opts...)
	if err := bus.Register(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// MountQuery is Mount for the read side.
func MountQuery[T any, R any](bus *Bus, qry command.Querier[T, R], opts ...runner.Option) (Subscription, error) {
	if bus == nil || bus.registry == nil {
		return nil, fmt.Errorf("gocommand: bus is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}

	subscription := commanddispatcher.SubscribeQuery(qry, opts...)
	if err := bus.Register(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Dispatch routes msg to the mounted command handler.
func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

// Query routes msg to the mounted query handler and returns its result.
func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// CheckMessage verifies a message carries the Type() contract the bus
// routes on, plus its own Validate() when it has one.
func CheckMessage(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	typed, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}
