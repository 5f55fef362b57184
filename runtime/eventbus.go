package runtime

import (
	"chat-relay/errors"
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
)

type subscriber struct {
	id      uint64
	handler func(ctx context.Context, e any) error
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	bus       *EventBus
	eventType reflect.Type
	id        uint64
}

// EventBus is an in-process publish/subscribe hub keyed by event type.
// It is best-effort: no durability, no retries. Each publish sees the subscribers
// present when it started.
type EventBus struct {
	mu          sync.Mutex
	log         *slog.Logger
	nextID      uint64
	subscribers map[reflect.Type][]subscriber
	closed      bool
}

func NewEventBus(log *slog.Logger) *EventBus {
	return &EventBus{log: log, subscribers: make(map[reflect.Type][]subscriber)}
}

// Subscribe registers handler for events of type E, after any existing subscriber.
func Subscribe[E any](bus *EventBus, handler func(ctx context.Context, e E) error) Subscription {
	eventType := reflect.TypeFor[E]()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.nextID++
	sub := Subscription{bus: bus, eventType: eventType, id: bus.nextID}
	if bus.closed {
		return sub
	}
	bus.subscribers[eventType] = append(bus.subscribers[eventType], subscriber{
		id: sub.id,
		handler: func(ctx context.Context, e any) error {
			return handler(ctx, e.(E))
		},
	})
	return sub
}

// Unsubscribe is a no-op when the subscription is already gone.
func (s Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}
	s.bus.remove(s.eventType, s.id)
}

func (b *EventBus) remove(eventType reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[eventType]
	idx := slices.IndexFunc(subs, func(s subscriber) bool { return s.id == id })
	if idx < 0 {
		return
	}
	// Build a new slice: in-flight publishes keep iterating their own snapshot.
	next := slices.Delete(slices.Clone(subs), idx, idx+1)
	if len(next) == 0 {
		delete(b.subscribers, eventType)
		return
	}
	b.subscribers[eventType] = next
}

// Publish runs every subscriber of E concurrently and waits for all of them.
// A failing or panicking subscriber never stops the others; failures are joined.
func Publish[E any](ctx context.Context, bus *EventBus, e E) error {
	eventType := reflect.TypeFor[E]()

	bus.mu.Lock()
	if bus.closed {
		bus.mu.Unlock()
		return errors.ErrBusClosed
	}
	snapshot := bus.subscribers[eventType]
	bus.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	errs := make([]error, len(snapshot))
	var wg sync.WaitGroup
	for i, sub := range snapshot {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%w: %v", errors.ErrSubscriberPanic, r)
				}
			}()
			errs[i] = sub.handler(ctx, e)
		}()
	}
	wg.Wait()

	err := goerrors.Join(errs...)
	if err != nil {
		bus.log.Warn("Event subscriber failed", "event", eventType.String(), "error", err)
	}
	return err
}

// Close drops every subscription. Later publishes fail with ErrBusClosed.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subscribers)
}

func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}
