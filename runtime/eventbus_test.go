package runtime

import (
	"chat-relay/errors"
	"context"
	goerrors "errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type greeted struct{ Name string }
type waved struct{}

func TestEventBus_PublishReachesEverySubscriber(t *testing.T) {
	req := require.New(t)
	bus := NewEventBus(slog.Default())
	var first, second, other atomic.Int32

	Subscribe(bus, func(ctx context.Context, e greeted) error { first.Add(1); return nil })
	Subscribe(bus, func(ctx context.Context, e greeted) error { second.Add(1); return nil })
	Subscribe(bus, func(ctx context.Context, e waved) error { other.Add(1); return nil })

	req.NoError(Publish(context.Background(), bus, greeted{Name: "leia"}))

	req.EqualValues(1, first.Load())
	req.EqualValues(1, second.Load())
	// Other event types are independent
	req.EqualValues(0, other.Load())
}

func TestEventBus_SubscriberIsolation(t *testing.T) {
	req := require.New(t)
	bus := NewEventBus(slog.Default())
	var healthy atomic.Int32
	boom := goerrors.New("boom")

	Subscribe(bus, func(ctx context.Context, e greeted) error { return boom })
	Subscribe(bus, func(ctx context.Context, e greeted) error { panic("kaboom") })
	Subscribe(bus, func(ctx context.Context, e greeted) error { healthy.Add(1); return nil })

	err := Publish(context.Background(), bus, greeted{})

	// Then the healthy subscriber still ran
	req.EqualValues(1, healthy.Load())
	// And both failures are reported to the publisher
	req.ErrorIs(err, boom)
	req.ErrorIs(err, errors.ErrSubscriberPanic)
}

func TestEventBus_SnapshotIsolation(t *testing.T) {
	req := require.New(t)
	bus := NewEventBus(slog.Default())
	started := make(chan struct{})
	release := make(chan struct{})
	var late, removed atomic.Int32

	// Given a slow subscriber and a subscriber that will be removed mid-flight
	Subscribe(bus, func(ctx context.Context, e greeted) error {
		close(started)
		<-release
		return nil
	})
	toRemove := Subscribe(bus, func(ctx context.Context, e greeted) error {
		<-release
		removed.Add(1)
		return nil
	})

	done := make(chan error)
	go func() { done <- Publish(context.Background(), bus, greeted{}) }()
	<-started

	// When a subscriber joins and another leaves during the publish
	Subscribe(bus, func(ctx context.Context, e greeted) error { late.Add(1); return nil })
	toRemove.Unsubscribe()
	close(release)

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("publish never completed")
	}

	// Then the newcomer was not notified by that publish
	req.EqualValues(0, late.Load())
	// And the removed subscriber still got the event from its snapshot
	req.EqualValues(1, removed.Load())

	// And a subscriber removed before a publish is never invoked again
	req.NoError(Publish(context.Background(), bus, greeted{}))
	req.EqualValues(1, removed.Load())
	req.EqualValues(1, late.Load())
}

func TestEventBus_UnsubscribeIsIdempotent(t *testing.T) {
	req := require.New(t)
	bus := NewEventBus(slog.Default())
	sub := Subscribe(bus, func(ctx context.Context, e greeted) error { return nil })

	sub.Unsubscribe()
	sub.Unsubscribe()
	Subscription{}.Unsubscribe()

	req.Zero(bus.SubscriberCount())
}

func TestEventBus_Close(t *testing.T) {
	req := require.New(t)
	bus := NewEventBus(slog.Default())
	var calls atomic.Int32
	Subscribe(bus, func(ctx context.Context, e greeted) error { calls.Add(1); return nil })

	bus.Close()

	req.Zero(bus.SubscriberCount())
	req.ErrorIs(Publish(context.Background(), bus, greeted{}), errors.ErrBusClosed)
	req.EqualValues(0, calls.Load())
}
