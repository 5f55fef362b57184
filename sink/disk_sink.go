package sink

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/runtime"
	"context"
	"log/slog"
)

// DiskSink archives every received message and keeps the answered flag in sync.
type DiskSink struct {
	archive contract.IMessageArchive
	lookup  MessageLookup
	log     *slog.Logger
}

func NewDiskSink(archive contract.IMessageArchive, lookup MessageLookup, log *slog.Logger) DiskSink {
	return DiskSink{archive: archive, lookup: lookup, log: log}
}

func (d DiskSink) OnReceived(_ context.Context, evt event.MessageReceived) error {
	message, err := toMessage(evt)
	if err != nil {
		return err
	}
	return d.archive.Store(message)
}

func (d DiskSink) OnAnswered(_ context.Context, evt event.MessageAnswered) error {
	message, ok := d.lookup(evt.ID)
	if !ok {
		d.log.Debug("Answered message no longer in store", "id", evt.ID)
		return nil
	}
	return d.archive.Store(message)
}

// Attach subscribes the sink to the bus.
func (d DiskSink) Attach(bus *runtime.EventBus) []runtime.Subscription {
	return []runtime.Subscription{
		runtime.Subscribe(bus, d.OnReceived),
		runtime.Subscribe(bus, d.OnAnswered),
	}
}
