package sink

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/runtime"
	"context"
	"log/slog"
)

// SearchSink feeds the full-text index.
type SearchSink struct {
	index  contract.IMessageIndex
	lookup MessageLookup
	log    *slog.Logger
}

func NewSearchSink(index contract.IMessageIndex, lookup MessageLookup, log *slog.Logger) SearchSink {
	return SearchSink{index: index, lookup: lookup, log: log}
}

func (s SearchSink) OnReceived(_ context.Context, evt event.MessageReceived) error {
	message, err := toMessage(evt)
	if err != nil {
		return err
	}
	return s.index.Index(message)
}

func (s SearchSink) OnAnswered(_ context.Context, evt event.MessageAnswered) error {
	message, ok := s.lookup(evt.ID)
	if !ok {
		s.log.Debug("Answered message no longer in store", "id", evt.ID)
		return nil
	}
	return s.index.Index(message)
}

func (s SearchSink) Attach(bus *runtime.EventBus) []runtime.Subscription {
	return []runtime.Subscription{
		runtime.Subscribe(bus, s.OnReceived),
		runtime.Subscribe(bus, s.OnAnswered),
	}
}
