// Package services holds the application handlers: one per request type, each thin,
// composing the store, the connection registry and the event bus.
// Domain failures come back as response values; only dispatch errors travel as Go errors.
package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/event"
	"chat-relay/runtime"
	"chat-relay/storage"
	"context"
	"log/slog"
	"reflect"
	"time"
)

type Handlers struct {
	store     *storage.Store
	registry  contract.IConnectionRegistry
	bus       *runtime.EventBus
	identity  contract.IIdentityService
	moderator contract.IModerator
	archive   contract.IMessageArchive
	index     contract.IMessageIndex
	clock     contract.Clock
	log       *slog.Logger
}

type Option func(*Handlers)

func WithClock(clock contract.Clock) Option {
	return func(h *Handlers) { h.clock = clock }
}

// WithModerator masks forbidden words before a message is stored.
func WithModerator(moderator contract.IModerator) Option {
	return func(h *Handlers) { h.moderator = moderator }
}

func NewHandlers(
	log *slog.Logger,
	store *storage.Store,
	registry contract.IConnectionRegistry,
	bus *runtime.EventBus,
	identity contract.IIdentityService,
	archive contract.IMessageArchive,
	index contract.IMessageIndex,
	opts ...Option,
) *Handlers {
	h := &Handlers{
		store:    store,
		registry: registry,
		bus:      bus,
		identity: identity,
		archive:  archive,
		index:    index,
		clock:    time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registrations is the startup binding table, one entry per request type.
func (h *Handlers) Registrations() []runtime.Registration {
	return []runtime.Registration{
		runtime.Bind(h.SendMessage),
		runtime.Bind(h.ContactAdmins),
		runtime.Bind(h.CreateUser),
		runtime.Bind(h.UpdateUser),
		runtime.Bind(h.DeleteUser),
		runtime.Bind(h.ChangePassword),
		runtime.Bind(h.MarkAnswered),
		runtime.Bind(h.Login),
		runtime.Bind(h.GetAllUsers),
		runtime.Bind(h.GetMessagesForUser),
		runtime.Bind(h.GetMessagesForConversation),
		runtime.Bind(h.GetMyUserID),
		runtime.Bind(h.SearchMessages),
		runtime.Bind(h.GetHistory),
	}
}

// Requests lists every request type the process must be able to answer.
func Requests() []reflect.Type {
	return []reflect.Type{
		reflect.TypeFor[chat.SendMessageCommand](),
		reflect.TypeFor[chat.ContactAdminsCommand](),
		reflect.TypeFor[chat.CreateUserCommand](),
		reflect.TypeFor[chat.UpdateUserCommand](),
		reflect.TypeFor[chat.DeleteUserCommand](),
		reflect.TypeFor[chat.ChangePasswordCommand](),
		reflect.TypeFor[chat.MarkAnsweredCommand](),
		reflect.TypeFor[chat.LoginQuery](),
		reflect.TypeFor[chat.GetAllUsersQuery](),
		reflect.TypeFor[chat.GetMessagesForUserQuery](),
		reflect.TypeFor[chat.GetMessagesForConversationQuery](),
		reflect.TypeFor[chat.GetMyUserIDQuery](),
		reflect.TypeFor[chat.SearchMessagesQuery](),
		reflect.TypeFor[chat.GetHistoryQuery](),
	}
}

func (h *Handlers) envelope(e event.Event) (domain.EventEnvelope, bool) {
	envelope, err := event.Envelope(e, h.clock())
	if err != nil {
		h.log.Error("Unable to build envelope", "event", e.EventType(), "error", err)
		return domain.EventEnvelope{}, false
	}
	return envelope, true
}

// push sends e to each distinct key. Keys without a live socket are skipped silently.
func (h *Handlers) push(ctx context.Context, e event.Event, keys ...domain.ConnectionKey) int {
	envelope, ok := h.envelope(e)
	if !ok {
		return 0
	}
	attempts := 0
	seen := make(map[domain.ConnectionKey]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		attempts += h.registry.SendToKey(ctx, key, envelope)
	}
	return attempts
}

// broadcast sends e to every open socket held under one of roles.
func (h *Handlers) broadcast(ctx context.Context, e event.Event, roles ...domain.Role) int {
	envelope, ok := h.envelope(e)
	if !ok {
		return 0
	}
	attempts := 0
	for _, role := range roles {
		attempts += h.registry.BroadcastToPrefix(ctx, role.KeyPrefix(), envelope)
	}
	return attempts
}

// publish hands e to same-process listeners. A failing listener is logged, the request still succeeds.
func publish[E event.Event](ctx context.Context, h *Handlers, e E) {
	if err := runtime.Publish(ctx, h.bus, e); err != nil {
		h.log.Warn("Event listeners failed", "event", e.EventType(), "error", err)
	}
}

func (h *Handlers) censor(text string) string {
	if h.moderator == nil {
		return text
	}
	return h.moderator.Censor(text)
}
