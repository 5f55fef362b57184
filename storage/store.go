package storage

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"
)

// snapshot is never mutated once published.
type snapshot struct {
	users    []domain.User
	messages []domain.Message
}

// Store keeps users and messages in memory.
// Writes go through Execute, one transaction at a time.
// Every mutation publishes a fresh snapshot, so plain reads never see a half-applied write.
type Store struct {
	gate    *semaphore.Weighted
	current atomic.Pointer[snapshot]
	log     *slog.Logger
}

func NewStore(log *slog.Logger, users ...domain.User) *Store {
	s := &Store{gate: semaphore.NewWeighted(1), log: log}
	s.current.Store(&snapshot{users: slices.Clone(users)})
	return s
}

// Execute runs action while holding the transaction gate.
// The gate is released on every exit path, panics included. Nothing is rolled back:
// actions validate before they mutate.
func Execute[R any](ctx context.Context, s *Store, action func(ctx context.Context, tx *Tx) (R, error)) (R, error) {
	var zero R
	if err := s.gate.Acquire(ctx, 1); err != nil {
		s.log.Debug("Transaction abandoned before start", "error", err)
		return zero, fmt.Errorf("transaction gate: %w", err)
	}
	defer s.gate.Release(1)

	tx := &Tx{store: s}
	defer func() { tx.done = true }()
	return action(ctx, tx)
}

// Snapshot returns a consistent read-only view of the latest committed mutation.
func (s *Store) Snapshot() View {
	return View{s: s.current.Load()}
}

func (s *Store) publish(next *snapshot) {
	s.current.Store(next)
}

// Tx is only valid inside the action that received it.
type Tx struct {
	store *Store
	done  bool
}

func (tx *Tx) View() View {
	return tx.store.Snapshot()
}

func (tx *Tx) mustBeOpen() {
	if tx.done {
		panic("storage: transaction used after completion")
	}
}

func (tx *Tx) AddUser(user domain.User) {
	tx.mustBeOpen()
	cur := tx.store.current.Load()
	tx.store.publish(&snapshot{
		users:    append(slices.Clone(cur.users), user),
		messages: cur.messages,
	})
}

func (tx *Tx) UpdateUser(user domain.User) error {
	tx.mustBeOpen()
	cur := tx.store.current.Load()
	_, idx, ok := lo.FindIndexOf(cur.users, func(u domain.User) bool { return u.ID == user.ID })
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUserNotFound, user.ID)
	}
	users := slices.Clone(cur.users)
	users[idx] = user
	tx.store.publish(&snapshot{users: users, messages: cur.messages})
	return nil
}

func (tx *Tx) RemoveUser(id uuid.UUID) error {
	tx.mustBeOpen()
	cur := tx.store.current.Load()
	if !lo.ContainsBy(cur.users, func(u domain.User) bool { return u.ID == id }) {
		return fmt.Errorf("%w: %s", errors.ErrUserNotFound, id)
	}
	tx.store.publish(&snapshot{
		users:    lo.Reject(cur.users, func(u domain.User, _ int) bool { return u.ID == id }),
		messages: cur.messages,
	})
	return nil
}

func (tx *Tx) AddMessage(message domain.Message) {
	tx.mustBeOpen()
	cur := tx.store.current.Load()
	tx.store.publish(&snapshot{
		users:    cur.users,
		messages: append(slices.Clone(cur.messages), message),
	})
}

func (tx *Tx) UpdateMessage(message domain.Message) error {
	tx.mustBeOpen()
	cur := tx.store.current.Load()
	_, idx, ok := lo.FindIndexOf(cur.messages, func(m domain.Message) bool { return m.ID == message.ID })
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrMessageNotFound, message.ID)
	}
	messages := slices.Clone(cur.messages)
	messages[idx] = message
	tx.store.publish(&snapshot{users: cur.users, messages: messages})
	return nil
}

// View answers queries against one snapshot.
type View struct {
	s *snapshot
}

func (v View) Users() []domain.User {
	return slices.Clone(v.s.users)
}

func (v View) Messages() []domain.Message {
	return slices.Clone(v.s.messages)
}

func (v View) UserByID(id uuid.UUID) (domain.User, bool) {
	return lo.Find(v.s.users, func(u domain.User) bool { return u.ID == id })
}

func (v View) UserByIdentity(identityID uuid.UUID) (domain.User, bool) {
	return lo.Find(v.s.users, func(u domain.User) bool { return u.IdentityID == identityID })
}

func (v View) UserByLogin(loginName string) (domain.User, bool) {
	return lo.Find(v.s.users, func(u domain.User) bool { return u.LoginName == loginName })
}

func (v View) MessageByID(id uuid.UUID) (domain.Message, bool) {
	return lo.Find(v.s.messages, func(m domain.Message) bool { return m.ID == id })
}

func (v View) MessagesInConversation(id domain.ConversationID) []domain.Message {
	return lo.Filter(v.s.messages, func(m domain.Message, _ int) bool { return m.ConversationID == id })
}

func (v View) HasMessagesFrom(userID uuid.UUID) bool {
	return lo.ContainsBy(v.s.messages, func(m domain.Message) bool { return m.OriginUserID == userID })
}
