package runtime

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	goerrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeSocket counts delivery attempts and lets tests close or break it.
type fakeSocket struct {
	mu        sync.Mutex
	open      bool
	failSend  bool
	stall     bool
	attempts  atomic.Int32
	received  [][]byte
	closeCode int
	reason    string
	inbound   chan error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{open: true, inbound: make(chan error, 1)}
}

func (f *fakeSocket) Send(ctx context.Context, payload []byte) error {
	f.attempts.Add(1)
	if f.stall {
		// a write cut short by ctx leaves the transport unusable
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.open = false
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		f.open = false
		return goerrors.New("broken pipe")
	}
	if !f.open {
		return errors.ErrSocketClosed
	}
	f.received = append(f.received, payload)
	return nil
}

func (f *fakeSocket) Receive(ctx context.Context) error {
	select {
	case err := <-f.inbound:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSocket) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeCode != 0 {
		return nil
	}
	f.open = false
	f.closeCode = code
	f.reason = reason
	select {
	case f.inbound <- errors.ErrSocketClosed:
	default:
	}
	return nil
}

func (f *fakeSocket) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSocket) Received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func envelope() domain.EventEnvelope {
	return domain.EventEnvelope{Type: "message-received", Payload: `{"text":"hi"}`, Timestamp: time.Now().UTC()}
}

func TestRegistry_AddThenRemove_LeavesNoEmptyKey(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	key := domain.NewConnectionKey(domain.RoleUser, uuid.New())
	socket := newFakeSocket()

	// Given a socket registered under a key
	registry.Add(key, socket)
	keys, sockets := registry.Stats()
	req.Equal(1, keys)
	req.Equal(1, sockets)

	// When it is removed twice
	registry.Remove(key, socket)
	registry.Remove(key, socket)

	// Then the key itself is gone
	req.Empty(registry.Keys())

	// And a send is a silent no-op
	req.Zero(registry.SendToKey(context.Background(), key, envelope()))
	req.Zero(socket.attempts.Load())
}

func TestRegistry_SendToKey_UnknownKey(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)

	attempts := registry.SendToKey(context.Background(), domain.ConnectionKey("user:nobody"), envelope())

	req.Zero(attempts)
}

func TestRegistry_SendToKey_ReachesEverySocketOfTheUser(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	key := domain.NewConnectionKey(domain.RoleUser, uuid.New())
	tab1, tab2, broken := newFakeSocket(), newFakeSocket(), newFakeSocket()
	broken.failSend = true
	registry.Add(key, tab1)
	registry.Add(key, tab2)
	registry.Add(key, broken)

	// When one socket fails mid-send
	attempts := registry.SendToKey(context.Background(), key, envelope())

	// Then every socket got an attempt and the healthy ones received the envelope
	req.Equal(3, attempts)
	req.Equal(1, tab1.Received())
	req.Equal(1, tab2.Received())

	// And the broken socket was evicted
	_, sockets := registry.Stats()
	req.Equal(2, sockets)
}

func TestRegistry_SendToKey_EvictsSocketWhoseWriteTimedOut(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	key := domain.NewConnectionKey(domain.RoleUser, uuid.New())
	healthy, stalled := newFakeSocket(), newFakeSocket()
	stalled.stall = true
	registry.Add(key, healthy)
	registry.Add(key, stalled)

	// When the send deadline expires while one peer is not reading
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	attempts := registry.SendToKey(ctx, key, envelope())

	// Then the healthy socket still got the envelope
	req.Equal(2, attempts)
	req.Equal(1, healthy.Received())

	// And the stalled socket is no longer registered
	_, sockets := registry.Stats()
	req.Equal(1, sockets)
	req.Equal(1, registry.SendToKey(context.Background(), key, envelope()))
	req.EqualValues(1, stalled.attempts.Load())
}

func TestRegistry_Broadcast_TwoSocketsSameKey(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	key := domain.NewConnectionKey(domain.RoleAdmin, uuid.New())
	first, second := newFakeSocket(), newFakeSocket()
	registry.Add(key, first)
	registry.Add(key, second)

	t.Run("should attempt delivery exactly twice", func(t *testing.T) {
		attempts := registry.BroadcastToPrefix(context.Background(), domain.RoleAdmin.KeyPrefix(), envelope())
		req.Equal(2, attempts)
		req.EqualValues(1, first.attempts.Load())
		req.EqualValues(1, second.attempts.Load())
	})

	t.Run("should still reach the open socket when the other one is closed", func(t *testing.T) {
		_ = first.Close(CloseNormal, "")

		attempts := registry.BroadcastToPrefix(context.Background(), domain.RoleAdmin.KeyPrefix(), envelope())

		req.Equal(1, attempts)
		req.Equal(2, second.Received())
		req.EqualValues(1, first.attempts.Load())
		_, sockets := registry.Stats()
		req.Equal(1, sockets)
	})
}

func TestRegistry_BroadcastOnlyMatchesPrefix(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	admin, user1, user2 := newFakeSocket(), newFakeSocket(), newFakeSocket()
	registry.Add(domain.NewConnectionKey(domain.RoleAdmin, uuid.New()), admin)
	registry.Add(domain.NewConnectionKey(domain.RoleUser, uuid.New()), user1)
	registry.Add(domain.NewConnectionKey(domain.RoleUser, uuid.New()), user2)

	attempts := registry.BroadcastToRole(context.Background(), domain.RoleAdmin, envelope())

	req.Equal(1, attempts)
	req.Equal(1, admin.Received())
	req.Zero(user1.attempts.Load())
	req.Zero(user2.attempts.Load())

	req.Equal(2, registry.BroadcastToRole(context.Background(), domain.RoleUser, envelope()))
}

func TestRegistry_BroadcastWithoutOpenSockets(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)

	req.Zero(registry.BroadcastToRole(context.Background(), domain.RoleAdmin, envelope()))
}

func TestRegistry_Disconnect(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	key := domain.NewConnectionKey(domain.RoleUser, uuid.New())
	a, b := newFakeSocket(), newFakeSocket()
	registry.Add(key, a)
	registry.Add(key, b)

	req.Equal(2, registry.Disconnect(key, CloseGoingAway, "bye"))

	req.False(a.IsOpen())
	req.Equal(CloseGoingAway, b.closeCode)
	req.Empty(registry.Keys())
	// Removing after a forced disconnect is harmless
	registry.Remove(key, a)
	req.Zero(registry.Disconnect(key, CloseGoingAway, "bye"))
}

func TestRegistry_Serve(t *testing.T) {
	userID := uuid.New()
	key := domain.NewConnectionKey(domain.RoleUser, userID)

	t.Run("should reject a socket without a valid token", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		authenticator := mocks.NewMockAuthenticator(ctrl)
		authenticator.EXPECT().
			Authenticate(gomock.Any(), "").
			Return(domain.ConnectionKey(""), domain.Role(""), errors.ErrAuthenticationRejected).
			Times(1)
		registry := NewRegistry(slog.Default(), authenticator)
		socket := newFakeSocket()

		err := registry.Serve(context.Background(), socket, "")

		req.ErrorIs(err, errors.ErrAuthenticationRejected)
		req.Equal(ClosePolicyViolation, socket.closeCode)
		req.NotEmpty(socket.reason)
		req.Empty(registry.Keys())
	})

	t.Run("should reject a role not allowed on the endpoint", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		authenticator := mocks.NewMockAuthenticator(ctrl)
		authenticator.EXPECT().
			Authenticate(gomock.Any(), "Bearer token").
			Return(key, domain.RoleUser, nil).
			Times(1)
		registry := NewRegistry(slog.Default(), authenticator)
		socket := newFakeSocket()

		err := registry.Serve(context.Background(), socket, "Bearer token", domain.RoleAdmin)

		req.ErrorIs(err, errors.ErrForbidden)
		req.Equal(ClosePolicyViolation, socket.closeCode)
		req.Empty(registry.Keys())
	})

	t.Run("should register then clean up when the peer leaves", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		authenticator := mocks.NewMockAuthenticator(ctrl)
		authenticator.EXPECT().
			Authenticate(gomock.Any(), "Bearer token").
			Return(key, domain.RoleUser, nil).
			Times(2)
		registry := NewRegistry(slog.Default(), authenticator)
		socket := newFakeSocket()

		done := make(chan error)
		go func() { done <- registry.Serve(context.Background(), socket, "Bearer token") }()

		// Then the socket becomes reachable
		req.Eventually(func() bool {
			return registry.SendToKey(context.Background(), key, envelope()) == 1
		}, time.Second, 10*time.Millisecond)

		// When the remote side sends a close frame
		socket.inbound <- errors.ErrSocketClosed

		// Then the loop ends and the key is gone
		select {
		case err := <-done:
			req.NoError(err)
		case <-time.After(time.Second):
			req.Fail("serve did not return")
		}
		req.Empty(registry.Keys())
	})

	t.Run("should drop a socket whose user was deleted while it registered", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		authenticator := mocks.NewMockAuthenticator(ctrl)
		// Given the user lookup succeeds once, then the user is gone
		gomock.InOrder(
			authenticator.EXPECT().
				Authenticate(gomock.Any(), "Bearer token").
				Return(key, domain.RoleUser, nil),
			authenticator.EXPECT().
				Authenticate(gomock.Any(), "Bearer token").
				Return(domain.ConnectionKey(""), domain.Role(""), errors.ErrAuthenticationRejected),
		)
		registry := NewRegistry(slog.Default(), authenticator)
		socket := newFakeSocket()

		// When the socket is served
		err := registry.Serve(context.Background(), socket, "Bearer token")

		// Then it is rejected and left unreachable
		req.ErrorIs(err, errors.ErrAuthenticationRejected)
		req.Equal(ClosePolicyViolation, socket.closeCode)
		req.Empty(registry.Keys())
		req.Zero(registry.SendToKey(context.Background(), key, envelope()))
	})

	t.Run("should stop on context cancellation", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		authenticator := mocks.NewMockAuthenticator(ctrl)
		authenticator.EXPECT().Authenticate(gomock.Any(), gomock.Any()).Return(key, domain.RoleUser, nil).Times(2)
		registry := NewRegistry(slog.Default(), authenticator)
		socket := newFakeSocket()
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error)
		go func() { done <- registry.Serve(ctx, socket, "Bearer token") }()
		req.Eventually(func() bool { return len(registry.Keys()) == 1 }, time.Second, 10*time.Millisecond)

		cancel()

		req.NoError(<-done)
		req.Empty(registry.Keys())
		req.False(socket.IsOpen())
	})
}
