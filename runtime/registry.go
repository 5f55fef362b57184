package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

type socketSet map[contract.Socket]struct{}

type target struct {
	key    domain.ConnectionKey
	socket contract.Socket
}

// Registry maps each connection key ("role:userId") to the live sockets of that user.
// One user may hold several sockets at once (tabs, devices).
// A key whose last socket leaves is deleted.
type Registry struct {
	mu            sync.RWMutex
	connections   map[domain.ConnectionKey]socketSet
	authenticator contract.Authenticator
	log           *slog.Logger
}

func NewRegistry(log *slog.Logger, authenticator contract.Authenticator) *Registry {
	return &Registry{
		connections:   make(map[domain.ConnectionKey]socketSet),
		authenticator: authenticator,
		log:           log,
	}
}

func (r *Registry) Add(key domain.ConnectionKey, socket contract.Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[key]; !ok {
		r.connections[key] = make(socketSet)
	}
	r.connections[key][socket] = struct{}{}
}

// Remove is safe to call twice for the same socket.
func (r *Registry) Remove(key domain.ConnectionKey, socket contract.Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sockets, ok := r.connections[key]
	if !ok {
		return
	}
	delete(sockets, socket)
	if len(sockets) == 0 {
		delete(r.connections, key)
	}
}

// Disconnect closes and removes every socket under key. It returns how many were closed.
func (r *Registry) Disconnect(key domain.ConnectionKey, code int, reason string) int {
	r.mu.Lock()
	sockets := r.connections[key]
	delete(r.connections, key)
	r.mu.Unlock()

	for socket := range sockets {
		if err := socket.Close(code, reason); err != nil {
			r.log.Debug("Socket close failed", "key", key, "error", err)
		}
	}
	return len(sockets)
}

// Shutdown closes every registered socket.
func (r *Registry) Shutdown(code int, reason string) {
	for _, key := range r.Keys() {
		r.Disconnect(key, code, reason)
	}
}

func (r *Registry) Keys() []domain.ConnectionKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]domain.ConnectionKey, 0, len(r.connections))
	for k := range r.connections {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Stats returns the number of keys and sockets currently held.
func (r *Registry) Stats() (keys int, sockets int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, set := range r.connections {
		sockets += len(set)
	}
	return len(r.connections), sockets
}

// SendToKey pushes envelope to every open socket of key and returns the number of delivery attempts.
// An unknown key is not an error: the recipient is simply offline.
func (r *Registry) SendToKey(ctx context.Context, key domain.ConnectionKey, envelope domain.EventEnvelope) int {
	return r.send(ctx, envelope, func(k domain.ConnectionKey) bool { return k == key })
}

// BroadcastToPrefix pushes envelope to every open socket whose key starts with prefix.
func (r *Registry) BroadcastToPrefix(ctx context.Context, prefix string, envelope domain.EventEnvelope) int {
	return r.send(ctx, envelope, func(k domain.ConnectionKey) bool { return k.HasPrefix(prefix) })
}

func (r *Registry) BroadcastToRole(ctx context.Context, role domain.Role, envelope domain.EventEnvelope) int {
	return r.BroadcastToPrefix(ctx, role.KeyPrefix(), envelope)
}

func (r *Registry) send(ctx context.Context, envelope domain.EventEnvelope, match func(domain.ConnectionKey) bool) int {
	targets := r.openTargets(match)
	if len(targets) == 0 {
		return 0
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		r.log.Error("Envelope encoding failed", "type", envelope.Type, "error", err)
		return 0
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.deliver(ctx, t, payload)
		}()
	}
	wg.Wait()
	return len(targets)
}

// openTargets collects matching sockets and evicts the ones already closed.
func (r *Registry) openTargets(match func(domain.ConnectionKey) bool) []target {
	var open, stale []target

	r.mu.RLock()
	for key, sockets := range r.connections {
		if !match(key) {
			continue
		}
		for socket := range sockets {
			if socket.IsOpen() {
				open = append(open, target{key: key, socket: socket})
			} else {
				stale = append(stale, target{key: key, socket: socket})
			}
		}
	}
	r.mu.RUnlock()

	for _, t := range stale {
		r.log.Debug("Evicting closed socket", "key", t.key)
		r.Remove(t.key, t.socket)
	}
	return open
}

// deliver never propagates a failure: one broken socket must not affect its siblings.
func (r *Registry) deliver(ctx context.Context, t target, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Socket send panicked", "key", t.key, "panic", rec)
		}
	}()

	if err := t.socket.Send(ctx, payload); err != nil {
		r.log.Warn("Socket send failed", "key", t.key, "error", err)
		if !t.socket.IsOpen() {
			r.Remove(t.key, t.socket)
		}
	}
}

// Serve drives one socket through its whole lifecycle and blocks until it is closed.
// Only principals whose role is listed in roles are accepted; an empty list accepts any role.
func (r *Registry) Serve(ctx context.Context, socket contract.Socket, authorization string, roles ...domain.Role) error {
	conn := NewConnection()
	if err := conn.Transition(Authenticating); err != nil {
		return err
	}

	key, role, err := r.authenticator.Authenticate(ctx, authorization)
	if err == nil && len(roles) > 0 && !slices.Contains(roles, role) {
		err = fmt.Errorf("%w: %w", errors.ErrAuthenticationRejected, errors.ErrForbidden)
	}
	if err != nil {
		_ = conn.Transition(Rejected)
		r.log.Info("Socket rejected", "error", err)
		if closeErr := socket.Close(ClosePolicyViolation, rejectReason(err)); closeErr != nil {
			r.log.Debug("Socket close failed", "error", closeErr)
		}
		return err
	}

	r.Add(key, socket)
	// A user deleted between the lookup and Add was disconnected before the socket joined the key.
	if err := r.recheck(ctx, authorization, key); err != nil {
		r.Remove(key, socket)
		_ = conn.Transition(Rejected)
		r.log.Info("Socket rejected after registration", "key", key, "error", err)
		if closeErr := socket.Close(ClosePolicyViolation, rejectReason(err)); closeErr != nil {
			r.log.Debug("Socket close failed", "error", closeErr)
		}
		return err
	}
	_ = conn.Transition(Registered)
	_ = conn.Transition(Open)
	r.log.Debug("Socket registered", "key", key)

	defer func() {
		_ = conn.Transition(Closing)
		r.Remove(key, socket)
		// no-op when the peer or Disconnect already closed it
		_ = socket.Close(CloseNormal, "")
		_ = conn.Transition(Closed)
		r.log.Debug("Socket closed", "key", key)
	}()

	for {
		if err := socket.Receive(ctx); err != nil {
			if ctx.Err() == nil && !goerrors.Is(err, errors.ErrSocketClosed) {
				r.log.Debug("Socket receive ended", "key", key, "error", err)
			}
			return nil
		}
	}
}

// recheck authenticates again once the socket is reachable under key.
func (r *Registry) recheck(ctx context.Context, authorization string, key domain.ConnectionKey) error {
	current, _, err := r.authenticator.Authenticate(ctx, authorization)
	if err != nil {
		return err
	}
	if current != key {
		return fmt.Errorf("%w: identity changed during registration", errors.ErrAuthenticationRejected)
	}
	return nil
}

func rejectReason(err error) string {
	if goerrors.Is(err, errors.ErrForbidden) {
		return "role not allowed on this endpoint"
	}
	return "authentication required"
}
