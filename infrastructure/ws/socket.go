// Package ws adapts gorilla/websocket connections to contract.Socket.
package ws

import (
	"chat-relay/errors"
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type Config struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func (c Config) pongWait() time.Duration {
	return c.PingInterval * 2
}

// Socket is one upgraded connection. Writes are serialized; Close and pings may run concurrently.
type Socket struct {
	conn      *websocket.Conn
	config    Config
	writeMu   sync.Mutex
	open      atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewSocket takes ownership of conn and starts its keep-alive loop.
func NewSocket(conn *websocket.Conn, config Config) *Socket {
	s := &Socket{conn: conn, config: config, done: make(chan struct{})}
	s.open.Store(true)

	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	if config.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(config.pongWait()))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(config.pongWait()))
		})
		go s.keepAlive()
	}
	return s
}

func (s *Socket) keepAlive() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout)); err != nil {
				s.markClosed()
				return
			}
		}
	}
}

// Send writes one text frame. The write deadline is the earliest of ctx's and the configured timeout.
func (s *Socket) Send(ctx context.Context, payload []byte) error {
	if !s.IsOpen() {
		return errors.ErrSocketClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// gorilla keeps the first write error forever and the peer may hold a partial frame
		s.abort()
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive waits for the next inbound frame and discards it; the protocol is push-only.
// It returns ErrSocketClosed once the peer sent a close frame.
func (s *Socket) Receive(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if _, _, err := s.conn.NextReader(); err != nil {
		s.markClosed()
		var closeErr *websocket.CloseError
		if goerrors.As(err, &closeErr) {
			return fmt.Errorf("%w: %d %s", errors.ErrSocketClosed, closeErr.Code, closeErr.Text)
		}
		return err
	}
	return nil
}

// Close sends a close frame with code and reason, then releases the connection. Later calls are no-ops.
func (s *Socket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.open.Store(false)
		close(s.done)
		message := websocket.FormatCloseMessage(code, reason)
		writeErr := s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(s.config.WriteTimeout))
		if goerrors.Is(writeErr, websocket.ErrCloseSent) {
			writeErr = nil
		}
		err = goerrors.Join(writeErr, s.conn.Close())
	})
	return err
}

func (s *Socket) IsOpen() bool {
	return s.open.Load()
}

// abort drops the transport without a close frame. Later Send calls return ErrSocketClosed
// and the pending Receive fails, which ends the registry's Serve loop.
func (s *Socket) abort() {
	s.closeOnce.Do(func() {
		s.open.Store(false)
		close(s.done)
		_ = s.conn.Close()
	})
}

// markClosed flags a broken transport. The registry evicts it on its next pass.
func (s *Socket) markClosed() {
	s.open.Store(false)
}

// Upgrader accepts websocket handshakes and hands each socket to serve.
type Upgrader struct {
	upgrader websocket.Upgrader
	config   Config
}

func NewUpgrader(config Config, checkOrigin func(r *http.Request) bool) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		config: config,
	}
}

func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Socket, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewSocket(conn, u.config), nil
}
