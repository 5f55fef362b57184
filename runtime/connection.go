package runtime

import (
	"chat-relay/errors"
	"fmt"
	"slices"
	"sync"
)

// WebSocket close codes used by the registry (RFC 6455 section 7.4.1).
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

type ConnState int

const (
	Connecting ConnState = iota
	Authenticating
	Rejected
	Registered
	Open
	Closing
	Closed
)

var stateNames = map[ConnState]string{
	Connecting:     "connecting",
	Authenticating: "authenticating",
	Rejected:       "rejected",
	Registered:     "registered",
	Open:           "open",
	Closing:        "closing",
	Closed:         "closed",
}

func (s ConnState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists every legal move. Rejected and Closed are terminal.
var transitions = map[ConnState][]ConnState{
	Connecting:     {Authenticating},
	Authenticating: {Rejected, Registered},
	Registered:     {Open, Closing},
	Open:           {Closing},
	Closing:        {Closed},
}

func CanTransition(from, to ConnState) bool {
	return slices.Contains(transitions[from], to)
}

// Connection tracks the lifecycle of one socket from handshake to cleanup.
type Connection struct {
	mu      sync.Mutex
	state   ConnState
	history []ConnState
}

func NewConnection() *Connection {
	return &Connection{state: Connecting, history: []ConnState{Connecting}}
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns every state visited, oldest first.
func (c *Connection) History() []ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

func (c *Connection) Transition(to ConnState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !CanTransition(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, c.state, to)
	}
	c.state = to
	c.history = append(c.history, to)
	return nil
}

func (c *Connection) IsTerminal() bool {
	s := c.State()
	return s == Rejected || s == Closed
}
