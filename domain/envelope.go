package domain

import "time"

// EventEnvelope is the only shape pushed to sockets.
// Payload holds the already serialized event body, Type tells the client how to read it.
type EventEnvelope struct {
	Type      string    `json:"type"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
