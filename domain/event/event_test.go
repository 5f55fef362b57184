package event

import (
	"chat-relay/domain"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_WrapsSerializedBody(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	origin, target := uuid.New(), uuid.New()
	msg := domain.NewMessage(domain.NewConversationID(origin, target), origin, "hello there", at)

	// When a message-received event is wrapped
	env, err := Envelope(NewMessageReceived(msg), at)
	req.NoError(err)

	// Then the type tag drives the client deserializer
	req.Equal("message-received", env.Type)
	req.Equal(at, env.Timestamp)

	// And the payload is a string carrying the event body
	var body MessageReceived
	req.NoError(json.Unmarshal([]byte(env.Payload), &body))
	req.Equal(msg.ID, body.ID)
	req.Equal(msg.Text, body.Text)
	req.Equal(msg.ConversationID.String(), body.ConversationID)

	// And the wire shape uses an ISO-8601 timestamp
	raw, err := json.Marshal(env)
	req.NoError(err)
	req.Contains(string(raw), `"timestamp":"2026-03-01T10:00:00Z"`)
	req.Contains(string(raw), `"type":"message-received"`)
}
