package event

import (
	"chat-relay/domain"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	MessageReceivedType Type = "message-received"
	MessageAnsweredType Type = "message-answered"
	UserCreatedType     Type = "user-created"
	UserUpdatedType     Type = "user-updated"
	UserDeletedType     Type = "user-deleted"
)

// Event is anything that can be pushed to a socket.
type Event interface {
	EventType() Type
}

type MessageReceived struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversationId"`
	OriginUserID   uuid.UUID `json:"originUserId"`
	Text           string    `json:"text"`
	At             time.Time `json:"at"`
	Answered       bool      `json:"answered"`
}

func (MessageReceived) EventType() Type { return MessageReceivedType }

func NewMessageReceived(m domain.Message) MessageReceived {
	return MessageReceived{
		ID:             m.ID,
		ConversationID: m.ConversationID.String(),
		OriginUserID:   m.OriginUserID,
		Text:           m.Text,
		At:             m.At,
		Answered:       m.Answered,
	}
}

type MessageAnswered struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversationId"`
}

func (MessageAnswered) EventType() Type { return MessageAnsweredType }

type UserCreated struct {
	UserID    uuid.UUID `json:"userId"`
	LoginName string    `json:"loginName"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      string    `json:"role"`
}

func (UserCreated) EventType() Type { return UserCreatedType }

func NewUserCreated(u domain.User) UserCreated {
	return UserCreated{
		UserID:    u.ID,
		LoginName: u.LoginName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      string(u.Role),
	}
}

type UserUpdated struct {
	UserID    uuid.UUID `json:"userId"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
}

func (UserUpdated) EventType() Type { return UserUpdatedType }

type UserDeleted struct {
	UserID uuid.UUID `json:"userId"`
}

func (UserDeleted) EventType() Type { return UserDeletedType }

// Envelope serializes the event body once and wraps it for the wire.
func Envelope(e Event, at time.Time) (domain.EventEnvelope, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}
	return domain.EventEnvelope{
		Type:      string(e.EventType()),
		Payload:   string(body),
		Timestamp: at.UTC(),
	}, nil
}
