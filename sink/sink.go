// Package sink holds the EventBus subscribers that copy messages out of the live store.
package sink

import (
	"chat-relay/domain"
	"chat-relay/domain/event"

	"github.com/google/uuid"
)

// MessageLookup reads the current state of a message from the live store.
type MessageLookup func(id uuid.UUID) (domain.Message, bool)

func toMessage(evt event.MessageReceived) (domain.Message, error) {
	conversationID, err := domain.ParseConversationID(evt.ConversationID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:             evt.ID,
		ConversationID: conversationID,
		OriginUserID:   evt.OriginUserID,
		Text:           evt.Text,
		At:             evt.At,
		Answered:       evt.Answered,
	}, nil
}
