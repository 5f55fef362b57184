// Package domain contains core concepts of the chat system.
// This file defines Message entities and related rules.
// Messages are immutable once stored, the answered flag excepted.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single line of a two-party conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID ConversationID
	OriginUserID   uuid.UUID
	Text           string
	At             time.Time
	Answered       bool
}

func NewMessage(conversationID ConversationID, originUserID uuid.UUID, text string, at time.Time) Message {
	return Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		OriginUserID:   originUserID,
		Text:           text,
		At:             at.UTC(),
	}
}

// MarkAnswered returns a copy flagged as handled by an administrator.
func (m Message) MarkAnswered() Message {
	m.Answered = true
	return m
}
