package domain

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const conversationSeparator = ":"

// AdminChannel stands in for "every administrator" as the second participant
// of a support conversation.
var AdminChannel = uuid.Nil

// ConversationID identifies a two-party thread as "<lowId>:<highId>".
type ConversationID string

// NewConversationID is symmetric: NewConversationID(a, b) == NewConversationID(b, a).
// Ids are ordered by their byte representation, which matches the order of
// their canonical lower-case string form.
func NewConversationID(a, b uuid.UUID) ConversationID {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return ConversationID(a.String() + conversationSeparator + b.String())
}

// SupportConversationID is the thread between a user and the admin channel.
func SupportConversationID(userID uuid.UUID) ConversationID {
	return NewConversationID(AdminChannel, userID)
}

func ParseConversationID(s string) (ConversationID, error) {
	low, high, ok := strings.Cut(s, conversationSeparator)
	if !ok {
		return "", fmt.Errorf("conversation id %q: missing separator", s)
	}
	a, err := uuid.Parse(low)
	if err != nil {
		return "", fmt.Errorf("conversation id %q: %w", s, err)
	}
	b, err := uuid.Parse(high)
	if err != nil {
		return "", fmt.Errorf("conversation id %q: %w", s, err)
	}
	return NewConversationID(a, b), nil
}

// Participants returns both ids in canonical order.
func (c ConversationID) Participants() (uuid.UUID, uuid.UUID, error) {
	low, high, ok := strings.Cut(string(c), conversationSeparator)
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("conversation id %q: missing separator", c)
	}
	a, err := uuid.Parse(low)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	b, err := uuid.Parse(high)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return a, b, nil
}

func (c ConversationID) Involves(userID uuid.UUID) bool {
	a, b, err := c.Participants()
	if err != nil {
		return false
	}
	return a == userID || b == userID
}

func (c ConversationID) String() string {
	return string(c)
}
