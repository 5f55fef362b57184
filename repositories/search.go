package repositories

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/blugelabs/bluge"
	"github.com/blugelabs/bluge/search"
	"github.com/google/uuid"
)

const (
	fieldText         = "text"
	fieldLanguage     = "lang"
	fieldConversation = "conversation"
	fieldOrigin       = "origin"
	fieldAt           = "at"
	fieldAnswered     = "answered"

	DefaultSearchLimit = 20
)

// MessageIndex keeps a full-text index of messages for administrator triage.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

// OpenBluge opens the index writer, in memory when path is empty.
func OpenBluge(path string) (*bluge.Writer, error) {
	config := bluge.InMemoryOnlyConfig()
	if path != "" {
		config = bluge.DefaultConfig(path)
	}
	return bluge.OpenWriter(config)
}

// DetectLanguage returns the ISO 639-1 code of text, or "" when detection is unreliable.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

// Index adds or replaces the document of message.
func (i *MessageIndex) Index(message domain.Message) error {
	answered := "false"
	if message.Answered {
		answered = "true"
	}
	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewTextField(fieldText, message.Text).StoreValue()).
		AddField(bluge.NewKeywordField(fieldConversation, message.ConversationID.String()).StoreValue()).
		AddField(bluge.NewKeywordField(fieldOrigin, message.OriginUserID.String()).StoreValue()).
		AddField(bluge.NewDateTimeField(fieldAt, message.At).StoreValue().Sortable()).
		AddField(bluge.NewKeywordField(fieldAnswered, answered).StoreValue())

	if lang := DetectLanguage(message.Text); lang != "" {
		doc.AddField(bluge.NewKeywordField(fieldLanguage, lang).StoreValue())
	}

	if err := i.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("index message %s: %w", message.ID, err)
	}
	return nil
}

// Search returns the newest messages matching query.Text, restricted to query.Language when set.
func (i *MessageIndex) Search(ctx context.Context, query contract.SearchQuery) ([]domain.Message, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var q bluge.Query = bluge.NewMatchQuery(query.Text).SetField(fieldText)
	if query.Language != "" {
		q = bluge.NewBooleanQuery().
			AddMust(q).
			AddMust(bluge.NewTermQuery(strings.ToLower(query.Language)).SetField(fieldLanguage))
	}

	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("Unable to close index reader", "error", err)
		}
	}()

	request := bluge.NewTopNSearch(limit, q).SortBy([]string{"-" + fieldAt})
	matches, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var messages []domain.Message
	match, err := matches.Next()
	for err == nil && match != nil {
		message, visitErr := visitMessage(match)
		if visitErr != nil {
			i.log.Warn("Skipping unreadable index document", "error", visitErr)
		} else {
			messages = append(messages, message)
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func visitMessage(match *search.DocumentMatch) (domain.Message, error) {
	var message domain.Message
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	err := match.VisitStoredFields(func(field string, value []byte) bool {
		switch field {
		case "_id":
			id, err := uuid.ParseBytes(value)
			keep(err)
			message.ID = id
		case fieldText:
			message.Text = string(value)
		case fieldConversation:
			conversationID, err := domain.ParseConversationID(string(value))
			keep(err)
			message.ConversationID = conversationID
		case fieldOrigin:
			origin, err := uuid.ParseBytes(value)
			keep(err)
			message.OriginUserID = origin
		case fieldAt:
			at, err := bluge.DecodeDateTime(value)
			keep(err)
			message.At = at.UTC()
		case fieldAnswered:
			message.Answered = string(value) == "true"
		}
		return true
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, firstErr
}
