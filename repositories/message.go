package repositories

import (
	"chat-relay/domain"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	messagePrefix       = "msg:"
	DefaultHistoryLimit = 50
	newestCursor        = "9999999999999999999"
)

// MessageArchive persists every message in BadgerDB, grouped by conversation.
type MessageArchive struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages int
}

func NewMessageArchive(db *badger.DB, log *slog.Logger, limitMessages int) *MessageArchive {
	if limitMessages <= 0 {
		limitMessages = DefaultHistoryLimit
	}
	return &MessageArchive{db: db, log: log, limitMessages: limitMessages}
}

// OpenBadger opens the archive database, in memory when path is empty.
func OpenBadger(path string) (*badger.DB, error) {
	options := badger.DefaultOptions(path).WithInMemory(path == "")
	return badger.Open(options.WithLoggingLevel(badger.ERROR))
}

// OpenBadgerReadOnly opens an existing archive next to a running server.
func OpenBadgerReadOnly(path string) (*badger.DB, error) {
	options := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)
	return badger.Open(options)
}

// Store persists a message under "msg:{conversation}:{timestamp_padded}:{uuid}".
// The 19-digit padding keeps lexicographical order chronological; the uuid separates
// two messages of the same nanosecond. Storing the same message again overwrites it.
func (a *MessageArchive) Store(message domain.Message) error {
	record, err := fromMessage(message)
	if err != nil {
		return err
	}
	bytes, err := proto.Marshal(record)
	if err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), bytes)
	})
}

// History pages through a conversation from the newest message backwards.
// The returned cursor is nil once the conversation is exhausted.
func (a *MessageArchive) History(conversationID domain.ConversationID, cursor *string) ([]domain.Message, *string, error) {
	var values [][]byte
	var lastKey string
	exhausted := true

	err := a.db.View(func(txn *badger.Txn) error {
		prefixStr := conversationPrefix(conversationID)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		seek := newestCursor
		if cursor != nil {
			seek = *cursor
		}
		it.Seek(append(prefix, []byte(seek)...))
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[len(prefix):]) == *cursor {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if len(values) == a.limitMessages {
				a.log.Debug("History page full", "conversation", conversationID.String(), "limit", a.limitMessages)
				exhausted = false
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]domain.Message, 0, len(values))
	for _, value := range values {
		var record structpb.Struct
		if err := proto.Unmarshal(value, &record); err != nil {
			return nil, nil, err
		}
		message, err := toMessage(&record)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}

	if exhausted {
		return messages, nil, nil
	}
	return messages, &lastKey, nil
}

// Count returns how many messages the archive holds, all conversations together.
func (a *MessageArchive) Count() (int, error) {
	count := 0
	err := a.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()
		prefix := []byte(messagePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Scan visits every archived record whose key starts with prefix, in key order.
func (a *MessageArchive) Scan(prefix string, visit func(key string, value []byte) error) error {
	return a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			if err := item.Value(func(val []byte) error {
				return visit(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// CollectGarbage rewrites value log files until badger finds nothing worth reclaiming.
func (a *MessageArchive) CollectGarbage(discardRatio float64) (int, error) {
	rewritten := 0
	for {
		err := a.db.RunValueLogGC(discardRatio)
		switch {
		case err == nil:
			rewritten++
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected), errors.Is(err, badger.ErrGCInMemoryMode):
			return rewritten, nil
		default:
			return rewritten, err
		}
	}
}

func conversationPrefix(conversationID domain.ConversationID) string {
	return messagePrefix + conversationID.String() + ":"
}

func messageKey(message domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s",
		conversationPrefix(message.ConversationID),
		message.At.UnixNano(),
		message.ID,
	))
}

func fromMessage(message domain.Message) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":           message.ID.String(),
		"conversation": message.ConversationID.String(),
		"origin":       message.OriginUserID.String(),
		"text":         message.Text,
		"at":           message.At.UTC().Format(time.RFC3339Nano),
		"answered":     message.Answered,
	})
}

func toMessage(record *structpb.Struct) (domain.Message, error) {
	fields := record.GetFields()
	str := func(name string) string { return fields[name].GetStringValue() }

	id, err := uuid.Parse(str("id"))
	if err != nil {
		return domain.Message{}, fmt.Errorf("archived message id: %w", err)
	}
	conversationID, err := domain.ParseConversationID(str("conversation"))
	if err != nil {
		return domain.Message{}, err
	}
	origin, err := uuid.Parse(str("origin"))
	if err != nil {
		return domain.Message{}, fmt.Errorf("archived message origin: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, str("at"))
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:             id,
		ConversationID: conversationID,
		OriginUserID:   origin,
		Text:           str("text"),
		At:             at.UTC(),
		Answered:       fields["answered"].GetBoolValue(),
	}, nil
}

// DecodeRecord turns a raw archive value into a message. Used by the inspection tools.
func DecodeRecord(value []byte) (domain.Message, error) {
	var record structpb.Struct
	if err := proto.Unmarshal(value, &record); err != nil {
		return domain.Message{}, err
	}
	return toMessage(&record)
}

// IsMessageKey tells archive keys apart from anything else living in the same database.
func IsMessageKey(key string) bool {
	return strings.HasPrefix(key, messagePrefix)
}
