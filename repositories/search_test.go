package repositories

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openIndex(t *testing.T) *MessageIndex {
	t.Helper()
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	return NewMessageIndex(writer, slog.Default())
}

func TestMessageIndex_Search(t *testing.T) {
	req := require.New(t)
	index := openIndex(t)
	luke, leia := uuid.New(), uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)

	english := domain.NewMessage(domain.SupportConversationID(luke), luke,
		"My lightsaber stopped working after the training session this morning", now)
	french := domain.NewMessage(domain.SupportConversationID(leia), leia,
		"Mon sabre laser ne fonctionne plus depuis la séance d'entraînement de ce matin", now.Add(time.Minute))
	later := domain.NewMessage(domain.NewConversationID(luke, leia), luke,
		"The lightsaber is fixed now, thank you for the quick help yesterday", now.Add(2*time.Minute))
	for _, m := range []domain.Message{english, french, later} {
		req.NoError(index.Index(m))
	}

	t.Run("match is newest first", func(t *testing.T) {
		found, err := index.Search(context.Background(), contract.SearchQuery{Text: "lightsaber"})
		require.NoError(t, err)
		require.Len(t, found, 2)
		require.Equal(t, later.ID, found[0].ID)
		require.Equal(t, english.ID, found[1].ID)
		require.Equal(t, english.ConversationID, found[1].ConversationID)
		require.Equal(t, english.OriginUserID, found[1].OriginUserID)
		require.Equal(t, english.Text, found[1].Text)
	})

	t.Run("language filter", func(t *testing.T) {
		found, err := index.Search(context.Background(), contract.SearchQuery{Text: "sabre", Language: "fr"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		require.Equal(t, french.ID, found[0].ID)

		found, err = index.Search(context.Background(), contract.SearchQuery{Text: "sabre", Language: "en"})
		require.NoError(t, err)
		require.Empty(t, found)
	})

	t.Run("limit", func(t *testing.T) {
		found, err := index.Search(context.Background(), contract.SearchQuery{Text: "lightsaber", Limit: 1})
		require.NoError(t, err)
		require.Len(t, found, 1)
	})

	t.Run("reindex replaces the document", func(t *testing.T) {
		require.NoError(t, index.Index(english.MarkAnswered()))
		found, err := index.Search(context.Background(), contract.SearchQuery{Text: "training"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		require.True(t, found[0].Answered)
	})
}

func TestDetectLanguage(t *testing.T) {
	req := require.New(t)
	req.Equal("fr", DetectLanguage("Bonjour tout le monde, je voudrais réserver une table pour ce soir"))
	req.Equal("en", DetectLanguage("Hello everyone, I would like to book a table for tonight please"))
}
