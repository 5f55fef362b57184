package services

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/storage"
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// SendMessage stores a direct message and pushes it to both participants.
func (h *Handlers) SendMessage(ctx context.Context, cmd chat.SendMessageCommand) (chat.CommandResponse, error) {
	if err := auth.ValidateRequest(cmd); err != nil {
		return chat.Failed(err), nil
	}
	return storage.Execute(ctx, h.store, func(ctx context.Context, tx *storage.Tx) (chat.CommandResponse, error) {
		view := tx.View()
		origin, ok := view.UserByIdentity(cmd.Caller.IdentityID)
		if !ok {
			return chat.Failed(fmt.Errorf("origin %w", errors.ErrUserNotFound)), nil
		}
		target, ok := view.UserByID(cmd.TargetUserID)
		if !ok {
			return chat.Failed(fmt.Errorf("target %w", errors.ErrUserNotFound)), nil
		}

		message := domain.NewMessage(domain.NewConversationID(origin.ID, target.ID), origin.ID, h.censor(cmd.Message), h.clock())
		tx.AddMessage(message)

		evt := event.NewMessageReceived(message)
		attempts := h.push(ctx, evt, target.ConnectionKey(), origin.ConnectionKey())
		h.log.Debug("Message sent", "conversation", message.ConversationID.String(), "attempts", attempts)
		publish(ctx, h, evt)
		return chat.Ok("message sent"), nil
	})
}

// ContactAdmins stores a message in the caller's support thread and notifies every administrator.
func (h *Handlers) ContactAdmins(ctx context.Context, cmd chat.ContactAdminsCommand) (chat.CommandResponse, error) {
	if err := auth.ValidateRequest(cmd); err != nil {
		return chat.Failed(err), nil
	}
	return storage.Execute(ctx, h.store, func(ctx context.Context, tx *storage.Tx) (chat.CommandResponse, error) {
		origin, ok := tx.View().UserByIdentity(cmd.Caller.IdentityID)
		if !ok {
			return chat.Failed(fmt.Errorf("origin %w", errors.ErrUserNotFound)), nil
		}

		message := domain.NewMessage(domain.SupportConversationID(origin.ID), origin.ID, h.censor(cmd.Message), h.clock())
		tx.AddMessage(message)

		evt := event.NewMessageReceived(message)
		attempts := h.broadcast(ctx, evt, domain.RoleAdmin)
		if origin.Role != domain.RoleAdmin {
			attempts += h.push(ctx, evt, origin.ConnectionKey())
		}
		h.log.Debug("Admins contacted", "origin", origin.ID, "attempts", attempts)
		publish(ctx, h, evt)
		return chat.Ok("administrators contacted"), nil
	})
}

// MarkAnswered flags a support message as handled.
func (h *Handlers) MarkAnswered(ctx context.Context, cmd chat.MarkAnsweredCommand) (chat.CommandResponse, error) {
	if err := auth.ValidateRequest(cmd); err != nil {
		return chat.Failed(err), nil
	}
	return storage.Execute(ctx, h.store, func(ctx context.Context, tx *storage.Tx) (chat.CommandResponse, error) {
		message, ok := tx.View().MessageByID(cmd.MessageID)
		if !ok {
			return chat.Failed(errors.ErrMessageNotFound), nil
		}
		if message.Answered {
			return chat.Ok("already answered"), nil
		}
		if err := tx.UpdateMessage(message.MarkAnswered()); err != nil {
			return chat.Failed(err), nil
		}

		evt := event.MessageAnswered{ID: message.ID, ConversationID: message.ConversationID.String()}
		h.broadcast(ctx, evt, domain.RoleAdmin)
		publish(ctx, h, evt)
		return chat.Ok("message answered"), nil
	})
}

// GetMessagesForUser returns the caller's conversation with another user, oldest first.
func (h *Handlers) GetMessagesForUser(_ context.Context, q chat.GetMessagesForUserQuery) (chat.MessagesResponse, error) {
	view := h.store.Snapshot()
	caller, ok := view.UserByIdentity(q.Caller.IdentityID)
	if !ok {
		return emptyMessages(), nil
	}
	other, ok := view.UserByID(q.UserID)
	if !ok {
		return emptyMessages(), nil
	}
	return toMessagesResponse(view.MessagesInConversation(domain.NewConversationID(caller.ID, other.ID))), nil
}

func (h *Handlers) GetMessagesForConversation(_ context.Context, q chat.GetMessagesForConversationQuery) (chat.MessagesResponse, error) {
	conversationID, err := domain.ParseConversationID(q.ConversationID)
	if err != nil {
		h.log.Debug("Invalid conversation id", "conversation", q.ConversationID, "error", err)
		return emptyMessages(), nil
	}
	return toMessagesResponse(h.store.Snapshot().MessagesInConversation(conversationID)), nil
}

// SearchMessages queries the full-text index. The answered flag is refreshed from the store.
func (h *Handlers) SearchMessages(ctx context.Context, q chat.SearchMessagesQuery) (chat.MessagesResponse, error) {
	if err := auth.ValidateRequest(q); err != nil {
		return emptyMessages(), nil
	}
	found, err := h.index.Search(ctx, contract.SearchQuery{Text: q.Text, Language: q.Language, Limit: q.Limit})
	if err != nil {
		h.log.Warn("Search failed", "text", q.Text, "error", err)
		return emptyMessages(), nil
	}

	view := h.store.Snapshot()
	fresh := lo.Map(found, func(m domain.Message, _ int) domain.Message {
		if current, ok := view.MessageByID(m.ID); ok {
			return current
		}
		return m
	})
	return chat.MessagesResponse{Messages: lo.Map(fresh, toDTO)}, nil
}

// GetHistory pages through the archive, newest first.
func (h *Handlers) GetHistory(_ context.Context, q chat.GetHistoryQuery) (chat.HistoryResponse, error) {
	conversationID, err := domain.ParseConversationID(q.ConversationID)
	if err != nil {
		return chat.HistoryResponse{Messages: []chat.MessageDTO{}}, nil
	}
	messages, cursor, err := h.archive.History(conversationID, q.Cursor)
	if err != nil {
		h.log.Warn("History unavailable", "conversation", q.ConversationID, "error", err)
		return chat.HistoryResponse{Messages: []chat.MessageDTO{}}, nil
	}
	return chat.HistoryResponse{Messages: lo.Map(messages, toDTO), Cursor: cursor}, nil
}

func toDTO(m domain.Message, _ int) chat.MessageDTO {
	return chat.ToMessageDTO(m)
}

func toMessagesResponse(messages []domain.Message) chat.MessagesResponse {
	slices.SortStableFunc(messages, func(a, b domain.Message) int { return a.At.Compare(b.At) })
	return chat.MessagesResponse{Messages: lo.Map(messages, toDTO)}
}

func emptyMessages() chat.MessagesResponse {
	return chat.MessagesResponse{Messages: []chat.MessageDTO{}}
}
