package chat

import (
	"chat-relay/domain"
	"time"

	"github.com/google/uuid"
)

type UserDTO struct {
	ID        uuid.UUID `json:"id"`
	LoginName string    `json:"loginName"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      string    `json:"role"`
}

func ToUserDTO(u domain.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		LoginName: u.LoginName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      string(u.Role),
	}
}

type MessageDTO struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversationId"`
	OriginUserID   uuid.UUID `json:"originUserId"`
	Text           string    `json:"text"`
	At             time.Time `json:"at"`
	Answered       bool      `json:"answered"`
}

func ToMessageDTO(m domain.Message) MessageDTO {
	return MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID.String(),
		OriginUserID:   m.OriginUserID,
		Text:           m.Text,
		At:             m.At,
		Answered:       m.Answered,
	}
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

type UsersResponse struct {
	Users []UserDTO `json:"users"`
}

type MessagesResponse struct {
	Messages []MessageDTO `json:"messages"`
}

type UserIDResponse struct {
	UserID uuid.UUID `json:"userId"`
}

type HistoryResponse struct {
	Messages []MessageDTO `json:"messages"`
	Cursor   *string      `json:"cursor,omitempty"`
}

type LoginQuery struct {
	Yields[LoginResponse]
	LoginName string `json:"loginName" validate:"required"`
	Password  string `json:"password" validate:"required"`
}

type GetAllUsersQuery struct {
	Yields[UsersResponse]
}

type GetMessagesForUserQuery struct {
	Yields[MessagesResponse]
	Authenticated
	UserID uuid.UUID `json:"userId" validate:"required"`
}

type GetMessagesForConversationQuery struct {
	Yields[MessagesResponse]
	ConversationID string `json:"conversationId" validate:"required"`
}

type GetMyUserIDQuery struct {
	Yields[UserIDResponse]
	Authenticated
}

type SearchMessagesQuery struct {
	Yields[MessagesResponse]
	Text     string `json:"text" validate:"required,max=256"`
	Language string `json:"language" validate:"omitempty,len=2"`
	Limit    int    `json:"limit" validate:"gte=0,lte=200"`
}

type GetHistoryQuery struct {
	Yields[HistoryResponse]
	ConversationID string  `json:"conversationId" validate:"required"`
	Cursor         *string `json:"cursor"`
}
