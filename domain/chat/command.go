// Package chat lists every request the backend answers.
// Each request is tied to exactly one response shape at compile time.
package chat

import (
	"chat-relay/domain"

	"github.com/google/uuid"
)

// Request marks a command or query answered by R.
// Only types embedding Yields can satisfy it.
type Request[R any] interface {
	yields() R
}

// Yields associates a request with its response type.
type Yields[R any] struct{}

func (Yields[R]) yields() R {
	var zero R
	return zero
}

// Caller is the authenticated principal behind a request.
// It is filled by the transport edge, never decoded from the body.
type Caller struct {
	IdentityID uuid.UUID
	Role       domain.Role
}

type Authenticated struct {
	Caller Caller `json:"-"`
}

func (a *Authenticated) Authenticate(c Caller) {
	a.Caller = c
}

// CommandResponse is the result of every state-changing request.
type CommandResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

func Ok(reason string) CommandResponse {
	return CommandResponse{Success: true, Reason: reason}
}

func Failed(err error) CommandResponse {
	return CommandResponse{Success: false, Reason: err.Error()}
}

type SendMessageCommand struct {
	Yields[CommandResponse]
	Authenticated
	Message      string    `json:"message" validate:"required,max=4096"`
	TargetUserID uuid.UUID `json:"targetUserId" validate:"required"`
}

type ContactAdminsCommand struct {
	Yields[CommandResponse]
	Authenticated
	Message string `json:"message" validate:"required,max=4096"`
}

type CreateUserCommand struct {
	Yields[CommandResponse]
	LoginName       string `json:"loginName" validate:"required,min=2,max=64"`
	InitialPassword string `json:"initialPassword" validate:"required,max=72"`
	FirstName       string `json:"firstName" validate:"required,max=64"`
	LastName        string `json:"lastName" validate:"max=64"`
	Role            string `json:"role" validate:"omitempty,oneof=user admin"`
}

type UpdateUserCommand struct {
	Yields[CommandResponse]
	UserID    uuid.UUID `json:"userId" validate:"required"`
	FirstName string    `json:"firstName" validate:"required,max=64"`
	LastName  string    `json:"lastName" validate:"max=64"`
}

type DeleteUserCommand struct {
	Yields[CommandResponse]
	UserID uuid.UUID `json:"userId" validate:"required"`
}

type ChangePasswordCommand struct {
	Yields[CommandResponse]
	Authenticated
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,max=72,nefield=OldPassword"`
}

type MarkAnsweredCommand struct {
	Yields[CommandResponse]
	MessageID uuid.UUID `json:"messageId" validate:"required"`
}
