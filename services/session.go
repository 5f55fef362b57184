package services

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Login exchanges a login name and password for a bearer token carrying the user's role.
func (h *Handlers) Login(_ context.Context, q chat.LoginQuery) (chat.LoginResponse, error) {
	if err := auth.ValidateRequest(q); err != nil {
		return chat.LoginResponse{}, nil
	}
	user, ok := findByLogin(h.store.Snapshot(), q.LoginName)
	if !ok {
		h.log.Debug("Login refused", "login", q.LoginName, "reason", "unknown login")
		return chat.LoginResponse{}, nil
	}
	token, err := h.identity.GetToken(user.IdentityID, user.LoginName, q.Password, user.Role)
	if err != nil {
		h.log.Debug("Login refused", "login", q.LoginName, "reason", err)
		return chat.LoginResponse{}, nil
	}
	return chat.LoginResponse{Success: true, Token: token}, nil
}

func (h *Handlers) ChangePassword(_ context.Context, cmd chat.ChangePasswordCommand) (chat.CommandResponse, error) {
	if err := auth.ValidateRequest(cmd); err != nil {
		return chat.Failed(err), nil
	}
	if err := auth.ValidatePassword(cmd.NewPassword); err != nil {
		return chat.Failed(err), nil
	}
	if err := h.identity.ChangePassword(cmd.Caller.IdentityID, cmd.NewPassword, cmd.OldPassword); err != nil {
		return chat.Failed(err), nil
	}
	return chat.Ok("password changed"), nil
}

// GetMyUserID answers uuid.Nil when the caller's identity has no chat user.
func (h *Handlers) GetMyUserID(_ context.Context, q chat.GetMyUserIDQuery) (chat.UserIDResponse, error) {
	user, ok := h.store.Snapshot().UserByIdentity(q.Caller.IdentityID)
	if !ok {
		return chat.UserIDResponse{UserID: uuid.Nil}, nil
	}
	return chat.UserIDResponse{UserID: user.ID}, nil
}

// SeedIdentities gives every seeded user an identity sharing password.
func SeedIdentities(identity contract.IIdentityService, users []domain.User, password string) error {
	for _, u := range users {
		if err := identity.CreateIdentityUser(u.IdentityID, u.LoginName, password); err != nil {
			return fmt.Errorf("seed %s: %w", u.LoginName, err)
		}
	}
	return nil
}
