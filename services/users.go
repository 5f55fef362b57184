package services

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/runtime"
	"chat-relay/storage"
	"context"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// CreateUser registers a chat user and its identity in one transaction.
func (h *Handlers) CreateUser(ctx context.Context, cmd chat.CreateUserCommand) (chat.CommandResponse, error) {
	if err := auth.ValidateRequest(cmd); err != nil {
		return chat.Failed(err), nil
	}
	if err := auth.ValidatePassword(cmd.InitialPassword); err != nil {
		return chat.Failed(err), nil
	}
	role := domain.RoleUser
	if cmd.Role != "" {
		parsed, ok := domain.ParseRole(cmd.Role)
		if !ok {
			return chat.Failed(errors.ErrInvalidRole), nil
		}
		role = parsed
	}

	return storage.Execute(ctx, h.store, func(ctx context.Context, tx *storage.Tx) (chat.CommandResponse, error) {
		if _, taken := findByLogin(tx.View(), cmd.LoginName); taken {
			return chat.Failed(fmt.Errorf("%w: %s", errors.ErrUserAlreadyExists, cmd.LoginName)), nil
		}

		identityID := uuid.New()
		if err := h.identity.CreateIdentityUser(identityID, cmd.LoginName, cmd.InitialPassword); err != nil {
			if !goerrors.Is(err, errors.ErrUserAlreadyExists) {
				err = fmt.Errorf("%w: %v", errors.ErrIdentityNotCreated, err)
			}
			return chat.Failed(err), nil
		}

		user := domain.User{
			ID:         uuid.New(),
			IdentityID: identityID,
			LoginName:  cmd.LoginName,
			FirstName:  cmd.FirstName,
			LastName:   cmd.LastName,
			Role:       role,
		}
		tx.AddUser(user)

		evt := event.NewUserCreated(user)
		h.broadcast(ctx, evt, domain.RoleUser, domain.RoleAdmin)
		publish(ctx, h, evt)
		return chat.Ok("user created"), nil
	})
}

func (h *Handlers) UpdateUser(ctx context.Context, cmd chat.UpdateUserCommand) (chat.CommandResponse, error) {
	if err := auth.ValidateRequest(cmd); err != nil {
		return chat.Failed(err), nil
	}
	return storage.Execute(ctx, h.store, func(ctx context.Context, tx *storage.Tx) (chat.CommandResponse, error) {
		user, ok := tx.View().UserByID(cmd.UserID)
		if !ok {
			return chat.Failed(errors.ErrUserNotFound), nil
		}
		user.FirstName = cmd.FirstName
		user.LastName = cmd.LastName
		if err := tx.UpdateUser(user); err != nil {
			return chat.Failed(err), nil
		}

		evt := event.UserUpdated{UserID: user.ID, FirstName: user.FirstName, LastName: user.LastName}
		h.broadcast(ctx, evt, domain.RoleUser, domain.RoleAdmin)
		publish(ctx, h, evt)
		return chat.Ok("user updated"), nil
	})
}

// DeleteUser refuses while the user still authored messages.
// On success the identity is dropped and the user's sockets are closed.
func (h *Handlers) DeleteUser(ctx context.Context, cmd chat.DeleteUserCommand) (chat.CommandResponse, error) {
	if err := auth.ValidateRequest(cmd); err != nil {
		return chat.Failed(err), nil
	}
	return storage.Execute(ctx, h.store, func(ctx context.Context, tx *storage.Tx) (chat.CommandResponse, error) {
		view := tx.View()
		user, ok := view.UserByID(cmd.UserID)
		if !ok {
			return chat.Failed(errors.ErrUserNotFound), nil
		}
		if view.HasMessagesFrom(user.ID) {
			return chat.Failed(errors.ErrUserReferenced), nil
		}
		if err := tx.RemoveUser(user.ID); err != nil {
			return chat.Failed(err), nil
		}
		h.identity.DeleteIdentityUser(user.IdentityID)

		evt := event.UserDeleted{UserID: user.ID}
		h.broadcast(ctx, evt, domain.RoleUser, domain.RoleAdmin)
		publish(ctx, h, evt)
		for _, role := range []domain.Role{domain.RoleUser, domain.RoleAdmin} {
			h.registry.Disconnect(domain.NewConnectionKey(role, user.ID), runtime.ClosePolicyViolation, "user deleted")
		}
		return chat.Ok("user deleted"), nil
	})
}

func (h *Handlers) GetAllUsers(_ context.Context, _ chat.GetAllUsersQuery) (chat.UsersResponse, error) {
	users := h.store.Snapshot().Users()
	return chat.UsersResponse{Users: lo.Map(users, func(u domain.User, _ int) chat.UserDTO {
		return chat.ToUserDTO(u)
	})}, nil
}

func findByLogin(view storage.View, loginName string) (domain.User, bool) {
	return lo.Find(view.Users(), func(u domain.User) bool {
		return strings.EqualFold(u.LoginName, loginName)
	})
}
