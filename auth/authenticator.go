package auth

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// UserLookup resolves an identity id to the chat user it belongs to.
type UserLookup func(identityID uuid.UUID) (domain.User, bool)

// SocketAuthenticator resolves the Authorization header of an upgrade request.
type SocketAuthenticator struct {
	validator contract.ITokenValidator
	lookup    UserLookup
}

func NewSocketAuthenticator(validator contract.ITokenValidator, lookup UserLookup) *SocketAuthenticator {
	return &SocketAuthenticator{validator: validator, lookup: lookup}
}

func (a *SocketAuthenticator) Authenticate(ctx context.Context, authorization string) (domain.ConnectionKey, domain.Role, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	token, err := ExtractBearer(authorization)
	if err != nil {
		return "", "", err
	}
	principal, err := a.validator.Validate(token)
	if err != nil {
		return "", "", err
	}
	user, ok := a.lookup(principal.IdentityID)
	if !ok {
		return "", "", fmt.Errorf("%w: unknown identity %s", errors.ErrAuthenticationRejected, principal.IdentityID)
	}
	return domain.NewConnectionKey(principal.Role, user.ID), principal.Role, nil
}
