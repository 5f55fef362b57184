// Package domain contains core concepts of the chat system.
// This file defines User entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// KeyPrefix selects every connection key held by this role.
func (r Role) KeyPrefix() string {
	return string(r) + ":"
}

// User is the internal view of a participant.
// ID is owned by the chat system, IdentityID by the identity provider.
type User struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	LoginName  string
	FirstName  string
	LastName   string
	Role       Role
}

func (u User) ConnectionKey() ConnectionKey {
	return NewConnectionKey(u.Role, u.ID)
}

// ConnectionKey groups every live socket of one user under one role: "role:userId".
type ConnectionKey string

func NewConnectionKey(role Role, userID uuid.UUID) ConnectionKey {
	return ConnectionKey(role.KeyPrefix() + userID.String())
}

func (k ConnectionKey) HasPrefix(prefix string) bool {
	return strings.HasPrefix(string(k), prefix)
}

func (k ConnectionKey) String() string {
	return string(k)
}
