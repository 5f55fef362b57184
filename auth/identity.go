package auth

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type identity struct {
	userName string
	hash     string
}

// IdentityService keeps credentials apart from the chat store and hands out tokens.
type IdentityService struct {
	mu         sync.RWMutex
	identities map[uuid.UUID]identity
	hasher     Hasher
	issuer     contract.ITokenIssuer
}

func NewIdentityService(hasher Hasher, issuer contract.ITokenIssuer) *IdentityService {
	return &IdentityService{
		identities: make(map[uuid.UUID]identity),
		hasher:     hasher,
		issuer:     issuer,
	}
}

// GetToken checks the password of an identity and issues a token carrying role.
func (s *IdentityService) GetToken(identityID uuid.UUID, userName, password string, role domain.Role) (string, error) {
	s.mu.RLock()
	id, ok := s.identities[identityID]
	s.mu.RUnlock()
	if !ok || !strings.EqualFold(id.userName, userName) {
		return "", errors.ErrInvalidCredentials
	}

	match, err := s.hasher.Compare(password, id.hash)
	if err != nil {
		return "", fmt.Errorf("compare password: %w", err)
	}
	if !match {
		return "", errors.ErrInvalidCredentials
	}
	return s.issuer.Issue(identityID, id.userName, role)
}

func (s *IdentityService) CreateIdentityUser(identityID uuid.UUID, userName, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrIdentityNotCreated, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.identities[identityID]; exists {
		return errors.ErrUserAlreadyExists
	}
	for _, id := range s.identities {
		if strings.EqualFold(id.userName, userName) {
			return errors.ErrUserAlreadyExists
		}
	}
	s.identities[identityID] = identity{userName: userName, hash: hash}
	return nil
}

func (s *IdentityService) ChangePassword(identityID uuid.UUID, newPassword, oldPassword string) error {
	s.mu.RLock()
	id, ok := s.identities[identityID]
	s.mu.RUnlock()
	if !ok {
		return errors.ErrUserNotFound
	}

	match, err := s.hasher.Compare(oldPassword, id.hash)
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	if !match {
		return errors.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.identities[identityID]; ok && current.hash == id.hash {
		current.hash = hash
		s.identities[identityID] = current
		return nil
	}
	// someone else changed or deleted it in between
	return errors.ErrInvalidCredentials
}

func (s *IdentityService) DeleteIdentityUser(identityID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.identities, identityID)
}
