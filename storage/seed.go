package storage

import (
	"chat-relay/domain"

	"github.com/google/uuid"
)

// DemoPassword is shared by every demo identity.
const DemoPassword = "password"

// DemoUsers is the cast loaded when SEED_DEMO_USERS is set.
func DemoUsers() []domain.User {
	return []domain.User{
		demoUser("11111111-1111-1111-1111-111111111111", "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", "admin", "Han", "Solo", domain.RoleAdmin),
		demoUser("22222222-2222-2222-2222-222222222222", "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb", "Luke", "Luke", "Skywalker", domain.RoleUser),
		demoUser("33333333-3333-3333-3333-333333333333", "cccccccc-cccc-cccc-cccc-cccccccccccc", "Leia", "Leia", "Organa", domain.RoleUser),
		demoUser("44444444-4444-4444-4444-444444444444", "dddddddd-dddd-dddd-dddd-dddddddddddd", "Padme", "Padme", "Amidala", domain.RoleUser),
		demoUser("55555555-5555-5555-5555-555555555555", "eeeeeeee-eeee-eeee-eeee-eeeeeeeeeeee", "Obi-Wan", "Obi-Wan", "Kenobi", domain.RoleUser),
	}
}

func demoUser(id, identityID, login, first, last string, role domain.Role) domain.User {
	return domain.User{
		ID:         uuid.MustParse(id),
		IdentityID: uuid.MustParse(identityID),
		LoginName:  login,
		FirstName:  first,
		LastName:   last,
		Role:       role,
	}
}
