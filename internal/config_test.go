package internal_test

import (
	"chat-relay/internal"
	"os"
	"testing"

	"github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	req := require.New(t)

	// Given neither the environment nor the seeding flag is set
	for _, name := range []string{"ENVIRONMENT", "SEED_DEMO_USERS"} {
		t.Setenv(name, "")
		req.NoError(os.Unsetenv(name))
	}

	// When the config is loaded
	var config internal.Config
	_, err := env.UnmarshalFromEnviron(&config)

	// Then it runs as production without demo accounts
	req.NoError(err)
	req.False(config.IsDevelopment())
	req.False(config.SeedDemoUsers)
}

func TestConfig_SeedDemoUsersIsOptIn(t *testing.T) {
	req := require.New(t)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("SEED_DEMO_USERS", "true")

	var config internal.Config
	_, err := env.UnmarshalFromEnviron(&config)

	req.NoError(err)
	req.True(config.IsDevelopment())
	req.True(config.SeedDemoUsers)
}
