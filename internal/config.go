package internal

import (
	"fmt"
	"strings"
	"time"
)

const EnvironmentDevelopment = "development"

type Config struct {
	Host        string `env:"HOST,default=0.0.0.0"`
	Port        int    `env:"PORT,default=8080"`
	GrpcPort    int    `env:"GRPC_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`
	Environment string `env:"ENVIRONMENT,default=production"`

	JwtIssuer         string        `env:"JWT_ISSUER,default=chat-relay"`
	JwtAudience       string        `env:"JWT_AUDIENCE,default=chat-relay-clients"`
	JwtPrivateKeyPath string        `env:"JWT_PRIVATE_KEY_PATH,default=keys/jwt.pem"`
	JwtPublicKeyPath  string        `env:"JWT_PUBLIC_KEY_PATH,default=keys/jwt.pub.pem"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=1h"`

	SocketWriteTimeout   time.Duration `env:"SOCKET_WRITE_TIMEOUT,default=5s"`
	SocketPingInterval   time.Duration `env:"SOCKET_PING_INTERVAL,default=30s"`
	SocketMaxMessageSize int64         `env:"SOCKET_MAX_MESSAGE_SIZE,default=4096"`

	ArchivePath       string        `env:"ARCHIVE_PATH"`
	IndexPath         string        `env:"INDEX_PATH"`
	LimitMessages     int           `env:"LIMIT_MESSAGES,default=50"`
	ArchiveGCInterval time.Duration `env:"ARCHIVE_GC_INTERVAL,default=10m"`

	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL,default=1m"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	CharReplacement   string        `env:"CENSOR_CHARACTER,default=*"`
	SeedDemoUsers     bool          `env:"SEED_DEMO_USERS,default=false"`
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvironmentDevelopment)
}

func (c Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) GrpcAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GrpcPort)
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CENSOR_CHARACTER must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
