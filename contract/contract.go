//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging during supervision.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Socket is one live transport handle.
// Implementations must be comparable: the registry stores them as set members.
type Socket interface {
	// Send writes one text frame. Cancelling ctx aborts this write only.
	Send(ctx context.Context, payload []byte) error
	// Receive blocks until the next inbound frame, returning an error once the peer is gone.
	Receive(ctx context.Context) error
	// Close sends a close frame once; later calls do nothing.
	Close(code int, reason string) error
	IsOpen() bool
}

// Principal is what a validated bearer token says about its holder.
type Principal struct {
	IdentityID uuid.UUID
	Role       domain.Role
}

type ITokenValidator interface {
	Validate(token string) (Principal, error)
}

type ITokenIssuer interface {
	Issue(identityID uuid.UUID, userName string, role domain.Role) (string, error)
}

// IIdentityService owns credentials. The chat store never sees a password.
type IIdentityService interface {
	GetToken(identityID uuid.UUID, userName, password string, role domain.Role) (string, error)
	CreateIdentityUser(identityID uuid.UUID, userName, password string) error
	ChangePassword(identityID uuid.UUID, newPassword, oldPassword string) error
	DeleteIdentityUser(identityID uuid.UUID)
}

// Authenticator turns an Authorization header into a connection key.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (domain.ConnectionKey, domain.Role, error)
}

type IConnectionRegistry interface {
	Add(key domain.ConnectionKey, socket Socket)
	Remove(key domain.ConnectionKey, socket Socket)
	SendToKey(ctx context.Context, key domain.ConnectionKey, envelope domain.EventEnvelope) int
	BroadcastToPrefix(ctx context.Context, prefix string, envelope domain.EventEnvelope) int
	// Disconnect closes every socket of key and forgets them.
	Disconnect(key domain.ConnectionKey, code int, reason string) int
}

type IMessageArchive interface {
	Store(message domain.Message) error
	History(conversationID domain.ConversationID, cursor *string) ([]domain.Message, *string, error)
}

type SearchQuery struct {
	Text     string
	Language string
	Limit    int
}

type IMessageIndex interface {
	Index(message domain.Message) error
	Search(ctx context.Context, query SearchQuery) ([]domain.Message, error)
}

type IModerator interface {
	Censor(original string) string
}

type Clock func() time.Time
