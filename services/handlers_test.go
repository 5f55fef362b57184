package services_test

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/runtime"
	"chat-relay/services"
	"chat-relay/storage"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	handlers  *services.Handlers
	store     *storage.Store
	bus       *runtime.EventBus
	registry  *mocks.MockIConnectionRegistry
	identity  *mocks.MockIIdentityService
	archive   *mocks.MockIMessageArchive
	index     *mocks.MockIMessageIndex
	moderator *mocks.MockIModerator
	han, luke domain.User
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	users := storage.DemoUsers()
	f := &fixture{
		store:     storage.NewStore(log, users...),
		bus:       runtime.NewEventBus(log),
		registry:  mocks.NewMockIConnectionRegistry(ctrl),
		identity:  mocks.NewMockIIdentityService(ctrl),
		archive:   mocks.NewMockIMessageArchive(ctrl),
		index:     mocks.NewMockIMessageIndex(ctrl),
		moderator: mocks.NewMockIModerator(ctrl),
		han:       users[0],
		luke:      users[1],
		now:       time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC),
	}
	f.moderator.EXPECT().Censor(gomock.Any()).DoAndReturn(func(s string) string { return s }).AnyTimes()
	f.handlers = services.NewHandlers(log, f.store, f.registry, f.bus, f.identity, f.archive, f.index,
		services.WithClock(func() time.Time { return f.now }),
		services.WithModerator(f.moderator),
	)
	return f
}

func caller(u domain.User) chat.Caller {
	return chat.Caller{IdentityID: u.IdentityID, Role: u.Role}
}

func TestRegistrations_CoverEveryRequest(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	dispatcher, err := runtime.NewDispatcher(slog.Default(), f.handlers.Registrations())

	req.NoError(err)
	req.NoError(dispatcher.Require(services.Requests()...))
	req.Equal(len(services.Requests()), dispatcher.Len())
}

func TestSendMessage_WithoutLiveSocket(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	leia := storage.DemoUsers()[2]

	// Given nobody is connected
	f.registry.EXPECT().SendToKey(gomock.Any(), leia.ConnectionKey(), gomock.Any()).Return(0)
	f.registry.EXPECT().SendToKey(gomock.Any(), f.luke.ConnectionKey(), gomock.Any()).Return(0)
	var received atomic.Int32
	runtime.Subscribe(f.bus, func(_ context.Context, e event.MessageReceived) error {
		received.Add(1)
		return nil
	})

	// When Luke writes to Leia
	cmd := chat.SendMessageCommand{Message: "Hello there", TargetUserID: leia.ID}
	cmd.Authenticate(caller(f.luke))
	resp, err := f.handlers.SendMessage(ctx, cmd)

	// Then the message is persisted and announced in-process
	req.NoError(err)
	req.True(resp.Success)
	messages := f.store.Snapshot().MessagesInConversation(domain.NewConversationID(leia.ID, f.luke.ID))
	req.Len(messages, 1)
	req.Equal("Hello there", messages[0].Text)
	req.Equal(f.luke.ID, messages[0].OriginUserID)
	req.Equal(f.now, messages[0].At)
	req.Equal(int32(1), received.Load())
}

func TestSendMessage_PushesEnvelope(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	leia := storage.DemoUsers()[2]

	var envelope domain.EventEnvelope
	f.registry.EXPECT().SendToKey(gomock.Any(), leia.ConnectionKey(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.ConnectionKey, e domain.EventEnvelope) int {
			envelope = e
			return 2
		})
	f.registry.EXPECT().SendToKey(gomock.Any(), f.luke.ConnectionKey(), gomock.Any()).Return(1)

	cmd := chat.SendMessageCommand{Message: "Help me", TargetUserID: leia.ID}
	cmd.Authenticate(caller(f.luke))
	resp, err := f.handlers.SendMessage(context.Background(), cmd)

	req.NoError(err)
	req.True(resp.Success)
	req.Equal(string(event.MessageReceivedType), envelope.Type)
	req.Equal(f.now, envelope.Timestamp)
	req.Contains(envelope.Payload, `"text":"Help me"`)
}

func TestSendMessage_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown target", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		cmd := chat.SendMessageCommand{Message: "anyone?", TargetUserID: uuid.New()}
		cmd.Authenticate(caller(f.luke))

		resp, err := f.handlers.SendMessage(ctx, cmd)

		req.NoError(err)
		req.False(resp.Success)
		req.Contains(resp.Reason, errors.ErrUserNotFound.Error())
		req.Empty(f.store.Snapshot().Messages())
	})

	t.Run("unknown caller", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		cmd := chat.SendMessageCommand{Message: "who am I", TargetUserID: f.luke.ID}
		cmd.Authenticate(chat.Caller{IdentityID: uuid.New(), Role: domain.RoleUser})

		resp, err := f.handlers.SendMessage(ctx, cmd)

		req.NoError(err)
		req.False(resp.Success)
	})

	t.Run("empty message", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		cmd := chat.SendMessageCommand{TargetUserID: f.luke.ID}
		cmd.Authenticate(caller(f.luke))

		resp, err := f.handlers.SendMessage(ctx, cmd)

		req.NoError(err)
		req.False(resp.Success)
	})
}

func TestContactAdmins(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.registry.EXPECT().BroadcastToPrefix(gomock.Any(), "admin:", gomock.Any()).Return(1)
	f.registry.EXPECT().SendToKey(gomock.Any(), f.luke.ConnectionKey(), gomock.Any()).Return(1)

	cmd := chat.ContactAdminsCommand{Message: "My account is locked"}
	cmd.Authenticate(caller(f.luke))
	resp, err := f.handlers.ContactAdmins(context.Background(), cmd)

	req.NoError(err)
	req.True(resp.Success)
	messages := f.store.Snapshot().MessagesInConversation(domain.SupportConversationID(f.luke.ID))
	req.Len(messages, 1)
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	valid := chat.CreateUserCommand{
		LoginName:       "Chewie",
		InitialPassword: "Wookiee-Life-77",
		FirstName:       "Chewbacca",
		Role:            "user",
	}

	t.Run("created and announced", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.identity.EXPECT().CreateIdentityUser(gomock.Any(), "Chewie", "Wookiee-Life-77").Return(nil)
		f.registry.EXPECT().BroadcastToPrefix(gomock.Any(), "user:", gomock.Any()).Return(0)
		f.registry.EXPECT().BroadcastToPrefix(gomock.Any(), "admin:", gomock.Any()).Return(0)

		resp, err := f.handlers.CreateUser(ctx, valid)

		req.NoError(err)
		req.True(resp.Success, resp.Reason)
		users, _ := f.handlers.GetAllUsers(ctx, chat.GetAllUsersQuery{})
		req.Len(users.Users, len(storage.DemoUsers())+1)
	})

	t.Run("login already taken", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		cmd := valid
		cmd.LoginName = "luke"

		resp, err := f.handlers.CreateUser(ctx, cmd)

		req.NoError(err)
		req.False(resp.Success)
		req.Contains(resp.Reason, errors.ErrUserAlreadyExists.Error())
	})

	t.Run("weak password", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		cmd := valid
		cmd.InitialPassword = "password"

		resp, err := f.handlers.CreateUser(ctx, cmd)

		req.NoError(err)
		req.False(resp.Success)
	})

	t.Run("identity provider refuses", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.identity.EXPECT().CreateIdentityUser(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.ErrInvalidPassword)

		resp, err := f.handlers.CreateUser(ctx, valid)

		req.NoError(err)
		req.False(resp.Success)
		req.Contains(resp.Reason, errors.ErrIdentityNotCreated.Error())
		req.Len(f.store.Snapshot().Users(), len(storage.DemoUsers()))
	})

	t.Run("concurrent duplicates create a single user", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.identity.EXPECT().CreateIdentityUser(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
		f.registry.EXPECT().BroadcastToPrefix(gomock.Any(), gomock.Any(), gomock.Any()).Return(0).AnyTimes()

		var wg sync.WaitGroup
		var successes atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if resp, _ := f.handlers.CreateUser(ctx, valid); resp.Success {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()

		req.Equal(int32(1), successes.Load())
	})
}

func TestUpdateUser(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.registry.EXPECT().BroadcastToPrefix(gomock.Any(), gomock.Any(), gomock.Any()).Return(0).Times(2)

	resp, err := f.handlers.UpdateUser(context.Background(), chat.UpdateUserCommand{UserID: f.luke.ID, FirstName: "Luke", LastName: "Jedi"})

	req.NoError(err)
	req.True(resp.Success)
	updated, _ := f.store.Snapshot().UserByID(f.luke.ID)
	req.Equal("Jedi", updated.LastName)

	resp, err = f.handlers.UpdateUser(context.Background(), chat.UpdateUserCommand{UserID: uuid.New(), FirstName: "Nobody"})
	req.NoError(err)
	req.False(resp.Success)
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()

	t.Run("referenced by a message", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.registry.EXPECT().BroadcastToPrefix(gomock.Any(), "admin:", gomock.Any()).Return(0)
		f.registry.EXPECT().SendToKey(gomock.Any(), gomock.Any(), gomock.Any()).Return(0)
		cmd := chat.ContactAdminsCommand{Message: "hello"}
		cmd.Authenticate(caller(f.luke))
		_, err := f.handlers.ContactAdmins(ctx, cmd)
		req.NoError(err)

		resp, err := f.handlers.DeleteUser(ctx, chat.DeleteUserCommand{UserID: f.luke.ID})

		req.NoError(err)
		req.False(resp.Success)
		req.Equal(errors.ErrUserReferenced.Error(), resp.Reason)
	})

	t.Run("removed, identity dropped, sockets closed", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.identity.EXPECT().DeleteIdentityUser(f.luke.IdentityID)
		f.registry.EXPECT().BroadcastToPrefix(gomock.Any(), gomock.Any(), gomock.Any()).Return(0).Times(2)
		f.registry.EXPECT().Disconnect(domain.NewConnectionKey(domain.RoleUser, f.luke.ID), runtime.ClosePolicyViolation, gomock.Any()).Return(1)
		f.registry.EXPECT().Disconnect(domain.NewConnectionKey(domain.RoleAdmin, f.luke.ID), runtime.ClosePolicyViolation, gomock.Any()).Return(0)

		resp, err := f.handlers.DeleteUser(ctx, chat.DeleteUserCommand{UserID: f.luke.ID})

		req.NoError(err)
		req.True(resp.Success)
		_, found := f.store.Snapshot().UserByID(f.luke.ID)
		req.False(found)
	})
}

func TestMarkAnswered(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.registry.EXPECT().BroadcastToPrefix(gomock.Any(), "admin:", gomock.Any()).Return(0).Times(2)
	f.registry.EXPECT().SendToKey(gomock.Any(), gomock.Any(), gomock.Any()).Return(0)

	cmd := chat.ContactAdminsCommand{Message: "please"}
	cmd.Authenticate(caller(f.luke))
	_, err := f.handlers.ContactAdmins(ctx, cmd)
	req.NoError(err)
	message := f.store.Snapshot().Messages()[0]

	resp, err := f.handlers.MarkAnswered(ctx, chat.MarkAnsweredCommand{MessageID: message.ID})
	req.NoError(err)
	req.True(resp.Success)

	// A second call changes nothing
	resp, err = f.handlers.MarkAnswered(ctx, chat.MarkAnsweredCommand{MessageID: message.ID})
	req.NoError(err)
	req.Equal("already answered", resp.Reason)

	stored, _ := f.store.Snapshot().MessageByID(message.ID)
	req.True(stored.Answered)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("token for the user's role", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.identity.EXPECT().GetToken(f.han.IdentityID, "admin", "password", domain.RoleAdmin).Return("jwt", nil)

		resp, err := f.handlers.Login(ctx, chat.LoginQuery{LoginName: "admin", Password: "password"})

		req.NoError(err)
		req.Equal(chat.LoginResponse{Success: true, Token: "jwt"}, resp)
	})

	t.Run("wrong password", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.identity.EXPECT().GetToken(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.ErrInvalidCredentials)

		resp, err := f.handlers.Login(ctx, chat.LoginQuery{LoginName: "Luke", Password: "nope"})

		req.NoError(err)
		req.False(resp.Success)
		req.Empty(resp.Token)
	})

	t.Run("unknown login", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)

		resp, err := f.handlers.Login(ctx, chat.LoginQuery{LoginName: "Vader", Password: "password"})

		req.NoError(err)
		req.False(resp.Success)
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leia := storage.DemoUsers()[2]
	f.registry.EXPECT().SendToKey(gomock.Any(), gomock.Any(), gomock.Any()).Return(0).AnyTimes()

	for i, text := range []string{"first", "second"} {
		f.now = f.now.Add(time.Duration(i) * time.Minute)
		cmd := chat.SendMessageCommand{Message: text, TargetUserID: leia.ID}
		cmd.Authenticate(caller(f.luke))
		_, err := f.handlers.SendMessage(ctx, cmd)
		require.NoError(t, err)
	}

	t.Run("messages for user", func(t *testing.T) {
		q := chat.GetMessagesForUserQuery{UserID: f.luke.ID}
		q.Authenticate(caller(leia))
		resp, err := f.handlers.GetMessagesForUser(ctx, q)
		require.NoError(t, err)
		require.Len(t, resp.Messages, 2)
		require.Equal(t, "first", resp.Messages[0].Text)

		q.UserID = uuid.New()
		resp, err = f.handlers.GetMessagesForUser(ctx, q)
		require.NoError(t, err)
		require.Empty(t, resp.Messages)
	})

	t.Run("messages for conversation", func(t *testing.T) {
		id := domain.NewConversationID(f.luke.ID, leia.ID).String()
		resp, err := f.handlers.GetMessagesForConversation(ctx, chat.GetMessagesForConversationQuery{ConversationID: id})
		require.NoError(t, err)
		require.Len(t, resp.Messages, 2)

		resp, err = f.handlers.GetMessagesForConversation(ctx, chat.GetMessagesForConversationQuery{ConversationID: "garbage"})
		require.NoError(t, err)
		require.NotNil(t, resp.Messages)
		require.Empty(t, resp.Messages)
	})

	t.Run("my user id", func(t *testing.T) {
		q := chat.GetMyUserIDQuery{}
		q.Authenticate(caller(leia))
		resp, err := f.handlers.GetMyUserID(ctx, q)
		require.NoError(t, err)
		require.Equal(t, leia.ID, resp.UserID)

		q.Authenticate(chat.Caller{IdentityID: uuid.New()})
		resp, err = f.handlers.GetMyUserID(ctx, q)
		require.NoError(t, err)
		require.Equal(t, uuid.Nil, resp.UserID)
	})

	t.Run("search refreshes answered flag", func(t *testing.T) {
		stored := f.store.Snapshot().Messages()[0]
		stale := stored
		stale.Text = "from the index"
		f.index.EXPECT().Search(gomock.Any(), contract.SearchQuery{Text: "first", Limit: 5}).Return([]domain.Message{stale}, nil)

		resp, err := f.handlers.SearchMessages(ctx, chat.SearchMessagesQuery{Text: "first", Limit: 5})

		require.NoError(t, err)
		require.Len(t, resp.Messages, 1)
		require.Equal(t, stored.ID, resp.Messages[0].ID)
		require.Equal(t, "first", resp.Messages[0].Text)
	})

	t.Run("history from the archive", func(t *testing.T) {
		conversationID := domain.NewConversationID(f.luke.ID, leia.ID)
		cursor := "next"
		f.archive.EXPECT().History(conversationID, (*string)(nil)).Return(f.store.Snapshot().Messages(), &cursor, nil)

		resp, err := f.handlers.GetHistory(ctx, chat.GetHistoryQuery{ConversationID: conversationID.String()})

		require.NoError(t, err)
		require.Len(t, resp.Messages, 2)
		require.Equal(t, &cursor, resp.Cursor)
	})
}

func TestDispatchThroughRuntime(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	dispatcher, err := runtime.NewDispatcher(slog.Default(), f.handlers.Registrations())
	req.NoError(err)

	resp, err := runtime.Send[chat.UsersResponse](context.Background(), dispatcher, chat.GetAllUsersQuery{})

	req.NoError(err)
	req.Len(resp.Users, len(storage.DemoUsers()))
}

func TestSeedIdentities(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	identity := mocks.NewMockIIdentityService(ctrl)
	users := storage.DemoUsers()
	identity.EXPECT().CreateIdentityUser(gomock.Any(), gomock.Any(), storage.DemoPassword).Return(nil).Times(len(users))

	req.NoError(services.SeedIdentities(identity, users, storage.DemoPassword))
}
