// Package rest is the HTTP edge: JSON commands and queries on POST /api/{name},
// websocket upgrades on /ws/*, and the health probe.
package rest

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/infrastructure/ws"
	"chat-relay/runtime"
	"encoding/json"
	goerrors "errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

type access int

const (
	public access = iota
	authenticated
	adminOnly
)

type route struct {
	name    string
	access  access
	handler http.Handler
}

type errorBody struct {
	Error string `json:"error"`
}

type Server struct {
	dispatcher *runtime.Dispatcher
	registry   *runtime.Registry
	upgrader   *ws.Upgrader
	validator  contract.ITokenValidator
	log        *slog.Logger
}

func NewServer(log *slog.Logger, dispatcher *runtime.Dispatcher, registry *runtime.Registry, upgrader *ws.Upgrader, validator contract.ITokenValidator) *Server {
	return &Server{dispatcher: dispatcher, registry: registry, upgrader: upgrader, validator: validator, log: log}
}

func (s *Server) routes() []route {
	d := s.dispatcher
	return []route{
		{"login", public, bind[chat.LoginQuery, chat.LoginResponse](d)},

		{"send-message", authenticated, bind[chat.SendMessageCommand, chat.CommandResponse](d)},
		{"contact-admins", authenticated, bind[chat.ContactAdminsCommand, chat.CommandResponse](d)},
		{"change-password", authenticated, bind[chat.ChangePasswordCommand, chat.CommandResponse](d)},
		{"get-users", authenticated, bind[chat.GetAllUsersQuery, chat.UsersResponse](d)},
		{"get-messages-for-user", authenticated, bind[chat.GetMessagesForUserQuery, chat.MessagesResponse](d)},
		{"get-own-user-id", authenticated, bind[chat.GetMyUserIDQuery, chat.UserIDResponse](d)},

		{"create-user", adminOnly, bind[chat.CreateUserCommand, chat.CommandResponse](d)},
		{"update-user", adminOnly, bind[chat.UpdateUserCommand, chat.CommandResponse](d)},
		{"delete-user", adminOnly, bind[chat.DeleteUserCommand, chat.CommandResponse](d)},
		{"mark-answered", adminOnly, bind[chat.MarkAnsweredCommand, chat.CommandResponse](d)},
		{"get-messages-for-conversation", adminOnly, bind[chat.GetMessagesForConversationQuery, chat.MessagesResponse](d)},
		{"search-messages", adminOnly, bind[chat.SearchMessagesQuery, chat.MessagesResponse](d)},
		{"get-history", adminOnly, bind[chat.GetHistoryQuery, chat.HistoryResponse](d)},
	}
}

// Router builds the whole HTTP surface.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestLogger(s.log))

	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "OK")
	}).Methods(http.MethodGet)

	for _, rt := range s.routes() {
		h := rt.handler
		if rt.access == adminOnly {
			h = requireRole(domain.RoleAdmin)(h)
		}
		if rt.access != public {
			h = auth.RequireBearer(s.validator)(h)
		}
		router.Handle("/api/"+rt.name, h).Methods(http.MethodPost)
	}

	router.HandleFunc("/ws/events", s.serveSocket()).Methods(http.MethodGet)
	router.HandleFunc("/ws/admin", s.serveSocket(domain.RoleAdmin)).Methods(http.MethodGet)
	return router
}

// serveSocket upgrades before authenticating; a rejected caller reads a 1008 close frame.
func (s *Server) serveSocket(roles ...domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		socket, err := s.upgrader.Upgrade(w, r)
		if err != nil {
			s.log.Debug("Websocket upgrade failed", "error", err)
			return
		}
		if err := s.registry.Serve(r.Context(), socket, r.Header.Get("Authorization"), roles...); err != nil {
			s.log.Debug("Websocket session refused", "path", r.URL.Path, "error", err)
		}
	}
}

type callerAware interface {
	Authenticate(c chat.Caller)
}

// bind decodes Req from the body, stamps the caller from the bearer token and dispatches it.
func bind[Req chat.Request[Resp], Resp any](d *runtime.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Req
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := decoder.Decode(&req); err != nil && !goerrors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed body: " + err.Error()})
			return
		}

		if principal, ok := auth.PrincipalFrom(r.Context()); ok {
			if aware, ok := any(&req).(callerAware); ok {
				aware.Authenticate(chat.Caller{IdentityID: principal.IdentityID, Role: principal.Role})
			}
		}

		resp, err := runtime.Send[Resp](r.Context(), d, req)
		if err != nil {
			writeJSON(w, errors.HTTPStatus(err), errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
