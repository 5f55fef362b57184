package auth

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"context"
	"fmt"
	"net/http"
	"strings"
)

type contextKey string

const principalKey contextKey = "principal"

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header.
func ExtractBearer(authorization string) (string, error) {
	scheme, token, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: authorization token is missing", errors.ErrAuthenticationRejected)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: authorization token is missing", errors.ErrAuthenticationRejected)
	}
	return token, nil
}

// RequireBearer validates the bearer token of every request and injects the
// principal into the request context. Requests without a valid token get a 401.
func RequireBearer(validator contract.ITokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ExtractBearer(r.Header.Get("Authorization"))
			if err != nil {
				http.Error(w, "authorization token is missing", http.StatusUnauthorized)
				return
			}
			principal, err := validator.Validate(token)
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func WithPrincipal(ctx context.Context, principal contract.Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFrom reads what RequireBearer stored.
func PrincipalFrom(ctx context.Context) (contract.Principal, bool) {
	principal, ok := ctx.Value(principalKey).(contract.Principal)
	return principal, ok
}
