package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrHandlerNotFound        = fmt.Errorf("handler not found")
	ErrDuplicateHandler       = fmt.Errorf("handler already registered")
	ErrUnexpectedResponse     = fmt.Errorf("handler returned an unexpected response type")
	ErrAuthenticationRejected = fmt.Errorf("authentication rejected")
	ErrForbidden              = fmt.Errorf("role not allowed")
	ErrInvalidTransition      = fmt.Errorf("invalid connection state transition")
	ErrSocketClosed           = fmt.Errorf("socket closed")
	ErrBusClosed              = fmt.Errorf("event bus closed")
	ErrSubscriberPanic        = fmt.Errorf("subscriber panic")

	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrMessageNotFound    = fmt.Errorf("message not found")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrUserReferenced     = fmt.Errorf("user is referenced by messages")
	ErrIdentityNotCreated = fmt.Errorf("could not create identity user")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidRole        = fmt.Errorf("invalid role")
	ErrInvalidPassword    = fmt.Errorf("password is too weak")

	ErrEmptyWords = fmt.Errorf("no words have been found")
)

// HTTPStatus maps a failure to the status answered at the HTTP edge.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthenticationRejected):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUserAlreadyExists), errors.Is(err, ErrUserReferenced):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
