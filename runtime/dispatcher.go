// Package runtime holds the messaging core: request dispatch, the in-process
// event bus and the live connection registry.
// It orchestrates the system without containing business logic or domain rules.
package runtime

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"reflect"
)

// Registration binds one request type to the function answering it.
type Registration struct {
	requestType reflect.Type
	handle      func(ctx context.Context, req any) (any, error)
}

// Bind ties a handler to the request type it accepts.
// The compiler checks that the handler's response matches the one the request yields.
func Bind[Req chat.Request[Resp], Resp any](handle func(ctx context.Context, req Req) (Resp, error)) Registration {
	return Registration{
		requestType: reflect.TypeFor[Req](),
		handle: func(ctx context.Context, req any) (any, error) {
			return handle(ctx, req.(Req))
		},
	}
}

// Dispatcher routes each request to its single handler.
// The table is frozen by NewDispatcher and only read afterwards.
type Dispatcher struct {
	log      *slog.Logger
	handlers map[reflect.Type]Registration
	strict   bool
}

type DispatcherOption func(*Dispatcher)

// WithStrictMode makes a missing handler panic instead of returning an error.
func WithStrictMode(strict bool) DispatcherOption {
	return func(d *Dispatcher) { d.strict = strict }
}

func NewDispatcher(log *slog.Logger, registrations []Registration, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		log:      log,
		handlers: make(map[reflect.Type]Registration, len(registrations)),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, r := range registrations {
		if r.requestType == nil || r.handle == nil {
			return nil, fmt.Errorf("%w: empty registration", errors.ErrHandlerNotFound)
		}
		if _, exists := d.handlers[r.requestType]; exists {
			return nil, fmt.Errorf("%w: %s", errors.ErrDuplicateHandler, r.requestType)
		}
		d.handlers[r.requestType] = r
	}
	return d, nil
}

// Require fails unless every listed request type has a handler.
// Called once at startup so a missing binding stops the process before traffic arrives.
func (d *Dispatcher) Require(types ...reflect.Type) error {
	var missing []string
	for _, t := range types {
		if _, ok := d.handlers[t]; !ok {
			missing = append(missing, t.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", errors.ErrHandlerNotFound, missing)
	}
	return nil
}

func (d *Dispatcher) Len() int {
	return len(d.handlers)
}

// Send invokes the handler registered for req and hands back its result untouched.
// The only error Send produces itself is ErrHandlerNotFound.
func Send[Resp any](ctx context.Context, d *Dispatcher, req chat.Request[Resp]) (Resp, error) {
	var zero Resp
	reqType := reflect.TypeOf(req)
	r, ok := d.handlers[reqType]
	if !ok {
		err := fmt.Errorf("%w: handler for type %s not found", errors.ErrHandlerNotFound, reqType)
		d.log.Error("Dispatch failed", "request", fmt.Sprint(reqType), "error", err)
		if d.strict {
			panic(err)
		}
		return zero, err
	}

	out, err := r.handle(ctx, req)
	if err != nil {
		return zero, err
	}
	resp, ok := out.(Resp)
	if !ok {
		return zero, fmt.Errorf("%w: %T for %s", errors.ErrUnexpectedResponse, out, reqType)
	}
	return resp, nil
}
