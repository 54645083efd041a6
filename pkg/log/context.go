package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

type actorKey struct{}

// actor is filled in by auth middleware after the request logger was created,
// so the completion line can carry the authenticated user.
type actor struct {
	userID   string
	username string
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx retrieves the logger from the context.
// If no logger is found, the global logger is returned.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// WithConnection returns a context whose logger carries the connection and user ids.
func WithConnection(ctx context.Context, connectionID, userID string) context.Context {
	l := Ctx(ctx).With().
		Str(FieldConnectionID, connectionID).
		Str(FieldUserID, userID).
		Logger()
	return WithLogger(ctx, l)
}

// SetActor records the authenticated user on a request context created by HTTPMiddleware.
// It is a no-op for contexts that did not pass through the middleware.
func SetActor(ctx context.Context, userID, username string) {
	if a, ok := ctx.Value(actorKey{}).(*actor); ok {
		a.userID = userID
		a.username = username
	}
}

func withActorSlot(ctx context.Context) (context.Context, *actor) {
	a := &actor{}
	return context.WithValue(ctx, actorKey{}, a), a
}
