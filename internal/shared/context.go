package shared

import (
	"context"

	"github.com/google/uuid"
)

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context. It returns nil
// outside the session middleware.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ActorFromContext returns the signed-in user recorded on audit entries, or
// uuid.Nil for anonymous requests.
func ActorFromContext(ctx context.Context) uuid.UUID {
	id, _ := SessionFromContext(ctx).UserID()
	return id
}
