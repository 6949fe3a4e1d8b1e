package auth

import (
	"context"

	"github.com/mind-engage/quizmaker/internal/rbac"
)

type subjectKey struct{}

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, subjectKey{}, sub)
}

// SubjectFromContext returns the authenticated user id, or "" when the
// request carried no valid token.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// Identity is the caller as seen by handlers.
type Identity struct {
	Subject string `json:"user_id"`
	Role    string `json:"role"`
}

func IdentityFromContext(ctx context.Context) Identity {
	return Identity{Subject: SubjectFromContext(ctx), Role: rbac.RoleFromContext(ctx)}
}
