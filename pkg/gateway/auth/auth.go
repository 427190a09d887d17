// Package auth carries the authenticated caller of the call-placement API
// through the request context. Keys are opaque bearer tokens issued to the
// order-management backend; there are no per-user identities.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal identifies an authenticated API client by the key it presented.
type Principal struct {
	APIKey string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts a bearer token from the Authorization header. The
// scheme is matched case-insensitively since telephony backends disagree on
// "Bearer" vs "bearer".
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
