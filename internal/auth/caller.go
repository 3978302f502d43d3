package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type Kind string

const (
	KindOperator Kind = "operator"
	KindSystem   Kind = "system"
)

// Caller is the identity an entry point runs on behalf of.
type Caller struct {
	ID   string
	Kind Kind
}

// System is used by scheduled runs.
var System = Caller{ID: "scheduler", Kind: KindSystem}

type ctxKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxKey{}).(Caller)
	if !ok || c.ID == "" {
		return Caller{}, false
	}
	return c, true
}

// APIKey authenticates operators by a shared key sent either as
// "Authorization: Bearer <key>" or "X-API-Key: <key>".
type APIKey struct {
	key []byte
}

func NewAPIKey(key string) *APIKey {
	return &APIKey{key: []byte(key)}
}

// Authenticate returns the operator caller for a request carrying the key.
func (a *APIKey) Authenticate(r *http.Request) (Caller, bool) {
	if a == nil || len(a.key) == 0 {
		return Caller{}, false
	}

	presented := r.Header.Get("X-API-Key")
	if presented == "" {
		h := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			presented = strings.TrimSpace(token)
		}
	}
	if presented == "" {
		return Caller{}, false
	}

	if subtle.ConstantTimeCompare([]byte(presented), a.key) != 1 {
		return Caller{}, false
	}
	return Caller{ID: "api-key", Kind: KindOperator}, true
}
