package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-order-ledger/internal/identity"
)

type Resolver interface {
	Resolve(token string) (identity.Principal, error)
}

type principalKey struct{}

// Authenticate resolves a bearer token into a Principal on the request
// context. Requests without a token pass through anonymous; a bad token is
// rejected here.
func Authenticate(res Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(h, "Bearer ")
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "bearer token required", Code: "UNAUTHORIZED"})
				return
			}
			p, err := res.Resolve(strings.TrimSpace(token))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "UNAUTHORIZED"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func WithPrincipal(ctx context.Context, p identity.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (identity.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(identity.Principal)
	return p, ok
}

// caller returns the authenticated principal or answers 401.
func caller(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required", Code: "UNAUTHORIZED"})
	}
	return p, ok
}
