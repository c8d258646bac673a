package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const principalKey contextKey = "principal"

// principalHeader carries the acting principal when token auth is disabled.
const principalHeader = "X-Principal"

// WrapWithAuth resolves the acting principal for every request. With a
// non-empty token table the Authorization bearer token is mapped to its
// principal and unknown tokens are rejected; without one the principal is
// taken from the X-Principal header. Health and metrics endpoints are
// always open.
func WrapWithAuth(next http.Handler, tokens map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if len(tokens) == 0 {
			principal := strings.TrimSpace(r.Header.Get(principalHeader))
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
			return
		}

		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, errMissingBearer)
			return
		}
		principal, ok := tokens[parts[1]]
		if !ok {
			writeError(w, http.StatusUnauthorized, errUnknownToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

var (
	errMissingBearer = authError("missing or malformed bearer token")
	errUnknownToken  = authError("unknown token")
)

type authError string

func (e authError) Error() string { return string(e) }

func withPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// principalFrom returns the authenticated principal for the request.
func principalFrom(r *http.Request) string {
	if principal, ok := r.Context().Value(principalKey).(string); ok {
		return principal
	}
	return strings.TrimSpace(r.Header.Get(principalHeader))
}
