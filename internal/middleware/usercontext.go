package middleware

import (
	"context"
	"net/http"

	"github.com/jrschumacher/wheelcheck/internal/httputil"
	"github.com/jrschumacher/wheelcheck/internal/tokenverify"
)

// UserContext holds the verified identity of the caller
type UserContext struct {
	Subject string
	Claims  tokenverify.Claims
}

type contextKey string

const userContextKey contextKey = "user"

// WithUserContext returns ctx carrying userCtx
func WithUserContext(ctx context.Context, userCtx *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, userCtx)
}

// GetUserContext extracts user context from request context
func GetUserContext(r *http.Request) (*UserContext, bool) {
	userCtx, ok := r.Context().Value(userContextKey).(*UserContext)
	return userCtx, ok && userCtx != nil
}

// RequireUserContext rejects requests without a subject. Tokens may verify
// yet carry no "sub"; such callers cannot own data.
func RequireUserContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userCtx, ok := GetUserContext(r)
		if !ok || userCtx.Subject == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+realm+`", error="invalid_token", error_description="token has no subject"`)
			httputil.WriteErrorCode(w, http.StatusUnauthorized, string(tokenverify.ReasonTokenInvalid), "token has no subject")
			return
		}
		next.ServeHTTP(w, r)
	})
}
