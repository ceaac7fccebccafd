package middleware

import (
	"net/http"

	"github.com/jrschumacher/wheelcheck/internal/tokenverify"
)

// TestUserContextMiddleware creates a fake user context for testing
func TestUserContextMiddleware(subject string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userCtx := &UserContext{
				Subject: subject,
				Claims:  tokenverify.Claims{"sub": subject},
			}
			next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), userCtx)))
		})
	}
}

// TestProtectedChain is like ProtectedAPIGroup's stack but skips token
// verification
func TestProtectedChain(subject string) *Chain {
	return NewChain(
		TestUserContextMiddleware(subject),
		RequireUserContext,
	)
}
