package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrschumacher/wheelcheck/internal/httputil"
	"github.com/jrschumacher/wheelcheck/internal/tokenverify"
)

// TokenVerifier is satisfied by *tokenverify.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (tokenverify.Claims, error)
}

const realm = "wheelcheck"

// BearerAuth verifies the Authorization bearer token and stores the
// resulting claims in the request context. Rejections never reach next.
func BearerAuth(verifier TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.Verify(r.Context(), bearerToken(r))
			if err != nil {
				writeAuthError(w, r, err)
				return
			}

			userCtx := &UserContext{Subject: claims.Subject(), Claims: claims}
			log := LoggerFrom(r.Context()).With("sub", userCtx.Subject)
			ctx := withLogger(WithUserContext(r.Context(), userCtx), log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the credential of an "Authorization: Bearer" header,
// or "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// StatusFor maps a verification failure to an HTTP status.
func StatusFor(err error) int {
	if tokenverify.IsClientError(err) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	log := LoggerFrom(r.Context())
	reason := tokenverify.ReasonOf(err)
	status := StatusFor(err)

	if status == http.StatusInternalServerError {
		log.Error("Token verification unavailable", "reason", reason, "error", err, "cause", errors.Unwrap(err))
		httputil.WriteErrorCode(w, status, string(reason), "authentication is not available")
		return
	}

	var ve *tokenverify.Error
	detail := err.Error()
	if errors.As(err, &ve) && ve.Detail != "" {
		detail = ve.Detail
	}
	log.Info("Rejected bearer token", "reason", reason, "detail", detail, "cause", errors.Unwrap(err))

	if reason == tokenverify.ReasonMissingCredential {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q`, realm))
	} else {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q, error="invalid_token", error_description=%q`, realm, detail))
	}
	httputil.WriteErrorCode(w, status, string(reason), detail)
}
