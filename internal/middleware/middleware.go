package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/jrschumacher/wheelcheck/internal/httputil"
)

// Recover turns a handler panic into a 500 response
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				LoggerFrom(r.Context()).Error("Handler panicked", "panic", p, "stack", string(debug.Stack()))
				httputil.WriteInternalError(w, fmt.Errorf("panic: %v", p), "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
