package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"
)

// CORS allows browser calls from origins. A "*" entry allows any origin
// without credentials; explicit origins also get credentials.
func CORS(origins []string) Middleware {
	wildcard := len(origins) == 0 || slices.Contains(origins, "*")
	if wildcard {
		origins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		// Preflight header names are compared in lowercase, as browsers send them.
		AllowedHeaders:   []string{"Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, "WWW-Authenticate"},
		AllowCredentials: !wildcard,
		MaxAge:           600,
	})
	return c.Handler
}
