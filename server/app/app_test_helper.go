package app

import (
	"net/http"
	"testing"

	"github.com/jrschumacher/wheelcheck/internal/config"
	"github.com/jrschumacher/wheelcheck/internal/db"
	"github.com/jrschumacher/wheelcheck/internal/middleware"
	"github.com/jrschumacher/wheelcheck/internal/repository"
	"github.com/jrschumacher/wheelcheck/internal/svrlib"
)

// RegisterTestRoutes registers routes with test middleware for testing
func RegisterTestRoutes(mux *http.ServeMux, baseRoute string, cfg *config.Config, dbService *db.Service, testSubject string) *Router {
	router := &Router{
		Router: svrlib.NewRouter(mux, baseRoute, cfg),
		repo:   repository.NewRepository(dbService),
	}
	router.register(middleware.NewRouteGroup(mux, middleware.TestUserContextMiddleware(testSubject), middleware.RequireUserContext))
	return router
}

// CreateTestServer creates a mux with test routes under /api
func CreateTestServer(t *testing.T, dbService *db.Service, testSubject string) *http.ServeMux {
	t.Helper()

	cfg := &config.Config{
		AppEnv:      config.EnvTest,
		DatabaseURL: ":memory:",
	}

	mux := http.NewServeMux()
	RegisterTestRoutes(mux, "/api", cfg, dbService, testSubject)

	return mux
}
