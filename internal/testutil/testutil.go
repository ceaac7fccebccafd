package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrschumacher/wheelcheck/internal/config"
	"github.com/jrschumacher/wheelcheck/internal/db"
)

// TestDatabase creates a migrated in-memory SQLite database for testing
func TestDatabase(t *testing.T) *db.Service {
	t.Helper()

	cfg := &config.Config{
		DatabaseURL: ":memory:",
		AppEnv:      config.EnvTest,
	}

	dbService, err := db.NewService(cfg)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if err := dbService.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})

	if err := dbService.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return dbService
}

// TestServer creates a test HTTP server for handler
func TestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return server
}

// Ptr returns a pointer to v, for optional input fields.
func Ptr[T any](v T) *T {
	return &v
}
