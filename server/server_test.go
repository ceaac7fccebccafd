package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jrschumacher/wheelcheck/internal/config"
	"github.com/jrschumacher/wheelcheck/internal/metrics"
	"github.com/jrschumacher/wheelcheck/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, iss *testutil.Issuer) (http.Handler, *metrics.Metrics) {
	t.Helper()
	cfg := &config.Config{AppEnv: config.EnvTest, AllowedOrigins: "*"}
	if iss != nil {
		cfg.AuthIssuer = iss.URL()
	}
	m := metrics.New()
	h := NewHandler(Deps{
		Config:   cfg,
		DB:       testutil.TestDatabase(t),
		Verifier: NewVerifier(cfg, m),
		Metrics:  m,
	})
	return h, m
}

func request(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_EndToEnd(t *testing.T) {
	iss := testutil.NewIssuer(t)
	h, _ := newTestHandler(t, iss)

	rec := request(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = request(h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = request(h, http.MethodGet, "/api/me", iss.Sign(t, iss.Claims("user_e2e")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"sub":"user_e2e"`)

	rec = request(h, http.MethodGet, "/api/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = request(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `wheelcheck_token_verifications_total{result="ok"} 1`)
	assert.Contains(t, body, `wheelcheck_token_verifications_total{result="missing_credential"} 1`)
	assert.Contains(t, body, `wheelcheck_jwks_fetch_total{result="ok"} 1`)
	assert.True(t, strings.Contains(body, `route="GET /api/me"`))
}

func TestHandler_UnconfiguredIssuer(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := request(h, http.MethodGet, "/api/checklists", "a.b.c")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = request(h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
