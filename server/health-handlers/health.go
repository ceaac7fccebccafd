package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jrschumacher/wheelcheck/internal/config"
	"github.com/jrschumacher/wheelcheck/internal/httputil"
	"github.com/jrschumacher/wheelcheck/internal/svrlib"
	"github.com/jrschumacher/wheelcheck/internal/tokenverify"
)

// Pinger is satisfied by *db.Service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthRouter serves liveness and readiness probes
type HealthRouter struct {
	*svrlib.Router
	db       Pinger
	verifier *tokenverify.Verifier
}

// ReadyResponse is the /readyz body.
type ReadyResponse struct {
	Status string                  `json:"status"`
	Checks map[string]string       `json:"checks"`
	JWKS   *tokenverify.CacheStats `json:"jwks,omitempty"`
}

// RegisterRoutes registers all health check routes on the given mux
func RegisterRoutes(mux *http.ServeMux, baseRoute string, cfg *config.Config, db Pinger, verifier *tokenverify.Verifier) {
	router := &HealthRouter{Router: svrlib.NewRouter(mux, baseRoute, cfg), db: db, verifier: verifier}
	mux.HandleFunc(router.Pattern(http.MethodGet, "/healthz"), router.HealthzHandler)
	mux.HandleFunc(router.Pattern(http.MethodGet, "/readyz"), router.ReadyzHandler)
}

// HealthzHandler responds to /healthz requests for health checks
func (rt *HealthRouter) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

// ReadyzHandler reports whether the database answers and an issuer is
// configured. It does not contact the issuer.
func (rt *HealthRouter) ReadyzHandler(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ok", Checks: map[string]string{}}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := rt.db.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Checks["database"] = err.Error()
	} else {
		resp.Checks["database"] = "ok"
	}

	if rt.verifier == nil || !rt.verifier.Configured() {
		resp.Status = "unavailable"
		resp.Checks["issuer"] = "not configured"
	} else {
		resp.Checks["issuer"] = "ok"
		stats := rt.verifier.Cache().Stats()
		resp.JWKS = &stats
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
