// Package app provides the main application HTTP handlers
package app

import (
	"net/http"

	"github.com/jrschumacher/wheelcheck/internal/config"
	"github.com/jrschumacher/wheelcheck/internal/middleware"
	"github.com/jrschumacher/wheelcheck/internal/repository"
	"github.com/jrschumacher/wheelcheck/internal/svrlib"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Router handles application-specific HTTP routes
type Router struct {
	*svrlib.Router
	repo repository.Repository
}

// RegisterRoutes registers all application routes behind bearer
// authentication and returns a Router
func RegisterRoutes(mux *http.ServeMux, baseRoute string, cfg *config.Config, repo repository.Repository, verifier middleware.TokenVerifier) *Router {
	router := &Router{
		Router: svrlib.NewRouter(mux, baseRoute, cfg),
		repo:   repo,
	}
	router.register(middleware.ProtectedAPIGroup(mux, verifier))
	return router
}

func (r *Router) register(group *middleware.RouteGroup) {
	group.HandleFunc(r.Pattern(http.MethodGet, "/me"), r.MeHandler)

	group.HandleFunc(r.Pattern(http.MethodGet, "/checklists"), r.ListChecklistsHandler)
	group.HandleFunc(r.Pattern(http.MethodPost, "/checklists"), r.UpsertChecklistHandler)
	group.HandleFunc(r.Pattern(http.MethodGet, "/checklists/{id}"), r.GetChecklistHandler)
	group.HandleFunc(r.Pattern(http.MethodPut, "/checklists/{id}"), r.UpdateChecklistHandler)
	group.HandleFunc(r.Pattern(http.MethodDelete, "/checklists/{id}"), r.DeleteChecklistHandler)
	group.HandleFunc(r.Pattern(http.MethodGet, "/checklists/by-date/{date}"), r.GetChecklistByDateHandler)

	group.HandleFunc(r.Pattern(http.MethodGet, "/metrics/preview"), r.MetricsPreviewHandler)
}
