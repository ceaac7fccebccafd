// Package svrlib provides common server routing utilities
package svrlib

import (
	"net/http"
	"strings"

	"github.com/jrschumacher/wheelcheck/internal/config"
)

// Router wraps HTTP routing functionality with configuration
type Router struct {
	Config    *config.Config
	Mux       *http.ServeMux
	BaseRoute string
}

// NewRouter creates a new Router with the given mux, base route, and configuration
func NewRouter(mux *http.ServeMux, baseRoute string, cfg *config.Config) *Router {
	return &Router{Config: cfg, Mux: mux, BaseRoute: strings.TrimRight(baseRoute, "/")}
}

// Pattern builds a ServeMux pattern for path under the base route, e.g.
// Pattern("GET", "/items/{id}").
func (r *Router) Pattern(method, path string) string {
	p := r.BaseRoute + path
	if method == "" {
		return p
	}
	return method + " " + p
}
