package middleware

import (
	"net/http"
)

// RouteGroup represents a group of routes with common middleware
type RouteGroup struct {
	mux   *http.ServeMux
	chain *Chain
}

// NewRouteGroup creates a new route group with optional middleware
func NewRouteGroup(mux *http.ServeMux, middlewares ...Middleware) *RouteGroup {
	return &RouteGroup{
		mux:   mux,
		chain: NewChain(middlewares...),
	}
}

// Handle registers a handler with the group's middleware stack
func (rg *RouteGroup) Handle(pattern string, handler http.Handler) {
	rg.mux.Handle(pattern, rg.chain.Then(handler))
}

// HandleFunc registers a handler function with the group's middleware stack
func (rg *RouteGroup) HandleFunc(pattern string, handlerFunc http.HandlerFunc) {
	rg.Handle(pattern, handlerFunc)
}

// Group creates a sub-group with additional middleware
func (rg *RouteGroup) Group(middlewares ...Middleware) *RouteGroup {
	return &RouteGroup{
		mux:   rg.mux,
		chain: rg.chain.Append(middlewares...),
	}
}

// RawGroup creates a route group with no middleware (probes, metrics)
func RawGroup(mux *http.ServeMux) *RouteGroup {
	return NewRouteGroup(mux)
}

// ProtectedAPIGroup creates a route group whose handlers only run for
// requests carrying a verified bearer token
func ProtectedAPIGroup(mux *http.ServeMux, verifier TokenVerifier) *RouteGroup {
	return NewRouteGroup(mux,
		BearerAuth(verifier),
		RequireUserContext,
	)
}
