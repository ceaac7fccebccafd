package app

import (
	"net/http"

	"github.com/jrschumacher/wheelcheck/internal/httputil"
	"github.com/jrschumacher/wheelcheck/internal/middleware"
	"github.com/jrschumacher/wheelcheck/internal/tokenverify"
)

// MeResponse describes the authenticated caller.
type MeResponse struct {
	Subject string             `json:"sub"`
	Claims  tokenverify.Claims `json:"claims"`
}

// MeHandler echoes the verified claims of the caller
func (r *Router) MeHandler(w http.ResponseWriter, req *http.Request) {
	userCtx, ok := middleware.GetUserContext(req)
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	httputil.WriteSuccess(w, MeResponse{Subject: userCtx.Subject, Claims: userCtx.Claims})
}
