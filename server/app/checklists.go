package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jrschumacher/wheelcheck/internal/httputil"
	"github.com/jrschumacher/wheelcheck/internal/middleware"
	"github.com/jrschumacher/wheelcheck/internal/repository"
	"github.com/jrschumacher/wheelcheck/internal/validation"
)

// ListChecklistsHandler lists the caller's checklists, newest first
func (r *Router) ListChecklistsHandler(w http.ResponseWriter, req *http.Request) {
	userCtx, ok := requireUser(w, req)
	if !ok {
		return
	}

	q := req.URL.Query()
	params := repository.ListParams{
		From: q.Get("from"),
		To:   q.Get("to"),
	}
	var err error
	if params.Limit, err = intParam(q.Get("limit")); err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "invalid_query", "limit must be a non-negative integer")
		return
	}
	if params.Offset, err = intParam(q.Get("offset")); err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "invalid_query", "offset must be a non-negative integer")
		return
	}

	list, err := r.repo.Checklists().List(req.Context(), userCtx.Subject, params)
	if err != nil {
		writeRepoError(w, req, err, "Failed to list checklists")
		return
	}
	httputil.WriteSuccess(w, list)
}

// UpsertChecklistHandler creates or replaces the checklist for a trade date
func (r *Router) UpsertChecklistHandler(w http.ResponseWriter, req *http.Request) {
	userCtx, ok := requireUser(w, req)
	if !ok {
		return
	}
	in, ok := decodeInput(w, req)
	if !ok {
		return
	}

	c, err := r.repo.Checklists().Upsert(req.Context(), userCtx.Subject, in)
	if err != nil {
		writeRepoError(w, req, err, "Failed to save checklist")
		return
	}
	httputil.WriteSuccess(w, c)
}

// GetChecklistHandler returns one checklist by id
func (r *Router) GetChecklistHandler(w http.ResponseWriter, req *http.Request) {
	userCtx, ok := requireUser(w, req)
	if !ok {
		return
	}
	id, ok := pathID(w, req)
	if !ok {
		return
	}

	c, err := r.repo.Checklists().Get(req.Context(), userCtx.Subject, id)
	if err != nil {
		writeRepoError(w, req, err, "Failed to get checklist")
		return
	}
	httputil.WriteSuccess(w, c)
}

// GetChecklistByDateHandler returns the checklist for a trade date
func (r *Router) GetChecklistByDateHandler(w http.ResponseWriter, req *http.Request) {
	userCtx, ok := requireUser(w, req)
	if !ok {
		return
	}

	c, err := r.repo.Checklists().GetByDate(req.Context(), userCtx.Subject, req.PathValue("date"))
	if err != nil {
		writeRepoError(w, req, err, "Failed to get checklist")
		return
	}
	httputil.WriteSuccess(w, c)
}

// UpdateChecklistHandler replaces a checklist by id
func (r *Router) UpdateChecklistHandler(w http.ResponseWriter, req *http.Request) {
	userCtx, ok := requireUser(w, req)
	if !ok {
		return
	}
	id, ok := pathID(w, req)
	if !ok {
		return
	}
	in, ok := decodeInput(w, req)
	if !ok {
		return
	}

	c, err := r.repo.Checklists().Update(req.Context(), userCtx.Subject, id, in)
	if err != nil {
		writeRepoError(w, req, err, "Failed to update checklist")
		return
	}
	httputil.WriteSuccess(w, c)
}

// DeleteChecklistHandler removes a checklist by id
func (r *Router) DeleteChecklistHandler(w http.ResponseWriter, req *http.Request) {
	userCtx, ok := requireUser(w, req)
	if !ok {
		return
	}
	id, ok := pathID(w, req)
	if !ok {
		return
	}

	if err := r.repo.Checklists().Delete(req.Context(), userCtx.Subject, id); err != nil {
		writeRepoError(w, req, err, "Failed to delete checklist")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MetricsPreviewHandler summarises the latest checklist on or before ?date
// (default: today, UTC)
func (r *Router) MetricsPreviewHandler(w http.ResponseWriter, req *http.Request) {
	userCtx, ok := requireUser(w, req)
	if !ok {
		return
	}
	date := req.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format(repository.DateLayout)
	}

	p, err := r.repo.Checklists().MetricsPreview(req.Context(), userCtx.Subject, date)
	if err != nil {
		writeRepoError(w, req, err, "Failed to build metrics preview")
		return
	}
	httputil.WriteSuccess(w, p)
}

func requireUser(w http.ResponseWriter, req *http.Request) (*middleware.UserContext, bool) {
	userCtx, ok := middleware.GetUserContext(req)
	if !ok || userCtx.Subject == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return userCtx, true
}

func decodeInput(w http.ResponseWriter, req *http.Request) (repository.ChecklistInput, bool) {
	var in repository.ChecklistInput
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "invalid_json", "Invalid JSON in request body")
		return in, false
	}

	if err := validation.Struct(in); err != nil {
		var ve validation.Errors
		if errors.As(err, &ve) {
			httputil.WriteValidationError(w, ve)
		} else {
			httputil.WriteInternalError(w, err, "Failed to validate request")
		}
		return in, false
	}
	return in, true
}

func pathID(w http.ResponseWriter, req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteErrorCode(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}

func writeRepoError(w http.ResponseWriter, req *http.Request, err error, message string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		httputil.WriteErrorCode(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, repository.ErrConflict):
		httputil.WriteErrorCode(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, repository.ErrInvalidInput):
		httputil.WriteErrorCode(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		httputil.WriteInternalError(w, err, message, "request_id", middleware.GetRequestID(req.Context()))
	}
}
