// Package admin exposes lock inspection and recovery over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
)

// Locks is the subset of lock.Manager the handler needs.
type Locks interface {
	IsLocked(ctx context.Context, key string) (bool, error)
	ForceRelease(ctx context.Context, key string) error
}

// Status is the response body of a lock lookup.
type Status struct {
	Key    string `json:"key"`
	Locked bool   `json:"locked"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// NewHandler returns a router with
//
//	GET    /locks/{key}  report whether key is locked
//	DELETE /locks/{key}  force release key, ignoring the owner
//	GET    /openapi.json OpenAPI document for the routes above
//
// The DELETE route breaks mutual exclusion for a live holder; mount it
// behind whatever authentication the deployment uses for operators.
func NewHandler(locks Locks) http.Handler {
	h := &handler{locks: locks}

	r := chi.NewRouter()
	r.Get("/locks/{key}", h.status)
	r.Delete("/locks/{key}", h.forceRelease)
	r.Get("/openapi.json", h.openapi)
	return r
}

type handler struct {
	locks Locks
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	locked, err := h.locks.IsLocked(r.Context(), key)
	if err != nil {
		h.fail(w, r, err, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, Status{Key: key, Locked: locked})
}

func (h *handler) forceRelease(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.locks.ForceRelease(r.Context(), key); err != nil {
		h.fail(w, r, err, "force release failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) openapi(w http.ResponseWriter, r *http.Request) {
	spec, err := Spec()
	if err != nil {
		h.fail(w, r, err, "openapi document failed")
		return
	}

	writeJSON(w, http.StatusOK, spec)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logr.FromContextOrDiscard(r.Context()).Error(err, "admin: "+msg, "key", chi.URLParam(r, "key"))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
