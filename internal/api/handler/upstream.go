package handler

import (
	"net/http"
	"strings"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
	"github.com/bcnelson/traefik-route-manager/internal/validation"
)

// UpstreamHandler handles upstream endpoints.
type UpstreamHandler struct {
	store      storage.Storage
	reconciler Reconciler
}

// NewUpstreamHandler creates a new UpstreamHandler.
func NewUpstreamHandler(store storage.Storage, reconciler Reconciler) *UpstreamHandler {
	return &UpstreamHandler{store: store, reconciler: reconciler}
}

// Create creates a new upstream.
func (h *UpstreamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUpstreamRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	up := &domain.Upstream{
		Name:                strings.TrimSpace(req.Name),
		TargetURL:           req.TargetURL,
		Active:              boolOr(req.Active, true),
		HealthCheckPath:     req.HealthCheckPath,
		HealthCheckInterval: req.HealthCheckInterval,
	}

	if errs := validation.ValidateUpstream(up); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	if err := h.store.CreateUpstream(r.Context(), up); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusCreated, up, h.reconciler)
}

// List lists all upstreams.
func (h *UpstreamHandler) List(w http.ResponseWriter, r *http.Request) {
	ups, err := h.store.ListUpstreams(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ups)
}

// Get gets an upstream by ID.
func (h *UpstreamHandler) Get(w http.ResponseWriter, r *http.Request) {
	up, ok := h.load(w, r)
	if !ok {
		return
	}

	setUpstreamETag(w, up)
	respondJSON(w, http.StatusOK, up)
}

// Update updates an upstream.
func (h *UpstreamHandler) Update(w http.ResponseWriter, r *http.Request) {
	up, ok := h.load(w, r)
	if !ok {
		return
	}
	if !checkUpstreamIfMatch(w, r, up) {
		return
	}

	var req domain.UpdateUpstreamRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		up.Name = strings.TrimSpace(*req.Name)
	}
	if req.TargetURL != nil {
		up.TargetURL = *req.TargetURL
	}
	if req.Active != nil {
		up.Active = *req.Active
	}
	if req.HealthCheckPath != nil {
		up.HealthCheckPath = *req.HealthCheckPath
	}
	if req.HealthCheckInterval != nil {
		up.HealthCheckInterval = *req.HealthCheckInterval
	}

	if errs := validation.ValidateUpstream(up); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	if err := h.store.UpdateUpstream(r.Context(), up); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusOK, up, h.reconciler)
}

// Delete deletes an upstream. Upstreams still referenced by a rule are rejected.
func (h *UpstreamHandler) Delete(w http.ResponseWriter, r *http.Request) {
	up, ok := h.load(w, r)
	if !ok {
		return
	}
	if !checkUpstreamIfMatch(w, r, up) {
		return
	}

	if err := h.store.DeleteUpstream(r.Context(), up.ID); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusNoContent, nil, h.reconciler)
}

func (h *UpstreamHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Upstream, bool) {
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "id must be a positive integer")
		return nil, false
	}
	up, err := h.store.GetUpstream(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return nil, false
	}
	return up, true
}
