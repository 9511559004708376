package handler

import (
	"net/http"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
	"github.com/bcnelson/traefik-route-manager/internal/validation"
)

// RedirectRuleHandler handles redirect rule endpoints nested under a domain.
type RedirectRuleHandler struct {
	store      storage.Storage
	reconciler Reconciler
}

// NewRedirectRuleHandler creates a new RedirectRuleHandler.
func NewRedirectRuleHandler(store storage.Storage, reconciler Reconciler) *RedirectRuleHandler {
	return &RedirectRuleHandler{store: store, reconciler: reconciler}
}

// Create creates a new redirect rule.
func (h *RedirectRuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	d, ok := loadDomain(w, r, h.store)
	if !ok {
		return
	}

	var req domain.CreateRedirectRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rr := &domain.RedirectRule{
		DomainID:      d.ID,
		SourcePattern: req.SourcePattern,
		TargetURL:     req.TargetURL,
		Priority:      req.Priority,
		Active:        boolOr(req.Active, true),
		PreserveQuery: req.PreserveQuery,
		RedirectType:  req.RedirectType,
	}
	if rr.RedirectType == 0 {
		rr.RedirectType = domain.RedirectPermanent
	}

	if errs := validation.ValidateRedirectRule(rr); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	if err := h.store.CreateRedirectRule(r.Context(), rr); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusCreated, rr, h.reconciler)
}

// List lists all redirect rules of a domain in priority order.
func (h *RedirectRuleHandler) List(w http.ResponseWriter, r *http.Request) {
	d, ok := loadDomain(w, r, h.store)
	if !ok {
		return
	}

	redirects, err := h.store.ListRedirectRules(r.Context(), d.ID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, redirects)
}

// Get gets a redirect rule by ID.
func (h *RedirectRuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	rr, ok := h.load(w, r)
	if !ok {
		return
	}

	setRedirectETag(w, rr)
	respondJSON(w, http.StatusOK, rr)
}

// Update updates a redirect rule.
func (h *RedirectRuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	rr, ok := h.load(w, r)
	if !ok {
		return
	}
	if !checkRedirectIfMatch(w, r, rr) {
		return
	}

	var req domain.UpdateRedirectRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SourcePattern != nil {
		rr.SourcePattern = *req.SourcePattern
	}
	if req.TargetURL != nil {
		rr.TargetURL = *req.TargetURL
	}
	if req.Priority != nil {
		rr.Priority = *req.Priority
	}
	if req.Active != nil {
		rr.Active = *req.Active
	}
	if req.PreserveQuery != nil {
		rr.PreserveQuery = *req.PreserveQuery
	}
	if req.RedirectType != nil {
		rr.RedirectType = *req.RedirectType
	}

	if errs := validation.ValidateRedirectRule(rr); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	if err := h.store.UpdateRedirectRule(r.Context(), rr); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusOK, rr, h.reconciler)
}

// Delete deletes a redirect rule.
func (h *RedirectRuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rr, ok := h.load(w, r)
	if !ok {
		return
	}
	if !checkRedirectIfMatch(w, r, rr) {
		return
	}

	if err := h.store.DeleteRedirectRule(r.Context(), rr.ID); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusNoContent, nil, h.reconciler)
}

func (h *RedirectRuleHandler) load(w http.ResponseWriter, r *http.Request) (*domain.RedirectRule, bool) {
	d, ok := loadDomain(w, r, h.store)
	if !ok {
		return nil, false
	}
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "id must be a positive integer")
		return nil, false
	}

	rr, err := h.store.GetRedirectRule(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return nil, false
	}
	if rr.DomainID != d.ID {
		handleError(w, domain.ErrNotFound)
		return nil, false
	}
	return rr, true
}
