package handler

import (
	"net/http"
	"strings"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
	"github.com/bcnelson/traefik-route-manager/internal/validation"
)

// DomainHandler handles domain endpoints.
type DomainHandler struct {
	store      storage.Storage
	reconciler Reconciler
}

// NewDomainHandler creates a new DomainHandler.
func NewDomainHandler(store storage.Storage, reconciler Reconciler) *DomainHandler {
	return &DomainHandler{store: store, reconciler: reconciler}
}

// Create creates a new domain.
func (h *DomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDomainRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d := &domain.Domain{
		Name:                strings.ToLower(strings.TrimSpace(req.Name)),
		Active:              boolOr(req.Active, true),
		AutoTLS:             req.AutoTLS,
		ForceHTTPS:          boolOr(req.ForceHTTPS, true),
		BlockExternalAccess: req.BlockExternalAccess,
		WWWRedirect:         req.WWWRedirect,
		WWWRedirectType:     req.WWWRedirectType,
		SecurityHeaders:     domain.HeaderMap(req.SecurityHeaders),
		BindIP:              req.BindIP,
	}
	if d.WWWRedirect && d.WWWRedirectType == "" {
		d.WWWRedirectType = domain.WWWToNonWWW
	}

	if errs := validation.ValidateDomain(d); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	if err := h.store.CreateDomain(r.Context(), d); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusCreated, d, h.reconciler)
}

// List lists all domains.
func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	domains, err := h.store.ListDomains(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, domains)
}

// Get gets a domain by ID.
func (h *DomainHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "domain_id")
	if !ok {
		respondError(w, http.StatusBadRequest, "domain_id must be a positive integer")
		return
	}

	d, err := h.store.GetDomain(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	setDomainETag(w, d)
	respondJSON(w, http.StatusOK, d)
}

// Update updates a domain.
func (h *DomainHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "domain_id")
	if !ok {
		respondError(w, http.StatusBadRequest, "domain_id must be a positive integer")
		return
	}

	d, err := h.store.GetDomain(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	if !checkDomainIfMatch(w, r, d) {
		return
	}

	var req domain.UpdateDomainRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		d.Name = strings.ToLower(strings.TrimSpace(*req.Name))
	}
	if req.Active != nil {
		d.Active = *req.Active
	}
	if req.AutoTLS != nil {
		d.AutoTLS = *req.AutoTLS
	}
	if req.ForceHTTPS != nil {
		d.ForceHTTPS = *req.ForceHTTPS
	}
	if req.BlockExternalAccess != nil {
		d.BlockExternalAccess = *req.BlockExternalAccess
	}
	if req.WWWRedirect != nil {
		d.WWWRedirect = *req.WWWRedirect
	}
	if req.WWWRedirectType != nil {
		d.WWWRedirectType = *req.WWWRedirectType
	}
	if d.WWWRedirect && d.WWWRedirectType == "" {
		d.WWWRedirectType = domain.WWWToNonWWW
	}
	if req.SecurityHeaders != nil {
		d.SecurityHeaders = domain.HeaderMap(*req.SecurityHeaders)
	}
	if req.BindIP != nil {
		d.BindIP = *req.BindIP
	}

	if errs := validation.ValidateDomain(d); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	if err := h.store.UpdateDomain(r.Context(), d); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusOK, d, h.reconciler)
}

// Delete deletes a domain and everything attached to it.
func (h *DomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "domain_id")
	if !ok {
		respondError(w, http.StatusBadRequest, "domain_id must be a positive integer")
		return
	}

	d, err := h.store.GetDomain(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	if !checkDomainIfMatch(w, r, d) {
		return
	}

	if err := h.store.DeleteDomain(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusNoContent, nil, h.reconciler)
}

// loadDomain resolves the {domain_id} parameter shared by nested routes.
func loadDomain(w http.ResponseWriter, r *http.Request, store storage.Storage) (*domain.Domain, bool) {
	id, ok := parseID(r, "domain_id")
	if !ok {
		respondError(w, http.StatusBadRequest, "domain_id must be a positive integer")
		return nil, false
	}
	d, err := store.GetDomain(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return nil, false
	}
	return d, true
}
