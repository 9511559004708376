package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
	"github.com/bcnelson/traefik-route-manager/internal/validation"
)

// ProxyRuleHandler handles proxy rule endpoints nested under a domain.
type ProxyRuleHandler struct {
	store      storage.Storage
	reconciler Reconciler
}

// NewProxyRuleHandler creates a new ProxyRuleHandler.
func NewProxyRuleHandler(store storage.Storage, reconciler Reconciler) *ProxyRuleHandler {
	return &ProxyRuleHandler{store: store, reconciler: reconciler}
}

// Create creates a new proxy rule.
func (h *ProxyRuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	d, ok := loadDomain(w, r, h.store)
	if !ok {
		return
	}

	var req domain.CreateProxyRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule := &domain.ProxyRule{
		DomainID:             d.ID,
		PathPattern:          req.PathPattern,
		SourcePort:           req.SourcePort,
		HTTPMethod:           validation.NormalizeMethod(req.HTTPMethod),
		TargetURL:            req.TargetURL,
		UpstreamID:           req.UpstreamID,
		Priority:             req.Priority,
		Active:               boolOr(req.Active, true),
		StripPrefix:          req.StripPrefix,
		MaintainQueryStrings: boolOr(req.MaintainQueryStrings, true),
	}

	if !h.validate(w, r, rule) {
		return
	}

	if err := h.store.CreateProxyRule(r.Context(), rule); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusCreated, rule, h.reconciler)
}

// List lists all proxy rules of a domain in priority order.
func (h *ProxyRuleHandler) List(w http.ResponseWriter, r *http.Request) {
	d, ok := loadDomain(w, r, h.store)
	if !ok {
		return
	}

	rules, err := h.store.ListProxyRules(r.Context(), d.ID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rules)
}

// Get gets a proxy rule by ID.
func (h *ProxyRuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.load(w, r)
	if !ok {
		return
	}

	setRuleETag(w, rule)
	respondJSON(w, http.StatusOK, rule)
}

// Update updates a proxy rule. Locked rules are rejected.
func (h *ProxyRuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.load(w, r)
	if !ok {
		return
	}
	if rule.Locked {
		handleError(w, domain.ErrLocked)
		return
	}
	if !checkRuleIfMatch(w, r, rule) {
		return
	}

	var req domain.UpdateProxyRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.PathPattern != nil {
		rule.PathPattern = *req.PathPattern
	}
	if req.ClearSourcePort {
		rule.SourcePort = nil
	} else if req.SourcePort != nil {
		rule.SourcePort = req.SourcePort
	}
	if req.HTTPMethod != nil {
		rule.HTTPMethod = validation.NormalizeMethod(*req.HTTPMethod)
	}
	if req.TargetURL != nil {
		rule.TargetURL = *req.TargetURL
	}
	if req.ClearUpstream {
		rule.UpstreamID = nil
	} else if req.UpstreamID != nil {
		rule.UpstreamID = req.UpstreamID
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.StripPrefix != nil {
		rule.StripPrefix = *req.StripPrefix
	}
	if req.MaintainQueryStrings != nil {
		rule.MaintainQueryStrings = *req.MaintainQueryStrings
	}

	if !h.validate(w, r, rule) {
		return
	}

	if err := h.store.UpdateProxyRule(r.Context(), rule); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusOK, rule, h.reconciler)
}

// Delete deletes a proxy rule. Locked rules are rejected.
func (h *ProxyRuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.load(w, r)
	if !ok {
		return
	}
	if rule.Locked {
		handleError(w, domain.ErrLocked)
		return
	}
	if !checkRuleIfMatch(w, r, rule) {
		return
	}

	if err := h.store.DeleteProxyRule(r.Context(), rule.ID); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusNoContent, nil, h.reconciler)
}

// Lock marks a rule as locked against edits.
func (h *ProxyRuleHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, true)
}

// Unlock clears the locked flag.
func (h *ProxyRuleHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, false)
}

// setLocked changes the locked flag and regenerates.
func (h *ProxyRuleHandler) setLocked(w http.ResponseWriter, r *http.Request, locked bool) {
	rule, ok := h.load(w, r)
	if !ok {
		return
	}

	if rule.Locked != locked {
		rule.Locked = locked
		if err := h.store.UpdateProxyRule(r.Context(), rule); err != nil {
			handleError(w, err)
			return
		}
		log.Info().
			Int64("rule_id", rule.ID).
			Int64("domain_id", rule.DomainID).
			Bool("locked", locked).
			Msg("Proxy rule lock changed")
	}

	respondMutation(w, r, http.StatusOK, rule, h.reconciler)
}

// load resolves {domain_id}/{id} and checks the rule belongs to the domain.
func (h *ProxyRuleHandler) load(w http.ResponseWriter, r *http.Request) (*domain.ProxyRule, bool) {
	d, ok := loadDomain(w, r, h.store)
	if !ok {
		return nil, false
	}
	id, ok := parseID(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "id must be a positive integer")
		return nil, false
	}

	rule, err := h.store.GetProxyRule(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return nil, false
	}
	if rule.DomainID != d.ID {
		handleError(w, domain.ErrNotFound)
		return nil, false
	}
	return rule, true
}

// validate checks the rule and that a referenced upstream exists.
func (h *ProxyRuleHandler) validate(w http.ResponseWriter, r *http.Request, rule *domain.ProxyRule) bool {
	errs := validation.ValidateProxyRule(rule)
	if rule.UpstreamID != nil {
		if _, err := h.store.GetUpstream(r.Context(), *rule.UpstreamID); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				handleError(w, err)
				return false
			}
			errs.Add("upstream_id", strconv.FormatInt(*rule.UpstreamID, 10), "upstream not found")
		}
	}
	if errs.HasErrors() {
		respondValidationErrors(w, errs)
		return false
	}
	return true
}
