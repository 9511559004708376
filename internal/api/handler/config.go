package handler

import (
	"net/http"
	"strings"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
)

// ConfigHandler handles generated-configuration endpoints.
type ConfigHandler struct {
	reconciler Reconciler
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(reconciler Reconciler) *ConfigHandler {
	return &ConfigHandler{reconciler: reconciler}
}

// Preview returns the rendered configuration without writing it.
// The optional domain query parameter narrows the result to one domain.
func (h *ConfigHandler) Preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.reconciler.Preview(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	if name := strings.ToLower(r.URL.Query().Get("domain")); name != "" {
		preview = preview.ForDomain(name)
		if len(preview.Domains) == 0 {
			respondError(w, http.StatusNotFound, "domain is not active or does not exist")
			return
		}
	}

	respondJSON(w, http.StatusOK, preview)
}

// Apply regenerates and publishes the configuration now.
func (h *ConfigHandler) Apply(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Regenerate(r.Context())
	if err != nil {
		details := map[string]any{"cause": err.Error()}
		if report != nil {
			details["report"] = report
		}
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeGenerationFailed,
			domain.ErrGenerationFailed.Error(), "", details)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// ListGenerations lists recorded generation passes, newest first.
func (h *ConfigHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit == 0 || limit > 100 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)

	gens, err := h.reconciler.ListGenerations(r.Context(), limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, gens)
}

// Status reports whether the published configuration is behind the database.
func (h *ConfigHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.reconciler.Status(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}
