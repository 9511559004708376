package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/bcnelson/traefik-route-manager/internal/api/middleware"
	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
	"github.com/bcnelson/traefik-route-manager/internal/validation"
)

// APIKeyHandler issues and revokes admin API keys. Keys do not affect the
// generated configuration, so these endpoints never regenerate.
type APIKeyHandler struct {
	store storage.Storage
}

func NewAPIKeyHandler(store storage.Storage) *APIKeyHandler {
	return &APIKeyHandler{store: store}
}

// Create issues a key and returns its plaintext exactly once.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if errs := validation.ValidateAPIKeyName(name); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	plaintext, hash, prefix, err := generateAPIKey()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate API key")
		return
	}
	key := &domain.APIKey{
		ID:        generateID(),
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		handleError(w, err)
		return
	}

	log.Info().
		Str("key_id", key.ID).
		Str("key_prefix", key.KeyPrefix).
		Str("issued_by", callerID(r)).
		Msg("API key issued")
	respondJSON(w, http.StatusCreated, key.Issued(plaintext))
}

// List returns every stored key. Hashes are never serialized.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, keys)
}

// Delete revokes a key. Revoking the last key re-enables the bootstrap key.
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := h.store.DeleteAPIKey(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	log.Info().Str("key_id", id).Str("revoked_by", callerID(r)).Msg("API key revoked")
	w.WriteHeader(http.StatusNoContent)
}

func callerID(r *http.Request) string {
	if k := middleware.GetAPIKeyFromContext(r.Context()); k != nil {
		return k.ID
	}
	return ""
}
