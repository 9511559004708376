package handler

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/validation"
)

// Reconciler regenerates the proxy configuration after mutations.
type Reconciler interface {
	Regenerate(ctx context.Context) (*domain.GenerationReport, error)
	Preview(ctx context.Context) (*domain.Preview, error)
	Status(ctx context.Context) (*domain.ReconcileStatus, error)
	ListGenerations(ctx context.Context, limit, offset int) ([]*domain.Generation, error)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Warn().Err(err).Msg("Failed to encode response")
		}
	}
}

// respondStandardError writes a JSON error response in the standard shape.
func respondStandardError(w http.ResponseWriter, status int, code, message, field string, details map[string]any) {
	respondJSON(w, status, &domain.StandardErrorResponse{
		Error: domain.StandardError{
			Code:    code,
			Message: message,
			Field:   field,
			Details: details,
		},
	})
}

// respondError writes a JSON error response with the code implied by status.
func respondError(w http.ResponseWriter, status int, message string) {
	respondStandardError(w, status, codeForStatus(status), message, "", nil)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return domain.ErrCodeResourceNotFound
	case http.StatusConflict:
		return domain.ErrCodeConflict
	case http.StatusBadRequest:
		return domain.ErrCodeInvalidInput
	case http.StatusUnauthorized:
		return domain.ErrCodeUnauthorized
	case http.StatusPreconditionFailed:
		return domain.ErrCodePreconditionFailed
	default:
		return domain.ErrCodeInternalError
	}
}

// handleError converts domain errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	var verrs validation.ValidationErrors
	var verr *validation.ValidationError

	switch {
	case errors.As(err, &verrs):
		respondValidationErrors(w, verrs)
	case errors.As(err, &verr):
		respondValidationError(w, verr.Field, verr.Value, verr.Message)
	case errors.Is(err, domain.ErrNotFound):
		respondStandardError(w, http.StatusNotFound, domain.ErrCodeResourceNotFound, "not found", "", nil)
	case errors.Is(err, domain.ErrAlreadyExists):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeResourceAlreadyExists, "already exists", "", nil)
	case errors.Is(err, domain.ErrLocked):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeLocked, "rule is locked", "", nil)
	case errors.Is(err, domain.ErrConflict):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeConflict, err.Error(), "", nil)
	case errors.Is(err, domain.ErrInvalidInput):
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid input", "", nil)
	case errors.Is(err, domain.ErrUnauthorized):
		respondStandardError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "unauthorized", "", nil)
	case errors.Is(err, domain.ErrGenerationFailed):
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeGenerationFailed,
			domain.ErrGenerationFailed.Error(), "", map[string]any{"cause": err.Error()})
	default:
		log.Error().Err(err).Msg("Request failed")
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "internal server error", "", nil)
	}
}

// respondMutation regenerates the configuration after a persisted change and
// writes the response. The change is not rolled back when regeneration
// fails; the response says so and carries the stored resource. The ETag is
// only sent on success.
func respondMutation(w http.ResponseWriter, r *http.Request, status int, resource any, rec Reconciler) {
	report, err := rec.Regenerate(r.Context())
	if report != nil && report.Generation != nil {
		w.Header().Set("X-Generation-ID", report.Generation.ID)
	}
	if err != nil {
		details := map[string]any{"cause": err.Error()}
		if resource != nil {
			details["resource"] = resource
		}
		if report != nil {
			details["report"] = report
		}
		log.Warn().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Change saved but configuration generation failed")
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeGenerationFailed,
			domain.ErrGenerationFailed.Error(), "", details)
		return
	}

	setETag(w, resource)
	respondJSON(w, status, resource)
}

// setETag sets the ETag of a stored resource.
func setETag(w http.ResponseWriter, resource any) {
	switch v := resource.(type) {
	case *domain.Domain:
		setDomainETag(w, v)
	case *domain.ProxyRule:
		setRuleETag(w, v)
	case *domain.RedirectRule:
		setRedirectETag(w, v)
	case *domain.Upstream:
		setUpstreamETag(w, v)
	}
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// parseID reads a numeric URL parameter.
func parseID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// generateID generates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey draws 32 random bytes and returns the plaintext key with
// the hash and display prefix that get stored in its place.
func generateAPIKey() (key string, hash string, prefix string, err error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", "", "", err
	}
	key = domain.KeyScheme + hex.EncodeToString(secret)
	return key, hashKey(key), key[:domain.KeyDisplayLen], nil
}

// hashKey creates a SHA-256 hash of the API key.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// respondValidationError writes a JSON validation error response.
func respondValidationError(w http.ResponseWriter, field, value, message string) {
	respondStandardError(w, http.StatusBadRequest, domain.ErrCodeValidationError, message, field,
		map[string]any{"value": value})
}

// respondValidationErrors writes a JSON response for one or more validation errors.
func respondValidationErrors(w http.ResponseWriter, errs validation.ValidationErrors) {
	if len(errs) == 1 {
		respondValidationError(w, errs[0].Field, errs[0].Value, errs[0].Message)
		return
	}
	respondStandardError(w, http.StatusBadRequest, domain.ErrCodeValidationError, errs.Error(), "",
		map[string]any{"errors": errs})
}
