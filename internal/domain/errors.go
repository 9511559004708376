package domain

import "errors"

// Common errors used throughout the application.
var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrConflict             = errors.New("conflict")
	ErrLocked               = errors.New("rule is locked")
	ErrGenerationFailed     = errors.New("configuration generation failed")
	ErrGenerationInProgress = errors.New("generation already in progress")
	ErrNoAPIKeys            = errors.New("no API keys configured")
	ErrInvalidAPIKey        = errors.New("invalid API key")
)

// Error codes for standardized API error responses.
const (
	ErrCodeResourceNotFound      = "RESOURCE_NOT_FOUND"
	ErrCodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeValidationError       = "VALIDATION_ERROR"
	ErrCodeConflict              = "CONFLICT"
	ErrCodeLocked                = "RULE_LOCKED"
	ErrCodeGenerationFailed      = "GENERATION_FAILED"
	ErrCodePreconditionFailed    = "PRECONDITION_FAILED"
	ErrCodeInternalError         = "INTERNAL_ERROR"
)

// StandardError represents a standardized error response from the API.
type StandardError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// StandardErrorResponse wraps a StandardError for JSON responses.
type StandardErrorResponse struct {
	Error StandardError `json:"error"`
}
