package domain

import "time"

// Admin API keys are "trm_" followed by 64 hex characters. Only the SHA-256
// of a key is stored; the leading KeyDisplayLen characters stay visible so
// operators can tell keys apart in listings.
const (
	KeyScheme     = "trm_"
	KeyDisplayLen = 12
)

// APIKey is a stored admin credential.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Issued pairs a freshly stored key with its plaintext for the one response
// that may carry it.
func (k *APIKey) Issued(plaintext string) *CreateAPIKeyResponse {
	return &CreateAPIKeyResponse{
		ID:        k.ID,
		Name:      k.Name,
		Key:       plaintext,
		KeyPrefix: k.KeyPrefix,
		CreatedAt: k.CreatedAt,
	}
}

// CreateAPIKeyRequest names a key to issue.
type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

// CreateAPIKeyResponse is the only place the plaintext key is ever returned.
type CreateAPIKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	CreatedAt time.Time `json:"created_at"`
}
