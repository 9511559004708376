package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// WWW redirect modes.
const (
	WWWToNonWWW = "www_to_non_www"
	NonWWWToWWW = "non_www_to_www"
)

// Domain is a host name served by the reverse proxy.
// It owns the proxy rules and redirect rules that are compiled for it.
type Domain struct {
	ID                  int64     `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"` // FQDN, optionally a leading "*." wildcard
	Active              bool      `json:"active" db:"active"`
	AutoTLS             bool      `json:"auto_tls" db:"auto_tls"`
	ForceHTTPS          bool      `json:"force_https" db:"force_https"`
	BlockExternalAccess bool      `json:"block_external_access" db:"block_external_access"`
	WWWRedirect         bool      `json:"www_redirect" db:"www_redirect"`
	WWWRedirectType     string    `json:"www_redirect_type,omitempty" db:"www_redirect_type"`
	SecurityHeaders     HeaderMap `json:"security_headers,omitempty" db:"security_headers"`
	BindIP              string    `json:"bind_ip,omitempty" db:"bind_ip"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// HeaderMap is a set of header name/value pairs stored as a JSON column.
type HeaderMap map[string]string

// Value implements driver.Valuer.
func (h HeaderMap) Value() (driver.Value, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (h *HeaderMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scanning header map: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*h = nil
		return nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("scanning header map: %w", err)
	}
	if len(m) == 0 {
		*h = nil
		return nil
	}
	*h = m
	return nil
}

// CreateDomainRequest is the request body for creating a domain.
// ForceHTTPS and Active default to true when omitted.
type CreateDomainRequest struct {
	Name                string            `json:"name"`
	Active              *bool             `json:"active,omitempty"`
	AutoTLS             bool              `json:"auto_tls,omitempty"`
	ForceHTTPS          *bool             `json:"force_https,omitempty"`
	BlockExternalAccess bool              `json:"block_external_access,omitempty"`
	WWWRedirect         bool              `json:"www_redirect,omitempty"`
	WWWRedirectType     string            `json:"www_redirect_type,omitempty"`
	SecurityHeaders     map[string]string `json:"security_headers,omitempty"`
	BindIP              string            `json:"bind_ip,omitempty"`
}

// UpdateDomainRequest is the request body for updating a domain.
type UpdateDomainRequest struct {
	Name                *string            `json:"name,omitempty"`
	Active              *bool              `json:"active,omitempty"`
	AutoTLS             *bool              `json:"auto_tls,omitempty"`
	ForceHTTPS          *bool              `json:"force_https,omitempty"`
	BlockExternalAccess *bool              `json:"block_external_access,omitempty"`
	WWWRedirect         *bool              `json:"www_redirect,omitempty"`
	WWWRedirectType     *string            `json:"www_redirect_type,omitempty"`
	SecurityHeaders     *map[string]string `json:"security_headers,omitempty"`
	BindIP              *string            `json:"bind_ip,omitempty"`
}
