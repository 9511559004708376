package domain

import "time"

// Redirect status codes.
const (
	RedirectPermanent = 301
	RedirectTemporary = 302
)

// RedirectRule sends requests for a domain (optionally only below a path) to
// another URL.
type RedirectRule struct {
	ID            int64     `json:"id" db:"id"`
	DomainID      int64     `json:"domain_id" db:"domain_id"`
	SourcePattern string    `json:"source_pattern,omitempty" db:"source_pattern"` // Empty matches the whole host
	TargetURL     string    `json:"target_url" db:"target_url"`
	Priority      int       `json:"priority" db:"priority"`
	Active        bool      `json:"active" db:"active"`
	PreserveQuery bool      `json:"preserve_query" db:"preserve_query"`
	RedirectType  int       `json:"redirect_type" db:"redirect_type"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Permanent reports whether the redirect is a 301.
func (r *RedirectRule) Permanent() bool {
	return r.RedirectType == RedirectPermanent
}

// CreateRedirectRuleRequest is the request body for creating a redirect rule.
type CreateRedirectRuleRequest struct {
	SourcePattern string `json:"source_pattern,omitempty"`
	TargetURL     string `json:"target_url"`
	Priority      int    `json:"priority,omitempty"`
	Active        *bool  `json:"active,omitempty"`
	PreserveQuery bool   `json:"preserve_query,omitempty"`
	RedirectType  int    `json:"redirect_type,omitempty"` // Defaults to 301
}

// UpdateRedirectRuleRequest is the request body for updating a redirect rule.
type UpdateRedirectRuleRequest struct {
	SourcePattern *string `json:"source_pattern,omitempty"`
	TargetURL     *string `json:"target_url,omitempty"`
	Priority      *int    `json:"priority,omitempty"`
	Active        *bool   `json:"active,omitempty"`
	PreserveQuery *bool   `json:"preserve_query,omitempty"`
	RedirectType  *int    `json:"redirect_type,omitempty"`
}
