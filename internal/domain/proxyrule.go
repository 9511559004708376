package domain

import "time"

// MethodAny matches every HTTP method.
const MethodAny = "*"

// ProxyRule forwards requests matching a path (and optionally a port and
// method) on its domain to an upstream.
//
// The upstream is either referenced by UpstreamID or given inline by
// TargetURL. A referenced upstream that is missing or inactive excludes the
// rule from generated configuration.
type ProxyRule struct {
	ID                   int64     `json:"id" db:"id"`
	DomainID             int64     `json:"domain_id" db:"domain_id"`
	PathPattern          string    `json:"path_pattern,omitempty" db:"path_pattern"`
	SourcePort           *int      `json:"source_port,omitempty" db:"source_port"`
	HTTPMethod           string    `json:"http_method" db:"http_method"`
	TargetURL            string    `json:"target_url,omitempty" db:"target_url"`
	UpstreamID           *int64    `json:"upstream_id,omitempty" db:"upstream_id"`
	Priority             int       `json:"priority" db:"priority"` // Higher wins
	Active               bool      `json:"active" db:"active"`
	Locked               bool      `json:"locked" db:"locked"`
	StripPrefix          bool      `json:"strip_prefix" db:"strip_prefix"`
	MaintainQueryStrings bool      `json:"maintain_query_strings" db:"maintain_query_strings"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// MatchesAllMethods reports whether the rule has no method filter.
func (r *ProxyRule) MatchesAllMethods() bool {
	return r.HTTPMethod == "" || r.HTTPMethod == MethodAny
}

// CreateProxyRuleRequest is the request body for creating a proxy rule.
type CreateProxyRuleRequest struct {
	PathPattern          string `json:"path_pattern,omitempty"`
	SourcePort           *int   `json:"source_port,omitempty"`
	HTTPMethod           string `json:"http_method,omitempty"`
	TargetURL            string `json:"target_url,omitempty"`
	UpstreamID           *int64 `json:"upstream_id,omitempty"`
	Priority             int    `json:"priority,omitempty"`
	Active               *bool  `json:"active,omitempty"`
	StripPrefix          bool   `json:"strip_prefix,omitempty"`
	MaintainQueryStrings *bool  `json:"maintain_query_strings,omitempty"`
}

// UpdateProxyRuleRequest is the request body for updating a proxy rule.
type UpdateProxyRuleRequest struct {
	PathPattern          *string `json:"path_pattern,omitempty"`
	SourcePort           *int    `json:"source_port,omitempty"`
	ClearSourcePort      bool    `json:"clear_source_port,omitempty"`
	HTTPMethod           *string `json:"http_method,omitempty"`
	TargetURL            *string `json:"target_url,omitempty"`
	UpstreamID           *int64  `json:"upstream_id,omitempty"`
	ClearUpstream        bool    `json:"clear_upstream,omitempty"`
	Priority             *int    `json:"priority,omitempty"`
	Active               *bool   `json:"active,omitempty"`
	StripPrefix          *bool   `json:"strip_prefix,omitempty"`
	MaintainQueryStrings *bool   `json:"maintain_query_strings,omitempty"`
}
