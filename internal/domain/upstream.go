package domain

import "time"

// Upstream is a backend server that proxy rules can reference by ID.
type Upstream struct {
	ID                  int64     `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	TargetURL           string    `json:"target_url" db:"target_url"`
	Active              bool      `json:"active" db:"active"`
	HealthCheckPath     string    `json:"health_check_path,omitempty" db:"health_check_path"`
	HealthCheckInterval int       `json:"health_check_interval,omitempty" db:"health_check_interval"` // Seconds
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultHealthCheckInterval is used when a health-check path is set without
// an interval.
const DefaultHealthCheckInterval = 30

// CreateUpstreamRequest is the request body for creating an upstream.
type CreateUpstreamRequest struct {
	Name                string `json:"name"`
	TargetURL           string `json:"target_url"`
	Active              *bool  `json:"active,omitempty"`
	HealthCheckPath     string `json:"health_check_path,omitempty"`
	HealthCheckInterval int    `json:"health_check_interval,omitempty"`
}

// UpdateUpstreamRequest is the request body for updating an upstream.
type UpdateUpstreamRequest struct {
	Name                *string `json:"name,omitempty"`
	TargetURL           *string `json:"target_url,omitempty"`
	Active              *bool   `json:"active,omitempty"`
	HealthCheckPath     *string `json:"health_check_path,omitempty"`
	HealthCheckInterval *int    `json:"health_check_interval,omitempty"`
}
