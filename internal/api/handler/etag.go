package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
)

// Resource types used in ETags.
const (
	etagDomain   = "domain"
	etagRule     = "rule"
	etagRedirect = "redirect"
	etagUpstream = "upstream"
)

// GenerateETag generates an ETag for a resource based on its ID and updated_at timestamp.
// Format: "<resource_type>-<id>-<updated_at_unix_micro>"
// Microseconds survive every supported database.
func GenerateETag(resourceType string, id int64, updatedAt time.Time) string {
	return fmt.Sprintf(`"%s-%d-%d"`, resourceType, id, updatedAt.UnixMicro())
}

// SetETagHeader sets the ETag header on the response.
func SetETagHeader(w http.ResponseWriter, resourceType string, id int64, updatedAt time.Time) {
	w.Header().Set("ETag", GenerateETag(resourceType, id, updatedAt))
}

// CheckIfMatch checks if the If-Match header matches the current ETag.
// Returns true if:
//   - No If-Match header is present (ETag checking is optional)
//   - The If-Match header matches the current ETag
//
// Returns false if the If-Match header is present but doesn't match.
func CheckIfMatch(r *http.Request, resourceType string, id int64, updatedAt time.Time) bool {
	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" || ifMatch == "*" {
		return true
	}
	return ifMatch == GenerateETag(resourceType, id, updatedAt)
}

// RespondPreconditionFailed writes a 412 Precondition Failed response.
func RespondPreconditionFailed(w http.ResponseWriter, resourceType string, id int64, updatedAt time.Time) {
	respondStandardError(w, http.StatusPreconditionFailed, domain.ErrCodePreconditionFailed,
		"resource has been modified", "", map[string]any{
			"currentETag": GenerateETag(resourceType, id, updatedAt),
		})
}

// Domain ETag helpers
func setDomainETag(w http.ResponseWriter, d *domain.Domain) {
	SetETagHeader(w, etagDomain, d.ID, d.UpdatedAt)
}

func checkDomainIfMatch(w http.ResponseWriter, r *http.Request, d *domain.Domain) bool {
	if CheckIfMatch(r, etagDomain, d.ID, d.UpdatedAt) {
		return true
	}
	RespondPreconditionFailed(w, etagDomain, d.ID, d.UpdatedAt)
	return false
}

// Proxy rule ETag helpers
func setRuleETag(w http.ResponseWriter, rule *domain.ProxyRule) {
	SetETagHeader(w, etagRule, rule.ID, rule.UpdatedAt)
}

func checkRuleIfMatch(w http.ResponseWriter, r *http.Request, rule *domain.ProxyRule) bool {
	if CheckIfMatch(r, etagRule, rule.ID, rule.UpdatedAt) {
		return true
	}
	RespondPreconditionFailed(w, etagRule, rule.ID, rule.UpdatedAt)
	return false
}

// Redirect rule ETag helpers
func setRedirectETag(w http.ResponseWriter, rr *domain.RedirectRule) {
	SetETagHeader(w, etagRedirect, rr.ID, rr.UpdatedAt)
}

func checkRedirectIfMatch(w http.ResponseWriter, r *http.Request, rr *domain.RedirectRule) bool {
	if CheckIfMatch(r, etagRedirect, rr.ID, rr.UpdatedAt) {
		return true
	}
	RespondPreconditionFailed(w, etagRedirect, rr.ID, rr.UpdatedAt)
	return false
}

// Upstream ETag helpers
func setUpstreamETag(w http.ResponseWriter, up *domain.Upstream) {
	SetETagHeader(w, etagUpstream, up.ID, up.UpdatedAt)
}

func checkUpstreamIfMatch(w http.ResponseWriter, r *http.Request, up *domain.Upstream) bool {
	if CheckIfMatch(r, etagUpstream, up.ID, up.UpdatedAt) {
		return true
	}
	RespondPreconditionFailed(w, etagUpstream, up.ID, up.UpdatedAt)
	return false
}
