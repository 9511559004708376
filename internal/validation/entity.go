package validation

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
)

// ValidateDomain validates a domain as it would be stored.
func ValidateDomain(d *domain.Domain) ValidationErrors {
	var errs ValidationErrors
	if err := ValidateDomainName(d.Name); err != nil {
		errs.Add("name", d.Name, err.Error())
	}
	if d.WWWRedirect || d.WWWRedirectType != "" {
		if err := ValidateWWWRedirectType(d.WWWRedirectType); err != nil {
			errs.Add("www_redirect_type", d.WWWRedirectType, err.Error())
		}
	}
	if err := ValidateBindIP(d.BindIP); err != nil {
		errs.Add("bind_ip", d.BindIP, err.Error())
	}

	names := make([]string, 0, len(d.SecurityHeaders))
	for name := range d.SecurityHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ValidateHeaderName(name); err != nil {
			errs.Add("security_headers", name, err.Error())
			continue
		}
		if err := ValidateHeaderValue(d.SecurityHeaders[name]); err != nil {
			errs.Add("security_headers."+name, d.SecurityHeaders[name], err.Error())
		}
	}
	return errs
}

// ValidateProxyRule validates a proxy rule as it would be stored.
func ValidateProxyRule(r *domain.ProxyRule) ValidationErrors {
	var errs ValidationErrors
	if err := ValidatePathPattern(r.PathPattern); err != nil {
		errs.Add("path_pattern", r.PathPattern, err.Error())
	}
	if r.SourcePort != nil {
		if err := ValidatePort(*r.SourcePort); err != nil {
			errs.Add("source_port", strconv.Itoa(*r.SourcePort), err.Error())
		}
	}
	if err := ValidateHTTPMethod(r.HTTPMethod); err != nil {
		errs.Add("http_method", r.HTTPMethod, err.Error())
	}
	switch {
	case r.UpstreamID == nil && r.TargetURL == "":
		errs.Add("target_url", "", "either target_url or upstream_id is required")
	case r.TargetURL != "":
		if err := ValidateTargetURL(r.TargetURL); err != nil {
			errs.Add("target_url", r.TargetURL, err.Error())
		}
	}
	return errs
}

// ValidateRedirectRule validates a redirect rule as it would be stored.
func ValidateRedirectRule(r *domain.RedirectRule) ValidationErrors {
	var errs ValidationErrors
	if err := ValidatePathPattern(r.SourcePattern); err != nil {
		errs.Add("source_pattern", r.SourcePattern, err.Error())
	}
	if err := ValidateTargetURL(r.TargetURL); err != nil {
		errs.Add("target_url", r.TargetURL, err.Error())
	}
	if err := ValidateRedirectType(r.RedirectType); err != nil {
		errs.Add("redirect_type", strconv.Itoa(r.RedirectType), err.Error())
	}
	return errs
}

// ValidateUpstream validates an upstream as it would be stored.
func ValidateUpstream(u *domain.Upstream) ValidationErrors {
	var errs ValidationErrors
	if err := ValidateUpstreamName(u.Name); err != nil {
		errs.Add("name", u.Name, err.Error())
	}
	if err := ValidateTargetURL(u.TargetURL); err != nil {
		errs.Add("target_url", u.TargetURL, err.Error())
	}
	if err := ValidateHealthCheck(u.HealthCheckPath, u.HealthCheckInterval); err != nil {
		errs.Add("health_check", u.HealthCheckPath, err.Error())
	}
	return errs
}

// ValidateAPIKeyName validates the label of an API key being issued.
func ValidateAPIKeyName(name string) ValidationErrors {
	var errs ValidationErrors
	switch {
	case name == "":
		errs.Add("name", name, "name is required")
	case len(name) > 100:
		errs.Add("name", name, "name must be at most 100 characters")
	case strings.ContainsFunc(name, unicode.IsControl):
		errs.Add("name", name, "name must not contain control characters")
	}
	return errs
}
