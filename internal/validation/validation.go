// Package validation provides validation functions for routing entities.
// Anything accepted here must be safe to write into both the Traefik rule
// language and nginx directives.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
)

// isAlpha returns true if the byte is an ASCII letter.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// isNum returns true if the byte is an ASCII digit.
func isNum(b byte) bool {
	return b >= '0' && b <= '9'
}

// isAlphaNum returns true if the byte is an ASCII letter or digit.
func isAlphaNum(b byte) bool {
	return isAlpha(b) || isNum(b)
}

// unsafeChars cannot appear in values written into generated configuration.
const unsafeChars = " \t\r\n`;{}\"'\\#"

// validateLabel validates one DNS label.
func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("domain name must not contain empty labels")
	}
	if len(label) > 63 {
		return fmt.Errorf("domain labels must be at most 63 characters")
	}
	if !isAlphaNum(label[0]) || !isAlphaNum(label[len(label)-1]) {
		return fmt.Errorf("domain labels must start and end with a letter or number")
	}
	for _, b := range []byte(label) {
		if !isAlphaNum(b) && b != '-' {
			return fmt.Errorf("domain labels can only contain letters, numbers, or hyphens")
		}
	}
	return nil
}

// ValidateDomainName validates a fully qualified domain name.
// A single leading "*." wildcard label is allowed.
func ValidateDomainName(name string) error {
	if name == "" {
		return fmt.Errorf("domain name must not be empty")
	}
	if len(name) > 253 {
		return fmt.Errorf("domain name must be at most 253 characters")
	}
	host := strings.TrimPrefix(name, "*.")
	if strings.Contains(host, "*") {
		return fmt.Errorf("wildcards are only allowed as the first label")
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return fmt.Errorf("domain name must have at least two labels")
	}
	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return err
		}
	}
	if isNum(labels[len(labels)-1][0]) && net.ParseIP(host) != nil {
		return fmt.Errorf("domain name must not be an IP address")
	}
	return nil
}

// ValidatePathPattern validates a path prefix. Empty matches the whole host.
func ValidatePathPattern(path string) error {
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must start with '/'")
	}
	if strings.ContainsAny(path, unsafeChars+"?") {
		return fmt.Errorf("path contains characters that cannot be routed")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return fmt.Errorf("path must not contain '..' segments")
		}
	}
	return nil
}

// ValidateTargetURL validates an absolute http or https URL.
func ValidateTargetURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL must not be empty")
	}
	if strings.ContainsAny(raw, unsafeChars) {
		return fmt.Errorf("URL contains characters that cannot be written into configuration")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https")
	}
	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("URL must include a host")
	}
	if u.User != nil {
		return fmt.Errorf("URL must not include credentials")
	}
	if port := u.Port(); port != "" {
		var n int
		if _, err := fmt.Sscanf(port, "%d", &n); err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("URL port must be between 1 and 65535")
		}
	}
	return nil
}

var httpMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"OPTIONS": true,
	"CONNECT": true,
	"TRACE":   true,
}

// NormalizeMethod upper-cases a method; empty becomes "*".
func NormalizeMethod(method string) string {
	if method == "" {
		return domain.MethodAny
	}
	return strings.ToUpper(method)
}

// ValidateHTTPMethod validates a method filter. "*" matches all methods.
func ValidateHTTPMethod(method string) error {
	m := NormalizeMethod(method)
	if m == domain.MethodAny || httpMethods[m] {
		return nil
	}
	return fmt.Errorf("invalid HTTP method: %s", method)
}

// ValidatePort validates a TCP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidateRedirectType validates a redirect status code.
func ValidateRedirectType(code int) error {
	if code != domain.RedirectPermanent && code != domain.RedirectTemporary {
		return fmt.Errorf("redirect type must be 301 or 302")
	}
	return nil
}

// ValidateWWWRedirectType validates a www redirect mode.
func ValidateWWWRedirectType(mode string) error {
	switch mode {
	case domain.WWWToNonWWW, domain.NonWWWToWWW:
		return nil
	}
	return fmt.Errorf("www redirect type must be %s or %s", domain.WWWToNonWWW, domain.NonWWWToWWW)
}

// isTokenChar reports whether b may appear in an HTTP header name.
func isTokenChar(b byte) bool {
	if isAlphaNum(b) {
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_|~", b) >= 0
}

// ValidateHeaderName validates an HTTP header field name.
func ValidateHeaderName(name string) error {
	if name == "" {
		return fmt.Errorf("header name must not be empty")
	}
	for _, b := range []byte(name) {
		if !isTokenChar(b) || b == '#' || b == '\'' {
			return fmt.Errorf("header names can only contain letters, numbers, and -_.!$%%&*+^|~")
		}
	}
	return nil
}

// ValidateHeaderValue validates an HTTP header value.
func ValidateHeaderValue(value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("header value must not contain line breaks")
	}
	return nil
}

// ValidateBindIP validates the address a domain listens on.
func ValidateBindIP(ip string) error {
	if ip == "" {
		return nil
	}
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("must be a valid IP address")
	}
	return nil
}

// ValidateUpstreamName validates an upstream's display name.
func ValidateUpstreamName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("upstream name must not be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("upstream name must be at most 100 characters")
	}
	return nil
}

// ValidateHealthCheck validates an upstream health check. The interval is in
// seconds; zero uses the default.
func ValidateHealthCheck(path string, interval int) error {
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("health check path must start with '/'")
		}
		if strings.ContainsAny(path, unsafeChars) {
			return fmt.Errorf("health check path contains characters that cannot be written into configuration")
		}
	}
	if interval < 0 || interval > 3600 {
		return fmt.Errorf("health check interval must be between 0 and 3600 seconds")
	}
	return nil
}
