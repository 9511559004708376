package traefik

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// Middleware kinds attached to proxy-rule routers.
const (
	KindStrip    = "strip"
	KindHTTPS    = "https"
	KindWWW      = "www"
	KindSecurity = "security"
)

// RedirectsFile is the aggregate file holding every redirect router.
const RedirectsFile = "redirects.yml"

// FilePrefix and FileSuffix frame per-domain file names.
const (
	FilePrefix = "routes-"
	FileSuffix = ".yml"
)

var nonAlnum = regexp.MustCompile(`(?i)[^a-z0-9]+`)

// Sanitize replaces every run of non-alphanumeric characters with a single
// underscore.
func Sanitize(s string) string {
	return nonAlnum.ReplaceAllString(s, "_")
}

// RouterName is the primary router name for a proxy rule.
func RouterName(domain string, ruleID int64) string {
	return "r_" + Sanitize(domain) + "_" + strconv.FormatInt(ruleID, 10)
}

// HTTPRouterName is the name of the HTTP-only router that redirects to HTTPS.
func HTTPRouterName(domain string, ruleID int64) string {
	return RouterName(domain, ruleID) + "_http"
}

// ServiceName is the service name for a proxy rule.
func ServiceName(domain string, ruleID int64) string {
	return "s_" + Sanitize(domain) + "_" + strconv.FormatInt(ruleID, 10)
}

// MiddlewareName is the name of a per-rule middleware of the given kind.
func MiddlewareName(kind, domain string, ruleID int64) string {
	return "m_" + kind + "_" + Sanitize(domain) + "_" + strconv.FormatInt(ruleID, 10)
}

// RedirectRouterName is the router name for a redirect rule.
func RedirectRouterName(redirectID int64) string {
	return "redirect_" + strconv.FormatInt(redirectID, 10)
}

// RedirectMiddlewareName derives a middleware name from the redirect's
// content so identical redirects share one definition. Fields are separated
// by NUL and the digest is namespaced, so no two distinct triples can be
// joined into the same input.
func RedirectMiddlewareName(domain, sourcePattern, targetURL string) string {
	h := sha256.New()
	h.Write([]byte("redirect"))
	for _, part := range []string{domain, sourcePattern, targetURL} {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return "m_redirect_" + hex.EncodeToString(h.Sum(nil))[:16]
}

var fileNameReplacer = strings.NewReplacer("*", "wild", ".", "_")

// FileName is the per-domain file name, e.g. routes-shop_test.yml.
func FileName(domain string) string {
	return FilePrefix + fileNameReplacer.Replace(domain) + FileSuffix
}

// IsDomainFile reports whether name looks like a per-domain file.
func IsDomainFile(name string) bool {
	return strings.HasPrefix(name, FilePrefix) && strings.HasSuffix(name, FileSuffix)
}
