// Package nginx renders domains as nginx virtual-host configuration, the
// alternative output for hosts that run nginx in front of the upstreams.
package nginx

import (
	"errors"
	"fmt"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/traefik"
)

// FileSuffix is the extension of every generated virtual-host file.
const FileSuffix = ".conf"

// DefaultCertDir is where Let's Encrypt keeps live certificates.
const DefaultCertDir = "/etc/letsencrypt/live"

const header = "# Managed by traefik-route-manager. Manual changes are overwritten.\n"

// privateRanges are allowed when a domain blocks external access.
var privateRanges = []string{
	"127.0.0.1",
	"::1",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
}

// proxyHeaders are set on every proxied location.
var proxyHeaders = [][2]string{
	{"Host", "$host"},
	{"X-Real-IP", "$remote_addr"},
	{"X-Forwarded-For", "$proxy_add_x_forwarded_for"},
	{"X-Forwarded-Proto", "$scheme"},
	{"Upgrade", "$http_upgrade"},
	{"Connection", "$http_connection"},
}

// ErrInvalidDomain is returned when a domain name cannot be written into a
// server block.
var ErrInvalidDomain = errors.New("invalid domain")

// FileName is the virtual-host file name of a domain.
func FileName(name string) string {
	return traefik.Sanitize(name) + FileSuffix
}

// IsConfigFile reports whether name looks like a generated virtual-host file.
func IsConfigFile(name string) bool {
	return strings.HasSuffix(name, FileSuffix) && !strings.HasPrefix(name, ".")
}

// Renderer renders virtual hosts. It holds no state between calls.
type Renderer struct {
	certDir string
}

// New creates a Renderer reading certificates below certDir.
func New(certDir string) *Renderer {
	if certDir == "" {
		certDir = DefaultCertDir
	}
	return &Renderer{certDir: certDir}
}

// location is one location block, from a proxy rule or a redirect.
type location struct {
	path     string
	priority int
	rule     *domain.ProxyRule
	redirect *domain.RedirectRule
	target   string
}

// Render renders one domain. The second return value lists rules and
// redirects that were left out, with the reason.
func (r *Renderer) Render(bundle *domain.DomainBundle, upstreams map[int64]*domain.Upstream) ([]byte, []string, error) {
	d := bundle.Domain
	if d == nil || d.Name == "" || !safeToken(d.Name) {
		return nil, nil, fmt.Errorf("%w: %q cannot be used as server_name", ErrInvalidDomain, nameOf(d))
	}

	locations, skipped := collectLocations(bundle, upstreams)
	if len(locations) == 0 {
		return nil, skipped, nil
	}

	serverName, wwwFrom := hostNames(d)

	var b strings.Builder
	b.WriteString(header)

	if d.ForceHTTPS && d.AutoTLS {
		b.WriteString("\nserver {\n")
		writeListen(&b, d.BindIP, "80")
		fmt.Fprintf(&b, "    server_name %s;\n", serverName)
		b.WriteString("    return 301 https://$host$request_uri;\n")
		b.WriteString("}\n")
	}

	if wwwFrom != "" {
		b.WriteString("\nserver {\n")
		writeListen(&b, d.BindIP, "80")
		if d.AutoTLS {
			writeListen(&b, d.BindIP, "443 ssl")
		}
		fmt.Fprintf(&b, "    server_name %s;\n", wwwFrom)
		if d.AutoTLS {
			r.writeCertificates(&b, d.Name)
		}
		fmt.Fprintf(&b, "    return 301 https://%s$request_uri;\n", serverName)
		b.WriteString("}\n")
	}

	b.WriteString("\nserver {\n")
	if d.AutoTLS {
		writeListen(&b, d.BindIP, "443 ssl")
	} else {
		writeListen(&b, d.BindIP, "80")
	}
	fmt.Fprintf(&b, "    server_name %s;\n", serverName)
	if d.AutoTLS {
		r.writeCertificates(&b, d.Name)
	}

	if d.BlockExternalAccess {
		b.WriteString("\n")
		for _, cidr := range privateRanges {
			fmt.Fprintf(&b, "    allow %s;\n", cidr)
		}
		b.WriteString("    deny all;\n")
	}

	if len(d.SecurityHeaders) > 0 {
		b.WriteString("\n")
		names := make([]string, 0, len(d.SecurityHeaders))
		for name := range d.SecurityHeaders {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !safeToken(name) {
				continue
			}
			fmt.Fprintf(&b, "    add_header %s %s always;\n", name, quote(d.SecurityHeaders[name]))
		}
	}

	for _, loc := range locations {
		b.WriteString("\n")
		if loc.redirect != nil {
			writeRedirect(&b, loc)
		} else {
			writeProxy(&b, loc)
		}
	}
	b.WriteString("}\n")

	return []byte(b.String()), skipped, nil
}

func nameOf(d *domain.Domain) string {
	if d == nil {
		return ""
	}
	return d.Name
}

// hostNames returns the name served by the main server block and, when a www
// redirect applies, the name redirected to it.
func hostNames(d *domain.Domain) (serverName, redirectFrom string) {
	if !d.WWWRedirect || strings.HasPrefix(d.Name, "*.") {
		return d.Name, ""
	}
	bare := strings.TrimPrefix(d.Name, "www.")
	www := "www." + bare
	if d.WWWRedirectType == domain.NonWWWToWWW {
		return www, bare
	}
	return bare, www
}

// collectLocations merges rules and redirects in priority order. The first
// location claiming a path wins; nginx rejects duplicate locations.
func collectLocations(bundle *domain.DomainBundle, upstreams map[int64]*domain.Upstream) ([]*location, []string) {
	var all []*location
	var skipped []string

	for _, rule := range bundle.Rules {
		if !rule.Active {
			continue
		}
		target, reason := resolveTarget(rule, upstreams)
		if reason != "" {
			skipped = append(skipped, fmt.Sprintf("rule %d: %s", rule.ID, reason))
			continue
		}
		all = append(all, &location{path: locationPath(rule.PathPattern, rule.StripPrefix), priority: rule.Priority, rule: rule, target: target})
	}
	for _, rr := range bundle.Redirects {
		if !rr.Active {
			continue
		}
		if rr.TargetURL == "" || !safeToken(rr.TargetURL) {
			skipped = append(skipped, fmt.Sprintf("redirect %d: unusable target", rr.ID))
			continue
		}
		if strings.Contains(rr.TargetURL, "$") {
			skipped = append(skipped, fmt.Sprintf("redirect %d: target contains $, which nginx expands as a variable", rr.ID))
			continue
		}
		all = append(all, &location{path: locationPath(rr.SourcePattern, false), priority: rr.Priority, redirect: rr, target: rr.TargetURL})
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].priority > all[j].priority })

	seen := map[string]bool{}
	out := all[:0]
	for _, loc := range all {
		if !safeToken(loc.path) {
			skipped = append(skipped, fmt.Sprintf("%s: path %q cannot be used as a location", loc.label(), loc.path))
			continue
		}
		if seen[loc.path] {
			skipped = append(skipped, fmt.Sprintf("%s: location %s already defined", loc.label(), loc.path))
			continue
		}
		seen[loc.path] = true
		out = append(out, loc)
	}
	return out, skipped
}

func (l *location) label() string {
	if l.redirect != nil {
		return "redirect " + strconv.FormatInt(l.redirect.ID, 10)
	}
	return "rule " + strconv.FormatInt(l.rule.ID, 10)
}

func resolveTarget(rule *domain.ProxyRule, upstreams map[int64]*domain.Upstream) (string, string) {
	target := rule.TargetURL
	if rule.UpstreamID != nil {
		up, ok := upstreams[*rule.UpstreamID]
		switch {
		case !ok:
			return "", fmt.Sprintf("upstream %d not found", *rule.UpstreamID)
		case !up.Active:
			return "", fmt.Sprintf("upstream %d is inactive", up.ID)
		}
		target = up.TargetURL
	}
	if target == "" {
		return "", "no target"
	}
	if !safeToken(target) || strings.Contains(target, "$") {
		return "", "target cannot be used in proxy_pass"
	}
	return target, ""
}

// locationPath normalises a pattern into a location prefix. Strip-prefix
// locations end in a slash so proxy_pass replaces the prefix.
func locationPath(pattern string, strip bool) string {
	if pattern == "" {
		return "/"
	}
	if strip && !strings.HasSuffix(pattern, "/") {
		return pattern + "/"
	}
	return pattern
}

func writeListen(b *strings.Builder, bindIP, port string) {
	if bindIP == "" {
		fmt.Fprintf(b, "    listen %s;\n", port)
		return
	}
	num, opts, _ := strings.Cut(port, " ")
	addr := net.JoinHostPort(bindIP, num)
	if opts != "" {
		addr += " " + opts
	}
	fmt.Fprintf(b, "    listen %s;\n", addr)
}

func (r *Renderer) writeCertificates(b *strings.Builder, name string) {
	dir := path.Join(r.certDir, strings.TrimPrefix(name, "*."))
	fmt.Fprintf(b, "    ssl_certificate %s;\n", path.Join(dir, "fullchain.pem"))
	fmt.Fprintf(b, "    ssl_certificate_key %s;\n", path.Join(dir, "privkey.pem"))
}

func writeProxy(b *strings.Builder, loc *location) {
	rule := loc.rule
	fmt.Fprintf(b, "    location %s {\n", loc.path)
	if !rule.MatchesAllMethods() {
		fmt.Fprintf(b, "        limit_except %s {\n            deny all;\n        }\n", strings.ToUpper(rule.HTTPMethod))
	}
	if !rule.MaintainQueryStrings {
		b.WriteString("        set $args \"\";\n")
	}
	target := loc.target
	if rule.StripPrefix && rule.PathPattern != "" && !strings.HasSuffix(target, "/") {
		target += "/"
	}
	fmt.Fprintf(b, "        proxy_pass %s;\n", target)
	for _, h := range proxyHeaders {
		fmt.Fprintf(b, "        proxy_set_header %s %s;\n", h[0], h[1])
	}
	b.WriteString("    }\n")
}

func writeRedirect(b *strings.Builder, loc *location) {
	rr := loc.redirect
	code := domain.RedirectTemporary
	if rr.Permanent() {
		code = domain.RedirectPermanent
	}
	target := rr.TargetURL
	if rr.PreserveQuery {
		target += "$is_args$args"
	}
	fmt.Fprintf(b, "    location %s {\n        return %d %s;\n    }\n", loc.path, code, target)
}

// safeToken reports whether s can be written unquoted into a directive.
func safeToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, " \t\r\n;{}\"'`#\\")
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ", "\r", " ")
	return `"` + r.Replace(s) + `"`
}
