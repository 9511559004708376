// Package traefik compiles domains, proxy rules and redirects into Traefik
// file-provider dynamic configuration.
package traefik

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
)

// Entry point names.
const (
	EntryPointWeb       = "web"
	EntryPointWebSecure = "websecure"
)

// Shared service names.
const (
	// InternalNoopService is Traefik's built-in service that answers nothing.
	// HTTP-to-HTTPS routers point at it because their middleware always
	// responds first.
	InternalNoopService = "noop@internal"

	// RedirectService is the black-hole service behind every redirect router.
	RedirectService = "noop"

	// RedirectSinkURL is deliberately unreachable; redirect routers never
	// forward traffic.
	RedirectSinkURL = "http://127.0.0.1:1"
)

// DefaultCertResolver is used when no resolver is configured.
const DefaultCertResolver = "letsencrypt"

// WWW redirect patterns.
const (
	wwwToNonWWWRegex       = `^https?://www\.(.+)`
	wwwToNonWWWReplacement = "https://${1}"
	nonWWWToWWWRegex       = `^https?://(?:www\.)?(.+)`
	nonWWWToWWWReplacement = "https://www.${1}"
)

// Redirect patterns. The query-preserving form captures the query string so
// the replacement can re-append it.
const (
	redirectRegex              = ".*"
	redirectPreserveQueryRegex = `^.*?(\?.*)?$`
	queryPlaceholder           = "${1}"
)

// ErrInvalidDomain is returned when a domain cannot be expressed as a router rule.
var ErrInvalidDomain = errors.New("invalid domain")

// Compiler turns snapshot data into dynamic configuration. It holds no state
// between calls.
type Compiler struct {
	certResolver string
}

// New creates a Compiler using certResolver for auto-TLS routers.
func New(certResolver string) *Compiler {
	if certResolver == "" {
		certResolver = DefaultCertResolver
	}
	return &Compiler{certResolver: certResolver}
}

// CertResolver returns the configured certificate resolver name.
func (c *Compiler) CertResolver() string {
	return c.certResolver
}

// DomainConfig is the compiled configuration of one domain.
type DomainConfig struct {
	Domain *domain.Domain
	Config *Config
	// Skipped lists rules that were left out, with the reason.
	Skipped []string
}

// CompileDomain compiles the active proxy rules of one domain. Rules must be
// ordered by priority descending; their order is preserved in the output.
// Rules whose upstream is missing or inactive are skipped, not errors.
func (c *Compiler) CompileDomain(bundle *domain.DomainBundle, upstreams map[int64]*domain.Upstream) (*DomainConfig, error) {
	d := bundle.Domain
	if d == nil || d.Name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidDomain)
	}
	if strings.ContainsAny(d.Name, "`\n") {
		return nil, fmt.Errorf("%w: %q cannot be used in a rule", ErrInvalidDomain, d.Name)
	}

	out := &DomainConfig{Domain: d, Config: &Config{}}
	for _, rule := range bundle.Rules {
		if !rule.Active {
			continue
		}
		if reason := c.compileRule(out.Config, d, rule, upstreams); reason != "" {
			out.Skipped = append(out.Skipped, fmt.Sprintf("rule %d: %s", rule.ID, reason))
		}
	}
	return out, nil
}

// compileRule adds the routers, service and middlewares of one rule. It
// returns a non-empty reason when the rule is skipped.
func (c *Compiler) compileRule(cfg *Config, d *domain.Domain, rule *domain.ProxyRule, upstreams map[int64]*domain.Upstream) string {
	target, health, reason := resolveTarget(rule, upstreams)
	if reason != "" {
		return reason
	}
	if strings.ContainsRune(rule.PathPattern, '`') {
		return "path pattern contains a backtick"
	}

	routerName := RouterName(d.Name, rule.ID)
	serviceName := ServiceName(d.Name, rule.ID)
	match := matchRule(d.Name, rule.PathPattern, rule.HTTPMethod)

	cfg.Services = append(cfg.Services, &Service{
		Name:        serviceName,
		Servers:     []string{target},
		HealthCheck: health,
	})

	var middlewares []string
	if rule.StripPrefix && rule.PathPattern != "" {
		name := MiddlewareName(KindStrip, d.Name, rule.ID)
		cfg.addMiddleware(&Middleware{
			Name:        name,
			StripPrefix: &StripPrefix{Prefixes: []string{rule.PathPattern}},
		})
		middlewares = append(middlewares, name)
	}

	httpsName := MiddlewareName(KindHTTPS, d.Name, rule.ID)
	if d.ForceHTTPS {
		cfg.addMiddleware(&Middleware{
			Name:           httpsName,
			RedirectScheme: &RedirectScheme{Scheme: "https", Permanent: true},
		})
		middlewares = append(middlewares, httpsName)
	}

	if d.WWWRedirect {
		name := MiddlewareName(KindWWW, d.Name, rule.ID)
		cfg.addMiddleware(&Middleware{Name: name, RedirectRegex: wwwRedirect(d.WWWRedirectType)})
		middlewares = append(middlewares, name)
	}

	if len(d.SecurityHeaders) > 0 {
		name := MiddlewareName(KindSecurity, d.Name, rule.ID)
		headers := make(map[string]string, len(d.SecurityHeaders))
		for k, v := range d.SecurityHeaders {
			headers[k] = v
		}
		cfg.addMiddleware(&Middleware{Name: name, Headers: &Headers{CustomRequestHeaders: headers}})
		middlewares = append(middlewares, name)
	}

	primary := &Router{
		Name:        routerName,
		Rule:        match,
		Service:     serviceName,
		EntryPoints: c.entryPoints(d, rule),
		Priority:    rule.Priority,
		Middlewares: middlewares,
	}
	if d.AutoTLS {
		primary.TLS = &RouterTLS{CertResolver: c.certResolver}
	}
	cfg.Routers = append(cfg.Routers, primary)

	if d.ForceHTTPS {
		cfg.Routers = append(cfg.Routers, &Router{
			Name:        HTTPRouterName(d.Name, rule.ID),
			Rule:        match,
			Service:     InternalNoopService,
			EntryPoints: []string{EntryPointWeb},
			Priority:    rule.Priority,
			Middlewares: []string{httpsName},
		})
	}
	return ""
}

// resolveTarget picks the backend URL and health check for a rule.
func resolveTarget(rule *domain.ProxyRule, upstreams map[int64]*domain.Upstream) (string, *HealthCheck, string) {
	if rule.UpstreamID != nil {
		up, ok := upstreams[*rule.UpstreamID]
		if !ok {
			return "", nil, fmt.Sprintf("upstream %d not found", *rule.UpstreamID)
		}
		if !up.Active {
			return "", nil, fmt.Sprintf("upstream %d is inactive", up.ID)
		}
		if up.TargetURL == "" {
			return "", nil, fmt.Sprintf("upstream %d has no target", up.ID)
		}
		var health *HealthCheck
		if up.HealthCheckPath != "" {
			interval := up.HealthCheckInterval
			if interval <= 0 {
				interval = domain.DefaultHealthCheckInterval
			}
			health = &HealthCheck{Path: up.HealthCheckPath, Interval: strconv.Itoa(interval) + "s"}
		}
		return up.TargetURL, health, ""
	}
	if rule.TargetURL == "" {
		return "", nil, "no target"
	}
	return rule.TargetURL, nil, ""
}

// matchRule builds the router rule expression.
func matchRule(host, pathPattern, method string) string {
	parts := []string{"Host(`" + host + "`)"}
	if pathPattern != "" {
		parts = append(parts, "PathPrefix(`"+pathPattern+"`)")
	}
	if method != "" && method != domain.MethodAny {
		parts = append(parts, "Method(`"+strings.ToUpper(method)+"`)")
	}
	return strings.Join(parts, " && ")
}

// entryPoints chooses the entry points of a primary router.
func (c *Compiler) entryPoints(d *domain.Domain, rule *domain.ProxyRule) []string {
	if d.AutoTLS {
		return []string{EntryPointWebSecure}
	}
	if rule.SourcePort != nil {
		switch port := *rule.SourcePort; port {
		case 80:
			return []string{EntryPointWeb}
		case 443:
			return []string{EntryPointWebSecure}
		default:
			return []string{"port" + strconv.Itoa(port)}
		}
	}
	return []string{EntryPointWeb}
}

// wwwRedirect returns the regex redirect for a www mode. Unknown modes fall
// back to stripping www.
func wwwRedirect(mode string) *RedirectRegex {
	if mode == domain.NonWWWToWWW {
		return &RedirectRegex{Regex: nonWWWToWWWRegex, Replacement: nonWWWToWWWReplacement, Permanent: true}
	}
	return &RedirectRegex{Regex: wwwToNonWWWRegex, Replacement: wwwToNonWWWReplacement, Permanent: true}
}

// CompileRedirects compiles every active redirect in the snapshot into one
// config. Redirects are processed by priority descending; a redirect whose
// domain is not in the snapshot is skipped. Redirects with the same domain,
// source pattern and target share one middleware, defined by the first.
func (c *Compiler) CompileRedirects(snap *domain.Snapshot) (*Config, []string) {
	cfg := &Config{}
	var skipped []string

	cfg.Services = append(cfg.Services, &Service{
		Name:    RedirectService,
		Servers: []string{RedirectSinkURL},
	})

	for _, rr := range snap.Redirects() {
		if !rr.Active {
			continue
		}
		d, ok := snap.DomainByID(rr.DomainID)
		if !ok {
			skipped = append(skipped, fmt.Sprintf("redirect %d: domain %d not active", rr.ID, rr.DomainID))
			continue
		}
		if rr.TargetURL == "" {
			skipped = append(skipped, fmt.Sprintf("redirect %d: no target", rr.ID))
			continue
		}
		if strings.ContainsRune(d.Name+rr.SourcePattern, '`') {
			skipped = append(skipped, fmt.Sprintf("redirect %d: pattern contains a backtick", rr.ID))
			continue
		}

		name := RedirectMiddlewareName(d.Name, rr.SourcePattern, rr.TargetURL)
		cfg.addMiddleware(&Middleware{Name: name, RedirectRegex: redirectFor(rr)})

		cfg.Routers = append(cfg.Routers, &Router{
			Name:        RedirectRouterName(rr.ID),
			Rule:        matchRule(d.Name, rr.SourcePattern, domain.MethodAny),
			Service:     RedirectService,
			EntryPoints: []string{EntryPointWeb, EntryPointWebSecure},
			Priority:    rr.Priority,
			Middlewares: []string{name},
		})
	}
	return cfg, skipped
}

func redirectFor(rr *domain.RedirectRule) *RedirectRegex {
	target := literalReplacement(rr.TargetURL)
	if rr.PreserveQuery {
		return &RedirectRegex{
			Regex:       redirectPreserveQueryRegex,
			Replacement: target + queryPlaceholder,
			Permanent:   rr.Permanent(),
		}
	}
	return &RedirectRegex{Regex: redirectRegex, Replacement: target, Permanent: rr.Permanent()}
}

// literalReplacement escapes s for use as a regexp replacement template, so
// Traefik writes it back verbatim.
func literalReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
