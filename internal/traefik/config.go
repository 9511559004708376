package traefik

import (
	"sort"

	"github.com/bcnelson/traefik-route-manager/internal/render"
)

// Router is an HTTP router definition.
type Router struct {
	Name        string
	Rule        string
	Service     string
	EntryPoints []string
	Priority    int
	Middlewares []string
	TLS         *RouterTLS
}

// RouterTLS enables TLS on a router.
type RouterTLS struct {
	CertResolver string
}

// Service is a load-balanced service definition.
type Service struct {
	Name        string
	Servers     []string
	HealthCheck *HealthCheck
}

// HealthCheck configures active health checking of a service's servers.
type HealthCheck struct {
	Path     string
	Interval string
}

// Middleware is a middleware definition. Exactly one of the fields is set.
type Middleware struct {
	Name           string
	StripPrefix    *StripPrefix
	RedirectScheme *RedirectScheme
	RedirectRegex  *RedirectRegex
	Headers        *Headers
}

// StripPrefix removes path prefixes before forwarding.
type StripPrefix struct {
	Prefixes []string
}

// RedirectScheme redirects to another scheme.
type RedirectScheme struct {
	Scheme    string
	Permanent bool
}

// RedirectRegex redirects by rewriting the request URL.
type RedirectRegex struct {
	Regex       string
	Replacement string
	Permanent   bool
}

// Headers injects request headers.
type Headers struct {
	CustomRequestHeaders map[string]string
}

// Config is the http section of a dynamic configuration file. Entries keep
// the order in which they were added.
type Config struct {
	Routers     []*Router
	Services    []*Service
	Middlewares []*Middleware
}

// Router returns the router with the given name, or nil.
func (c *Config) Router(name string) *Router {
	for _, r := range c.Routers {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Service returns the service with the given name, or nil.
func (c *Config) Service(name string) *Service {
	for _, s := range c.Services {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Middleware returns the middleware with the given name, or nil.
func (c *Config) Middleware(name string) *Middleware {
	for _, m := range c.Middlewares {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// addMiddleware adds m unless a middleware with the same name exists.
// The first definition wins.
func (c *Config) addMiddleware(m *Middleware) {
	if c.Middleware(m.Name) != nil {
		return
	}
	c.Middlewares = append(c.Middlewares, m)
}

// Empty reports whether the config has no routers.
func (c *Config) Empty() bool {
	return len(c.Routers) == 0
}

// Document converts the config into a render tree rooted at "http".
func (c *Config) Document() *render.Map {
	doc := render.NewMap()
	http := doc.Child("http")

	routers := http.Child("routers")
	for _, r := range c.Routers {
		rm := routers.Child(r.Name)
		rm.Set("rule", r.Rule)
		rm.Set("service", r.Service)
		rm.Set("entryPoints", r.EntryPoints)
		rm.Set("priority", r.Priority)
		rm.Set("middlewares", r.Middlewares)
		if r.TLS != nil {
			rm.Child("tls").Set("certResolver", r.TLS.CertResolver)
		}
	}

	services := http.Child("services")
	for _, s := range c.Services {
		lb := services.Child(s.Name).Child("loadBalancer")
		servers := make([]*render.Map, 0, len(s.Servers))
		for _, u := range s.Servers {
			servers = append(servers, render.NewMap().Set("url", u))
		}
		lb.Set("servers", servers)
		if s.HealthCheck != nil {
			lb.Child("healthCheck").
				Set("path", s.HealthCheck.Path).
				Set("interval", s.HealthCheck.Interval)
		}
	}

	middlewares := http.Child("middlewares")
	for _, m := range c.Middlewares {
		mm := middlewares.Child(m.Name)
		switch {
		case m.StripPrefix != nil:
			mm.Child("stripPrefix").Set("prefixes", m.StripPrefix.Prefixes)
		case m.RedirectScheme != nil:
			mm.Child("redirectScheme").
				Set("scheme", m.RedirectScheme.Scheme).
				Set("permanent", m.RedirectScheme.Permanent)
		case m.RedirectRegex != nil:
			mm.Child("redirectRegex").
				Set("regex", m.RedirectRegex.Regex).
				Set("replacement", m.RedirectRegex.Replacement).
				Set("permanent", m.RedirectRegex.Permanent)
		case m.Headers != nil:
			hm := mm.Child("headers").Child("customRequestHeaders")
			keys := make([]string, 0, len(m.Headers.CustomRequestHeaders))
			for k := range m.Headers.CustomRequestHeaders {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				hm.Set(k, m.Headers.CustomRequestHeaders[k])
			}
		}
	}

	return doc
}

// Render renders the config as a dynamic configuration file.
func (c *Config) Render() []byte {
	return render.Render(c.Document())
}
