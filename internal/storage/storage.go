package storage

import (
	"context"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Domains. CreateDomain assigns the ID. DeleteDomain removes the domain's
	// proxy rules and redirect rules with it.
	CreateDomain(ctx context.Context, d *domain.Domain) error
	GetDomain(ctx context.Context, id int64) (*domain.Domain, error)
	GetDomainByName(ctx context.Context, name string) (*domain.Domain, error)
	ListDomains(ctx context.Context) ([]*domain.Domain, error)
	UpdateDomain(ctx context.Context, d *domain.Domain) error
	DeleteDomain(ctx context.Context, id int64) error

	// Proxy Rules, listed by priority descending then ID.
	CreateProxyRule(ctx context.Context, rule *domain.ProxyRule) error
	GetProxyRule(ctx context.Context, id int64) (*domain.ProxyRule, error)
	ListProxyRules(ctx context.Context, domainID int64) ([]*domain.ProxyRule, error)
	UpdateProxyRule(ctx context.Context, rule *domain.ProxyRule) error
	DeleteProxyRule(ctx context.Context, id int64) error

	// Redirect Rules, listed by priority descending then ID.
	CreateRedirectRule(ctx context.Context, rule *domain.RedirectRule) error
	GetRedirectRule(ctx context.Context, id int64) (*domain.RedirectRule, error)
	ListRedirectRules(ctx context.Context, domainID int64) ([]*domain.RedirectRule, error)
	UpdateRedirectRule(ctx context.Context, rule *domain.RedirectRule) error
	DeleteRedirectRule(ctx context.Context, id int64) error

	// Upstreams. DeleteUpstream returns domain.ErrConflict while a proxy rule
	// still references the upstream.
	CreateUpstream(ctx context.Context, up *domain.Upstream) error
	GetUpstream(ctx context.Context, id int64) (*domain.Upstream, error)
	ListUpstreams(ctx context.Context) ([]*domain.Upstream, error)
	UpdateUpstream(ctx context.Context, up *domain.Upstream) error
	DeleteUpstream(ctx context.Context, id int64) error

	// Generations, newest first.
	CreateGeneration(ctx context.Context, g *domain.Generation) error
	GetLatestGeneration(ctx context.Context) (*domain.Generation, error)
	ListGenerations(ctx context.Context, limit, offset int) ([]*domain.Generation, error)

	// LoadSnapshot reads every active domain with its active proxy rules and
	// redirect rules, plus all upstreams, as one consistent view. Domains are
	// ordered by name; rules and redirects by priority descending then ID.
	LoadSnapshot(ctx context.Context) (*domain.Snapshot, error)
}
