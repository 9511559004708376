package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
)

var _ storage.Storage = (*Store)(nil)

// Store is an in-memory implementation of the storage interface for testing.
// Values are copied in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	apiKeys     map[string]*domain.APIKey
	domains     map[int64]*domain.Domain
	rules       map[int64]*domain.ProxyRule
	redirects   map[int64]*domain.RedirectRule
	upstreams   map[int64]*domain.Upstream
	generations []*domain.Generation // append order

	nextID int64
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys:   make(map[string]*domain.APIKey),
		domains:   make(map[int64]*domain.Domain),
		rules:     make(map[int64]*domain.ProxyRule),
		redirects: make(map[int64]*domain.RedirectRule),
		upstreams: make(map[int64]*domain.Upstream),
	}
}

func (s *Store) Close() error { return nil }

// allocID hands out IDs from one sequence shared by all entities. Callers hold mu.
func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

func stamp(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func copyDomain(d *domain.Domain) *domain.Domain {
	c := *d
	if d.SecurityHeaders != nil {
		c.SecurityHeaders = make(domain.HeaderMap, len(d.SecurityHeaders))
		for k, v := range d.SecurityHeaders {
			c.SecurityHeaders[k] = v
		}
	}
	return &c
}

func copyRule(r *domain.ProxyRule) *domain.ProxyRule {
	c := *r
	if r.SourcePort != nil {
		port := *r.SourcePort
		c.SourcePort = &port
	}
	if r.UpstreamID != nil {
		id := *r.UpstreamID
		c.UpstreamID = &id
	}
	return &c
}

func copyRedirect(r *domain.RedirectRule) *domain.RedirectRule {
	c := *r
	return &c
}

func copyUpstream(u *domain.Upstream) *domain.Upstream {
	c := *u
	return &c
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	c := *key
	s.apiKeys[key.ID] = &c
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			c := *key
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		c := *key
		keys = append(keys, &c)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Domains
// ============================================

func (s *Store) CreateDomain(ctx context.Context, d *domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.domains {
		if existing.Name == d.Name {
			return domain.ErrAlreadyExists
		}
	}
	d.ID = s.allocID()
	stamp(&d.CreatedAt, &d.UpdatedAt)
	s.domains[d.ID] = copyDomain(d)
	return nil
}

func (s *Store) GetDomain(ctx context.Context, id int64) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, exists := s.domains[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return copyDomain(d), nil
}

func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.domains {
		if d.Name == name {
			return copyDomain(d), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListDomains(ctx context.Context) ([]*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, copyDomain(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateDomain(ctx context.Context, d *domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.domains[d.ID]; !exists {
		return domain.ErrNotFound
	}
	for _, existing := range s.domains {
		if existing.ID != d.ID && existing.Name == d.Name {
			return domain.ErrAlreadyExists
		}
	}
	stamp(&d.CreatedAt, &d.UpdatedAt)
	s.domains[d.ID] = copyDomain(d)
	return nil
}

func (s *Store) DeleteDomain(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.domains[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.domains, id)
	for rid, r := range s.rules {
		if r.DomainID == id {
			delete(s.rules, rid)
		}
	}
	for rid, r := range s.redirects {
		if r.DomainID == id {
			delete(s.redirects, rid)
		}
	}
	return nil
}

// ============================================
// Proxy Rules
// ============================================

func (s *Store) CreateProxyRule(ctx context.Context, rule *domain.ProxyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.domains[rule.DomainID]; !exists {
		return domain.ErrNotFound
	}
	rule.ID = s.allocID()
	stamp(&rule.CreatedAt, &rule.UpdatedAt)
	s.rules[rule.ID] = copyRule(rule)
	return nil
}

func (s *Store) GetProxyRule(ctx context.Context, id int64) (*domain.ProxyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, exists := s.rules[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return copyRule(r), nil
}

func (s *Store) ListProxyRules(ctx context.Context, domainID int64) ([]*domain.ProxyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rulesFor(domainID, false), nil
}

func (s *Store) rulesFor(domainID int64, activeOnly bool) []*domain.ProxyRule {
	out := []*domain.ProxyRule{}
	for _, r := range s.rules {
		if r.DomainID != domainID || (activeOnly && !r.Active) {
			continue
		}
		out = append(out, copyRule(r))
	}
	domain.SortRules(out)
	return out
}

func (s *Store) UpdateProxyRule(ctx context.Context, rule *domain.ProxyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; !exists {
		return domain.ErrNotFound
	}
	stamp(&rule.CreatedAt, &rule.UpdatedAt)
	s.rules[rule.ID] = copyRule(rule)
	return nil
}

func (s *Store) DeleteProxyRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

// ============================================
// Redirect Rules
// ============================================

func (s *Store) CreateRedirectRule(ctx context.Context, rule *domain.RedirectRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.domains[rule.DomainID]; !exists {
		return domain.ErrNotFound
	}
	rule.ID = s.allocID()
	stamp(&rule.CreatedAt, &rule.UpdatedAt)
	s.redirects[rule.ID] = copyRedirect(rule)
	return nil
}

func (s *Store) GetRedirectRule(ctx context.Context, id int64) (*domain.RedirectRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, exists := s.redirects[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return copyRedirect(r), nil
}

func (s *Store) ListRedirectRules(ctx context.Context, domainID int64) ([]*domain.RedirectRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redirectsFor(domainID, false), nil
}

func (s *Store) redirectsFor(domainID int64, activeOnly bool) []*domain.RedirectRule {
	out := []*domain.RedirectRule{}
	for _, r := range s.redirects {
		if r.DomainID != domainID || (activeOnly && !r.Active) {
			continue
		}
		out = append(out, copyRedirect(r))
	}
	domain.SortRedirects(out)
	return out
}

func (s *Store) UpdateRedirectRule(ctx context.Context, rule *domain.RedirectRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.redirects[rule.ID]; !exists {
		return domain.ErrNotFound
	}
	stamp(&rule.CreatedAt, &rule.UpdatedAt)
	s.redirects[rule.ID] = copyRedirect(rule)
	return nil
}

func (s *Store) DeleteRedirectRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.redirects[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.redirects, id)
	return nil
}

// ============================================
// Upstreams
// ============================================

func (s *Store) CreateUpstream(ctx context.Context, up *domain.Upstream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.upstreams {
		if existing.Name == up.Name {
			return domain.ErrAlreadyExists
		}
	}
	up.ID = s.allocID()
	stamp(&up.CreatedAt, &up.UpdatedAt)
	s.upstreams[up.ID] = copyUpstream(up)
	return nil
}

func (s *Store) GetUpstream(ctx context.Context, id int64) (*domain.Upstream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, exists := s.upstreams[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return copyUpstream(u), nil
}

func (s *Store) ListUpstreams(ctx context.Context) ([]*domain.Upstream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Upstream, 0, len(s.upstreams))
	for _, u := range s.upstreams {
		out = append(out, copyUpstream(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateUpstream(ctx context.Context, up *domain.Upstream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.upstreams[up.ID]; !exists {
		return domain.ErrNotFound
	}
	for _, existing := range s.upstreams {
		if existing.ID != up.ID && existing.Name == up.Name {
			return domain.ErrAlreadyExists
		}
	}
	stamp(&up.CreatedAt, &up.UpdatedAt)
	s.upstreams[up.ID] = copyUpstream(up)
	return nil
}

func (s *Store) DeleteUpstream(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.upstreams[id]; !exists {
		return domain.ErrNotFound
	}
	for _, r := range s.rules {
		if r.UpstreamID != nil && *r.UpstreamID == id {
			return domain.ErrConflict
		}
	}
	delete(s.upstreams, id)
	return nil
}

// ============================================
// Generations
// ============================================

func (s *Store) CreateGeneration(ctx context.Context, g *domain.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.generations {
		if existing.ID == g.ID {
			return domain.ErrAlreadyExists
		}
	}
	c := *g
	s.generations = append(s.generations, &c)
	return nil
}

func (s *Store) GetLatestGeneration(ctx context.Context) (*domain.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.generations) == 0 {
		return nil, domain.ErrNotFound
	}
	c := *s.generations[len(s.generations)-1]
	return &c, nil
}

func (s *Store) ListGenerations(ctx context.Context, limit, offset int) ([]*domain.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Generation, 0, len(s.generations))
	for i := len(s.generations) - 1; i >= 0; i-- {
		c := *s.generations[i]
		out = append(out, &c)
	}
	if offset >= len(out) {
		return []*domain.Generation{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

// ============================================
// Snapshot
// ============================================

func (s *Store) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &domain.Snapshot{Upstreams: make(map[int64]*domain.Upstream, len(s.upstreams))}
	for id, u := range s.upstreams {
		snap.Upstreams[id] = copyUpstream(u)
	}
	for _, d := range s.domains {
		if !d.Active {
			continue
		}
		snap.Domains = append(snap.Domains, &domain.DomainBundle{
			Domain:    copyDomain(d),
			Rules:     s.rulesFor(d.ID, true),
			Redirects: s.redirectsFor(d.ID, true),
		})
	}
	sort.Slice(snap.Domains, func(i, j int) bool {
		return snap.Domains[i].Domain.Name < snap.Domains[j].Domain.Name
	})
	return snap, nil
}
