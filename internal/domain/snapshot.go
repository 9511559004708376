package domain

// DomainBundle is an active domain with its active rules and redirects.
// Rules and redirects are ordered by priority descending, then by ID.
type DomainBundle struct {
	Domain    *Domain
	Rules     []*ProxyRule
	Redirects []*RedirectRule
}

// Snapshot is a consistent read of everything configuration generation needs.
type Snapshot struct {
	Domains   []*DomainBundle
	Upstreams map[int64]*Upstream
}

// Redirects returns every redirect across all domains, ordered by priority
// descending, then by ID.
func (s *Snapshot) Redirects() []*RedirectRule {
	var out []*RedirectRule
	for _, b := range s.Domains {
		out = append(out, b.Redirects...)
	}
	SortRedirects(out)
	return out
}

// DomainByID looks up an active domain in the snapshot.
func (s *Snapshot) DomainByID(id int64) (*Domain, bool) {
	for _, b := range s.Domains {
		if b.Domain.ID == id {
			return b.Domain, true
		}
	}
	return nil, false
}
