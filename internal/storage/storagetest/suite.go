// Package storagetest holds behaviour tests shared by every storage.Storage
// implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
)

// Run exercises a store returned by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"DomainCRUD", testDomainCRUD},
		{"DomainNameUnique", testDomainNameUnique},
		{"DeleteDomainCascades", testDeleteDomainCascades},
		{"ProxyRuleOrdering", testProxyRuleOrdering},
		{"ProxyRuleRequiresDomain", testProxyRuleRequiresDomain},
		{"UpstreamInUseConflict", testUpstreamInUseConflict},
		{"RedirectCRUD", testRedirectCRUD},
		{"Generations", testGenerations},
		{"Snapshot", testSnapshot},
		{"APIKeys", testAPIKeys},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func mustDomain(t *testing.T, s storage.Storage, name string, active bool) *domain.Domain {
	t.Helper()
	d := &domain.Domain{Name: name, Active: active, ForceHTTPS: true}
	require.NoError(t, s.CreateDomain(context.Background(), d))
	require.NotZero(t, d.ID)
	return d
}

func mustRule(t *testing.T, s storage.Storage, domainID int64, priority int, active bool) *domain.ProxyRule {
	t.Helper()
	r := &domain.ProxyRule{
		DomainID:   domainID,
		HTTPMethod: domain.MethodAny,
		TargetURL:  "http://backend:8080",
		Priority:   priority,
		Active:     active,
	}
	require.NoError(t, s.CreateProxyRule(context.Background(), r))
	require.NotZero(t, r.ID)
	return r
}

func testDomainCRUD(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	d := &domain.Domain{
		Name:            "shop.test",
		Active:          true,
		ForceHTTPS:      true,
		WWWRedirect:     true,
		WWWRedirectType: domain.WWWToNonWWW,
		SecurityHeaders: domain.HeaderMap{"X-Frame-Options": "DENY"},
		BindIP:          "10.0.0.5",
	}
	require.NoError(t, s.CreateDomain(ctx, d))

	got, err := s.GetDomain(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "shop.test", got.Name)
	assert.True(t, got.ForceHTTPS)
	assert.Equal(t, domain.HeaderMap{"X-Frame-Options": "DENY"}, got.SecurityHeaders)
	assert.Equal(t, "10.0.0.5", got.BindIP)
	assert.False(t, got.CreatedAt.IsZero())

	got.AutoTLS = true
	got.SecurityHeaders = nil
	require.NoError(t, s.UpdateDomain(ctx, got))

	byName, err := s.GetDomainByName(ctx, "shop.test")
	require.NoError(t, err)
	assert.True(t, byName.AutoTLS)
	assert.Empty(t, byName.SecurityHeaders)

	list, err := s.ListDomains(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteDomain(ctx, d.ID))
	_, err = s.GetDomain(ctx, d.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDomain(ctx, d.ID), domain.ErrNotFound)
}

func testDomainNameUnique(t *testing.T, s storage.Storage) {
	mustDomain(t, s, "dup.test", true)
	err := s.CreateDomain(context.Background(), &domain.Domain{Name: "dup.test"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func testDeleteDomainCascades(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	d := mustDomain(t, s, "gone.test", true)
	r := mustRule(t, s, d.ID, 1, true)
	rr := &domain.RedirectRule{DomainID: d.ID, TargetURL: "https://x.test", Active: true, RedirectType: 301}
	require.NoError(t, s.CreateRedirectRule(ctx, rr))

	require.NoError(t, s.DeleteDomain(ctx, d.ID))

	_, err := s.GetProxyRule(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetRedirectRule(ctx, rr.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testProxyRuleOrdering(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	d := mustDomain(t, s, "order.test", true)
	low := mustRule(t, s, d.ID, 10, true)
	high := mustRule(t, s, d.ID, 50, true)
	mid := mustRule(t, s, d.ID, 30, true)
	tie := mustRule(t, s, d.ID, 30, true)

	rules, err := s.ListProxyRules(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, rules, 4)
	assert.Equal(t, []int64{high.ID, mid.ID, tie.ID, low.ID},
		[]int64{rules[0].ID, rules[1].ID, rules[2].ID, rules[3].ID})

	port := 8443
	mid.SourcePort = &port
	mid.Locked = true
	require.NoError(t, s.UpdateProxyRule(ctx, mid))
	got, err := s.GetProxyRule(ctx, mid.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SourcePort)
	assert.Equal(t, 8443, *got.SourcePort)
	assert.True(t, got.Locked)

	require.NoError(t, s.DeleteProxyRule(ctx, low.ID))
	assert.ErrorIs(t, s.DeleteProxyRule(ctx, low.ID), domain.ErrNotFound)
}

func testProxyRuleRequiresDomain(t *testing.T, s storage.Storage) {
	err := s.CreateProxyRule(context.Background(), &domain.ProxyRule{DomainID: 999, Active: true})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testUpstreamInUseConflict(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	up := &domain.Upstream{Name: "api", TargetURL: "http://api:9000", Active: true, HealthCheckPath: "/healthz"}
	require.NoError(t, s.CreateUpstream(ctx, up))
	d := mustDomain(t, s, "up.test", true)
	r := &domain.ProxyRule{DomainID: d.ID, UpstreamID: &up.ID, HTTPMethod: "*", Active: true}
	require.NoError(t, s.CreateProxyRule(ctx, r))

	assert.ErrorIs(t, s.DeleteUpstream(ctx, up.ID), domain.ErrConflict)

	require.NoError(t, s.DeleteProxyRule(ctx, r.ID))
	require.NoError(t, s.DeleteUpstream(ctx, up.ID))
	_, err := s.GetUpstream(ctx, up.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testRedirectCRUD(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	d := mustDomain(t, s, "old.test", true)
	rr := &domain.RedirectRule{
		DomainID:      d.ID,
		SourcePattern: "/blog",
		TargetURL:     "https://new.test/blog",
		Priority:      5,
		Active:        true,
		PreserveQuery: true,
		RedirectType:  domain.RedirectTemporary,
	}
	require.NoError(t, s.CreateRedirectRule(ctx, rr))

	got, err := s.GetRedirectRule(ctx, rr.ID)
	require.NoError(t, err)
	assert.Equal(t, "/blog", got.SourcePattern)
	assert.True(t, got.PreserveQuery)
	assert.False(t, got.Permanent())

	got.RedirectType = domain.RedirectPermanent
	require.NoError(t, s.UpdateRedirectRule(ctx, got))
	list, err := s.ListRedirectRules(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Permanent())

	require.NoError(t, s.DeleteRedirectRule(ctx, rr.ID))
	assert.ErrorIs(t, s.DeleteRedirectRule(ctx, rr.ID), domain.ErrNotFound)
}

func testGenerations(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_, err := s.GetLatestGeneration(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"g1", "g2", "g3"} {
		require.NoError(t, s.CreateGeneration(ctx, &domain.Generation{
			ID:        id,
			StateHash: "hash-" + id,
			Status:    domain.GenerationSuccess,
			FileCount: i + 1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	latest, err := s.GetLatestGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g3", latest.ID)
	assert.Equal(t, "hash-g3", latest.StateHash)

	page, err := s.ListGenerations(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "g2", page[0].ID)
	assert.Equal(t, "g1", page[1].ID)
}

func testSnapshot(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	b := mustDomain(t, s, "b.test", true)
	a := mustDomain(t, s, "a.test", true)
	off := mustDomain(t, s, "off.test", false)
	mustRule(t, s, off.ID, 1, true)

	r1 := mustRule(t, s, a.ID, 1, true)
	r2 := mustRule(t, s, a.ID, 9, true)
	mustRule(t, s, a.ID, 5, false)
	mustRule(t, s, b.ID, 1, true)

	require.NoError(t, s.CreateRedirectRule(ctx, &domain.RedirectRule{DomainID: b.ID, TargetURL: "https://x.test", Active: true, RedirectType: 301}))
	require.NoError(t, s.CreateRedirectRule(ctx, &domain.RedirectRule{DomainID: b.ID, TargetURL: "https://y.test", Active: false, RedirectType: 301}))

	up := &domain.Upstream{Name: "api", TargetURL: "http://api:1", Active: false}
	require.NoError(t, s.CreateUpstream(ctx, up))

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)

	require.Len(t, snap.Domains, 2)
	assert.Equal(t, "a.test", snap.Domains[0].Domain.Name)
	assert.Equal(t, "b.test", snap.Domains[1].Domain.Name)

	rules := snap.Domains[0].Rules
	require.Len(t, rules, 2)
	assert.Equal(t, r2.ID, rules[0].ID)
	assert.Equal(t, r1.ID, rules[1].ID)

	assert.Len(t, snap.Domains[1].Redirects, 1)
	require.Contains(t, snap.Upstreams, up.ID)
	assert.False(t, snap.Upstreams[up.ID].Active, "inactive upstreams are still loaded")
}

func testAPIKeys(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := &domain.APIKey{ID: "k1", Name: "ci", KeyHash: "abc", KeyPrefix: "trm_abcd", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	count, err := s.CountAPIKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := s.GetAPIKeyByHash(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "ci", got.Name)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, "k1"))
	require.NoError(t, s.DeleteAPIKey(ctx, "k1"))
	_, err = s.GetAPIKeyByHash(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
