package sql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
)

//go:embed migrations/*/*.sql
var embedMigrations embed.FS

var _ storage.Storage = (*Store)(nil)

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// isForeignKeyViolation checks if an error is a FOREIGN KEY constraint violation.
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "FOREIGN KEY constraint failed") ||
		strings.Contains(errStr, "violates foreign key constraint")
}

// wrapWriteError converts constraint violations to domain errors.
func wrapWriteError(err error) error {
	switch {
	case isUniqueViolation(err):
		return domain.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return domain.ErrNotFound
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store and applies pending migrations.
// Supported drivers are "sqlite3" and "postgres".
func New(driver, dsn string) (*Store, error) {
	if driver != "sqlite3" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if driver == "sqlite3" {
		// SQLite allows one writer; a single connection avoids "database is locked".
		db.SetMaxOpenConns(1)
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations/"+driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func expectAffected(result sql.Result) error {
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapWriteError(err)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := s.db.GetContext(ctx, &key,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys WHERE key_hash = $1`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	keys := []*domain.APIKey{}
	err := s.db.SelectContext(ctx, &keys,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

// ============================================
// Domains
// ============================================

const domainColumns = `id, name, active, auto_tls, force_https, block_external_access,
	www_redirect, www_redirect_type, security_headers, bind_ip, created_at, updated_at`

func (s *Store) CreateDomain(ctx context.Context, d *domain.Domain) error {
	d.CreatedAt = now()
	d.UpdatedAt = d.CreatedAt
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO domains (name, active, auto_tls, force_https, block_external_access,
			www_redirect, www_redirect_type, security_headers, bind_ip, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		d.Name, d.Active, d.AutoTLS, d.ForceHTTPS, d.BlockExternalAccess,
		d.WWWRedirect, d.WWWRedirectType, d.SecurityHeaders, d.BindIP, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.ID)
	return wrapWriteError(err)
}

func getDomain(ctx context.Context, db dbInterface, where string, arg any) (*domain.Domain, error) {
	var d domain.Domain
	err := db.GetContext(ctx, &d, `SELECT `+domainColumns+` FROM domains WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetDomain(ctx context.Context, id int64) (*domain.Domain, error) {
	return getDomain(ctx, s.db, `id = $1`, id)
}

func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	return getDomain(ctx, s.db, `name = $1`, name)
}

func listDomains(ctx context.Context, db dbInterface, activeOnly bool) ([]*domain.Domain, error) {
	query := `SELECT ` + domainColumns + ` FROM domains`
	if activeOnly {
		query += ` WHERE active = $1`
	}
	query += ` ORDER BY name`

	domains := []*domain.Domain{}
	var err error
	if activeOnly {
		err = db.SelectContext(ctx, &domains, query, true)
	} else {
		err = db.SelectContext(ctx, &domains, query)
	}
	if err != nil {
		return nil, err
	}
	return domains, nil
}

func (s *Store) ListDomains(ctx context.Context) ([]*domain.Domain, error) {
	return listDomains(ctx, s.db, false)
}

func (s *Store) UpdateDomain(ctx context.Context, d *domain.Domain) error {
	d.UpdatedAt = now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE domains SET name = $1, active = $2, auto_tls = $3, force_https = $4,
			block_external_access = $5, www_redirect = $6, www_redirect_type = $7,
			security_headers = $8, bind_ip = $9, updated_at = $10
		 WHERE id = $11`,
		d.Name, d.Active, d.AutoTLS, d.ForceHTTPS, d.BlockExternalAccess, d.WWWRedirect,
		d.WWWRedirectType, d.SecurityHeaders, d.BindIP, d.UpdatedAt, d.ID)
	if err != nil {
		return wrapWriteError(err)
	}
	return expectAffected(result)
}

// DeleteDomain removes the domain with its rules and redirects. The children
// are deleted explicitly since SQLite only enforces ON DELETE CASCADE when
// foreign keys are enabled on the connection.
func (s *Store) DeleteDomain(ctx context.Context, id int64) error {
	return s.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM proxy_rules WHERE domain_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM redirect_rules WHERE domain_id = $1`, id); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM domains WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return expectAffected(result)
	})
}

// ============================================
// Proxy Rules
// ============================================

const ruleColumns = `id, domain_id, path_pattern, source_port, http_method, target_url, upstream_id,
	priority, active, locked, strip_prefix, maintain_query_strings, created_at, updated_at`

func (s *Store) CreateProxyRule(ctx context.Context, rule *domain.ProxyRule) error {
	return s.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		if _, err := getDomain(ctx, tx, `id = $1`, rule.DomainID); err != nil {
			return err
		}
		rule.CreatedAt = now()
		rule.UpdatedAt = rule.CreatedAt
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO proxy_rules (domain_id, path_pattern, source_port, http_method, target_url,
				upstream_id, priority, active, locked, strip_prefix, maintain_query_strings,
				created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 RETURNING id`,
			rule.DomainID, rule.PathPattern, rule.SourcePort, rule.HTTPMethod, rule.TargetURL,
			rule.UpstreamID, rule.Priority, rule.Active, rule.Locked, rule.StripPrefix,
			rule.MaintainQueryStrings, rule.CreatedAt, rule.UpdatedAt,
		).Scan(&rule.ID)
		return wrapWriteError(err)
	})
}

func (s *Store) GetProxyRule(ctx context.Context, id int64) (*domain.ProxyRule, error) {
	var rule domain.ProxyRule
	err := s.db.GetContext(ctx, &rule, `SELECT `+ruleColumns+` FROM proxy_rules WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Store) ListProxyRules(ctx context.Context, domainID int64) ([]*domain.ProxyRule, error) {
	rules := []*domain.ProxyRule{}
	err := s.db.SelectContext(ctx, &rules,
		`SELECT `+ruleColumns+` FROM proxy_rules WHERE domain_id = $1 ORDER BY priority DESC, id`, domainID)
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) UpdateProxyRule(ctx context.Context, rule *domain.ProxyRule) error {
	rule.UpdatedAt = now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE proxy_rules SET path_pattern = $1, source_port = $2, http_method = $3, target_url = $4,
			upstream_id = $5, priority = $6, active = $7, locked = $8, strip_prefix = $9,
			maintain_query_strings = $10, updated_at = $11
		 WHERE id = $12`,
		rule.PathPattern, rule.SourcePort, rule.HTTPMethod, rule.TargetURL, rule.UpstreamID,
		rule.Priority, rule.Active, rule.Locked, rule.StripPrefix, rule.MaintainQueryStrings,
		rule.UpdatedAt, rule.ID)
	if err != nil {
		return wrapWriteError(err)
	}
	return expectAffected(result)
}

func (s *Store) DeleteProxyRule(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM proxy_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// ============================================
// Redirect Rules
// ============================================

const redirectColumns = `id, domain_id, source_pattern, target_url, priority, active,
	preserve_query, redirect_type, created_at, updated_at`

func (s *Store) CreateRedirectRule(ctx context.Context, rule *domain.RedirectRule) error {
	return s.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		if _, err := getDomain(ctx, tx, `id = $1`, rule.DomainID); err != nil {
			return err
		}
		rule.CreatedAt = now()
		rule.UpdatedAt = rule.CreatedAt
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO redirect_rules (domain_id, source_pattern, target_url, priority, active,
				preserve_query, redirect_type, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			rule.DomainID, rule.SourcePattern, rule.TargetURL, rule.Priority, rule.Active,
			rule.PreserveQuery, rule.RedirectType, rule.CreatedAt, rule.UpdatedAt,
		).Scan(&rule.ID)
		return wrapWriteError(err)
	})
}

func (s *Store) GetRedirectRule(ctx context.Context, id int64) (*domain.RedirectRule, error) {
	var rule domain.RedirectRule
	err := s.db.GetContext(ctx, &rule, `SELECT `+redirectColumns+` FROM redirect_rules WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Store) ListRedirectRules(ctx context.Context, domainID int64) ([]*domain.RedirectRule, error) {
	rules := []*domain.RedirectRule{}
	err := s.db.SelectContext(ctx, &rules,
		`SELECT `+redirectColumns+` FROM redirect_rules WHERE domain_id = $1 ORDER BY priority DESC, id`, domainID)
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) UpdateRedirectRule(ctx context.Context, rule *domain.RedirectRule) error {
	rule.UpdatedAt = now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE redirect_rules SET source_pattern = $1, target_url = $2, priority = $3, active = $4,
			preserve_query = $5, redirect_type = $6, updated_at = $7
		 WHERE id = $8`,
		rule.SourcePattern, rule.TargetURL, rule.Priority, rule.Active, rule.PreserveQuery,
		rule.RedirectType, rule.UpdatedAt, rule.ID)
	if err != nil {
		return wrapWriteError(err)
	}
	return expectAffected(result)
}

func (s *Store) DeleteRedirectRule(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM redirect_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// ============================================
// Upstreams
// ============================================

const upstreamColumns = `id, name, target_url, active, health_check_path, health_check_interval,
	created_at, updated_at`

func (s *Store) CreateUpstream(ctx context.Context, up *domain.Upstream) error {
	up.CreatedAt = now()
	up.UpdatedAt = up.CreatedAt
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO upstreams (name, target_url, active, health_check_path, health_check_interval,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		up.Name, up.TargetURL, up.Active, up.HealthCheckPath, up.HealthCheckInterval,
		up.CreatedAt, up.UpdatedAt,
	).Scan(&up.ID)
	return wrapWriteError(err)
}

func (s *Store) GetUpstream(ctx context.Context, id int64) (*domain.Upstream, error) {
	var up domain.Upstream
	err := s.db.GetContext(ctx, &up, `SELECT `+upstreamColumns+` FROM upstreams WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &up, nil
}

func listUpstreams(ctx context.Context, db dbInterface) ([]*domain.Upstream, error) {
	ups := []*domain.Upstream{}
	if err := db.SelectContext(ctx, &ups, `SELECT `+upstreamColumns+` FROM upstreams ORDER BY name`); err != nil {
		return nil, err
	}
	return ups, nil
}

func (s *Store) ListUpstreams(ctx context.Context) ([]*domain.Upstream, error) {
	return listUpstreams(ctx, s.db)
}

func (s *Store) UpdateUpstream(ctx context.Context, up *domain.Upstream) error {
	up.UpdatedAt = now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE upstreams SET name = $1, target_url = $2, active = $3, health_check_path = $4,
			health_check_interval = $5, updated_at = $6
		 WHERE id = $7`,
		up.Name, up.TargetURL, up.Active, up.HealthCheckPath, up.HealthCheckInterval, up.UpdatedAt, up.ID)
	if err != nil {
		return wrapWriteError(err)
	}
	return expectAffected(result)
}

func (s *Store) DeleteUpstream(ctx context.Context, id int64) error {
	return s.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		var refs int
		if err := tx.GetContext(ctx, &refs, `SELECT COUNT(*) FROM proxy_rules WHERE upstream_id = $1`, id); err != nil {
			return err
		}
		if refs > 0 {
			return fmt.Errorf("%w: upstream %d is used by %d proxy rule(s)", domain.ErrConflict, id, refs)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM upstreams WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return expectAffected(result)
	})
}

// ============================================
// Generations
// ============================================

const generationColumns = `id, state_hash, status, error, file_count, written, removed, duration_ms, created_at`

func (s *Store) CreateGeneration(ctx context.Context, g *domain.Generation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations (`+generationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		g.ID, g.StateHash, g.Status, g.Error, g.FileCount, g.Written, g.Removed, g.Duration, g.CreatedAt)
	return wrapWriteError(err)
}

func (s *Store) GetLatestGeneration(ctx context.Context) (*domain.Generation, error) {
	var g domain.Generation
	err := s.db.GetContext(ctx, &g,
		`SELECT `+generationColumns+` FROM generations ORDER BY created_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) ListGenerations(ctx context.Context, limit, offset int) ([]*domain.Generation, error) {
	gens := []*domain.Generation{}
	err := s.db.SelectContext(ctx, &gens,
		`SELECT `+generationColumns+` FROM generations ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	return gens, nil
}

// ============================================
// Snapshot
// ============================================

// LoadSnapshot reads everything in one read-only transaction.
func (s *Store) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{Upstreams: map[int64]*domain.Upstream{}}

	err := s.withTx(ctx, &sql.TxOptions{ReadOnly: s.driver == "postgres"}, func(tx *sqlx.Tx) error {
		domains, err := listDomains(ctx, tx, true)
		if err != nil {
			return fmt.Errorf("loading domains: %w", err)
		}

		var rules []*domain.ProxyRule
		if err := tx.SelectContext(ctx, &rules,
			`SELECT `+ruleColumns+` FROM proxy_rules WHERE active = $1 ORDER BY priority DESC, id`, true); err != nil {
			return fmt.Errorf("loading proxy rules: %w", err)
		}

		var redirects []*domain.RedirectRule
		if err := tx.SelectContext(ctx, &redirects,
			`SELECT `+redirectColumns+` FROM redirect_rules WHERE active = $1 ORDER BY priority DESC, id`, true); err != nil {
			return fmt.Errorf("loading redirect rules: %w", err)
		}

		ups, err := listUpstreams(ctx, tx)
		if err != nil {
			return fmt.Errorf("loading upstreams: %w", err)
		}
		for _, u := range ups {
			snap.Upstreams[u.ID] = u
		}

		bundles := make(map[int64]*domain.DomainBundle, len(domains))
		for _, d := range domains {
			b := &domain.DomainBundle{Domain: d}
			bundles[d.ID] = b
			snap.Domains = append(snap.Domains, b)
		}
		for _, r := range rules {
			if b, ok := bundles[r.DomainID]; ok {
				b.Rules = append(b.Rules, r)
			}
		}
		for _, r := range redirects {
			if b, ok := bundles[r.DomainID]; ok {
				b.Redirects = append(b.Redirects, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
