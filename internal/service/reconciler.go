package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/nginx"
	"github.com/bcnelson/traefik-route-manager/internal/publisher"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
	"github.com/bcnelson/traefik-route-manager/internal/traefik"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultDebounce = 2 * time.Second
)

// Options tunes a Reconciler.
type Options struct {
	// Timeout bounds one generation pass.
	Timeout time.Duration
	// Debounce delays Trigger so bursts collapse into one pass.
	Debounce time.Duration
}

// Reconciler rebuilds the complete proxy configuration from the database and
// publishes it.
//
// Regenerations are serialized: one pass runs at a time and every call that
// arrives while a pass is running shares a single follow-up pass, so each
// caller observes a pass that started after its call.
type Reconciler struct {
	store     storage.Storage
	compiler  *traefik.Compiler
	publisher *publisher.Publisher
	nginx     *nginx.Renderer
	nginxPub  *publisher.Publisher
	timeout   time.Duration
	debounce  time.Duration
	logger    zerolog.Logger

	mu       sync.Mutex
	current  *run
	next     *run
	pending  bool
	marks    uint64 // bumped whenever a change is known to be unpublished
	lastHash string
	expected map[string]string // managed file name -> content digest
	timer    *time.Timer
}

// run is one generation pass and the callers waiting for it.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	waiters int

	report *domain.GenerationReport
	err    error
}

// NewReconciler creates a Reconciler publishing Traefik files through pub.
func NewReconciler(store storage.Storage, compiler *traefik.Compiler, pub *publisher.Publisher, opts Options) *Reconciler {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Reconciler{
		store:     store,
		compiler:  compiler,
		publisher: pub,
		timeout:   opts.Timeout,
		debounce:  opts.Debounce,
		logger:    log.With().Str("component", "reconciler").Logger(),
	}
}

// WithNginx enables nginx virtual-host output published through pub.
func (r *Reconciler) WithNginx(renderer *nginx.Renderer, pub *publisher.Publisher) *Reconciler {
	r.nginx = renderer
	r.nginxPub = pub
	return r
}

// Regenerate rebuilds and publishes the configuration, waiting for the
// result. A pass is abandoned only when every caller waiting on it has gone
// away. On failure the returned error wraps domain.ErrGenerationFailed and
// the report, when one was produced, describes the pass.
func (r *Reconciler) Regenerate(ctx context.Context) (*domain.GenerationReport, error) {
	r.mu.Lock()
	target := r.enqueue()
	target.waiters++
	r.mu.Unlock()

	select {
	case <-target.done:
		return target.report, target.err
	case <-ctx.Done():
		r.mu.Lock()
		target.waiters--
		if target.waiters == 0 {
			target.cancel()
			if r.next == target {
				// Never started; the change it would have published is still outstanding.
				r.next = nil
				r.markPending()
			}
		}
		r.mu.Unlock()
		return nil, ctx.Err()
	}
}

// enqueue returns the pass a new caller should wait for. Callers hold mu.
func (r *Reconciler) enqueue() *run {
	if r.current == nil {
		r.current = newRun()
		go r.execute(r.current)
		return r.current
	}
	if r.next == nil {
		r.next = newRun()
	}
	return r.next
}

func newRun() *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// execute runs passes until no follow-up is queued.
func (r *Reconciler) execute(ru *run) {
	for ru != nil {
		ctx, cancel := context.WithTimeout(ru.ctx, r.timeout)
		ru.report, ru.err = r.generate(ctx)
		cancel()
		ru.cancel()
		close(ru.done)

		r.mu.Lock()
		ru = r.next
		r.next = nil
		r.current = ru
		r.mu.Unlock()
	}
}

// generate performs one pass.
func (r *Reconciler) generate(ctx context.Context) (*domain.GenerationReport, error) {
	start := time.Now()
	gen := &domain.Generation{
		ID:        uuid.New().String(),
		CreatedAt: start.UTC(),
	}
	report := &domain.GenerationReport{Generation: gen}

	r.mu.Lock()
	mark := r.marks
	r.mu.Unlock()

	fail := func(err error) (*domain.GenerationReport, error) {
		gen.Status = domain.GenerationFailed
		gen.Error = err.Error()
		gen.Duration = time.Since(start).Milliseconds()
		r.setPending(true)
		r.record(ctx, gen)
		r.logger.Error().Err(err).Str("generation", gen.ID).Msg("Configuration generation failed")
		return report, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
	}

	snap, err := r.store.LoadSnapshot(ctx)
	if err != nil {
		return fail(fmt.Errorf("loading snapshot: %w", err))
	}

	out := r.build(snap)
	report.Domains = out.domains
	gen.StateHash = out.hash
	gen.FileCount = len(out.traefik) + len(out.nginx)

	if r.upToDate(out) {
		for _, f := range out.traefik {
			report.Unchanged = append(report.Unchanged, r.publisher.Path(f.Name))
		}
		for _, f := range out.nginx {
			report.Unchanged = append(report.Unchanged, r.nginxPub.Path(f.Name))
		}
	} else {
		r.expect(out)

		res, err := r.publisher.Publish(ctx, publisher.Plan{
			Files:    out.traefik,
			Retain:   out.traefikRetain,
			Prunable: traefik.IsDomainFile,
		})
		mergeResult(report, res)
		if err != nil {
			return fail(err)
		}

		if r.nginx != nil {
			res, err := r.nginxPub.Publish(ctx, publisher.Plan{
				Files:    out.nginx,
				Retain:   out.nginxRetain,
				Prunable: nginx.IsConfigFile,
			})
			mergeResult(report, res)
			if err != nil {
				return fail(err)
			}
		}
	}

	gen.Status = domain.GenerationSuccess
	if out.failed() {
		gen.Status = domain.GenerationPartial
		gen.Error = failedDomains(out.domains)
	}
	gen.Written = len(report.Written)
	gen.Removed = len(report.Removed)
	gen.Duration = time.Since(start).Milliseconds()

	r.mu.Lock()
	r.lastHash = out.hash
	if r.marks == mark {
		r.pending = false
	}
	r.mu.Unlock()

	r.record(ctx, gen)
	r.logger.Info().
		Str("generation", gen.ID).
		Str("status", gen.Status).
		Int("files", gen.FileCount).
		Int("written", gen.Written).
		Int("removed", gen.Removed).
		Int64("duration_ms", gen.Duration).
		Msg("Configuration generated")

	return report, nil
}

// upToDate reports whether the last successful pass produced the same state
// and the Traefik directory still holds exactly what it wrote.
func (r *Reconciler) upToDate(out *output) bool {
	r.mu.Lock()
	same := r.lastHash != "" && r.lastHash == out.hash
	r.mu.Unlock()
	if !same {
		return false
	}
	if len(r.publisher.Missing(out.names())) > 0 || r.dirDrifted() {
		return false
	}
	if r.nginx != nil {
		names := make([]string, 0, len(out.nginx))
		for _, f := range out.nginx {
			names = append(names, f.Name)
		}
		if len(r.nginxPub.Missing(names)) > 0 {
			return false
		}
	}
	return true
}

// dirDrifted reports whether a managed Traefik file was edited, or a stale
// one added, since the last pass.
func (r *Reconciler) dirDrifted() bool {
	entries, err := os.ReadDir(r.publisher.Dir())
	if err != nil {
		return true
	}
	for _, e := range entries {
		if !e.IsDir() && r.Drifted(e.Name()) {
			return true
		}
	}
	return false
}

// expect records the Traefik files a pass is about to publish, for drift detection.
func (r *Reconciler) expect(out *output) {
	expected := make(map[string]string, len(out.traefik)+len(out.traefikRetain))
	for _, f := range out.traefik {
		expected[f.Name] = contentSum(f.Content)
	}
	for _, name := range out.traefikRetain {
		expected[name] = ""
	}
	r.mu.Lock()
	r.expected = expected
	r.mu.Unlock()
}

// Drifted reports whether the managed file name in the output directory no
// longer matches what the last pass published. Unmanaged names never drift,
// and nothing drifts before the first pass.
func (r *Reconciler) Drifted(name string) bool {
	if name != traefik.RedirectsFile && !traefik.IsDomainFile(name) {
		return false
	}

	r.mu.Lock()
	expected := r.expected
	r.mu.Unlock()
	if expected == nil {
		return false
	}

	want, managed := expected[name]
	content, err := os.ReadFile(r.publisher.Path(name))
	switch {
	case !managed:
		// A file the last pass would have pruned.
		return err == nil
	case want == "":
		// Kept from an earlier pass after its domain failed; any content is accepted.
		return false
	case err != nil:
		return true
	}
	return contentSum(content) != want
}

func (r *Reconciler) record(ctx context.Context, gen *domain.Generation) {
	// The pass may have been cancelled; the record is still written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.CreateGeneration(ctx, gen); err != nil {
		r.logger.Warn().Err(err).Str("generation", gen.ID).Msg("Failed to record generation")
	}
}

func (r *Reconciler) setPending(v bool) {
	r.mu.Lock()
	r.pending = v
	r.mu.Unlock()
}

// markPending records a change a pass already in flight may not cover.
// Callers hold mu.
func (r *Reconciler) markPending() {
	r.pending = true
	r.marks++
}

func mergeResult(report *domain.GenerationReport, res *publisher.Result) {
	if res == nil {
		return
	}
	report.Written = append(report.Written, res.Written...)
	report.Unchanged = append(report.Unchanged, res.Unchanged...)
	report.Removed = append(report.Removed, res.Removed...)
}

func failedDomains(results []*domain.DomainResult) string {
	var parts []string
	for _, d := range results {
		if d.Status == domain.DomainFailed {
			parts = append(parts, d.Domain+": "+d.Reason)
		}
	}
	return strings.Join(parts, "; ")
}

// Trigger requests a regeneration without waiting for it.
// Multiple triggers within the debounce period will result in a single pass.
func (r *Reconciler) Trigger() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}

	r.markPending()
	r.timer = time.AfterFunc(r.debounce, func() {
		if _, err := r.Regenerate(context.Background()); err != nil {
			r.logger.Warn().Err(err).Msg("Triggered regeneration failed")
		}
	})
}

// Pending reports whether the published configuration is known to be behind
// the database.
func (r *Reconciler) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Status returns the pending flag and the latest recorded generation.
func (r *Reconciler) Status(ctx context.Context) (*domain.ReconcileStatus, error) {
	status := &domain.ReconcileStatus{Pending: r.Pending()}
	latest, err := r.store.GetLatestGeneration(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	status.Latest = latest
	return status, nil
}

// Run retries regeneration every interval while a previous pass left the
// pending flag set. It returns when ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if r.timer != nil {
				r.timer.Stop()
			}
			r.mu.Unlock()
			return
		case <-ticker.C:
			if !r.Pending() {
				continue
			}
			r.logger.Info().Msg("Retrying pending regeneration")
			if _, err := r.Regenerate(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn().Err(err).Msg("Pending regeneration failed")
			}
		}
	}
}

// Preview renders the configuration a regeneration would publish. Nothing is
// written and no generation is recorded.
func (r *Reconciler) Preview(ctx context.Context) (*domain.Preview, error) {
	snap, err := r.store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	out := r.build(snap)

	p := &domain.Preview{StateHash: out.hash, Domains: out.domains}
	for _, f := range out.traefik {
		p.Files = append(p.Files, &domain.PreviewFile{
			Name:    f.Name,
			Output:  domain.OutputTraefik,
			Domain:  out.owner[f.Name],
			Content: string(f.Content),
		})
	}
	for _, f := range out.nginx {
		p.Files = append(p.Files, &domain.PreviewFile{
			Name:    f.Name,
			Output:  domain.OutputNginx,
			Domain:  out.owner[f.Name],
			Content: string(f.Content),
		})
	}
	return p, nil
}

// ListGenerations returns recorded passes, newest first.
func (r *Reconciler) ListGenerations(ctx context.Context, limit, offset int) ([]*domain.Generation, error) {
	return r.store.ListGenerations(ctx, limit, offset)
}
