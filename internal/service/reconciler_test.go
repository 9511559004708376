package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/nginx"
	"github.com/bcnelson/traefik-route-manager/internal/publisher"
	"github.com/bcnelson/traefik-route-manager/internal/storage"
	"github.com/bcnelson/traefik-route-manager/internal/storage/memory"
	"github.com/bcnelson/traefik-route-manager/internal/traefik"
)

// countingStore counts snapshot loads and can hold them until released.
type countingStore struct {
	storage.Storage
	loads   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *countingStore) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	s.loads.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Storage.LoadSnapshot(ctx)
}

func setup(t *testing.T) (*Reconciler, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	dir := filepath.Join(t.TempDir(), "dynamic")
	r := NewReconciler(store, traefik.New(""), publisher.New(dir), Options{Debounce: 10 * time.Millisecond})
	return r, store, dir
}

func addDomain(t *testing.T, store storage.Storage, name string) *domain.Domain {
	t.Helper()
	d := &domain.Domain{Name: name, Active: true, ForceHTTPS: true}
	require.NoError(t, store.CreateDomain(context.Background(), d))
	return d
}

func addRule(t *testing.T, store storage.Storage, domainID int64, path string) *domain.ProxyRule {
	t.Helper()
	rule := &domain.ProxyRule{
		DomainID:             domainID,
		PathPattern:          path,
		HTTPMethod:           domain.MethodAny,
		TargetURL:            "http://backend:8080",
		Active:               true,
		MaintainQueryStrings: true,
	}
	require.NoError(t, store.CreateProxyRule(context.Background(), rule))
	return rule
}

func TestRegenerate_WritesFiles(t *testing.T) {
	r, store, dir := setup(t)
	d := addDomain(t, store, "shop.test")
	addRule(t, store, d.ID, "")

	report, err := r.Regenerate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.GenerationSuccess, report.Generation.Status)
	assert.Len(t, report.Written, 2)
	require.Len(t, report.Domains, 1)
	assert.Equal(t, domain.DomainGenerated, report.Domains[0].Status)
	assert.Equal(t, "routes-shop_test.yml", report.Domains[0].File)

	content, err := os.ReadFile(filepath.Join(dir, "routes-shop_test.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Host(`shop.test`)")
	assert.FileExists(t, filepath.Join(dir, traefik.RedirectsFile))

	latest, err := store.GetLatestGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.Generation.ID, latest.ID)
	assert.Equal(t, 2, latest.FileCount)
	assert.False(t, r.Pending())
}

func TestRegenerate_Idempotent(t *testing.T) {
	r, store, _ := setup(t)
	d := addDomain(t, store, "shop.test")
	addRule(t, store, d.ID, "/api")

	first, err := r.Regenerate(context.Background())
	require.NoError(t, err)
	second, err := r.Regenerate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Generation.StateHash, second.Generation.StateHash)
	assert.Empty(t, second.Written)
	assert.Len(t, second.Unchanged, 2)
	assert.Equal(t, 0, second.Generation.Written)
}

func TestRegenerate_RestoresDeletedFile(t *testing.T) {
	r, store, dir := setup(t)
	d := addDomain(t, store, "shop.test")
	addRule(t, store, d.ID, "")

	_, err := r.Regenerate(context.Background())
	require.NoError(t, err)

	path := filepath.Join(dir, "routes-shop_test.yml")
	require.NoError(t, os.Remove(path))

	report, err := r.Regenerate(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.Written, path)
	assert.FileExists(t, path)
}

func TestRegenerate_RepairsEditedAndStrayFiles(t *testing.T) {
	r, store, dir := setup(t)
	d := addDomain(t, store, "shop.test")
	addRule(t, store, d.ID, "")

	_, err := r.Regenerate(context.Background())
	require.NoError(t, err)

	path := filepath.Join(dir, "routes-shop_test.yml")
	want, err := os.ReadFile(path)
	require.NoError(t, err)

	stray := filepath.Join(dir, "routes-stray_test.yml")
	require.NoError(t, os.WriteFile(path, []byte("http: {}\n"), 0o644))
	require.NoError(t, os.WriteFile(stray, []byte("http: {}\n"), 0o644))

	report, err := r.Regenerate(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.Written, path)
	assert.Contains(t, report.Removed, stray)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
	assert.NoFileExists(t, stray)
}

func TestRegenerate_PrunesRemovedDomain(t *testing.T) {
	r, store, dir := setup(t)
	d := addDomain(t, store, "old.test")
	addRule(t, store, d.ID, "")

	_, err := r.Regenerate(context.Background())
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "routes-old_test.yml"))

	require.NoError(t, store.DeleteDomain(context.Background(), d.ID))
	report, err := r.Regenerate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "routes-old_test.yml")}, report.Removed)
	assert.NoFileExists(t, filepath.Join(dir, "routes-old_test.yml"))
}

func TestRegenerate_DomainOutcomes(t *testing.T) {
	r, store, dir := setup(t)
	good := addDomain(t, store, "good.test")
	addRule(t, store, good.ID, "")
	addDomain(t, store, "empty.test")
	bad := addDomain(t, store, "bad`name.test")
	addRule(t, store, bad.ID, "")

	report, err := r.Regenerate(context.Background())
	require.NoError(t, err)

	byName := map[string]*domain.DomainResult{}
	for _, d := range report.Domains {
		byName[d.Domain] = d
	}
	assert.Equal(t, domain.DomainGenerated, byName["good.test"].Status)
	assert.Equal(t, domain.DomainSkipped, byName["empty.test"].Status)
	assert.Equal(t, domain.DomainFailed, byName["bad`name.test"].Status)
	assert.NotEmpty(t, byName["bad`name.test"].Reason)

	assert.Equal(t, domain.GenerationPartial, report.Generation.Status)
	assert.Contains(t, report.Generation.Error, "bad`name.test")
	assert.NoFileExists(t, filepath.Join(dir, "routes-empty_test.yml"))
}

func TestRegenerate_FailedDomainKeepsPreviousFile(t *testing.T) {
	r, store, dir := setup(t)
	bad := addDomain(t, store, "bad`name.test")
	addRule(t, store, bad.ID, "")

	path := filepath.Join(dir, traefik.FileName(bad.Name))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	report, err := r.Regenerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationPartial, report.Generation.Status)
	assert.Empty(t, report.Removed)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(content))
	assert.False(t, r.Drifted(filepath.Base(path)))
}

func TestRegenerate_PublishFailure(t *testing.T) {
	store := memory.New()
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	r := NewReconciler(store, traefik.New(""), publisher.New(filepath.Join(blocker, "dynamic")), Options{})

	report, err := r.Regenerate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	require.NotNil(t, report)
	assert.Equal(t, domain.GenerationFailed, report.Generation.Status)
	assert.True(t, r.Pending())

	latest, err := store.GetLatestGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationFailed, latest.Status)
	assert.NotEmpty(t, latest.Error)

	status, err := r.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Pending)
	assert.Equal(t, latest.ID, status.Latest.ID)
}

func TestRegenerate_CoalescesConcurrentCallers(t *testing.T) {
	store := &countingStore{
		Storage: memory.New(),
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	dir := t.TempDir()
	r := NewReconciler(store, traefik.New(""), publisher.New(dir), Options{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := r.Regenerate(context.Background())
		firstDone <- err
	}()
	<-store.entered

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Regenerate(context.Background())
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.next != nil && r.next.waiters == callers
	}, time.Second, 5*time.Millisecond)

	close(store.release)
	require.NoError(t, <-firstDone)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, int32(2), store.loads.Load())
}

func TestRegenerate_AbandonedQueuedPassStaysPending(t *testing.T) {
	store := &countingStore{
		Storage: memory.New(),
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	r := NewReconciler(store, traefik.New(""), publisher.New(t.TempDir()), Options{})

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = r.Regenerate(context.Background())
	}()
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Regenerate(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.mu.Lock()
	assert.Nil(t, r.next)
	r.mu.Unlock()
	assert.True(t, r.Pending())

	close(store.release)
	<-firstDone
	assert.Equal(t, int32(1), store.loads.Load())
	assert.True(t, r.Pending(), "the finished pass started before the abandoned request")
}

func TestTrigger_Debounces(t *testing.T) {
	store := &countingStore{Storage: memory.New()}
	r := NewReconciler(store, traefik.New(""), publisher.New(t.TempDir()), Options{Debounce: 20 * time.Millisecond})

	for i := 0; i < 5; i++ {
		r.Trigger()
	}
	assert.True(t, r.Pending())

	require.Eventually(t, func() bool { return !r.Pending() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), store.loads.Load())
}

func TestRun_RetriesPending(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "dynamic")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	r := NewReconciler(memory.New(), traefik.New(""), publisher.New(blocker), Options{})

	_, err := r.Regenerate(context.Background())
	require.Error(t, err)
	require.True(t, r.Pending())

	require.NoError(t, os.Remove(blocker))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool { return !r.Pending() }, time.Second, 5*time.Millisecond)
	assert.FileExists(t, filepath.Join(blocker, traefik.RedirectsFile))
}

func TestPreview_WritesNothing(t *testing.T) {
	r, store, dir := setup(t)
	d := addDomain(t, store, "shop.test")
	addRule(t, store, d.ID, "")
	other := addDomain(t, store, "other.test")
	addRule(t, store, other.ID, "")

	preview, err := r.Preview(context.Background())
	require.NoError(t, err)
	assert.NoDirExists(t, dir)
	assert.Len(t, preview.Files, 3)
	assert.NotEmpty(t, preview.StateHash)

	one := preview.ForDomain("shop.test")
	require.Len(t, one.Files, 1)
	assert.Equal(t, "routes-shop_test.yml", one.Files[0].Name)
	assert.Equal(t, domain.OutputTraefik, one.Files[0].Output)
	assert.Contains(t, one.Files[0].Content, "shop.test")

	report, err := r.Regenerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, preview.StateHash, report.Generation.StateHash)

	gens, err := r.ListGenerations(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, gens, 1)
}

func TestRegenerate_Nginx(t *testing.T) {
	r, store, _ := setup(t)
	nginxDir := filepath.Join(t.TempDir(), "sites")
	r.WithNginx(nginx.New(""), publisher.New(nginxDir))

	d := addDomain(t, store, "shop.test")
	addRule(t, store, d.ID, "")

	report, err := r.Regenerate(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.Written, filepath.Join(nginxDir, "shop_test.conf"))
	assert.Equal(t, 3, report.Generation.FileCount)

	require.NoError(t, store.DeleteDomain(context.Background(), d.ID))
	report, err = r.Regenerate(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.Removed, filepath.Join(nginxDir, "shop_test.conf"))
}

func TestDrifted(t *testing.T) {
	r, store, dir := setup(t)
	d := addDomain(t, store, "shop.test")
	addRule(t, store, d.ID, "")

	assert.False(t, r.Drifted("routes-shop_test.yml"), "nothing drifts before the first pass")

	_, err := r.Regenerate(context.Background())
	require.NoError(t, err)

	assert.False(t, r.Drifted("routes-shop_test.yml"))
	assert.False(t, r.Drifted(traefik.RedirectsFile))
	assert.False(t, r.Drifted("manual.yml"))

	path := filepath.Join(dir, "routes-shop_test.yml")
	require.NoError(t, os.WriteFile(path, []byte("edited"), 0o644))
	assert.True(t, r.Drifted("routes-shop_test.yml"))

	require.NoError(t, os.Remove(path))
	assert.True(t, r.Drifted("routes-shop_test.yml"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "routes-stray.yml"), []byte("x"), 0o644))
	assert.True(t, r.Drifted("routes-stray.yml"))
}
