// Package publisher writes generated configuration files into a directory
// watched by a proxy, atomically and under a cross-process lock.
package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nightlyone/lockfile"
	"github.com/rs/zerolog/log"
)

// LockName is the lock file created inside the target directory.
const LockName = ".route-manager.lock"

const (
	dirPerm  = 0o755
	filePerm = 0o644

	defaultLockRetry = 200 * time.Millisecond
)

// File is one file to publish.
type File struct {
	Name    string
	Content []byte
}

// Plan describes a publication. Files are written; any existing file accepted
// by Prunable that is neither in Files nor in Retain is removed.
type Plan struct {
	Files    []File
	Retain   []string
	Prunable func(name string) bool
}

// Result lists the paths touched by a publication.
type Result struct {
	Written   []string
	Unchanged []string
	Removed   []string
}

// Publisher writes plans into one directory.
type Publisher struct {
	dir       string
	lockRetry time.Duration
}

// New creates a Publisher for dir. The directory is created on first use.
func New(dir string) *Publisher {
	return &Publisher{dir: dir, lockRetry: defaultLockRetry}
}

// Dir returns the target directory.
func (p *Publisher) Dir() string {
	return p.dir
}

// Path returns the full path of a file in the target directory.
func (p *Publisher) Path(name string) string {
	return filepath.Join(p.dir, name)
}

// Missing returns the names that do not exist in the target directory.
func (p *Publisher) Missing(names []string) []string {
	var missing []string
	for _, name := range names {
		if _, err := os.Stat(p.Path(name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// Publish writes the plan. Each file is written to a temporary file in the
// target directory and renamed over the destination, so readers see either
// the old or the new content. Files whose content is already current are
// left alone.
func (p *Publisher) Publish(ctx context.Context, plan Plan) (*Result, error) {
	if err := os.MkdirAll(p.dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", p.dir, err)
	}

	lock, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn().Err(err).Str("dir", p.dir).Msg("Failed to release output lock")
		}
	}()

	res := &Result{}
	keep := make(map[string]bool, len(plan.Files)+len(plan.Retain))
	for _, name := range plan.Retain {
		keep[name] = true
	}

	for _, f := range plan.Files {
		keep[f.Name] = true
		path := p.Path(f.Name)

		current, err := os.ReadFile(path)
		if err == nil && bytes.Equal(current, f.Content) {
			res.Unchanged = append(res.Unchanged, path)
			continue
		}
		if err := writeAtomic(p.dir, path, f.Content); err != nil {
			return res, err
		}
		res.Written = append(res.Written, path)
	}

	if plan.Prunable == nil {
		return res, nil
	}

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return res, fmt.Errorf("list output directory %s: %w", p.dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || keep[name] || !plan.Prunable(name) {
			continue
		}
		path := p.Path(name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return res, fmt.Errorf("remove stale file %s: %w", path, err)
		}
		res.Removed = append(res.Removed, path)
	}
	sort.Strings(res.Removed)

	return res, nil
}

// acquire takes the directory lock, retrying until ctx is done.
func (p *Publisher) acquire(ctx context.Context) (lockfile.Lockfile, error) {
	abs, err := filepath.Abs(p.Path(LockName))
	if err != nil {
		return "", fmt.Errorf("resolve lock path: %w", err)
	}
	lock, err := lockfile.New(abs)
	if err != nil {
		return "", fmt.Errorf("init lock %s: %w", abs, err)
	}

	for {
		err := lock.TryLock()
		if err == nil {
			return lock, nil
		}
		var temp interface{ Temporary() bool }
		if !errors.As(err, &temp) || !temp.Temporary() {
			return "", fmt.Errorf("lock %s: %w", abs, err)
		}
		log.Debug().Err(err).Str("lock", abs).Msg("Output directory locked, waiting")

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("lock %s: %w", abs, ctx.Err())
		case <-time.After(p.lockRetry):
		}
	}
}

func writeAtomic(dir, path string, content []byte) error {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
