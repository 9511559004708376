package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
)

type fakeGenerator struct {
	report  *domain.GenerationReport
	err     error
	preview *domain.Preview
}

func (f *fakeGenerator) Regenerate(ctx context.Context) (*domain.GenerationReport, error) {
	return f.report, f.err
}

func (f *fakeGenerator) Preview(ctx context.Context) (*domain.Preview, error) {
	return f.preview, nil
}

func TestRootCommand_Help(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--help"})

	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)

	require.NoError(t, cmd.Execute())
	for _, sub := range []string{"serve", "generate", "preview"} {
		assert.Contains(t, output.String(), sub)
	}
}

func TestRunGenerate(t *testing.T) {
	tests := []struct {
		name    string
		gen     *fakeGenerator
		wantErr bool
		want    []string
	}{
		{
			name: "success",
			gen: &fakeGenerator{report: &domain.GenerationReport{
				Generation: &domain.Generation{ID: "g1", Status: domain.GenerationSuccess, FileCount: 2, Written: 1},
				Domains:    []*domain.DomainResult{{Domain: "shop.test", Status: domain.DomainGenerated}},
			}},
			want: []string{"generation g1: success (2 files, 1 written, 0 removed)", "shop.test", "generated"},
		},
		{
			name: "partial",
			gen: &fakeGenerator{report: &domain.GenerationReport{
				Generation: &domain.Generation{ID: "g2", Status: domain.GenerationPartial},
				Domains:    []*domain.DomainResult{{Domain: "bad.test", Status: domain.DomainFailed, Reason: "no rules compiled"}},
			}},
			wantErr: true,
			want:    []string{"bad.test", "failed: no rules compiled"},
		},
		{
			name:    "failed",
			gen:     &fakeGenerator{err: fmt.Errorf("%w: disk full", domain.ErrGenerationFailed)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runGenerate(context.Background(), tt.gen, &out)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
		})
	}
}

func TestRunPreview(t *testing.T) {
	gen := &fakeGenerator{preview: &domain.Preview{
		StateHash: "abc",
		Domains:   []*domain.DomainResult{{Domain: "shop.test", Status: domain.DomainGenerated}},
		Files: []*domain.PreviewFile{
			{Name: "routes-shop_test.yml", Output: domain.OutputTraefik, Domain: "shop.test", Content: "http:\n"},
			{Name: "redirects.yml", Output: domain.OutputTraefik, Content: "http: {}\n"},
		},
	}}

	var out bytes.Buffer
	require.NoError(t, runPreview(context.Background(), gen, "", &out))
	assert.Contains(t, out.String(), "# routes-shop_test.yml (traefik)")
	assert.Contains(t, out.String(), "# redirects.yml (traefik)")
	assert.Contains(t, out.String(), "# state hash abc")

	out.Reset()
	require.NoError(t, runPreview(context.Background(), gen, "shop.test", &out))
	assert.NotContains(t, out.String(), "redirects.yml")

	err := runPreview(context.Background(), gen, "missing.test", &out)
	assert.ErrorIs(t, err, errUnknownDomain)
}

func TestGenerateCommand_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	dynamic := filepath.Join(dir, "dynamic")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_DSN", filepath.Join(dir, "data", "routes.db"))
	t.Setenv("DYNAMIC_DIR", dynamic)
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"generate"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "success")

	_, err := os.Stat(filepath.Join(dir, "data", "routes.db"))
	assert.NoError(t, err, "database file should be created")
}
