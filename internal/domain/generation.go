package domain

import "time"

// Generation statuses.
const (
	GenerationSuccess = "success"
	GenerationPartial = "partial" // At least one domain failed to compile
	GenerationFailed  = "failed"
)

// Per-domain outcomes of a generation pass.
const (
	DomainGenerated = "generated"
	DomainSkipped   = "skipped"
	DomainFailed    = "failed"
)

// Generation is a recorded regeneration pass.
// Used for audit trail and to detect changes in the generated state.
type Generation struct {
	ID        string    `json:"id" db:"id"`
	StateHash string    `json:"state_hash" db:"state_hash"` // sha256 over all rendered files
	Status    string    `json:"status" db:"status"`
	Error     string    `json:"error,omitempty" db:"error"`
	FileCount int       `json:"file_count" db:"file_count"`
	Written   int       `json:"written" db:"written"`
	Removed   int       `json:"removed" db:"removed"`
	Duration  int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DomainResult is the outcome of compiling one domain.
type DomainResult struct {
	Domain string `json:"domain"`
	File   string `json:"file,omitempty"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// GenerationReport is returned after a regeneration pass.
type GenerationReport struct {
	Generation *Generation     `json:"generation"`
	Domains    []*DomainResult `json:"domains"`
	Written    []string        `json:"written,omitempty"`
	Unchanged  []string        `json:"unchanged,omitempty"`
	Removed    []string        `json:"removed,omitempty"`
}

// ReconcileStatus reports whether the on-disk configuration is known to be
// behind the database.
type ReconcileStatus struct {
	Pending bool        `json:"pending"`
	Latest  *Generation `json:"latest,omitempty"`
}

// PreviewFile is one rendered file of a preview.
type PreviewFile struct {
	Name    string `json:"name"`
	Output  string `json:"output"`           // "traefik" or "nginx"
	Domain  string `json:"domain,omitempty"` // Empty for the aggregate redirects file
	Content string `json:"content"`
}

// Preview is the configuration a regeneration would publish, rendered
// without touching the output directory.
type Preview struct {
	StateHash string          `json:"state_hash"`
	Domains   []*DomainResult `json:"domains"`
	Files     []*PreviewFile  `json:"files"`
}

// Output names used in previews.
const (
	OutputTraefik = "traefik"
	OutputNginx   = "nginx"
)

// ForDomain narrows the preview to one domain.
func (p *Preview) ForDomain(name string) *Preview {
	out := &Preview{StateHash: p.StateHash}
	for _, d := range p.Domains {
		if d.Domain == name {
			out.Domains = append(out.Domains, d)
		}
	}
	for _, f := range p.Files {
		if f.Domain == name {
			out.Files = append(out.Files, f)
		}
	}
	return out
}
