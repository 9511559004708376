package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/bcnelson/traefik-route-manager/internal/domain"
	"github.com/bcnelson/traefik-route-manager/internal/nginx"
	"github.com/bcnelson/traefik-route-manager/internal/publisher"
	"github.com/bcnelson/traefik-route-manager/internal/traefik"
)

// output is the rendered file set of one snapshot.
type output struct {
	traefik       []publisher.File
	traefikRetain []string
	nginx         []publisher.File
	nginxRetain   []string
	domains       []*domain.DomainResult
	owner         map[string]string // file name -> domain name
	hash          string
}

// build compiles and renders a snapshot. It performs no I/O.
func (r *Reconciler) build(snap *domain.Snapshot) *output {
	out := &output{owner: map[string]string{}}
	owners := map[string]string{}

	for _, bundle := range snap.Domains {
		name := bundle.Domain.Name
		file := traefik.FileName(name)
		res := &domain.DomainResult{Domain: name, File: file}
		out.domains = append(out.domains, res)

		if owner, taken := owners[file]; taken {
			res.Status = domain.DomainFailed
			res.Reason = fmt.Sprintf("file name %s is already used by %s", file, owner)
			res.File = ""
			continue
		}
		owners[file] = name

		compiled, err := r.compiler.CompileDomain(bundle, snap.Upstreams)
		if err != nil {
			res.Status = domain.DomainFailed
			res.Reason = err.Error()
			out.traefikRetain = append(out.traefikRetain, file)
			if r.nginx != nil {
				out.nginxRetain = append(out.nginxRetain, nginx.FileName(name))
			}
			continue
		}

		if compiled.Config.Empty() {
			res.Status = domain.DomainSkipped
			res.File = ""
			res.Reason = "no routable rules"
			if len(compiled.Skipped) > 0 {
				res.Reason += ": " + strings.Join(compiled.Skipped, "; ")
			}
		} else {
			res.Status = domain.DomainGenerated
			res.Reason = strings.Join(compiled.Skipped, "; ")
			out.traefik = append(out.traefik, publisher.File{Name: file, Content: compiled.Config.Render()})
			out.owner[file] = name
		}

		if r.nginx != nil {
			r.buildNginx(out, bundle, snap.Upstreams)
		}
	}

	redirects, skipped := r.compiler.CompileRedirects(snap)
	for _, reason := range skipped {
		r.logger.Debug().Str("reason", reason).Msg("Redirect left out")
	}
	out.traefik = append(out.traefik, publisher.File{Name: traefik.RedirectsFile, Content: redirects.Render()})

	out.hash = stateHash(out.traefik, out.nginx)
	return out
}

func (r *Reconciler) buildNginx(out *output, bundle *domain.DomainBundle, upstreams map[int64]*domain.Upstream) {
	name := bundle.Domain.Name
	file := nginx.FileName(name)
	content, skipped, err := r.nginx.Render(bundle, upstreams)
	if err != nil {
		r.logger.Warn().Err(err).Str("domain", name).Msg("Nginx output failed")
		out.nginxRetain = append(out.nginxRetain, file)
		return
	}
	for _, reason := range skipped {
		r.logger.Debug().Str("domain", name).Str("reason", reason).Msg("Nginx location left out")
	}
	if content != nil {
		out.nginx = append(out.nginx, publisher.File{Name: file, Content: content})
		out.owner[file] = name
	}
}

// failed reports whether any domain failed to compile.
func (o *output) failed() bool {
	for _, d := range o.domains {
		if d.Status == domain.DomainFailed {
			return true
		}
	}
	return false
}

// names lists every managed file the output expects on disk.
func (o *output) names() []string {
	names := make([]string, 0, len(o.traefik))
	for _, f := range o.traefik {
		names = append(names, f.Name)
	}
	return names
}

// stateHash digests the complete file set, independent of order.
func stateHash(sets ...[]publisher.File) string {
	var files []publisher.File
	for i, set := range sets {
		for _, f := range set {
			files = append(files, publisher.File{Name: fmt.Sprintf("%d/%s", i, f.Name), Content: f.Content})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	h := sha256.New()
	for _, f := range files {
		fmt.Fprintf(h, "%s\x00%d\x00", f.Name, len(f.Content))
		h.Write(f.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func contentSum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
