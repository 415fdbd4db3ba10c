package digest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thinkscotty/digest/internal/config"
	"github.com/thinkscotty/digest/internal/emit"
)

// DigestReport is the per-digest outcome of a run.
type DigestReport struct {
	Name     string
	ID       string
	Aborted  bool
	Err      error
	Skipped  []SourceSkip
	Degraded int
	Articles int
	Files    []string
}

// RunReport aggregates the outcome of processing every digest in a run.
type RunReport struct {
	Digests []DigestReport
}

// Clean reports whether the run finished with no aborts, skips, or
// degraded articles.
func (r *RunReport) Clean() bool {
	for _, d := range r.Digests {
		if d.Aborted || len(d.Skipped) > 0 || d.Degraded > 0 {
			return false
		}
	}
	return true
}

// Runner processes configured digests sequentially. One digest aborting
// never prevents its siblings from completing and emitting.
type Runner struct {
	cfg       *config.Config
	assembler *Assembler
}

// NewRunner creates a Runner over the resolved configuration.
func NewRunner(cfg *config.Config, assembler *Assembler) *Runner {
	return &Runner{cfg: cfg, assembler: assembler}
}

// Run assembles and emits every configured digest, or just the one matching
// only (by name or id) when non-empty. The returned report carries every
// recoverable failure; the error return is reserved for misuse such as an
// unknown digest filter.
func (r *Runner) Run(ctx context.Context, only string) (*RunReport, error) {
	report := &RunReport{}
	var index []emit.IndexEntry

	matched := false
	for _, d := range r.cfg.Digests {
		if only != "" && only != d.ID && only != d.Name {
			continue
		}
		matched = true

		slog.Info("Processing digest", "name", d.Name, "sources", len(d.Sources))
		dr := r.runDigest(ctx, d)
		report.Digests = append(report.Digests, dr)
		if !dr.Aborted && len(dr.Files) > 0 {
			index = append(index, emit.IndexEntry{Name: d.Name, ID: d.ID, Files: dr.Files})
		}
	}

	if only != "" && !matched {
		return nil, fmt.Errorf("no digest named %q in configuration", only)
	}

	if len(index) > 0 {
		if err := emit.WriteIndex(r.cfg.OutputDir, index); err != nil {
			slog.Warn("Could not write index page", "error", err)
		}
	}

	return report, nil
}

func (r *Runner) runDigest(ctx context.Context, d config.Digest) DigestReport {
	dr := DigestReport{Name: d.Name, ID: d.ID}

	res, err := r.assembler.Assemble(ctx, d)
	if err != nil {
		slog.Error("Digest aborted", "name", d.Name, "error", err)
		dr.Aborted = true
		dr.Err = err
		return dr
	}

	dr.Skipped = res.Skipped
	dr.Degraded = res.Degraded
	for _, day := range res.Digest.Days {
		dr.Articles += len(day.Items)
	}

	files, err := emit.Write(r.cfg.OutputDir, res.Digest, digestFormats(d))
	dr.Files = files
	if err != nil {
		slog.Error("Digest emission failed", "name", d.Name, "error", err)
		dr.Aborted = true
		dr.Err = err
		return dr
	}

	slog.Info("Digest written",
		"name", d.Name, "articles", dr.Articles, "new", res.New, "files", files)
	return dr
}

// digestFormats is the union of the digest's per-source output formats in
// canonical order.
func digestFormats(d config.Digest) []string {
	want := make(map[string]bool)
	for _, src := range d.Sources {
		for _, f := range src.Settings.OutputFormats {
			want[f] = true
		}
	}
	var formats []string
	for _, f := range []string{"json", "rss", "atom"} {
		if want[f] {
			formats = append(formats, f)
		}
	}
	return formats
}
