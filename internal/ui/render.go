// Package ui renders search results and job status for the CLI.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openecm/ragsearch/internal/history"
	"github.com/openecm/ragsearch/internal/reindex"
	"github.com/openecm/ragsearch/internal/search"
)

// Renderer writes human or JSON output for CLI commands.
type Renderer struct {
	out    io.Writer
	styles Styles
	asJSON bool
}

// NewRenderer creates a renderer. With asJSON set, all Render methods
// emit indented JSON instead of styled text.
func NewRenderer(out io.Writer, noColor, asJSON bool) *Renderer {
	return &Renderer{
		out:    out,
		styles: GetStyles(noColor),
		asJSON: asJSON,
	}
}

func (r *Renderer) renderJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderResults displays one search response.
func (r *Renderer) RenderResults(query string, results []search.VectorSearchResult) error {
	if r.asJSON {
		return r.renderJSON(results)
	}

	if len(results) == 0 {
		_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Dim.Render("No results for "+fmt.Sprintf("%q", query)))
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render(fmt.Sprintf("%d results for %q", len(results), query)))
	for i, res := range results {
		_, _ = fmt.Fprintf(r.out, "%2d. %s  %s\n", i+1,
			res.Name,
			r.styles.Score.Render(fmt.Sprintf("%.3f", res.Score)))
		_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Label.Render(res.Path))
		if res.ChunkText != "" {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Dim.Render(excerpt(res.ChunkText, 120)))
		}
	}
	return nil
}

// RenderStatus displays one repository's reindex job state.
func (r *Renderer) RenderStatus(snap reindex.Snapshot) error {
	if r.asJSON {
		return r.renderJSON(snap)
	}

	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Reindex status: "+snap.RepositoryID))
	_, _ = fmt.Fprintf(r.out, "  Phase:    %s\n", r.renderPhase(snap.Phase))
	_, _ = fmt.Fprintf(r.out, "  Indexed:  %d\n", snap.IndexedCount)
	_, _ = fmt.Fprintf(r.out, "  Skipped:  %d\n", snap.SkippedCount)
	_, _ = fmt.Fprintf(r.out, "  Errors:   %d\n", snap.ErrorCount)
	if snap.TotalDocuments >= 0 {
		_, _ = fmt.Fprintf(r.out, "  Total:    %d\n", snap.TotalDocuments)
	}
	if snap.CurrentDocument != "" && snap.Phase == reindex.PhaseRunning {
		_, _ = fmt.Fprintf(r.out, "  Current:  %s\n", snap.CurrentDocument)
	}
	if snap.ErrorMessage != "" {
		_, _ = fmt.Fprintf(r.out, "  Failure:  %s\n", r.styles.Error.Render(snap.ErrorMessage))
	}
	if len(snap.Errors) > 0 {
		_, _ = fmt.Fprintf(r.out, "\n  Document errors (%d shown):\n", len(snap.Errors))
		for _, e := range snap.Errors {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Warning.Render(e))
		}
	}
	return nil
}

// RenderHealth displays the indexing health report.
func (r *Renderer) RenderHealth(repositoryID string, h reindex.HealthStatus) error {
	if r.asJSON {
		return r.renderJSON(h)
	}

	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index health: "+repositoryID))
	state := r.styles.Success.Render("healthy")
	if !h.Healthy {
		state = r.styles.Error.Render("unhealthy")
	}
	_, _ = fmt.Fprintf(r.out, "  Status:    %s\n", state)
	_, _ = fmt.Fprintf(r.out, "  Enabled:   %t\n", h.Enabled)
	if h.Message != "" {
		_, _ = fmt.Fprintf(r.out, "  Detail:    %s\n", h.Message)
	}
	_, _ = fmt.Fprintf(r.out, "  Documents: %d indexed / %d eligible\n", h.RAGDocumentCount, h.EligibleDocuments)
	_, _ = fmt.Fprintf(r.out, "  Chunks:    %d\n", h.RAGChunkCount)
	return nil
}

// RenderHistory displays past reindex runs, newest first.
func (r *Renderer) RenderHistory(repositoryID string, runs []history.Run) error {
	if r.asJSON {
		return r.renderJSON(runs)
	}

	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Reindex history: "+repositoryID))
	if len(runs) == 0 {
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Dim.Render("no recorded runs"))
		return nil
	}
	for _, run := range runs {
		when := time.UnixMilli(run.RecordedAt).Format("2006-01-02 15:04")
		_, _ = fmt.Fprintf(r.out, "  %s  %-9s  %s  indexed %d, skipped %d, errors %d\n",
			when, r.renderPhase(reindex.Phase(run.Phase)), run.Scope,
			run.IndexedCount, run.SkippedCount, run.ErrorCount)
		if run.ErrorMessage != "" {
			_, _ = fmt.Fprintf(r.out, "      %s\n", r.styles.Error.Render(run.ErrorMessage))
		}
	}
	return nil
}

func (r *Renderer) renderPhase(p reindex.Phase) string {
	s := string(p)
	switch p {
	case reindex.PhaseCompleted:
		return r.styles.Success.Render(s)
	case reindex.PhaseRunning:
		return r.styles.Header.Render(s)
	case reindex.PhaseError:
		return r.styles.Error.Render(s)
	case reindex.PhaseCancelled:
		return r.styles.Warning.Render(s)
	default:
		return s
	}
}

// excerpt collapses whitespace and truncates text for single-line
// display.
func excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	cut := strings.LastIndex(text[:max], " ")
	if cut <= 0 {
		cut = max
	}
	return text[:cut] + "..."
}
