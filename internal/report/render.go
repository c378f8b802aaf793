package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Renderer serializes a report to JSON or YAML.
type Renderer struct{}

// NewRenderer creates a new renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderJSON renders the report as indented JSON.
func (r *Renderer) RenderJSON(rep *Report) ([]byte, error) {
	return json.MarshalIndent(rep, "", "  ")
}

// RenderYAML renders the report as YAML.
func (r *Renderer) RenderYAML(rep *Report) ([]byte, error) {
	return yaml.Marshal(rep)
}

// WriteReport writes the report to a file, choosing JSON or YAML from the
// extension. JSON is the default.
func (r *Renderer) WriteReport(rep *Report, path string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	var data []byte
	var err error
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = r.RenderYAML(rep)
	default:
		data, err = r.RenderJSON(rep)
	}
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// Summary returns the per-node terminal summary printed after a build.
func (r *Renderer) Summary(rep *Report) string {
	nodes := make([]NodeReport, len(rep.Nodes))
	copy(nodes, rep.Nodes)
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Layer != nodes[j].Layer {
			return nodes[i].Layer < nodes[j].Layer
		}
		return nodes[i].Identity < nodes[j].Identity
	})

	var sb strings.Builder
	for _, n := range nodes {
		line := fmt.Sprintf("%s %s", stateGlyph(n), n.Identity)
		switch {
		case n.CacheHit:
			line += " (cached)"
		case n.Duration > 0:
			line += fmt.Sprintf(" (%s)", n.Duration.Round(timeRounding))
		}
		if n.ErrorKind != "" {
			line += fmt.Sprintf(" [%s]", n.ErrorKind)
		}
		sb.WriteString(line + "\n")
		if n.Diagnostic != "" {
			sb.WriteString(indentDiagnostic(n.Diagnostic))
		}
	}

	sb.WriteString("═══════════════════════════════════════════════════════════\n")
	sb.WriteString(fmt.Sprintf("Summary: %d succeeded (%d cached), %d failed, %d skipped\n",
		rep.Succeeded, rep.CacheHits, rep.Failed, rep.Skipped))
	return sb.String()
}

const timeRounding = 10 * time.Millisecond

func stateGlyph(n NodeReport) string {
	switch {
	case n.State == "succeeded" && n.CacheHit:
		return "◉"
	case n.State == "succeeded":
		return "✓"
	case n.State == "failed":
		return "✗"
	default:
		return "□"
	}
}

// indentDiagnostic indents captured diagnostic output under its node line,
// truncating to a screenful.
func indentDiagnostic(diag string) string {
	const maxLines = 20
	lines := strings.Split(strings.TrimRight(diag, "\n"), "\n")
	if len(lines) > maxLines {
		lines = append(lines[:maxLines], fmt.Sprintf("... (%d more lines)", len(lines)-maxLines))
	}
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString("    " + l + "\n")
	}
	return sb.String()
}
