package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/imgref/internal/model"
)

// SimpleWriter outputs human-readable text reports for terminal display.
type SimpleWriter struct {
	baseWriter

	// verbose adds the digest, run ID and per-kind counts.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// WithSimpleProxy shows proxied image URLs.
func WithSimpleProxy(endpoint string) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.proxyEndpoint = endpoint
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the resolution in human-readable format.
func (w *SimpleWriter) Write(res *model.Resolution) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, res)
	w.writeImages(&sb, res)
	w.writeMissing(&sb, res)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, res *model.Resolution) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                          IMGREF RESOLUTION\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Source:      %s\n", res.Source)
	fmt.Fprintf(sb, "Resolved:    %s\n", res.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Candidates:  %d (%d rejected)\n", res.Candidates, res.Rejected)
	fmt.Fprintf(sb, "Status:      %s\n", status(res))
	if w.verbose {
		fmt.Fprintf(sb, "Run ID:      %s\n", res.ID)
		fmt.Fprintf(sb, "Digest:      %s\n", res.Digest)
		if len(res.PerformedSteps) > 0 {
			fmt.Fprintf(sb, "Steps:       %s\n", strings.Join(res.PerformedSteps, ", "))
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeImages(sb *strings.Builder, res *model.Resolution) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	fmt.Fprintf(sb, "IMAGES (%d)\n", len(res.Images))
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(res.Images) == 0 {
		sb.WriteString("  No image references found\n\n")
		return
	}

	for i, img := range res.Images {
		marker := ""
		if img.Primary {
			marker = " *"
		}
		fmt.Fprintf(sb, "%3d. %s%s\n", i+1, img.Label, marker)
		fmt.Fprintf(sb, "     %s\n", w.imageURL(img.URL))
		fmt.Fprintf(sb, "     kind=%s score=%.2f page=%s\n", img.Kind, img.RelevanceScore, pageText(img))
		if p, ok := res.Probes[img.URL]; ok {
			fmt.Fprintf(sb, "     probe: %s\n", probeSummary(p))
		}
		if res.Verified && res.IsMissing(img.URL) {
			sb.WriteString("     MISSING from object storage\n")
		}
	}
	sb.WriteString("\n")

	if w.verbose {
		for _, kind := range model.AllPatternKinds() {
			if n := res.CountByKind()[kind]; n > 0 {
				fmt.Fprintf(sb, "  %-24s %d\n", kind.String()+":", n)
			}
		}
		sb.WriteString("\n")
	}
}

func (w *SimpleWriter) writeMissing(sb *strings.Builder, res *model.Resolution) {
	if !res.Verified {
		return
	}
	if len(res.Missing) == 0 {
		sb.WriteString("All storage images are present.\n\n")
		return
	}
	fmt.Fprintf(sb, "%d image(s) missing from object storage.\n\n", len(res.Missing))
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
