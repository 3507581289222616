package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/imgref/internal/model"
)

// MarkdownWriter outputs resolutions in Markdown format.
type MarkdownWriter struct {
	baseWriter
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithMarkdownProxy shows proxied image URLs.
func WithMarkdownProxy(endpoint string) MarkdownWriterOption {
	return func(w *MarkdownWriter) {
		w.proxyEndpoint = endpoint
	}
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the resolution in Markdown format.
func (w *MarkdownWriter) Write(res *model.Resolution) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, res)
	w.writeImages(md, res)
	w.writeKinds(md, res)
	w.writeAlert(md, res)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, res *model.Resolution) {
	md.H1("Image Reference Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Source", "`" + res.Source + "`"},
			{"Resolved", res.CreatedAt.Format("2006-01-02 15:04:05 MST")},
			{"Run ID", "`" + res.ID + "`"},
			{"Images", strconv.Itoa(len(res.Images))},
			{"Candidates", fmt.Sprintf("%d (%d rejected)", res.Candidates, res.Rejected)},
			{"Status", status(res)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeImages(md *markdown.Markdown, res *model.Resolution) {
	md.H2("Images")
	md.PlainText("")

	if len(res.Images) == 0 {
		md.PlainText("No image references found.")
		md.PlainText("")
		return
	}

	header := []string{"#", "Label", "URL", "Kind", "Score", "Page"}
	if res.Verified {
		header = append(header, "Stored")
	}
	if len(res.Probes) > 0 {
		header = append(header, "Probe")
	}

	rows := make([][]string, len(res.Images))
	for i, img := range res.Images {
		label := img.Label
		if img.Primary {
			label = "**" + label + "**"
		}
		row := []string{
			strconv.Itoa(i + 1),
			label,
			w.imageURL(img.URL),
			"`" + img.Kind.String() + "`",
			strconv.FormatFloat(img.RelevanceScore, 'f', 2, 64),
			pageText(img),
		}
		if res.Verified {
			stored := "✅"
			if res.IsMissing(img.URL) {
				stored = "❌"
			}
			row = append(row, stored)
		}
		if len(res.Probes) > 0 {
			probe := "-"
			if p, ok := res.Probes[img.URL]; ok {
				probe = probeSummary(p)
			}
			row = append(row, probe)
		}
		rows[i] = row
	}

	md.Table(markdown.TableSet{Header: header, Rows: rows})
	md.PlainText("")
}

// writeKinds writes a mermaid pie chart of images per pattern kind.
func (w *MarkdownWriter) writeKinds(md *markdown.Markdown, res *model.Resolution) {
	if len(res.Images) == 0 {
		return
	}

	md.H2("Pattern Kinds")
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Images by Pattern Kind"),
		piechart.WithShowData(true),
	)
	counts := res.CountByKind()
	for _, kind := range model.AllPatternKinds() {
		if n := counts[kind]; n > 0 {
			chart.LabelAndIntValue(kind.String(), uint64(n))
		}
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, res *model.Resolution) {
	switch {
	case res.Error != "":
		md.Cautionf("Resolution failed: %s", res.Error)
	case res.Verified && len(res.Missing) > 0:
		md.Warningf("%d image(s) are missing from object storage.", len(res.Missing))
	case res.Rejected > 0:
		md.Notef("%d candidate(s) could not be repaired into a URL and were dropped.", res.Rejected)
	case len(res.Images) == 0:
		md.Note("The text contains no image references.")
	default:
		md.Tip("Every candidate resolved to an image URL.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [imgref](https://github.com/nao1215/imgref)*")
}
