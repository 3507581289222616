package report

import (
	"fmt"
	"io"

	"github.com/nao1215/imgref/internal/model"
	"github.com/nao1215/imgref/internal/proxy"
)

// Writer defines the interface for report output.
type Writer interface {
	// Write outputs one resolution and returns the number of bytes written.
	Write(res *model.Resolution) (int, error)
}

// MultiWriter writes to multiple Writers in order and stops on the first
// error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the resolution to all configured Writers.
func (m *MultiWriter) Write(res *model.Resolution) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(res)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer

	// proxyEndpoint, when set, routes image URLs through the proxy.
	proxyEndpoint string
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// imageURL returns the URL to show for an image.
func (b baseWriter) imageURL(u string) string {
	if b.proxyEndpoint == "" {
		return u
	}
	return proxy.BuildURL(b.proxyEndpoint, u)
}

// status summarizes how a run ended.
func status(res *model.Resolution) string {
	if res.Error != "" {
		return "Error - " + res.Error
	}
	return "Complete"
}

// probeSummary describes a probe result in one line.
func probeSummary(p model.ProbeResult) string {
	if !p.OK() {
		return "failed: " + p.Error
	}
	if p.Width > 0 && p.Height > 0 {
		return fmt.Sprintf("%d %s %dx%d", p.StatusCode, p.Format, p.Width, p.Height)
	}
	return fmt.Sprintf("%d %s", p.StatusCode, p.Format)
}

// pageText formats a page hint, "-" when absent.
func pageText(img model.ImageReference) string {
	if !img.HasPageHint() {
		return "-"
	}
	return img.SourcePageHint
}
