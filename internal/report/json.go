package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/imgref/internal/model"
)

// JSONWriter outputs resolutions in JSON format.
type JSONWriter struct {
	baseWriter

	indent       bool
	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the resolution in JSON format.
func (w *JSONWriter) Write(res *model.Resolution) (int, error) {
	return w.writeJSON(res)
}

// writeJSON marshals v and writes it followed by a newline.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.output.Write(data)
}

// JSONReport wraps a resolution with the version that produced it.
type JSONReport struct {
	Version    string            `json:"version"`
	Resolution *model.Resolution `json:"resolution"`
	Summary    map[string]int    `json:"summary,omitempty"`
}

// NewJSONReport creates a JSONReport. The summary counts images per
// pattern kind.
func NewJSONReport(res *model.Resolution, version string) *JSONReport {
	var summary map[string]int
	if len(res.Images) > 0 {
		summary = make(map[string]int)
		for kind, n := range res.CountByKind() {
			summary[kind.String()] = n
		}
	}
	return &JSONReport{Version: version, Resolution: res, Summary: summary}
}

// FullJSONWriter outputs resolutions wrapped with version metadata.
type FullJSONWriter struct {
	*JSONWriter
	version string
}

// NewFullJSONWriter creates a writer for wrapped resolutions.
func NewFullJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *FullJSONWriter {
	return &FullJSONWriter{
		JSONWriter: NewJSONWriter(output, opts...),
		version:    version,
	}
}

// Write outputs the wrapped resolution.
func (w *FullJSONWriter) Write(res *model.Resolution) (int, error) {
	return w.writeJSON(NewJSONReport(res, w.version))
}
