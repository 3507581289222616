package model

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"
)

// Document is one input text handed to the resolver.
type Document struct {
	// Name identifies where the text came from: a file path, "-" for
	// stdin, or a request identifier.
	Name string

	// Text is the raw assistant text.
	Text string
}

// NewDocument creates a Document.
func NewDocument(name, text string) Document {
	return Document{Name: name, Text: text}
}

// Digest returns the hex SHA3-256 of the text.
// Stored runs are keyed by digest so the text itself is never persisted.
func (d Document) Digest() string {
	sum := sha3.Sum256([]byte(d.Text))
	return hex.EncodeToString(sum[:])
}

// ProbeResult describes what fetching a resolved URL revealed.
type ProbeResult struct {
	URL         string            `json:"url"`
	StatusCode  int               `json:"status_code,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Format      string            `json:"format,omitempty"`
	Width       int               `json:"width,omitempty"`
	Height      int               `json:"height,omitempty"`
	Bytes       int64             `json:"bytes,omitempty"`
	EXIF        map[string]string `json:"exif,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// OK reports whether the probe fetched a usable image.
func (p ProbeResult) OK() bool {
	return p.Error == ""
}

// Resolution is the result of resolving one Document.
type Resolution struct {
	// ID identifies the run. It is the collector session ID.
	ID string `json:"id"`

	// Source is the Document name.
	Source string `json:"source"`

	// Digest is the Document digest.
	Digest string `json:"digest"`

	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`

	// Images is the deduplicated reference list in encounter order.
	Images []ImageReference `json:"images"`

	// Candidates is how many raw matches the scanner produced.
	Candidates int `json:"candidates"`

	// Rejected is how many candidates the normalizer rejected.
	Rejected int `json:"rejected"`

	// CleanedText is the answer text with image references removed.
	// Only filled when a report needs it.
	CleanedText string `json:"cleaned_text,omitempty"`

	// Probes holds fetch results keyed by image URL.
	Probes map[string]ProbeResult `json:"probes,omitempty"`

	// Missing lists image URLs that the object-storage catalog does not contain.
	Missing []string `json:"missing,omitempty"`

	// Verified is set once a catalog check ran.
	Verified bool `json:"verified,omitempty"`

	// Error holds a failure message when a pipeline step failed.
	Error string `json:"error,omitempty"`

	// PerformedSteps lists the pipeline steps that ran.
	PerformedSteps []string `json:"performed_steps,omitempty"`
}

// NewResolution creates an empty Resolution for a document.
func NewResolution(id string, doc Document, createdAt time.Time) *Resolution {
	return &Resolution{
		ID:        id,
		Source:    doc.Name,
		Digest:    doc.Digest(),
		CreatedAt: createdAt,
		Images:    make([]ImageReference, 0),
	}
}

// CountByKind returns how many images each pattern kind contributed.
func (r *Resolution) CountByKind() map[PatternKind]int {
	counts := make(map[PatternKind]int)
	for _, img := range r.Images {
		counts[img.Kind]++
	}
	return counts
}

// IsMissing reports whether url was reported missing by a catalog check.
func (r *Resolution) IsMissing(url string) bool {
	for _, m := range r.Missing {
		if m == url {
			return true
		}
	}
	return false
}
