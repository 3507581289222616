package model

// ImageReference is the canonical output unit of the resolver.
// Values are immutable once created: stages pass them by value and the
// collector keeps the first-seen instance instead of updating it.
type ImageReference struct {
	// URL is absolute, fetchable and normalized. Never empty.
	URL string `json:"url"`

	// Label is the display caption, for example "이미지 1".
	// It is a weak grouping key and not unique.
	Label string `json:"label"`

	// RelevanceScore is in [0,1] and depends only on Kind.
	RelevanceScore float64 `json:"relevance_score"`

	// SourcePageHint is the page or ordinal number, empty when unknown.
	SourcePageHint string `json:"source_page_hint,omitempty"`

	// Kind is the pattern that produced the reference.
	Kind PatternKind `json:"kind"`

	// Primary is set when the text marked the image as the most relevant one.
	Primary bool `json:"primary,omitempty"`
}

// HasPageHint reports whether a page hint was extracted.
func (r ImageReference) HasPageHint() bool {
	return r.SourcePageHint != ""
}
