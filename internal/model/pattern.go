package model

// PatternKind identifies the surface syntax that produced a RawMatch.
// The numeric order is the scanner precedence: a lower kind wins a text
// span over a higher one.
type PatternKind int

const (
	// PatternUnknown is the zero value and never produced by the scanner.
	PatternUnknown PatternKind = iota

	// PatternLabeledAtPrefixed is "[이미지 N]" followed by a newline and "@URL".
	PatternLabeledAtPrefixed

	// PatternLabeledPlain is "[이미지 N]" followed by a newline and a bare URL.
	PatternLabeledPlain

	// PatternLabeledSameLine is "[이미지 N] URL" on one line.
	PatternLabeledSameLine

	// PatternLabeledMetadata is a label with an optional annotation such as
	// the crown marker, then one or more newlines, then a URL.
	PatternLabeledMetadata

	// PatternLabeledMultilineGap is a label, one or more non-URL lines,
	// then a URL.
	PatternLabeledMultilineGap

	// PatternLabeledStorageURL is a label directly followed by an
	// object-storage URL with no annotation in between. The query string
	// is not captured.
	PatternLabeledStorageURL

	// PatternMarkdownImage is markdown image syntax "![alt](url)".
	PatternMarkdownImage

	// PatternBareExtensionURL is any absolute URL ending in an image extension.
	PatternBareExtensionURL

	// PatternLabeledRelativePath is a label followed by a root-relative path.
	PatternLabeledRelativePath

	// PatternBareFilename is a conventional image filename with no URL around it.
	PatternBareFilename
)

// String returns the stable identifier of the pattern kind.
// The identifiers are used as metric labels and stored in the database.
func (k PatternKind) String() string {
	switch k {
	case PatternLabeledAtPrefixed:
		return "labeled_at_prefixed"
	case PatternLabeledPlain:
		return "labeled_plain"
	case PatternLabeledSameLine:
		return "labeled_same_line"
	case PatternLabeledMetadata:
		return "labeled_metadata"
	case PatternLabeledMultilineGap:
		return "labeled_multiline_gap"
	case PatternLabeledStorageURL:
		return "labeled_storage_url"
	case PatternMarkdownImage:
		return "markdown_image"
	case PatternBareExtensionURL:
		return "bare_extension_url"
	case PatternLabeledRelativePath:
		return "labeled_relative_path"
	case PatternBareFilename:
		return "bare_filename"
	default:
		return "unknown"
	}
}

// Labeled reports whether the kind carries a bracketed ordinal label.
func (k PatternKind) Labeled() bool {
	switch k {
	case PatternLabeledAtPrefixed, PatternLabeledPlain, PatternLabeledSameLine,
		PatternLabeledMetadata, PatternLabeledMultilineGap, PatternLabeledStorageURL,
		PatternLabeledRelativePath:
		return true
	default:
		return false
	}
}

// ParsePatternKind converts an identifier produced by String back into a kind.
// Unknown identifiers yield PatternUnknown.
func ParsePatternKind(s string) PatternKind {
	for k := PatternLabeledAtPrefixed; k <= PatternBareFilename; k++ {
		if k.String() == s {
			return k
		}
	}
	return PatternUnknown
}

// AllPatternKinds returns every kind the scanner can produce, in precedence order.
func AllPatternKinds() []PatternKind {
	kinds := make([]PatternKind, 0, int(PatternBareFilename))
	for k := PatternLabeledAtPrefixed; k <= PatternBareFilename; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// MarshalText implements encoding.TextMarshaler so kinds appear by name in JSON.
func (k PatternKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PatternKind) UnmarshalText(text []byte) error {
	*k = ParsePatternKind(string(text))
	return nil
}

// RawMatch is one candidate produced by the scanner.
// It is a tagged variant: Kind decides which of the optional fields are
// meaningful, so consumers switch on Kind instead of probing fields.
type RawMatch struct {
	// Kind is the pattern that produced this match.
	Kind PatternKind `json:"kind"`

	// FullMatch is the complete matched text, label included.
	FullMatch string `json:"full_match"`

	// Label is the captured ordinal ("1" for "[이미지 1]"), or the alt text
	// of a markdown image. Empty when the pattern exposes none.
	Label string `json:"label,omitempty"`

	// Annotation is inline text between the label and the URL. Only set
	// for PatternLabeledMetadata.
	Annotation string `json:"annotation,omitempty"`

	// Captured is the raw URL, path or filename, not yet repaired.
	Captured string `json:"captured"`

	// Start and End are byte offsets of FullMatch in the scanned text.
	Start int `json:"start"`
	End   int `json:"end"`
}
