// Package normalizer repairs captured image URLs and turns scanner matches
// into image references.
//
// Every repair is a pure string transformation. A candidate that cannot be
// repaired into an absolute http(s) URL is rejected by returning false;
// malformed input is never an error.
package normalizer

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/model"
)

// PrimaryMarker is appended to the label of the image the text marks as
// the most relevant one.
const PrimaryMarker = "👑 텍스트와 가장 관련성 높은 이미지"

var (
	// collapseSlashes matches a run of slashes not preceded by a scheme colon.
	collapseSlashes = regexp.MustCompile(`([^:/])//+`)

	// schemePrefix matches an absolute URL scheme.
	schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

	// embeddedScheme finds a second URL glued onto the first.
	embeddedScheme = regexp.MustCompile(`https?://`)

	// primaryAnnotation recognizes the most-relevant marker.
	primaryAnnotation = regexp.MustCompile(`👑|텍스트와\s*가장\s*관련성\s*높은\s*이미지`)
)

// scores is the relevance of each pattern kind.
var scores = map[model.PatternKind]float64{
	model.PatternLabeledAtPrefixed:   0.9,
	model.PatternLabeledPlain:        0.9,
	model.PatternLabeledSameLine:     0.9,
	model.PatternLabeledMetadata:     0.9,
	model.PatternLabeledMultilineGap: 0.9,
	model.PatternLabeledStorageURL:   0.9,
	model.PatternLabeledRelativePath: 0.9,
	model.PatternMarkdownImage:       0.8,
	model.PatternBareFilename:        0.7,
	model.PatternBareExtensionURL:    0.5,
}

// Score returns the relevance score of a pattern kind.
func Score(kind model.PatternKind) float64 {
	return scores[kind]
}

// Normalizer converts raw matches into image references.
type Normalizer struct {
	cfg          config.ResolverConfig
	filename     *regexp.Regexp
	fullFilename *regexp.Regexp
	extParen     *regexp.Regexp
	extPunct     *regexp.Regexp
	origin       string
	host         string
	logger       *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger. Rejections are logged at Debug.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// New builds a Normalizer from the resolver tables.
func New(cfg config.ResolverConfig, opts ...Option) (*Normalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filename, err := cfg.FilenameRegexp()
	if err != nil {
		return nil, fmt.Errorf("failed to compile filename pattern: %w", err)
	}

	exts := make([]string, 0, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts = append(exts, regexp.QuoteMeta(strings.TrimPrefix(e, ".")))
	}

	n := &Normalizer{
		cfg:          cfg,
		filename:     filename,
		fullFilename: regexp.MustCompile(`^(?:` + cfg.FilenamePattern + `)$`),
		extParen:     regexp.MustCompile(`(?i)(\.(?:` + strings.Join(exts, "|") + `))\)`),
		extPunct:     regexp.MustCompile(`(?i)(\.(?:` + strings.Join(exts, "|") + `))[,.;:]+$`),
		origin:       cfg.StorageOrigin(),
		host:         cfg.StorageHost(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Normalize converts m into an image reference. ordinal numbers the
// fallback label of matches that captured no ordinal of their own.
// It returns false when the capture cannot be repaired.
func (n *Normalizer) Normalize(m model.RawMatch, ordinal int) (model.ImageReference, bool) {
	if m.Kind == model.PatternUnknown {
		return model.ImageReference{}, false
	}

	u, ok := n.NormalizeURL(m.Captured)
	if !ok {
		n.logger.Debug("rejected image candidate", "kind", m.Kind.String(), "captured", m.Captured)
		return model.ImageReference{}, false
	}

	ref := model.ImageReference{
		URL:            u,
		RelevanceScore: Score(m.Kind),
		Kind:           m.Kind,
	}

	switch {
	case m.Kind.Labeled() && m.Label != "":
		ref.Label = n.ordinalLabel(m.Label)
		ref.SourcePageHint = m.Label
	case m.Kind == model.PatternMarkdownImage && m.Label != "":
		ref.Label = m.Label
	default:
		ref.Label = n.ordinalLabel(strconv.Itoa(ordinal))
	}

	if m.Kind == model.PatternLabeledMetadata && primaryAnnotation.MatchString(m.Annotation) {
		ref.Label += " " + PrimaryMarker
		ref.Primary = true
	}

	if page := n.PageOf(u); page != "" {
		ref.SourcePageHint = page
	}
	return ref, true
}

func (n *Normalizer) ordinalLabel(num string) string {
	return n.cfg.LabelToken + " " + num
}

// PageOf returns the page number encoded in the filename of u, or "" when
// the filename does not follow the naming convention.
func (n *Normalizer) PageOf(u string) string {
	m := n.filename.FindStringSubmatch(lastSegment(u))
	if m == nil {
		return ""
	}
	return m[n.filename.SubexpIndex("page")]
}

// NormalizeURL applies the repair steps to a captured URL, path or
// filename. It returns false when the result is not a well-formed
// absolute http(s) URL and cannot be recovered.
func (n *Normalizer) NormalizeURL(raw string) (string, bool) {
	s := strings.NewReplacer("\r", "", "\n", "").Replace(strings.TrimSpace(raw))

	s = strings.TrimPrefix(s, "@")
	s = strings.TrimSuffix(s, ")")
	s = n.extParen.ReplaceAllString(s, "$1")
	s = n.extPunct.ReplaceAllString(s, "$1")
	s = strings.TrimSuffix(s, "?")
	s = collapseSlashes.ReplaceAllString(s, "$1/")
	s = n.collapseDoubleExtension(s)
	if s == "" {
		return "", false
	}

	switch {
	case schemePrefix.MatchString(s):
	case strings.HasPrefix(s, "//"):
		s = "https:" + s
	case strings.HasPrefix(s, "/"):
		if n.origin == "" {
			return "", false
		}
		s = n.origin + s
	case n.fullFilename.MatchString(s):
		s = n.cfg.StorageBaseURL + s
	default:
		s = "https://" + s
	}

	// Truncate first: the type check must see the kept URL's filename.
	s = truncateSecondURL(s)
	s = n.substituteType(s)

	if valid(s) {
		return s, true
	}
	if n.host != "" && strings.Contains(s, n.host) {
		if recovered, ok := n.recover(s); ok {
			return recovered, true
		}
	}
	return "", false
}

func (n *Normalizer) collapseDoubleExtension(s string) string {
	for _, e := range n.cfg.Extensions {
		dot := "." + strings.TrimPrefix(e, ".")
		for strings.Contains(s, dot+dot) {
			s = strings.ReplaceAll(s, dot+dot, dot)
		}
	}
	return s
}

// substituteType rewrites a deprecated type tag in a conventional filename.
func (n *Normalizer) substituteType(u string) string {
	seg := lastSegment(u)
	loc := n.filename.FindStringSubmatchIndex(seg)
	if loc == nil {
		return u
	}
	g := n.filename.SubexpIndex("type")
	start, end := loc[2*g], loc[2*g+1]
	if start < 0 {
		return u
	}
	tag := seg[start:end]
	if n.cfg.IsValidType(tag) {
		return u
	}
	valid, ok := n.cfg.TypeSubstitutions[tag]
	if !ok {
		return u
	}

	segStart := strings.LastIndex(stripQuery(u), "/") + 1
	return u[:segStart+start] + valid + u[segStart+end:]
}

// recover rebuilds a canonical storage URL from the trailing filename.
func (n *Normalizer) recover(s string) (string, bool) {
	name := lastSegment(s)
	name = strings.TrimRight(name, ")?.,;:'\"")
	if name == "" || strings.ContainsAny(name, " \t<>\"") {
		return "", false
	}
	name = n.substituteType(name)
	candidate := n.cfg.StorageBaseURL + name
	if !valid(candidate) {
		return "", false
	}
	return candidate, true
}

// truncateSecondURL keeps only the first URL of a concatenation such as
// "https://a/x.jpghttps://a/x.jpg".
func truncateSecondURL(s string) string {
	first := embeddedScheme.FindStringIndex(s)
	if first == nil {
		return s
	}
	rest := s[first[1]:]
	if next := embeddedScheme.FindStringIndex(rest); next != nil {
		return s[:first[1]+next[0]]
	}
	return s
}

func valid(s string) bool {
	if strings.ContainsAny(s, " \t<>\"{}|\\^`") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" || strings.HasPrefix(u.Host, ".") || strings.HasPrefix(u.Host, ":") {
		return false
	}
	return true
}

func stripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

func lastSegment(u string) string {
	p := stripQuery(u)
	return p[strings.LastIndex(p, "/")+1:]
}
