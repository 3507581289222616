package scanner

import (
	"cmp"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/nao1215/imgref/internal/config"
	"github.com/nao1215/imgref/internal/model"
)

// descriptor is one recognized surface syntax.
// find returns every candidate of the syntax in text, in textual order.
type descriptor struct {
	kind model.PatternKind
	find func(text string) []model.RawMatch
}

// Scanner extracts raw image-reference candidates from text.
// A Scanner is immutable after New and safe for concurrent use.
type Scanner struct {
	descriptors []descriptor
	label       *regexp.Regexp
	maxGapLines int
	logger      *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger. Skipped candidates are logged at Debug.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// New builds a Scanner from the resolver tables.
func New(cfg config.ResolverConfig, opts ...Option) (*Scanner, error) {
	filename, err := cfg.FilenameRegexp()
	if err != nil {
		return nil, fmt.Errorf("failed to compile filename pattern: %w", err)
	}
	if cfg.MaxGapLines < 1 {
		return nil, config.ErrInvalidMaxGapLines
	}

	label := `\[` + regexp.QuoteMeta(cfg.LabelToken) + `[ \t]*(\d+)\]`
	ext := extensionGroup(cfg.Extensions)
	storagePath := regexp.QuoteMeta(cfg.StoragePath())

	s := &Scanner{
		label:       regexp.MustCompile(label),
		maxGapLines: cfg.MaxGapLines,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Every pattern is built from escaped configuration values, so a compile
	// failure can only come from the filename convention checked above.
	s.descriptors = []descriptor{
		{
			kind: model.PatternLabeledAtPrefixed,
			find: labeled(model.PatternLabeledAtPrefixed,
				regexp.MustCompile(label+`[ \t]*\r?\n[ \t]*@(https?://\S+)`), 2, 0),
		},
		{
			kind: model.PatternLabeledPlain,
			find: labeled(model.PatternLabeledPlain,
				regexp.MustCompile(label+`[ \t]*\r?\n[ \t]*(https?://\S+)`), 2, 0),
		},
		{
			kind: model.PatternLabeledSameLine,
			find: labeled(model.PatternLabeledSameLine,
				regexp.MustCompile(label+`[ \t]+@?(https?://\S+)`), 2, 0),
		},
		{
			kind: model.PatternLabeledMetadata,
			find: labeled(model.PatternLabeledMetadata,
				regexp.MustCompile(label+`([^\r\n]*)(?:[ \t]*\r?\n)+[ \t]*@?(https?://\S+)`), 3, 2),
		},
		{
			kind: model.PatternLabeledMultilineGap,
			find: s.findMultilineGap,
		},
		{
			kind: model.PatternLabeledStorageURL,
			find: labeled(model.PatternLabeledStorageURL,
				regexp.MustCompile(label+`\s*@?(https?://[^\s?]*`+storagePath+`[^\s?]+)(?:\?\S*)?`), 2, 0),
		},
		{
			kind: model.PatternMarkdownImage,
			find: markdownImages(regexp.MustCompile(`!\[([^\]\r\n]*)\]\([ \t]*([^\s)]+)[ \t]*\)`)),
		},
		{
			kind: model.PatternBareExtensionURL,
			find: unlabeled(model.PatternBareExtensionURL,
				regexp.MustCompile(`@?(https?://[^\s<>"'()\[\]]+\.`+ext+`\b(?:\?[^\s<>"'()\[\]]*)?)`)),
		},
		{
			kind: model.PatternLabeledRelativePath,
			find: labeled(model.PatternLabeledRelativePath,
				regexp.MustCompile(label+`\s*@?(/[^/\s()<>"'][^\s()<>"']*\.`+ext+`)\b`), 2, 0),
		},
		{
			kind: model.PatternBareFilename,
			find: unlabeled(model.PatternBareFilename, filename),
		},
	}
	return s, nil
}

// extensionGroup builds a case-insensitive alternation of extensions.
func extensionGroup(exts []string) string {
	quoted := make([]string, 0, len(exts))
	for _, e := range exts {
		quoted = append(quoted, regexp.QuoteMeta(strings.TrimPrefix(e, ".")))
	}
	return `(?i:` + strings.Join(quoted, "|") + `)`
}

// Scan returns the candidates in text ordered by start offset.
func (s *Scanner) Scan(text string) []model.RawMatch {
	text = norm.NFC.String(text)

	var (
		taken []span
		out   []model.RawMatch
	)
	for _, d := range s.descriptors {
		for _, m := range d.find(text) {
			if strings.TrimSpace(m.Captured) == "" {
				s.logger.Debug("skipping match with empty capture", "kind", d.kind.String(), "offset", m.Start)
				continue
			}
			if overlaps(taken, m.Start, m.End) {
				continue
			}
			taken = append(taken, span{start: m.Start, end: m.End})
			out = append(out, m)
		}
	}

	slices.SortStableFunc(out, func(a, b model.RawMatch) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return out
}

// Matches is the iterator form of Scan. Each call rescans text.
func (s *Scanner) Matches(text string) iter.Seq[model.RawMatch] {
	return func(yield func(model.RawMatch) bool) {
		for _, m := range s.Scan(text) {
			if !yield(m) {
				return
			}
		}
	}
}

type span struct {
	start, end int
}

func overlaps(taken []span, start, end int) bool {
	for _, t := range taken {
		if start < t.end && t.start < end {
			return true
		}
	}
	return false
}

// markdownLabel reports whether the label at offset start is the alt text
// of a markdown image, which belongs to the markdown descriptor.
func markdownLabel(text string, start int) bool {
	return start > 0 && text[start-1] == '!'
}

// labeled returns a finder for a label-led regex. Group 1 is the ordinal,
// urlGroup the capture, and noteGroup the annotation when non-zero.
func labeled(kind model.PatternKind, re *regexp.Regexp, urlGroup, noteGroup int) func(string) []model.RawMatch {
	return func(text string) []model.RawMatch {
		var out []model.RawMatch
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			if markdownLabel(text, loc[0]) {
				continue
			}
			m := model.RawMatch{
				Kind:      kind,
				FullMatch: text[loc[0]:loc[1]],
				Label:     group(text, loc, 1),
				Captured:  group(text, loc, urlGroup),
				Start:     loc[0],
				End:       loc[1],
			}
			if noteGroup > 0 {
				m.Annotation = strings.TrimSpace(group(text, loc, noteGroup))
			}
			out = append(out, m)
		}
		return out
	}
}

// unlabeled returns a finder capturing group 1, or the whole match for a
// regex without groups.
func unlabeled(kind model.PatternKind, re *regexp.Regexp) func(string) []model.RawMatch {
	return func(text string) []model.RawMatch {
		var out []model.RawMatch
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			captured := text[loc[0]:loc[1]]
			if kind != model.PatternBareFilename && len(loc) >= 4 {
				captured = group(text, loc, 1)
			}
			out = append(out, model.RawMatch{
				Kind:      kind,
				FullMatch: text[loc[0]:loc[1]],
				Captured:  captured,
				Start:     loc[0],
				End:       loc[1],
			})
		}
		return out
	}
}

func markdownImages(re *regexp.Regexp) func(string) []model.RawMatch {
	return func(text string) []model.RawMatch {
		var out []model.RawMatch
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			out = append(out, model.RawMatch{
				Kind:      model.PatternMarkdownImage,
				FullMatch: text[loc[0]:loc[1]],
				Label:     strings.TrimSpace(group(text, loc, 1)),
				Captured:  group(text, loc, 2),
				Start:     loc[0],
				End:       loc[1],
			})
		}
		return out
	}
}

// group returns submatch n, or "" when it did not participate.
func group(text string, loc []int, n int) string {
	if 2*n+1 >= len(loc) || loc[2*n] < 0 {
		return ""
	}
	return text[loc[2*n]:loc[2*n+1]]
}

// findMultilineGap walks the lines after each label: at least one and at
// most maxGapLines non-URL lines, then a line starting with a URL. Another
// label ends the walk. RE2 has no lookahead, so this is not a regex.
func (s *Scanner) findMultilineGap(text string) []model.RawMatch {
	var out []model.RawMatch
	for _, loc := range s.label.FindAllStringSubmatchIndex(text, -1) {
		if markdownLabel(text, loc[0]) {
			continue
		}

		// The rest of the label line is not a gap line.
		pos := loc[1]
		nl := strings.IndexByte(text[pos:], '\n')
		if nl < 0 {
			continue
		}
		pos += nl + 1

		for gap := 0; gap <= s.maxGapLines && pos < len(text); gap++ {
			end := strings.IndexByte(text[pos:], '\n')
			lineEnd := len(text)
			if end >= 0 {
				lineEnd = pos + end
			}
			line := text[pos:lineEnd]
			trimmed := strings.TrimLeft(line, " \t")

			if isURLLine(trimmed) {
				if gap == 0 {
					break
				}
				tokenStart := pos + len(line) - len(trimmed)
				token := trimmed
				if i := strings.IndexAny(token, " \t\r"); i >= 0 {
					token = token[:i]
				}
				out = append(out, model.RawMatch{
					Kind:      model.PatternLabeledMultilineGap,
					FullMatch: text[loc[0] : tokenStart+len(token)],
					Label:     group(text, loc, 1),
					Captured:  token,
					Start:     loc[0],
					End:       tokenStart + len(token),
				})
				break
			}
			if s.label.MatchString(line) || end < 0 {
				break
			}
			pos = lineEnd + 1
		}
	}
	return out
}

func isURLLine(line string) bool {
	line = strings.TrimPrefix(line, "@")
	return strings.HasPrefix(line, "https://") || strings.HasPrefix(line, "http://")
}
