// Package cleaner removes image references from assistant text so that the
// remaining answer can be displayed next to a separate image gallery.
package cleaner

import (
	"regexp"
	"strings"

	"github.com/nao1215/imgref/internal/config"
)

// rule is one removal applied in order.
type rule struct {
	name string
	re   *regexp.Regexp
}

// Cleaner strips label lines, storage URLs, markdown images and page or
// relevance annotations from text.
type Cleaner struct {
	rules []rule
}

var blankRuns = regexp.MustCompile(`\n(?:[ \t]*\n){2,}`)

// New creates a Cleaner for the given resolver tables.
func New(cfg config.ResolverConfig) *Cleaner {
	label := `\[` + regexp.QuoteMeta(cfg.LabelToken) + `[ \t]*\d+\]`
	storage := `@?https?://` + regexp.QuoteMeta(cfg.StorageHost()) + regexp.QuoteMeta(cfg.StoragePath())

	return &Cleaner{
		rules: []rule{
			{name: "label", re: regexp.MustCompile(label + `[^\n]*\n?`)},
			{name: "storage-url", re: regexp.MustCompile(storage + `[^\s?]+(?:\?\S*)?[ \t]*\r?\n?`)},
			{name: "markdown-image", re: regexp.MustCompile(`!\[[^\]\n]*\]\([ \t]*[^\s)]+[ \t]*\)[ \t]*\r?\n?`)},
			{name: "page", re: regexp.MustCompile(`(?m)^[ \t]*페이지:[^\n]*\n?`)},
			{name: "relevance", re: regexp.MustCompile(`(?m)^[ \t]*관련성[^\n]*\n?`)},
			{name: "related-images", re: regexp.MustCompile(`(?m)^[ \t#*]*관련 이미지[^\n]*\n?`)},
		},
	}
}

// Clean returns text without image references. Runs of blank lines left
// behind collapse to one blank line and the result is trimmed.
func (c *Cleaner) Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, r := range c.rules {
		text = remove(text, r.re)
	}
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// remove deletes every match of re. A match that starts mid-line is
// replaced by a line break so the text before it stays on its own line.
func remove(text string, re *regexp.Regexp) string {
	locs := re.FindAllStringIndex(text, -1)
	if locs == nil {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, loc := range locs {
		b.WriteString(text[prev:loc[0]])
		if loc[0] > 0 && text[loc[0]-1] != '\n' {
			b.WriteByte('\n')
		}
		prev = loc[1]
	}
	b.WriteString(text[prev:])
	return b.String()
}

// Rules returns the rule names in application order.
func (c *Cleaner) Rules() []string {
	names := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		names = append(names, r.name)
	}
	return names
}
