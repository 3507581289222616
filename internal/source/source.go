// Package source loads the documents handed to the resolver.
//
// Plain text and markdown are passed through unchanged. HTML transcripts
// (for example a saved chat page) are reduced to their visible text, with
// <img> elements rewritten as markdown images so the resolver still sees
// them.
package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nao1215/imgref/internal/model"
)

// StdinName is the document name used for standard input.
const StdinName = "-"

// ErrNotRegularFile is returned for directories and other non-files.
var ErrNotRegularFile = errors.New("not a regular file")

// Format is the detected input format.
type Format int

const (
	// FormatText is plain text.
	FormatText Format = iota
	// FormatMarkdown is markdown.
	FormatMarkdown
	// FormatHTML is an HTML page.
	FormatHTML
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatHTML:
		return "html"
	default:
		return "text"
	}
}

// DetectFormat decides the format from the file extension, then from the
// leading bytes.
func DetectFormat(name string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm", ".xhtml":
		return FormatHTML
	case ".md", ".markdown":
		return FormatMarkdown
	}
	head := strings.ToLower(strings.TrimSpace(string(data[:min(len(data), 512)])))
	if strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html") {
		return FormatHTML
	}
	return FormatText
}

// Load reads a document from path. StdinName reads from stdin.
func Load(path string, stdin io.Reader) (model.Document, error) {
	if path == StdinName {
		return LoadReader(StdinName, stdin)
	}

	info, err := os.Stat(path)
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return model.Document{}, fmt.Errorf("%s: %w", path, ErrNotRegularFile)
	}

	f, err := os.Open(path) //nolint:gosec // path is a user-supplied input file
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return LoadReader(path, f)
}

// LoadAll loads every path in order. An empty list reads stdin.
func LoadAll(paths []string, stdin io.Reader) ([]model.Document, error) {
	if len(paths) == 0 {
		paths = []string{StdinName}
	}
	docs := make([]model.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := Load(p, stdin)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// LoadReader reads a document named name from r.
func LoadReader(name string, r io.Reader) (model.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to read %s: %w", name, err)
	}

	text := string(data)
	if DetectFormat(name, data) == FormatHTML {
		text, err = HTMLText(bytes.NewReader(data))
		if err != nil {
			return model.Document{}, fmt.Errorf("failed to parse HTML %s: %w", name, err)
		}
	}
	return model.NewDocument(name, text), nil
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
	altEscaper    = strings.NewReplacer("[", "", "]", "", "\n", " ")
)

// blockElements end the current line.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Pre: true, atom.Blockquote: true, atom.Section: true, atom.Article: true,
	atom.Figure: true, atom.Figcaption: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// HTMLText returns the visible text of an HTML document. Images become
// markdown image syntax on their own line.
func HTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Noscript, atom.Template:
				return
			case atom.Br:
				b.WriteByte('\n')
				return
			case atom.Img:
				if src := attr(n, "src"); src != "" {
					alt := altEscaper.Replace(attr(n, "alt"))
					b.WriteString("\n![" + alt + "](" + src + ")\n")
				}
				return
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	text := trailingSpace.ReplaceAllString(b.String(), "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
