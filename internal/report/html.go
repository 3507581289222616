package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nao1215/imgref/internal/model"
)

const galleryStyle = `body{font-family:sans-serif;margin:2rem;max-width:60rem}
table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.25rem .5rem}
.gallery{display:flex;flex-wrap:wrap;gap:1rem}
figure{margin:0;width:14rem}figure img{max-width:100%}
figure.missing{opacity:.4}figcaption{font-size:.85rem}`

// HTMLWriter outputs a standalone HTML page with an image gallery and the
// cleaned answer text.
type HTMLWriter struct {
	baseWriter
	markdown goldmark.Markdown
}

// HTMLWriterOption configures an HTMLWriter.
type HTMLWriterOption func(*HTMLWriter)

// WithHTMLProxy loads gallery images through the proxy.
func WithHTMLProxy(endpoint string) HTMLWriterOption {
	return func(w *HTMLWriter) {
		w.proxyEndpoint = endpoint
	}
}

// NewHTMLWriter creates an HTMLWriter that outputs to the given writer.
func NewHTMLWriter(output io.Writer, opts ...HTMLWriterOption) *HTMLWriter {
	w := &HTMLWriter{
		baseWriter: newBaseWriter(output),
		markdown:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the resolution as an HTML page.
func (w *HTMLWriter) Write(res *model.Resolution) (int, error) {
	body := element(atom.Body)
	body.AppendChild(textElement(atom.H1, "Image Reference Report"))
	body.AppendChild(w.summary(res))
	body.AppendChild(textElement(atom.H2, fmt.Sprintf("Images (%d)", len(res.Images))))
	body.AppendChild(w.gallery(res))

	if res.CleanedText != "" {
		body.AppendChild(textElement(atom.H2, "Answer"))
		answer, err := w.answer(res.CleanedText, body)
		if err != nil {
			return 0, fmt.Errorf("failed to render answer text: %w", err)
		}
		body.AppendChild(answer)
	}

	head := element(atom.Head)
	meta := element(atom.Meta, html.Attribute{Key: "charset", Val: "utf-8"})
	head.AppendChild(meta)
	head.AppendChild(textElement(atom.Title, "imgref: "+res.Source))
	head.AppendChild(textElement(atom.Style, galleryStyle))

	root := element(atom.Html)
	root.AppendChild(head)
	root.AppendChild(body)

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	doc.AppendChild(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return 0, err
	}
	buf.WriteByte('\n')
	return w.output.Write(buf.Bytes())
}

func (w *HTMLWriter) summary(res *model.Resolution) *html.Node {
	table := element(atom.Table)
	rows := [][2]string{
		{"Source", res.Source},
		{"Resolved", res.CreatedAt.Format("2006-01-02 15:04:05 MST")},
		{"Run ID", res.ID},
		{"Candidates", fmt.Sprintf("%d (%d rejected)", res.Candidates, res.Rejected)},
		{"Status", status(res)},
	}
	if res.Verified {
		rows = append(rows, [2]string{"Missing", strconv.Itoa(len(res.Missing))})
	}
	for _, r := range rows {
		tr := element(atom.Tr)
		tr.AppendChild(textElement(atom.Th, r[0]))
		tr.AppendChild(textElement(atom.Td, r[1]))
		table.AppendChild(tr)
	}
	return table
}

func (w *HTMLWriter) gallery(res *model.Resolution) *html.Node {
	section := element(atom.Section, html.Attribute{Key: "class", Val: "gallery"})
	if len(res.Images) == 0 {
		section.AppendChild(textElement(atom.P, "No image references found."))
		return section
	}

	for _, img := range res.Images {
		var attrs []html.Attribute
		if res.Verified && res.IsMissing(img.URL) {
			attrs = append(attrs, html.Attribute{Key: "class", Val: "missing"})
		}
		figure := element(atom.Figure, attrs...)

		link := element(atom.A, html.Attribute{Key: "href", Val: img.URL})
		link.AppendChild(element(atom.Img,
			html.Attribute{Key: "src", Val: w.imageURL(img.URL)},
			html.Attribute{Key: "alt", Val: img.Label},
			html.Attribute{Key: "loading", Val: "lazy"},
		))
		figure.AppendChild(link)

		caption := fmt.Sprintf("%s (%s, page %s)", img.Label, img.Kind, pageText(img))
		if p, ok := res.Probes[img.URL]; ok {
			caption += " " + probeSummary(p)
		}
		figure.AppendChild(textElement(atom.Figcaption, caption))
		section.AppendChild(figure)
	}
	return section
}

// answer renders markdown text and parses it into nodes under a section.
func (w *HTMLWriter) answer(text string, context *html.Node) (*html.Node, error) {
	var rendered bytes.Buffer
	if err := w.markdown.Convert([]byte(text), &rendered); err != nil {
		return nil, err
	}
	nodes, err := html.ParseFragment(&rendered, context)
	if err != nil {
		return nil, err
	}

	section := element(atom.Section, html.Attribute{Key: "class", Val: "answer"})
	for _, n := range nodes {
		section.AppendChild(n)
	}
	return section, nil
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func textElement(a atom.Atom, text string) *html.Node {
	n := element(a)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}
