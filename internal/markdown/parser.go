// Package markdown renders file previews: Markdown through goldmark with GFM
// extensions, any other text file as a chroma-highlighted code block.
package markdown

import (
	"bytes"
	"path"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

const highlightStyle = "monokai"

var (
	anchorInvalid = regexp.MustCompile(`[^a-z0-9\-\p{Han}\p{Hiragana}\p{Katakana}]`)
	anchorDashes  = regexp.MustCompile(`-+`)
)

// markdownExtensions are rendered as Markdown; everything else as code.
var markdownExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".mdown":    true,
	".mkd":      true,
}

// TOCItem represents a table of contents entry
type TOCItem struct {
	Level  int    `json:"level"`
	Title  string `json:"title"`
	Anchor string `json:"anchor"`
}

// Preview is the rendered form of a file
type Preview struct {
	HTML     string    `json:"html"`
	TOC      []TOCItem `json:"toc"`
	Title    string    `json:"title"`
	Markdown bool      `json:"markdown"`
	Language string    `json:"language,omitempty"`
}

// Renderer renders previews. It is safe for concurrent use.
type Renderer struct {
	md        goldmark.Markdown
	formatter *chromahtml.Formatter
	style     *chroma.Style
}

// NewRenderer creates a renderer with GFM extensions and syntax highlighting
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Typographer,
			highlighting.NewHighlighting(
				highlighting.WithStyle(highlightStyle),
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &Renderer{
		md:        md,
		formatter: chromahtml.New(chromahtml.WithClasses(true), chromahtml.WithLineNumbers(true)),
		style:     styles.Get(highlightStyle),
	}
}

// IsMarkdown reports whether the file at p is rendered as Markdown
func IsMarkdown(p string) bool {
	return markdownExtensions[strings.ToLower(path.Ext(p))]
}

// Render previews content as it would appear for the file at p.
func (r *Renderer) Render(p string, content []byte) (*Preview, error) {
	if IsMarkdown(p) {
		return r.renderMarkdown(content)
	}
	return r.renderCode(p, content)
}

func (r *Renderer) renderMarkdown(source []byte) (*Preview, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(source, &buf); err != nil {
		return nil, errors.Wrap(err, "render markdown")
	}

	toc := r.extractTOC(source)
	title := ""
	if len(toc) > 0 {
		title = toc[0].Title
	}

	return &Preview{
		HTML:     buf.String(),
		TOC:      toc,
		Title:    title,
		Markdown: true,
		Language: "markdown",
	}, nil
}

func (r *Renderer) renderCode(p string, source []byte) (*Preview, error) {
	lexer := lexers.Match(path.Base(p))
	if lexer == nil {
		lexer = lexers.Analyse(string(source))
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, string(source))
	if err != nil {
		return nil, errors.Wrap(err, "tokenise source")
	}

	var buf bytes.Buffer
	if err := r.formatter.Format(&buf, r.style, iterator); err != nil {
		return nil, errors.Wrap(err, "format source")
	}

	return &Preview{
		HTML:     buf.String(),
		Title:    path.Base(p),
		Language: strings.ToLower(lexer.Config().Name),
	}, nil
}

// extractTOC walks the AST to extract headings
func (r *Renderer) extractTOC(source []byte) []TOCItem {
	reader := text.NewReader(source)
	doc := r.md.Parser().Parse(reader)

	var toc []TOCItem
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		if heading, ok := n.(*ast.Heading); ok {
			title := extractText(heading, source)
			toc = append(toc, TOCItem{
				Level:  heading.Level,
				Title:  title,
				Anchor: generateAnchor(title),
			})
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil
	}

	return toc
}

// extractText extracts text content from a node
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return buf.String()
}

// generateAnchor creates a URL-safe anchor from text
func generateAnchor(s string) string {
	anchor := strings.ToLower(s)
	anchor = strings.ReplaceAll(anchor, " ", "-")
	anchor = anchorInvalid.ReplaceAllString(anchor, "")
	anchor = anchorDashes.ReplaceAllString(anchor, "-")
	return strings.Trim(anchor, "-")
}
