// Package extract turns a rendered AI-answer page into ordered text and code blocks.
//
// Extraction is bound to one page layout (see Layout). Blocks come out in two passes:
// first every loose paragraph in document order, then every code sample in document
// order, each followed by its short caption when it has one. The passes are not
// interleaved by position.
package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// MaxCaptionRunes bounds the paragraph that may follow a code sample as its caption.
const MaxCaptionRunes = 50

// Layout names the CSS selectors of the answer page.
type Layout struct {
	// Container selects the single answer container.
	Container string
	// Text selects paragraph elements inside the container.
	Text string
	// CodeSample selects code sample wrappers inside the container.
	CodeSample string
	// Language selects the optional language label inside a code sample.
	Language string
	// Code selects the code element inside a code sample.
	Code string
	// Ready lists selectors whose presence means the answer has started rendering.
	Ready []string
}

// DefaultLayout is the AI-mode answer layout the extractor is versioned against.
func DefaultLayout() Layout {
	return Layout{
		Container:  "div.mZJni.Dn7Fzd",
		Text:       "div.Y3BBE",
		CodeSample: "div.r1PmQe",
		Language:   "div.vVRw1d",
		Code:       "pre code",
		Ready:      []string{"div.Y3BBE", "div.kCrYT", "div.hgKElc"},
	}
}

// Extractor is a pure function of its Layout; the zero value is not usable, use New.
type Extractor struct {
	layout Layout
}

// New returns an extractor for layout.
func New(layout Layout) *Extractor {
	return &Extractor{layout: layout}
}

// Layout returns the selectors this extractor matches.
func (e *Extractor) Layout() Layout { return e.layout }

// Extract parses raw and returns the answer blocks. A nil result means no answer:
// the container is missing, or it holds no non-empty paragraph and no code sample.
// Unparseable input is treated the same way.
func (e *Extractor) Extract(raw string) []Block {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil
	}

	container := doc.Find(e.layout.Container).First()
	if container.Length() == 0 {
		return nil
	}

	code, captions := e.codeSamples(container)

	var blocks []Block
	container.Find(e.layout.Text).Each(func(_ int, p *goquery.Selection) {
		if p.ParentsFiltered(e.layout.CodeSample).Length() > 0 {
			return
		}
		if captions[p.Get(0)] {
			return
		}
		if text := collapse(textWithSeparator(p, " ")); text != "" {
			blocks = append(blocks, TextBlock(text))
		}
	})
	blocks = append(blocks, code...)

	if len(blocks) == 0 {
		return nil
	}
	return blocks
}

// codeSamples returns each code sample followed by its caption, plus the caption
// nodes so the paragraph pass does not emit them a second time.
func (e *Extractor) codeSamples(container *goquery.Selection) ([]Block, map[*html.Node]bool) {
	var blocks []Block
	captions := make(map[*html.Node]bool)

	container.Find(e.layout.CodeSample).Each(func(_ int, sample *goquery.Selection) {
		codeEl := sample.Find(e.layout.Code).First()
		if codeEl.Length() == 0 {
			return
		}

		language := ""
		if label := sample.Find(e.layout.Language).First(); label.Length() > 0 {
			language = textWithSeparator(label, "")
		}
		blocks = append(blocks, CodeBlock(language, codeEl.Text()))

		next := sample.Next()
		if next.Length() == 0 || !next.Is(e.layout.Text) {
			return
		}
		caption := textWithSeparator(next, "")
		if caption != "" && utf8.RuneCountInString(caption) < MaxCaptionRunes {
			blocks = append(blocks, TextBlock(caption))
			captions[next.Get(0)] = true
		}
	})
	return blocks, captions
}

// textWithSeparator joins the trimmed, non-empty text nodes under sel with sep.
// Script and style contents are skipped.
func textWithSeparator(sel *goquery.Selection, sep string) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, sep)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
