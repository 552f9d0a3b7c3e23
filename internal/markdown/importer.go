// Package markdown converts Markdown text into a document tree.
//
// Block and inline structure comes from goldmark. Plain text runs of each
// block are scanned for references:
//
//	[[Target]]  [[Target|shown text]]  [Target]   bracket references
//	#target                                        tag references
//
// Code blocks and code spans are copied verbatim and never scanned. Link
// and image text is kept as plain text.
package markdown

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/links"
)

var (
	// Group 1/2: [[target|alias]], group 3: [target], group 4: #tag.
	refRe = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|([^\[\]]+))?\]\]|\[([^\[\]]+)\]|#(\p{L}[\p{L}\p{N}_/-]*)`)
)

// Importer converts Markdown to document trees.
type Importer struct {
	md    goldmark.Markdown
	newID func() string
}

// Option configures an Importer.
type Option func(*Importer)

// WithIDFunc sets the generator for annotation ids.
func WithIDFunc(fn func() string) Option {
	return func(im *Importer) {
		im.newID = fn
	}
}

// New creates an Importer. Annotation ids default to random UUIDs.
func New(opts ...Option) *Importer {
	im := &Importer{md: goldmark.New(), newID: uuid.NewString}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Import parses src into a document. It never fails; unparseable input
// degrades to paragraphs of plain text.
func (im *Importer) Import(src []byte) *doc.Node {
	root := im.md.Parser().Parse(text.NewReader(src))
	out := doc.Empty()
	for c := root.FirstChild(); c != nil; c = c.NextSibling() {
		out.Content = append(out.Content, im.block(c, src)...)
	}
	return out
}

func (im *Importer) block(n ast.Node, src []byte) []*doc.Node {
	switch b := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return []*doc.Node{doc.Paragraph(im.inlines(n, src)...)}
	case *ast.Heading:
		return []*doc.Node{{
			Type:    doc.TypeHeading,
			Attrs:   map[string]any{"level": b.Level},
			Content: im.inlines(n, src),
		}}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		code := rawLines(n, src)
		if code == "" {
			return []*doc.Node{{Type: doc.TypeCodeBlock}}
		}
		return []*doc.Node{{Type: doc.TypeCodeBlock, Content: []*doc.Node{doc.Text(code)}}}
	case *ast.List:
		list := &doc.Node{Type: doc.TypeBulletList}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			list.Content = append(list.Content, im.block(c, src)...)
		}
		return []*doc.Node{list}
	case *ast.ListItem:
		return []*doc.Node{{Type: doc.TypeListItem, Content: im.children(n, src)}}
	case *ast.Blockquote:
		return []*doc.Node{{Type: doc.TypeBlockquote, Content: im.children(n, src)}}
	case *ast.HTMLBlock, *ast.ThematicBreak:
		return nil
	}
	return im.children(n, src)
}

func (im *Importer) children(n ast.Node, src []byte) []*doc.Node {
	var out []*doc.Node
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		out = append(out, im.block(c, src)...)
	}
	return out
}

// inlines converts the inline children of a block. Consecutive text is
// buffered so references split across goldmark delimiters are seen whole.
func (im *Importer) inlines(n ast.Node, src []byte) []*doc.Node {
	var out []*doc.Node
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, im.inline(buf.String())...)
			buf.Reset()
		}
	}
	var walk func(p ast.Node)
	walk = func(p ast.Node) {
		for c := p.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				buf.Write(t.Segment.Value(src))
				if t.SoftLineBreak() || t.HardLineBreak() {
					buf.WriteByte(' ')
				}
			case *ast.String:
				buf.Write(t.Value)
			case *ast.CodeSpan:
				flush()
				if code := nodeText(t, src); code != "" {
					out = append(out, doc.Text(code, doc.Mark{Type: doc.MarkCode}))
				}
			case *ast.Link, *ast.Image:
				flush()
				if s := nodeText(c, src); s != "" {
					out = append(out, doc.Text(s))
				}
			case *ast.AutoLink:
				flush()
				out = append(out, doc.Text(string(t.URL(src))))
			case *ast.RawHTML:
			default:
				walk(c)
			}
		}
	}
	walk(n)
	flush()
	return out
}

// nodeText is the unscanned text under n.
func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// inline splits s into plain text nodes and link spans.
func (im *Importer) inline(s string) []*doc.Node {
	var out []*doc.Node
	last := 0
	for _, m := range refRe.FindAllStringSubmatchIndex(s, -1) {
		start, end := m[0], m[1]
		target, shown, variant := "", "", links.VariantBracket
		switch {
		case m[2] >= 0:
			target = s[m[2]:m[3]]
			shown = target
			if m[4] >= 0 {
				shown = strings.TrimSpace(s[m[4]:m[5]])
			}
		case m[6] >= 0:
			// [text](url) is a Markdown link, not a reference.
			if end < len(s) && s[end] == '(' {
				continue
			}
			target = s[m[6]:m[7]]
			shown = target
		case m[8] >= 0:
			if !tagBoundary(s, start) {
				continue
			}
			target = s[m[8]:m[9]]
			shown = "#" + target
			variant = links.VariantTag
		}
		target = strings.TrimSpace(target)
		key := links.NormalizeKey(target)
		if key == "" {
			continue
		}
		if start > last {
			out = append(out, doc.Text(s[last:start]))
		}
		attrs := doc.LinkAttrs{
			Key:     key,
			Text:    target,
			Variant: variant.String(),
			MarkID:  im.newID(),
			State:   doc.StateMissing,
		}
		out = append(out, doc.Text(shown, attrs.Mark()))
		last = end
	}
	if last < len(s) {
		out = append(out, doc.Text(s[last:]))
	}
	return out
}

// tagBoundary reports whether a '#' at i starts a tag, i.e. it is at the
// start of the text or follows whitespace.
func tagBoundary(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsSpace(r)
}

func rawLines(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return strings.TrimRight(b.String(), "\n")
}
