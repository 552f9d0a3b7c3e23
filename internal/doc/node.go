// Package doc models the rich-text document tree stored as page content.
//
// The tree is ProseMirror-shaped JSON: block nodes carry children in
// Content, inline text nodes carry Text and Marks. References are text
// nodes carrying a mark of type LinkMarkType.
package doc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/starford/linkgraph/internal/apperr"
)

// Node types produced by this module. Unknown types are preserved as-is.
const (
	TypeDoc        = "doc"
	TypeParagraph  = "paragraph"
	TypeHeading    = "heading"
	TypeText       = "text"
	TypeBulletList = "bulletList"
	TypeListItem   = "listItem"
	TypeCodeBlock  = "codeBlock"
	TypeBlockquote = "blockquote"
)

// MarkCode marks inline code. Text under it is never scanned for references.
const MarkCode = "code"

// Node is one node of the document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is an inline annotation on a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Path addresses a node by child indexes from the root.
type Path []int

// Empty returns a document with no content.
func Empty() *Node {
	return &Node{Type: TypeDoc}
}

// New returns a document holding the given blocks.
func New(blocks ...*Node) *Node {
	return &Node{Type: TypeDoc, Content: blocks}
}

// Paragraph returns a paragraph of inline nodes.
func Paragraph(inline ...*Node) *Node {
	return &Node{Type: TypeParagraph, Content: inline}
}

// Text returns a text node with optional marks.
func Text(s string, marks ...Mark) *Node {
	return &Node{Type: TypeText, Text: s, Marks: marks}
}

// Parse decodes a JSON document. Empty input yields an empty document.
func Parse(data []byte) (*Node, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return Empty(), nil
	}
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidDocument, err)
	}
	if n.Type == "" {
		return nil, fmt.Errorf("%w: root node has no type", apperr.ErrInvalidDocument)
	}
	return &n, nil
}

// Marshal encodes the document. The encoding is stable for equal trees
// because map keys are sorted by encoding/json.
func Marshal(n *Node) ([]byte, error) {
	if n == nil {
		n = Empty()
	}
	return json.Marshal(n)
}

// Walk visits n and its descendants depth-first in document order.
// Returning false from fn skips the node's children.
func Walk(n *Node, fn func(n *Node, path Path) bool) {
	if n == nil {
		return
	}
	walk(n, nil, fn)
}

func walk(n *Node, path Path, fn func(*Node, Path) bool) {
	if !fn(n, path) {
		return
	}
	for i, child := range n.Content {
		if child == nil {
			continue
		}
		p := make(Path, len(path)+1)
		copy(p, path)
		p[len(path)] = i
		walk(child, p, fn)
	}
}

// At returns the node at path, or nil when the path does not exist.
func (n *Node) At(path Path) *Node {
	cur := n
	for _, i := range path {
		if cur == nil || i < 0 || i >= len(cur.Content) {
			return nil
		}
		cur = cur.Content[i]
	}
	return cur
}

// PlainText concatenates the text of every text node under n.
func (n *Node) PlainText() string {
	var buf bytes.Buffer
	Walk(n, func(c *Node, _ Path) bool {
		if c.Type == TypeText {
			buf.WriteString(c.Text)
		}
		return true
	})
	return buf.String()
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Type:  n.Type,
		Text:  n.Text,
		Attrs: cloneMap(n.Attrs),
	}
	if n.Content != nil {
		out.Content = make([]*Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = c.Clone()
		}
	}
	if n.Marks != nil {
		out.Marks = make([]Mark, len(n.Marks))
		for i, m := range n.Marks {
			out.Marks[i] = Mark{Type: m.Type, Attrs: cloneMap(m.Attrs)}
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
