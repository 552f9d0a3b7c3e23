package doc

import (
	"errors"
	"testing"

	"github.com/starford/linkgraph/internal/apperr"
)

const sample = `{"type":"doc","content":[{"type":"paragraph","content":[
	{"type":"text","text":"see "},
	{"type":"text","text":"React","marks":[{"type":"bold"},{"type":"unilink","attrs":{"key":"react","text":"React","variant":"bracket","markId":"m-1","state":"missing","pageId":null}}]}
]}]}`

func TestParseAndWalk(t *testing.T) {
	root, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var types []string
	Walk(root, func(n *Node, _ Path) bool {
		types = append(types, n.Type)
		return true
	})
	want := []string{"doc", "paragraph", "text", "text"}
	if len(types) != len(want) {
		t.Fatalf("walk = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("walk = %v, want %v", types, want)
		}
	}
	if got := root.PlainText(); got != "see React" {
		t.Errorf("plain text = %q", got)
	}
}

func TestParse_EmptyAndInvalid(t *testing.T) {
	root, err := Parse(nil)
	if err != nil || root.Type != TypeDoc {
		t.Fatalf("empty input: %v %+v", err, root)
	}
	if _, err := Parse([]byte(`{"content":[]}`)); !errors.Is(err, apperr.ErrInvalidDocument) {
		t.Errorf("missing type err = %v", err)
	}
	if _, err := Parse([]byte(`{`)); !errors.Is(err, apperr.ErrInvalidDocument) {
		t.Errorf("bad json err = %v", err)
	}
}

func TestLinkMark(t *testing.T) {
	root, _ := Parse([]byte(sample))
	n := root.At(Path{0, 1})
	idx, attrs, ok := n.LinkMark()
	if !ok || idx != 1 {
		t.Fatalf("LinkMark = %d %v", idx, ok)
	}
	if attrs.Key != "react" || attrs.MarkID != "m-1" || attrs.PageID != "" {
		t.Errorf("attrs = %+v", attrs)
	}
	if _, _, ok := root.At(Path{0, 0}).LinkMark(); ok {
		t.Error("plain text should carry no link mark")
	}
}

func TestCloneIsDeep(t *testing.T) {
	root, _ := Parse([]byte(sample))
	cp := root.Clone()
	cp.At(Path{0, 1}).Marks[1].Attrs[AttrState] = StateExists
	_, attrs, _ := root.At(Path{0, 1}).LinkMark()
	if attrs.State != StateMissing {
		t.Errorf("clone mutation leaked into original: %q", attrs.State)
	}
}

func TestAt_OutOfRange(t *testing.T) {
	root, _ := Parse([]byte(sample))
	if root.At(Path{3}) != nil || root.At(Path{0, 9}) != nil {
		t.Error("expected nil for missing path")
	}
}
