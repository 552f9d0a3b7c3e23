package checksum

import (
	"testing"

	"github.com/starford/linkgraph/internal/doc"
)

func TestSum_Known(t *testing.T) {
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != empty {
		t.Errorf("Sum(nil) = %s", got)
	}
}

func TestTree_StableAcrossClones(t *testing.T) {
	root := doc.New(doc.Paragraph(doc.Text("hello")))
	a, err := Tree(root)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Tree(root.Clone())
	if a != b {
		t.Errorf("checksums differ: %s vs %s", a, b)
	}
	root.Content[0].Content[0].Text = "changed"
	c, _ := Tree(root)
	if c == a {
		t.Error("checksum should change with content")
	}
}
