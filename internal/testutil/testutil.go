// Package testutil provides shared test helpers for databases and documents.
package testutil

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/markdown"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t testing.TB, opts ...index.Option) *index.DB {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "linkgraph-test.db"), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeqIDs returns a generator of prefix-1, prefix-2, ... safe for concurrent use.
func SeqIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// Markdown imports src with sequential annotation ids mark-1, mark-2, ...
func Markdown(src string) *doc.Node {
	return markdown.New(markdown.WithIDFunc(SeqIDs("mark"))).Import([]byte(src))
}

// Ref returns a bracket reference span for text with the given annotation id.
func Ref(text, markID string) *doc.Node {
	return doc.Text(text, doc.LinkAttrs{
		Key:     text,
		Text:    text,
		Variant: "bracket",
		MarkID:  markID,
		State:   doc.StateMissing,
	}.Mark())
}

// Tag returns a tag reference span for name with the given annotation id.
func Tag(name, markID string) *doc.Node {
	return doc.Text("#"+name, doc.LinkAttrs{
		Key:     name,
		Text:    name,
		Variant: "tag",
		MarkID:  markID,
		State:   doc.StateMissing,
	}.Mark())
}
