package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/linkgraph/internal/backlinks"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/editor"
	"github.com/starford/linkgraph/internal/pageservice"
	"github.com/starford/linkgraph/internal/resolver"
	"github.com/starford/linkgraph/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	svc := pageservice.New(testutil.TestDB(t), editor.NewWorkspace(), resolver.New("/pages/", logger),
		pageservice.WithLogger(logger))
	return New(svc, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// called directly.
	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_pages":            srv.listPages,
		"read_page":             srv.readPage,
		"create_page":           srv.createPage,
		"save_page":             srv.savePage,
		"get_backlinks":         srv.getBacklinks,
		"get_link_groups":       srv.getLinkGroups,
		"create_page_from_link": srv.createPageFromLink,
		"get_reference_syntax":  srv.getReferenceSyntax,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func resultJSON[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	if r.IsError {
		t.Fatalf("tool error: %s", resultText(r))
	}
	var v T
	if err := json.Unmarshal([]byte(resultText(r)), &v); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	return v
}

func TestCreateAndReadPage(t *testing.T) {
	srv := testServer(t)

	created := resultJSON[pageText](t, callTool(t, srv, "create_page", map[string]interface{}{
		"title":    "Test",
		"markdown": "Hello [React]",
	}))
	if created.ID == "" || created.Title != "Test" {
		t.Fatalf("created = %+v", created)
	}

	got := resultJSON[pageText](t, callTool(t, srv, "read_page", map[string]interface{}{"id": created.ID}))
	if !strings.Contains(got.Text, "Hello") {
		t.Errorf("text = %q", got.Text)
	}
	if len(got.References) != 1 || got.References[0].Key != "react" || got.References[0].State != doc.StateMissing {
		t.Errorf("references = %+v", got.References)
	}
}

func TestReadPageMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_page", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing page")
	}
	if r = callTool(t, srv, "read_page", map[string]interface{}{}); !r.IsError {
		t.Error("expected error for missing id argument")
	}
}

func TestSavePage_Conflict(t *testing.T) {
	srv := testServer(t)
	created := resultJSON[pageText](t, callTool(t, srv, "create_page", map[string]interface{}{"title": "A"}))

	r := callTool(t, srv, "save_page", map[string]interface{}{"id": created.ID, "markdown": "x", "if_match": "stale"})
	if !r.IsError || !strings.Contains(resultText(r), "checksum") {
		t.Errorf("stale save = %q", resultText(r))
	}

	saved := resultJSON[pageText](t, callTool(t, srv, "save_page", map[string]interface{}{
		"id": created.ID, "markdown": "now see [B]", "if_match": created.Checksum,
	}))
	if saved.Checksum == created.Checksum || len(saved.References) != 1 {
		t.Errorf("saved = %+v", saved)
	}
}

func TestCreatePageFromLinkAndBacklinks(t *testing.T) {
	srv := testServer(t)
	src := resultJSON[pageText](t, callTool(t, srv, "create_page", map[string]interface{}{
		"title": "Notes", "markdown": "links to [[Design Doc]]",
	}))

	r := callTool(t, srv, "get_backlinks", map[string]interface{}{"id": src.ID})
	if resultText(r) != "no backlinks found" {
		t.Errorf("backlinks of source = %q", resultText(r))
	}

	res := resultJSON[struct {
		Page    pageText `json:"page"`
		Created bool     `json:"created"`
	}](t, callTool(t, srv, "create_page_from_link", map[string]interface{}{"key": "design doc"}))
	if !res.Created || res.Page.Title != "Design Doc" {
		t.Fatalf("resolve = %+v", res)
	}

	groups := resultJSON[[]backlinks.GroupView](t, callTool(t, srv, "get_backlinks", map[string]interface{}{"id": res.Page.ID}))
	if len(groups) != 1 || len(groups[0].ReferencingPages) != 1 || groups[0].ReferencingPages[0].ID != src.ID {
		t.Errorf("backlinks = %+v", groups)
	}

	out := resultJSON[[]backlinks.GroupView](t, callTool(t, srv, "get_link_groups", map[string]interface{}{"id": src.ID}))
	if len(out) != 1 || out[0].TargetPage == nil || out[0].TargetPage.ID != res.Page.ID {
		t.Errorf("link groups = %+v", out)
	}

	// The source page now renders its reference as resolved.
	got := resultJSON[pageText](t, callTool(t, srv, "read_page", map[string]interface{}{"id": src.ID}))
	if got.References[0].State != doc.StateExists || got.References[0].PageID != res.Page.ID {
		t.Errorf("reference = %+v", got.References[0])
	}
}

func TestListPages(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "create_page", map[string]interface{}{"title": "a"})
	callTool(t, srv, "create_page", map[string]interface{}{"title": "b"})

	resp := resultJSON[struct {
		Total int `json:"total"`
	}](t, callTool(t, srv, "list_pages", map[string]interface{}{"limit": 1}))
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
}

func TestReferenceSyntax(t *testing.T) {
	srv := testServer(t)
	if text := resultText(callTool(t, srv, "get_reference_syntax", nil)); text != ReferenceSyntax {
		t.Error("syntax text mismatch")
	}
}
