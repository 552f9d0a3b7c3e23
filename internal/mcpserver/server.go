// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes link graph tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/pageservice"
)

const syntaxURI = "linkgraph://reference-syntax"

// Server wraps the MCP server with link graph tools.
type Server struct {
	mcp *server.MCPServer
	svc *pageservice.Service
}

// New creates a new MCP server with all link graph tools registered.
func New(svc *pageservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Link Graph",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List pages ordered by most recently updated."),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read a page's text and the resolution state of its references."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page ID")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a page from Markdown. References follow the syntax "+
			"returned by get_reference_syntax or the "+syntaxURI+" resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Page title")),
		mcp.WithString("markdown", mcp.Description("Markdown body")),
	), s.createPage)

	s.mcp.AddTool(mcp.NewTool("save_page",
		mcp.WithDescription("Replace a page's content with Markdown."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page ID")),
		mcp.WithString("markdown", mcp.Required(), mcp.Description("New Markdown body")),
		mcp.WithString("if_match", mcp.Description("Checksum the page must currently have")),
	), s.savePage)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Link groups resolved to the page, with the pages that reference them."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page ID")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("get_link_groups",
		mcp.WithDescription("Link groups referenced from the page, with their targets and other referencing pages."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page ID")),
	), s.getLinkGroups)

	s.mcp.AddTool(mcp.NewTool("create_page_from_link",
		mcp.WithDescription("Resolve a reference: create its target page, or reuse the one it already points at."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Reference text, e.g. React")),
	), s.createPageFromLink)

	s.mcp.AddTool(mcp.NewTool("get_reference_syntax",
		mcp.WithDescription("Returns the reference syntax recognised in page Markdown."),
	), s.getReferenceSyntax)

	s.mcp.AddResource(
		mcp.NewResource(syntaxURI, "Reference Syntax",
			mcp.WithResourceDescription("How references are written and grouped."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type reference struct {
	Key    string `json:"key"`
	Text   string `json:"text"`
	State  string `json:"state"`
	PageID string `json:"page_id,omitempty"`
}

type pageText struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Checksum   string      `json:"checksum"`
	Text       string      `json:"text"`
	References []reference `json:"references"`
}

func toPageText(p *pageservice.PageDetail) pageText {
	out := pageText{ID: p.ID, Title: p.Title, Checksum: p.Checksum, References: []reference{}}
	if p.Content == nil {
		return out
	}
	out.Text = p.Content.PlainText()
	doc.Walk(p.Content, func(n *doc.Node, _ doc.Path) bool {
		if _, a, ok := n.LinkMark(); ok {
			out.References = append(out.References, reference{Key: a.Key, Text: a.Text, State: a.State, PageID: a.PageID})
		}
		return true
	})
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found")
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError("checksum mismatch: read the page again")
	case errors.Is(err, apperr.ErrAlreadyResolved):
		return mcp.NewToolResultError("link already resolved to another page")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 50)
	offset := req.GetInt("offset", 0)
	items, total, err := s.svc.List(ctx, limit, offset)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"pages": items, "total": total})
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(toPageText(p))
}

func (s *Server) createPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.Create(ctx, pageservice.PageInput{Title: title, Markdown: req.GetString("markdown", "")})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(toPageText(p))
}

func (s *Server) savePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	md, err := req.RequireString("markdown")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.Save(ctx, id, pageservice.PageInput{Markdown: md, IfMatch: req.GetString("if_match", "")})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(toPageText(p))
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	groups, err := s.svc.Backlinks(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	if len(groups) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return jsonResult(groups)
}

func (s *Server) getLinkGroups(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	groups, err := s.svc.Links(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	if len(groups) == 0 {
		return mcp.NewToolResultText("no references found"), nil
	}
	return jsonResult(groups)
}

func (s *Server) createPageFromLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.CreateFromReference(ctx, "", key)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{
		"group":   res.Group,
		"page":    toPageText(&res.Page),
		"created": res.Created,
	})
}

func (s *Server) getReferenceSyntax(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ReferenceSyntax), nil
}

func (s *Server) readSyntaxResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      syntaxURI,
			MIMEType: "text/markdown",
			Text:     ReferenceSyntax,
		},
	}, nil
}
