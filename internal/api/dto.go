package api

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/linkgraph/internal/backlinks"
	"github.com/starford/linkgraph/internal/doc"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/pageservice"
)

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// PageRequest is the request body for creating or saving a page.
// Content is a document tree; Markdown is converted when Content is absent.
type PageRequest struct {
	Title    string    `json:"title" example:"React"`
	Content  *doc.Node `json:"content,omitempty"`
	Markdown string    `json:"markdown,omitempty" example:"See [Vue] and #frontend"`
}

// validateCreate requires a title.
func (r PageRequest) validateCreate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Content, validation.By(rootIsDoc)),
	)
}

// validateSave requires some content.
func (r PageRequest) validateSave() error {
	if r.Content == nil && r.Markdown == "" {
		return errors.New("content or markdown is required")
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Length(0, 500)),
		validation.Field(&r.Content, validation.By(rootIsDoc)),
	)
}

func rootIsDoc(v any) error {
	n, _ := v.(*doc.Node)
	if n != nil && n.Type != doc.TypeDoc {
		return errors.New("root node must be of type doc")
	}
	return nil
}

// DocumentRequest is the request body for saving an open document.
type DocumentRequest struct {
	Content *doc.Node `json:"content,omitempty"`
}

// Validate implements validation.Validatable.
func (r DocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.By(rootIsDoc)),
	)
}

// ResolveRequest is the request body for creating a page from a reference.
type ResolveRequest struct {
	Key       string `json:"key" example:"React" validate:"required"`
	SessionID string `json:"session_id,omitempty" example:"tab-1"`
}

// Validate implements validation.Validatable.
func (r ResolveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Key, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.SessionID, validation.Match(sessionIDRe)),
	)
}

// PageDetail is the full page response type (aliased from the domain layer).
type PageDetail = pageservice.PageDetail

// PageListResponse wraps paginated page listings.
type PageListResponse struct {
	Pages []models.PageSummary `json:"pages" validate:"required"`
	Total int                  `json:"total" example:"42" validate:"required"`
}

// GroupViewResponse wraps backlink and link panels.
type GroupViewResponse struct {
	PageID string                `json:"page_id" validate:"required"`
	Groups []backlinks.GroupView `json:"groups" validate:"required"`
}

// DocumentResponse is an open document's current state.
type DocumentResponse struct {
	SessionID string    `json:"session_id"`
	PageID    string    `json:"page_id"`
	Version   int       `json:"version"`
	Content   *doc.Node `json:"content"`
}
