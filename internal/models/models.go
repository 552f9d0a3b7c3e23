// Package models defines the domain types shared by the link graph packages.
package models

import (
	"encoding/json"
	"time"
)

// Page is a document owned by the page store.
type Page struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Slug       string          `json:"slug"`
	Content    json.RawMessage `json:"content,omitempty"`
	Checksum   string          `json:"checksum"`
	SourcePath string          `json:"source_path,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PageSummary is a page without its content tree.
type PageSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetState is the resolution state of a link group.
type TargetState string

const (
	TargetUnresolved TargetState = "unresolved"
	TargetResolved   TargetState = "resolved"
	// TargetDangling means the group was resolved but its target page was deleted.
	TargetDangling TargetState = "dangling"
)

// Valid reports whether s is one of the known states.
func (s TargetState) Valid() bool {
	switch s {
	case TargetUnresolved, TargetResolved, TargetDangling:
		return true
	}
	return false
}

// Resolution pairs a target state with the page it refers to.
// PageID is empty for unresolved groups and holds the deleted
// page id for dangling ones.
type Resolution struct {
	State  TargetState `json:"state"`
	PageID string      `json:"page_id,omitempty"`
}

// Unresolved returns the zero resolution.
func Unresolved() Resolution { return Resolution{State: TargetUnresolved} }

// ResolvedTo returns a resolution pointing at pageID.
func ResolvedTo(pageID string) Resolution {
	return Resolution{State: TargetResolved, PageID: pageID}
}

// Dangling returns a resolution whose target page no longer exists.
func Dangling(pageID string) Resolution {
	return Resolution{State: TargetDangling, PageID: pageID}
}

// Target returns the live target page id, if any.
func (r Resolution) Target() (string, bool) {
	if r.State == TargetResolved && r.PageID != "" {
		return r.PageID, true
	}
	return "", false
}

// LinkGroup is the canonical identity of every reference sharing a normalized key.
type LinkGroup struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	RawText    string     `json:"raw_text"`
	Resolution Resolution `json:"resolution"`
	LinkCount  int        `json:"link_count"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// LinkOccurrence is one appearance of a reference inside one source page.
type LinkOccurrence struct {
	ID           string    `json:"id"`
	LinkGroupID  string    `json:"link_group_id"`
	SourcePageID string    `json:"source_page_id"`
	AnnotationID string    `json:"annotation_id"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"created_at"`
}
