package models

import (
	"strings"
	"time"
)

// ContextSnapshot is the most recent captured context for a session.
// Exactly one snapshot is live per session; a new capture replaces it
// wholesale, never field by field.
type ContextSnapshot struct {
	CapturedAt   time.Time `json:"captured_at"`
	OCRText      *string   `json:"ocr_text"`
	SelectedText *string   `json:"selected_text"`
	SourceApp    string    `json:"source_app,omitempty"`
	SourceURL    string    `json:"source_url,omitempty"`
}

// Text combines the searchable text fields of the snapshot.
func (s ContextSnapshot) Text() string {
	var parts []string
	if s.OCRText != nil && *s.OCRText != "" {
		parts = append(parts, *s.OCRText)
	}
	if s.SelectedText != nil && *s.SelectedText != "" {
		parts = append(parts, *s.SelectedText)
	}
	return strings.Join(parts, "\n")
}

// IsEmpty reports whether the snapshot carries no usable context.
func (s ContextSnapshot) IsEmpty() bool {
	return s.Text() == "" && s.SourceApp == "" && s.SourceURL == ""
}

// TagRef links a note to a tag in the remote catalog.
type TagRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ContextNote is an immutable record of a finalized capture. Notes are
// append-only: never mutated, only superseded by newer notes.
type ContextNote struct {
	ID        string          `json:"id"`
	Snapshot  ContextSnapshot `json:"snapshot"`
	Tags      []TagRef        `json:"tags,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
