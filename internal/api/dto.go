package api

import (
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pipeline"
)

// NoteListResponse wraps the library listing.
type NoteListResponse struct {
	Notes []models.Summary `json:"notes"`
	Total int              `json:"total"`
}

// NoteContentResponse is the full content of a reopened note. The raw
// transcript is deliberately absent: it is never persisted.
type NoteContentResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Markdown    string `json:"markdown"`
	HTML        string `json:"html"`
	CreatedTime string `json:"created_time"`
}

// PipelineResponse is the pipeline status snapshot.
type PipelineResponse = pipeline.Snapshot

// SavedNoteResponse is returned after a successful save.
type SavedNoteResponse struct {
	Note models.Note `json:"note"`
}
