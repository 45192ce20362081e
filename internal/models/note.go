// Package models defines the domain types for Ansuz.
package models

import "time"

// Status is the pipeline stage label. It governs which user actions are
// valid at any given moment.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusRecording    Status = "recording"
	StatusConverting   Status = "converting"
	StatusTranscribing Status = "transcribing"
	StatusPolishing    Status = "polishing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// Note is one voice note. Identity is an opaque creation-time-derived id
// until the note is persisted; afterwards identity is the shared base
// filename of its document/audio file pair.
type Note struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CreatedTime    time.Time `json:"created_time"`
	DocumentFileID string    `json:"document_file_id,omitempty"`
	AudioFileID    string    `json:"audio_file_id,omitempty"`
	// RawTranscript is never persisted. It is regenerable only by
	// re-running transcription on the stored audio.
	RawTranscript string `json:"raw_transcript,omitempty"`
	PolishedText  string `json:"polished_text,omitempty"`
}

// Persisted reports whether both backing files exist in the store.
// A note with only one of the two files is incomplete and hidden
// from the library.
func (n Note) Persisted() bool {
	return n.DocumentFileID != "" && n.AudioFileID != ""
}

// Summary is the lightweight library listing representation of a
// persisted note.
type Summary struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CreatedTime    time.Time `json:"created_time"`
	DocumentFileID string    `json:"document_file_id"`
	AudioFileID    string    `json:"audio_file_id"`
}
