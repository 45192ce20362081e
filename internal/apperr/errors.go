// Package apperr defines the sentinel errors shared across Ansuz layers.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// Device errors. Each one maps to a distinct user-facing cause.
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceNotFound   = errors.New("no microphone found")
	ErrDeviceBusy       = errors.New("microphone is in use by another application")

	// Capture outcomes.
	ErrNoAudio         = errors.New("no audio data captured")
	ErrRecordingActive = errors.New("a recording session is already active")
	ErrNoActiveSession = errors.New("no recording session is active")

	// Capability errors. Partial results obtained before the failure
	// are retained by the pipeline, not discarded.
	ErrEmptyTranscript = errors.New("transcription failed or returned empty")
	ErrEmptyPolish     = errors.New("polishing failed or returned empty")

	// Pipeline guards.
	ErrNotReady = errors.New("note is not ready to save")
	ErrStale    = errors.New("result belongs to a superseded note")
)
