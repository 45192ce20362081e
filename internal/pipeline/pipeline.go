// Package pipeline orchestrates one note's journey from captured audio
// through transcription and polishing to a saveable note, and owns the
// status transitions that govern what a consumer may trigger at each step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/capture"
	"github.com/starford/ansuz/internal/gemini"
	"github.com/starford/ansuz/internal/markdown"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
)

// reopenedAudioMime labels audio fetched back from the store, whose codec
// is not recorded there.
const reopenedAudioMime = "audio/webm"

// Notifier receives every status transition. The pipeline never fails
// silently: each caught failure produces a notification with a
// user-visible message.
type Notifier func(status models.Status, message, noteID string)

// Pipeline is the note orchestrator. All exported methods are safe for
// concurrent use; within one note the stages run strictly in sequence.
type Pipeline struct {
	stages *gemini.Stages
	store  *notestore.Store
	notify Notifier
	logger *slog.Logger

	mu      sync.Mutex
	token   uuid.UUID // identity of the current note; rotates on every reset
	note    models.Note
	message string
	stage   stage
	session *capture.Session
}

// New creates a pipeline starting at idle with a fresh note.
func New(stages *gemini.Stages, store *notestore.Store, notify Notifier, logger *slog.Logger) *Pipeline {
	if notify == nil {
		notify = func(models.Status, string, string) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{stages: stages, store: store, notify: notify, logger: logger}
	p.NewNote()
	return p
}

// Snapshot is a read-only view of the pipeline carrying only the fields
// valid at the current stage.
type Snapshot struct {
	Status      models.Status `json:"status"`
	Message     string        `json:"message"`
	NoteID      string        `json:"note_id"`
	Title       string        `json:"title"`
	CreatedTime time.Time     `json:"created_time"`
	Transcript  string        `json:"transcript,omitempty"`
	Polished    string        `json:"polished,omitempty"`
	HasAudio    bool          `json:"has_audio"`
	// Recording only.
	Elapsed  int64     `json:"elapsed_ms,omitempty"`
	Spectrum []float64 `json:"spectrum,omitempty"`
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		Status:      p.stage.status(),
		Message:     p.message,
		NoteID:      p.note.ID,
		Title:       p.note.Title,
		CreatedTime: p.note.CreatedTime,
		Transcript:  transcriptOf(p.stage),
	}
	if rs, ok := p.stage.(readyStage); ok {
		snap.Polished = rs.polished
	}
	_, _, snap.HasAudio = audioOf(p.stage)
	if _, ok := p.stage.(recordingStage); ok && p.session != nil {
		snap.Elapsed = p.session.Elapsed().Milliseconds()
		snap.Spectrum = p.session.Spectrum()
	}
	return snap
}

// Audio returns the current note's audio blob and mime type for playback.
func (p *Pipeline) Audio() ([]byte, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return audioOf(p.stage)
}

// NewNote unconditionally discards all transient session state - any live
// capture session, audio blob, transcript and polish fields - and enters
// idle with a fresh creation-time-derived note identity. Late results
// from a previous note's in-flight chain are dropped by the token
// rotation.
func (p *Pipeline) NewNote() Snapshot {
	p.mu.Lock()
	session := p.session
	p.session = nil
	now := time.Now()
	p.token = uuid.New()
	p.note = models.Note{
		ID:          fmt.Sprintf("note_%d", now.UnixMilli()),
		Title:       notestore.DefaultTitle,
		CreatedTime: now,
	}
	p.stage = idleStage{}
	p.message = "Ready to record"
	p.mu.Unlock()

	if session != nil {
		session.Release()
	}
	p.notify(models.StatusIdle, "Ready to record", p.noteID())
	return p.Snapshot()
}

// OpenNote resets the pipeline and loads a stored note into it. The
// reconstructed note has no raw transcript; that is regenerable only by
// re-running transcription.
func (p *Pipeline) OpenNote(ctx context.Context, id string) (Snapshot, error) {
	p.NewNote()

	p.mu.Lock()
	token := p.token
	p.message = "Loading note..."
	p.mu.Unlock()
	p.notify(models.StatusIdle, "Loading note...", p.noteID())

	summary, err := p.store.Find(ctx, id)
	if err != nil {
		p.applyMessage(token, "Error loading note.")
		return p.Snapshot(), err
	}
	polished, audio, err := p.store.FetchContent(ctx, summary)
	if err != nil {
		p.applyMessage(token, "Error loading note.")
		return p.Snapshot(), err
	}

	applied := p.apply(token, func() {
		p.note = models.Note{
			ID:             summary.ID,
			Title:          summary.Title,
			CreatedTime:    summary.CreatedTime,
			DocumentFileID: summary.DocumentFileID,
			AudioFileID:    summary.AudioFileID,
			PolishedText:   polished,
		}
		p.stage = readyStage{audio: audio, mime: reopenedAudioMime, polished: polished}
		p.message = "Note loaded successfully."
	})
	if !applied {
		return p.Snapshot(), apperr.ErrStale
	}
	p.notify(models.StatusReady, "Note loaded successfully.", summary.ID)
	return p.Snapshot(), nil
}

// StartRecording acquires a capture session. Valid from idle, ready, or
// error; unsaved pipeline state is discarded first. Device failures
// surface a specific cause and leave no stream resources open.
func (p *Pipeline) StartRecording(factory capture.SourceFactory) (Snapshot, error) {
	p.mu.Lock()
	switch p.stage.(type) {
	case recordingStage, acquiringStage:
		p.mu.Unlock()
		return p.Snapshot(), apperr.ErrRecordingActive
	case idleStage, readyStage, errorStage:
		// Allowed; unsaved state is discarded below.
	default:
		p.mu.Unlock()
		return p.Snapshot(), fmt.Errorf("%w: a processing chain is in flight", apperr.ErrConflict)
	}
	// Discard unsaved pipeline state and hold the slot while the device
	// call runs, so a concurrent start cannot acquire a second source.
	p.stage = acquiringStage{}
	token := p.token
	p.mu.Unlock()

	session, err := capture.Start(factory)
	if err != nil {
		msg := deviceMessage(err)
		if p.apply(token, func() {
			p.stage = errorStage{cause: err}
			p.message = msg
		}) {
			p.notify(models.StatusError, msg, p.noteID())
		}
		p.logger.Error("capture start failed", slog.String("error", err.Error()))
		return p.Snapshot(), err
	}

	applied := p.apply(token, func() {
		p.session = session
		p.stage = recordingStage{}
		p.message = "Recording..."
	})
	if !applied {
		session.Release()
		return p.Snapshot(), apperr.ErrStale
	}
	p.notify(models.StatusRecording, "Recording...", p.noteID())
	return p.Snapshot(), nil
}

// StopRecording finalizes the capture and, when data is present, runs the
// transcription and polish chain to completion. A capture with zero bytes
// returns the pipeline to idle with a "no audio" report, never an error
// state and never a note with an audio artifact.
func (p *Pipeline) StopRecording(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	if _, ok := p.stage.(recordingStage); !ok || p.session == nil {
		p.mu.Unlock()
		return p.Snapshot(), apperr.ErrNoActiveSession
	}
	session := p.session
	p.session = nil
	token := p.token
	p.mu.Unlock()

	data, mime, err := session.Stop()
	if errors.Is(err, apperr.ErrNoAudio) {
		if p.apply(token, func() {
			p.stage = idleStage{}
			p.message = "No audio data captured. Please try again."
		}) {
			p.notify(models.StatusIdle, "No audio data captured. Please try again.", p.noteID())
		}
		return p.Snapshot(), err
	}
	if err != nil {
		p.fail(token, err, "Error processing recording. Please try again.", nil, "", "")
		return p.Snapshot(), err
	}

	if !p.transition(token, convertingStage{audio: data, mime: mime}, models.StatusConverting, "Converting audio...") {
		return p.Snapshot(), apperr.ErrStale
	}
	return p.process(ctx, token, data, mime)
}

// ProcessAudio runs the chain on an externally supplied blob (the upload
// path), attributing results to the current note.
func (p *Pipeline) ProcessAudio(ctx context.Context, data []byte, mime string) (Snapshot, error) {
	if len(data) == 0 {
		return p.Snapshot(), apperr.ErrNoAudio
	}

	p.mu.Lock()
	switch p.stage.(type) {
	case idleStage, readyStage, errorStage:
	case recordingStage, acquiringStage:
		p.mu.Unlock()
		return p.Snapshot(), apperr.ErrRecordingActive
	default:
		p.mu.Unlock()
		return p.Snapshot(), fmt.Errorf("%w: a processing chain is in flight", apperr.ErrConflict)
	}
	// Enter the chain while still holding the lock, so a concurrent
	// upload cannot start a second chain on the same note.
	token := p.token
	p.stage = convertingStage{audio: data, mime: mime}
	p.message = "Converting audio..."
	p.mu.Unlock()
	p.notify(models.StatusConverting, "Converting audio...", p.noteID())

	return p.process(ctx, token, data, mime)
}

// process drives transcribing -> polishing -> ready for one blob already
// entered into the chain at converting. Every transition is validated
// against the note identity current at completion time: results arriving
// after the note was superseded are ignored.
func (p *Pipeline) process(ctx context.Context, token uuid.UUID, data []byte, mime string) (Snapshot, error) {
	if !p.transition(token, transcribingStage{audio: data, mime: mime}, models.StatusTranscribing, "Getting transcription...") {
		return p.Snapshot(), apperr.ErrStale
	}

	transcript, err := p.stages.Transcribe(ctx, data, mime)
	if err != nil {
		p.logger.Error("transcription failed", slog.String("error", err.Error()))
		p.fail(token, err, "Transcription failed or returned empty.", data, mime, "")
		return p.Snapshot(), err
	}

	next := polishingStage{audio: data, mime: mime, transcript: transcript}
	if !p.transition(token, next, models.StatusPolishing, "Transcription complete. Polishing note...") {
		return p.Snapshot(), apperr.ErrStale
	}

	polished, err := p.stages.Polish(ctx, transcript)
	if err != nil {
		p.logger.Error("polishing failed", slog.String("error", err.Error()))
		p.fail(token, err, "Polishing failed or returned empty.", data, mime, transcript)
		return p.Snapshot(), err
	}

	title := markdown.DeriveTitle(polished)
	if title == "" {
		title = notestore.DefaultTitle
	}
	applied := p.apply(token, func() {
		p.note.Title = title
		p.note.RawTranscript = transcript
		p.note.PolishedText = polished
		p.stage = readyStage{audio: data, mime: mime, transcript: transcript, polished: polished}
		p.message = "Note polished. Ready for next recording."
	})
	if !applied {
		return p.Snapshot(), apperr.ErrStale
	}
	p.notify(models.StatusReady, "Note polished. Ready for next recording.", p.noteID())
	return p.Snapshot(), nil
}

// Save persists the ready note as a new document/audio pair. A failed
// save preserves the unsaved note: the pipeline stays at ready.
func (p *Pipeline) Save(ctx context.Context) (models.Note, error) {
	p.mu.Lock()
	rs, ok := p.stage.(readyStage)
	if !ok {
		p.mu.Unlock()
		return models.Note{}, apperr.ErrNotReady
	}
	token := p.token
	title := p.note.Title
	p.message = "Saving note..."
	p.mu.Unlock()
	p.notify(models.StatusReady, "Saving note...", p.noteID())

	saved, err := p.store.Save(ctx, title, rs.polished, rs.audio, rs.mime)
	if err != nil {
		p.logger.Error("save failed", slog.String("error", err.Error()))
		if p.applyMessage(token, "Error saving note. Please try again.") {
			p.notify(models.StatusReady, "Error saving note. Please try again.", p.noteID())
		}
		return models.Note{}, err
	}

	applied := p.apply(token, func() {
		p.note.ID = saved.ID
		p.note.CreatedTime = saved.CreatedTime
		p.note.DocumentFileID = saved.DocumentFileID
		p.note.AudioFileID = saved.AudioFileID
		p.message = "Note saved."
	})
	if applied {
		p.notify(models.StatusReady, "Note saved.", saved.ID)
	}
	return saved, nil
}

// Token returns the current note identity for staleness checks.
func (p *Pipeline) Token() uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// apply runs fn under the lock only if the note identity still matches.
func (p *Pipeline) apply(token uuid.UUID, fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != token {
		return false
	}
	fn()
	return true
}

func (p *Pipeline) applyMessage(token uuid.UUID, msg string) bool {
	return p.apply(token, func() { p.message = msg })
}

func (p *Pipeline) transition(token uuid.UUID, next stage, status models.Status, msg string) bool {
	applied := p.apply(token, func() {
		p.stage = next
		p.message = msg
	})
	if applied {
		p.notify(status, msg, p.noteID())
	}
	return applied
}

// fail moves to the non-terminal error state, retaining whatever partial
// results were already obtained.
func (p *Pipeline) fail(token uuid.UUID, cause error, msg string, audio []byte, mime, transcript string) {
	applied := p.apply(token, func() {
		p.stage = errorStage{cause: cause, audio: audio, mime: mime, transcript: transcript}
		p.message = msg
	})
	if applied {
		p.notify(models.StatusError, msg, p.noteID())
	}
}

func (p *Pipeline) noteID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.note.ID
}

// deviceMessage maps a device failure to its specific user-facing cause.
func deviceMessage(err error) string {
	switch {
	case errors.Is(err, apperr.ErrPermissionDenied):
		return "Microphone permission denied. Please check settings."
	case errors.Is(err, apperr.ErrDeviceNotFound):
		return "No microphone found. Please connect a microphone."
	case errors.Is(err, apperr.ErrDeviceBusy):
		return "Cannot access microphone. It may be in use by another application."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
