package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/markdown"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/pipeline"
	"github.com/starford/ansuz/internal/sse"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Handler holds API route handlers.
type Handler struct {
	pipe   *pipeline.Pipeline
	store  *notestore.Store
	broker *sse.Broker
}

// NewHandler creates a new Handler.
func NewHandler(pipe *pipeline.Pipeline, store *notestore.Store, broker *sse.Broker) *Handler {
	return &Handler{pipe: pipe, store: store, broker: broker}
}

// ListNotes handles GET /api/notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.store.List(r.Context())
	if err != nil {
		slog.Error("list notes failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("could not load notes"))
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: notes, Total: len(notes)})
}

// GetNote handles GET /api/notes/{id}: the stored markdown plus its
// rendered HTML.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, err := h.store.Find(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, "get note", id, err)
		return
	}
	md, _, err := h.store.FetchContent(r.Context(), summary)
	if err != nil {
		h.notFoundOr500(w, "get note content", id, err)
		return
	}
	html, err := markdown.Render(md)
	if err != nil {
		slog.Error("render note failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, NoteContentResponse{
		ID:          summary.ID,
		Title:       summary.Title,
		Markdown:    md,
		HTML:        html,
		CreatedTime: summary.CreatedTime.Format(time.RFC3339),
	})
}

// GetNoteAudio handles GET /api/notes/{id}/audio.
func (h *Handler) GetNoteAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, err := h.store.Find(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, "get audio", id, err)
		return
	}
	_, audio, err := h.store.FetchContent(r.Context(), summary)
	if err != nil {
		h.notFoundOr500(w, "get audio content", id, err)
		return
	}
	w.Header().Set("Content-Type", "audio/webm")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// DeleteNote handles DELETE /api/notes/{id}. Both backing files are
// removed; a half-failed delete leaves an orphan that the listing hides.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, err := h.store.Find(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, "delete note", id, err)
		return
	}
	if err := h.store.Delete(r.Context(), summary); err != nil {
		slog.Error("delete note failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("could not delete note"))
		return
	}
	if h.broker != nil {
		h.broker.PublishNoteEvent("deleted", id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPipeline handles GET /api/pipeline.
func (h *Handler) GetPipeline(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.pipe.Snapshot())
}

// NewNote handles POST /api/pipeline/new: discards unsaved state and
// resets to a fresh note.
func (h *Handler) NewNote(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.pipe.NewNote())
}

// OpenNote handles POST /api/pipeline/open/{id}: loads a stored note into
// the pipeline for editing.
func (h *Handler) OpenNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.pipe.OpenNote(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("open note failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("could not load note"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ProcessAudio handles POST /api/pipeline/process: a multipart audio
// upload (field "audio") pushed through the transcribe/polish chain.
func (h *Handler) ProcessAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'audio' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("could not read upload"))
		return
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/webm"
	}

	snap, err := h.pipe.ProcessAudio(r.Context(), data, mime)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNoAudio):
			writeJSON(w, http.StatusBadRequest, errorBody("no audio data captured"))
		case errors.Is(err, apperr.ErrRecordingActive):
			writeJSON(w, http.StatusConflict, errorBody("recording in progress"))
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("a processing chain is in flight"))
		default:
			// The pipeline already holds the error state and partial
			// results; return the snapshot so the caller sees them.
			writeJSON(w, http.StatusUnprocessableEntity, snap)
		}
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SaveNote handles POST /api/pipeline/save: persists the ready note as a
// new file pair.
func (h *Handler) SaveNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.pipe.Save(r.Context())
	if err != nil {
		if errors.Is(err, apperr.ErrNotReady) {
			writeJSON(w, http.StatusConflict, errorBody("nothing to save"))
			return
		}
		slog.Error("save note failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("could not save note"))
		return
	}
	if h.broker != nil {
		h.broker.PublishNoteEvent("saved", note.ID)
	}
	writeJSON(w, http.StatusCreated, SavedNoteResponse{Note: note})
}

// PipelineAudio handles GET /api/pipeline/audio: the current note's audio
// for playback.
func (h *Handler) PipelineAudio(w http.ResponseWriter, _ *http.Request) {
	data, mime, ok := h.pipe.Audio()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("no audio available"))
		return
	}
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) notFoundOr500(w http.ResponseWriter, op, id string, err error) {
	if errors.Is(err, apperr.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	slog.Error(op+" failed", slog.String("id", id), slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}
