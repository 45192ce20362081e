package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/pipeline"
	"github.com/starford/ansuz/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced; the SSE
// endpoint sits inside the same auth group.
func NewRouter(pipe *pipeline.Pipeline, store *notestore.Store, broker *sse.Broker, authEnabled bool, token string) chi.Router {
	h := NewHandler(pipe, store, broker)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Note library.
	r.Get("/notes", h.ListNotes)
	r.Get("/notes/{id}", h.GetNote)
	r.Get("/notes/{id}/audio", h.GetNoteAudio)
	r.Delete("/notes/{id}", h.DeleteNote)

	// Pipeline.
	r.Get("/pipeline", h.GetPipeline)
	r.Get("/pipeline/audio", h.PipelineAudio)
	r.Post("/pipeline/new", h.NewNote)
	r.Post("/pipeline/open/{id}", h.OpenNote)
	r.Post("/pipeline/process", h.ProcessAudio)
	r.Post("/pipeline/save", h.SaveNote)

	// SSE stream of pipeline status and library events.
	if broker != nil {
		r.Method(http.MethodGet, "/events", broker)
	}

	return r
}
