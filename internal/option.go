package internal

import (
	"github.com/starford/ansuz/internal/filestore"
	"github.com/starford/ansuz/internal/gemini"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	generator gemini.Generator
	files     filestore.Store
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithGenerator overrides the Gemini text generator. Used in tests to
// avoid calling the real API.
func WithGenerator(gen gemini.Generator) Option {
	return func(a *application) {
		a.generator = gen
	}
}

// WithFileStore overrides the note file store backend.
func WithFileStore(files filestore.Store) Option {
	return func(a *application) {
		a.files = files
	}
}
