// Package gemini implements the transcription and polishing stages on top
// of the Gemini generative-completion capability. Each stage is a single
// request/response call: no streaming, no retries.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/starford/ansuz/internal/apperr"
)

// DefaultModel is the model used when the configuration names none.
const DefaultModel = "gemini-2.5-flash"

const transcribePrompt = "Generate a complete, detailed transcript of this audio."

const polishPrompt = "Take this raw transcription and create a polished, well-formatted note. " +
	"Remove filler words (um, uh, like), repetitions, and false starts. " +
	"Format any lists or bullet points properly. Use markdown formatting for headings, lists, etc. " +
	"Maintain all the original content and meaning. Raw transcription: "

// Generator is the generative-completion capability: one prompt, an
// optional inline audio attachment, one text result.
type Generator interface {
	Generate(ctx context.Context, prompt string, audio []byte, mimeType string) (string, error)
}

// Client is the Gemini API backed Generator.
type Client struct {
	genai *genai.Client
	model string
}

// NewClient creates a Gemini API client. An empty model selects
// DefaultModel.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{genai: c, model: model}, nil
}

// Generate issues one completion request. Audio, when present, is attached
// inline with its mime type.
func (c *Client) Generate(ctx context.Context, prompt string, audio []byte, mimeType string) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if len(audio) > 0 {
		parts = append(parts, genai.NewPartFromBytes(audio, mimeType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return resp.Text(), nil
}

// Stages runs the two pipeline stages against one Generator.
type Stages struct {
	gen Generator
}

// NewStages creates the stage runner.
func NewStages(gen Generator) *Stages {
	return &Stages{gen: gen}
}

// Transcribe produces a literal transcript of the audio blob. A failed or
// genuinely empty response is apperr.ErrEmptyTranscript; any non-empty
// response counts as success even if the content is low quality.
func (s *Stages) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	text, err := s.gen.Generate(ctx, transcribePrompt, audio, mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrEmptyTranscript, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.ErrEmptyTranscript
	}
	return text, nil
}

// Polish rewrites a transcript into a clean Markdown note: fillers and
// false starts removed, lists formatted, structural markup applied, all
// original content preserved.
func (s *Stages) Polish(ctx context.Context, transcript string) (string, error) {
	text, err := s.gen.Generate(ctx, polishPrompt+transcript, nil, "")
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrEmptyPolish, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.ErrEmptyPolish
	}
	return text, nil
}
