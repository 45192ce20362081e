// Package capture owns the microphone acquisition lifecycle: a Source is
// the raw audio stream capability, a Session records one capture into an
// encoded blob while exposing a live amplitude feed and elapsed timer.
package capture

import "fmt"

// SourceOptions mirror the acquisition constraints of the stream request.
// The default request enables all signal processing; the fallback request
// disables it.
type SourceOptions struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultOptions is the first acquisition attempt.
var DefaultOptions = SourceOptions{
	EchoCancellation: true,
	NoiseSuppression: true,
	AutoGainControl:  true,
}

// RawOptions is the fallback attempt with all processing disabled.
var RawOptions = SourceOptions{}

// Source is a live microphone stream. Implementations deliver amplitude
// samples while capturing and hand over the finalized encoded blob once
// closed. A Source is single-use.
type Source interface {
	// MimeType reports the container format of the encoded blob.
	MimeType() string
	// Levels delivers periodic amplitude-spectrum samples (values in
	// [0,1]) for bar-chart visualization. The channel is closed when
	// the source closes.
	Levels() <-chan []float64
	// Close stops capture and releases the underlying stream. Safe to
	// call more than once.
	Close() error
	// Bytes returns the accumulated encoded audio. Valid only after
	// Close; an empty slice means no data was captured.
	Bytes() ([]byte, error)
}

// SourceFactory acquires a microphone stream with the given constraints.
// Factories report device failures with the apperr sentinels so callers
// can surface a specific cause.
type SourceFactory func(opts SourceOptions) (Source, error)

// Acquire requests a stream with default constraints and falls back to a
// raw (processing-disabled) stream if that fails. The fallback error wins
// only when both attempts fail.
func Acquire(factory SourceFactory) (Source, error) {
	src, err := factory(DefaultOptions)
	if err == nil {
		return src, nil
	}
	src, rawErr := factory(RawOptions)
	if rawErr != nil {
		return nil, fmt.Errorf("capture: acquire stream: %w", rawErr)
	}
	return src, nil
}
