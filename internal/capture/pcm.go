package capture

import (
	"math"
	"sync"
)

// SpectrumBars is the number of amplitude bands delivered per Levels sample.
const SpectrumBars = 32

// PCMSource adapts a raw mono PCM-16 frame feed into a Source: it
// accumulates samples, emits one amplitude-spectrum sample per frame, and
// finalizes the capture as a WAV blob.
type PCMSource struct {
	sampleRate int
	levels     chan []float64

	mu      sync.Mutex
	samples []int16
	closed  bool
	done    chan struct{}
}

// NewPCMSource starts consuming frames until the channel closes or the
// source is closed. The caller owns the frames channel.
func NewPCMSource(frames <-chan []int16, sampleRate int) *PCMSource {
	s := &PCMSource{
		sampleRate: sampleRate,
		levels:     make(chan []float64, 16),
		done:       make(chan struct{}),
	}
	go s.consume(frames)
	return s
}

func (s *PCMSource) consume(frames <-chan []int16) {
	defer close(s.levels)
	for {
		select {
		case <-s.done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.samples = append(s.samples, frame...)
			s.mu.Unlock()

			select {
			case s.levels <- spectrum(frame, SpectrumBars):
			default:
				// Visualization is best-effort; drop when nobody reads.
			}
		}
	}
}

// MimeType reports the WAV container type.
func (s *PCMSource) MimeType() string { return "audio/wav" }

// Levels delivers one amplitude sample per consumed frame.
func (s *PCMSource) Levels() <-chan []float64 { return s.levels }

// Close stops consuming frames. Idempotent.
func (s *PCMSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Bytes encodes the accumulated samples as WAV. An empty capture yields an
// empty slice, not an error; the session maps that to the no-data outcome.
func (s *PCMSource) Bytes() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return nil, nil
	}
	return EncodeWAV(s.samples, s.sampleRate)
}

// spectrum reduces one frame to n coarse band-energy values in [0,1].
// It is an RMS estimate per band, not a true FFT, which is enough for
// bar-chart rendering.
func spectrum(frame []int16, n int) []float64 {
	bars := make([]float64, n)
	if len(frame) == 0 {
		return bars
	}
	window := len(frame) / n
	if window == 0 {
		window = 1
	}
	for i := range bars {
		start := i * window
		if start >= len(frame) {
			break
		}
		end := start + window
		if end > len(frame) {
			end = len(frame)
		}
		var sum float64
		for _, v := range frame[start:end] {
			f := float64(v) / 32768.0
			sum += f * f
		}
		bars[i] = math.Sqrt(sum / float64(end-start))
	}
	return bars
}
