package capture

import (
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
)

// timerInterval is the elapsed-counter tick. It is independent of the
// visualization refresh rate, which follows the source's frame cadence.
const timerInterval = 50 * time.Millisecond

// Session records one capture. It exclusively owns its Source and releases
// it on every exit path: normal stop, error, or a superseding start.
type Session struct {
	src Source

	mu       sync.Mutex
	started  time.Time
	elapsed  time.Duration
	spectrum []float64
	active   bool
	stop     chan struct{}
	stopped  sync.WaitGroup
}

// Start acquires a stream through the factory (with raw-constraints
// fallback) and begins accumulating audio, the amplitude feed, and the
// elapsed counter.
func Start(factory SourceFactory) (*Session, error) {
	src, err := Acquire(factory)
	if err != nil {
		return nil, err
	}

	s := &Session{
		src:     src,
		started: time.Now(),
		active:  true,
		stop:    make(chan struct{}),
	}

	s.stopped.Add(2)
	go s.pumpLevels()
	go s.tick()
	return s, nil
}

func (s *Session) pumpLevels() {
	defer s.stopped.Done()
	for {
		select {
		case <-s.stop:
			return
		case bars, ok := <-s.src.Levels():
			if !ok {
				return
			}
			s.mu.Lock()
			s.spectrum = bars
			s.mu.Unlock()
		}
	}
}

func (s *Session) tick() {
	defer s.stopped.Done()
	t := time.NewTicker(timerInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			s.mu.Lock()
			s.elapsed = now.Sub(s.started)
			s.mu.Unlock()
		}
	}
}

// Elapsed returns the recording duration so far, at tens-of-milliseconds
// granularity.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Spectrum returns the most recent amplitude-spectrum sample, or nil if
// none has arrived yet.
func (s *Session) Spectrum() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spectrum
}

// Stop finalizes the capture and returns the encoded blob and its mime
// type. A capture with zero accumulated bytes returns apperr.ErrNoAudio.
// The source is released regardless of outcome.
func (s *Session) Stop() ([]byte, string, error) {
	if !s.release() {
		return nil, "", apperr.ErrNoActiveSession
	}
	data, err := s.src.Bytes()
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", apperr.ErrNoAudio
	}
	return data, s.src.MimeType(), nil
}

// Release tears the session down without collecting the blob. Used when a
// new note supersedes an active recording. Idempotent.
func (s *Session) Release() {
	s.release()
}

func (s *Session) release() bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.active = false
	s.mu.Unlock()

	close(s.stop)
	_ = s.src.Close()
	s.stopped.Wait()
	return true
}
