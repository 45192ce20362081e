// Package testutil provides shared test fakes: an in-memory file store,
// a scripted text generator, and a scripted capture source.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/capture"
	"github.com/starford/ansuz/internal/filestore"
)

// MemoryStore is an in-memory filestore.Store. File ids are assigned
// sequentially and listings come back newest first, matching the remote
// backends. Individual operations can be forced to fail for fault tests.
type MemoryStore struct {
	mu      sync.Mutex
	seq     int
	clock   time.Time
	folders map[string]string      // name -> id
	files   map[string]*memoryFile // id -> file
	order   []string               // insertion order of file ids

	// CreateErr, when set, fails every Create call.
	CreateErr error
	// DeleteErr fails Delete for the file with the given name.
	DeleteErr map[string]error
}

type memoryFile struct {
	folderID string
	name     string
	mimeType string
	data     []byte
	created  time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		folders: make(map[string]string),
		files:   make(map[string]*memoryFile),
	}
}

func (m *MemoryStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// FindFolders returns the ids of folders with the given name.
func (m *MemoryStore) FindFolders(_ context.Context, name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.folders[name]; ok {
		return []string{id}, nil
	}
	return nil, nil
}

// CreateFolder creates a folder and returns its id.
func (m *MemoryStore) CreateFolder(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID("folder")
	m.folders[name] = id
	return id, nil
}

// List returns the folder's files newest first.
func (m *MemoryStore) List(_ context.Context, folderID string) ([]filestore.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []filestore.File
	for i := len(m.order) - 1; i >= 0; i-- {
		f, ok := m.files[m.order[i]]
		if !ok || f.folderID != folderID {
			continue
		}
		out = append(out, filestore.File{ID: m.order[i], Name: f.name, CreatedTime: f.created})
	}
	return out, nil
}

// Create stores a file and returns its id. Each file gets a strictly
// later creation time than the previous one.
func (m *MemoryStore) Create(_ context.Context, folderID, name, mimeType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	id := m.nextID("file")
	m.clock = m.clock.Add(time.Second)
	m.files[id] = &memoryFile{
		folderID: folderID,
		name:     name,
		mimeType: mimeType,
		data:     append([]byte(nil), data...),
		created:  m.clock,
	}
	m.order = append(m.order, id)
	return id, nil
}

// Download returns a file's bytes, or apperr.ErrNotFound.
func (m *MemoryStore) Download(_ context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return append([]byte(nil), f.data...), nil
}

// Delete removes a file, or returns apperr.ErrNotFound.
func (m *MemoryStore) Delete(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return apperr.ErrNotFound
	}
	if err := m.DeleteErr[f.name]; err != nil {
		return err
	}
	delete(m.files, fileID)
	return nil
}

// FileCount returns the number of stored files.
func (m *MemoryStore) FileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// FakeGenerator is a scripted gemini.Generator. A call with audio bytes
// is treated as the transcription stage, a call without as the polishing
// stage.
type FakeGenerator struct {
	mu sync.Mutex

	Transcript    string
	TranscribeErr error
	Polished      string
	PolishErr     error

	TranscribeCalls int
	PolishCalls     int
}

// Generate returns the scripted response for the inferred stage.
func (g *FakeGenerator) Generate(_ context.Context, _ string, audio []byte, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(audio) > 0 {
		g.TranscribeCalls++
		return g.Transcript, g.TranscribeErr
	}
	g.PolishCalls++
	return g.Polished, g.PolishErr
}

// FakeSource is a scripted capture.Source.
type FakeSource struct {
	MIME   string
	Data   []byte
	Err    error
	levels chan []float64
	closed bool
	mu     sync.Mutex
}

// NewFakeSource creates a source that will yield the given bytes.
func NewFakeSource(mime string, data []byte) *FakeSource {
	return &FakeSource{MIME: mime, Data: data, levels: make(chan []float64, 8)}
}

// MimeType returns the scripted container type.
func (s *FakeSource) MimeType() string { return s.MIME }

// Levels returns the amplitude feed; push with EmitLevels.
func (s *FakeSource) Levels() <-chan []float64 { return s.levels }

// EmitLevels pushes one spectrum frame to the feed.
func (s *FakeSource) EmitLevels(frame []float64) { s.levels <- frame }

// Close marks the source released and ends the level feed.
func (s *FakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.levels)
	}
	return nil
}

// Closed reports whether the device was released.
func (s *FakeSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Bytes returns the scripted capture bytes or error.
func (s *FakeSource) Bytes() ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Data, nil
}

// Factory wraps the source as a capture.SourceFactory.
func (s *FakeSource) Factory() capture.SourceFactory {
	return func(capture.SourceOptions) (capture.Source, error) {
		return s, nil
	}
}
