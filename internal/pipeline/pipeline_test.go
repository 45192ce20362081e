package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/capture"
	"github.com/starford/ansuz/internal/gemini"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/testutil"
)

// recorder collects pipeline notifications for assertions.
type recorder struct {
	mu     sync.Mutex
	events []models.Status
	msgs   []string
}

func (r *recorder) notify(status models.Status, msg, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, status)
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) statuses() []models.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Status(nil), r.events...)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func newTestPipeline(t *testing.T, gen *testutil.FakeGenerator) (*Pipeline, *notestore.Store, *testutil.MemoryStore, *recorder) {
	t.Helper()
	mem := testutil.NewMemoryStore()
	store := notestore.New(mem, "")
	rec := &recorder{}
	p := New(gemini.NewStages(gen), store, rec.notify, nil)
	return p, store, mem, rec
}

func TestNewPipelineStartsIdle(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &testutil.FakeGenerator{})
	snap := p.Snapshot()
	if snap.Status != models.StatusIdle {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.Message != "Ready to record" {
		t.Errorf("message = %q", snap.Message)
	}
	if snap.Title != notestore.DefaultTitle {
		t.Errorf("title = %q", snap.Title)
	}
}

func TestRecordToReadyChain(t *testing.T) {
	gen := &testutil.FakeGenerator{
		Transcript: "um so this is the raw transcript",
		Polished:   "# Meeting Notes\n\nThis is the polished note.",
	}
	p, _, _, rec := newTestPipeline(t, gen)

	src := testutil.NewFakeSource("audio/wav", []byte("wav-bytes"))
	if _, err := p.StartRecording(src.Factory()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.Snapshot().Status != models.StatusRecording {
		t.Fatalf("status = %q", p.Snapshot().Status)
	}

	snap, err := p.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if snap.Status != models.StatusReady {
		t.Fatalf("status = %q", snap.Status)
	}
	if snap.Transcript != gen.Transcript {
		t.Errorf("transcript = %q", snap.Transcript)
	}
	if snap.Polished != gen.Polished {
		t.Errorf("polished = %q", snap.Polished)
	}
	if snap.Title != "Meeting Notes" {
		t.Errorf("title = %q", snap.Title)
	}
	if !snap.HasAudio {
		t.Error("ready note should carry its audio")
	}
	if !src.Closed() {
		t.Error("device not released after stop")
	}

	want := []models.Status{
		models.StatusIdle, // initial
		models.StatusRecording,
		models.StatusConverting,
		models.StatusTranscribing,
		models.StatusPolishing,
		models.StatusReady,
	}
	got := rec.statuses()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStartRecordingWhileRecording(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &testutil.FakeGenerator{})
	src := testutil.NewFakeSource("audio/wav", []byte("x"))
	if _, err := p.StartRecording(src.Factory()); err != nil {
		t.Fatal(err)
	}
	if _, err := p.StartRecording(src.Factory()); !errors.Is(err, apperr.ErrRecordingActive) {
		t.Fatalf("err = %v, want ErrRecordingActive", err)
	}
}

func TestStartRecordingDeviceError(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &testutil.FakeGenerator{})
	factory := func(capture.SourceOptions) (capture.Source, error) {
		return nil, apperr.ErrPermissionDenied
	}

	_, err := p.StartRecording(factory)
	if !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
	snap := p.Snapshot()
	if snap.Status != models.StatusError {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.Message != "Microphone permission denied. Please check settings." {
		t.Errorf("message = %q", snap.Message)
	}

	// Error state is recoverable: recording may start again.
	src := testutil.NewFakeSource("audio/wav", []byte("x"))
	if _, err := p.StartRecording(src.Factory()); err != nil {
		t.Fatalf("restart after error: %v", err)
	}
}

func TestStopWithNoAudioReturnsToIdle(t *testing.T) {
	gen := &testutil.FakeGenerator{Transcript: "t", Polished: "p"}
	p, _, _, _ := newTestPipeline(t, gen)

	src := testutil.NewFakeSource("audio/wav", nil)
	if _, err := p.StartRecording(src.Factory()); err != nil {
		t.Fatal(err)
	}
	_, err := p.StopRecording(context.Background())
	if !errors.Is(err, apperr.ErrNoAudio) {
		t.Fatalf("err = %v, want ErrNoAudio", err)
	}

	snap := p.Snapshot()
	if snap.Status != models.StatusIdle {
		t.Errorf("status = %q, empty capture must return to idle", snap.Status)
	}
	if snap.Message != "No audio data captured. Please try again." {
		t.Errorf("message = %q", snap.Message)
	}
	if snap.HasAudio {
		t.Error("no audio artifact may exist after an empty capture")
	}
	if gen.TranscribeCalls != 0 {
		t.Error("transcription must not run for an empty capture")
	}
	if !src.Closed() {
		t.Error("device not released")
	}
}

func TestEmptyTranscriptStopsChain(t *testing.T) {
	gen := &testutil.FakeGenerator{Transcript: "   ", Polished: "unused"}
	p, _, _, _ := newTestPipeline(t, gen)

	_, err := p.ProcessAudio(context.Background(), []byte("blob"), "audio/webm")
	if !errors.Is(err, apperr.ErrEmptyTranscript) {
		t.Fatalf("err = %v, want ErrEmptyTranscript", err)
	}
	snap := p.Snapshot()
	if snap.Status != models.StatusError {
		t.Errorf("status = %q", snap.Status)
	}
	if gen.PolishCalls != 0 {
		t.Error("polishing must not run after a failed transcription")
	}
	// The audio survives into the error state for potential retry.
	if !snap.HasAudio {
		t.Error("error state should retain the audio")
	}
}

func TestEmptyPolishKeepsTranscript(t *testing.T) {
	gen := &testutil.FakeGenerator{Transcript: "a transcript", Polished: ""}
	p, _, _, _ := newTestPipeline(t, gen)

	_, err := p.ProcessAudio(context.Background(), []byte("blob"), "audio/webm")
	if !errors.Is(err, apperr.ErrEmptyPolish) {
		t.Fatalf("err = %v, want ErrEmptyPolish", err)
	}
	snap := p.Snapshot()
	if snap.Status != models.StatusError {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.Transcript != "a transcript" {
		t.Errorf("transcript = %q, partial result must be retained", snap.Transcript)
	}
}

func TestProcessAudioRejectsEmptyBlob(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &testutil.FakeGenerator{})
	if _, err := p.ProcessAudio(context.Background(), nil, "audio/webm"); !errors.Is(err, apperr.ErrNoAudio) {
		t.Fatalf("err = %v, want ErrNoAudio", err)
	}
}

func TestSaveOnlyFromReady(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &testutil.FakeGenerator{})
	if _, err := p.Save(context.Background()); !errors.Is(err, apperr.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestSavePersistsPair(t *testing.T) {
	gen := &testutil.FakeGenerator{
		Transcript: "raw words",
		Polished:   "# Grocery Run\n\n- milk\n- eggs",
	}
	p, store, mem, _ := newTestPipeline(t, gen)

	if _, err := p.ProcessAudio(context.Background(), []byte("blob"), "audio/webm"); err != nil {
		t.Fatal(err)
	}
	saved, err := p.Save(context.Background())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Title != "Grocery Run" {
		t.Errorf("title = %q", saved.Title)
	}
	if !saved.Persisted() {
		t.Error("saved note must carry both file handles")
	}
	if mem.FileCount() != 2 {
		t.Errorf("file count = %d, want 2", mem.FileCount())
	}

	notes, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].ID != saved.ID {
		t.Errorf("listing = %v", notes)
	}

	// The raw transcript is never persisted.
	doc, _, err := store.FetchContent(context.Background(), notes[0])
	if err != nil {
		t.Fatal(err)
	}
	if doc != gen.Polished {
		t.Errorf("stored document = %q", doc)
	}
}

func TestSaveTwiceCreatesTwoPairs(t *testing.T) {
	gen := &testutil.FakeGenerator{Transcript: "raw", Polished: "# Note"}
	p, _, mem, _ := newTestPipeline(t, gen)

	if _, err := p.ProcessAudio(context.Background(), []byte("blob"), "audio/webm"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Append-only: a re-save never overwrites the earlier pair.
	if mem.FileCount() != 4 {
		t.Errorf("file count = %d, want 4", mem.FileCount())
	}
}

func TestSaveFailureStaysReady(t *testing.T) {
	gen := &testutil.FakeGenerator{Transcript: "raw", Polished: "# Note"}
	p, _, mem, _ := newTestPipeline(t, gen)

	if _, err := p.ProcessAudio(context.Background(), []byte("blob"), "audio/webm"); err != nil {
		t.Fatal(err)
	}
	mem.CreateErr = errors.New("backend unavailable")
	if _, err := p.Save(context.Background()); err == nil {
		t.Fatal("expected save error")
	}

	snap := p.Snapshot()
	if snap.Status != models.StatusReady {
		t.Errorf("status = %q, failed save must preserve the ready note", snap.Status)
	}
	if snap.Message != "Error saving note. Please try again." {
		t.Errorf("message = %q", snap.Message)
	}

	// Retry succeeds once the backend recovers.
	mem.CreateErr = nil
	if _, err := p.Save(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestNewNoteDiscardsUnsavedState(t *testing.T) {
	gen := &testutil.FakeGenerator{Transcript: "raw", Polished: "# Note"}
	p, _, mem, _ := newTestPipeline(t, gen)

	if _, err := p.ProcessAudio(context.Background(), []byte("blob"), "audio/webm"); err != nil {
		t.Fatal(err)
	}
	snap := p.NewNote()
	if snap.Status != models.StatusIdle {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.Transcript != "" || snap.Polished != "" || snap.HasAudio {
		t.Error("transient state must be discarded")
	}
	if mem.FileCount() != 0 {
		t.Error("discarding must not touch the store")
	}
}

func TestNewNoteReleasesActiveRecording(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &testutil.FakeGenerator{})
	src := testutil.NewFakeSource("audio/wav", []byte("x"))
	if _, err := p.StartRecording(src.Factory()); err != nil {
		t.Fatal(err)
	}
	p.NewNote()
	if !src.Closed() {
		t.Error("superseded recording must release the device")
	}
	if _, err := p.StopRecording(context.Background()); !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestStaleResultsDropped(t *testing.T) {
	gen := &testutil.FakeGenerator{Transcript: "raw", Polished: "# Note"}
	p, _, _, _ := newTestPipeline(t, gen)

	// Capture the old identity, then supersede it.
	token := p.Token()
	p.NewNote()

	snap, err := p.process(context.Background(), token, []byte("blob"), "audio/webm")
	if !errors.Is(err, apperr.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if snap.Status != models.StatusIdle {
		t.Errorf("status = %q, stale chain must not disturb the new note", snap.Status)
	}
}

// gatedFactory blocks inside the device call until released, so a test
// can hold a start mid-acquisition.
type gatedFactory struct {
	entered chan struct{}
	proceed chan struct{}
	src     *testutil.FakeSource
	err     error
}

func (g *gatedFactory) acquire(capture.SourceOptions) (capture.Source, error) {
	g.entered <- struct{}{}
	<-g.proceed
	if g.err != nil {
		return nil, g.err
	}
	return g.src, nil
}

func TestConcurrentStartAcquiresOneSource(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &testutil.FakeGenerator{})

	gate := &gatedFactory{
		entered: make(chan struct{}, 1),
		proceed: make(chan struct{}),
		src:     testutil.NewFakeSource("audio/wav", []byte("x")),
	}
	errs := make(chan error, 1)
	go func() {
		_, err := p.StartRecording(gate.acquire)
		errs <- err
	}()
	<-gate.entered

	// A second start while the first is still inside the device call
	// must be rejected without touching the device.
	second := testutil.NewFakeSource("audio/wav", []byte("y"))
	if _, err := p.StartRecording(second.Factory()); !errors.Is(err, apperr.ErrRecordingActive) {
		t.Fatalf("second start err = %v, want ErrRecordingActive", err)
	}

	close(gate.proceed)
	if err := <-errs; err != nil {
		t.Fatalf("first start: %v", err)
	}
	if p.Snapshot().Status != models.StatusRecording {
		t.Fatalf("status = %q", p.Snapshot().Status)
	}

	p.NewNote()
	if !gate.src.Closed() {
		t.Error("source not released on teardown")
	}
	if second.Closed() {
		t.Error("rejected start must not have acquired a source")
	}
}

func TestStartSupersededDuringAcquire(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &testutil.FakeGenerator{})

	gate := &gatedFactory{
		entered: make(chan struct{}, 1),
		proceed: make(chan struct{}),
		src:     testutil.NewFakeSource("audio/wav", []byte("x")),
	}
	errs := make(chan error, 1)
	go func() {
		_, err := p.StartRecording(gate.acquire)
		errs <- err
	}()
	<-gate.entered

	p.NewNote()
	close(gate.proceed)

	if err := <-errs; !errors.Is(err, apperr.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if !gate.src.Closed() {
		t.Error("superseded acquisition must release its source")
	}
	if got := p.Snapshot().Status; got != models.StatusIdle {
		t.Errorf("status = %q", got)
	}
}

func TestStaleDeviceErrorNotPublished(t *testing.T) {
	p, _, _, rec := newTestPipeline(t, &testutil.FakeGenerator{})

	// The raw fallback calls the factory a second time.
	gate := &gatedFactory{
		entered: make(chan struct{}, 2),
		proceed: make(chan struct{}),
		err:     apperr.ErrPermissionDenied,
	}
	errs := make(chan error, 1)
	go func() {
		_, err := p.StartRecording(gate.acquire)
		errs <- err
	}()
	<-gate.entered

	p.NewNote()
	close(gate.proceed)

	if err := <-errs; !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if got := p.Snapshot().Status; got != models.StatusIdle {
		t.Errorf("status = %q, device failure of a superseded note must not surface", got)
	}
	for _, s := range rec.statuses() {
		if s == models.StatusError {
			t.Error("stale device failure was published")
		}
	}
}

// gatedGenerator blocks inside the transcription call until released.
type gatedGenerator struct {
	inner   *testutil.FakeGenerator
	entered chan struct{}
	proceed chan struct{}
}

func (g *gatedGenerator) Generate(ctx context.Context, prompt string, audio []byte, mime string) (string, error) {
	if len(audio) > 0 {
		g.entered <- struct{}{}
		<-g.proceed
	}
	return g.inner.Generate(ctx, prompt, audio, mime)
}

func TestConcurrentProcessRejected(t *testing.T) {
	gen := &gatedGenerator{
		inner:   &testutil.FakeGenerator{Transcript: "raw", Polished: "# Note"},
		entered: make(chan struct{}, 1),
		proceed: make(chan struct{}),
	}
	mem := testutil.NewMemoryStore()
	p := New(gemini.NewStages(gen), notestore.New(mem, ""), nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.ProcessAudio(context.Background(), []byte("one"), "audio/webm")
		done <- err
	}()
	<-gen.entered

	if _, err := p.ProcessAudio(context.Background(), []byte("two"), "audio/webm"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second process err = %v, want ErrConflict", err)
	}
	src := testutil.NewFakeSource("audio/wav", []byte("x"))
	if _, err := p.StartRecording(src.Factory()); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("start during chain err = %v, want ErrConflict", err)
	}

	close(gen.proceed)
	if err := <-done; err != nil {
		t.Fatalf("first process: %v", err)
	}
	if got := p.Snapshot().Status; got != models.StatusReady {
		t.Errorf("status = %q", got)
	}
}

// gatedStore blocks inside Create until released, holding a save
// mid-flight.
type gatedStore struct {
	*testutil.MemoryStore
	entered chan struct{}
	proceed chan struct{}
}

func (g *gatedStore) Create(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error) {
	g.entered <- struct{}{}
	<-g.proceed
	return g.MemoryStore.Create(ctx, folderID, name, mimeType, data)
}

func TestStaleSaveNotPublished(t *testing.T) {
	gen := &testutil.FakeGenerator{Transcript: "raw", Polished: "# Note"}
	// A pair save enters Create twice.
	gs := &gatedStore{
		MemoryStore: testutil.NewMemoryStore(),
		entered:     make(chan struct{}, 2),
		proceed:     make(chan struct{}),
	}
	rec := &recorder{}
	p := New(gemini.NewStages(gen), notestore.New(gs, ""), rec.notify, nil)

	if _, err := p.ProcessAudio(context.Background(), []byte("blob"), "audio/webm"); err != nil {
		t.Fatalf("process: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Save(context.Background())
		done <- err
	}()
	<-gs.entered

	p.NewNote()
	close(gs.proceed)
	if err := <-done; err != nil {
		t.Fatalf("save: %v", err)
	}

	// The pair was written, but the superseded note announces nothing.
	for _, msg := range rec.messages() {
		if msg == "Note saved." {
			t.Error("stale save was published")
		}
	}
	snap := p.Snapshot()
	if snap.Status != models.StatusIdle {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.Message != "Ready to record" {
		t.Errorf("message = %q", snap.Message)
	}
}

func TestOpenNote(t *testing.T) {
	gen := &testutil.FakeGenerator{Transcript: "raw", Polished: "# Saved Note\n\nBody."}
	p, _, _, _ := newTestPipeline(t, gen)
	ctx := context.Background()

	if _, err := p.ProcessAudio(ctx, []byte("blob"), "audio/webm"); err != nil {
		t.Fatal(err)
	}
	saved, err := p.Save(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p.NewNote()

	snap, err := p.OpenNote(ctx, saved.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if snap.Status != models.StatusReady {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.Polished != gen.Polished {
		t.Errorf("polished = %q", snap.Polished)
	}
	// The raw transcript is not recoverable from storage.
	if snap.Transcript != "" {
		t.Errorf("transcript = %q, want empty for a reopened note", snap.Transcript)
	}
	if !snap.HasAudio {
		t.Error("reopened note should have its audio for playback")
	}

	data, mime, ok := p.Audio()
	if !ok || string(data) != "blob" {
		t.Errorf("audio = %q ok=%v", data, ok)
	}
	if mime != "audio/webm" {
		t.Errorf("mime = %q", mime)
	}
}

func TestOpenNoteMissing(t *testing.T) {
	p, _, _, _ := newTestPipeline(t, &testutil.FakeGenerator{})
	if _, err := p.OpenNote(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUntitledFallback(t *testing.T) {
	gen := &testutil.FakeGenerator{Transcript: "raw", Polished: "-\n- \n"}
	p, _, _, _ := newTestPipeline(t, gen)

	snap, err := p.ProcessAudio(context.Background(), []byte("blob"), "audio/webm")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Title != notestore.DefaultTitle {
		t.Errorf("title = %q, want %q", snap.Title, notestore.DefaultTitle)
	}
}
