package notestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
	"unicode"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, *testutil.MemoryStore) {
	t.Helper()
	mem := testutil.NewMemoryStore()
	s := New(mem, "")
	s.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return s, mem
}

func TestSanitizeTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Morning Ideas", "Morning Ideas"},
		{"  padded  ", "padded"},
		{"a/b\\c:d?e", "abcde"},
		{"semi-structured 2025", "semi-structured 2025"},
		{"Ideas für später", "Ideas für später"},
		{"///***", DefaultTitle},
		{"", DefaultTitle},
		{DefaultTitle, DefaultTitle},
	}
	for _, c := range cases {
		if got := SanitizeTitle(c.in); got != c.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeTitle_OnlyAllowedRunes(t *testing.T) {
	inputs := []string{
		"path/to\\file:with*bad?chars",
		"emoji \U0001F3A4 title",
		"tabs\tand\nnewlines",
		"quotes \"and\" 'apostrophes'",
	}
	for _, in := range inputs {
		out := SanitizeTitle(in)
		for _, r := range out {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' && r != '-' {
				t.Errorf("SanitizeTitle(%q) contains %q", in, r)
			}
		}
	}
}

func TestBaseName(t *testing.T) {
	created := time.Date(2025, 6, 1, 9, 30, 45, 0, time.UTC)
	got := BaseName("Standup: notes!", created)
	want := "Standup notes - 2025-06-01T09-30-45"
	if got != want {
		t.Errorf("BaseName = %q, want %q", got, want)
	}
}

func TestEnsureFolder_CreatesOnce(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()

	id1, err := s.EnsureFolder(ctx)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	id2, err := s.EnsureFolder(ctx)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if id1 != id2 {
		t.Errorf("folder ids differ: %q vs %q", id1, id2)
	}

	// A second store over the same backend finds the existing folder.
	other := New(mem, "")
	id3, err := other.EnsureFolder(ctx)
	if err != nil {
		t.Fatalf("ensure other: %v", err)
	}
	if id3 != id1 {
		t.Errorf("existing folder not reused: %q vs %q", id3, id1)
	}
}

func TestSaveListRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	note, err := s.Save(ctx, "Morning Ideas", "# Morning Ideas\n\nBody.", []byte("audio"), "audio/webm")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if note.ID != "Morning Ideas - 2025-06-01T12-00-00" {
		t.Errorf("note id = %q", note.ID)
	}
	if !note.Persisted() {
		t.Error("saved note should carry both file handles")
	}

	notes, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("len = %d", len(notes))
	}
	if notes[0].Title != "Morning Ideas" {
		t.Errorf("title = %q", notes[0].Title)
	}
	if notes[0].ID != note.ID {
		t.Errorf("id = %q, want %q", notes[0].ID, note.ID)
	}
}

func TestListNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		stamp := ts.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return stamp }
		if _, err := s.Save(ctx, fmt.Sprintf("Note %d", i), "body", []byte("a"), "audio/webm"); err != nil {
			t.Fatal(err)
		}
	}

	notes, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 3 {
		t.Fatalf("len = %d", len(notes))
	}
	want := []string{"Note 2", "Note 1", "Note 0"}
	for i, n := range notes {
		if n.Title != want[i] {
			t.Errorf("notes[%d].Title = %q, want %q", i, n.Title, want[i])
		}
	}
}

func TestListHidesOrphans(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()

	folderID, err := s.EnsureFolder(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// A document without its audio partner.
	if _, err := mem.Create(ctx, folderID, "Lonely - 2025-06-01T11-00-00.md", "text/markdown", []byte("x")); err != nil {
		t.Fatal(err)
	}
	// An unrelated file that matches neither extension.
	if _, err := mem.Create(ctx, folderID, "readme.txt", "text/plain", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, "Complete", "body", []byte("a"), "audio/webm"); err != nil {
		t.Fatal(err)
	}

	notes, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Fatalf("len = %d, want 1 (orphan and stray file hidden)", len(notes))
	}
	if notes[0].Title != "Complete" {
		t.Errorf("title = %q", notes[0].Title)
	}
}

func TestFetchContent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, "Note", "# Note body", []byte("blob"), "audio/webm"); err != nil {
		t.Fatal(err)
	}
	notes, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}

	doc, audio, err := s.FetchContent(ctx, notes[0])
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc != "# Note body" {
		t.Errorf("doc = %q", doc)
	}
	if string(audio) != "blob" {
		t.Errorf("audio = %q", audio)
	}
}

func TestDelete_RemovesPair(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, "Note", "body", []byte("a"), "audio/webm"); err != nil {
		t.Fatal(err)
	}
	notes, _ := s.List(ctx)
	if err := s.Delete(ctx, notes[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mem.FileCount() != 0 {
		t.Errorf("files remaining = %d", mem.FileCount())
	}
	notes, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 0 {
		t.Errorf("len = %d after delete", len(notes))
	}
}

func TestDelete_PartialFailureLeavesHiddenOrphan(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, "Note", "body", []byte("a"), "audio/webm"); err != nil {
		t.Fatal(err)
	}
	notes, _ := s.List(ctx)

	mem.DeleteErr = map[string]error{
		"Note - 2025-06-01T12-00-00.webm": errors.New("backend unavailable"),
	}
	if err := s.Delete(ctx, notes[0]); err == nil {
		t.Fatal("expected delete error")
	}

	// The document is gone, the audio orphan remains but is hidden.
	if mem.FileCount() != 1 {
		t.Errorf("files remaining = %d, want 1", mem.FileCount())
	}
	notes, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 0 {
		t.Errorf("len = %d, orphan should be hidden", len(notes))
	}
}

func TestFind(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, "Findable", "body", []byte("a"), "audio/webm")
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Find(ctx, saved.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Title != "Findable" {
		t.Errorf("title = %q", got.Title)
	}

	if _, err := s.Find(ctx, "no-such-note"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTitleFromBase(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Morning Ideas - 2025-06-01T12-00-00", "Morning Ideas"},
		{"Dash - in - title - 2025-06-01T12-00-00", "Dash"},
		{"no separator", "no separator"},
	}
	for _, c := range cases {
		if got := titleFromBase(c.in); got != c.want {
			t.Errorf("titleFromBase(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
