// Package notestore maps notes onto a flat file store: each note is a
// (document, audio) file pair sharing a base name inside one well-known
// folder. The store is append-only; saving never overwrites an earlier
// pair.
package notestore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/filestore"
	"github.com/starford/ansuz/internal/models"
)

const (
	// DefaultFolderName is the well-known container for note files.
	DefaultFolderName = "Voice Notes"

	// DefaultTitle is used when a note has no usable title.
	DefaultTitle = "Untitled Note"

	// The grouping convention: document files end in docExt, audio files
	// in audioExt, and everything before the extension is the base name
	// that pairs them. These are fixed for interoperability with
	// existing stored notes, independent of the audio codec.
	docExt   = ".md"
	audioExt = ".webm"

	docMimeType = "text/markdown"
)

// Store persists and reconstructs notes on a flat file store.
type Store struct {
	files  filestore.Store
	folder string

	mu       sync.Mutex
	folderID string

	now func() time.Time
}

// New creates a note store using folderName as the container (empty
// selects DefaultFolderName).
func New(files filestore.Store, folderName string) *Store {
	if folderName == "" {
		folderName = DefaultFolderName
	}
	return &Store{files: files, folder: folderName, now: time.Now}
}

// EnsureFolder looks up or creates the container, caching its handle. If
// duplicate folders exist (for example race-created), the first one
// listed is canonical; no merging happens.
func (s *Store) EnsureFolder(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.folderID != "" {
		return s.folderID, nil
	}

	ids, err := s.files.FindFolders(ctx, s.folder)
	if err != nil {
		return "", fmt.Errorf("notestore: find folder: %w", err)
	}
	if len(ids) > 0 {
		s.folderID = ids[0]
		return s.folderID, nil
	}

	id, err := s.files.CreateFolder(ctx, s.folder)
	if err != nil {
		return "", fmt.Errorf("notestore: create folder: %w", err)
	}
	s.folderID = id
	return id, nil
}

// List reconstructs note summaries from the container: files are grouped
// by base name and classified by extension, and only groups with both
// roles appear, newest first. A base name with a single orphan file is
// hidden.
func (s *Store) List(ctx context.Context) ([]models.Summary, error) {
	folderID, err := s.EnsureFolder(ctx)
	if err != nil {
		return nil, err
	}
	files, err := s.files.List(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("notestore: list: %w", err)
	}

	groups := make(map[string]*models.Summary)
	var order []string
	for _, f := range files {
		var base string
		switch {
		case strings.HasSuffix(f.Name, docExt):
			base = strings.TrimSuffix(f.Name, docExt)
		case strings.HasSuffix(f.Name, audioExt):
			base = strings.TrimSuffix(f.Name, audioExt)
		default:
			continue
		}

		g, ok := groups[base]
		if !ok {
			g = &models.Summary{
				ID:          base,
				Title:       titleFromBase(base),
				CreatedTime: f.CreatedTime,
			}
			groups[base] = g
			order = append(order, base)
		}
		if strings.HasSuffix(f.Name, docExt) {
			g.DocumentFileID = f.ID
		} else {
			g.AudioFileID = f.ID
		}
	}

	// The underlying listing is newest first, so first-appearance order
	// already sorts groups by creation time descending.
	var out []models.Summary
	for _, base := range order {
		g := groups[base]
		if g.DocumentFileID != "" && g.AudioFileID != "" {
			out = append(out, *g)
		}
	}
	return out, nil
}

// Save uploads a new document/audio pair for the note. Every save creates
// a fresh pair keyed by title plus timestamp; earlier saves are never
// rewritten. The returned note carries the store-assigned identity and
// file handles.
func (s *Store) Save(ctx context.Context, title, polished string, audio []byte, audioMime string) (models.Note, error) {
	folderID, err := s.EnsureFolder(ctx)
	if err != nil {
		return models.Note{}, err
	}

	created := s.now().UTC()
	base := BaseName(title, created)

	docID, err := s.files.Create(ctx, folderID, base+docExt, docMimeType, []byte(polished))
	if err != nil {
		return models.Note{}, fmt.Errorf("notestore: save document: %w", err)
	}
	audioID, err := s.files.Create(ctx, folderID, base+audioExt, audioMime, audio)
	if err != nil {
		return models.Note{}, fmt.Errorf("notestore: save audio: %w", err)
	}

	return models.Note{
		ID:             base,
		Title:          titleFromBase(base),
		CreatedTime:    created,
		DocumentFileID: docID,
		AudioFileID:    audioID,
		PolishedText:   polished,
	}, nil
}

// FetchContent downloads both files of a persisted note for reopening in
// the pipeline. The raw transcript is not recoverable from storage.
func (s *Store) FetchContent(ctx context.Context, n models.Summary) (string, []byte, error) {
	doc, err := s.files.Download(ctx, n.DocumentFileID)
	if err != nil {
		return "", nil, fmt.Errorf("notestore: fetch document: %w", err)
	}
	audio, err := s.files.Download(ctx, n.AudioFileID)
	if err != nil {
		return "", nil, fmt.Errorf("notestore: fetch audio: %w", err)
	}
	return string(doc), audio, nil
}

// Delete removes both backing files. When the first delete succeeds and
// the second fails, the note is left as a single orphan file; List hides
// orphans, and no compensating rollback is attempted.
func (s *Store) Delete(ctx context.Context, n models.Summary) error {
	if err := s.files.Delete(ctx, n.DocumentFileID); err != nil {
		return fmt.Errorf("notestore: delete document: %w", err)
	}
	if err := s.files.Delete(ctx, n.AudioFileID); err != nil {
		return fmt.Errorf("notestore: delete audio: %w", err)
	}
	return nil
}

// Find returns the summary for a base name, or apperr.ErrNotFound.
func (s *Store) Find(ctx context.Context, id string) (models.Summary, error) {
	notes, err := s.List(ctx)
	if err != nil {
		return models.Summary{}, err
	}
	for _, n := range notes {
		if n.ID == id {
			return n, nil
		}
	}
	return models.Summary{}, apperr.ErrNotFound
}

// BaseName builds the shared filename prefix: the sanitized title, a
// separator, and the creation timestamp at seconds precision with colons
// replaced by hyphens. The timestamp keeps repeated titles unique across
// saves.
func BaseName(title string, created time.Time) string {
	return SanitizeTitle(title) + " - " + created.Format("2006-01-02T15-04-05")
}

// SanitizeTitle strips every rune that is not a letter, digit, space, or
// hyphen, and falls back to DefaultTitle when nothing usable remains.
func SanitizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" || title == DefaultTitle {
		return DefaultTitle
	}
	var b strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return DefaultTitle
	}
	return out
}

// titleFromBase recovers the display title from a base name: everything
// before the first " - " separator.
func titleFromBase(base string) string {
	if i := strings.Index(base, " - "); i >= 0 {
		return base[:i]
	}
	return base
}
