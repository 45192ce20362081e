package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/starford/ansuz/internal/apperr"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Drive implements Store on the Google Drive v3 API. Credential
// acquisition happens out of core; the token source is handed in.
type Drive struct {
	svc *drive.Service
}

// NewDrive creates a Drive-backed store authenticated by the given token
// source.
func NewDrive(ctx context.Context, ts oauth2.TokenSource) (*Drive, error) {
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("filestore: create drive service: %w", err)
	}
	return &Drive{svc: svc}, nil
}

// FindFolders lists non-trashed folders with the exact name.
func (d *Drive) FindFolders(ctx context.Context, name string) ([]string, error) {
	q := fmt.Sprintf("mimeType='%s' and name='%s' and trashed=false", folderMimeType, escapeQuery(name))
	res, err := d.svc.Files.List().Q(q).Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("filestore: find folders: %w", err)
	}
	ids := make([]string, 0, len(res.Files))
	for _, f := range res.Files {
		ids = append(ids, f.Id)
	}
	return ids, nil
}

// CreateFolder creates a folder at the Drive root.
func (d *Drive) CreateFolder(ctx context.Context, name string) (string, error) {
	f, err := d.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("filestore: create folder: %w", err)
	}
	return f.Id, nil
}

// List returns the folder's files ordered by creation time descending.
func (d *Drive) List(ctx context.Context, folderID string) ([]File, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(folderID))
	res, err := d.svc.Files.List().
		Q(q).
		Fields("files(id, name, createdTime)").
		OrderBy("createdTime desc").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("filestore: list: %w", err)
	}

	files := make([]File, 0, len(res.Files))
	for _, f := range res.Files {
		files = append(files, File{ID: f.Id, Name: f.Name, CreatedTime: parseCreatedTime(f.Id, f.CreatedTime)})
	}
	return files, nil
}

// parseCreatedTime parses Drive's RFC 3339 createdTime. An unparseable
// value yields the zero time, which sorts the file last; the file itself
// is kept rather than dropped from the listing.
func parseCreatedTime(fileID, value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		slog.Warn("unparseable createdTime",
			slog.String("file_id", fileID),
			slog.String("created_time", value))
	}
	return t
}

// Create uploads metadata plus binary body in one request.
func (d *Drive) Create(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error) {
	f, err := d.svc.Files.Create(&drive.File{
		Name:    name,
		Parents: []string{folderID},
	}).Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("filestore: upload %s: %w", name, err)
	}
	return f.Id, nil
}

// Download fetches a file's binary content by handle.
func (d *Drive) Download(ctx context.Context, fileID string) ([]byte, error) {
	res, err := d.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 404 {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("filestore: download %s: %w", fileID, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", fileID, err)
	}
	return data, nil
}

// Delete removes a file by handle.
func (d *Drive) Delete(ctx context.Context, fileID string) error {
	if err := d.svc.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 404 {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("filestore: delete %s: %w", fileID, err)
	}
	return nil
}

// escapeQuery escapes single quotes and backslashes for Drive query
// string literals.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
