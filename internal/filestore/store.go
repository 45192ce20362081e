// Package filestore abstracts the remote flat file store that holds note
// file pairs. The capability set is deliberately small: list a container,
// create containers and files, fetch and delete by handle.
package filestore

import (
	"context"
	"time"
)

// File is the store-level metadata for one stored object.
type File struct {
	ID          string
	Name        string
	CreatedTime time.Time
}

// Store is the flat file store capability. Implementations exclude
// trashed/deleted objects from listings.
type Store interface {
	// FindFolders returns the ids of all folders with the given name.
	FindFolders(ctx context.Context, name string) ([]string, error)
	// CreateFolder creates a folder and returns its id.
	CreateFolder(ctx context.Context, name string) (string, error)
	// List returns the files inside a folder, newest first.
	List(ctx context.Context, folderID string) ([]File, error)
	// Create uploads a file into a folder and returns its id.
	Create(ctx context.Context, folderID, name, mimeType string, data []byte) (string, error)
	// Download fetches the raw bytes of a file by id.
	Download(ctx context.Context, fileID string) ([]byte, error)
	// Delete removes a file by id.
	Delete(ctx context.Context, fileID string) error
}
