package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/zk-keyservice/interfaces"
)

// FileBackend implements a storage backend using the local file system.
// Each blob key maps to a file below baseDir.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file storage backend using the specified base directory.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Get reads the blob stored under key.
// Returns ErrContentNotFound if the file doesn't exist.
func (b *FileBackend) Get(ctx context.Context, key interfaces.BlobKey) ([]byte, error) {
	filePath, err := b.getFilePath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read file: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Fetched blob from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Put writes the blob atomically by renaming a temporary file into place.
func (b *FileBackend) Put(ctx context.Context, key interfaces.BlobKey, data []byte) error {
	filePath, err := b.getFilePath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", interfaces.ErrBackendUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write file: %v", interfaces.ErrBackendUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close file: %v", interfaces.ErrBackendUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("%w: failed to move file into place: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored blob in file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return nil
}

// Delete removes the file for key, ignoring missing files.
func (b *FileBackend) Delete(ctx context.Context, key interfaces.BlobKey) error {
	filePath, err := b.getFilePath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: failed to delete file: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Deleted blob file", slog.String("path", filePath))
	return nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) getFilePath(key interfaces.BlobKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(string(key))), nil
}
