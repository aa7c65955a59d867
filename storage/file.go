package storage

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"

	"github.com/spf13/afero"

	report "github.com/goliatone/go-report"
)

// FileStore writes artifacts under Root on an afero filesystem and serves
// them as BaseURL + key.
type FileStore struct {
	fs      afero.Fs
	root    string
	baseURL string
	logger  report.Logger
}

type FileOption func(*FileStore)

func WithBaseURL(u string) FileOption {
	return func(s *FileStore) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

func WithFileLogger(l report.Logger) FileOption {
	return func(s *FileStore) {
		s.logger = l
	}
}

// NewFileStore stores under root on fs. A nil fs uses the OS filesystem.
func NewFileStore(fs afero.Fs, root string, opts ...FileOption) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	s := &FileStore{fs: fs, root: root, baseURL: "file://" + strings.TrimRight(root, "/")}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.logger = report.NormalizeLogger(s.logger)
	return s
}

func (s *FileStore) Store(ctx context.Context, data []byte, meta Metadata) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, storageError("store aborted", err, meta)
	}

	key := Key(meta)
	full := path.Join(s.root, key)
	if err := s.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return Stored{}, storageError("create directory", err, meta)
	}
	if err := afero.WriteFile(s.fs, full, data, 0o644); err != nil {
		return Stored{}, storageError("write artifact", err, meta)
	}

	s.logger.Debug("stored report %s at %s (%d bytes)", meta.ReportID, full, len(data))
	return Stored{
		FileID:    key,
		URL:       s.baseURL + "/" + key,
		ExpiresAt: meta.ExpiresAt,
		Size:      int64(len(data)),
	}, nil
}

func (s *FileStore) Delete(ctx context.Context, fileID string) error {
	if err := ctx.Err(); err != nil {
		return report.NewError(report.ErrStorageFailed, "delete aborted", err, map[string]any{"file_id": fileID})
	}
	full := path.Join(s.root, path.Clean("/"+fileID))
	if err := s.fs.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return report.NewError(report.ErrStorageFailed, "delete artifact", err, map[string]any{"file_id": fileID})
	}
	s.logger.Debug("deleted artifact %s", full)
	return nil
}

// Open reads back an artifact by file id.
func (s *FileStore) Open(fileID string) ([]byte, error) {
	return afero.ReadFile(s.fs, path.Join(s.root, fileID))
}
