//go:generate go run go.uber.org/mock/mockgen -source=attachment.go -destination=../mocks/mock_attachment_repository.go -package=mocks
package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

type IAttachmentRepository interface {
	Store(ctx context.Context, name string, data []byte) (string, error)
	Path(name string) (string, error)
}

// AttachmentRepository writes attachments as plain files in one directory.
type AttachmentRepository struct {
	dir string
	log *slog.Logger
}

func NewAttachmentRepository(dir string, log *slog.Logger) (*AttachmentRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating attachment directory: %w", err)
	}
	return &AttachmentRepository{dir: dir, log: log}, nil
}

// Store writes to a temporary file first and renames it, so a reference
// returned by Store always points to a complete file.
// An existing file with the same name is replaced.
func (a *AttachmentRepository) Store(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := a.Path(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(a.dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err = tmp.Close(); err != nil {
		return "", err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	a.log.Debug("Attachment saved", "name", name, "bytes", len(data))
	return name, nil
}

// Path resolves a stored reference to its file, refusing anything
// that is not a plain file name.
func (a *AttachmentRepository) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || name[0] == '.' {
		return "", fmt.Errorf("invalid attachment name %q", name)
	}
	return filepath.Join(a.dir, name), nil
}
