// Package attach stores completion-payload files on local disk and serves
// them by URL.
package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/stageflow/internal/errors"
)

// maxFileBytes caps a single uploaded file at 25 MiB.
const maxFileBytes = 25 << 20

// Store writes uploaded files under a directory and returns their public URL.
type Store struct {
	dir     string
	baseURL string
	logger  zerolog.Logger
}

// NewStore creates the upload directory if needed.
func NewStore(dir, baseURL string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("component", "attachments").Logger(),
	}, nil
}

// Dir returns the directory files are stored in, for static serving.
func (s *Store) Dir() string { return s.dir }

// Upload stores content under a collision-free name and returns its URL.
// The original name survives as a suffix so downloads stay recognizable.
func (s *Store) Upload(name string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", perrors.NewValidationError("file", "empty file")
	}
	if len(content) > maxFileBytes {
		return "", perrors.NewValidationError("file",
			fmt.Sprintf("file %q exceeds %d bytes", name, maxFileBytes))
	}

	stored := uuid.NewString() + "-" + sanitize(name)
	path := filepath.Join(s.dir, stored)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	s.logger.Debug().Str("name", name).Int("bytes", len(content)).Msg("file stored")
	return s.baseURL + "/" + stored, nil
}

// sanitize keeps the base name and replaces anything outside a conservative
// character set.
func sanitize(name string) string {
	base := filepath.Base(name)
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
