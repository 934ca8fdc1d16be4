package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config locates the attachment store on disk and the URL it is served under.
type Config struct {
	Root    string
	BaseURL string
}

// Store implements the FileUploader interface on the local filesystem.
// Attachments are small and access goes through the API, so a shared volume
// is enough; swapping in an object store only means replacing this type.
type Store struct {
	root    string
	baseURL string
	logger  zerolog.Logger
}

// New constructs a local store rooted at cfg.Root.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("blobstore root must be provided")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blobstore root: %w", err)
	}

	return &Store{
		root:    cfg.Root,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger.With().Str("component", "blobstore").Logger(),
	}, nil
}

// Upload writes the file under folder and returns the URL it is served at.
func (s *Store) Upload(ctx context.Context, folder, filename string, data []byte) (string, error) {
	name := buildObjectName(filename)
	dir := filepath.Join(s.root, filepath.Clean("/"+folder))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create attachment folder: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to store attachment: %w", err)
	}

	s.logger.Info().Str("folder", folder).Str("name", name).Msg("attachment stored")

	return fmt.Sprintf("%s/%s/%s", s.baseURL, strings.Trim(folder, "/"), name), nil
}

func buildObjectName(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(filepath.Base(name), ext)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		base = "upload"
	}

	return fmt.Sprintf("%s-%d%s", base, time.Now().Unix(), ext)
}
