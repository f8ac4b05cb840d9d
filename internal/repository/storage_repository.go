package repository

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ObjectStorage holds the original uploaded files. The URL it returns is
// opaque to the rest of the service.
type ObjectStorage interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// GenerateObjectKey builds a collision free key grouping files by assignment
// and submission.
func GenerateObjectKey(assignmentID, submissionID, originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	name := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))

	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Trim(name, "/\\")
	if name == "" {
		name = "file"
	}

	return path.Join("submissions", assignmentID, submissionID,
		fmt.Sprintf("%s_%s%s", name, uuid.New().String()[:8], ext))
}

// discardStorage keeps nothing. It backs local runs without an object store.
type discardStorage struct {
	mu     sync.Mutex
	keys   map[string]struct{}
	logger zerolog.Logger
}

func NewDiscardStorage(logger zerolog.Logger) ObjectStorage {
	return &discardStorage{
		keys:   make(map[string]struct{}),
		logger: logger,
	}
}

func (s *discardStorage) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	s.keys[key] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug().Str("key", key).Int("size", len(data)).Msg("Upload discarded")
	return "/files/" + key, nil
}

func (s *discardStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
	return nil
}

func (s *discardStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok, nil
}
