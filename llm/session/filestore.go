package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FileStore keeps one JSON file per session under a configured directory,
// named by a filesystem-sanitized session id. Expiry is measured from
// LastActivityAt and enforced lazily on load plus via explicit Cleanup
// sweeps.
type FileStore struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewFileStore creates the directory if needed. ttl < 0 selects the
// default; ttl == 0 disables expiry.
func NewFileStore(dir string, ttl time.Duration, logger *zap.Logger) (*FileStore, error) {
	if ttl < 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(zap.String("component", "session_file_store")),
	}, nil
}

// sanitizeID maps a session id to a safe file name component.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, sanitizeID(id)+".json")
}

func (s *FileStore) Load(ctx context.Context, id string) (*SessionData, error) {
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}

	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("malformed session file, treating as absent",
			zap.String("session", id), zap.Error(err))
		return nil, ErrSessionNotFound
	}

	if s.expired(&data) {
		if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove expired session", zap.String("session", id), zap.Error(err))
		}
		return nil, ErrSessionNotFound
	}
	return &data, nil
}

func (s *FileStore) Save(ctx context.Context, data *SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", data.ID, err)
	}
	if err := os.WriteFile(s.path(data.ID), raw, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", data.ID, err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Cleanup sweeps the directory and removes expired session files.
// Malformed files are left alone; they already read as absent.
func (s *FileStore) Cleanup(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read session dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var data SessionData
		if err := json.Unmarshal(raw, &data); err != nil {
			continue
		}
		if s.expired(&data) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.logger.Info("session cleanup", zap.Int("removed", removed))
	}
	return removed, nil
}

func (s *FileStore) expired(data *SessionData) bool {
	if s.ttl == 0 {
		return false
	}
	return s.now().Sub(data.LastActivityAt) > s.ttl
}
