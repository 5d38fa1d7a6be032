package actions

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entrhq/pilot/pkg/logging"
)

// ScreenshotStore writes step screenshots to disk and returns opaque refs
// (file paths). Retention is count-based: once maxShots is exceeded the
// oldest files are removed, so unattended runs cannot fill the disk.
type ScreenshotStore struct {
	dir      string
	maxShots int
	logger   *zap.Logger

	mu   sync.Mutex
	refs []string
}

// NewScreenshotStore creates the store, making dir if needed. An empty dir
// falls back to a fresh directory under the system temp root.
func NewScreenshotStore(dir string, maxShots int, logger *zap.Logger) (*ScreenshotStore, error) {
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "pilot-artifacts-")
		if err != nil {
			return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	if maxShots < 1 {
		maxShots = 1
	}

	return &ScreenshotStore{
		dir:      dir,
		maxShots: maxShots,
		logger:   logging.OrNop(logger),
	}, nil
}

// Dir returns the directory screenshots are written to.
func (s *ScreenshotStore) Dir() string {
	return s.dir
}

// Save writes one PNG and returns its ref.
func (s *ScreenshotStore) Save(executionID, label string, png []byte) (string, error) {
	name := fmt.Sprintf("%s-%s-%s-%s.png",
		time.Now().UTC().Format("20060102T150405"),
		executionID,
		label,
		uuid.New().String()[:8],
	)
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, png, 0o600); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}

	s.mu.Lock()
	s.refs = append(s.refs, path)
	var evict []string
	if excess := len(s.refs) - s.maxShots; excess > 0 {
		evict = append(evict, s.refs[:excess]...)
		s.refs = append([]string(nil), s.refs[excess:]...)
	}
	s.mu.Unlock()

	for _, old := range evict {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to evict old screenshot", zap.String("path", old), zap.Error(err))
		}
	}

	return path, nil
}
