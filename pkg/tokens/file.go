package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/polisai/taskgate/pkg/domain"
)

const watchDebounce = 100 * time.Millisecond

// FilePersistence stores the pair as JSON in a file readable only by its owner.
type FilePersistence struct {
	path string
	mu   sync.Mutex
}

// NewFilePersistence creates a persistence backed by path. The directory is created on
// the first Save.
func NewFilePersistence(path string) (*FilePersistence, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	return &FilePersistence{path: absPath}, nil
}

// Path returns the absolute file path.
func (f *FilePersistence) Path() string {
	return f.path
}

// Load reads the stored pair.
func (f *FilePersistence) Load(_ context.Context) (domain.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// #nosec G304 -- token file path is configured at startup
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.TokenPair{}, ErrNoTokens
	}
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("read token file: %w", err)
	}
	if len(data) == 0 {
		return domain.TokenPair{}, ErrNoTokens
	}

	var pair domain.TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return domain.TokenPair{}, fmt.Errorf("parse token file %s: %w", f.path, err)
	}
	if pair.IsZero() {
		return domain.TokenPair{}, ErrNoTokens
	}
	return pair, nil
}

// Save writes the pair through a temporary file and a rename so readers never see a
// partial file.
func (f *FilePersistence) Save(_ context.Context, pair domain.TokenPair) error {
	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// Delete removes the token file.
func (f *FilePersistence) Delete(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// Watch calls onChange whenever the token file is written, replaced, or removed by
// another process (for example `taskgate login`). It blocks until ctx is done.
func (f *FilePersistence) Watch(ctx context.Context, logger *slog.Logger, onChange func()) error {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(watchDebounce, onChange)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("token file watcher error", "error", err)
		}
	}
}
