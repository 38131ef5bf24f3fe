package credential

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// File reads the token from a file that some other process (a login helper,
// a sidecar) keeps up to date. The token is cached; a write to the file
// detected by Watch drops the cache, and Refresh always re-reads.
type File struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	cached string
}

// NewFile returns a File provider for path. logger may be nil.
func NewFile(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, logger: logger.With("component", "credential")}
}

// Token implements Provider.
func (f *File) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	tok := f.cached
	f.mu.Unlock()
	if tok != "" {
		return tok, nil
	}
	return f.Refresh(ctx)
}

// Refresh implements Provider by re-reading the file.
func (f *File) Refresh(_ context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrEmptyToken
	}
	f.mu.Lock()
	f.cached = tok
	f.mu.Unlock()
	return tok, nil
}

func (f *File) invalidate() {
	f.mu.Lock()
	f.cached = ""
	f.mu.Unlock()
}

// Watch invalidates the cached token whenever the file is written,
// created or renamed over, until ctx is done. The parent directory is
// watched so editors and atomic-rename writers are seen too. It returns
// an error only if the watcher cannot be set up.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create token watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		target := filepath.Clean(f.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
					f.invalidate()
					f.logger.Debug("token file changed", "op", ev.Op.String())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Warn("token watcher error", "error", err)
			}
		}
	}()
	return nil
}
