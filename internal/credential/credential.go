// Package credential resolves the GitHub token on every call, from the
// environment or from a file that may be rotated while the server runs.
package credential

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CageChen/contentbridge/internal/watcher"
)

// Source yields a token, or "" when none is available.
type Source interface {
	Token() string
}

// Env reads the named environment variable on each call.
type Env string

// Token returns the current value of the variable.
func (e Env) Token() string {
	return strings.TrimSpace(os.Getenv(string(e)))
}

// Chain returns the first non-empty token of its sources.
type Chain []Source

// Token implements Source.
func (c Chain) Token() string {
	for _, s := range c {
		if s == nil {
			continue
		}
		if t := s.Token(); t != "" {
			return t
		}
	}
	return ""
}

// File caches a token read from disk. Reload re-reads it; OnChange hooks it
// up to a watcher.
type File struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewFile creates a File and loads it once. A missing file is not an error:
// the token is simply empty until the file appears.
func NewFile(path string, logger *zap.Logger) *File {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &File{path: path, logger: logger}
	if err := f.Reload(); err != nil {
		logger.Warn("token file not loaded", zap.String("path", path), zap.Error(err))
	}
	return f
}

// Token implements Source.
func (f *File) Token() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Reload re-reads the token. On failure the token becomes empty.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	token := ""
	if err == nil {
		token = strings.TrimSpace(string(data))
	}

	f.mu.Lock()
	f.token = token
	f.mu.Unlock()

	if err != nil {
		return errors.Wrapf(err, "read token file %s", f.path)
	}
	return nil
}

// OnChange reloads the token when the watcher reports a change.
func (f *File) OnChange(e watcher.Event) {
	if err := f.Reload(); err != nil {
		f.logger.Warn("token file unavailable", zap.String("path", e.Path), zap.Error(err))
		return
	}
	f.logger.Info("token file reloaded", zap.String("path", e.Path))
}
