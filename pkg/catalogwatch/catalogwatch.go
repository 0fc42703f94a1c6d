// Package catalogwatch reloads the pattern catalog when its file changes.
package catalogwatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/threatcore/internal/detection"
)

// maxCatalogSize bounds the catalog file read into memory.
const maxCatalogSize = 10 * 1024 * 1024

// CatalogSetter receives reloaded catalogs. *detection.Engine implements it.
type CatalogSetter interface {
	SetCatalog(c *detection.Catalog)
}

// Watcher watches one catalog file. It watches the parent directory so that
// editors replacing the file by rename are picked up.
type Watcher struct {
	path    string
	target  CatalogSetter
	log     *logrus.Logger
	watcher *fsnotify.Watcher

	mu   sync.Mutex
	hash string
}

// New loads the catalog at path into target and prepares the watch. An
// invalid initial file is an error.
func New(path string, target CatalogSetter, log *logrus.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("catalog path: %w", err)
	}
	w := &Watcher{path: abs, target: target, log: log}
	if _, err := w.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w.watcher = watcher
	return w, nil
}

// Hash returns the sha256 of the catalog currently applied.
func (w *Watcher) Hash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hash
}

// Reload reads the file and applies it when its content hash changed.
// A file that fails to parse or validate leaves the previous catalog in place.
func (w *Watcher) Reload() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, fmt.Errorf("stat catalog: %w", err)
	}
	if !info.Mode().IsRegular() || info.Size() > maxCatalogSize {
		return false, fmt.Errorf("catalog %s is not a regular file under %d bytes", w.path, maxCatalogSize)
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, fmt.Errorf("read catalog: %w", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	w.mu.Lock()
	defer w.mu.Unlock()
	if hash == w.hash {
		return false, nil
	}
	catalog, err := detection.ParseCatalog(data)
	if err != nil {
		return false, fmt.Errorf("catalog %s: %w", w.path, err)
	}
	w.target.SetCatalog(catalog)
	w.hash = hash
	w.log.WithFields(logrus.Fields{
		"path":     w.path,
		"patterns": len(catalog.Patterns),
		"sha256":   hash[:12],
	}).Info("Pattern catalog loaded")
	return true, nil
}

// Start processes file events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	w.log.WithField("path", w.path).Info("Starting catalog watcher")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Catalog watcher stopping")
			w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Error("Watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if _, err := w.Reload(); err != nil {
		w.log.WithError(err).WithField("path", w.path).Warn("Catalog reload failed, keeping previous catalog")
	}
}
