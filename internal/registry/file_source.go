package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/station-mesh/orchestrator/internal/logging"
)

// fileDocument is the on-disk registry file shape (spec.md §6): a map
// of service name to descriptor under "mcps", plus an optional global
// overlay applied to every entry after its required fields are checked.
type fileDocument struct {
	Version      string                   `json:"version"`
	MCPs         map[string]RawDescriptor `json:"mcps"`
	GlobalConfig map[string]any           `json:"globalConfig"`
}

// FileSource watches a registry file on disk and applies debounced
// reloads to a Registry, grounded on the teacher's fsnotify-based
// config-reload idiom (internal/config in the teacher repo) generalized
// to the service registry.
type FileSource struct {
	path     string
	debounce time.Duration
	registry *Registry

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	done    chan struct{}
}

// NewFileSource builds a FileSource for path, debouncing reload bursts
// by debounce (spec.md default: 1s).
func NewFileSource(path string, debounce time.Duration, registry *Registry) *FileSource {
	return &FileSource{path: path, debounce: debounce, registry: registry}
}

// LoadOnce reads and applies the registry file a single time, without
// starting a watch. Used for the initial load at startup.
func (f *FileSource) LoadOnce() error {
	return f.reload()
}

// Watch starts an fsnotify watch on the file's containing directory
// (watching the directory, not the file, survives editors that replace
// the file via rename-into-place) and applies debounced reloads until
// ctx-equivalent Stop is called.
func (f *FileSource) Watch() error {
	dir := filepath.Dir(f.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	f.mu.Lock()
	f.watcher = w
	f.done = make(chan struct{})
	f.mu.Unlock()

	go f.loop(w, f.done)
	return nil
}

// Stop tears down the watch goroutine and any pending debounce timer.
func (f *FileSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		f.watcher.Close()
		f.watcher = nil
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
}

func (f *FileSource) loop(w *fsnotify.Watcher, done chan struct{}) {
	target := filepath.Clean(f.path)
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			f.scheduleReload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logging.Warn("registry file watcher error: %v", err)
		}
	}
}

// scheduleReload coalesces a burst of filesystem events into one
// reload debounce later, so editors that write a file in multiple
// syscalls don't trigger repeated partial reloads.
func (f *FileSource) scheduleReload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, func() {
		if err := f.reload(); err != nil {
			logging.Error("registry file reload failed, keeping previous state: %v", err)
		}
	})
}

func (f *FileSource) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", f.path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", f.path, err)
	}

	return f.registry.ApplyFileReload(doc.MCPs, doc.GlobalConfig, nil)
}
