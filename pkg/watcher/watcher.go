// Package watcher auto-starts eBPF tasks when a compiled artifact is
// dropped into a watched directory, so a build pipeline can hand off a
// program by simply writing it to a known location instead of calling the
// control plane directly.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/saworbit/eunomia-runtime/internal/metrics"
	"github.com/saworbit/eunomia-runtime/pkg/task"
)

// settleDelay is how long to wait after the last write event for a path
// before reading it, so a large artifact being written in multiple
// syscalls isn't read mid-write.
const settleDelay = 150 * time.Millisecond

// Starter is what a Watcher needs — just enough to start a task from bytes
// read off disk. *task.Manager satisfies it. Accepting the interface keeps
// this package free of a direct dependency on the control plane's HTTP
// wiring.
type Starter interface {
	Start(opts task.StartOptions) (task.ID, error)
}

// Watcher recursively watches a root directory and starts a task for
// every recognized artifact file it sees appear or change.
type Watcher struct {
	root    string
	starter Starter
	fsw     *fsnotify.Watcher

	mu      sync.Mutex
	started map[string]task.ID // path -> most recently started task id; an earlier task for the path is not stopped
}

// New creates a Watcher rooted at root. Call Run to start watching.
func New(root string, starter Starter) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:    root,
		starter: starter,
		fsw:     fsw,
		started: make(map[string]task.ID),
	}, nil
}

// Run watches the root directory until ctx is canceled. It blocks.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	log.Printf("[Watcher] watching %s for artifacts", w.root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Watcher] error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return // removed before we got to it, or a rename's old name
	}

	if info.IsDir() {
		if err := w.addRecursive(event.Name); err != nil {
			log.Printf("[Watcher] failed to watch new directory %s: %v", event.Name, err)
		}
		return
	}

	pt, ok := classify(event.Name)
	if !ok {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(settleDelay):
	}

	if err := w.startFromFile(event.Name, pt); err != nil {
		log.Printf("[Watcher] failed to start task for %s: %v", event.Name, err)
	}
}

func (w *Watcher) startFromFile(path string, pt task.ProgramType) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	id, err := w.starter.Start(task.StartOptions{
		ProgramData: data,
		ProgramType: pt,
		ProgramName: filepath.Base(path),
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.started[path] = id
	w.mu.Unlock()

	metrics.ObserveWatcherStart(string(pt))
	log.Printf("[Watcher] started task %d from %s", id, path)
	return nil
}

// StartedTaskFor reports the task ID most recently started for path, if
// any artifact drop at that path has been handled.
func (w *Watcher) StartedTaskFor(path string) (task.ID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.started[path]
	return id, ok
}

func (w *Watcher) addRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			log.Printf("[Watcher] failed to add watch for %s: %v", path, err)
			return nil
		}
		return nil
	})
}

// classify maps a file extension to the program type a dropped artifact
// should be started as. Files with no recognized extension are ignored —
// a watched directory commonly accumulates editor swap files, partial
// downloads, and other noise that was never meant to be started.
func classify(path string) (task.ProgramType, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return task.ProgramJSON, true
	case ".wasm":
		return task.ProgramWasm, true
	case ".tar":
		return task.ProgramTar, true
	default:
		return "", false
	}
}
