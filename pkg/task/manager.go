package task

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/saworbit/eunomia-runtime/internal/metrics"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
	"github.com/saworbit/eunomia-runtime/pkg/skeleton"
)

// taskRecord is one running (or about to run) task. Every field accessed
// by more than one goroutine after the record is published into the
// manager's map is either behind mu or is itself atomic/channel-based:
// the worker goroutine sets pollHandle/wasmHandle once near the start of
// its run and never again, so readers only need the lock to order that
// one write against their read, not to guard repeated mutation.
type taskRecord struct {
	id   ID
	name string

	mu         sync.Mutex
	status     Status
	pollHandle *skeleton.PollingHandle // set once JSON program attaches
	wasmHandle WASMHandle              // set once a WASM module starts

	refCount   atomic.Int32
	terminated atomic.Bool // set by Terminate before it stops the handle, so run() can tell a requested stop from a natural exit
	done       chan struct{}
	runErr     error

	logs *logBuffer

	tempDir string // owned extraction directory from a tar program, "" otherwise
}

// Manager is the registry of every task this process is running. The zero
// value is not usable; construct with NewManager.
type Manager struct {
	wasmHost WASMHost

	mu     sync.RWMutex
	tasks  map[ID]*taskRecord
	nextID atomic.Uint64
}

// NewManager builds an empty registry. host may be nil, in which case
// attempting to start a WASM program fails with ErrUnsupportedProgramType;
// pass a real WASMHost to enable it.
func NewManager(host WASMHost) *Manager {
	if host == nil {
		host = noWASMHost{}
	}
	m := &Manager{wasmHost: host, tasks: make(map[ID]*taskRecord)}
	m.nextID.Store(1)
	return m
}

// Start loads and runs one program, returning its task id once the
// program's worker goroutine has taken ownership of its polling/WASM
// handle (so a Pause/Terminate immediately following Start never races
// against a handle that doesn't exist yet).
func (m *Manager) Start(opts StartOptions) (ID, error) {
	id := m.nextID.Add(1) - 1
	rec := &taskRecord{
		id:     id,
		name:   opts.ProgramName,
		status: StatusRunning,
		done:   make(chan struct{}),
		logs:   newLogBuffer(),
	}

	ready := make(chan error, 1)
	go m.run(rec, opts, ready)

	if err := <-ready; err != nil {
		metrics.ObserveTaskStart(string(opts.ProgramType), "error")
		return 0, err
	}
	metrics.ObserveTaskStart(string(opts.ProgramType), "ok")

	m.mu.Lock()
	m.tasks[id] = rec
	m.mu.Unlock()
	return id, nil
}

// run is rec's worker goroutine body. It dispatches on opts.ProgramType,
// signals ready once the task's control handle exists (or startup failed),
// then blocks for the task's whole lifetime.
func (m *Manager) run(rec *taskRecord, opts StartOptions, ready chan<- error) {
	defer close(rec.done)

	switch opts.ProgramType {
	case ProgramJSON:
		var composed meta.ComposedObject
		if err := json.Unmarshal(opts.ProgramData, &composed); err != nil {
			ready <- fmt.Errorf("%w: decode composed object: %v", ErrInvalidArguments, err)
			return
		}
		if err := applyExtraArgs(&composed.Meta, opts.ExtraArgs); err != nil {
			ready <- err
			return
		}
		if rec.name == "" {
			rec.name = composed.Meta.BpfSkel.ObjName
		}
		rec.runErr = startJSON(rec, composed, opts.BTFArchivePath, opts.ExportJSON, ready)

	case ProgramWasm:
		rec.runErr = startWASM(rec, m.wasmHost, opts.ProgramData, opts.ExtraArgs, ready)

	case ProgramTar:
		dir, program, err := unpackTar(opts.ProgramData)
		if err != nil {
			ready <- fmt.Errorf("%w: %v", ErrInvalidArguments, err)
			return
		}
		rec.tempDir = dir
		var composed meta.ComposedObject
		if err := json.Unmarshal(program, &composed); err != nil {
			os.RemoveAll(dir)
			ready <- fmt.Errorf("%w: decode composed object from tar: %v", ErrInvalidArguments, err)
			return
		}
		if err := applyExtraArgs(&composed.Meta, opts.ExtraArgs); err != nil {
			os.RemoveAll(dir)
			ready <- err
			return
		}
		if rec.name == "" {
			rec.name = composed.Meta.BpfSkel.ObjName
		}
		rec.runErr = startJSON(rec, composed, dir, opts.ExportJSON, ready)

	default:
		ready <- fmt.Errorf("%w: %q", ErrUnsupportedProgramType, opts.ProgramType)
		return
	}

	switch {
	case rec.runErr != nil:
		log.Printf("[Task] task %d exited with error: %v", rec.id, rec.runErr)
		metrics.ObserveTaskTerminated("failed")
	case rec.terminated.Load():
		metrics.ObserveTaskTerminated("requested")
	default:
		metrics.ObserveTaskTerminated("exited")
	}
	rec.mu.Lock()
	if rec.tempDir != "" {
		os.RemoveAll(rec.tempDir)
	}
	rec.mu.Unlock()
}

// alive reports whether rec's worker goroutine is still running.
func (rec *taskRecord) alive() bool {
	select {
	case <-rec.done:
		return false
	default:
		return true
	}
}

// List returns every task still running, sweeping any task whose worker
// goroutine has exited on its own (a WASM module returning, a JSON
// program's poll loop failing) out of the registry first.
func (m *Manager) List() []ProgramDesc {
	m.mu.Lock()
	for id, rec := range m.tasks {
		if !rec.alive() {
			delete(m.tasks, id)
		}
	}
	out := make([]ProgramDesc, 0, len(m.tasks))
	for id, rec := range m.tasks {
		rec.mu.Lock()
		out = append(out, ProgramDesc{ID: id, Name: rec.name, Status: rec.status})
		rec.mu.Unlock()
	}
	m.mu.Unlock()
	return out
}

// LogBufferDepth sums the buffered log entry count across every task
// currently registered.
func (m *Manager) LogBufferDepth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, rec := range m.tasks {
		total += rec.logs.depth()
	}
	return total
}

// lookup returns rec for id with a reference held, or ErrInvalidHandle.
// Callers must call release(rec) exactly once when done.
func (m *Manager) lookup(id ID) (*taskRecord, error) {
	m.mu.RLock()
	rec, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok || !rec.alive() {
		return nil, ErrInvalidHandle
	}
	rec.refCount.Add(1)
	return rec, nil
}

func release(rec *taskRecord) {
	rec.refCount.Add(-1)
}

// SetPause pauses or resumes a running task.
func (m *Manager) SetPause(id ID, pause bool) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}
	defer release(rec)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch {
	case rec.pollHandle != nil:
		if pause {
			rec.pollHandle.Pause()
		} else {
			rec.pollHandle.Resume()
		}
	case rec.wasmHandle != nil:
		var err error
		if pause {
			err = rec.wasmHandle.Pause()
		} else {
			err = rec.wasmHandle.Resume()
		}
		if err != nil {
			if pause {
				return fmt.Errorf("%w: %v", ErrFailedToPause, err)
			}
			return fmt.Errorf("%w: %v", ErrFailedToResume, err)
		}
	default:
		// Handle not published yet; treat as not-yet-pausable.
		if pause {
			return ErrFailedToPause
		}
		return ErrFailedToResume
	}

	if pause {
		rec.status = StatusPaused
	} else {
		rec.status = StatusRunning
	}
	return nil
}

// Terminate stops a task and removes it from the registry. It refuses
// with ErrTaskBusy if any caller currently holds a reference obtained via
// lookup (Terminate takes none itself, and SetPause, the only caller of
// lookup here, always releases before returning) — this exists to preserve
// the sole-ownership discipline the registry is built around even though no
// current caller in this package holds a reference across an await point.
func (m *Manager) Terminate(id ID) error {
	m.mu.Lock()
	rec, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrInvalidHandle
	}
	if rec.refCount.Load() != 0 {
		m.mu.Unlock()
		return ErrTaskBusy
	}
	delete(m.tasks, id)
	m.mu.Unlock()

	rec.terminated.Store(true)

	rec.mu.Lock()
	switch {
	case rec.pollHandle != nil:
		rec.pollHandle.Terminate()
	case rec.wasmHandle != nil:
		if err := rec.wasmHandle.Terminate(); err != nil {
			rec.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrFailedToTerminate, err)
		}
	}
	rec.mu.Unlock()

	<-rec.done
	return nil
}

// FetchLog returns buffered log entries for a running (or recently
// finished but not yet swept) task.
func (m *Manager) FetchLog(id ID, cursor *uint64, maximum *int) ([]CursorLogEntry, error) {
	m.mu.RLock()
	rec, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidHandle
	}
	return rec.logs.poll(cursor, maximum), nil
}
