// Package control exposes one task.Manager over two surfaces: direct
// in-process calls (Plane, in control.go, for an embedding process or
// CLI), and an HTTP server speaking the same request/response shapes over
// JSON (Server, in server.go). Server's handlers call straight through to
// a Plane, so the two surfaces can never drift out of sync on what counts
// as success or which error alternate applies.
package control

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/saworbit/eunomia-runtime/pkg/task"
)

// ArtifactCache is the subset of artifactcache.Store a Plane needs to
// deduplicate program bytes across Start calls. Accepting the interface
// keeps this package free of a direct dependency on the cache's storage
// backend.
type ArtifactCache interface {
	Put(data []byte) (string, error)
	AddReference(cid, consumer string) error
	RemoveReference(cid, consumer string) error
}

// Plane is the in-process control surface: every method does exactly what
// the matching HTTP endpoint does, without a JSON round-trip.
type Plane struct {
	mgr   *task.Manager
	cache ArtifactCache

	mu   sync.Mutex
	cids map[task.ID]string // task id -> CID, for releasing the cache reference on Stop
}

// NewPlane wraps mgr with no artifact cache backing it. mgr must not be
// nil.
func NewPlane(mgr *task.Manager) *Plane {
	return &Plane{mgr: mgr, cids: make(map[task.ID]string)}
}

// NewPlaneWithCache wraps mgr and deduplicates every started program's
// bytes through cache: a task's program data is stored once by content
// hash and reference-counted for the task's lifetime, so resubmitting an
// unchanged artifact across restarts costs a hash computation instead of
// a second copy on disk.
func NewPlaneWithCache(mgr *task.Manager, cache ArtifactCache) *Plane {
	return &Plane{mgr: mgr, cache: cache, cids: make(map[task.ID]string)}
}

// StartRequest mirrors the wire shape of POST /task/start: the program
// body travels as base64 text so the request is safe to embed in a plain
// JSON document.
type StartRequest struct {
	ProgramDataB64 string            `json:"program_data_buf"`
	ProgramType    task.ProgramType  `json:"program_type"`
	ProgramName    string            `json:"program_name,omitempty"`
	BTFArchivePath string            `json:"btf_archive_path,omitempty"`
	ExtraArgs      []string          `json:"extra_args,omitempty"`
	ExportJSON     bool              `json:"export_json,omitempty"`
}

// StartResponse mirrors POST /task/start's success alternate.
type StartResponse struct {
	ID       task.ID            `json:"id"`
	TaskList []task.ProgramDesc `json:"task_list"`
}

// Start decodes req's base64 program body on the caller's goroutine,
// before any lock is taken (decoding a multi-megabyte base64 body is pure
// CPU work with no reason to hold any lock while it runs), and starts it.
func (p *Plane) Start(req StartRequest) (StartResponse, error) {
	data, err := base64.StdEncoding.DecodeString(req.ProgramDataB64)
	if err != nil {
		return StartResponse{}, fmt.Errorf("%w: program_data_buf is not valid base64: %v", task.ErrInvalidArguments, err)
	}

	id, err := p.mgr.Start(task.StartOptions{
		ProgramData:    data,
		ProgramType:    req.ProgramType,
		ProgramName:    req.ProgramName,
		BTFArchivePath: req.BTFArchivePath,
		ExtraArgs:      req.ExtraArgs,
		ExportJSON:     req.ExportJSON,
	})
	if err != nil {
		return StartResponse{}, err
	}

	if p.cache != nil {
		if cid, cerr := p.cache.Put(data); cerr == nil {
			consumer := fmt.Sprintf("task-%d", id)
			if rerr := p.cache.AddReference(cid, consumer); rerr == nil {
				p.mu.Lock()
				p.cids[id] = cid
				p.mu.Unlock()
			}
		}
	}

	return StartResponse{ID: id, TaskList: p.mgr.List()}, nil
}

// Stop terminates one task and releases its hold on the artifact cache,
// if one is configured.
func (p *Plane) Stop(id task.ID) error {
	if err := p.mgr.Terminate(id); err != nil {
		return err
	}

	if p.cache != nil {
		p.mu.Lock()
		cid, ok := p.cids[id]
		delete(p.cids, id)
		p.mu.Unlock()
		if ok {
			_ = p.cache.RemoveReference(cid, fmt.Sprintf("task-%d", id))
		}
	}
	return nil
}

// Pause pauses one task.
func (p *Plane) Pause(id task.ID) error {
	return p.mgr.SetPause(id, true)
}

// Resume resumes one task.
func (p *Plane) Resume(id task.ID) error {
	return p.mgr.SetPause(id, false)
}

// Log fetches buffered log entries for one task.
func (p *Plane) Log(id task.ID, cursor *uint64, maximum *int) ([]task.CursorLogEntry, error) {
	return p.mgr.FetchLog(id, cursor, maximum)
}

// List returns every task currently running.
func (p *Plane) List() []task.ProgramDesc {
	return p.mgr.List()
}
