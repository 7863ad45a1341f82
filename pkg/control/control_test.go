package control

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/saworbit/eunomia-runtime/pkg/task"
)

// stubHandle/stubHost duplicate pkg/task's test doubles; control can't
// import pkg/task's _test.go helpers, and the WASM path is the only one
// that doesn't need a compiled eBPF object to exercise the plumbing.
type stubHandle struct{ done chan struct{} }

func newStubHandle() *stubHandle { return &stubHandle{done: make(chan struct{})} }

func (h *stubHandle) Pause() error     { return nil }
func (h *stubHandle) Resume() error    { return nil }
func (h *stubHandle) Terminate() error { close(h.done); return nil }
func (h *stubHandle) Wait() error      { <-h.done; return nil }

type stubHost struct{}

func (stubHost) Run([]byte, []string, io.Writer, io.Writer) (task.WASMHandle, error) {
	return newStubHandle(), nil
}

func newTestPlane() *Plane {
	return NewPlane(task.NewManager(stubHost{}))
}

// fakeCache is a minimal in-memory ArtifactCache for exercising Plane's
// dedup/reference-release wiring without a real Pebble-backed store.
type fakeCache struct {
	mu    sync.Mutex
	data  map[string][]byte
	refs  map[string]int
	calls []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte), refs: make(map[string]int)}
}

func (c *fakeCache) Put(data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cid := string(data) // content IS the key for this fake, good enough for tests
	c.data[cid] = data
	c.calls = append(c.calls, "put:"+cid)
	return cid, nil
}

func (c *fakeCache) AddReference(cid, consumer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs[cid]++
	c.calls = append(c.calls, "add:"+cid+":"+consumer)
	return nil
}

func (c *fakeCache) RemoveReference(cid, consumer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs[cid]--
	c.calls = append(c.calls, "remove:"+cid+":"+consumer)
	return nil
}

func (c *fakeCache) refCount(cid string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[cid]
}

func TestPlaneStartListStop(t *testing.T) {
	p := newTestPlane()

	resp, err := p.Start(StartRequest{
		ProgramDataB64: base64.StdEncoding.EncodeToString([]byte("module bytes")),
		ProgramType:    task.ProgramWasm,
		ProgramName:    "demo",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(resp.TaskList) != 1 || resp.TaskList[0].ID != resp.ID {
		t.Fatalf("unexpected task list in start response: %+v", resp)
	}

	if err := p.Stop(resp.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if list := p.List(); len(list) != 0 {
		t.Fatalf("expected empty list after stop, got %+v", list)
	}
}

func TestPlaneWithCacheTracksAndReleasesReference(t *testing.T) {
	cache := newFakeCache()
	p := NewPlaneWithCache(task.NewManager(stubHost{}), cache)

	data := []byte("module bytes for caching")
	resp, err := p.Start(StartRequest{
		ProgramDataB64: base64.StdEncoding.EncodeToString(data),
		ProgramType:    task.ProgramWasm,
		ProgramName:    "cached",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	cid := string(data)
	if got := cache.refCount(cid); got != 1 {
		t.Fatalf("ref count after start = %d, want 1", got)
	}

	if err := p.Stop(resp.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := cache.refCount(cid); got != 0 {
		t.Fatalf("ref count after stop = %d, want 0", got)
	}
}

func TestPlaneStartRejectsBadBase64(t *testing.T) {
	p := newTestPlane()
	if _, err := p.Start(StartRequest{ProgramDataB64: "not base64!!", ProgramType: task.ProgramWasm}); err == nil {
		t.Fatal("expected an error for malformed base64")
	}
}

func doJSON(t *testing.T, h httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(h.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %s: %v", h.Body.String(), err)
	}
	return out
}

func TestServerStartStopRoundTrip(t *testing.T) {
	srv := NewServer(newTestPlane())

	startBody, _ := json.Marshal(StartRequest{
		ProgramDataB64: base64.StdEncoding.EncodeToString([]byte("module bytes")),
		ProgramType:    task.ProgramWasm,
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/task/start", bytes.NewReader(startBody))
	srv.ServeHTTP(rec, req)

	out := doJSON(t, *rec)
	id, ok := out["id"]
	if !ok {
		t.Fatalf("start response missing id: %v", out)
	}

	listRec := httptest.NewRecorder()
	srv.ServeHTTP(listRec, httptest.NewRequest("GET", "/task/list", nil))
	listOut := doJSON(t, *listRec)
	tasks, _ := listOut["tasks"].([]interface{})
	if len(tasks) != 1 {
		t.Fatalf("expected one task in list, got %v", listOut)
	}

	stopBody, _ := json.Marshal(idRequest{ID: task.ID(id.(float64))})
	stopRec := httptest.NewRecorder()
	srv.ServeHTTP(stopRec, httptest.NewRequest("POST", "/task/stop", bytes.NewReader(stopBody)))
	stopOut := doJSON(t, *stopRec)
	if _, isErr := stopOut["message"]; isErr {
		t.Fatalf("unexpected error stopping task: %v", stopOut)
	}
}

func TestServerStopUnknownIDReportsInvalidHandle(t *testing.T) {
	srv := NewServer(newTestPlane())

	body, _ := json.Marshal(idRequest{ID: 999})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/task/stop", bytes.NewReader(body)))

	out := doJSON(t, *rec)
	msg, ok := out["message"].(string)
	if !ok || msg == "" {
		t.Fatalf("expected an error message, got %v", out)
	}
}
