package task

import (
	"fmt"
	"io"
	"time"
)

// WASMHandle is the pause/resume/terminate control surface a WASMHost hands
// back for one running module.
type WASMHandle interface {
	Pause() error
	Resume() error
	Terminate() error
	// Wait blocks until the module exits on its own and returns its error,
	// if any. It must return promptly once Terminate has been called.
	Wait() error
}

// WASMHost runs a compiled WASM module with the given extra arguments,
// wiring its stdout/stderr to the two writers supplied. No implementation
// of this interface ships with this runtime build: running WASM modules
// requires a host embedding a WASM runtime (wasmtime, wazero, or similar),
// none of which this module takes a dependency on. A caller that wants
// WASM support supplies its own WASMHost to NewManager; Start fails with
// ErrUnsupportedProgramType against the zero value.
type WASMHost interface {
	Run(module []byte, args []string, stdout, stderr io.Writer) (WASMHandle, error)
}

// noWASMHost is the default WASMHost wired into a Manager that wasn't
// given one explicitly. It fails loudly rather than silently accepting a
// program it cannot run, the same stance pkg/skeleton takes for tc attach.
type noWASMHost struct{}

func (noWASMHost) Run([]byte, []string, io.Writer, io.Writer) (WASMHandle, error) {
	return nil, fmt.Errorf("%w: no WASM host configured for this runtime build", ErrUnsupportedProgramType)
}

// wasmLogPipe reads everything written to it and, every logFetchInterval,
// hands whatever is new since the last fetch to append as one log entry
// tagged kind. It mirrors a design where a module's stdout/stderr pipe is
// drained on a timer rather than line-by-line, so a module that writes
// partial lines still has its output surface eventually instead of
// blocking on a newline that never comes.
type wasmLogPipe struct {
	kind   LogType
	logs   *logBuffer
	buf    []byte
	lastAt int
}

func newWASMLogPipe(kind LogType, logs *logBuffer) *wasmLogPipe {
	return &wasmLogPipe{kind: kind, logs: logs}
}

func (p *wasmLogPipe) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	return len(b), nil
}

// flush appends whatever has been written since the last flush as one log
// entry, if anything has.
func (p *wasmLogPipe) flush() {
	if p.lastAt >= len(p.buf) {
		return
	}
	chunk := string(p.buf[p.lastAt:])
	p.lastAt = len(p.buf)
	p.logs.append(LogEntry{Log: chunk, Timestamp: time.Now().Unix(), LogType: p.kind})
}

// pumpWASMLogs flushes both pipes on a timer until done is closed.
func pumpWASMLogs(stdout, stderr *wasmLogPipe, done <-chan struct{}) {
	ticker := time.NewTicker(logFetchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stdout.flush()
			stderr.flush()
		case <-done:
			stdout.flush()
			stderr.flush()
			return
		}
	}
}

// startWASM runs one WASM module on rec's worker goroutine, signaling
// ready once rec.wasmHandle is published, then blocking until the module
// exits or is terminated.
func startWASM(rec *taskRecord, host WASMHost, module []byte, args []string, ready chan<- error) error {
	stdout := newWASMLogPipe(LogStdout, rec.logs)
	stderr := newWASMLogPipe(LogStderr, rec.logs)

	handle, err := host.Run(module, args, stdout, stderr)
	if err != nil {
		err = fmt.Errorf("run wasm module: %w", err)
		ready <- err
		return err
	}

	rec.mu.Lock()
	rec.wasmHandle = handle
	rec.mu.Unlock()

	ready <- nil

	done := make(chan struct{})
	go pumpWASMLogs(stdout, stderr, done)
	defer close(done)

	return handle.Wait()
}
