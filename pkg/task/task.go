// Package task owns the registry of running eBPF programs: starting a
// program from a composed artifact (or a WASM module, or a tar bundle of
// either), tracking its lifecycle (running/paused), buffering its log
// output for cursor-based polling, and terminating it once no caller still
// holds a reference.
package task

import (
	"errors"
	"time"
)

// ID identifies one task for the lifetime of a manager. Ids are handed out
// monotonically starting at 1 and are never reused, even after the task
// they named has been terminated and swept out of the registry.
type ID = uint64

// Status is a task's externally visible run state.
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// LogType tags which stream a buffered log line came from.
type LogType string

const (
	LogPlain  LogType = "plain"
	LogStdout LogType = "stdout"
	LogStderr LogType = "stderr"
)

// LogEntry is one buffered line of task output.
type LogEntry struct {
	Log       string  `json:"log"`
	Timestamp int64   `json:"timestamp"`
	LogType   LogType `json:"log_type"`
}

// CursorLogEntry pairs a buffered entry with the cursor a caller should
// pass back on its next poll to resume immediately after this one.
type CursorLogEntry struct {
	Cursor uint64   `json:"cursor"`
	Log    LogEntry `json:"log"`
}

// ProgramDesc is the summary of one task returned by List.
type ProgramDesc struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// ProgramType selects how StartOptions.ProgramData is interpreted.
type ProgramType string

const (
	ProgramJSON ProgramType = "json"
	ProgramWasm ProgramType = "wasm"
	ProgramTar  ProgramType = "tar"
)

// Sentinel errors, checked with errors.Is. Every Manager method that can
// fail for a reason a caller should branch on returns one of these,
// possibly wrapped with extra context.
var (
	ErrInvalidHandle          = errors.New("invalid task handle")
	ErrTaskBusy               = errors.New("task is in use by another caller")
	ErrInvalidArguments       = errors.New("invalid start arguments")
	ErrFailedToPause          = errors.New("failed to pause task")
	ErrFailedToResume         = errors.New("failed to resume task")
	ErrFailedToTerminate      = errors.New("failed to terminate task")
	ErrUnsupportedValueType   = errors.New("unsupported value type")
	ErrUnsupportedProgramType = errors.New("unsupported program type")
)

// StartOptions describes one program to load and run.
type StartOptions struct {
	ProgramData    []byte
	ProgramType    ProgramType
	ProgramName    string
	BTFArchivePath string
	ExtraArgs      []string
	ExportJSON     bool
}

const logFetchInterval = 500 * time.Millisecond
