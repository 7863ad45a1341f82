package skeleton

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRunPollLoopTicksUntilTerminate(t *testing.T) {
	handle := &PollingHandle{}
	var ticks atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- RunPollLoop(handle, func() error {
			ticks.Add(1)
			return nil
		})
	}()

	for ticks.Load() < 3 {
		time.Sleep(time.Millisecond)
	}
	handle.Terminate()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunPollLoop returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunPollLoop did not return after Terminate")
	}
}

func TestRunPollLoopHonorsPause(t *testing.T) {
	handle := &PollingHandle{}
	var ticks atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- RunPollLoop(handle, func() error {
			ticks.Add(1)
			return nil
		})
	}()

	for ticks.Load() < 1 {
		time.Sleep(time.Millisecond)
	}
	handle.Pause()
	paused := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != paused {
		t.Fatalf("expected no ticks while paused, got %d more", ticks.Load()-paused)
	}

	handle.Resume()
	for ticks.Load() <= paused {
		time.Sleep(time.Millisecond)
	}
	handle.Terminate()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunPollLoop returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunPollLoop did not return after Terminate")
	}
}

func TestRunPollLoopPropagatesTickError(t *testing.T) {
	handle := &PollingHandle{}

	err := RunPollLoop(handle, func() error {
		return errTestTick
	})
	if err != errTestTick {
		t.Fatalf("expected tick error to propagate, got %v", err)
	}
}

var errTestTick = &tickError{"boom"}

type tickError struct{ msg string }

func (e *tickError) Error() string { return e.msg }
