package skeleton

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/ringbuf"
)

// RingBufEventProcessor handles one raw event read from a ring-buffer or
// perf-event-array map.
type RingBufEventProcessor interface {
	HandleRingBufEvent(data []byte) error
}

// SampleMapEventProcessor handles one key/value pair read from a
// periodically-sampled map.
type SampleMapEventProcessor interface {
	HandleSampleEvent(key, value []byte) error
}

// PollingHandle is the pause/terminate control surface shared between a
// task's worker thread and whoever calls Pause/Resume/Terminate on it.
type PollingHandle struct {
	pause     atomic.Bool
	terminate atomic.Bool
}

func (h *PollingHandle) ShouldPause() bool     { return h.pause.Load() }
func (h *PollingHandle) ShouldTerminate() bool { return h.terminate.Load() }
func (h *PollingHandle) Pause()                { h.pause.Store(true) }
func (h *PollingHandle) Resume()               { h.pause.Store(false) }
func (h *PollingHandle) Terminate()            { h.terminate.Store(true) }

// RunPollLoop blocks, invoking tick once per iteration, until the handle's
// terminate flag is set. While pause is set it spins (sleeping 1ms between
// checks) without calling tick, rechecking terminate on every wakeup.
func RunPollLoop(handle *PollingHandle, tick func() error) error {
	log.Printf("[Poller] running ebpf program...")
	for !handle.ShouldTerminate() {
		for handle.ShouldPause() {
			time.Sleep(time.Millisecond)
		}
		if handle.ShouldTerminate() {
			break
		}
		if err := tick(); err != nil {
			return err
		}
	}
	log.Printf("[Poller] program terminated")
	return nil
}

// Poller drives one map's worth of events into an exporter, once per
// RunPollLoop tick.
type Poller interface {
	Poll() error
	Close() error
}

// NoopPoller backs maps with no ring-buffer, perf-event or sample
// configuration — the poll loop still runs (so pause/terminate keep
// working) but does nothing each tick.
type NoopPoller struct{}

func (NoopPoller) Poll() error  { return nil }
func (NoopPoller) Close() error { return nil }

// RingBufPoller reads at most one batch of events per tick from a
// ring-buffer map, bounded by timeout.
type RingBufPoller struct {
	reader    *ringbuf.Reader
	timeout   time.Duration
	processor RingBufEventProcessor
}

// NewRingBufPoller opens a ring-buffer reader over m.
func NewRingBufPoller(m *ebpf.Map, timeout time.Duration, processor RingBufEventProcessor) (*RingBufPoller, error) {
	r, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("open ringbuf reader: %w", err)
	}
	return &RingBufPoller{reader: r, timeout: timeout, processor: processor}, nil
}

func (p *RingBufPoller) Poll() error {
	if err := p.reader.SetDeadline(time.Now().Add(p.timeout)); err != nil {
		return fmt.Errorf("set ringbuf deadline: %w", err)
	}
	record, err := p.reader.Read()
	if err != nil {
		if errors.Is(err, ringbuf.ErrClosed) || os.IsTimeout(err) {
			return nil
		}
		return fmt.Errorf("poll ringbuf: %w, see logs for details", err)
	}
	if err := p.processor.HandleRingBufEvent(record.RawSample); err != nil {
		log.Printf("[Poller] failed to process event: %v", err)
	}
	return nil
}

func (p *RingBufPoller) Close() error { return p.reader.Close() }

// PerfEventPoller reads at most one batch of events per tick from a
// perf-event-array map. Once the event processor fails once, every
// subsequent tick fails immediately — matching the "latch an error flag"
// behavior of the loader this was ported from.
type PerfEventPoller struct {
	reader    *perf.Reader
	timeout   time.Duration
	processor RingBufEventProcessor
	failed    atomic.Bool
}

// NewPerfEventPoller opens a perf-event reader over m.
func NewPerfEventPoller(m *ebpf.Map, timeout time.Duration, processor RingBufEventProcessor) (*PerfEventPoller, error) {
	r, err := perf.NewReader(m, 4096)
	if err != nil {
		return nil, fmt.Errorf("open perf event reader: %w", err)
	}
	return &PerfEventPoller{reader: r, timeout: timeout, processor: processor}, nil
}

func (p *PerfEventPoller) Poll() error {
	if p.failed.Load() {
		return fmt.Errorf("failed to poll perf event. see log for details")
	}
	if err := p.reader.SetDeadline(time.Now().Add(p.timeout)); err != nil {
		return fmt.Errorf("set perf event deadline: %w", err)
	}
	record, err := p.reader.Read()
	if err != nil {
		if errors.Is(err, perf.ErrClosed) || os.IsTimeout(err) {
			return nil
		}
		return fmt.Errorf("poll perf event: %w", err)
	}
	if record.LostSamples > 0 {
		log.Printf("[Poller] lost %d perf samples", record.LostSamples)
	}
	if err := p.processor.HandleRingBufEvent(record.RawSample); err != nil {
		log.Printf("[Poller] failed to handle event for perf array: %v", err)
		p.failed.Store(true)
	}
	return nil
}

func (p *PerfEventPoller) Close() error { return p.reader.Close() }

// SampleMapPoller iterates a map's keys once per tick, looks up each
// value, hands both to the processor, then sleeps for the configured
// interval. If clearMap is set, every remaining key is deleted on Close.
type SampleMapPoller struct {
	m         *ebpf.Map
	interval  time.Duration
	clearMap  bool
	processor SampleMapEventProcessor
}

// NewSampleMapPoller builds a poller that samples m on every tick.
func NewSampleMapPoller(m *ebpf.Map, interval time.Duration, clearMap bool, processor SampleMapEventProcessor) *SampleMapPoller {
	return &SampleMapPoller{m: m, interval: interval, clearMap: clearMap, processor: processor}
}

func (p *SampleMapPoller) Poll() error {
	key := make([]byte, p.m.KeySize())
	value := make([]byte, p.m.ValueSize())
	it := p.m.Iterate()
	for it.Next(&key, &value) {
		if err := p.processor.HandleSampleEvent(key, value); err != nil {
			return fmt.Errorf("handle event: %w", err)
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("iterate sample map: %w", err)
	}
	time.Sleep(p.interval)
	return nil
}

func (p *SampleMapPoller) Close() error {
	if !p.clearMap {
		return nil
	}
	key := make([]byte, p.m.KeySize())
	value := make([]byte, p.m.ValueSize())
	var keys [][]byte
	it := p.m.Iterate()
	for it.Next(&key, &value) {
		keys = append(keys, append([]byte(nil), key...))
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("iterate sample map for clear: %w", err)
	}
	for _, k := range keys {
		if err := p.m.Delete(k); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
			return fmt.Errorf("clear sample map key: %w", err)
		}
	}
	return nil
}
