package task

import (
	"fmt"
	"log"
	"time"

	"github.com/cilium/ebpf"

	"github.com/saworbit/eunomia-runtime/internal/metrics"
	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
	"github.com/saworbit/eunomia-runtime/pkg/export"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
	"github.com/saworbit/eunomia-runtime/pkg/skeleton"
)

// taskLogHandler adapts a task's log buffer to export.EventHandler,
// mirroring the reference handler this was ported from: only pre-rendered
// text events (plain or JSON) are worth keeping as log lines, a raw byte
// buffer or key/value pair has no sensible textual form to log.
type taskLogHandler struct {
	logs *logBuffer
}

func (h *taskLogHandler) HandleEvent(_ interface{}, ev export.ReceivedEvent) {
	switch ev.Kind {
	case export.EventPlainText, export.EventJSONText:
		h.logs.append(LogEntry{Log: ev.Text, Timestamp: time.Now().Unix(), LogType: LogPlain})
	}
}

// mapBTFTypes is the key/value BTF type ids a map's collection spec
// carried before the kernel load consumed it. PreLoadSkeleton.Spec no
// longer exists once LoadAndAttach returns, so this has to be captured
// ahead of that call, from the same BTF parse the skeleton's container
// shares with the collection spec (see btfcontainer.NewFromSpec).
type mapBTFTypes struct {
	keyID, valueID uint32
}

func collectMapBTFTypes(spec *ebpf.CollectionSpec, btf *btfcontainer.Container) map[string]mapBTFTypes {
	out := make(map[string]mapBTFTypes, len(spec.Maps))
	for name, m := range spec.Maps {
		var types mapBTFTypes
		if m.Key != nil {
			if id, err := btf.IDOf(m.Key); err == nil {
				types.keyID = id
			}
		}
		if m.Value != nil {
			if id, err := btf.IDOf(m.Value); err == nil {
				types.valueID = id
			}
		}
		out[name] = types
	}
	return out
}

func formatOf(exportJSON bool) export.FormatType {
	if exportJSON {
		return export.FormatJSON
	}
	return export.FormatPlainText
}

// buildPollers inspects every map the object declares and builds the
// poller+exporter pair that drives it: a sample-map poller for maps
// carrying sample metadata, a ring-buffer or perf-event poller (picked by
// the map's own declared kernel type) for everything else that is one of
// those two kinds. A map that's neither — a plain .rodata/.bss-backed map,
// or a hash/array map nobody declared sampling for — carries no events and
// is skipped entirely.
func buildPollers(objMeta meta.EunomiaObjectMeta, coll *ebpf.Collection, btf *btfcontainer.Container, btfTypes map[string]mapBTFTypes, handler export.EventHandler, exportJSON bool) ([]skeleton.Poller, error) {
	var pollers []skeleton.Poller
	format := formatOf(exportJSON)

	for _, mm := range objMeta.BpfSkel.Maps {
		m, ok := coll.Maps[mm.Name]
		if !ok {
			continue
		}

		if mm.Sample != nil {
			types := btfTypes[mm.Name]
			builder := export.NewBuilder().SetFormat(format).SetHandler(handler)
			exp, err := builder.BuildForMapSampling(types.keyID, types.valueID, *mm.Sample, objMeta.ExportTypes, btf)
			if err != nil {
				return nil, fmt.Errorf("build sample exporter for map %s: %w", mm.Name, err)
			}
			interval := time.Duration(mm.Sample.Interval) * time.Millisecond
			pollers = append(pollers, skeleton.NewSampleMapPoller(m, interval, mm.Sample.ClearMap, exp))
			continue
		}

		switch m.Type() {
		case ebpf.RingBuf:
			builder := export.NewBuilder().SetFormat(format).SetHandler(handler)
			exp, err := builder.BuildForRingBuf(objMeta.ExportTypes, btf, export.InterpreterDefault, nil)
			if err != nil {
				return nil, fmt.Errorf("build ringbuf exporter for map %s: %w", mm.Name, err)
			}
			timeout := time.Duration(objMeta.PerfBufferTimeMS) * time.Millisecond
			p, err := skeleton.NewRingBufPoller(m, timeout, exp)
			if err != nil {
				return nil, fmt.Errorf("open ringbuf poller for map %s: %w", mm.Name, err)
			}
			pollers = append(pollers, p)
		case ebpf.PerfEventArray:
			builder := export.NewBuilder().SetFormat(format).SetHandler(handler)
			exp, err := builder.BuildForRingBuf(objMeta.ExportTypes, btf, export.InterpreterDefault, nil)
			if err != nil {
				return nil, fmt.Errorf("build perf event exporter for map %s: %w", mm.Name, err)
			}
			timeout := time.Duration(objMeta.PerfBufferTimeMS) * time.Millisecond
			p, err := skeleton.NewPerfEventPoller(m, timeout, exp)
			if err != nil {
				return nil, fmt.Errorf("open perf event poller for map %s: %w", mm.Name, err)
			}
			pollers = append(pollers, p)
		}
	}

	if len(pollers) == 0 {
		pollers = append(pollers, skeleton.NoopPoller{})
	}
	return pollers, nil
}

// startJSON loads, attaches and begins polling one composed eBPF object.
// It signals ready exactly once: with an error if the object never made
// it to a running, controllable state, or with nil right after
// rec.pollHandle is published but before it starts blocking in the poll
// loop, so a Start call returns only once Pause/Terminate are safe to call
// against the task's id.
func startJSON(rec *taskRecord, composed meta.ComposedObject, btfArchivePath string, exportJSON bool, ready chan<- error) error {
	pre, err := skeleton.Builder{
		ObjectMeta:     composed.Meta,
		BPFObject:      composed.BpfObject,
		BTFArchivePath: btfArchivePath,
	}.Build()
	if err != nil {
		err = fmt.Errorf("build skeleton: %w", err)
		ready <- err
		return err
	}

	btfTypes := collectMapBTFTypes(pre.Spec, pre.BTF)

	loaded, err := pre.LoadAndAttach()
	if err != nil {
		err = fmt.Errorf("load and attach: %w", err)
		ready <- err
		return err
	}

	rec.mu.Lock()
	rec.pollHandle = loaded.Handle
	rec.mu.Unlock()

	defer func() {
		if err := loaded.Close(); err != nil {
			log.Printf("[Task] close skeleton for task %d: %v", rec.id, err)
		}
	}()

	handler := &taskLogHandler{logs: rec.logs}
	pollers, err := buildPollers(composed.Meta, loaded.Collection, loaded.BTF, btfTypes, handler, exportJSON)
	if err != nil {
		err = fmt.Errorf("build pollers: %w", err)
		ready <- err
		return err
	}
	defer func() {
		for _, p := range pollers {
			p.Close()
		}
	}()

	ready <- nil

	tick := func() error {
		for _, p := range pollers {
			start := time.Now()
			err := p.Poll()
			metrics.ObservePoll(start, pollerKind(p), err)
			if err != nil {
				return err
			}
		}
		return nil
	}

	return skeleton.RunPollLoop(loaded.Handle, tick)
}

// pollerKind names p's concrete poller type for metrics labeling.
func pollerKind(p skeleton.Poller) string {
	switch p.(type) {
	case *skeleton.RingBufPoller:
		return "ringbuf"
	case *skeleton.PerfEventPoller:
		return "perfevent"
	case *skeleton.SampleMapPoller:
		return "samplemap"
	default:
		return "noop"
	}
}
