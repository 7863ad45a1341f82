package export

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/saworbit/eunomia-runtime/internal/metrics"
	"github.com/saworbit/eunomia-runtime/pkg/dumper"
)

// HandleRingBufEvent decodes one raw event read from a ring-buffer or
// perf-event-array map and dispatches it to this exporter's handler (or
// stdout), per the configured format and interpreter tag. It satisfies
// pkg/skeleton.RingBufEventProcessor.
func (e *Exporter) HandleRingBufEvent(data []byte) error {
	err := e.handleRingBufEvent(data)
	if err != nil {
		metrics.ObserveExportError(e.formatLabel())
	}
	return err
}

func (e *Exporter) handleRingBufEvent(data []byte) error {
	if e.ringBuf == nil {
		return fmt.Errorf("exporter was not built for ring-buffer events")
	}
	if e.ringBuf.interpreter == InterpreterStackTrace {
		return e.handleStackTraceEvent(data)
	}

	switch e.format {
	case FormatJSON:
		return e.handleRingBufJSON(data)
	case FormatRaw:
		return e.handleRingBufRaw(data)
	default:
		return e.handleRingBufPlainText(data)
	}
}

func (e *Exporter) handleRingBufJSON(data []byte) error {
	result, err := dumper.ToJSONWithCheckedMembers(e.btf, e.ringBuf.checkedTypes, data)
	if err != nil {
		return fmt.Errorf("dump event to json: %w", err)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("serialize event json: %w", err)
	}
	e.deliver(ReceivedEvent{Kind: EventJSONText, Text: string(out)})
	return nil
}

func (e *Exporter) handleRingBufRaw(data []byte) error {
	if e.handler == nil {
		// Matches the source's warn-and-drop behavior: a raw exporter with
		// no user callback has nowhere useful to put the bytes.
		log.Printf("[Export] raw export expects a user-provided handler, dropping event")
		return nil
	}
	e.deliver(ReceivedEvent{Kind: EventBuffer, Data: data})
	return nil
}

func (e *Exporter) handleRingBufPlainText(data []byte) error {
	var out strings.Builder
	fmt.Fprintf(&out, "%-8s ", time.Now().Format("15:04:05"))
	if err := dumper.ToPlainTextWithCheckedMembers(e.btf, e.ringBuf.checkedTypes, data, &out); err != nil {
		return fmt.Errorf("dump event to plain text: %w", err)
	}
	e.deliver(ReceivedEvent{Kind: EventPlainText, Text: out.String()})
	return nil
}
