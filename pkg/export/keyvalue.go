package export

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/saworbit/eunomia-runtime/internal/metrics"
	"github.com/saworbit/eunomia-runtime/pkg/dumper"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

// HandleSampleEvent decodes one key/value pair read from a periodically
// sampled map and dispatches it per this exporter's format and the map's
// declared sample type. It satisfies
// pkg/skeleton.SampleMapEventProcessor.
func (e *Exporter) HandleSampleEvent(key, value []byte) error {
	err := e.handleSampleEvent(key, value)
	if err != nil {
		metrics.ObserveExportError(e.formatLabel())
	}
	return err
}

func (e *Exporter) handleSampleEvent(key, value []byte) error {
	if e.sample == nil {
		return fmt.Errorf("exporter was not built for sample-map events")
	}

	switch e.format {
	case FormatJSON:
		return e.handleSampleJSON(key, value)
	case FormatRaw:
		return e.handleSampleRaw(key, value)
	default:
		switch e.sample.sampleMeta.Type {
		case meta.SampleLog2Hist:
			return e.handleSampleLog2Hist(key, value)
		default:
			return e.handleSampleDefaultKV(key, value)
		}
	}
}

func (e *Exporter) handleSampleJSON(key, value []byte) error {
	keyOut, err := dumper.ToJSONWithCheckedMembers(e.btf, e.sample.checkedKeyTypes, key)
	if err != nil {
		return fmt.Errorf("dump key to json: %w", err)
	}
	valueOut, err := dumper.ToJSONWithCheckedMembers(e.btf, e.sample.checkedValueTypes, value)
	if err != nil {
		return fmt.Errorf("dump value to json: %w", err)
	}
	out, err := json.Marshal(map[string]interface{}{"key": keyOut, "value": valueOut})
	if err != nil {
		return fmt.Errorf("serialize event json: %w", err)
	}
	e.deliver(ReceivedEvent{Kind: EventJSONText, Text: string(out)})
	return nil
}

func (e *Exporter) handleSampleRaw(key, value []byte) error {
	if e.handler == nil {
		log.Printf("[Export] raw map export expects a user-provided handler, dropping event")
		return nil
	}
	e.deliver(ReceivedEvent{Kind: EventKeyValueBuffer, Key: key, Value: value})
	return nil
}

func (e *Exporter) handleSampleDefaultKV(key, value []byte) error {
	var out strings.Builder
	fmt.Fprintf(&out, "%-8s ", time.Now().Format("15:04:05"))
	if err := dumper.ToPlainTextWithCheckedMembers(e.btf, e.sample.checkedKeyTypes, key, &out); err != nil {
		return fmt.Errorf("dump key to plain text: %w", err)
	}
	out.WriteByte(' ')
	if err := dumper.ToPlainTextWithCheckedMembers(e.btf, e.sample.checkedValueTypes, value, &out); err != nil {
		return fmt.Errorf("dump value to plain text: %w", err)
	}
	e.deliver(ReceivedEvent{Kind: EventPlainText, Text: out.String()})
	return nil
}

// handleSampleLog2Hist renders every non-"slots" value member as a plain
// "name = value" line, then the "slots" member (a u32 bucket-count array)
// as a character-drawn log2 histogram. Two ReceivedEvent deliveries happen
// per tick: the key-plus-scalar-members block, then the histogram.
func (e *Exporter) handleSampleLog2Hist(key, value []byte) error {
	var out strings.Builder
	out.WriteString("key = ")
	if err := dumper.ToPlainTextWithCheckedMembers(e.btf, e.sample.checkedKeyTypes, key, &out); err != nil {
		return fmt.Errorf("dump key to plain text: %w", err)
	}
	out.WriteByte('\n')

	type slotsDef struct {
		offset      uint32
		lengthInU32 uint32
	}
	var slots *slotsDef

	for _, member := range e.sample.checkedValueTypes {
		if member.BitOffset%8 != 0 {
			return fmt.Errorf("bit fields are not supported now")
		}
		offset := member.BitOffset / 8
		if member.Meta.Name == "slots" {
			slots = &slotsDef{offset: offset, lengthInU32: uint32(member.Size) / 4}
			continue
		}
		if int(offset)+member.Size > len(value) {
			return fmt.Errorf("member %s: range exceeds value length", member.Meta.Name)
		}
		fmt.Fprintf(&out, "%s = ", member.Meta.Name)
		if err := dumper.ToPlainText(e.btf, member.TypeID, value[offset:int(offset)+member.Size], &out); err != nil {
			return fmt.Errorf("dump member %s to plain text: %w", member.Meta.Name, err)
		}
		out.WriteByte('\n')
	}

	if slots == nil {
		return fmt.Errorf("no slots found")
	}

	e.deliver(ReceivedEvent{Kind: EventPlainText, Text: out.String()})

	vals := make([]uint32, slots.lengthInU32)
	for i := range vals {
		start := int(slots.offset) + i*4
		if start+4 > len(value) {
			return fmt.Errorf("slots member out of range at index %d", i)
		}
		vals[i] = binary.LittleEndian.Uint32(value[start : start+4])
	}

	var hist strings.Builder
	dumper.PrintLog2Hist(vals, e.sample.sampleMeta.Unit, &hist)
	e.deliver(ReceivedEvent{Kind: EventPlainText, Text: hist.String()})
	return nil
}
