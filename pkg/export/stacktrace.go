package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/saworbit/eunomia-runtime/pkg/dumper"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

// StackSource identifies which address space a stack trace's frames belong
// to, for a Symbolizer to resolve against.
type StackSource struct {
	Kernel bool
	PID    uint32 // meaningful only when Kernel is false
}

// Frame is one resolved stack frame. Symbol is empty when resolution
// failed for that address; Path is empty when no source location is known.
type Frame struct {
	Symbol string
	Offset uint64
	Path   string
	Line   uint32
}

// Symbolizer resolves raw instruction-pointer addresses to symbols. It
// returns ok=false when it has nothing to contribute for src, in which case
// the caller falls back to raw hex addresses.
type Symbolizer interface {
	Symbolize(src StackSource, addrs []uint64) (frames []Frame, ok bool)
}

// NoopSymbolizer never resolves anything; every address falls back to raw
// hex. It exists so StackTraceConfig.WithSymbols can be set without
// depending on a real native symbolization library.
type NoopSymbolizer struct{}

func (NoopSymbolizer) Symbolize(StackSource, []uint64) ([]Frame, bool) { return nil, false }

// StackTraceConfig configures the stack-trace specialization of the
// ring-buffer exporter.
type StackTraceConfig struct {
	FieldMapping meta.StackTraceFieldMapping
	WithSymbols  bool
	Symbolizer   Symbolizer
}

// mappedField resolves a user-renamed field, falling back to def when
// mapped is nil or empty.
func mappedField(mapped *string, def string) string {
	if mapped != nil && *mapped != "" {
		return *mapped
	}
	return def
}

func (e *Exporter) handleStackTraceEvent(data []byte) error {
	cfg := e.ringBuf.stackTrace
	result, err := dumper.ToJSONWithCheckedMembers(e.btf, e.ringBuf.checkedTypes, data)
	if err != nil {
		return fmt.Errorf("dump event to json: %w", err)
	}

	pid, err := extractUint32Field(result, mappedField(cfg.FieldMapping.Pid, "pid"))
	if err != nil {
		return err
	}
	cpuID, err := extractUint32Field(result, mappedField(cfg.FieldMapping.CPUID, "cpu_id"))
	if err != nil {
		return err
	}
	comm, err := extractStringField(result, mappedField(cfg.FieldMapping.Comm, "comm"))
	if err != nil {
		return err
	}
	kstackSz, err := extractInt32Field(result, mappedField(cfg.FieldMapping.KstackSz, "kstack_sz"))
	if err != nil {
		return err
	}
	ustackSz, err := extractInt32Field(result, mappedField(cfg.FieldMapping.UstackSz, "ustack_sz"))
	if err != nil {
		return err
	}
	kstack, err := extractUint64SliceField(result, mappedField(cfg.FieldMapping.Kstack, "kstack"))
	if err != nil {
		return err
	}
	ustack, err := extractUint64SliceField(result, mappedField(cfg.FieldMapping.Ustack, "ustack"))
	if err != nil {
		return err
	}

	// Sizes are reported in bytes; the stacks are arrays of u64 frames.
	kstackSz /= 8
	ustackSz /= 8

	if kstackSz <= 0 && ustackSz <= 0 {
		return nil
	}

	var out strings.Builder
	fmt.Fprintf(&out, "COMM: %s (pid=%d) @ CPU %d\n", comm, pid, cpuID)

	symbolizer := cfg.Symbolizer
	if symbolizer == nil {
		symbolizer = NoopSymbolizer{}
	}

	if kstackSz > 0 {
		if int(kstackSz) < len(kstack) {
			kstack = kstack[:kstackSz]
		}
		out.WriteString("Kernel:\n")
		printStack(&out, symbolizer, StackSource{Kernel: true}, kstack, cfg.WithSymbols)
	} else {
		out.WriteString("No Kernel Stack\n")
	}

	if ustackSz > 0 {
		if int(ustackSz) < len(ustack) {
			ustack = ustack[:ustackSz]
		}
		out.WriteString("Userspace:\n")
		printStack(&out, symbolizer, StackSource{PID: pid}, ustack, cfg.WithSymbols)
	} else {
		out.WriteString("No Userspace Stack\n")
	}

	e.deliver(ReceivedEvent{Kind: EventPlainText, Text: out.String()})
	return nil
}

func printStack(out *strings.Builder, sym Symbolizer, src StackSource, stack []uint64, withSymbols bool) {
	if !withSymbols {
		printStackWithoutSymbols(out, stack)
		return
	}
	frames, ok := sym.Symbolize(src, stack)
	if !ok {
		printStackWithoutSymbols(out, stack)
		return
	}
	for i, addr := range stack {
		if i >= len(frames) || frames[i].Symbol == "" {
			fmt.Fprintf(out, "  %d [<%016x>]\n", i, addr)
			continue
		}
		f := frames[i]
		if f.Path != "" {
			fmt.Fprintf(out, "  %d [<%016x>] %s+0x%x %s:%d\n", i, addr, f.Symbol, f.Offset, f.Path, f.Line)
		} else {
			fmt.Fprintf(out, "  %d [<%016x>] %s+0x%x\n", i, addr, f.Symbol, f.Offset)
		}
	}
}

func printStackWithoutSymbols(out *strings.Builder, stack []uint64) {
	for i, addr := range stack {
		fmt.Fprintf(out, "  %d [<%016x>]\n", i, addr)
	}
}

func extractField(result map[string]interface{}, name string) (interface{}, error) {
	v, ok := result[name]
	if !ok {
		return nil, fmt.Errorf("field mapping %q not found in the output json", name)
	}
	return v, nil
}

func extractUint32Field(result map[string]interface{}, name string) (uint32, error) {
	v, err := extractField(result, name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case uint32:
		return n, nil
	case int32:
		return uint32(n), nil
	case uint8:
		return uint32(n), nil
	case uint16:
		return uint32(n), nil
	default:
		return 0, fmt.Errorf("field %q has unexpected type %T", name, v)
	}
}

func extractInt32Field(result map[string]interface{}, name string) (int32, error) {
	v, err := extractField(result, name)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int32:
		return n, nil
	case uint32:
		return int32(n), nil
	default:
		return 0, fmt.Errorf("field %q has unexpected type %T", name, v)
	}
}

func extractStringField(result map[string]interface{}, name string) (string, error) {
	v, err := extractField(result, name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has unexpected type %T", name, v)
	}
	return s, nil
}

func extractUint64SliceField(result map[string]interface{}, name string) ([]uint64, error) {
	v, err := extractField(result, name)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]interface{})
	if !ok {
		// Allow a round-trip through JSON for array-typed BTF values that
		// came back as something other than []interface{}.
		buf, mErr := json.Marshal(v)
		if mErr != nil {
			return nil, fmt.Errorf("field %q has unexpected type %T", name, v)
		}
		var raw []uint64
		if uErr := json.Unmarshal(buf, &raw); uErr != nil {
			return nil, fmt.Errorf("field %q has unexpected type %T", name, v)
		}
		return raw, nil
	}
	out := make([]uint64, len(arr))
	for i, elem := range arr {
		switch n := elem.(type) {
		case uint64:
			out[i] = n
		case uint32:
			out[i] = uint64(n)
		case int64:
			out[i] = uint64(n)
		default:
			return nil, fmt.Errorf("field %q element %d has unexpected type %T", name, i, elem)
		}
	}
	return out, nil
}
