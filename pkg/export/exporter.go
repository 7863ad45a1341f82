// Package export turns validated event bytes into one of three output
// formats (plain text, JSON, or raw) and hands the result to a
// user-supplied handler, or prints it to stdout when none is supplied.
package export

import (
	"fmt"
	"log"

	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
	"github.com/saworbit/eunomia-runtime/pkg/checker"
	"github.com/saworbit/eunomia-runtime/pkg/dumper"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

// FormatType selects how received event data is rendered.
type FormatType int

const (
	FormatPlainText FormatType = iota
	FormatJSON
	FormatRaw
)

// EventKind distinguishes the shape of one ReceivedEvent.
type EventKind int

const (
	// EventBuffer carries a raw single-value (ring-buffer/perf-event) payload.
	EventBuffer EventKind = iota
	// EventKeyValueBuffer carries a raw sample-map key/value pair.
	EventKeyValueBuffer
	// EventPlainText carries a pre-rendered human-readable line.
	EventPlainText
	// EventJSONText carries a pre-serialized JSON line.
	EventJSONText
)

// ReceivedEvent is what a user-supplied EventHandler receives.
type ReceivedEvent struct {
	Kind  EventKind
	Data  []byte // EventBuffer
	Key   []byte // EventKeyValueBuffer
	Value []byte // EventKeyValueBuffer
	Text  string // EventPlainText, EventJSONText
}

// String renders the event the way it would look printed to stdout when no
// user handler is registered.
func (e ReceivedEvent) String() string {
	switch e.Kind {
	case EventBuffer:
		return fmt.Sprintf("%v", e.Data)
	case EventKeyValueBuffer:
		return fmt.Sprintf("key: %v value: %v", e.Key, e.Value)
	default:
		return e.Text
	}
}

// EventHandler receives every event an Exporter produces. ctx is whatever
// user context the exporter was built with.
type EventHandler interface {
	HandleEvent(ctx interface{}, data ReceivedEvent)
}

func deliver(handler EventHandler, ctx interface{}, ev ReceivedEvent) {
	if handler != nil {
		handler.HandleEvent(ctx, ev)
		return
	}
	fmt.Println(ev.String())
}

// InterpreterTag selects which ring-buffer decode path an Exporter runs, on
// top of the chosen FormatType: either decode-and-render the struct as-is,
// or treat it as a stack-trace event (meta.StackTraceFieldMapping).
type InterpreterTag int

const (
	InterpreterDefault InterpreterTag = iota
	InterpreterStackTrace
)

// ringBufState holds what the single-value/ring-buffer factory needs per
// event, independent of which format was chosen.
type ringBufState struct {
	checkedTypes []checker.CheckedExportedMember
	interpreter  InterpreterTag
	stackTrace   *StackTraceConfig // non-nil when interpreter == InterpreterStackTrace
}

// sampleState holds what the sample-map factory needs per event.
type sampleState struct {
	checkedKeyTypes   []checker.CheckedExportedMember
	checkedValueTypes []checker.CheckedExportedMember
	sampleMeta        meta.MapSampleMeta
}

// Exporter renders one kind of event (ring-buffer/perf-event, or
// sample-map) in one format, for the lifetime of one running task. It's
// immutable after Builder.Build* returns and safe to share across the
// goroutine that polls for it and whatever reads its BTF container.
type Exporter struct {
	handler EventHandler
	ctx     interface{}
	btf     *btfcontainer.Container
	format  FormatType

	ringBuf *ringBufState
	sample  *sampleState
}

func (e *Exporter) deliver(ev ReceivedEvent) {
	deliver(e.handler, e.ctx, ev)
}

// formatLabel names e's configured format for metrics labeling.
func (e *Exporter) formatLabel() string {
	switch e.format {
	case FormatJSON:
		return "json"
	case FormatRaw:
		return "raw"
	default:
		return "plaintext"
	}
}

// Builder configures and constructs Exporters. The zero value is ready to
// use and defaults to plain-text output with no user handler.
type Builder struct {
	format  FormatType
	handler EventHandler
	ctx     interface{}
}

func NewBuilder() *Builder { return &Builder{format: FormatPlainText} }

func (b *Builder) SetFormat(f FormatType) *Builder     { b.format = f; return b }
func (b *Builder) SetHandler(h EventHandler) *Builder  { b.handler = h; return b }
func (b *Builder) SetContext(ctx interface{}) *Builder { b.ctx = ctx; return b }

// BuildForRingBuf builds an exporter for single-value (ring-buffer or
// perf-event-array) events. exportTypes is the program's declared exported
// struct list; only the first entry is used (extras produce a warning).
// interp selects the decode path; stackTrace is only consulted when interp
// is InterpreterStackTrace, and may be nil to accept all field-mapping and
// symbolizer defaults.
func (b *Builder) BuildForRingBuf(exportTypes []meta.ExportedTypesStructMeta, btf *btfcontainer.Container, interp InterpreterTag, stackTrace *StackTraceConfig) (*Exporter, error) {
	if len(exportTypes) == 0 {
		return nil, fmt.Errorf("no export types found")
	}
	if len(exportTypes) > 1 {
		log.Printf("[Export] multiple export types not supported now, using the first struct as output event")
	}
	checkedTypes, err := checker.CheckExportTypes(exportTypes[0], btf)
	if err != nil {
		return nil, err
	}

	if interp == InterpreterStackTrace && stackTrace == nil {
		stackTrace = &StackTraceConfig{}
	}

	e := &Exporter{
		handler: b.handler,
		ctx:     b.ctx,
		btf:     btf,
		format:  b.format,
		ringBuf: &ringBufState{checkedTypes: checkedTypes, interpreter: interp, stackTrace: stackTrace},
	}
	if b.format == FormatPlainText && interp != InterpreterStackTrace {
		header := dumper.PlainTextHeader(checkedTypes, "TIME     ")
		e.deliver(ReceivedEvent{Kind: EventPlainText, Text: header})
	}
	return e, nil
}

// BuildForMapSampling builds an exporter for a periodically-sampled map.
// keyTypeID/valueTypeID are the map's BTF key/value type ids; exportTypes,
// when non-empty, describes the expected value layout (checked loosely;
// see pkg/checker).
func (b *Builder) BuildForMapSampling(keyTypeID, valueTypeID uint32, sampleConfig meta.MapSampleMeta, exportTypes []meta.ExportedTypesStructMeta, btf *btfcontainer.Container) (*Exporter, error) {
	if len(exportTypes) > 1 {
		log.Printf("[Export] multiple export types not supported now, using the first struct as output event")
	}
	var valueMeta *meta.ExportedTypesStructMeta
	if len(exportTypes) == 1 {
		valueMeta = &exportTypes[0]
	}

	checkedKeyTypes, err := checker.CheckSampleTypes(btf, keyTypeID, nil)
	if err != nil {
		return nil, fmt.Errorf("check key type: %w", err)
	}
	checkedValueTypes, err := checker.CheckSampleTypes(btf, valueTypeID, valueMeta)
	if err != nil {
		return nil, fmt.Errorf("check value type: %w", err)
	}

	if b.format == FormatPlainText && sampleConfig.Type == meta.SampleLinearHist {
		return nil, fmt.Errorf("linear hist sampling is not supported now")
	}

	e := &Exporter{
		handler: b.handler,
		ctx:     b.ctx,
		btf:     btf,
		format:  b.format,
		sample: &sampleState{
			checkedKeyTypes:   checkedKeyTypes,
			checkedValueTypes: checkedValueTypes,
			sampleMeta:        sampleConfig,
		},
	}
	if b.format == FormatPlainText && sampleConfig.Type == meta.SampleDefaultKV {
		header := dumper.PlainTextHeader(checkedKeyTypes, "TIME     ")
		header = dumper.PlainTextHeader(checkedValueTypes, header)
		e.deliver(ReceivedEvent{Kind: EventPlainText, Text: header})
	}
	return e, nil
}
