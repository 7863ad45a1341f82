// Package meta describes the on-disk and on-wire shape of an eBPF artifact:
// the exported struct layouts, data sections, maps and programs that make
// up an EunomiaObjectMeta, plus the ComposedObject envelope that bundles
// that metadata with a compiled ELF object.
package meta

import "encoding/json"

// ExportedTypesStructMemberMeta names one member of a user-declared exported
// struct.
type ExportedTypesStructMemberMeta struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// ExportedTypesStructMeta describes a struct the program wants decoded and
// handed to a user callback or stdout.
type ExportedTypesStructMeta struct {
	Name    string                          `json:"name"`
	Members []ExportedTypesStructMemberMeta `json:"members"`
	Size    uint32                          `json:"size"`
	TypeID  uint32                          `json:"type_id"`
}

// SampleMapType selects how a periodically-sampled map is rendered.
type SampleMapType string

const (
	SampleLog2Hist  SampleMapType = "log2_hist"
	SampleLinearHist SampleMapType = "linear_hist"
	SampleDefaultKV SampleMapType = "default_kv"
)

// MapSampleMeta configures periodic (non-event-driven) sampling of a map.
type MapSampleMeta struct {
	Interval int           `json:"interval"`
	Type     SampleMapType `json:"type"`
	Unit     string        `json:"unit"`
	ClearMap bool          `json:"clear_map"`
}

// UnmarshalJSON applies the documented defaults: Type defaults to
// default_kv, Unit defaults to "(unit)".
func (m *MapSampleMeta) UnmarshalJSON(data []byte) error {
	type alias MapSampleMeta
	aux := alias{Type: SampleDefaultKV, Unit: "(unit)"}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = MapSampleMeta(aux)
	return nil
}

// MapMeta describes one map the skeleton will look up by Ident inside the
// loaded ELF.
type MapMeta struct {
	Name    string         `json:"name"`
	Ident   string         `json:"ident"`
	Mmaped  bool           `json:"mmaped"`
	Sample  *MapSampleMeta `json:"sample,omitempty"`
}

// ProgMeta describes one BPF program and how it should be attached.
type ProgMeta struct {
	Name   string                 `json:"name"`
	Attach string                 `json:"attach"`
	Link   bool                   `json:"link"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// DataSectionVariableMeta describes one variable inside a data section
// (.rodata or .bss), along with its command-line argument spec.
type DataSectionVariableMeta struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
	CmdArg      CmdArgMeta      `json:"cmdarg,omitempty"`
}

// CmdArgMeta is the command-line-argument-building spec for one section
// variable: a long flag name override, a single-character short flag, a
// help string and a default value.
type CmdArgMeta struct {
	Long    string          `json:"long,omitempty"`
	Short   string          `json:"short,omitempty"`
	Help    string          `json:"help,omitempty"`
	Default json.RawMessage `json:"default,omitempty"`
}

// DataSectionMeta describes one ELF data section and its variables.
type DataSectionMeta struct {
	Name      string                    `json:"name"`
	Variables []DataSectionVariableMeta `json:"variables"`
}

// BpfSkelDoc carries free-form documentation surfaced in the generated
// argument parser's help text.
type BpfSkelDoc struct {
	Version string `json:"version,omitempty"`
	Brief   string `json:"brief,omitempty"`
	Details string `json:"details,omitempty"`
}

// BpfSkeletonMeta describes the shape of one compiled BPF object: its data
// sections, maps, programs and object name.
type BpfSkeletonMeta struct {
	DataSections []DataSectionMeta `json:"data_sections"`
	Maps         []MapMeta         `json:"maps"`
	Progs        []ProgMeta        `json:"progs"`
	ObjName      string            `json:"obj_name"`
	Doc          *BpfSkelDoc       `json:"doc,omitempty"`
}

// FindMapByIdent returns the map metadata whose Ident matches, or nil.
func (b BpfSkeletonMeta) FindMapByIdent(ident string) *MapMeta {
	for i := range b.Maps {
		if b.Maps[i].Ident == ident {
			return &b.Maps[i]
		}
	}
	return nil
}

// EunomiaObjectMeta is the full metadata descriptor bundled with a
// compiled ELF object to make up one artifact.
type EunomiaObjectMeta struct {
	ExportTypes     []ExportedTypesStructMeta `json:"export_types"`
	BpfSkel         BpfSkeletonMeta           `json:"bpf_skel"`
	PerfBufferPages int                       `json:"perf_buffer_pages"`
	PerfBufferTimeMS int                      `json:"perf_buffer_time_ms"`
	PollTimeoutMS   int32                     `json:"poll_timeout_ms"`
	DebugVerbose    bool                      `json:"debug_verbose"`
	PrintHeader     bool                      `json:"print_header"`
}

const (
	defaultPerfBufferPages  = 64
	defaultPerfBufferTimeMS = 10
	defaultPollTimeoutMS    = 100
)

// UnmarshalJSON applies EunomiaObjectMeta's documented field defaults.
func (m *EunomiaObjectMeta) UnmarshalJSON(data []byte) error {
	type alias EunomiaObjectMeta
	aux := alias{
		PerfBufferPages:  defaultPerfBufferPages,
		PerfBufferTimeMS: defaultPerfBufferTimeMS,
		PollTimeoutMS:    defaultPollTimeoutMS,
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = EunomiaObjectMeta(aux)
	return nil
}

// StackTraceFieldMapping lets a caller rename the seven members a stack-trace
// exported struct is expected to carry.
type StackTraceFieldMapping struct {
	Pid      *string `json:"pid,omitempty"`
	CPUID    *string `json:"cpu_id,omitempty"`
	Comm     *string `json:"comm,omitempty"`
	KstackSz *string `json:"kstack_sz,omitempty"`
	UstackSz *string `json:"ustack_sz,omitempty"`
	Kstack   *string `json:"kstack,omitempty"`
	Ustack   *string `json:"ustack,omitempty"`
}
