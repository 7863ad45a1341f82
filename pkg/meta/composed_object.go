package meta

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ComposedObject is the on-wire artifact envelope: a compiled eBPF ELF
// object plus the metadata describing it. On the wire the ELF body is
// zlib-deflated and base64-encoded alongside its declared uncompressed
// size, so a corrupted or truncated payload is caught at deserialize time
// rather than surfacing later as a BTF parse failure.
type ComposedObject struct {
	BpfObject []byte
	Meta      EunomiaObjectMeta
}

type composedObjectWire struct {
	BpfObject     string            `json:"bpf_object"`
	BpfObjectSize int               `json:"bpf_object_size"`
	Meta          EunomiaObjectMeta `json:"meta"`
}

// ErrSizeMismatch is returned by UnmarshalJSON when the declared
// bpf_object_size disagrees with the length of the decompressed payload.
type ErrSizeMismatch struct {
	Declared int
	Actual   int
}

func (e *ErrSizeMismatch) Error() string {
	return fmt.Sprintf("unmatched size: %d declared, %d after decompression", e.Declared, e.Actual)
}

// MarshalJSON zlib-deflates the ELF body and base64-encodes it, matching
// the wire format consumed by every other eunomia-bpf-compatible tool.
func (c ComposedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(c.BpfObject); err != nil {
		return nil, fmt.Errorf("deflate bpf object: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close deflate writer: %w", err)
	}

	wire := composedObjectWire{
		BpfObject:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		BpfObjectSize: len(c.BpfObject),
		Meta:          c.Meta,
	}
	return json.Marshal(wire)
}

// UnmarshalJSON base64-decodes and zlib-inflates the ELF body, failing with
// *ErrSizeMismatch if the declared and actual sizes disagree.
func (c *ComposedObject) UnmarshalJSON(data []byte) error {
	var wire composedObjectWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("malformed artifact json: %w", err)
	}

	compressed, err := base64.StdEncoding.DecodeString(wire.BpfObject)
	if err != nil {
		return fmt.Errorf("malformed base64: %w", err)
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("malformed compressed data: %w", err)
	}
	defer r.Close()

	decompressed, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("malformed compressed data: %w", err)
	}

	if len(decompressed) != wire.BpfObjectSize {
		return &ErrSizeMismatch{Declared: wire.BpfObjectSize, Actual: len(decompressed)}
	}

	c.BpfObject = decompressed
	c.Meta = wire.Meta
	return nil
}
