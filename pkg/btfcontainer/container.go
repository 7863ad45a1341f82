// Package btfcontainer owns a parsed BTF type table and the handful of
// recursive helpers (resolve-real-type, is-char, is-char-array) every other
// component in this module needs to make sense of raw BTF type ids.
package btfcontainer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf/btf"
)

// Container is immutable after construction and safe to share across
// goroutines: every exporter, checker and dumper call holds only a pointer
// to one of these, never a mutable reference.
//
// btf.Type values don't carry their own numeric id (the library keeps that
// mapping inside *btf.Spec), so this container keeps its own reverse
// lookup built once at construction time. Every other package in this
// module goes through IDOf/TypeByID instead of assuming a Type knows its
// own id.
type Container struct {
	spec  *btf.Spec
	types []btf.Type     // types[id] is the type with that numeric BTF id; types[0] is void
	ids   map[btf.Type]uint32
}

// NewFromELF parses the .BTF section embedded in a compiled eBPF ELF
// object.
func NewFromELF(elfBytes []byte) (*Container, error) {
	spec, err := btf.LoadSpecFromReader(bytes.NewReader(elfBytes))
	if err != nil {
		return nil, fmt.Errorf("load btf from elf: %w", err)
	}
	return newContainer(spec)
}

// NewFromRawBTF parses a standalone BTF blob not embedded in an ELF (for
// example a BTFHub archive entry already extracted to raw bytes).
func NewFromRawBTF(raw []byte) (*Container, error) {
	spec, err := btf.LoadRawSpec(bytes.NewReader(raw), binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("load raw btf: %w", err)
	}
	return newContainer(spec)
}

// NewFromSpec wraps a *btf.Spec a caller already parsed. The skeleton
// builder uses this to share one BTF parse with the collection spec's own
// map Key/Value types, rather than reparsing the ELF a second time — two
// independent parses would hand back distinct btf.Type values for what's
// conceptually the same type, breaking IDOf's reference-identity lookup for
// any type reached through the collection spec instead of this container.
func NewFromSpec(spec *btf.Spec) (*Container, error) {
	return newContainer(spec)
}

func newContainer(spec *btf.Spec) (*Container, error) {
	c := &Container{spec: spec, ids: make(map[btf.Type]uint32)}
	c.types = append(c.types, nil) // id 0 is void, never dereferenced by callers
	for id := btf.TypeID(1); ; id++ {
		ty, err := spec.TypeByID(id)
		if err != nil {
			break
		}
		c.types = append(c.types, ty)
		c.ids[ty] = uint32(id)
	}
	if len(c.types) <= 1 {
		return nil, fmt.Errorf("btf blob contains no types")
	}
	return c, nil
}

// NewFromTypes builds a Container directly from an ordered type table
// (index i is the type with BTF id i, index 0 unused) without going through
// ELF or raw-BTF parsing. Production code never calls this; it exists so
// other packages in this module can exercise checker/dumper/section-loader
// logic against hand-built BTF shapes in tests without a compiled fixture.
func NewFromTypes(types []btf.Type) *Container {
	c := &Container{types: types, ids: make(map[btf.Type]uint32, len(types))}
	for id, ty := range types {
		if ty == nil {
			continue
		}
		c.ids[ty] = uint32(id)
	}
	return c
}

// IDOf returns the numeric BTF id this container assigned to ty. ty must be
// a value previously returned from this same container (directly, or as a
// member/element/target of one of its types) — the id is looked up by
// reference identity, not recomputed.
func (c *Container) IDOf(ty btf.Type) (uint32, error) {
	id, ok := c.ids[ty]
	if !ok {
		return 0, fmt.Errorf("type %v is not registered in this container", ty)
	}
	return id, nil
}

// Spec exposes the underlying cilium/ebpf spec for collaborators (the
// skeleton builder) that need to pass it to the platform loader.
func (c *Container) Spec() *btf.Spec {
	return c.spec
}

// TypeByID returns the BTF type registered under the given numeric id.
func (c *Container) TypeByID(id uint32) (btf.Type, error) {
	if id == 0 || int(id) >= len(c.types) {
		return nil, fmt.Errorf("type id %d is invalid", id)
	}
	return c.types[id], nil
}

// NumTypes reports how many types (including the id-0 void sentinel) this
// container knows about.
func (c *Container) NumTypes() int {
	return len(c.types)
}

// SizeOf returns the byte size of the type at the given id, resolving
// through typedef/const/volatile/restrict wrappers and pointer widths.
func (c *Container) SizeOf(id uint32) (int, error) {
	ty, err := c.TypeByID(id)
	if err != nil {
		return 0, err
	}
	size, err := btf.Sizeof(ty)
	if err != nil {
		return 0, fmt.Errorf("size of type id %d: %w", id, err)
	}
	return size, nil
}

// ResolveRealType unwraps the transparent chain typedef | const | volatile |
// restrict to the underlying concrete type id.
func (c *Container) ResolveRealType(id uint32) (uint32, error) {
	ty, err := c.TypeByID(id)
	if err != nil {
		return 0, err
	}
	var inner btf.Type
	switch t := ty.(type) {
	case *btf.Typedef:
		inner = t.Type
	case *btf.Volatile:
		inner = t.Type
	case *btf.Const:
		inner = t.Type
	case *btf.Restrict:
		inner = t.Type
	default:
		return id, nil
	}
	innerID, err := c.IDOf(inner)
	if err != nil {
		return 0, err
	}
	return c.ResolveRealType(innerID)
}

// IsChar reports whether a type (after resolving transparent wrappers) is a
// single-byte integer with char encoding, or is simply named "char".
func (c *Container) IsChar(id uint32) (bool, error) {
	real, err := c.ResolveRealType(id)
	if err != nil {
		return false, err
	}
	ty, err := c.TypeByID(real)
	if err != nil {
		return false, err
	}
	i, ok := ty.(*btf.Int)
	if !ok {
		return false, nil
	}
	return i.Encoding&btf.Char != 0 || i.Name == "char", nil
}

// IsCharArray reports whether a type (after resolving transparent wrappers)
// is an array whose element type is a char, per IsChar.
func (c *Container) IsCharArray(id uint32) (bool, error) {
	real, err := c.ResolveRealType(id)
	if err != nil {
		return false, err
	}
	ty, err := c.TypeByID(real)
	if err != nil {
		return false, err
	}
	arr, ok := ty.(*btf.Array)
	if !ok {
		return false, nil
	}
	elemID, err := c.IDOf(arr.Type)
	if err != nil {
		return false, err
	}
	elemReal, err := c.ResolveRealType(elemID)
	if err != nil {
		return false, err
	}
	return c.IsChar(elemReal)
}
