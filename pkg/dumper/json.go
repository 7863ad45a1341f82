// Package dumper turns raw event bytes into JSON values or plain-text lines
// using a BTF type table to know, at every offset, which type of data is
// sitting there.
package dumper

import (
	"bytes"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/cilium/ebpf/btf"

	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
	"github.com/saworbit/eunomia-runtime/pkg/checker"
)

// ToJSON renders the bytes at data as the BTF type identified by typeID.
func ToJSON(c *btfcontainer.Container, typeID uint32, data []byte) (interface{}, error) {
	ty, err := c.TypeByID(typeID)
	if err != nil {
		return nil, fmt.Errorf("invalid type id %d: %w", typeID, err)
	}

	switch t := ty.(type) {
	case *btf.Int:
		return dumpInt(t, data)
	case *btf.Pointer:
		return dumpPointer(data)
	case *btf.Array:
		return dumpArray(c, t, data)
	case *btf.Struct:
		return dumpComposite(c, "struct", t.Name, t.Members, data)
	case *btf.Union:
		return dumpComposite(c, "union", t.Name, t.Members, data)
	case *btf.Enum:
		return dumpEnum(t, data)
	case *btf.Float:
		return dumpFloat(t, data)
	case *btf.Typedef:
		return dumpTransparent(c, t.Type, data)
	case *btf.Volatile:
		return dumpTransparent(c, t.Type, data)
	case *btf.Const:
		return dumpTransparent(c, t.Type, data)
	case *btf.Restrict:
		return dumpTransparent(c, t.Type, data)
	case *btf.Void, btf.Void:
		return nil, fmt.Errorf("void type is not supported in dumping")
	default:
		return nil, fmt.Errorf("type %T (id %d) is not supported in dumping", ty, typeID)
	}
}

// ToJSONWithCheckedMembers renders a struct whose members have already been
// validated against BTF by the checker package, producing one JSON object
// keyed by member name.
func ToJSONWithCheckedMembers(c *btfcontainer.Container, members []checker.CheckedExportedMember, data []byte) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(members))
	for _, m := range members {
		off := m.BitOffset / 8
		if int(off)+m.Size > len(data) {
			return nil, fmt.Errorf("member %s: range [%d:%d] exceeds data length %d", m.Meta.Name, off, int(off)+m.Size, len(data))
		}
		v, err := ToJSON(c, m.TypeID, data[off:int(off)+m.Size])
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", m.Meta.Name, err)
		}
		result[m.Meta.Name] = v
	}
	return result, nil
}

func dumpTransparent(c *btfcontainer.Container, inner btf.Type, data []byte) (interface{}, error) {
	id, err := c.IDOf(inner)
	if err != nil {
		return nil, err
	}
	return ToJSON(c, id, data)
}

func dumpInt(i *btf.Int, data []byte) (interface{}, error) {
	if i.Encoding == btf.Bool {
		if len(data) < 1 {
			return nil, fmt.Errorf("bool data is empty")
		}
		return data[0] != 0, nil
	}

	bits := int(i.Size) * 8
	if len(data) < int(i.Size) {
		return nil, fmt.Errorf("bits are too short, expected %d bits, but %d bits received", bits, len(data)*8)
	}

	var result uint64
	for n := 0; n < int(i.Size) && n < 8; n++ {
		result |= uint64(data[n]) << (8 * n)
	}
	signed := i.Encoding&btf.Signed != 0

	switch bits {
	case 8:
		if signed {
			return int8(result), nil
		}
		return uint8(result), nil
	case 16:
		if signed {
			return int16(result), nil
		}
		return uint16(result), nil
	case 32:
		if signed {
			return int32(result), nil
		}
		return uint32(result), nil
	case 64:
		if signed {
			return int64(result), nil
		}
		return result, nil
	case 128:
		// Both 64-bit halves are rendered as one hex string, high half
		// first, for signed and unsigned values alike; Go has no native
		// 128-bit integer and this path is untested past the 64-bit boundary.
		lo := result
		var hi uint64
		for n := 8; n < 16; n++ {
			hi |= uint64(data[n]) << (8 * (n - 8))
		}
		if signed {
			return fmt.Sprintf("0x%016x%016x", hi, lo), nil
		}
		return fmt.Sprintf("0x%016x%016x", hi, lo), nil
	default:
		return nil, fmt.Errorf("unsupported integer length: %d bits", bits)
	}
}

func dumpPointer(data []byte) (interface{}, error) {
	if len(data) == 4 {
		return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24, nil
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("pointer data too short: %d bytes", len(data))
	}
	var v uint64
	for n := 0; n < 8; n++ {
		v |= uint64(data[n]) << (8 * n)
	}
	return v, nil
}

func dumpArray(c *btfcontainer.Container, arr *btf.Array, data []byte) (interface{}, error) {
	elemID, err := c.IDOf(arr.Type)
	if err != nil {
		return nil, err
	}
	isCStr, err := c.IsChar(elemID)
	if err != nil {
		return nil, err
	}
	if isCStr {
		end := bytes.IndexByte(data, 0)
		if end < 0 {
			end = len(data)
		}
		if !utf8.Valid(data[:end]) {
			return nil, fmt.Errorf("char array is not valid utf-8")
		}
		return string(data[:end]), nil
	}

	elemSize, err := c.SizeOf(elemID)
	if err != nil {
		return nil, err
	}
	result := make([]interface{}, 0, arr.Nelems)
	for i := uint32(0); i < arr.Nelems; i++ {
		start := int(i) * elemSize
		end := start + elemSize
		if end > len(data) {
			return nil, fmt.Errorf("array element %d out of range", i)
		}
		v, err := ToJSON(c, elemID, data[start:end])
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func dumpComposite(c *btfcontainer.Container, kind, name string, members []btf.Member, data []byte) (interface{}, error) {
	result := make(map[string]interface{}, len(members)+2)
	result["__EUNOMIA_TYPE"] = kind
	result["__EUNOMIA_TYPE_NAME"] = name

	for _, m := range members {
		bitOff := uint32(m.Offset)
		bitSz := uint32(m.BitfieldSize)
		if bitOff%8 != 0 {
			return nil, fmt.Errorf("unsupported bit offset %d in %s::%s (%s)", bitOff, name, m.Name, kind)
		}
		if bitSz%8 != 0 {
			return nil, fmt.Errorf("unsupported bit size %d in %s::%s (%s)", bitSz, name, m.Name, kind)
		}
		memberID, err := c.IDOf(m.Type)
		if err != nil {
			return nil, err
		}
		size, err := c.SizeOf(memberID)
		if err != nil {
			return nil, err
		}
		off := int(bitOff / 8)
		if off+size > len(data) {
			return nil, fmt.Errorf("member %s out of range", m.Name)
		}
		v, err := ToJSON(c, memberID, data[off:off+size])
		if err != nil {
			return nil, err
		}
		result[m.Name] = v
	}
	return result, nil
}

func dumpEnum(e *btf.Enum, data []byte) (interface{}, error) {
	var val int32
	switch e.Size {
	case 1:
		val = int32(int8(data[0]))
	case 2:
		val = int32(int16(uint16(data[0]) | uint16(data[1])<<8))
	case 4:
		val = int32(uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24)
	default:
		return nil, fmt.Errorf("unsupported enumeration size: %d", e.Size)
	}
	for _, v := range e.Values {
		if int32(v.Value) == val {
			return fmt.Sprintf("%s(%d)", v.Name, v.Value), nil
		}
	}
	return fmt.Sprintf("<UNKNOWN_VARIANT>(%d)", val), nil
}

func dumpFloat(f *btf.Float, data []byte) (interface{}, error) {
	switch f.Size {
	case 4:
		bits := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		return math.Float32frombits(bits), nil
	case 8:
		var bits uint64
		for n := 0; n < 8; n++ {
			bits |= uint64(data[n]) << (8 * n)
		}
		return math.Float64frombits(bits), nil
	default:
		return nil, fmt.Errorf("unsupported float size: %d", f.Size)
	}
}
