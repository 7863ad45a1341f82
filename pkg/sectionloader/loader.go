// Package sectionloader patches the default byte image of a data section
// (typically .rodata or .bss) with user-supplied constant values before the
// section is loaded into its backing map.
package sectionloader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cilium/ebpf/btf"

	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

// pasteBytes copies data into buf at [offset, offset+size), failing if the
// range is out of bounds or data isn't exactly size bytes long.
func pasteBytes(buf []byte, offset, size uint32, data []byte) error {
	if uint64(offset)+uint64(size) > uint64(len(buf)) {
		return fmt.Errorf("invalid range in the original buffer: %d..%d", offset, uint64(offset)+uint64(size))
	}
	if uint32(len(data)) != size {
		return fmt.Errorf("expected a slice with length %d", size)
	}
	copy(buf[offset:uint64(offset)+uint64(size)], data)
	return nil
}

// LoadSectionData patches buffer (the default bytes of the ELF data
// section named section.Name) with any user-supplied values found in
// section.Variables, using the section's BTF datasec/var entries to know
// each variable's offset, size and real type. Variables without a
// user-supplied value keep the ELF's own default bytes untouched.
func LoadSectionData(c *btfcontainer.Container, section meta.DataSectionMeta, buffer []byte) error {
	varByName := make(map[string]meta.DataSectionVariableMeta, len(section.Variables))
	for _, v := range section.Variables {
		varByName[v.Name] = v
	}

	var datasec *btf.Datasec
	for id := uint32(1); id < uint32(c.NumTypes()); id++ {
		ty, err := c.TypeByID(id)
		if err != nil {
			continue
		}
		if ds, ok := ty.(*btf.Datasec); ok && ds.Name == section.Name {
			datasec = ds
			break
		}
	}
	if datasec == nil {
		return fmt.Errorf("cannot find a type named %q in the provided btf info", section.Name)
	}

	for _, secVar := range datasec.Vars {
		varDecl, ok := secVar.Type.(*btf.Var)
		if !ok {
			return fmt.Errorf("expected datasec member to be BTF_KIND_VAR, got %T", secVar.Type)
		}

		userVar, has := varByName[varDecl.Name]
		if !has || len(userVar.Value) == 0 {
			continue
		}

		declTypeID, err := c.IDOf(varDecl.Type)
		if err != nil {
			return err
		}
		realID, err := c.ResolveRealType(declTypeID)
		if err != nil {
			return err
		}
		realType, err := c.TypeByID(realID)
		if err != nil {
			return err
		}

		if err := pasteVariable(c, buffer, secVar.Offset, secVar.Size, declTypeID, realType, userVar.Value); err != nil {
			return fmt.Errorf("variable %s: %w", varDecl.Name, err)
		}
	}
	return nil
}

func pasteVariable(c *btfcontainer.Container, buffer []byte, offset, size, declTypeID uint32, realType btf.Type, raw json.RawMessage) error {
	isCharArray, err := c.IsCharArray(declTypeID)
	if err != nil {
		return err
	}
	if isCharArray {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return pasteString(buffer, offset, size, s)
		}
	}

	switch rt := realType.(type) {
	case *btf.Int:
		if rt.Encoding == btf.Bool {
			var b bool
			if err := json.Unmarshal(raw, &b); err == nil {
				v := []byte{0}
				if b {
					v[0] = 1
				}
				return pasteBytes(buffer, offset, size, v)
			}
		}
		var i int64
		if err := json.Unmarshal(raw, &i); err == nil {
			return pasteSignedInt(buffer, offset, size, i)
		}
		var u uint64
		if err := json.Unmarshal(raw, &u); err == nil {
			return pasteUnsignedInt(buffer, offset, size, u)
		}
		return fmt.Errorf("unsupported (value, type) pair for integer variable: %s", raw)
	case *btf.Float:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("expected a float: %w", err)
		}
		return pasteFloat(buffer, offset, size, rt.Size, f)
	default:
		return fmt.Errorf("unsupported (value, type) pair: %s %T", raw, realType)
	}
}

// Integer constants are pasted little-endian, matching the target's
// native byte order. Overflow against the declared width is rejected.
func pasteSignedInt(buffer []byte, offset, size uint32, v int64) error {
	buf := make([]byte, size)
	switch size {
	case 1:
		if v < math.MinInt8 || v > math.MaxInt8 {
			return fmt.Errorf("overflow: %d out of range for int8", v)
		}
		buf[0] = byte(int8(v))
	case 2:
		if v < math.MinInt16 || v > math.MaxInt16 {
			return fmt.Errorf("overflow: %d out of range for int16", v)
		}
		binary.LittleEndian.PutUint16(buf, uint16(int16(v)))
	case 4:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return fmt.Errorf("overflow: %d out of range for int32", v)
		}
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(v))
	default:
		return fmt.Errorf("unsupported integer bytes: %d", size)
	}
	return pasteBytes(buffer, offset, size, buf)
}

func pasteUnsignedInt(buffer []byte, offset, size uint32, v uint64) error {
	buf := make([]byte, size)
	switch size {
	case 1:
		if v > math.MaxUint8 {
			return fmt.Errorf("overflow: %d out of range for uint8", v)
		}
		buf[0] = byte(v)
	case 2:
		if v > math.MaxUint16 {
			return fmt.Errorf("overflow: %d out of range for uint16", v)
		}
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		if v > math.MaxUint32 {
			return fmt.Errorf("overflow: %d out of range for uint32", v)
		}
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	default:
		return fmt.Errorf("unsupported integer bytes: %d", size)
	}
	return pasteBytes(buffer, offset, size, buf)
}

// Float constants are pasted big-endian. This mirrors the source's own
// to_be_bytes call for floats, which is inconsistent with its
// little-endian integer path but is exactly what it does.
func pasteFloat(buffer []byte, offset, size, btfSize uint32, v float64) error {
	switch btfSize {
	case 4:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v)))
		return pasteBytes(buffer, offset, size, buf)
	case 8:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v))
		return pasteBytes(buffer, offset, size, buf)
	default:
		return fmt.Errorf("unsupported float size %d", btfSize)
	}
}

func pasteString(buffer []byte, offset, size uint32, s string) error {
	data := append([]byte(s), 0)
	if uint32(len(data)) > size {
		return fmt.Errorf("string is too long: received %d bytes, but only %d bytes is allowed", len(data), size)
	}
	if uint64(offset)+uint64(len(data)) > uint64(len(buffer)) {
		return fmt.Errorf("invalid slice")
	}
	copy(buffer[offset:uint64(offset)+uint64(len(data))], data)
	return nil
}
