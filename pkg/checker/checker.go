// Package checker validates user-declared exported struct layouts against
// a program's BTF, producing CheckedExportedMember tables the dumper and
// exporter render events against.
package checker

import (
	"fmt"
	"log"

	"github.com/cilium/ebpf/btf"

	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

// CheckedExportedMember is one struct member (or, for a non-struct sample
// type, the whole type) that has been validated against BTF: its type id,
// bit offset, byte size and bit-field size are all BTF-derived, never
// trusted from user metadata.
type CheckedExportedMember struct {
	Meta         meta.ExportedTypesStructMemberMeta
	TypeID       uint32
	BitOffset    uint32
	Size         int
	BitSize      uint32
	HeaderOffset int
}

// CheckExportTypes is the strict checker: it fails if the BTF type at the
// declared id is not a struct, if the BTF name disagrees with the declared
// name, or if member counts differ. Bit-fields (nonzero bit_offset mod 8 or
// bit_size mod 8) are rejected.
func CheckExportTypes(structMeta meta.ExportedTypesStructMeta, c *btfcontainer.Container) ([]CheckedExportedMember, error) {
	ty, err := c.TypeByID(structMeta.TypeID)
	if err != nil {
		return nil, fmt.Errorf("type id %d is invalid: %w", structMeta.TypeID, err)
	}

	st, ok := ty.(*btf.Struct)
	if !ok {
		return nil, fmt.Errorf("type id %d is not a struct", structMeta.TypeID)
	}
	if st.Name != structMeta.Name {
		return nil, fmt.Errorf("type names don't match: %q from btf, %q from struct meta", st.Name, structMeta.Name)
	}
	if len(st.Members) != len(structMeta.Members) {
		return nil, fmt.Errorf("unmatched member count: %d from btf, %d from struct meta", len(st.Members), len(structMeta.Members))
	}

	result := make([]CheckedExportedMember, 0, len(st.Members))
	for i, btfMem := range st.Members {
		metaMem := structMeta.Members[i]
		if btfMem.Name != metaMem.Name {
			continue
		}

		typeID, err := c.IDOf(btfMem.Type)
		if err != nil {
			return nil, err
		}
		bitOff := uint32(btfMem.Offset)
		bitSz := uint32(btfMem.BitfieldSize)
		if bitOff%8 != 0 || bitSz%8 != 0 {
			return nil, fmt.Errorf("bitfield not supported: member %s, bit_offset=%d, bit_size=%d", btfMem.Name, bitOff, bitSz)
		}

		size, err := c.SizeOf(typeID)
		if err != nil {
			return nil, err
		}

		result = append(result, CheckedExportedMember{
			Meta:      metaMem,
			TypeID:    typeID,
			BitOffset: bitOff,
			Size:      size,
			BitSize:   bitSz,
		})
	}
	return result, nil
}

// CheckSampleTypes is the loose checker used for sample-map key/value
// types: it warns and discards the user-supplied struct metadata when the
// BTF name or member count disagrees instead of failing, then emits one
// checked member per BTF member, falling back to BTF-derived names and type
// spellings. A union is checked member by member in the same way as a
// struct; any other non-struct top-level type produces a single checked
// member covering the whole type.
//
// Open question (inherited unresolved from the source this was distilled
// from): whether this leniency should extend to the strict struct checker
// too. It does not here — only sample-map call sites get it.
func CheckSampleTypes(c *btfcontainer.Container, typeID uint32, members *meta.ExportedTypesStructMeta) ([]CheckedExportedMember, error) {
	ty, err := c.TypeByID(typeID)
	if err != nil {
		return nil, fmt.Errorf("invalid type id %d: %w", typeID, err)
	}

	name := btfName(ty)
	if members != nil && members.Name != name {
		log.Printf("[Checker] unmatched type name: %q from btf, %q from exported types struct meta", name, members.Name)
		members = nil
	}

	st, ok := ty.(*btf.Struct)
	if !ok {
		if un, ok := ty.(*btf.Union); ok {
			if members != nil && len(un.Members) != len(members.Members) {
				log.Printf("[Checker] members count mismatched: %d from btf, %d from exported types struct meta", len(un.Members), len(members.Members))
				members = nil
			}
			return checkSampleStructLike(c, un.Members, members)
		}
		var out []CheckedExportedMember
		if err := checkAndPushExportType(c, typeID, 0, 0, &out, nil); err != nil {
			return nil, err
		}
		return out, nil
	}

	if members != nil && len(st.Members) != len(members.Members) {
		log.Printf("[Checker] members count mismatched: %d from btf, %d from exported types struct meta", len(st.Members), len(members.Members))
		members = nil
	}
	return checkSampleStructLike(c, st.Members, members)
}

func checkSampleStructLike(c *btfcontainer.Container, btfMembers []btf.Member, members *meta.ExportedTypesStructMeta) ([]CheckedExportedMember, error) {
	var out []CheckedExportedMember
	for i, btfMem := range btfMembers {
		var metaMem *meta.ExportedTypesStructMemberMeta
		if members != nil {
			metaMem = &members.Members[i]
		} else {
			metaMem = &meta.ExportedTypesStructMemberMeta{Name: btfMem.Name, Type: typeSpelling(btfMem.Type)}
		}
		typeID, err := c.IDOf(btfMem.Type)
		if err != nil {
			return nil, err
		}
		bitOff := uint32(btfMem.Offset)
		bitSz := uint32(btfMem.BitfieldSize)
		if err := checkAndPushExportType(c, typeID, bitOff, bitSz, &out, metaMem); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func checkAndPushExportType(c *btfcontainer.Container, typeID, bitOff, bitSz uint32, out *[]CheckedExportedMember, memberMeta *meta.ExportedTypesStructMemberMeta) error {
	ty, err := c.TypeByID(typeID)
	if err != nil {
		return fmt.Errorf("invalid type id %d: %w", typeID, err)
	}
	size, err := c.SizeOf(typeID)
	if err != nil {
		return err
	}

	var mm meta.ExportedTypesStructMemberMeta
	if memberMeta != nil {
		mm = *memberMeta
	} else {
		mm = meta.ExportedTypesStructMemberMeta{Name: btfName(ty), Type: typeSpelling(ty)}
	}

	*out = append(*out, CheckedExportedMember{
		Meta:      mm,
		TypeID:    typeID,
		BitOffset: bitOff,
		Size:      size,
		BitSize:   bitSz,
	})
	return nil
}

func btfName(ty btf.Type) string {
	if n, ok := ty.(interface{ TypeName() string }); ok {
		return n.TypeName()
	}
	switch t := ty.(type) {
	case *btf.Struct:
		return t.Name
	case *btf.Union:
		return t.Name
	case *btf.Int:
		return t.Name
	case *btf.Enum:
		return t.Name
	case *btf.Typedef:
		return t.Name
	case *btf.Float:
		return t.Name
	default:
		return ""
	}
}

func typeSpelling(ty btf.Type) string {
	return fmt.Sprintf("%v", ty)
}
