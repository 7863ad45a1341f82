package dumper

import (
	"fmt"
	"io"

	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
	"github.com/saworbit/eunomia-runtime/pkg/checker"
)

// ToPlainText renders the bytes at data as the BTF type identified by
// typeID into w, in a compact human-readable form (no field names).
func ToPlainText(c *btfcontainer.Container, typeID uint32, data []byte, w io.Writer) error {
	v, err := ToJSON(c, typeID, data)
	if err != nil {
		return err
	}
	return writePlainValue(v, w)
}

// ToPlainTextWithCheckedMembers renders a checked member list as
// space-separated values, in member order, one per column of the header
// row produced by PlainTextHeader.
func ToPlainTextWithCheckedMembers(c *btfcontainer.Container, members []checker.CheckedExportedMember, data []byte, w io.Writer) error {
	for i, m := range members {
		if i > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return err
			}
		}
		off := m.BitOffset / 8
		if int(off)+m.Size > len(data) {
			return fmt.Errorf("member %s: range exceeds data length", m.Meta.Name)
		}
		v, err := ToJSON(c, m.TypeID, data[off:int(off)+m.Size])
		if err != nil {
			return fmt.Errorf("member %s: %w", m.Meta.Name, err)
		}
		if err := writePlainValue(v, w); err != nil {
			return err
		}
	}
	return nil
}

// PlainTextHeader renders a column header line for the given checked
// members, using their declared names, and records each member's byte
// offset into the header line in that member's HeaderOffset field, updating
// the passed slice in place, so callers can align later rows.
func PlainTextHeader(members []checker.CheckedExportedMember, prefix string) string {
	out := prefix
	for i, m := range members {
		if i > 0 {
			out += " "
		}
		members[i].HeaderOffset = len(out)
		out += m.Meta.Name
	}
	return out
}

func writePlainValue(v interface{}, w io.Writer) error {
	switch val := v.(type) {
	case string:
		_, err := io.WriteString(w, val)
		return err
	case map[string]interface{}:
		_, err := fmt.Fprintf(w, "%v", val)
		return err
	default:
		_, err := fmt.Fprintf(w, "%v", val)
		return err
	}
}
