package task

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

const dummyVariablePrefix = "__eunomia_dummy"

// applyExtraArgs parses extraArgs against the command-line surface declared
// by m, then writes each resolved value back into the matching data-section
// variable's Value field, ready for sectionloader to paste into its map.
//
// A variable the parser has no registered default for, and that extraArgs
// doesn't supply, is filled with its type's zero value rather than left
// untouched — matching a parser whose flag lookup transparently returns a
// registered default as if it were user-supplied, so "the flag carries no
// value at all" and "the user explicitly typed it" are indistinguishable
// from here; only "no default was ever registered" is detectable, and that
// is the zero-fill trigger.
func applyExtraArgs(m *meta.EunomiaObjectMeta, extraArgs []string) error {
	cmd, err := m.BuildArgumentParser()
	if err != nil {
		return fmt.Errorf("build argument parser: %w", err)
	}
	if err := cmd.Flags().Parse(extraArgs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	flags := cmd.Flags()

	for si := range m.BpfSkel.DataSections {
		section := &m.BpfSkel.DataSections[si]
		for vi := range section.Variables {
			v := &section.Variables[vi]
			if strings.HasPrefix(v.Name, dummyVariablePrefix) {
				continue
			}
			long := v.CmdArg.Long
			if long == "" {
				long = v.Name
			}

			if v.Type == "bool" {
				b, err := flags.GetBool(long)
				if err != nil {
					return fmt.Errorf("variable %q: %w", v.Name, err)
				}
				raw, err := json.Marshal(b)
				if err != nil {
					return err
				}
				v.Value = raw
				continue
			}

			raw, err := flags.GetString(long)
			if err != nil {
				return fmt.Errorf("variable %q: %w", v.Name, err)
			}

			var value json.RawMessage
			if raw == "" {
				value, err = zeroFilledValue(v.Type)
			} else {
				value, err = parseTypedValue(v.Type, raw)
			}
			if err != nil {
				return fmt.Errorf("variable %q: %w", v.Name, err)
			}
			v.Value = value
		}
	}
	return nil
}

// parseTypedValue parses raw against the C type spelling typ, matching the
// type table a generated argument parser dispatches on. Integer widths are
// validated against the declared type's bit width. There is deliberately
// no "unsigned long" entry — only "unsigned long long" — carried over from
// the type table this was ported from rather than silently widened.
func parseTypedValue(typ, raw string) (json.RawMessage, error) {
	switch {
	case typ == "pid_t" || typ == "int":
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a valid int: %v", ErrUnsupportedValueType, raw, err)
		}
		return json.Marshal(int32(n))
	case typ == "short":
		n, err := strconv.ParseInt(raw, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a valid short: %v", ErrUnsupportedValueType, raw, err)
		}
		return json.Marshal(int16(n))
	case typ == "long" || typ == "long long":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a valid %s: %v", ErrUnsupportedValueType, raw, typ, err)
		}
		return json.Marshal(n)
	case typ == "unsigned int":
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a valid unsigned int: %v", ErrUnsupportedValueType, raw, err)
		}
		return json.Marshal(uint32(n))
	case typ == "unsigned short":
		n, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a valid unsigned short: %v", ErrUnsupportedValueType, raw, err)
		}
		return json.Marshal(uint16(n))
	case typ == "unsigned long long":
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a valid unsigned long long: %v", ErrUnsupportedValueType, raw, err)
		}
		return json.Marshal(n)
	case typ == "float":
		n, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a valid float: %v", ErrUnsupportedValueType, raw, err)
		}
		return json.Marshal(float32(n))
	case typ == "double":
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a valid double: %v", ErrUnsupportedValueType, raw, err)
		}
		return json.Marshal(n)
	case strings.HasPrefix(typ, "char["):
		return json.Marshal(raw)
	default:
		return nil, fmt.Errorf("%w: %q has no argument parser binding", ErrUnsupportedValueType, typ)
	}
}

// zeroFilledValue returns typ's type-appropriate zero value, for a variable
// whose flag carries no registered default.
func zeroFilledValue(typ string) (json.RawMessage, error) {
	switch {
	case typ == "bool":
		return json.Marshal(false)
	case typ == "pid_t" || typ == "int" || typ == "short" || typ == "long" || typ == "long long" ||
		typ == "unsigned int" || typ == "unsigned short" || typ == "unsigned long long":
		return json.RawMessage("0"), nil
	case typ == "float" || typ == "double":
		return json.RawMessage("0.0"), nil
	case strings.HasPrefix(typ, "char["):
		return json.Marshal("")
	default:
		return nil, fmt.Errorf("%w: %q has no zero value", ErrUnsupportedValueType, typ)
	}
}
