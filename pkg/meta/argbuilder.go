package meta

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

const dummyVariablePrefix = "__eunomia_dummy"

const (
	defaultDescription = "A simple eBPF program"
	defaultVersion     = "0.1.0"
)

// BuildArgumentParser builds a cobra.Command whose flags mirror the
// .rodata/.bss section variables declared in the metadata. Bool variables
// become switch flags; everything else takes one string value. Variables
// whose name begins with __eunomia_dummy are compiler-emitted placeholders
// kept only to preserve BTF info and are skipped.
func (m *EunomiaObjectMeta) BuildArgumentParser() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     m.BpfSkel.ObjName,
		Version: defaultVersion,
		Short:   defaultDescription,
	}
	if m.BpfSkel.Doc != nil {
		if m.BpfSkel.Doc.Version != "" {
			cmd.Version = m.BpfSkel.Doc.Version
		}
		if m.BpfSkel.Doc.Brief != "" {
			cmd.Short = m.BpfSkel.Doc.Brief
		}
		if m.BpfSkel.Doc.Details != "" {
			cmd.Long = m.BpfSkel.Doc.Details
		}
	}

	cmd.Flags().Bool("verbose", false, "Whether to show libbpf debug information")

	for _, section := range m.BpfSkel.DataSections {
		for _, v := range section.Variables {
			if strings.HasPrefix(v.Name, dummyVariablePrefix) {
				continue
			}
			if err := addSectionVariableFlag(cmd, v); err != nil {
				return nil, fmt.Errorf("variable %q: %w", v.Name, err)
			}
		}
	}

	return cmd, nil
}

func addSectionVariableFlag(cmd *cobra.Command, v DataSectionVariableMeta) error {
	long := v.CmdArg.Long
	if long == "" {
		long = v.Name
	}

	help := v.CmdArg.Help
	if help == "" {
		help = v.Description
	}
	if help == "" {
		help = fmt.Sprintf("Set value of `%s` variable %s", v.Type, v.Name)
	}

	def, err := resolveDefault(v)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if v.Type == "bool" {
		defBool := false
		if def != "" {
			defBool, _ = strconv.ParseBool(def)
		}
		if v.CmdArg.Short != "" {
			flags.BoolP(long, rune(v.CmdArg.Short[0]), defBool, help)
		} else {
			flags.Bool(long, defBool, help)
		}
		return nil
	}

	if v.CmdArg.Short != "" {
		if len([]rune(v.CmdArg.Short)) != 1 {
			return fmt.Errorf("short name must be exactly one character, got %q", v.CmdArg.Short)
		}
		flags.StringP(long, rune(v.CmdArg.Short), def, help)
	} else {
		flags.String(long, def, help)
	}
	return nil
}

// resolveDefault mirrors the original's default resolution: an explicit
// cmdarg.default wins, falling back to the variable's declared value.
func resolveDefault(v DataSectionVariableMeta) (string, error) {
	raw := v.CmdArg.Default
	if len(raw) == 0 {
		raw = v.Value
	}
	if len(raw) == 0 {
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		return strconv.FormatBool(asBool), nil
	}
	var asNumber json.Number
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&asNumber); err == nil {
		return asNumber.String(), nil
	}
	return "", fmt.Errorf("default value must be a string, bool or number, got %s", raw)
}
