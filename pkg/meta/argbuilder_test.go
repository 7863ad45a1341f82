package meta

import "testing"

func TestBuildArgumentParserFillsSectionVariables(t *testing.T) {
	m := &EunomiaObjectMeta{
		BpfSkel: BpfSkeletonMeta{
			ObjName: "myprog",
			DataSections: []DataSectionMeta{
				{
					Name: ".rodata",
					Variables: []DataSectionVariableMeta{
						{Name: "const_val_1", Type: "int", CmdArg: CmdArgMeta{Long: "cv1"}},
						{Name: "const_val_2", Type: "unsigned long long"},
						{Name: "__eunomia_dummy_1", Type: "char"},
						{Name: "verbose_flag", Type: "bool"},
					},
				},
			},
		},
	}

	cmd, err := m.BuildArgumentParser()
	if err != nil {
		t.Fatalf("BuildArgumentParser: %v", err)
	}

	if cmd.Flags().Lookup("cv1") == nil {
		t.Error("expected --cv1 flag for const_val_1 (long override)")
	}
	if cmd.Flags().Lookup("const_val_2") == nil {
		t.Error("expected --const_val_2 flag")
	}
	if cmd.Flags().Lookup("__eunomia_dummy_1") != nil {
		t.Error("dummy variable should not produce a flag")
	}
	f := cmd.Flags().Lookup("verbose_flag")
	if f == nil {
		t.Fatal("expected --verbose_flag flag")
	}
	if f.Value.Type() != "bool" {
		t.Errorf("bool variable should produce a bool flag, got %s", f.Value.Type())
	}

	if err := cmd.ParseFlags([]string{"--cv1", "2333", "--const_val_2", "12345678"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if got, _ := cmd.Flags().GetString("cv1"); got != "2333" {
		t.Errorf("cv1 = %q, want 2333", got)
	}
}

func TestBuildArgumentParserShortNameMustBeOneChar(t *testing.T) {
	m := &EunomiaObjectMeta{
		BpfSkel: BpfSkeletonMeta{
			ObjName: "myprog",
			DataSections: []DataSectionMeta{
				{
					Name: ".rodata",
					Variables: []DataSectionVariableMeta{
						{Name: "bad", Type: "int", CmdArg: CmdArgMeta{Short: "ab"}},
					},
				},
			},
		},
	}
	if _, err := m.BuildArgumentParser(); err == nil {
		t.Fatal("expected error for multi-character short flag")
	}
}
