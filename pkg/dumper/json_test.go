package dumper

import (
	"testing"

	"github.com/cilium/ebpf/btf"

	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
)

func TestToJSONInt(t *testing.T) {
	u32 := &btf.Int{Name: "unsigned int", Size: 4}
	s8 := &btf.Int{Name: "signed char", Size: 1, Encoding: btf.Signed}
	boolTy := &btf.Int{Name: "_Bool", Size: 1, Encoding: btf.Bool}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, u32, s8, boolTy})

	v, err := ToJSON(c, 1, []byte{0x78, 0x56, 0x34, 0x12})
	if err != nil {
		t.Fatalf("ToJSON(u32): %v", err)
	}
	if v.(uint32) != 0x12345678 {
		t.Errorf("u32 = %v, want 0x12345678", v)
	}

	v, err = ToJSON(c, 2, []byte{0xFE})
	if err != nil {
		t.Fatalf("ToJSON(s8): %v", err)
	}
	if v.(int8) != -2 {
		t.Errorf("s8 = %v, want -2", v)
	}

	v, err = ToJSON(c, 3, []byte{1})
	if err != nil {
		t.Fatalf("ToJSON(bool): %v", err)
	}
	if v.(bool) != true {
		t.Errorf("bool = %v, want true", v)
	}
}

func TestToJSONCharArrayAsString(t *testing.T) {
	charTy := &btf.Int{Name: "char", Size: 1, Encoding: btf.Char}
	arr := &btf.Array{Type: charTy, Nelems: 8}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, charTy, arr})

	v, err := ToJSON(c, 2, []byte{'h', 'i', 0, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("ToJSON(char array): %v", err)
	}
	if v.(string) != "hi" {
		t.Errorf("char array = %q, want %q", v, "hi")
	}
}

func TestToJSONIntArrayOfNonChar(t *testing.T) {
	u32 := &btf.Int{Name: "unsigned int", Size: 4}
	arr := &btf.Array{Type: u32, Nelems: 2}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, u32, arr})

	v, err := ToJSON(c, 2, []byte{1, 0, 0, 0, 2, 0, 0, 0})
	if err != nil {
		t.Fatalf("ToJSON(array): %v", err)
	}
	arr2, ok := v.([]interface{})
	if !ok || len(arr2) != 2 {
		t.Fatalf("expected 2-element slice, got %#v", v)
	}
	if arr2[0].(uint32) != 1 || arr2[1].(uint32) != 2 {
		t.Errorf("array elements = %v, want [1 2]", arr2)
	}
}

func TestToJSONStruct(t *testing.T) {
	u32 := &btf.Int{Name: "unsigned int", Size: 4}
	st := &btf.Struct{
		Name: "event",
		Size: 4,
		Members: []btf.Member{
			{Name: "pid", Type: u32, Offset: 0},
		},
	}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, u32, st})

	v, err := ToJSON(c, 2, []byte{42, 0, 0, 0})
	if err != nil {
		t.Fatalf("ToJSON(struct): %v", err)
	}
	m := v.(map[string]interface{})
	if m["__EUNOMIA_TYPE"] != "struct" || m["__EUNOMIA_TYPE_NAME"] != "event" {
		t.Errorf("missing/incorrect reserved keys: %v", m)
	}
	if m["pid"].(uint32) != 42 {
		t.Errorf("pid = %v, want 42", m["pid"])
	}
}

func TestToJSONStructRejectsBitfield(t *testing.T) {
	u32 := &btf.Int{Name: "unsigned int", Size: 4}
	st := &btf.Struct{
		Name: "flags",
		Size: 4,
		Members: []btf.Member{
			{Name: "a", Type: u32, Offset: 0, BitfieldSize: 4},
		},
	}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, u32, st})
	if _, err := ToJSON(c, 2, []byte{1, 0, 0, 0}); err == nil {
		t.Fatal("expected error for bit-field member")
	}
}

func TestToJSONEnumKnownAndUnknownVariant(t *testing.T) {
	en := &btf.Enum{
		Name: "color",
		Size: 4,
		Values: []btf.EnumValue{
			{Name: "RED", Value: 0},
			{Name: "BLUE", Value: 1},
		},
	}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, en})

	v, err := ToJSON(c, 1, []byte{0, 0, 0, 0})
	if err != nil {
		t.Fatalf("ToJSON(enum): %v", err)
	}
	if v.(string) != "RED(0)" {
		t.Errorf("enum = %q, want RED(0)", v)
	}

	v, err = ToJSON(c, 1, []byte{99, 0, 0, 0})
	if err != nil {
		t.Fatalf("ToJSON(enum unknown): %v", err)
	}
	if v.(string) != "<UNKNOWN_VARIANT>(99)" {
		t.Errorf("enum = %q, want <UNKNOWN_VARIANT>(99)", v)
	}
}

func TestToJSONTypedefTransparentRecursion(t *testing.T) {
	u32 := &btf.Int{Name: "unsigned int", Size: 4}
	td := &btf.Typedef{Name: "pid_t", Type: u32}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, u32, td})

	v, err := ToJSON(c, 2, []byte{5, 0, 0, 0})
	if err != nil {
		t.Fatalf("ToJSON(typedef): %v", err)
	}
	if v.(uint32) != 5 {
		t.Errorf("typedef-wrapped value = %v, want 5", v)
	}
}
