package sectionloader

import (
	"encoding/json"
	"testing"

	"github.com/cilium/ebpf/btf"

	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

func TestLoadSectionDataBoolsAndPidT(t *testing.T) {
	boolTy := &btf.Int{Name: "_Bool", Size: 1, Encoding: btf.Bool}
	i32Ty := &btf.Int{Name: "int", Size: 4, Encoding: btf.Signed}
	pidTTy := &btf.Typedef{Name: "pid_t", Type: i32Ty}

	boolVars := make([]*btf.Var, 5)
	names := []string{"b0", "b1", "b2", "b3", "b4"}
	for i := range boolVars {
		boolVars[i] = &btf.Var{Name: names[i], Type: boolTy}
	}
	pidVar := &btf.Var{Name: "targ", Type: pidTTy}

	secVars := make([]btf.VarSecinfo, 0, 6)
	for i, v := range boolVars {
		secVars = append(secVars, btf.VarSecinfo{Type: v, Offset: uint32(i), Size: 1})
	}
	secVars = append(secVars, btf.VarSecinfo{Type: pidVar, Offset: 8, Size: 4})

	datasec := &btf.Datasec{Name: ".rodata", Size: 12, Vars: secVars}

	types := []btf.Type{nil, boolTy, i32Ty, pidTTy}
	for _, v := range boolVars {
		types = append(types, v)
	}
	types = append(types, pidVar, datasec)
	c := btfcontainer.NewFromTypes(types)

	trueVal, _ := json.Marshal(true)
	pidVal, _ := json.Marshal(0x12345678)

	section := meta.DataSectionMeta{
		Name: ".rodata",
		Variables: []meta.DataSectionVariableMeta{
			{Name: "b0", Value: trueVal}, {Name: "b1", Value: trueVal},
			{Name: "b2", Value: trueVal}, {Name: "b3", Value: trueVal},
			{Name: "b4", Value: trueVal},
			{Name: "targ", Value: pidVal},
		},
	}

	buf := make([]byte, 12)
	if err := LoadSectionData(c, section, buf); err != nil {
		t.Fatalf("LoadSectionData: %v", err)
	}

	want := []byte{1, 1, 1, 1, 1, 0, 0, 0, 120, 86, 52, 18}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf = %v, want %v", buf, want)
		}
	}
}

func TestLoadSectionDataString(t *testing.T) {
	charTy := &btf.Int{Name: "char", Size: 1, Encoding: btf.Char}
	arrTy := &btf.Array{Type: charTy, Nelems: 8}
	strVar := &btf.Var{Name: "const_buf", Type: arrTy}
	datasec := &btf.Datasec{
		Name: ".rodata",
		Size: 8,
		Vars: []btf.VarSecinfo{{Type: strVar, Offset: 0, Size: 8}},
	}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, charTy, arrTy, strVar, datasec})

	val, _ := json.Marshal("123567")
	section := meta.DataSectionMeta{
		Name:      ".rodata",
		Variables: []meta.DataSectionVariableMeta{{Name: "const_buf", Value: val}},
	}

	buf := make([]byte, 8)
	if err := LoadSectionData(c, section, buf); err != nil {
		t.Fatalf("LoadSectionData: %v", err)
	}
	want := []byte{49, 50, 51, 53, 54, 55, 0, 0}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf = %v, want %v", buf, want)
		}
	}
}

func TestLoadSectionDataStringTooLong(t *testing.T) {
	charTy := &btf.Int{Name: "char", Size: 1, Encoding: btf.Char}
	arrTy := &btf.Array{Type: charTy, Nelems: 4}
	strVar := &btf.Var{Name: "const_buf", Type: arrTy}
	datasec := &btf.Datasec{
		Name: ".rodata",
		Size: 4,
		Vars: []btf.VarSecinfo{{Type: strVar, Offset: 0, Size: 4}},
	}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, charTy, arrTy, strVar, datasec})

	val, _ := json.Marshal("toolong")
	section := meta.DataSectionMeta{
		Name:      ".rodata",
		Variables: []meta.DataSectionVariableMeta{{Name: "const_buf", Value: val}},
	}
	buf := make([]byte, 4)
	if err := LoadSectionData(c, section, buf); err == nil {
		t.Fatal("expected error for too-long string")
	}
}

func TestLoadSectionDataFloat(t *testing.T) {
	f32Ty := &btf.Float{Name: "float", Size: 4}
	fVar := &btf.Var{Name: "const_f1", Type: f32Ty}
	datasec := &btf.Datasec{
		Name: ".rodata",
		Size: 4,
		Vars: []btf.VarSecinfo{{Type: fVar, Offset: 0, Size: 4}},
	}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, f32Ty, fVar, datasec})

	val, _ := json.Marshal(1.2345)
	section := meta.DataSectionMeta{
		Name:      ".rodata",
		Variables: []meta.DataSectionVariableMeta{{Name: "const_f1", Value: val}},
	}
	buf := make([]byte, 4)
	if err := LoadSectionData(c, section, buf); err != nil {
		t.Fatalf("LoadSectionData: %v", err)
	}
	want := []byte{63, 158, 4, 25}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf = %v, want %v", buf, want)
		}
	}
}
