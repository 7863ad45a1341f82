package checker

import (
	"testing"

	"github.com/cilium/ebpf/btf"

	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

// buildStructFixture builds:
//
//	1: unsigned int
//	2: char
//	3: struct event { pid unsigned int; comm char }
func buildStructFixture() *btfcontainer.Container {
	uintTy := &btf.Int{Name: "unsigned int", Size: 4}
	charTy := &btf.Int{Name: "char", Size: 1, Encoding: btf.Char}
	st := &btf.Struct{
		Name: "event",
		Size: 8,
		Members: []btf.Member{
			{Name: "pid", Type: uintTy, Offset: 0},
			{Name: "comm", Type: charTy, Offset: 32},
		},
	}
	return btfcontainer.NewFromTypes([]btf.Type{nil, uintTy, charTy, st})
}

func TestCheckExportTypesHappyPath(t *testing.T) {
	c := buildStructFixture()
	sm := meta.ExportedTypesStructMeta{
		TypeID: 3,
		Name:   "event",
		Members: []meta.ExportedTypesStructMemberMeta{
			{Name: "pid"},
			{Name: "comm"},
		},
	}

	members, err := CheckExportTypes(sm, c)
	if err != nil {
		t.Fatalf("CheckExportTypes: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	if members[0].TypeID != 1 || members[0].Size != 4 {
		t.Errorf("pid member = %+v, want type id 1 size 4", members[0])
	}
	if members[1].TypeID != 2 || members[1].Size != 1 {
		t.Errorf("comm member = %+v, want type id 2 size 1", members[1])
	}
}

func TestCheckExportTypesRejectsNameMismatch(t *testing.T) {
	c := buildStructFixture()
	sm := meta.ExportedTypesStructMeta{
		TypeID: 3,
		Name:   "not_event",
		Members: []meta.ExportedTypesStructMemberMeta{
			{Name: "pid"}, {Name: "comm"},
		},
	}
	if _, err := CheckExportTypes(sm, c); err == nil {
		t.Fatal("expected error for mismatched struct name")
	}
}

func TestCheckExportTypesRejectsMemberCountMismatch(t *testing.T) {
	c := buildStructFixture()
	sm := meta.ExportedTypesStructMeta{
		TypeID:  3,
		Name:    "event",
		Members: []meta.ExportedTypesStructMemberMeta{{Name: "pid"}},
	}
	if _, err := CheckExportTypes(sm, c); err == nil {
		t.Fatal("expected error for mismatched member count")
	}
}

func TestCheckExportTypesRejectsBitfield(t *testing.T) {
	uintTy := &btf.Int{Name: "unsigned int", Size: 4}
	st := &btf.Struct{
		Name: "flags",
		Size: 4,
		Members: []btf.Member{
			{Name: "a", Type: uintTy, Offset: 0, BitfieldSize: 4},
		},
	}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, uintTy, st})
	sm := meta.ExportedTypesStructMeta{
		TypeID:  2,
		Name:    "flags",
		Members: []meta.ExportedTypesStructMemberMeta{{Name: "a"}},
	}
	if _, err := CheckExportTypes(sm, c); err == nil {
		t.Fatal("expected error for bit-field member")
	}
}

func TestCheckExportTypesRejectsNonStruct(t *testing.T) {
	uintTy := &btf.Int{Name: "unsigned int", Size: 4}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, uintTy})
	sm := meta.ExportedTypesStructMeta{TypeID: 1, Name: "unsigned int"}
	if _, err := CheckExportTypes(sm, c); err == nil {
		t.Fatal("expected error for non-struct type id")
	}
}

func TestCheckSampleTypesFallsBackOnNameMismatch(t *testing.T) {
	c := buildStructFixture()
	sm := &meta.ExportedTypesStructMeta{
		Name: "wrong_name",
		Members: []meta.ExportedTypesStructMemberMeta{
			{Name: "user_pid"}, {Name: "user_comm"},
		},
	}

	members, err := CheckSampleTypes(c, 3, sm)
	if err != nil {
		t.Fatalf("CheckSampleTypes: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	// Name mismatch discards user metadata entirely, so names fall back to BTF.
	if members[0].Meta.Name != "pid" {
		t.Errorf("member 0 name = %q, want BTF-derived %q", members[0].Meta.Name, "pid")
	}
}

func TestCheckSampleTypesHonorsMatchingMeta(t *testing.T) {
	c := buildStructFixture()
	sm := &meta.ExportedTypesStructMeta{
		Name: "event",
		Members: []meta.ExportedTypesStructMemberMeta{
			{Name: "pid", Description: "process id"},
			{Name: "comm", Description: "command name"},
		},
	}

	members, err := CheckSampleTypes(c, 3, sm)
	if err != nil {
		t.Fatalf("CheckSampleTypes: %v", err)
	}
	if members[0].Meta.Description != "process id" {
		t.Errorf("expected user-supplied description to survive when names match")
	}
}

func TestCheckSampleTypesNonStructSingleMember(t *testing.T) {
	uintTy := &btf.Int{Name: "unsigned int", Size: 4}
	c := btfcontainer.NewFromTypes([]btf.Type{nil, uintTy})

	members, err := CheckSampleTypes(c, 1, nil)
	if err != nil {
		t.Fatalf("CheckSampleTypes: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("got %d members, want 1", len(members))
	}
	if members[0].Size != 4 {
		t.Errorf("size = %d, want 4", members[0].Size)
	}
}
