package btfcontainer

import (
	"testing"

	"github.com/cilium/ebpf/btf"
)

// buildFixture constructs a small type table:
//
//	1: char
//	2: typedef "pid_t" -> 3
//	3: int (unsigned, 4 bytes)
//	4: array[16] of 1 (char[16])
//	5: const -> 1
func buildFixture() *Container {
	charTy := &btf.Int{Name: "char", Size: 1, Encoding: btf.Char}
	intTy := &btf.Int{Name: "unsigned int", Size: 4}
	typedefTy := &btf.Typedef{Name: "pid_t", Type: intTy}
	arrTy := &btf.Array{Type: charTy, Nelems: 16}
	constTy := &btf.Const{Type: charTy}

	return NewFromTypes([]btf.Type{nil, charTy, typedefTy, intTy, arrTy, constTy})
}

func TestResolveRealTypeUnwrapsTypedef(t *testing.T) {
	c := buildFixture()
	real, err := c.ResolveRealType(2)
	if err != nil {
		t.Fatalf("ResolveRealType: %v", err)
	}
	if real != 3 {
		t.Errorf("resolved id = %d, want 3 (the underlying int)", real)
	}
}

func TestIsCharDetectsCharEncoding(t *testing.T) {
	c := buildFixture()
	isChar, err := c.IsChar(1)
	if err != nil {
		t.Fatalf("IsChar: %v", err)
	}
	if !isChar {
		t.Error("expected type 1 to be detected as char")
	}

	isChar, err = c.IsChar(3)
	if err != nil {
		t.Fatalf("IsChar: %v", err)
	}
	if isChar {
		t.Error("expected type 3 (plain unsigned int) to not be char")
	}
}

func TestIsCharArrayDetectsCharArray(t *testing.T) {
	c := buildFixture()
	isArr, err := c.IsCharArray(4)
	if err != nil {
		t.Fatalf("IsCharArray: %v", err)
	}
	if !isArr {
		t.Error("expected type 4 (char[16]) to be detected as a char array")
	}
}

func TestResolveRealTypeUnwrapsConst(t *testing.T) {
	c := buildFixture()
	real, err := c.ResolveRealType(5)
	if err != nil {
		t.Fatalf("ResolveRealType: %v", err)
	}
	if real != 1 {
		t.Errorf("resolved id = %d, want 1", real)
	}
}

func TestTypeByIDRejectsOutOfRange(t *testing.T) {
	c := buildFixture()
	if _, err := c.TypeByID(0); err == nil {
		t.Error("expected error for id 0")
	}
	if _, err := c.TypeByID(999); err == nil {
		t.Error("expected error for out-of-range id")
	}
}
