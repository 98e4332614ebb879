package compiler

import "testing"

func TestTypeIDPrimitivesSingleByte(t *testing.T) {
	ti := NewTypeIntern()
	prims := []*Type{
		TypeVoid, TypeBool, TypeI8, TypeI16, TypeI32, TypeI64, TypeInt,
		TypeU8, TypeU16, TypeU32, TypeU64, TypeUint, TypeF32, TypeF64,
	}
	seen := map[TypeID]bool{}
	for _, p := range prims {
		id := ti.ID(p)
		if len(id) != 1 {
			t.Errorf("typeid(%s) = %q, want a single byte", typeStr(p), id)
		}
		if seen[id] {
			t.Errorf("typeid %q assigned twice", id)
		}
		seen[id] = true
	}
}

func TestTypeIDStructuralEquivalence(t *testing.T) {
	ti := NewTypeIntern()
	ptrInt1 := &Type{Kind: TYPE_PTR, Elem: TypeInt}
	ptrInt2 := &Type{Kind: TYPE_PTR, Elem: TypeInt}
	ptrBool := &Type{Kind: TYPE_PTR, Elem: TypeBool}
	if ti.ID(ptrInt1) != ti.ID(ptrInt2) {
		t.Error("structurally equal pointer types got different ids")
	}
	if ti.ID(ptrInt1) == ti.ID(ptrBool) {
		t.Error("structurally different pointer types share an id")
	}

	field := func(ft *Type) *Node { return &Node{Kind: EXPR_FIELD, Type: ft} }
	st1 := &Type{Kind: TYPE_STRUCT, Fields: []*Node{field(TypeInt), field(TypeBool)}}
	st2 := &Type{Kind: TYPE_STRUCT, Fields: []*Node{field(TypeInt), field(TypeBool)}}
	st3 := &Type{Kind: TYPE_STRUCT, Fields: []*Node{field(TypeBool), field(TypeInt)}}
	if ti.ID(st1) != ti.ID(st2) {
		t.Error("equal struct types got different ids")
	}
	if ti.ID(st1) == ti.ID(st3) {
		t.Error("field order must matter for struct ids")
	}

	param := func(pt *Type) *Node { return &Node{Kind: EXPR_PARAM, Type: pt} }
	f1 := &Type{Kind: TYPE_FUN, Result: TypeInt, Params: []*Node{param(TypeBool)}}
	f2 := &Type{Kind: TYPE_FUN, Result: TypeInt, Params: []*Node{param(TypeBool)}}
	f3 := &Type{Kind: TYPE_FUN, Result: TypeBool, Params: []*Node{param(TypeBool)}}
	if ti.ID(f1) != ti.ID(f2) {
		t.Error("equal function types got different ids")
	}
	if ti.ID(f1) == ti.ID(f3) {
		t.Error("result type must matter for function ids")
	}
}

func TestTypeIDRefMutability(t *testing.T) {
	ti := NewTypeIntern()
	ref := &Type{Kind: TYPE_REF, Elem: TypeInt}
	mutref := &Type{Kind: TYPE_MUTREF, Elem: TypeInt}
	if ti.ID(ref) == ti.ID(mutref) {
		t.Error("&T and mut&T must have distinct ids")
	}
	slice := &Type{Kind: TYPE_SLICE, Elem: TypeInt}
	mutslice := &Type{Kind: TYPE_MUTSLICE, Elem: TypeInt}
	if ti.ID(slice) == ti.ID(mutslice) {
		t.Error("&[T] and mut&[T] must have distinct ids")
	}
}

func TestTypeIDAliasDistinctFromElem(t *testing.T) {
	ti := NewTypeIntern()
	alias := &Type{Kind: TYPE_ALIAS, Name: "Celsius", Elem: TypeF64}
	if ti.ID(alias) == ti.ID(TypeF64) {
		t.Error("alias id must differ from its element (type-function dispatch)")
	}
	alias2 := &Type{Kind: TYPE_ALIAS, Name: "Celsius", Elem: TypeF64}
	if ti.ID(alias) != ti.ID(alias2) {
		t.Error("same-named alias of same element must share an id")
	}
}

func TestTypeIntern(t *testing.T) {
	ti := NewTypeIntern()
	a := &Type{Kind: TYPE_OPTIONAL, Elem: TypeInt}
	b := &Type{Kind: TYPE_OPTIONAL, Elem: TypeInt}
	ca := ti.Intern(a)
	cb := ti.Intern(b)
	if ca != cb {
		t.Error("interning equal structural types returned different canonical types")
	}
	if ca != a {
		t.Error("first intern must register the given type as canonical")
	}
}
