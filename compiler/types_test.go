package compiler

import "testing"

func TestCompatReflexive(t *testing.T) {
	ti := NewTypeIntern()
	types := []*Type{
		TypeInt, TypeBool, TypeF64, TypeU8,
		{Kind: TYPE_PTR, Elem: TypeInt},
		{Kind: TYPE_REF, Elem: TypeInt},
		{Kind: TYPE_MUTREF, Elem: TypeInt},
		{Kind: TYPE_OPTIONAL, Elem: TypeBool},
		{Kind: TYPE_STRUCT, Name: "S", Fields: []*Node{{Kind: EXPR_FIELD, Type: TypeInt}}},
	}
	for _, tt := range types {
		if !ti.Compat(tt, tt) {
			t.Errorf("compat(%s, %s) = false, want true", typeStr(tt), typeStr(tt))
		}
	}
}

func TestCompatIntegersBySignedness(t *testing.T) {
	ti := NewTypeIntern()
	if ti.Compat(TypeI32, TypeU32) || ti.Compat(TypeU32, TypeI32) {
		t.Error("i32 and u32 must be incompatible")
	}
	if ti.Compat(TypeI32, TypeI64) {
		t.Error("i32 and i64 must be incompatible")
	}
	if !ti.Compat(TypeInt, TypeInt) {
		t.Error("int must be compatible with itself")
	}
}

func TestCompatReferenceTable(t *testing.T) {
	ti := NewTypeIntern()
	ref := &Type{Kind: TYPE_REF, Elem: TypeInt}
	mutref := &Type{Kind: TYPE_MUTREF, Elem: TypeInt}
	ptr := &Type{Kind: TYPE_PTR, Elem: TypeInt}

	tests := []struct {
		dst, src *Type
		want     bool
	}{
		{ref, ref, true},
		{ref, mutref, true},
		{ref, ptr, true},
		{mutref, ref, false}, // mut&T <= &T is never ok
		{mutref, mutref, true},
		{mutref, ptr, true},
		{ptr, ptr, true},
		{ptr, ref, true},
		{ptr, mutref, false},
	}
	for _, tt := range tests {
		if got := ti.Compat(tt.dst, tt.src); got != tt.want {
			t.Errorf("compat(%s, %s) = %v, want %v",
				typeStr(tt.dst), typeStr(tt.src), got, tt.want)
		}
	}
}

func TestCompatOptional(t *testing.T) {
	ti := NewTypeIntern()
	opt := &Type{Kind: TYPE_OPTIONAL, Elem: TypeInt}
	if !ti.Compat(opt, TypeInt) {
		t.Error("?T <= T must hold")
	}
	if !ti.Compat(opt, opt) {
		t.Error("?T <= ?T must hold")
	}
	if ti.Compat(TypeInt, opt) {
		t.Error("T <= ?T must not hold")
	}
}

func TestCompatAliasUnwrap(t *testing.T) {
	ti := NewTypeIntern()
	alias := &Type{Kind: TYPE_ALIAS, Name: "MyInt", Elem: TypeInt}
	if !ti.Compat(alias, TypeInt) || !ti.Compat(TypeInt, alias) {
		t.Error("aliases must be compatible with their element")
	}
}

func TestTypeIsOwner(t *testing.T) {
	ptr := &Type{Kind: TYPE_PTR, Elem: TypeInt}
	if !TypeIsOwner(ptr) {
		t.Error("*T must be an owner")
	}
	if TypeIsOwner(TypeInt) || TypeIsOwner(&Type{Kind: TYPE_REF, Elem: TypeInt}) {
		t.Error("int and &T must not be owners")
	}
	dropT := &Type{Kind: TYPE_STRUCT, Flags: NF_DROP}
	if !TypeIsOwner(dropT) {
		t.Error("a type with a drop function must be an owner")
	}
	sub := &Type{Kind: TYPE_STRUCT, Flags: NF_SUBOWNERS}
	if !TypeIsOwner(sub) {
		t.Error("a type containing owners must be an owner")
	}
	optPtr := &Type{Kind: TYPE_OPTIONAL, Elem: ptr}
	if !TypeIsOwner(optPtr) {
		t.Error("?*T must be an owner")
	}
	alias := &Type{Kind: TYPE_ALIAS, Name: "H", Elem: ptr}
	if !TypeIsOwner(alias) {
		t.Error("alias of owner must be an owner")
	}
	// alias chains are followed to a bounded depth
	deep := ptr
	for i := 0; i < 32; i++ {
		deep = &Type{Kind: TYPE_ALIAS, Name: "A", Elem: deep}
	}
	if TypeIsOwner(deep) {
		t.Error("over-deep alias chain must not be considered an owner")
	}
}

func TestTypeFunTab(t *testing.T) {
	ti := NewTypeIntern()
	vec := &Type{Kind: TYPE_STRUCT, Name: "Vec",
		Fields: []*Node{{Kind: EXPR_FIELD, Type: TypeInt}}}
	fn := &Node{Kind: EXPR_FUN, Name: "len"}
	var tf TypeFunTab
	if got := tf.Add(ti, vec, "len", fn); got != fn {
		t.Fatal("Add of new entry must return the given function")
	}
	other := &Node{Kind: EXPR_FUN, Name: "len"}
	if got := tf.Add(ti, vec, "len", other); got != fn {
		t.Error("Add of duplicate key must keep the existing function")
	}
	if tf.Lookup(ti, vec, "len") != fn {
		t.Error("direct lookup failed")
	}

	// &Vec, mut&Vec and *Vec unwrap to Vec
	for _, kind := range []NodeKind{TYPE_REF, TYPE_MUTREF, TYPE_PTR, TYPE_OPTIONAL} {
		wrapped := &Type{Kind: kind, Elem: vec}
		if tf.Lookup(ti, wrapped, "len") != fn {
			t.Errorf("lookup through %v failed", kind)
		}
	}

	// an alias walks one hop at a time to its element
	alias := &Type{Kind: TYPE_ALIAS, Name: "MyVec", Elem: vec}
	if tf.Lookup(ti, alias, "len") != fn {
		t.Error("lookup through alias failed")
	}
	// a function on the alias itself shadows the element's
	aliasFn := &Node{Kind: EXPR_FUN, Name: "len"}
	tf.Add(ti, alias, "len", aliasFn)
	if tf.Lookup(ti, alias, "len") != aliasFn {
		t.Error("alias-level function must win over element's")
	}
	if tf.Lookup(ti, vec, "len") != fn {
		t.Error("element-level function must be unaffected")
	}

	if tf.Lookup(ti, vec, "missing") != nil {
		t.Error("lookup of unknown name must return nil")
	}
}
