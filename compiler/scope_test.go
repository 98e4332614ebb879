package compiler

import "testing"

func TestScopePushPop(t *testing.T) {
	var s Scope
	a := &Node{Kind: EXPR_VAR, Name: "a"}
	s.Push()
	s.Define("a", a)
	if s.Lookup("a") != a {
		t.Fatal("lookup after define failed")
	}
	s.Push()
	b := &Node{Kind: EXPR_VAR, Name: "a"}
	s.Define("a", b)
	if s.Lookup("a") != b {
		t.Fatal("inner binding must shadow outer")
	}
	s.Pop()
	if s.Lookup("a") != a {
		t.Fatal("pop did not restore outer binding")
	}
	s.Pop()
	if s.Lookup("a") != nil {
		t.Fatal("binding survived its frame")
	}
}

func TestScopeLookupLocal(t *testing.T) {
	var s Scope
	s.Push()
	a := &Node{Kind: EXPR_VAR, Name: "a"}
	s.Define("a", a)
	s.Push()
	if s.LookupLocal("a") != nil {
		t.Error("LookupLocal must not see outer frames")
	}
	if s.Lookup("a") != a {
		t.Error("Lookup must see outer frames")
	}
}

func TestScopeStash(t *testing.T) {
	var s Scope
	s.Push()
	a := &Node{Kind: EXPR_VAR, Name: "a"}
	s.Define("a", a)
	s.Push()
	n := &Node{Kind: EXPR_VAR, Name: "narrowed"}
	s.Define("narrowed", n)
	s.Stash()
	if s.Lookup("narrowed") != nil {
		t.Error("stashed binding still visible")
	}
	if s.Lookup("a") != a {
		t.Error("outer binding must stay visible while stashed")
	}
	s.Unstash()
	if s.Lookup("narrowed") != n {
		t.Error("unstash did not restore binding")
	}
}
