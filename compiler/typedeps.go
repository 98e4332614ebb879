package compiler

import "strings"

// CheckTypeDeps topologically sorts the package-level declarations of
// pkg into dependency-first order, the order codegen must emit them in.
// Cycles through owning types are reported as "ownership cycle"; other
// illegal cycles as "interdependent type". Cycles broken by a reference
// are legal: the referenced type is marked NF_CYCLIC and a NODE_FWDDECL
// is inserted so codegen can forward-declare it.
func (c *Compiler) CheckTypeDeps(pkg *Pkg) []*Node {
	td := &typedeps{
		c:     c,
		pkg:   pkg,
		state: make(map[*Type]int),
		fwd:   make(map[*Type]bool),
	}
	for _, def := range pkg.Defs() {
		td.visitDecl(def)
	}
	return td.order
}

const (
	tdUnvisited = iota
	tdVisiting
	tdDone
)

type typedeps struct {
	c     *Compiler
	pkg   *Pkg
	order []*Node
	state map[*Type]int
	stack []*Type // bottom types currently being visited, for cycle paths
	fwd   map[*Type]bool
}

func (td *typedeps) errf(loc Loc, format string, args ...any) {
	td.c.Diags.Errf(MakeOrigin(td.c.Locmap, loc), format, args...)
}

func (td *typedeps) helpf(loc Loc, format string, args ...any) {
	td.c.Diags.Helpf(MakeOrigin(td.c.Locmap, loc), format, args...)
}

func (td *typedeps) visitDecl(def *Node) {
	if def.Kind == STMT_TYPEDEF && def.Type != nil {
		if td.state[def.Type] == tdDone {
			return // already emitted as a dependency of an earlier decl
		}
		td.visitType(def.Type, 0, def.Loc, "")
		return
	}
	// functions and globals depend on their types but introduce no
	// type-level cycles themselves
	if def.Kind == EXPR_FUN {
		for _, p := range def.Params {
			td.visitType(p.Type, 0, p.Loc, "parameter "+string(p.Name))
		}
		td.visitType(def.Result, 0, def.Loc, "result")
	} else if def.Type != nil {
		td.visitType(def.Type, 0, def.Loc, string(def.Name))
	}
	td.order = append(td.order, def)
}

// bottomType unwraps optionals and owning pointers: ?*T => T.
func bottomType(t *Type) *Type {
	for t != nil && (t.Kind == TYPE_OPTIONAL || t.Kind == TYPE_PTR) && t.Elem != nil {
		t = t.Elem
	}
	return t
}

func (td *typedeps) visitType(t *Type, aliasnest int, loc Loc, origin string) bool {
	if t == nil {
		return true
	}
	bt := bottomType(t)
	if bt == nil {
		return true
	}

	switch bt.Kind {
	case TYPE_ARRAY, TYPE_STRUCT, TYPE_ALIAS, TYPE_TEMPLATE:
		// these may contain subtypes; inspect below
	case TYPE_REF, TYPE_MUTREF, TYPE_SLICE, TYPE_MUTSLICE:
		if aliasnest == 0 {
			// a reference breaks the dependency: a cycle through it is
			// legal but needs a forward declaration for codegen
			rt := bottomType(bt.Elem)
			if rt != nil {
				rt = rt.Unwrapped()
			}
			if rt != nil && td.state[rt] == tdVisiting && !td.fwd[rt] {
				td.fwd[rt] = true
				rt.Flags |= NF_CYCLIC
				td.order = append(td.order, &Node{Kind: NODE_FWDDECL, Loc: loc, Type: rt})
			}
			return true
		}
	default:
		// other types cannot cause cycles
		return true
	}

	switch td.state[bt] {
	case tdVisiting:
		return td.cycleError(bt, loc, origin)
	case tdDone:
		return true
	}

	td.state[bt] = tdVisiting
	td.stack = append(td.stack, bt)
	ok := true

	switch bt.Kind {
	case TYPE_ARRAY, TYPE_REF, TYPE_MUTREF, TYPE_SLICE, TYPE_MUTSLICE:
		ok = td.visitType(bt.Elem, aliasnest, bt.Loc, typeStr(bt))

	case TYPE_ALIAS:
		// special case: alias of array of (reference to) the alias
		// itself, e.g. "type A [&A]", would need unbounded
		// representation no matter how it is laid out
		if bt.Elem != nil && bt.Elem.Kind == TYPE_ARRAY {
			at := bt.Elem
			if at.Elem != nil && at.Elem.UnwrapPtr() == bt {
				td.stack = append(td.stack, at)
				td.cycleError(at, bt.Loc, "")
				td.helpf(bt.Loc, "type alias %q of array of %s", bt.Name, typeStr(at.Elem))
				td.stack = td.stack[:len(td.stack)-1]
				ok = false
				break
			}
		}
		ok = td.visitType(bt.Elem, aliasnest+1, bt.Loc, "type alias "+string(bt.Name))

	case TYPE_STRUCT:
		for _, f := range bt.Fields {
			if !td.visitType(f.Type, aliasnest, f.Loc,
				"field \""+string(f.Name)+"\" of "+typeStr(bt)) {
				ok = false
				break
			}
		}

	case TYPE_TEMPLATE:
		if bt.Recv != nil {
			ok = td.visitType(bt.Recv, aliasnest, bt.Loc, typeStr(bt))
		}
		for _, a := range bt.Args {
			if ok {
				ok = td.visitType(a, aliasnest, bt.Loc, typeStr(bt))
			}
		}
	}

	td.stack = td.stack[:len(td.stack)-1]
	td.state[bt] = tdDone

	if def := bt.Def; def != nil {
		td.order = append(td.order, def)
	}
	return ok
}

// cycleError reports a dependency cycle ending at bt, naming the path.
func (td *typedeps) cycleError(bt *Type, loc Loc, origin string) bool {
	// find the previous occurrence of bt in the visit stack
	start := 0
	for i, t := range td.stack {
		if t == bt {
			start = i
			break
		}
	}
	var path strings.Builder
	path.WriteString(" (")
	for _, t := range td.stack[start:] {
		path.WriteString(typeStr(t))
		path.WriteString(" -> ")
	}
	path.WriteString(typeStr(bt))
	path.WriteString(")")

	if !loc.IsKnown() {
		loc = bt.Loc
	}
	if TypeIsOwner(bt) {
		td.errf(loc, "ownership cycle: %s manages its own lifetime%s", typeStr(bt), path.String())
	} else {
		td.errf(loc, "interdependent type %s%s", typeStr(bt), path.String())
	}
	if origin != "" {
		td.helpf(loc, "%s", origin)
	} else if bt.Def != nil && bt.Def.Loc.IsKnown() {
		td.helpf(bt.Def.Loc, "type %s defined here", typeStr(bt))
	}
	return false
}
