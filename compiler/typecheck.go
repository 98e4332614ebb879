package compiler

import "strings"

// typecheck annotates every expression of a package with a concrete
// type, resolves names that the parser could not, registers package
// definitions and type functions, and validates the result. It is a
// pre-order traversal; each visited node gets NF_CHECKED.
type typecheck struct {
	c     *Compiler
	pkg   *Pkg
	unit  *Node
	fun   *Node // enclosing function, nil at top level
	scope Scope

	unitNS map[Sym]*Node // per-unit bindings introduced by imports

	// template instantiation memo, keyed by the name of the template
	// definition plus the typeids of the fully expanded argument list
	instances map[string]*Type
}

// CheckPkg typechecks all units of pkg.
func (c *Compiler) CheckPkg(pkg *Pkg, units []*Node) {
	tc := &typecheck{c: c, pkg: pkg, instances: make(map[string]*Type)}

	// pass 1: register package-level definitions of every unit so that
	// cross-unit and out-of-order references resolve
	for _, unit := range units {
		tc.collectDefs(unit)
	}

	// pass 2: register type functions so member lookups resolve
	// regardless of declaration order
	for _, unit := range units {
		tc.unit = unit
		tc.unitNS = tc.importBindings(unit)
		for _, decl := range unit.Nodes {
			tc.registerTypeFun(decl)
		}
	}

	// pass 3: check each unit
	for _, unit := range units {
		tc.unit = unit
		tc.unitNS = tc.importBindings(unit)
		tc.scope.Push()
		for _, decl := range unit.Nodes {
			tc.stmt(decl)
		}
		tc.scope.Pop()
	}

	// pass 4: upgrade visibility of everything reachable from public
	// definitions
	for _, def := range pkg.Defs() {
		if def.IsPub() {
			tc.markPubReachable(def)
		}
	}
}

func (tc *typecheck) errf(loc Loc, format string, args ...any) {
	tc.c.Diags.Errf(MakeOrigin(tc.c.Locmap, loc), format, args...)
}

func (tc *typecheck) helpf(loc Loc, format string, args ...any) {
	tc.c.Diags.Helpf(MakeOrigin(tc.c.Locmap, loc), format, args...)
}

// === definition collection ===

func (tc *typecheck) collectDefs(unit *Node) {
	for _, decl := range unit.Nodes {
		var name Sym
		switch decl.Kind {
		case EXPR_FUN:
			if len(decl.Params) > 0 && decl.Params[0].IsThis {
				continue // type functions live in the type-function table
			}
			name = decl.Name
		case STMT_TYPEDEF, EXPR_VAR, EXPR_LET:
			name = decl.Name
		default:
			continue
		}
		if name == "" || name == tc.c.Predef.Underscore {
			continue
		}
		if prev, ok := tc.pkg.DefineDef(name, decl); !ok {
			tc.errf(decl.Loc, "duplicate definition of %s", name)
			if prev.Loc.IsKnown() {
				tc.helpf(prev.Loc, "%s previously defined here", name)
			}
		}
	}
}

// registerTypeFun pre-registers a type-function declaration in the
// package's type-function table.
func (tc *typecheck) registerTypeFun(decl *Node) {
	if decl.Kind != EXPR_FUN || len(decl.Params) == 0 || !decl.Params[0].IsThis {
		return
	}
	this := decl.Params[0]
	this.Type = tc.resolveType(this.Type)
	decl.RecvT = this.Type
	if decl.RecvT == TypeUnknown || decl.Name == "" {
		return
	}
	tc.pkg.TFuns.Add(tc.c.Types, decl.RecvT, decl.Name, decl)
	if decl.Name == tc.c.Predef.Drop {
		decl.RecvT.Unwrapped().Flags |= NF_DROP
	}
}

// importBindings derives the names an import statement introduces in
// its unit: the package namespace (last path segment or alias) and any
// explicitly imported members.
func (tc *typecheck) importBindings(unit *Node) map[Sym]*Node {
	ns := make(map[Sym]*Node)
	for imp := unit.NextImport; imp != nil; imp = imp.NextImport {
		if imp.PkgRef == nil {
			continue // resolution failed; already reported
		}
		name := imp.Name
		if name == "" {
			path := string(imp.StrVal)
			if i := strings.LastIndexByte(path, '/'); i >= 0 {
				path = path[i+1:]
			}
			name = tc.c.Syms.Intern(path)
		}
		if len(imp.Nodes) == 0 || imp.Name != "" {
			ns[name] = imp
		}
		for _, id := range imp.Nodes {
			id.PkgRef = imp.PkgRef
			ns[id.Name] = id
		}
	}
	return ns
}

// markPubReachable upgrades visibility on nodes transitively reachable
// from a public definition, so codegen emits their declarations.
func (tc *typecheck) markPubReachable(n *Node) {
	if n == nil || n.Flags&NF_MARK1 != 0 {
		return
	}
	n.Flags |= NF_MARK1 | NF_VIS_PUB
	tc.markPubType(n.Type)
	if n.Kind == EXPR_FUN {
		for _, p := range n.Params {
			tc.markPubType(p.Type)
		}
		tc.markPubType(n.Result)
	}
}

func (tc *typecheck) markPubType(t *Type) {
	if t == nil || t.Flags&NF_MARK1 != 0 || t.Kind.IsPrimType() {
		return
	}
	t.Flags |= NF_MARK1 | NF_VIS_PUB
	if t.Def != nil {
		tc.markPubReachable(t.Def)
	}
	tc.markPubType(t.Elem)
	tc.markPubType(t.Result)
	for _, f := range t.Fields {
		tc.markPubType(f.Type)
	}
	for _, p := range t.Params {
		tc.markPubType(p.Type)
	}
}

// === type resolution ===

// resolveType replaces TYPE_UNRESOLVED placeholders and instantiates
// templates, returning a concrete type.
func (tc *typecheck) resolveType(t *Type) *Type {
	if t == nil {
		return TypeVoid
	}
	switch t.Kind {
	case TYPE_UNRESOLVED:
		if def := tc.lookupTypeDef(t.Name); def != nil {
			return def
		}
		tc.errf(t.Loc, "unknown type %s", t.Name)
		return TypeUnknown

	case TYPE_PTR, TYPE_REF, TYPE_MUTREF, TYPE_OPTIONAL,
		TYPE_ARRAY, TYPE_SLICE, TYPE_MUTSLICE:
		t.Elem = tc.resolveType(t.Elem)
		tc.computeSize(t)
		return t

	case TYPE_FUN:
		for _, p := range t.Params {
			p.Type = tc.resolveType(p.Type)
		}
		t.Result = tc.resolveType(t.Result)
		return t

	case TYPE_TEMPLATE:
		if t.Flags&NF_TEMPLATEI != 0 {
			return tc.instantiate(t)
		}
		return t

	case TYPE_STRUCT:
		for _, f := range t.Fields {
			f.Type = tc.resolveType(f.Type)
		}
		tc.computeSize(t)
		return t

	case TYPE_ALIAS:
		// alias elements resolve when their typedef is checked
		return t
	}
	return t
}

// lookupTypeDef finds the type a name denotes: a local type definition,
// a package-level one, or an imported member.
func (tc *typecheck) lookupTypeDef(name Sym) *Type {
	if n := tc.scope.Lookup(name); n != nil && n.Kind == STMT_TYPEDEF {
		return tc.typedefType(n)
	}
	if n := tc.pkg.Def(name); n != nil && n.Kind == STMT_TYPEDEF {
		return tc.typedefType(n)
	}
	if tc.unitNS != nil {
		if b, ok := tc.unitNS[name]; ok && b.Kind == NODE_IMPORTID {
			orig := b.Name
			if len(b.StrVal) > 0 {
				orig = tc.c.Syms.InternBytes(b.StrVal)
			}
			if n := b.PkgRef.Def(orig); n != nil && n.Kind == STMT_TYPEDEF {
				if !n.IsPub() {
					tc.errf(b.Loc, "%s is not public in package %s", orig, b.PkgRef.Path)
				}
				return tc.typedefType(n)
			}
		}
	}
	return nil
}

// typedefType completes and returns the type introduced by def.
func (tc *typecheck) typedefType(def *Node) *Type {
	t := def.Type
	if t == nil {
		return TypeUnknown
	}
	if t.Flags&NF_CHECKED != 0 {
		return t
	}
	t.Flags |= NF_CHECKED
	if t.Flags&NF_TEMPLATE != 0 {
		// template definitions resolve at instantiation time, with
		// placeholders standing in for the parameters
		return t
	}
	switch t.Kind {
	case TYPE_STRUCT:
		for _, f := range t.Fields {
			f.Type = tc.resolveType(f.Type)
			if TypeIsOwner(f.Type) {
				t.Flags |= NF_SUBOWNERS
			}
		}
		tc.computeSize(t)
	case TYPE_ALIAS:
		t.Elem = tc.resolveType(t.Elem)
		tc.computeSize(t)
	}
	return t
}

const ptrSize = 8

func (tc *typecheck) computeSize(t *Type) {
	switch t.Kind {
	case TYPE_PTR, TYPE_REF, TYPE_MUTREF:
		t.Size, t.Align = ptrSize, ptrSize
	case TYPE_SLICE, TYPE_MUTSLICE:
		t.Size, t.Align = ptrSize*2, ptrSize
	case TYPE_OPTIONAL:
		if t.Elem != nil {
			// flag byte + padded payload
			t.Align = max(t.Elem.Align, 1)
			t.Size = t.Elem.Size + t.Align
		}
	case TYPE_ARRAY:
		if t.Elem != nil {
			t.Size, t.Align = ptrSize+t.Elem.Size, max(t.Elem.Align, 1)
		}
	case TYPE_ALIAS:
		if t.Elem != nil {
			t.Size, t.Align = t.Elem.Size, t.Elem.Align
		}
	case TYPE_STRUCT:
		var size, align uint32
		align = 1
		for _, f := range t.Fields {
			ft := f.Type
			if ft == nil {
				continue
			}
			fa := max(ft.Align, 1)
			size = (size + fa - 1) / fa * fa
			size += ft.Size
			align = max(align, fa)
		}
		t.Size = (size + align - 1) / align * align
		t.Align = align
	}
}

// instantiate expands a template instance, memoized by the name of
// the definition and the fully expanded argument list. Arguments are
// resolved first, so a nested instance like T<U<V>> keys T by the
// typeid of the instantiated U<V>.
func (tc *typecheck) instantiate(inst *Type) *Type {
	recv := tc.resolveType(inst.Recv)
	if recv.Flags&NF_TEMPLATE == 0 {
		tc.errf(inst.Loc, "%s is not a template", recv.Name)
		return TypeUnknown
	}
	args := make([]*Type, len(inst.Args))
	for i, a := range inst.Args {
		args[i] = tc.resolveType(a)
	}
	if len(args) != len(recv.TplParams) {
		tc.errf(inst.Loc, "wrong number of template arguments for %s: have %d, want %d",
			recv.Name, len(args), len(recv.TplParams))
		return TypeUnknown
	}

	var key strings.Builder
	key.WriteString(string(recv.Name))
	key.WriteByte('<')
	for _, a := range args {
		key.WriteString(string(tc.c.Types.ID(a)))
	}
	if t := tc.instances[key.String()]; t != nil {
		return t
	}

	subst := make(map[Sym]*Type, len(args))
	for i, p := range recv.TplParams {
		subst[p.Name] = args[i]
	}
	// struct-bodied templates substitute the struct itself; alias-bodied
	// ones substitute their element
	body := recv.Elem
	if recv.Kind == TYPE_STRUCT {
		body = recv
	}
	t := tc.substType(body, subst)
	if t == nil || t == recv {
		t = TypeUnknown
	}
	t.Flags &^= NF_TEMPLATE
	t.TplParams = nil
	t = tc.c.Types.Intern(t)
	t.Flags |= NF_TEMPLATEI
	tc.instances[key.String()] = t
	return t
}

// substType builds a copy of t with placeholder names replaced.
func (tc *typecheck) substType(t *Type, subst map[Sym]*Type) *Type {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case TYPE_UNRESOLVED, TYPE_PLACEHOLDER:
		if r, ok := subst[t.Name]; ok {
			return r
		}
		return tc.resolveType(t)
	case TYPE_PTR, TYPE_REF, TYPE_MUTREF, TYPE_OPTIONAL,
		TYPE_ARRAY, TYPE_SLICE, TYPE_MUTSLICE, TYPE_ALIAS:
		cp := *t
		cp.tid = ""
		cp.Elem = tc.substType(t.Elem, subst)
		tc.computeSize(&cp)
		return &cp
	case TYPE_STRUCT:
		cp := *t
		cp.tid = ""
		cp.Fields = make([]*Node, len(t.Fields))
		for i, f := range t.Fields {
			fc := *f
			fc.Type = tc.substType(f.Type, subst)
			cp.Fields[i] = &fc
			if TypeIsOwner(fc.Type) {
				cp.Flags |= NF_SUBOWNERS
			}
		}
		tc.computeSize(&cp)
		return &cp
	case TYPE_TEMPLATE:
		cp := *t
		cp.tid = ""
		cp.Args = make([]*Type, len(t.Args))
		for i, a := range t.Args {
			cp.Args[i] = tc.substType(a, subst)
		}
		return tc.instantiate(&cp)
	}
	return t
}

// === statements ===

func (tc *typecheck) stmt(n *Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case STMT_IMPORT:
		// handled by importBindings
	case STMT_TYPEDEF:
		tc.typedef(n)
	case EXPR_FUN:
		tc.funDef(n)
	case EXPR_VAR, EXPR_LET:
		tc.localDef(n)
	default:
		tc.expr(n, nil)
	}
}

func (tc *typecheck) typedef(n *Node) {
	if n.Flags&NF_CHECKED != 0 {
		return
	}
	n.Flags |= NF_CHECKED
	t := tc.typedefType(n)
	// a drop type-function makes the type an owner
	if tc.pkg.TFuns.Lookup(tc.c.Types, t, tc.c.Predef.Drop) != nil {
		t.Flags |= NF_DROP
	}
	tc.scope.Define(n.Name, n)
}

func (tc *typecheck) funDef(n *Node) {
	if n.Flags&NF_CHECKED != 0 {
		return
	}
	n.Flags |= NF_CHECKED

	tc.scope.Push()
	defer tc.scope.Pop()

	for _, p := range n.Params {
		p.Type = tc.resolveType(p.Type)
		if p.IsThis {
			n.RecvT = p.Type
		}
		p.Flags |= NF_CHECKED
		tc.scope.Define(p.Name, p)
	}
	n.Result = tc.resolveType(n.Result)
	n.Type = tc.funType(n)

	// register type functions under (typeid(recv), name)
	if n.RecvT != nil && n.Name != "" {
		prev := tc.pkg.TFuns.Add(tc.c.Types, n.RecvT, n.Name, n)
		if prev != n {
			tc.errf(n.Loc, "duplicate type function %s for type %s", n.Name, typeStr(n.RecvT))
			if prev.Loc.IsKnown() {
				tc.helpf(prev.Loc, "%s previously defined here", n.Name)
			}
		}
		if n.Name == tc.c.Predef.Drop {
			n.RecvT.Unwrapped().Flags |= NF_DROP
		}
	}

	if n.Body == nil {
		return
	}

	outer := tc.fun
	tc.fun = n
	if n.Result != TypeVoid {
		n.Body.Flags |= NF_RVALUE
	}
	tc.expr(n.Body, n.Result)
	if n.Result != TypeVoid && n.Body.Type != nil && n.Body.Flags&NF_EXIT == 0 {
		if !tc.c.Types.Compat(n.Result, n.Body.Type) {
			tc.errf(n.Body.Loc, "incompatible result type %s, want %s",
				typeStr(n.Body.Type), typeStr(n.Result))
			tc.helpf(n.Loc, "%s declared here with result type %s", n.Name, typeStr(n.Result))
		}
	}
	tc.fun = outer
}

// funType builds and interns the function type of n.
func (tc *typecheck) funType(n *Node) *Type {
	t := &Type{Kind: TYPE_FUN, Loc: n.Loc, Params: n.Params, Result: n.Result}
	return tc.c.Types.Intern(t)
}

func (tc *typecheck) localDef(n *Node) {
	if n.Flags&NF_CHECKED != 0 {
		return
	}
	n.Flags |= NF_CHECKED
	if n.Type != nil {
		n.Type = tc.resolveType(n.Type)
	}
	if n.X != nil {
		n.X.Flags |= NF_RVALUE
		tc.expr(n.X, n.Type)
		if n.Type == nil {
			n.Type = n.X.Type
		} else if !tc.c.Types.Compat(n.Type, n.X.Type) {
			tc.errf(n.X.Loc, "incompatible value of type %s for %s of type %s",
				typeStr(n.X.Type), n.Name, typeStr(n.Type))
		}
	}
	if n.Type == nil {
		tc.errf(n.Loc, "cannot infer type of %s", n.Name)
		n.Type = TypeUnknown
	}
	tc.scope.Define(n.Name, n)
}

// === expressions ===

// expr typechecks n with an optional expected ("contextual") type used
// for literal typing.
func (tc *typecheck) expr(n *Node, want *Type) {
	if n == nil {
		return
	}
	switch n.Kind {
	case EXPR_INTLIT:
		if n.Type == nil {
			if want != nil && want.Unwrapped().Kind.IsIntType() {
				n.Type = want
			} else {
				n.Type = TypeInt
			}
		}
	case EXPR_FLOATLIT:
		if want != nil {
			if u := want.Unwrapped(); u.Kind == TYPE_F32 || u.Kind == TYPE_F64 {
				n.Type = want
			}
		}
	case EXPR_BOOLLIT:
		// type pre-set by the parser
	case EXPR_STRLIT:
		if n.Type == nil {
			// &[u8] view of the literal bytes
			n.Type = tc.c.Types.Intern(&Type{Kind: TYPE_SLICE, Elem: TypeU8})
		}
	case EXPR_ARRAYLIT:
		tc.arrayLit(n, want)
	case EXPR_ID:
		tc.idExpr(n)
	case EXPR_MEMBER:
		tc.memberExpr(n)
	case EXPR_CALL:
		tc.callExpr(n)
	case EXPR_BLOCK:
		tc.blockExpr(n, want)
	case EXPR_IF:
		tc.ifExpr(n, want)
	case EXPR_FOR:
		tc.forExpr(n)
	case EXPR_RETURN:
		tc.returnExpr(n)
	case EXPR_BINOP:
		tc.binopExpr(n, want)
	case EXPR_ASSIGN:
		tc.assignExpr(n)
	case EXPR_PREFIXOP:
		tc.prefixExpr(n, want)
	case EXPR_POSTFIXOP:
		tc.expr(n.X, nil)
		n.Type = n.X.Type
	case EXPR_DEREF:
		tc.expr(n.X, nil)
		if n.X.Type != nil && n.X.Type.Elem != nil {
			n.Type = n.X.Type.Elem
		}
	case EXPR_SUBSCRIPT:
		tc.subscriptExpr(n)
	case EXPR_VAR, EXPR_LET:
		tc.localDef(n)
	case EXPR_FUN:
		tc.funDef(n)
	case STMT_TYPEDEF:
		tc.typedef(n)
	case NODE_BAD:
		n.Type = TypeUnknown
	}
	n.Flags |= NF_CHECKED
	if n.Type == nil && n.Kind.IsExpr() {
		n.Type = TypeVoid
	}
}

func (tc *typecheck) arrayLit(n *Node, want *Type) {
	var elem *Type
	if want != nil {
		if u := want.Unwrapped(); u.Kind == TYPE_ARRAY || u.Kind == TYPE_SLICE || u.Kind == TYPE_MUTSLICE {
			elem = u.Elem
		}
	}
	for _, v := range n.Nodes {
		v.Flags |= NF_RVALUE
		tc.expr(v, elem)
		if elem == nil {
			elem = v.Type
		} else if !tc.c.Types.Compat(elem, v.Type) {
			tc.errf(v.Loc, "mixed element types in array literal: %s and %s",
				typeStr(elem), typeStr(v.Type))
		}
	}
	if elem == nil {
		elem = TypeUnknown
	}
	n.Type = tc.c.Types.Intern(&Type{Kind: TYPE_ARRAY, Loc: n.Loc, Elem: elem})
}

func (tc *typecheck) idExpr(n *Node) {
	// re-resolve locals through the checker's scope: a binding may have
	// been narrowed (NF_NARROWED) since the parser bound this id
	if n.Ref == nil || n.Ref.Kind.IsLocal() {
		if local := tc.scope.Lookup(n.Name); local != nil {
			n.Ref = local
		} else if n.Ref != nil {
			// keep the parser's binding
		} else if def := tc.pkg.Def(n.Name); def != nil {
			n.Ref = def
		} else if tc.unitNS != nil {
			if b, ok := tc.unitNS[n.Name]; ok {
				n.Ref = b
			}
		}
	}
	if n.Ref == nil {
		tc.errf(n.Loc, "unknown identifier %s", n.Name)
		n.Type = TypeUnknown
		return
	}
	n.Flags &^= NF_UNKNOWN
	ref := n.Ref
	switch ref.Kind {
	case STMT_IMPORT:
		// a package namespace used as a value
		t := &Type{Kind: TYPE_NS, Flags: NF_PKGNS, NsPkg: ref.PkgRef}
		n.Type = t
	case NODE_IMPORTID:
		orig := ref.Name
		if len(ref.StrVal) > 0 {
			orig = tc.c.Syms.InternBytes(ref.StrVal)
		}
		def := ref.PkgRef.Def(orig)
		if def == nil {
			tc.errf(n.Loc, "package %s has no member %s", ref.PkgRef.Path, orig)
			n.Type = TypeUnknown
			return
		}
		if !def.IsPub() {
			tc.errf(n.Loc, "%s is not public in package %s", orig, ref.PkgRef.Path)
		}
		tc.stmtOf(def)
		n.Ref = def
		n.Type = def.Type
	case STMT_TYPEDEF:
		tc.typedef(ref)
		n.Type = ref.Type
	default:
		if ref.Type == nil && ref.Flags&NF_CHECKED == 0 {
			tc.stmtOf(ref)
		}
		n.Type = ref.Type
		ref.NUse++
	}
}

// stmtOf checks a referenced declaration on demand (out-of-order
// references between top-level declarations).
func (tc *typecheck) stmtOf(def *Node) {
	if def.Flags&NF_CHECKED != 0 {
		return
	}
	switch def.Kind {
	case EXPR_FUN:
		tc.funDef(def)
	case STMT_TYPEDEF:
		tc.typedef(def)
	case EXPR_VAR, EXPR_LET:
		tc.localDef(def)
	}
}

func (tc *typecheck) memberExpr(n *Node) {
	tc.expr(n.X, nil)
	recvt := n.X.Type
	if recvt == nil {
		n.Type = TypeUnknown
		return
	}

	// package namespace member
	if recvt.Kind == TYPE_NS && recvt.NsPkg != nil {
		def := recvt.NsPkg.Def(n.Name)
		if def == nil {
			tc.errf(n.Loc, "package %s has no member %s", recvt.NsPkg.Path, n.Name)
			n.Type = TypeUnknown
			return
		}
		if !def.IsPub() {
			tc.errf(n.Loc, "%s is not public in package %s", n.Name, recvt.NsPkg.Path)
		}
		tc.stmtOf(def)
		n.Ref = def
		n.Type = def.Type
		return
	}

	// struct field
	bt := recvt.Unwrapped()
	for bt.Kind == TYPE_REF || bt.Kind == TYPE_MUTREF || bt.Kind == TYPE_PTR {
		bt = bt.Elem.Unwrapped()
	}
	if bt.Kind == TYPE_STRUCT {
		for _, f := range bt.Fields {
			if f.Name == n.Name {
				n.Ref = f
				n.Type = f.Type
				return
			}
		}
	}

	// type function
	if fn := tc.pkg.TFuns.Lookup(tc.c.Types, recvt, n.Name); fn != nil {
		n.Ref = fn
		n.Type = fn.Type
		return
	}

	tc.errf(n.Loc, "%s has no field or function %s", typeStr(recvt), n.Name)
	n.Type = TypeUnknown
}

func (tc *typecheck) callExpr(n *Node) {
	tc.expr(n.X, nil)
	recvt := n.X.Type
	if recvt == nil || recvt.Kind != TYPE_FUN {
		if recvt != TypeUnknown {
			tc.errf(n.Loc, "cannot call %s value", typeStr(recvt))
		}
		n.Type = TypeUnknown
		for _, a := range n.Nodes {
			tc.expr(a, nil)
		}
		return
	}

	params := recvt.Params
	// a type function called through a member expression binds "this"
	// to the member receiver
	implicitThis := 0
	if n.X.Kind == EXPR_MEMBER && len(params) > 0 && params[0].IsThis {
		implicitThis = 1
	}
	want := len(params) - implicitThis
	if len(n.Nodes) != want {
		tc.errf(n.Loc, "wrong number of arguments: have %d, want %d", len(n.Nodes), want)
		if fn := tc.callTargetFun(n); fn != nil && fn.Loc.IsKnown() {
			tc.helpf(fn.Loc, "%s defined here", fn.Name)
		}
	}
	for i, arg := range n.Nodes {
		pi := i + implicitThis
		var pt *Type
		if arg.Kind == EXPR_PARAM && arg.Flags&NF_NAMEDPARAMS != 0 {
			// named argument: match by parameter name
			found := false
			for _, p := range params {
				if p.Name == arg.Name {
					pt = p.Type
					found = true
					break
				}
			}
			if !found {
				tc.errf(arg.Loc, "no parameter named %s", arg.Name)
				if fn := tc.callTargetFun(n); fn != nil && fn.Loc.IsKnown() {
					tc.helpf(fn.Loc, "%s defined here", fn.Name)
				}
			}
			arg.X.Flags |= NF_RVALUE
			tc.expr(arg.X, pt)
			arg.Type = arg.X.Type
			n.Flags |= NF_NAMEDPARAMS
			if found && !tc.c.Types.Compat(pt, arg.Type) {
				tc.errf(arg.Loc, "incompatible argument type %s for parameter %s of type %s",
					typeStr(arg.Type), arg.Name, typeStr(pt))
			}
			continue
		}
		if pi < len(params) {
			pt = params[pi].Type
		}
		arg.Flags |= NF_RVALUE
		tc.expr(arg, pt)
		if pt != nil && !tc.c.Types.Compat(pt, arg.Type) {
			tc.errf(arg.Loc, "incompatible argument type %s for parameter %s of type %s",
				typeStr(arg.Type), params[pi].Name, typeStr(pt))
			if fn := tc.callTargetFun(n); fn != nil && fn.Loc.IsKnown() {
				tc.helpf(fn.Loc, "%s defined here", fn.Name)
			}
		}
	}
	n.Type = recvt.Result
}

func (tc *typecheck) callTargetFun(n *Node) *Node {
	if n.X == nil || n.X.Ref == nil || n.X.Ref.Kind != EXPR_FUN {
		return nil
	}
	return n.X.Ref
}

func (tc *typecheck) blockExpr(n *Node, want *Type) {
	tc.scope.Push()
	defer tc.scope.Pop()
	last := len(n.Nodes) - 1
	for i, stmt := range n.Nodes {
		if i == last && n.Flags&NF_RVALUE != 0 {
			stmt.Flags |= NF_RVALUE
			tc.expr(stmt, want)
			n.Type = stmt.Type
		} else {
			tc.stmt(stmt)
		}
		if stmt.Flags&NF_EXIT != 0 {
			n.Flags |= NF_EXIT
			if i < last {
				tc.errf(n.Nodes[i+1].Loc, "unreachable code")
				break
			}
		}
	}
	if n.Type == nil {
		n.Type = TypeVoid
	}
}

func (tc *typecheck) ifExpr(n *Node, want *Type) {
	n.X.Flags |= NF_RVALUE
	tc.expr(n.X, TypeBool)
	condt := n.X.Type

	tc.scope.Push()
	// narrow an optional-typed binding inside the "then" branch
	if condt != nil && condt.Unwrapped().Kind == TYPE_OPTIONAL &&
		n.X.Kind == EXPR_ID && n.X.Ref != nil && n.X.Ref.Kind.IsLocal() {
		narrowed := *n.X.Ref
		narrowed.Type = condt.Unwrapped().Elem
		narrowed.Flags |= NF_NARROWED
		tc.scope.Define(n.X.Ref.Name, &narrowed)
	} else if condt != nil && condt.Unwrapped().Kind != TYPE_BOOL &&
		condt.Unwrapped().Kind != TYPE_OPTIONAL && condt != TypeUnknown {
		tc.errf(n.X.Loc, "%s is not a boolean or optional condition", typeStr(condt))
	}

	if n.Flags&NF_RVALUE != 0 {
		n.Body.Flags |= NF_RVALUE
	}
	tc.expr(n.Body, want)
	tc.scope.Stash()
	if n.Else != nil {
		if n.Flags&NF_RVALUE != 0 {
			n.Else.Flags |= NF_RVALUE
		}
		tc.expr(n.Else, want)
		if n.Flags&NF_RVALUE != 0 && !tc.c.Types.Compat(n.Body.Type, n.Else.Type) &&
			n.Body.Flags&NF_EXIT == 0 && n.Else.Flags&NF_EXIT == 0 {
			tc.errf(n.Loc, "incompatible branch types %s and %s",
				typeStr(n.Body.Type), typeStr(n.Else.Type))
		}
		if n.Body.Flags&NF_EXIT != 0 && n.Else.Flags&NF_EXIT != 0 {
			n.Flags |= NF_EXIT
		}
	}
	tc.scope.Unstash()
	tc.scope.Pop()

	if n.Flags&NF_RVALUE != 0 {
		n.Type = n.Body.Type
		if n.Body.Flags&NF_EXIT != 0 && n.Else != nil {
			n.Type = n.Else.Type
		}
	} else {
		n.Type = TypeVoid
	}
}

func (tc *typecheck) forExpr(n *Node) {
	tc.scope.Push()
	defer tc.scope.Pop()
	if n.Y != nil {
		tc.stmt(n.Y)
	}
	if n.X != nil {
		n.X.Flags |= NF_RVALUE
		tc.expr(n.X, TypeBool)
		if n.X.Type != nil && n.X.Type.Unwrapped().Kind != TYPE_BOOL && n.X.Type != TypeUnknown {
			tc.errf(n.X.Loc, "%s is not a boolean condition", typeStr(n.X.Type))
		}
	}
	if n.Z != nil {
		tc.stmt(n.Z)
	}
	tc.expr(n.Body, nil)
	n.Type = TypeVoid
}

func (tc *typecheck) returnExpr(n *Node) {
	var want *Type
	if tc.fun != nil {
		want = tc.fun.Result
	}
	if n.X != nil {
		n.X.Flags |= NF_RVALUE
		tc.expr(n.X, want)
		n.Type = n.X.Type
	} else {
		n.Type = TypeVoid
	}
	if tc.fun == nil {
		tc.errf(n.Loc, "return outside function")
		return
	}
	if want == TypeVoid && n.X != nil {
		tc.errf(n.Loc, "unexpected result value from function returning void")
	} else if want != TypeVoid && !tc.c.Types.Compat(want, n.Type) {
		tc.errf(n.Loc, "incompatible result type %s, want %s", typeStr(n.Type), typeStr(want))
		tc.helpf(tc.fun.Loc, "%s declared here with result type %s",
			tc.fun.Name, typeStr(want))
	}
}

func (tc *typecheck) binopExpr(n *Node, want *Type) {
	n.X.Flags |= NF_RVALUE
	n.Y.Flags |= NF_RVALUE
	switch n.Op {
	case TOKEN_EQ, TOKEN_NEQ, TOKEN_LT, TOKEN_GT, TOKEN_LEQ, TOKEN_GEQ:
		tc.expr(n.X, nil)
		tc.expr(n.Y, n.X.Type)
		if n.X.Type != nil && n.X.Kind == EXPR_INTLIT && n.Y.Type != nil {
			// literal on the left adopts the right side's type
			n.X.Type = nil
			tc.expr(n.X, n.Y.Type)
		}
		if !tc.c.Types.Compat(n.X.Type, n.Y.Type) && !tc.c.Types.Compat(n.Y.Type, n.X.Type) {
			tc.errf(n.Loc, "incompatible operand types %s and %s",
				typeStr(n.X.Type), typeStr(n.Y.Type))
		}
		n.Type = TypeBool
	case TOKEN_ANDAND, TOKEN_OROR:
		tc.expr(n.X, TypeBool)
		tc.expr(n.Y, TypeBool)
		for _, op := range []*Node{n.X, n.Y} {
			if op.Type != nil && op.Type.Unwrapped().Kind != TYPE_BOOL && op.Type != TypeUnknown {
				tc.errf(op.Loc, "%s is not a boolean operand", typeStr(op.Type))
			}
		}
		n.Type = TypeBool
	default:
		tc.expr(n.X, want)
		tc.expr(n.Y, n.X.Type)
		if !tc.c.Types.Compat(n.X.Type, n.Y.Type) {
			tc.errf(n.Loc, "incompatible operand types %s and %s",
				typeStr(n.X.Type), typeStr(n.Y.Type))
		}
		n.Type = n.X.Type
	}
}

func (tc *typecheck) assignExpr(n *Node) {
	tc.expr(n.X, nil)
	n.Y.Flags |= NF_RVALUE
	tc.expr(n.Y, n.X.Type)
	if n.X.Kind == EXPR_ID && n.X.Ref != nil {
		switch n.X.Ref.Kind {
		case EXPR_LET:
			tc.errf(n.Loc, "cannot assign to immutable binding %s", n.X.Name)
			tc.helpf(n.X.Ref.Loc, "%s defined here", n.X.Name)
		case EXPR_PARAM:
			if !n.X.Ref.IsMut {
				tc.errf(n.Loc, "cannot assign to parameter %s", n.X.Name)
			}
		}
	}
	if !tc.c.Types.Compat(n.X.Type, n.Y.Type) {
		tc.errf(n.Loc, "incompatible value of type %s assigned to %s",
			typeStr(n.Y.Type), typeStr(n.X.Type))
	}
	n.Type = n.X.Type
}

func (tc *typecheck) prefixExpr(n *Node, want *Type) {
	switch n.Op {
	case TOKEN_AMP:
		n.X.Flags |= NF_RVALUE
		tc.expr(n.X, nil)
		kind := TYPE_REF
		if n.IsMut {
			kind = TYPE_MUTREF
		}
		if n.X.Type != nil {
			n.Type = tc.c.Types.Intern(&Type{Kind: kind, Loc: n.Loc, Elem: n.X.Type})
			tc.computeSize(n.Type)
		}
	case TOKEN_STAR:
		n.X.Flags |= NF_RVALUE
		tc.expr(n.X, nil)
		if n.X.Type != nil {
			u := n.X.Type.Unwrapped()
			if u.Kind == TYPE_PTR || u.Kind == TYPE_REF || u.Kind == TYPE_MUTREF {
				n.Type = u.Elem
			} else if u != TypeUnknown {
				tc.errf(n.Loc, "cannot dereference %s", typeStr(n.X.Type))
			}
		}
	case TOKEN_NOT:
		n.X.Flags |= NF_RVALUE
		tc.expr(n.X, TypeBool)
		n.Type = TypeBool
	default:
		n.X.Flags |= NF_RVALUE
		tc.expr(n.X, want)
		n.Type = n.X.Type
	}
}

func (tc *typecheck) subscriptExpr(n *Node) {
	n.X.Flags |= NF_RVALUE
	n.Y.Flags |= NF_RVALUE
	tc.expr(n.X, nil)
	tc.expr(n.Y, TypeUint)
	if n.X.Type != nil {
		u := n.X.Type.Unwrapped()
		switch u.Kind {
		case TYPE_ARRAY, TYPE_SLICE, TYPE_MUTSLICE:
			n.Type = u.Elem
		default:
			if u != TypeUnknown {
				tc.errf(n.Loc, "cannot subscript %s", typeStr(n.X.Type))
			}
		}
	}
	if n.Y.Type != nil && !n.Y.Type.Unwrapped().Kind.IsIntType() && n.Y.Type != TypeUnknown {
		tc.errf(n.Y.Loc, "%s is not a valid index type", typeStr(n.Y.Type))
	}
}


// typeStr renders a type for diagnostics.
func typeStr(t *Type) string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TYPE_VOID:
		return "void"
	case TYPE_BOOL:
		return "bool"
	case TYPE_I8:
		return "i8"
	case TYPE_I16:
		return "i16"
	case TYPE_I32:
		return "i32"
	case TYPE_I64:
		return "i64"
	case TYPE_INT:
		return "int"
	case TYPE_U8:
		return "u8"
	case TYPE_U16:
		return "u16"
	case TYPE_U32:
		return "u32"
	case TYPE_U64:
		return "u64"
	case TYPE_UINT:
		return "uint"
	case TYPE_F32:
		return "f32"
	case TYPE_F64:
		return "f64"
	case TYPE_PTR:
		return "*" + typeStr(t.Elem)
	case TYPE_REF:
		return "&" + typeStr(t.Elem)
	case TYPE_MUTREF:
		return "mut&" + typeStr(t.Elem)
	case TYPE_SLICE:
		return "&[" + typeStr(t.Elem) + "]"
	case TYPE_MUTSLICE:
		return "mut&[" + typeStr(t.Elem) + "]"
	case TYPE_OPTIONAL:
		return "?" + typeStr(t.Elem)
	case TYPE_ARRAY:
		return "[" + typeStr(t.Elem) + "]"
	case TYPE_FUN:
		var sb strings.Builder
		sb.WriteString("fun(")
		for i, p := range t.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(typeStr(p.Type))
		}
		sb.WriteString(")")
		if t.Result != nil && t.Result != TypeVoid {
			sb.WriteString(" " + typeStr(t.Result))
		}
		return sb.String()
	case TYPE_STRUCT, TYPE_ALIAS, TYPE_UNRESOLVED, TYPE_PLACEHOLDER:
		if t.Name != "" {
			return string(t.Name)
		}
	case TYPE_NS:
		if t.NsPkg != nil {
			return "namespace " + t.NsPkg.Path
		}
		return "namespace"
	case TYPE_TEMPLATE:
		var sb strings.Builder
		if t.Recv != nil {
			sb.WriteString(typeStr(t.Recv))
		}
		sb.WriteString("<")
		for i, a := range t.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(typeStr(a))
		}
		sb.WriteString(">")
		return sb.String()
	}
	return t.Kind.String()
}
