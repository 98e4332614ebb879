package compiler

import "fmt"

// irbuilder lowers checked AST functions into SSA form using on-the-fly
// construction with sealed blocks and pending phis (Braun et al.), and
// inserts MOVE and DROP operations implementing ownership semantics.
type irbuilder struct {
	c      *Compiler
	pkg    *Pkg
	unit   *IRUnit
	fileid uint32 // source file of the unit being analyzed

	f *IRFun
	b *IRBlock // current block; nil between end/start

	vars        map[Sym]*IRValue            // variables of the current block
	defvars     map[uint32]map[Sym]*IRValue // variables of ended blocks, by block id
	pendingphis map[uint32][]pendingPhi     // incomplete phis of unsealed blocks

	deadset  Bitset     // ids of values whose ownership has been transferred
	owners   []*IRValue // stack of live owning values
	bases    []int      // scope frames into owners
	condnest int        // >0 while lowering a conditional path

	funm     map[*Node]*IRFun
	funqueue []*Node
}

type pendingPhi struct {
	name Sym
	phi  *IRValue
}

// Analyze lowers all checked functions of unit into an IRUnit.
func (c *Compiler) Analyze(pkg *Pkg, unit *Node) *IRUnit {
	a := &irbuilder{
		c:      c,
		pkg:    pkg,
		unit:   &IRUnit{SrcFile: c.Locmap.SrcFile(unit.Loc.FileID())},
		fileid: unit.Loc.FileID(),
		funm:   make(map[*Node]*IRFun),
	}
	for _, decl := range unit.Nodes {
		if decl.Kind == EXPR_FUN && decl.Body != nil {
			a.fun(decl, nil)
		}
	}
	for len(a.funqueue) > 0 {
		n := a.funqueue[0]
		a.funqueue = a.funqueue[1:]
		a.fun(n, a.funm[n])
	}
	return a.unit
}

func (a *irbuilder) errf(loc Loc, format string, args ...any) {
	a.c.Diags.Errf(MakeOrigin(a.c.Locmap, loc), format, args...)
}

func (a *irbuilder) helpf(loc Loc, format string, args ...any) {
	a.c.Diags.Helpf(MakeOrigin(a.c.Locmap, loc), format, args...)
}

// === values & blocks ===

func (a *irbuilder) mkval(op Op, loc Loc, t *Type) *IRValue {
	a.f.vidgen++
	return &IRValue{ID: a.f.vidgen - 1, Op: op, Loc: loc, Type: t}
}

func (a *irbuilder) pushval(b *IRBlock, op Op, loc Loc, t *Type) *IRValue {
	v := a.mkval(op, loc, t)
	b.Values = append(b.Values, v)
	return v
}

func (a *irbuilder) insertval(b *IRBlock, i int, op Op, loc Loc, t *Type) *IRValue {
	v := a.mkval(op, loc, t)
	b.Values = append(b.Values, nil)
	copy(b.Values[i+1:], b.Values[i:])
	b.Values[i] = v
	return v
}

func pusharg(dst, arg *IRValue) {
	dst.Args = append(dst.Args, arg)
	arg.NUse++
}

func (a *irbuilder) mkblock(kind IRBlockKind, loc Loc) *IRBlock {
	a.f.bidgen++
	b := &IRBlock{ID: a.f.bidgen - 1, Kind: kind, Loc: loc}
	a.f.Blocks = append(a.f.Blocks, b)
	return b
}

// irvalBlock returns the block that currently holds v.
func (a *irbuilder) irvalBlock(v *IRValue) *IRBlock {
	for _, b := range a.f.Blocks {
		for _, bv := range b.Values {
			if bv == v {
				return b
			}
		}
	}
	return nil
}

func (a *irbuilder) setControl(b *IRBlock, v *IRValue) {
	if v != nil {
		v.NUse++
	}
	if b.Control != nil {
		b.Control.NUse--
	}
	b.Control = v
}

func comment(v *IRValue, s Sym) {
	if s != "" {
		v.Comment = string(s)
	}
}

func commentf(b *IRBlock, format string, args ...any) {
	b.Comment = fmt.Sprintf(format, args...)
}

// === variables (SSA construction) ===

func (a *irbuilder) varWrite(name Sym, v *IRValue) {
	a.vars[name] = v
}

func (a *irbuilder) varRead(name Sym, t *Type, loc Loc) *IRValue {
	if v, ok := a.vars[name]; ok {
		return v
	}
	return a.varReadRecursive(a.b, name, t, loc)
}

func (a *irbuilder) blockVars(b *IRBlock) map[Sym]*IRValue {
	vars := a.defvars[b.ID]
	if vars == nil {
		vars = make(map[Sym]*IRValue)
		a.defvars[b.ID] = vars
	}
	return vars
}

func (a *irbuilder) varWriteInBlock(b *IRBlock, name Sym, v *IRValue) {
	if b == a.b {
		a.vars[name] = v
		return
	}
	a.blockVars(b)[name] = v
}

func (a *irbuilder) varReadInBlock(b *IRBlock, name Sym, t *Type, loc Loc) *IRValue {
	if v, ok := a.blockVars(b)[name]; ok {
		return v
	}
	return a.varReadRecursive(b, name, t, loc)
}

func (a *irbuilder) addPendingPhi(b *IRBlock, phi *IRValue, name Sym) {
	phi.AuxPtr = b
	a.pendingphis[b.ID] = append(a.pendingphis[b.ID], pendingPhi{name, phi})
}

func (a *irbuilder) varReadRecursive(b *IRBlock, name Sym, t *Type, loc Loc) *IRValue {
	var v *IRValue
	switch {
	case !b.Sealed:
		// incomplete CFG: issue a phi now and complete it at seal time
		v = a.pushval(b, OP_PHI, loc, t)
		comment(v, name)
		a.addPendingPhi(b, v, name)
	case b.NPreds() == 1:
		// the common case of a single predecessor needs no phi
		v = a.varReadInBlock(b.Preds[0], name, t, loc)
	case b.NPreds() == 0:
		// outside of function
		v = a.pushval(b, OP_ZERO, loc, t)
		comment(v, name)
	default:
		v0 := a.varReadInBlock(b.Preds[0], name, t, loc)
		v1 := a.varReadInBlock(b.Preds[1], name, t, loc)
		if v0.ID == v1.ID {
			a.varWriteInBlock(b, name, v0)
			return v0
		}
		v = a.pushval(b, OP_PHI, loc, t)
		comment(v, name)
		a.varWriteInBlock(b, name, v)
		pusharg(v, v0)
		pusharg(v, v1)
		return v
	}
	a.varWriteInBlock(b, name, v)
	return v
}

// sealBlock marks that no further predecessors will be added to b and
// completes its pending phis.
func (a *irbuilder) sealBlock(b *IRBlock) {
	b.Sealed = true
	pending := a.pendingphis[b.ID]
	delete(a.pendingphis, b.ID)
	for _, pp := range pending {
		phi := pp.phi
		pb := phi.AuxPtr.(*IRBlock)
		for _, pred := range pb.Preds {
			if pred != nil {
				pusharg(phi, a.varReadInBlock(pred, pp.name, phi.Type, phi.Loc))
			}
		}
	}
}

func (a *irbuilder) startBlock(b *IRBlock) {
	a.b = b
}

// stashBlockVars moves the current block-local variables to long-term
// definition data.
func (a *irbuilder) stashBlockVars(b *IRBlock) {
	if len(a.vars) == 0 {
		return
	}
	dst := a.defvars[b.ID]
	if dst == nil {
		a.defvars[b.ID] = a.vars
		a.vars = make(map[Sym]*IRValue)
		return
	}
	for name, v := range a.vars {
		dst[name] = v
	}
	clear(a.vars)
}

// endBlock ends the current block, sealing it if needed.
func (a *irbuilder) endBlock() *IRBlock {
	b := a.b
	a.b = nil
	a.stashBlockVars(b)
	if !b.Sealed {
		a.sealBlock(b)
	}
	return b
}

// endBlockOpen ends the current block without sealing it; used for
// loop heads whose back edge is not known yet.
func (a *irbuilder) endBlockOpen() *IRBlock {
	b := a.b
	a.b = nil
	a.stashBlockVars(b)
	return b
}

func (a *irbuilder) discardBlock(b *IRBlock) {
	for i, bb := range a.f.Blocks {
		if bb == b {
			a.f.Blocks = append(a.f.Blocks[:i], a.f.Blocks[i+1:]...)
			return
		}
	}
}

// === constants ===

// intConst interns integer constants at the head of the entry block,
// sorted by value, so common constants share one value.
func (a *irbuilder) intConst(t *Type, value uint64, loc Loc) *IRValue {
	t = t.Unwrapped()
	b0 := a.f.Entry()
	i := 0
	for ; i < len(b0.Values); i++ {
		v := b0.Values[i]
		if v.Op != OP_ICONST || v.AuxInt > value {
			break
		}
		if v.AuxInt == value && v.Type == t {
			return v
		}
	}
	v := a.insertval(b0, i, OP_ICONST, loc, t)
	v.AuxInt = value
	return v
}

// floatConst interns float constants after the integer constants.
func (a *irbuilder) floatConst(t *Type, value float64, loc Loc) *IRValue {
	b0 := a.f.Entry()
	i := 0
	for ; i < len(b0.Values); i++ {
		v := b0.Values[i]
		if v.Op == OP_ICONST {
			continue
		}
		if v.Op != OP_FCONST || v.AuxFloat > value {
			break
		}
		if v.AuxFloat == value && v.Type == t {
			return v
		}
	}
	v := a.insertval(b0, i, OP_FCONST, loc, t)
	v.AuxFloat = value
	return v
}

// === ownership ===

func (a *irbuilder) createLivenessVar(v *IRValue) {
	name := a.c.Syms.Internf(".v%d_live", v.ID)
	v.Var.Live = name
	islive := !a.deadset.Has(v.ID)
	var init uint64
	if islive {
		init = 1
	}
	islivev := a.intConst(TypeBool, init, Loc(0))
	b := a.irvalBlock(v)
	a.varWriteInBlock(b, name, islivev)
}

func (a *irbuilder) writeLivenessVar(owner *IRValue, islive bool) {
	if owner.Var.Live == "" {
		a.createLivenessVar(owner)
	}
	var val uint64
	if islive {
		val = 1
	}
	a.varWriteInBlock(a.b, owner.Var.Live, a.intConst(TypeBool, val, Loc(0)))
}

func (a *irbuilder) ownersEnterScope() {
	a.bases = append(a.bases, len(a.owners))
}

func (a *irbuilder) ownersLeaveScope() {
	base := a.bases[len(a.bases)-1]
	a.bases = a.bases[:len(a.bases)-1]
	if base < len(a.owners) {
		a.owners = a.owners[:base]
	}
}

func (a *irbuilder) ownersAdd(v *IRValue) {
	a.owners = append(a.owners, v)
}

func (a *irbuilder) ownersIndexOf(v *IRValue) int {
	for i := len(a.owners) - 1; i >= 0; i-- {
		if a.owners[i] == v {
			return i
		}
	}
	return -1
}

func (a *irbuilder) curBase() int {
	if len(a.bases) == 0 {
		return 0
	}
	return a.bases[len(a.bases)-1]
}

// drop emits a DROP of v at the end of the current block. The pattern
// "v2 = MOVE v1; DROP v2" with no other use of v2 in the same block is
// collapsed into "DROP v1", moved to the end of the block to preserve
// drop order.
func (a *irbuilder) drop(v *IRValue, loc Loc) {
	if v.Op == OP_MOVE && v.NUse == 0 && a.irvalBlock(v) == a.b {
		v.Op = OP_DROP
		v.Type = TypeVoid
		v.Var.Src = v.Var.Dst
		// declaration order matters for drops; move the converted value
		// to the end of the block
		if n := len(a.b.Values); n > 0 && a.b.Values[n-1] != v {
			for i, bv := range a.b.Values {
				if bv == v {
					copy(a.b.Values[i:], a.b.Values[i+1:])
					a.b.Values[n-1] = v
					break
				}
			}
		}
		return
	}
	dropv := a.pushval(a.b, OP_DROP, loc, TypeVoid)
	pusharg(dropv, v)
	dropv.Var.Src = v.Var.Dst
	if v.Var.Dst != "" {
		comment(dropv, v.Var.Dst)
	}
}

// conditionalDrop generates "if vN_live { drop(vN) }" at the current
// point: the current block is split, a drop block is inserted on the
// true edge of the liveness condition, and both join in a continuation
// block inheriting the original exit.
func (a *irbuilder) conditionalDrop(control, owner *IRValue) {
	ifb := a.endBlock()

	deadb := a.mkblock(BLOCK_GOTO, Loc(0))
	contb := a.mkblock(BLOCK_GOTO, Loc(0))

	a.setControl(contb, ifb.Control)
	contb.Kind = ifb.Kind
	contb.Succs = ifb.Succs

	ifb.Kind = BLOCK_SWITCH
	a.setControl(ifb, control)

	ifb.Succs[0] = contb // not live -> cont
	ifb.Succs[1] = deadb // live -> drop
	deadb.Succs[0] = contb
	deadb.Preds[0] = ifb
	contb.Preds[0] = ifb
	contb.Preds[1] = deadb
	commentf(deadb, "b%d.then", ifb.ID)
	commentf(contb, "b%d.cont", ifb.ID)

	a.startBlock(deadb)
	a.sealBlock(deadb)
	a.drop(owner, Loc(0))
	a.endBlock()

	a.startBlock(contb)
	a.sealBlock(contb)
}

// ownersUnwindOne drops v if it still owns its value at scope exit,
// emitting a conditional drop when liveness depends on the path taken.
func (a *irbuilder) ownersUnwindOne(deadset Bitset, v *IRValue) {
	if !deadset.Has(v.ID) {
		a.drop(v, Loc(0))
		return
	}
	if v.Var.Live != "" {
		livenessVar := a.varRead(v.Var.Live, TypeBool, Loc(0))
		if livenessVar.Op == OP_PHI {
			// ownership is determined at runtime
			a.conditionalDrop(livenessVar, v)
			return
		}
	}
	// v definitely lost ownership
}

// ownersUnwindAll drops every live owner in every scope; used at
// "return".
func (a *irbuilder) ownersUnwindAll() {
	for i := len(a.owners) - 1; i >= 0; i-- {
		a.ownersUnwindOne(a.deadset, a.owners[i])
	}
	a.owners = a.owners[:a.curBase()]
}

// ownersUnwindScope drops owners of the current scope that are still
// live relative to the scope's entry deadset. A nil entryDeadset means
// "relative to the current deadset".
func (a *irbuilder) ownersUnwindScope(entryDeadset Bitset) {
	if len(a.owners) == 0 || a.b == nil {
		return
	}
	deadset := a.deadset
	if entryDeadset != nil {
		// xor computes what was killed inside the scope
		deadset = a.deadset.Xor(entryDeadset)
	}
	for i := len(a.owners) - 1; i >= a.curBase(); i-- {
		a.ownersUnwindOne(deadset, a.owners[i])
	}
}

// ownersFindLost reports whether any tracked owner lost ownership
// between the two deadsets.
func (a *irbuilder) ownersFindLost(entryDeadset, exitDeadset Bitset) bool {
	for i := len(a.owners) - 1; i >= 0; i-- {
		v := a.owners[i]
		if !entryDeadset.Has(v.ID) && exitDeadset.Has(v.ID) {
			return true
		}
	}
	return false
}

// ownersDropLost drops values which lost ownership since entryDeadset.
func (a *irbuilder) ownersDropLost(entryDeadset, exitDeadset Bitset, loc Loc) {
	base := a.curBase()
	for i := len(a.owners) - 1; i >= 0; i-- {
		v := a.owners[i]
		if entryDeadset.Has(v.ID) || !exitDeadset.Has(v.ID) {
			continue
		}
		a.drop(v, loc)
		if i >= base {
			// belongs to the current scope; simply forget the owner
			a.owners = append(a.owners[:i], a.owners[i+1:]...)
		} else {
			// belongs to a parent scope; record the loss
			a.writeLivenessVar(v, false)
		}
	}
}

// moveOwner transfers ownership away from oldOwner: to newOwner, or
// outside the function when newOwner is nil. replaceOwner, when set, is
// an existing owner superseded by newOwner (assignment).
func (a *irbuilder) moveOwner(oldOwner, newOwner, replaceOwner *IRValue) {
	if newOwner != nil {
		if replaceOwner != nil {
			if i := a.ownersIndexOf(replaceOwner); i >= 0 {
				a.owners[i] = newOwner
				a.deadset.Add(replaceOwner.ID)
			}
		} else {
			a.ownersAdd(newOwner)
		}
	}
	a.deadset.Add(oldOwner.ID)

	// on a conditional path, ownership must be tracked at runtime
	if a.condnest > 0 {
		a.writeLivenessVar(oldOwner, false)
		if newOwner != nil {
			a.writeLivenessVar(newOwner, true)
		}
	}
}

func (a *irbuilder) moveOwnerOutside(oldOwner *IRValue) {
	a.moveOwner(oldOwner, nil, nil)
}

func (a *irbuilder) move(rvalue *IRValue, loc Loc, replaceOwner *IRValue) *IRValue {
	if rvalue.Op == OP_PHI {
		// a phi joins two already-existing moves
		return rvalue
	}
	v := a.pushval(a.b, OP_MOVE, loc, rvalue.Type)
	pusharg(v, rvalue)
	a.moveOwner(rvalue, v, replaceOwner)
	return v
}

func (a *irbuilder) reference(rvalue *IRValue, loc Loc) *IRValue {
	op := OP_BORROW
	if rvalue.Type != nil && rvalue.Type.Kind == TYPE_MUTREF {
		op = OP_BORROW_MUT
	}
	v := a.pushval(a.b, op, loc, rvalue.Type)
	pusharg(v, rvalue)
	return v
}

func (a *irbuilder) moveOrCopy(rvalue *IRValue, loc Loc, replaceOwner *IRValue) *IRValue {
	v := rvalue
	if TypeIsOwner(rvalue.Type) {
		v = a.move(rvalue, loc, replaceOwner)
	} else if TypeIsRef(rvalue.Type) {
		v = a.reference(rvalue, loc)
	}
	v.Var.Src = rvalue.Var.Dst
	return v
}

// === expression lowering ===

func isRValue(n *Node) bool { return n.Flags&NF_RVALUE != 0 }

// findArgParent finds the MOVE (or other consuming value) whose
// argument list contains v; used for "moved here" notes.
func (a *irbuilder) findArgParent(v *IRValue) *IRValue {
	for _, b := range a.f.Blocks {
		for _, bv := range b.Values {
			for _, arg := range bv.Args {
				if arg == v && bv.Op == OP_MOVE {
					return bv
				}
			}
		}
	}
	return nil
}

func (a *irbuilder) loadLocal(origin, n *Node) *IRValue {
	v := a.varRead(n.Name, n.Type, n.Loc)
	if !TypeIsOwner(n.Type) || !a.deadset.Has(v.ID) {
		return v
	}

	// owner without ownership of a value
	parent := a.findArgParent(v)
	if parent == nil && v.Op == OP_ZERO {
		a.errf(origin.Loc, "use of uninitialized %s %s", n.Kind, n.Name)
		if v.Loc.IsKnown() {
			a.helpf(v.Loc, "%s defined here", n.Name)
		}
		return v
	}
	a.errf(origin.Loc, "use of dead value %s", n.Name)
	if parent != nil && parent.Loc.IsKnown() {
		a.helpf(parent.Loc, "%s moved here", n.Name)
	}
	return v
}

func (a *irbuilder) loadRValue(origin, n *Node) *IRValue {
	switch n.Kind {
	case EXPR_ID:
		if n.Ref != nil {
			return a.loadRValue(origin, n.Ref)
		}
		return a.expr(n)
	case EXPR_FIELD, EXPR_PARAM, EXPR_VAR, EXPR_LET:
		return a.loadLocal(origin, n)
	}
	return a.expr(n)
}

func (a *irbuilder) loadExpr(n *Node) *IRValue {
	if n.Kind == EXPR_ID && n.Ref != nil && n.Ref.Kind.IsLocal() {
		return a.loadRValue(n, n.Ref)
	}
	return a.expr(n)
}

func (a *irbuilder) idExpr(n *Node) *IRValue {
	if n.Ref != nil && n.Ref.Kind.IsLocal() {
		local := n.Ref
		return a.varRead(local.Name, local.Type, local.Loc)
	}
	if n.Ref != nil && n.Ref.Kind == EXPR_FUN {
		return a.funValue(n.Ref, n.Loc)
	}
	// unknown or non-local reference (reported by typecheck)
	return a.pushval(a.b, OP_ZERO, n.Loc, n.Type)
}

func (a *irbuilder) assignLocal(dst *Node, v *IRValue) *IRValue {
	name := dst.Name
	if name == a.c.Predef.Underscore {
		return v
	}
	v.Var.Dst = name
	a.varWrite(name, v)
	return v
}

func (a *irbuilder) varDef(n *Node) *IRValue {
	var v *IRValue
	if n.X != nil {
		v1 := a.loadExpr(n.X)
		v1.Type = n.Type // dst may be a supertype, e.g. "dst ?T <= v T"
		v = a.moveOrCopy(v1, n.Loc, nil)
		if n.Name != a.c.Predef.Underscore {
			comment(v, n.Name)
		}
	} else {
		v = a.pushval(a.b, OP_ZERO, n.Loc, n.Type)
		if n.Name != a.c.Predef.Underscore {
			comment(v, n.Name)
		}
		// an owning var without initializer is initially dead
		if TypeIsOwner(v.Type) {
			a.ownersAdd(v)
			a.deadset.Add(v.ID)
		}
	}
	return a.assignLocal(n, v)
}

func (a *irbuilder) assign(n *Node) *IRValue {
	v := a.loadExpr(n.Y)

	left := n.X
	for left.Kind == EXPR_PREFIXOP && left.Op == TOKEN_STAR {
		left = left.X
	}

	var dst *Node
	switch left.Kind {
	case EXPR_MEMBER:
		dst = left.Ref
	case EXPR_ID:
		dst = left.Ref
		if dst == nil {
			return v // "_ = expr"
		}
	default:
		return v
	}
	if dst == nil || !dst.Kind.IsLocal() {
		return v
	}

	v.Type = dst.Type
	currOwner := a.varRead(dst.Name, v.Type, Loc(0))
	var replace *IRValue
	if TypeIsOwner(v.Type) {
		replace = currOwner
	}
	v = a.moveOrCopy(v, n.Loc, replace)
	comment(v, dst.Name)
	return a.assignLocal(dst, v)
}

func (a *irbuilder) ret(v *IRValue, loc Loc) *IRValue {
	a.b.Kind = BLOCK_RET
	if v != nil && TypeIsOwner(v.Type) {
		a.moveOwnerOutside(v)
	}
	a.setControl(a.b, v)
	a.ownersUnwindAll()
	return v
}

func (a *irbuilder) retExpr(n *Node) *IRValue {
	var v *IRValue
	if n.X != nil {
		v = a.loadExpr(n.X)
	}
	return a.ret(v, n.Loc)
}

func (a *irbuilder) member(n *Node) *IRValue {
	recv := a.loadExpr(n.X)
	v := a.pushval(a.b, OP_GEP, n.Loc, n.Type)
	pusharg(v, recv)
	if n.Ref != nil && n.Ref.Kind == EXPR_FIELD {
		// field index within the receiver struct
		bt := n.X.Type.Unwrapped()
		for bt.Kind == TYPE_REF || bt.Kind == TYPE_MUTREF || bt.Kind == TYPE_PTR {
			bt = bt.Elem.Unwrapped()
		}
		for i, f := range bt.Fields {
			if f == n.Ref {
				v.AuxInt = uint64(i)
				break
			}
		}
	}
	return v
}

func (a *irbuilder) call(n *Node) *IRValue {
	var recv *IRValue
	var implicitThis *IRValue

	if n.X.Kind == EXPR_MEMBER && n.X.Ref != nil && n.X.Ref.Kind == EXPR_FUN &&
		len(n.X.Ref.Params) > 0 && n.X.Ref.Params[0].IsThis {
		// type-function call: the member receiver becomes "this"
		implicitThis = a.loadExpr(n.X.X)
		recv = a.funValue(n.X.Ref, n.X.Loc)
	} else if n.X.Kind == EXPR_MEMBER && n.X.Ref != nil && n.X.Ref.Kind == EXPR_FUN {
		// plain function reached through a namespace member
		recv = a.funValue(n.X.Ref, n.X.Loc)
	} else {
		recv = a.loadExpr(n.X)
	}

	v := a.pushval(a.b, OP_CALL, n.Loc, n.Type)
	pusharg(v, recv)
	a.f.NCalls++

	if implicitThis != nil {
		pusharg(v, implicitThis)
		if TypeIsOwner(implicitThis.Type) {
			a.moveOwnerOutside(implicitThis)
		}
	}
	for _, arg := range n.Nodes {
		an := arg
		if an.Kind == EXPR_PARAM && an.X != nil {
			an = an.X // named argument
		}
		argv := a.loadExpr(an)
		if TypeIsOwner(argv.Type) {
			a.moveOwnerOutside(argv)
		}
		pusharg(v, argv)
	}

	if TypeIsOwner(v.Type) {
		a.ownersAdd(v)
	}
	return v
}

func (a *irbuilder) funValue(n *Node, loc Loc) *IRValue {
	f := a.addFun(n)
	v := a.pushval(a.b, OP_FUN, loc, n.Type)
	v.AuxPtr = f
	if f.Name != "" {
		v.Comment = f.Name
	}
	return v
}

func (a *irbuilder) addFun(n *Node) *IRFun {
	if f, ok := a.funm[n]; ok {
		return f
	}
	f := &IRFun{Name: string(n.Name), AST: n}
	a.funm[n] = f
	a.unit.Funs = append(a.unit.Funs, f)
	// only functions of the unit being analyzed get a body here;
	// references into other units stay declarations
	if n.Body != nil && a.f != nil && n.Loc.FileID() == a.fileid {
		a.funqueue = append(a.funqueue, n)
	}
	return f
}

func (a *irbuilder) blockExpr0(n *Node, isFunBody bool) *IRValue {
	if len(n.Nodes) == 0 {
		if isRValue(n) {
			return a.pushval(a.b, OP_ZERO, n.Loc, n.Type)
		}
		return nil
	}
	lastRval := len(n.Nodes) - 1
	if !isRValue(n) {
		lastRval = len(n.Nodes)
	}

	for i, cn := range n.Nodes {
		if i == lastRval && cn.Kind != EXPR_RETURN {
			v := a.loadExpr(cn)
			// an implicit function return is materialized by ret()
			if !isFunBody && v != nil {
				if v.Op != OP_MOVE {
					v = a.moveOrCopy(v, cn.Loc, nil)
				}
				if TypeIsOwner(v.Type) {
					a.moveOwnerOutside(v)
				}
			}
			return v
		}
		a.expr(cn)
		if cn.Kind == EXPR_RETURN {
			break
		}
	}
	return nil
}

func (a *irbuilder) blockExprNoScope(n *Node, isFunBody bool) *IRValue {
	return a.blockExpr0(n, isFunBody)
}

func (a *irbuilder) blockExpr(n *Node) *IRValue {
	a.ownersEnterScope()
	v := a.blockExpr0(n, false)
	a.ownersUnwindScope(nil)
	a.ownersLeaveScope()
	return v
}

// binCond produces a boolean control value from a condition that is
// either a bool or an optional.
func (a *irbuilder) binCond(n *Node) *IRValue {
	v := a.loadExpr(n)
	if v.Type != nil && v.Type.Unwrapped().Kind == TYPE_OPTIONAL {
		check := a.pushval(a.b, OP_OCHECK, n.Loc, TypeBool)
		pusharg(check, v)
		return check
	}
	return v
}

// ifExpr lowers if..[else..]end:
//
//	switch cond -> b2 b1   (successors are [false, true])
//	b1: <then>  goto b3
//	b2: <else>  goto b3
//	b3: <continuation>
//
// Branches that turn out empty are elided and the continuation block's
// predecessors adjusted (cases: then empty, else empty, both empty).
func (a *irbuilder) ifExpr(n *Node) *IRValue {
	a.condnest++

	control := a.binCond(n.X)

	ifb := a.endBlock()
	ifb.Kind = BLOCK_SWITCH
	a.setControl(ifb, control)

	thenb := a.mkblock(BLOCK_GOTO, n.Body.Loc)
	elseLoc := n.Loc
	if n.Else != nil {
		elseLoc = n.Else.Loc
	}
	elseb := a.mkblock(BLOCK_GOTO, elseLoc)
	elsebIndex := len(a.f.Blocks) - 1
	ifb.Succs[1] = thenb
	ifb.Succs[0] = elseb // switch control -> [else, then]
	commentf(thenb, "b%d.then", ifb.ID)

	entryDeadset := a.deadset.Clone()

	// "then" branch
	thenb.Preds[0] = ifb
	a.startBlock(thenb)
	a.sealBlock(thenb)
	a.ownersEnterScope()
	thenv := a.blockExprNoScope(n.Body, false)
	a.ownersUnwindScope(entryDeadset)
	a.ownersLeaveScope()
	thenbNVars := len(a.vars)

	// if "then" returns, undo its deadset changes; if there is an
	// "else", it needs the pre-"then" deadset
	var thenEntryDeadset Bitset
	if a.b.Kind == BLOCK_RET || n.Else != nil {
		if n.Else != nil {
			thenEntryDeadset = a.deadset.Clone()
		}
		a.deadset = entryDeadset.Clone()
	}

	thenb = a.endBlock()

	var elsev *IRValue

	if n.Else != nil {
		commentf(elseb, "b%d.else", ifb.ID)
		elseb.Preds[0] = ifb
		a.startBlock(elseb)
		a.sealBlock(elseb)
		a.ownersEnterScope()
		elsev = a.blockExprNoScope(n.Else, false)
		a.ownersUnwindScope(entryDeadset)
		a.ownersLeaveScope()

		// if "then" returns, no "cont" block is needed
		if thenb.Kind == BLOCK_RET {
			a.condnest--
			return elsev
		}

		// drops in "else" for owners lost in "then"
		a.ownersDropLost(a.deadset, thenEntryDeadset, n.Loc)

		elsebNVars := len(a.vars)
		elseb = a.endBlock()

		if elseb.Kind == BLOCK_RET {
			// undo deadset changes made by the "else" block
			a.deadset = thenEntryDeadset.Clone()
		} else if a.ownersFindLost(thenEntryDeadset, a.deadset) {
			// drops in "then" for owners lost in "else"
			a.startBlock(thenb)
			a.ownersDropLost(thenEntryDeadset, a.deadset, n.Loc)
			a.endBlock()
		}

		// merge "then" ownership losses into "after if"
		a.deadset.Union(thenEntryDeadset)

		contb := a.mkblock(BLOCK_GOTO, n.Loc)
		commentf(contb, "b%d.cont", ifb.ID)

		// when the result needs a phi, both edges must survive into the
		// continuation block, so the branches are kept even when empty
		needPhi := isRValue(n) && thenv != nil && elsev != nil && thenv != elsev
		thenbIsNoop := !needPhi &&
			len(thenb.Values) == 0 && thenbNVars == 0 && thenb.Preds[0] == ifb
		elsebIsNoop := !needPhi &&
			len(elseb.Values) == 0 && elsebNVars == 0 && elseb.Preds[0] == ifb

		switch {
		case thenbIsNoop && elsebIsNoop:
			// neither branch has any effect; cut both out
			ifb.Kind = BLOCK_GOTO
			a.setControl(ifb, nil)
			ifb.Succs[0] = contb
			ifb.Succs[1] = nil
			contb.Preds[0] = ifb
			a.discardBlock(elseb)
			a.discardBlock(thenb)
			thenv = elsev
		case thenbIsNoop:
			elseb.Succs[0] = contb
			ifb.Succs[1] = contb
			contb.Preds[0] = elseb
			contb.Preds[1] = ifb
			a.discardBlock(thenb)
			thenb = contb
		case elsebIsNoop:
			thenb.Succs[0] = contb
			ifb.Succs[0] = contb
			contb.Preds[0] = ifb
			contb.Preds[1] = thenb
			a.discardBlock(elseb)
			elseb = contb
		default:
			elseb.Succs[0] = contb
			thenb.Succs[0] = contb
			if thenb.Kind == BLOCK_RET {
				contb.Preds[0] = elseb
			} else if elseb.Kind == BLOCK_RET {
				contb.Preds[0] = thenb
			} else {
				contb.Preds[1] = thenb
				contb.Preds[0] = elseb
			}
		}

		a.startBlock(contb)
		a.sealBlock(contb)
	} else {
		// no "else" branch
		if thenb.Kind != BLOCK_RET && a.ownersFindLost(entryDeadset, a.deadset) {
			// implicit else: drop what the "then" branch moved away
			commentf(elseb, "b%d.implicit_else", ifb.ID)
			elseb.Preds[0] = ifb
			a.startBlock(elseb)
			a.sealBlock(elseb)
			a.ownersDropLost(entryDeadset, a.deadset, n.Loc)
			elseb = a.endBlock()

			contb := a.mkblock(BLOCK_GOTO, n.Loc)
			commentf(contb, "b%d.cont", ifb.ID)
			elseb.Succs[0] = contb
			thenb.Succs[0] = contb
			contb.Preds[1] = thenb
			contb.Preds[0] = elseb
			a.startBlock(contb)
			a.sealBlock(contb)
		} else {
			// convert elseb into the continuation block
			commentf(elseb, "b%d.cont", ifb.ID)
			thenb.Succs[0] = elseb
			elseb.Preds[0] = ifb
			if thenb.Kind != BLOCK_RET {
				elseb.Preds[1] = thenb
			}
			a.startBlock(elseb)
			a.sealBlock(elseb)

			// move the cont block last, in case the "then" body created
			// blocks of its own
			for i, bb := range a.f.Blocks {
				if bb == elseb && i == elsebIndex {
					a.f.Blocks = append(a.f.Blocks[:i], a.f.Blocks[i+1:]...)
					a.f.Blocks = append(a.f.Blocks, elseb)
					break
				}
			}
		}

		if isRValue(n) {
			// zero in place of the missing "else" value
			t := TypeVoid
			if thenv != nil {
				t = thenv.Type
			}
			elsev = a.pushval(a.b, OP_ZERO, n.Loc, t)
		} else {
			elsev = thenv
		}
	}

	a.condnest--

	// no phi needed if the "if" is not used as a value
	if !isRValue(n) || thenv == elsev || thenv == nil || elsev == nil {
		return thenv
	}
	phi := a.pushval(a.b, OP_PHI, n.Loc, thenv.Type)
	pusharg(phi, thenv)
	pusharg(phi, elsev)
	phi.Comment = "if"
	return phi
}

// forExpr lowers a loop:
//
//	goto b1
//	b1: switch cond -> b3 b2   (head; unsealed until the back edge)
//	b2: <body> goto b1
//	b3: <continuation>
func (a *irbuilder) forExpr(n *Node) *IRValue {
	if n.Y != nil {
		a.expr(n.Y)
	}

	prevb := a.endBlock()
	prevb.Kind = BLOCK_GOTO

	condb := a.mkblock(BLOCK_GOTO, n.Loc)
	bodyb := a.mkblock(BLOCK_GOTO, n.Body.Loc)
	contb := a.mkblock(BLOCK_GOTO, n.Loc)
	commentf(condb, "b%d.loop", prevb.ID)
	commentf(contb, "b%d.cont", prevb.ID)

	prevb.Succs[0] = condb
	condb.Preds[0] = prevb

	// loop head: left unsealed; the back edge is added after the body
	a.startBlock(condb)
	var control *IRValue
	if n.X != nil {
		control = a.binCond(n.X)
	} else {
		control = a.intConst(TypeBool, 1, n.Loc)
	}
	condb = a.endBlockOpen()
	condb.Kind = BLOCK_SWITCH
	a.setControl(condb, control)
	condb.Succs[0] = contb
	condb.Succs[1] = bodyb
	bodyb.Preds[0] = condb
	contb.Preds[0] = condb

	a.condnest++
	a.startBlock(bodyb)
	a.sealBlock(bodyb)
	a.ownersEnterScope()
	entryDeadset := a.deadset.Clone()
	a.blockExprNoScope(n.Body, false)
	if n.Z != nil {
		a.expr(n.Z)
	}
	a.ownersUnwindScope(entryDeadset)
	a.ownersLeaveScope()
	latchb := a.endBlock()
	a.condnest--

	if latchb.Kind != BLOCK_RET {
		latchb.Succs[0] = condb
		condb.Preds[1] = latchb
	}
	a.sealBlock(condb)

	a.startBlock(contb)
	a.sealBlock(contb)
	return nil
}

func (a *irbuilder) binop(n *Node) *IRValue {
	left := a.loadExpr(n.X)
	right := a.loadExpr(n.Y)
	op := tokOps[n.Op]
	if op == OP_INVALID {
		op = OP_CAST
	}
	v := a.pushval(a.b, op, n.Loc, n.Type)
	pusharg(v, left)
	pusharg(v, right)
	return v
}

func (a *irbuilder) prefixOp(n *Node) *IRValue {
	switch n.Op {
	case TOKEN_AMP:
		src := a.loadExpr(n.X)
		op := OP_BORROW
		if n.IsMut {
			op = OP_BORROW_MUT
		}
		v := a.pushval(a.b, op, n.Loc, n.Type)
		pusharg(v, src)
		return v
	case TOKEN_STAR:
		src := a.loadExpr(n.X)
		v := a.pushval(a.b, OP_DEREF, n.Loc, n.Type)
		pusharg(v, src)
		return v
	case TOKEN_NOT:
		src := a.loadExpr(n.X)
		v := a.pushval(a.b, OP_NOT, n.Loc, n.Type)
		pusharg(v, src)
		return v
	case TOKEN_MINUS:
		src := a.loadExpr(n.X)
		v := a.pushval(a.b, OP_NEG, n.Loc, n.Type)
		pusharg(v, src)
		return v
	}
	return a.loadExpr(n.X)
}

func (a *irbuilder) arrayLit(n *Node) *IRValue {
	v := a.pushval(a.b, OP_ARRAY, n.Loc, n.Type)
	for _, cn := range n.Nodes {
		vv := a.loadExpr(cn)
		if vv.Op != OP_MOVE {
			vv = a.moveOrCopy(vv, cn.Loc, nil)
		}
		pusharg(v, vv)
	}
	v.Comment = "arraylit"
	return v
}

func (a *irbuilder) expr(n *Node) *IRValue {
	switch n.Kind {
	case EXPR_ASSIGN:
		return a.assign(n)
	case EXPR_BINOP:
		return a.binop(n)
	case EXPR_BLOCK:
		return a.blockExpr(n)
	case EXPR_CALL:
		return a.call(n)
	case EXPR_ID:
		return a.idExpr(n)
	case EXPR_FUN:
		return a.funValue(n, n.Loc)
	case EXPR_IF:
		return a.ifExpr(n)
	case EXPR_FOR:
		return a.forExpr(n)
	case EXPR_RETURN:
		return a.retExpr(n)
	case EXPR_MEMBER:
		return a.member(n)
	case EXPR_VAR, EXPR_LET:
		return a.varDef(n)
	case EXPR_PARAM:
		return a.varRead(n.Name, n.Type, n.Loc)
	case EXPR_PREFIXOP:
		return a.prefixOp(n)
	case EXPR_POSTFIXOP:
		return a.loadExpr(n.X)
	case EXPR_DEREF:
		src := a.loadExpr(n.X)
		v := a.pushval(a.b, OP_DEREF, n.Loc, n.Type)
		pusharg(v, src)
		return v
	case EXPR_SUBSCRIPT:
		recv := a.loadExpr(n.X)
		idx := a.loadExpr(n.Y)
		v := a.pushval(a.b, OP_INDEX, n.Loc, n.Type)
		pusharg(v, recv)
		pusharg(v, idx)
		return v
	case EXPR_BOOLLIT, EXPR_INTLIT:
		return a.intConst(n.Type, n.IntVal, n.Loc)
	case EXPR_FLOATLIT:
		return a.floatConst(n.Type, n.FloatVal, n.Loc)
	case EXPR_STRLIT:
		v := a.pushval(a.b, OP_STR, n.Loc, n.Type)
		v.AuxBytes = n.StrVal
		return v
	case EXPR_ARRAYLIT:
		return a.arrayLit(n)
	case STMT_TYPEDEF, STMT_IMPORT, NODE_COMMENT:
		return nil
	}
	return a.pushval(a.b, OP_ZERO, n.Loc, n.Type)
}

// === functions ===

func (a *irbuilder) fun(n *Node, f *IRFun) *IRFun {
	if f == nil {
		f = a.addFun(n)
	}
	if len(f.Blocks) > 0 || n.Body == nil {
		return f // already built, or only a declaration
	}

	a.f = f
	a.condnest = 0
	a.owners = a.owners[:0]
	a.bases = a.bases[:0]
	a.deadset.Clear()
	a.vars = make(map[Sym]*IRValue)
	a.defvars = make(map[uint32]map[Sym]*IRValue)
	a.pendingphis = make(map[uint32][]pendingPhi)

	entryb := a.mkblock(BLOCK_GOTO, n.Loc)
	a.startBlock(entryb)
	a.sealBlock(entryb) // the entry block has no predecessors

	a.ownersEnterScope()

	for i, param := range n.Params {
		if param.Name == a.c.Predef.Underscore {
			continue
		}
		v := a.pushval(a.b, OP_ARG, param.Loc, param.Type)
		v.AuxInt = uint64(i)
		v.Var.Dst = param.Name
		comment(v, param.Name)
		if TypeIsOwner(param.Type) {
			a.ownersAdd(v)
		}
		a.varWrite(param.Name, v)
	}

	// implicit result value?
	if n.Result != TypeVoid && len(n.Body.Nodes) > 0 {
		if last := n.Body.Nodes[len(n.Body.Nodes)-1]; last.Kind != EXPR_RETURN {
			n.Body.Flags |= NF_RVALUE
		}
	}

	entryDeadset := a.deadset.Clone()

	body := a.blockExprNoScope(n.Body, true)

	// implicit return; an explicit "return" already set BLOCK_RET
	if a.b != nil && a.b.Kind != BLOCK_RET {
		a.ret(body, n.Body.Loc)
	}

	a.ownersUnwindScope(entryDeadset)
	a.ownersLeaveScope()

	if a.b != nil {
		a.endBlock()
	}

	a.f = nil
	return f
}
