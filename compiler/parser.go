package compiler

// Parser builds the AST of one source file. It owns the lexical Scope
// and resolves local names as it goes; names it cannot resolve are left
// for the type checker (marked NF_UNKNOWN).
type Parser struct {
	c     *Compiler
	s     *Scanner
	scope Scope

	unit       *Node
	lastImport *Node
	fnest      int
}

// ParseUnit scans and parses sf into a NODE_UNIT.
func (c *Compiler) ParseUnit(sf *SrcFile) (*Node, error) {
	if err := sf.Load(); err != nil {
		return nil, err
	}
	p := &Parser{
		c: c,
		s: NewScanner(sf, c.Locmap, c.Syms, c.Diags),
	}
	p.s.KeepComments = c.KeepComments
	p.next()
	unit := &Node{Kind: NODE_UNIT, Loc: MakeLoc(sf.ID, 1, 1, 0)}
	p.unit = unit
	p.scope.Push()
	for p.tok() != TOKEN_EOF {
		n := p.topLevelDecl()
		if n != nil {
			unit.Nodes = append(unit.Nodes, n)
			unit.SetAttached(n)
		}
		p.eatSemi()
	}
	p.scope.Pop()
	return unit, nil
}

func (p *Parser) tok() TokenKind { return p.s.Tok }
func (p *Parser) next()          { p.s.Next() }

func (p *Parser) errf(loc Loc, format string, args ...any) {
	p.c.Diags.Errf(MakeOrigin(p.c.Locmap, loc), format, args...)
}

func (p *Parser) errUnexpected(what string) {
	p.errf(p.s.Loc, "unexpected %s, expecting %s", tokenName(p.tok()), what)
}

// expect consumes tok, reporting an error if the current token differs.
func (p *Parser) expect(tok TokenKind) Loc {
	loc := p.s.Loc
	if p.tok() != tok {
		p.errUnexpected("'" + tokenName(tok) + "'")
		p.advanceToSemi()
		return loc
	}
	p.next()
	return loc
}

func (p *Parser) got(tok TokenKind) bool {
	if p.tok() == tok {
		p.next()
		return true
	}
	return false
}

// eatSemi consumes a statement terminator.
func (p *Parser) eatSemi() {
	if p.tok() == TOKEN_SEMI {
		p.next()
		return
	}
	if p.tok() == TOKEN_EOF || p.tok() == TOKEN_RBRACE {
		return
	}
	p.errUnexpected("';'")
	p.advanceToSemi()
}

// advanceToSemi skips ahead to the next statement boundary so that one
// syntax error does not cascade.
func (p *Parser) advanceToSemi() {
	depth := 0
	for {
		switch p.tok() {
		case TOKEN_EOF:
			return
		case TOKEN_SEMI:
			if depth == 0 {
				return
			}
		case TOKEN_LBRACE:
			depth++
		case TOKEN_RBRACE:
			if depth == 0 {
				return
			}
			depth--
		}
		p.next()
	}
}

func (p *Parser) mknode(kind NodeKind) *Node {
	return &Node{Kind: kind, Loc: p.s.Loc}
}

// === declarations ===

func (p *Parser) topLevelDecl() *Node {
	pub := false
	pubLoc := p.s.Loc
	if p.got(TOKEN_PUB) {
		pub = true
	}
	var n *Node
	switch p.tok() {
	case TOKEN_IMPORT:
		if pub {
			p.errf(pubLoc, "cannot mark import as public")
		}
		return p.importDecl()
	case TOKEN_FUN:
		n = p.funDecl()
	case TOKEN_VAR, TOKEN_LET:
		n = p.varDecl()
	case TOKEN_TYPE:
		n = p.typeDecl()
	case TOKEN_SEMI:
		return nil
	default:
		p.errUnexpected("declaration")
		p.advanceToSemi()
		return nil
	}
	if n != nil && pub {
		n.Flags |= NF_VIS_PUB
	}
	return n
}

// importDecl parses
//
//	import "path" [as name] [(member [as alias], ...)]
//
// and links the node into the unit's import chain.
func (p *Parser) importDecl() *Node {
	n := p.mknode(STMT_IMPORT)
	p.next() // consume "import"
	if p.tok() != TOKEN_STRING {
		p.errUnexpected("import path string")
		p.advanceToSemi()
		return nil
	}
	n.StrVal = p.s.StrVal
	p.next()
	if p.got(TOKEN_AS) {
		if p.tok() != TOKEN_IDENT {
			p.errUnexpected("name after 'as'")
		} else {
			n.Name = p.s.Sym
			p.next()
		}
	}
	if p.got(TOKEN_LPAREN) {
		for p.tok() != TOKEN_RPAREN && p.tok() != TOKEN_EOF {
			id := p.mknode(NODE_IMPORTID)
			if p.tok() != TOKEN_IDENT {
				p.errUnexpected("imported name")
				p.advanceToSemi()
				break
			}
			id.Name = p.s.Sym
			p.next()
			if p.got(TOKEN_AS) {
				if p.tok() != TOKEN_IDENT {
					p.errUnexpected("alias after 'as'")
				} else {
					// Name holds the alias; StrVal keeps the original
					id.StrVal = []byte(id.Name)
					id.Name = p.s.Sym
					p.next()
				}
			}
			n.Nodes = append(n.Nodes, id)
			if !p.got(TOKEN_COMMA) {
				p.got(TOKEN_SEMI) // layout may insert one before ")"
				break
			}
		}
		p.expect(TOKEN_RPAREN)
	}
	// link into the unit
	if p.lastImport != nil {
		p.lastImport.NextImport = n
	} else {
		p.unit.NextImport = n
	}
	p.lastImport = n
	return n
}

// funDecl parses "fun Name(params) [Result] [body]".
// A first parameter named "this" makes it a type function.
func (p *Parser) funDecl() *Node {
	n := p.mknode(EXPR_FUN)
	p.next() // consume "fun"
	if p.tok() == TOKEN_IDENT {
		n.Name = p.s.Sym
		p.next()
	}
	p.scope.Push()

	p.expect(TOKEN_LPAREN)
	p.funParams(n)
	p.expect(TOKEN_RPAREN)

	// result type
	n.Result = TypeVoid
	if p.tok() != TOKEN_LBRACE && p.tok() != TOKEN_SEMI && p.tok() != TOKEN_EOF {
		n.Result = p.typeExpr()
	}

	if p.tok() == TOKEN_LBRACE {
		p.fnest++
		n.Body = p.block()
		p.fnest--
		n.SetAttached(n.Body)
	}

	p.scope.Pop()

	// type functions are dispatched through the type-function table, not
	// the lexical scope
	if n.Name != "" && n.RecvT == nil && !p.isTypeFun(n) {
		p.scopeDefineOuter(n.Name, n)
	}
	return n
}

func (p *Parser) isTypeFun(n *Node) bool {
	return len(n.Params) > 0 && n.Params[0].IsThis
}

func (p *Parser) funParams(fn *Node) {
	// first parameter may be "this" or "mut this", marking a type function
	first := true
	var untyped []*Node
	for p.tok() != TOKEN_RPAREN && p.tok() != TOKEN_EOF {
		param := p.mknode(EXPR_PARAM)
		if p.got(TOKEN_MUT) {
			param.IsMut = true
		}
		if p.tok() != TOKEN_IDENT {
			p.errUnexpected("parameter name")
			p.advanceToSemi()
			return
		}
		param.Name = p.s.Sym
		p.next()
		if first && param.Name == p.c.Predef.This {
			param.IsThis = true
		}
		first = false

		if p.tok() != TOKEN_COMMA && p.tok() != TOKEN_RPAREN {
			t := p.typeExpr()
			param.Type = t
			// in "x, y int" the type distributes backward
			for _, u := range untyped {
				u.Type = t
			}
			untyped = untyped[:0]
		} else if !param.IsThis {
			untyped = append(untyped, param)
		}

		if param.IsThis {
			fn.RecvT = param.Type // may be nil; filled by typecheck for "this"
		}
		fn.Params = append(fn.Params, param)
		p.scope.Define(param.Name, param)
		if !p.got(TOKEN_COMMA) {
			break
		}
	}
	for _, u := range untyped {
		p.errf(u.Loc, "missing type of parameter %s", u.Name)
	}
	if len(fn.Params) > 0 {
		fn.Flags |= NF_NAMEDPARAMS
	}
}

// varDecl parses "var|let name [Type] [= init]".
func (p *Parser) varDecl() *Node {
	kind := EXPR_VAR
	if p.tok() == TOKEN_LET {
		kind = EXPR_LET
	}
	n := p.mknode(kind)
	p.next()
	if p.tok() != TOKEN_IDENT {
		p.errUnexpected("name")
		p.advanceToSemi()
		return nil
	}
	n.Name = p.s.Sym
	p.next()
	if p.tok() != TOKEN_ASSIGN && p.tok() != TOKEN_SEMI &&
		p.tok() != TOKEN_EOF && p.tok() != TOKEN_RBRACE {
		n.Type = p.typeExpr()
	}
	if p.got(TOKEN_ASSIGN) {
		n.X = p.expr(precLowest)
		n.SetAttached(n.X)
	}
	if kind == EXPR_LET && n.X == nil {
		p.errf(n.Loc, "missing value of binding %s", n.Name)
	}
	p.scope.Define(n.Name, n)
	return n
}

// typeDecl parses
//
//	type Name OtherType       (alias)
//	type Name { field T ... } (struct)
//	type Name<T> ...          (template)
func (p *Parser) typeDecl() *Node {
	n := p.mknode(STMT_TYPEDEF)
	p.next()
	if p.tok() != TOKEN_IDENT {
		p.errUnexpected("type name")
		p.advanceToSemi()
		return nil
	}
	name := p.s.Sym
	n.Name = name
	p.next()

	var tplParams []*Node
	if p.got(TOKEN_LT) {
		for p.tok() == TOKEN_IDENT {
			tp := p.mknode(NODE_TPLPARAM)
			tp.Name = p.s.Sym
			p.next()
			tplParams = append(tplParams, tp)
			if !p.got(TOKEN_COMMA) {
				break
			}
		}
		p.expect(TOKEN_GT)
	}

	var t *Type
	if p.tok() == TOKEN_LBRACE {
		t = p.structType(name)
	} else {
		elem := p.typeExpr()
		t = &Type{Kind: TYPE_ALIAS, Loc: n.Loc, Name: name, Elem: elem}
	}
	t.Def = n
	if len(tplParams) > 0 {
		t.Flags |= NF_TEMPLATE
		t.TplParams = tplParams
	}
	n.Type = t
	p.scopeDefineOuter(name, n)
	return n
}

func (p *Parser) structType(name Sym) *Type {
	t := &Type{Kind: TYPE_STRUCT, Loc: p.s.Loc, Name: name}
	p.expect(TOKEN_LBRACE)
	for p.tok() != TOKEN_RBRACE && p.tok() != TOKEN_EOF {
		if p.got(TOKEN_SEMI) {
			continue
		}
		f := p.mknode(EXPR_FIELD)
		if p.tok() != TOKEN_IDENT {
			p.errUnexpected("field name")
			p.advanceToSemi()
			continue
		}
		f.Name = p.s.Sym
		p.next()
		f.Type = p.typeExpr()
		if p.got(TOKEN_ASSIGN) {
			f.X = p.expr(precLowest)
		}
		t.Fields = append(t.Fields, f)
		p.eatSemi()
	}
	p.expect(TOKEN_RBRACE)
	return t
}

// scopeDefineOuter defines name in the outermost (unit) frame when at
// top level, or the current frame otherwise, reporting duplicates.
func (p *Parser) scopeDefineOuter(name Sym, n *Node) {
	if prev := p.scope.LookupLocal(name); prev != nil {
		p.errf(n.Loc, "duplicate definition of %s", name)
		if prev.Loc.IsKnown() {
			p.c.Diags.Helpf(MakeOrigin(p.c.Locmap, prev.Loc), "%s previously defined here", name)
		}
		return
	}
	p.scope.Define(name, n)
}

// === types ===

// typeExpr parses a type reference.
func (p *Parser) typeExpr() *Type {
	loc := p.s.Loc
	switch p.tok() {
	case TOKEN_STAR: // *T, owning pointer
		p.next()
		return &Type{Kind: TYPE_PTR, Loc: loc, Elem: p.typeExpr()}
	case TOKEN_AMP: // &T or &[T]
		p.next()
		if p.got(TOKEN_LBRACK) {
			elem := p.typeExpr()
			p.expect(TOKEN_RBRACK)
			return &Type{Kind: TYPE_SLICE, Loc: loc, Elem: elem}
		}
		return &Type{Kind: TYPE_REF, Loc: loc, Elem: p.typeExpr()}
	case TOKEN_MUT: // mut&T or mut&[T]
		p.next()
		p.expect(TOKEN_AMP)
		if p.got(TOKEN_LBRACK) {
			elem := p.typeExpr()
			p.expect(TOKEN_RBRACK)
			return &Type{Kind: TYPE_MUTSLICE, Loc: loc, Elem: elem}
		}
		return &Type{Kind: TYPE_MUTREF, Loc: loc, Elem: p.typeExpr()}
	case TOKEN_QUESTION: // ?T
		p.next()
		return &Type{Kind: TYPE_OPTIONAL, Loc: loc, Elem: p.typeExpr()}
	case TOKEN_LBRACK: // [T]
		p.next()
		elem := p.typeExpr()
		p.expect(TOKEN_RBRACK)
		return &Type{Kind: TYPE_ARRAY, Loc: loc, Elem: elem}
	case TOKEN_FUN: // fun(params) Result
		p.next()
		ft := &Type{Kind: TYPE_FUN, Loc: loc, Result: TypeVoid}
		fn := &Node{Kind: EXPR_FUN, Loc: loc}
		p.expect(TOKEN_LPAREN)
		p.scope.Push()
		p.funParams(fn)
		p.scope.Pop()
		p.expect(TOKEN_RPAREN)
		ft.Params = fn.Params
		if p.tok() == TOKEN_IDENT || p.tok() == TOKEN_STAR || p.tok() == TOKEN_AMP ||
			p.tok() == TOKEN_QUESTION || p.tok() == TOKEN_LBRACK || p.tok() == TOKEN_MUT {
			ft.Result = p.typeExpr()
		}
		return ft
	case TOKEN_IDENT:
		name := p.s.Sym
		p.next()
		var t *Type
		if pt := PrimType(string(name)); pt != nil {
			t = pt
		} else {
			t = &Type{Kind: TYPE_UNRESOLVED, Loc: loc, Name: name, Flags: NF_UNKNOWN}
		}
		// template instantiation: Name<Arg, ...>
		if p.tok() == TOKEN_LT {
			p.next()
			inst := &Type{Kind: TYPE_TEMPLATE, Loc: loc, Flags: NF_TEMPLATEI, Recv: t}
			for {
				inst.Args = append(inst.Args, p.typeExpr())
				if !p.got(TOKEN_COMMA) {
					break
				}
			}
			switch p.tok() {
			case TOKEN_SHR:
				// ">>" closes two nested instantiations: this one takes one
				// '>' and leaves the other for the enclosing type
				p.s.Tok = TOKEN_GT
			case TOKEN_GT:
				// a type may end its line, e.g. "var b Box<int>"
				p.s.insertsemi = true
				p.next()
			default:
				p.expect(TOKEN_GT)
			}
			return inst
		}
		return t
	}
	p.errUnexpected("type")
	p.advanceToSemi()
	return TypeUnknown
}

// === statements & expressions ===

// block parses "{ stmt; ... }" into an EXPR_BLOCK.
func (p *Parser) block() *Node {
	n := p.mknode(EXPR_BLOCK)
	p.expect(TOKEN_LBRACE)
	p.scope.Push()
	for p.tok() != TOKEN_RBRACE && p.tok() != TOKEN_EOF {
		if p.got(TOKEN_SEMI) {
			continue
		}
		stmt := p.stmt()
		if stmt != nil {
			n.Nodes = append(n.Nodes, stmt)
			n.SetAttached(stmt)
		}
		p.eatSemi()
	}
	p.scope.Pop()
	p.expect(TOKEN_RBRACE)
	return n
}

func (p *Parser) stmt() *Node {
	switch p.tok() {
	case TOKEN_VAR, TOKEN_LET:
		return p.varDecl()
	case TOKEN_TYPE:
		return p.typeDecl()
	case TOKEN_FUN:
		return p.funDecl()
	case TOKEN_RETURN:
		n := p.mknode(EXPR_RETURN)
		p.next()
		if p.tok() != TOKEN_SEMI && p.tok() != TOKEN_RBRACE && p.tok() != TOKEN_EOF {
			n.X = p.expr(precLowest)
			n.SetAttached(n.X)
		}
		n.Flags |= NF_EXIT
		return n
	}
	return p.expr(precLowest)
}

// Operator precedence, low to high.
const (
	precLowest = iota
	precAssign
	precOrOr
	precAndAnd
	precBitOr
	precBitXor
	precBitAnd
	precEq
	precCmp
	precShift
	precAdd
	precMul
	precUnary
)

// compoundAssignOp returns the binary operator of a compound
// assignment token, or TOKEN_ASSIGN for plain "=".
func compoundAssignOp(tok TokenKind) TokenKind {
	switch tok {
	case TOKEN_PLUS_ASSIGN:
		return TOKEN_PLUS
	case TOKEN_MINUS_ASSIGN:
		return TOKEN_MINUS
	case TOKEN_STAR_ASSIGN:
		return TOKEN_STAR
	case TOKEN_SLASH_ASSIGN:
		return TOKEN_SLASH
	case TOKEN_PERCENT_ASSIGN:
		return TOKEN_PERCENT
	}
	return TOKEN_ASSIGN
}

func binPrec(tok TokenKind) int {
	switch tok {
	case TOKEN_ASSIGN, TOKEN_PLUS_ASSIGN, TOKEN_MINUS_ASSIGN,
		TOKEN_STAR_ASSIGN, TOKEN_SLASH_ASSIGN, TOKEN_PERCENT_ASSIGN:
		return precAssign
	case TOKEN_OROR:
		return precOrOr
	case TOKEN_ANDAND:
		return precAndAnd
	case TOKEN_PIPE:
		return precBitOr
	case TOKEN_CARET:
		return precBitXor
	case TOKEN_AMP:
		return precBitAnd
	case TOKEN_EQ, TOKEN_NEQ:
		return precEq
	case TOKEN_LT, TOKEN_GT, TOKEN_LEQ, TOKEN_GEQ:
		return precCmp
	case TOKEN_SHL, TOKEN_SHR:
		return precShift
	case TOKEN_PLUS, TOKEN_MINUS:
		return precAdd
	case TOKEN_STAR, TOKEN_SLASH, TOKEN_PERCENT:
		return precMul
	}
	return 0
}

// expr parses an expression with operators binding tighter than prec.
func (p *Parser) expr(prec int) *Node {
	left := p.unaryExpr()
	for {
		opPrec := binPrec(p.tok())
		if opPrec == 0 || opPrec <= prec {
			return left
		}
		op := p.tok()
		loc := p.s.Loc
		p.next()
		if op == TOKEN_ASSIGN || opPrec == precAssign {
			n := &Node{Kind: EXPR_ASSIGN, Loc: loc, Op: TOKEN_ASSIGN, X: left}
			// assignment is right-associative
			rhs := p.expr(precAssign - 1)
			if base := compoundAssignOp(op); base != TOKEN_ASSIGN {
				// desugar "x op= y" into "x = x op y"
				bin := &Node{Kind: EXPR_BINOP, Loc: loc, Op: base, X: left, Y: rhs}
				bin.SetAttached(left)
				bin.SetAttached(rhs)
				rhs = bin
			}
			n.Y = rhs
			n.SetAttached(left)
			n.SetAttached(n.Y)
			left = n
			continue
		}
		n := &Node{Kind: EXPR_BINOP, Loc: loc, Op: op, X: left}
		n.Y = p.expr(opPrec)
		n.SetAttached(left)
		n.SetAttached(n.Y)
		left = n
	}
}

func (p *Parser) unaryExpr() *Node {
	loc := p.s.Loc
	switch p.tok() {
	case TOKEN_NOT, TOKEN_MINUS, TOKEN_PLUS, TOKEN_INC, TOKEN_DEC:
		op := p.tok()
		p.next()
		n := &Node{Kind: EXPR_PREFIXOP, Loc: loc, Op: op}
		n.X = p.unaryExpr()
		n.SetAttached(n.X)
		return n
	case TOKEN_AMP, TOKEN_MUT:
		// &expr / mut&expr: borrow
		op := p.tok()
		p.next()
		if op == TOKEN_MUT {
			p.expect(TOKEN_AMP)
		}
		n := &Node{Kind: EXPR_PREFIXOP, Loc: loc, Op: TOKEN_AMP, IsMut: op == TOKEN_MUT}
		n.X = p.unaryExpr()
		n.SetAttached(n.X)
		return n
	case TOKEN_STAR:
		// *expr: explicit dereference
		p.next()
		n := &Node{Kind: EXPR_PREFIXOP, Loc: loc, Op: TOKEN_STAR}
		n.X = p.unaryExpr()
		n.SetAttached(n.X)
		return n
	}
	return p.postfixExpr()
}

func (p *Parser) postfixExpr() *Node {
	n := p.primaryExpr()
	for {
		switch p.tok() {
		case TOKEN_LPAREN:
			n = p.callExpr(n)
		case TOKEN_DOT:
			loc := p.s.Loc
			p.next()
			if p.tok() != TOKEN_IDENT {
				p.errUnexpected("member name")
				return n
			}
			m := &Node{Kind: EXPR_MEMBER, Loc: loc, Name: p.s.Sym, X: n}
			m.SetAttached(n)
			p.next()
			n = m
		case TOKEN_LBRACK:
			loc := p.s.Loc
			p.next()
			idx := p.expr(precLowest)
			p.expect(TOKEN_RBRACK)
			sub := &Node{Kind: EXPR_SUBSCRIPT, Loc: loc, X: n, Y: idx}
			sub.SetAttached(n)
			sub.SetAttached(idx)
			n = sub
		case TOKEN_INC, TOKEN_DEC:
			post := &Node{Kind: EXPR_POSTFIXOP, Loc: p.s.Loc, Op: p.tok(), X: n}
			post.SetAttached(n)
			p.next()
			n = post
		default:
			return n
		}
	}
}

func (p *Parser) callExpr(recv *Node) *Node {
	n := &Node{Kind: EXPR_CALL, Loc: p.s.Loc, X: recv}
	n.SetAttached(recv)
	p.expect(TOKEN_LPAREN)
	for p.tok() != TOKEN_RPAREN && p.tok() != TOKEN_EOF {
		arg := p.callArg()
		n.Nodes = append(n.Nodes, arg)
		n.SetAttached(arg)
		if !p.got(TOKEN_COMMA) {
			p.got(TOKEN_SEMI) // layout may insert one before ")"
			break
		}
	}
	p.expect(TOKEN_RPAREN)
	return n
}

// callArg parses "expr" or the named form "name: expr", which becomes
// an EXPR_PARAM-kind argument.
func (p *Parser) callArg() *Node {
	if p.tok() == TOKEN_IDENT {
		name := p.s.Sym
		loc := p.s.Loc
		// peek for ':' by scanning one token ahead through the parser
		// state: an IDENT followed by ':' is a named argument
		saved := *p.s
		p.next()
		if p.got(TOKEN_COLON) {
			n := &Node{Kind: EXPR_PARAM, Loc: loc, Name: name}
			n.X = p.expr(precLowest)
			n.SetAttached(n.X)
			n.Flags |= NF_NAMEDPARAMS
			return n
		}
		*p.s = saved
	}
	return p.expr(precLowest)
}

func (p *Parser) primaryExpr() *Node {
	loc := p.s.Loc
	switch p.tok() {
	case TOKEN_IDENT:
		n := &Node{Kind: EXPR_ID, Loc: p.s.Loc, Name: p.s.Sym}
		if ref := p.scope.Lookup(n.Name); ref != nil {
			n.Ref = ref
		} else {
			n.Flags |= NF_UNKNOWN
		}
		p.next()
		return n
	case TOKEN_INT:
		n := &Node{Kind: EXPR_INTLIT, Loc: loc, IntVal: p.s.IntVal, Flags: NF_CHECKED}
		p.next()
		return n
	case TOKEN_FLOAT:
		n := &Node{Kind: EXPR_FLOATLIT, Loc: loc, FloatVal: p.s.FloatVal,
			Flags: NF_CHECKED, Type: TypeF64}
		p.next()
		return n
	case TOKEN_CHAR:
		n := &Node{Kind: EXPR_INTLIT, Loc: loc, IntVal: p.s.IntVal,
			Flags: NF_CHECKED, Type: TypeU32}
		p.next()
		return n
	case TOKEN_TRUE, TOKEN_FALSE:
		n := &Node{Kind: EXPR_BOOLLIT, Loc: loc, IntVal: p.s.IntVal,
			Flags: NF_CHECKED, Type: TypeBool}
		p.next()
		return n
	case TOKEN_STRING:
		n := &Node{Kind: EXPR_STRLIT, Loc: loc, StrVal: p.s.StrVal, Flags: NF_CHECKED}
		p.next()
		return n
	case TOKEN_LBRACK:
		// array literal [a, b, c]
		n := &Node{Kind: EXPR_ARRAYLIT, Loc: loc, Flags: NF_CHECKED}
		p.next()
		for p.tok() != TOKEN_RBRACK && p.tok() != TOKEN_EOF {
			v := p.expr(precLowest)
			n.Nodes = append(n.Nodes, v)
			n.SetAttached(v)
			if !p.got(TOKEN_COMMA) {
				break
			}
		}
		p.expect(TOKEN_RBRACK)
		return n
	case TOKEN_LPAREN:
		p.next()
		n := p.expr(precLowest)
		p.expect(TOKEN_RPAREN)
		return n
	case TOKEN_LBRACE:
		return p.block()
	case TOKEN_IF:
		return p.ifExpr()
	case TOKEN_FOR:
		return p.forExpr()
	case TOKEN_FUN:
		return p.funDecl()
	case TOKEN_RETURN:
		return p.stmt()
	}
	p.errUnexpected("expression")
	n := p.mknode(NODE_BAD)
	p.advanceToSemi()
	return n
}

// ifExpr parses "if cond block [else (if|block)]".
// The "then" branch's scope is stashed while parsing "else" so that
// narrowed bindings do not leak across branches.
func (p *Parser) ifExpr() *Node {
	n := p.mknode(EXPR_IF)
	p.next()
	n.X = p.expr(precLowest)
	n.SetAttached(n.X)
	p.scope.Push()
	n.Body = p.block()
	n.SetAttached(n.Body)
	p.scope.Stash()
	// layout inserts ";" after an indented "then" block; look through it
	// for a dedented "else"
	if p.tok() == TOKEN_SEMI {
		saved := *p.s
		p.next()
		if p.tok() != TOKEN_ELSE {
			*p.s = saved
		}
	}
	if p.got(TOKEN_ELSE) {
		if p.tok() == TOKEN_IF {
			n.Else = p.ifExpr()
		} else {
			n.Else = p.block()
		}
		n.SetAttached(n.Else)
	}
	p.scope.Unstash()
	p.scope.Pop()
	return n
}

// forExpr parses "for [init; cond; end] block" or "for cond block".
func (p *Parser) forExpr() *Node {
	n := p.mknode(EXPR_FOR)
	p.next()
	p.scope.Push()
	defer p.scope.Pop()
	if p.tok() != TOKEN_LBRACE {
		first := p.stmt()
		if p.got(TOKEN_SEMI) {
			n.Y = first // init
			n.X = p.expr(precLowest)
			if p.got(TOKEN_SEMI) {
				n.Z = p.stmt() // end
			}
		} else {
			n.X = first // condition-only form
		}
		n.SetAttached(n.X)
	}
	n.Body = p.block()
	n.SetAttached(n.Body)
	return n
}
