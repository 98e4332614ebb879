package compiler

import (
	"io"
	"testing"
)

func parseSrc(t *testing.T, src string) (*Node, *Compiler) {
	t.Helper()
	c := New(Options{DiagWriter: io.Discard})
	sf := &SrcFile{Name: "test.co"}
	sf.SetData([]byte(src))
	unit, err := c.ParseUnit(sf)
	if err != nil {
		t.Fatalf("ParseUnit: %v", err)
	}
	return unit, c
}

func TestParseMinimalMain(t *testing.T) {
	unit, c := parseSrc(t, "fun main() { }")
	if c.Errcount() != 0 {
		t.Fatalf("%d parse errors", c.Errcount())
	}
	if len(unit.Nodes) != 1 {
		t.Fatalf("got %d decls, want 1", len(unit.Nodes))
	}
	fn := unit.Nodes[0]
	if fn.Kind != EXPR_FUN || fn.Name != "main" {
		t.Fatalf("decl = %v %q", fn.Kind, fn.Name)
	}
	if len(fn.Params) != 0 || fn.Result != TypeVoid || fn.Body == nil {
		t.Errorf("main signature wrong: %d params, result %v, body %v",
			len(fn.Params), typeStr(fn.Result), fn.Body)
	}
}

func TestParseIndentedFun(t *testing.T) {
	unit, c := parseSrc(t, "fun add(x int, y int) int\n  x + y\n")
	if c.Errcount() != 0 {
		t.Fatalf("%d parse errors", c.Errcount())
	}
	fn := unit.Nodes[0]
	if len(fn.Params) != 2 || fn.Params[0].Name != "x" || fn.Params[1].Type != TypeInt {
		t.Fatalf("params wrong: %+v", fn.Params)
	}
	if fn.Result != TypeInt {
		t.Errorf("result = %v, want int", typeStr(fn.Result))
	}
	if len(fn.Body.Nodes) != 1 || fn.Body.Nodes[0].Kind != EXPR_BINOP {
		t.Errorf("body not a single binop")
	}
}

func TestParseSharedParamType(t *testing.T) {
	unit, _ := parseSrc(t, "fun f(x, y int) { }")
	fn := unit.Nodes[0]
	if len(fn.Params) != 2 || fn.Params[0].Type != TypeInt || fn.Params[1].Type != TypeInt {
		t.Errorf("shared parameter type did not distribute: %+v", fn.Params)
	}
}

func TestParseThisParam(t *testing.T) {
	unit, _ := parseSrc(t, "type Vec { x int }\nfun len(this Vec) int\n  this.x\n")
	fn := unit.Nodes[1]
	if len(fn.Params) != 1 || !fn.Params[0].IsThis {
		t.Fatalf("this param not detected")
	}
	if fn.RecvT == nil || fn.RecvT.Kind != TYPE_UNRESOLVED || fn.RecvT.Name != "Vec" {
		t.Errorf("receiver type = %+v", fn.RecvT)
	}
}

func TestParseMutThis(t *testing.T) {
	unit, _ := parseSrc(t, "fun grow(mut this, n int) { }")
	fn := unit.Nodes[0]
	if len(fn.Params) != 2 || !fn.Params[0].IsThis || !fn.Params[0].IsMut {
		t.Errorf("mut this not parsed: %+v", fn.Params[0])
	}
}

func TestParseImports(t *testing.T) {
	src := "import \"std/runtime\"\n" +
		"import \"./sibling\" as sib\n" +
		"import \"foo/bar\" (a, b as c)\n" +
		"fun main() { }\n"
	unit, c := parseSrc(t, src)
	if c.Errcount() != 0 {
		t.Fatalf("%d parse errors", c.Errcount())
	}
	var imports []*Node
	for n := unit.NextImport; n != nil; n = n.NextImport {
		imports = append(imports, n)
	}
	if len(imports) != 3 {
		t.Fatalf("got %d imports, want 3", len(imports))
	}
	if string(imports[0].StrVal) != "std/runtime" || imports[0].Name != "" {
		t.Errorf("import 0 = %q as %q", imports[0].StrVal, imports[0].Name)
	}
	if string(imports[1].StrVal) != "./sibling" || imports[1].Name != "sib" {
		t.Errorf("import 1 = %q as %q", imports[1].StrVal, imports[1].Name)
	}
	mem := imports[2].Nodes
	if len(mem) != 2 || mem[0].Name != "a" || mem[1].Name != "c" || string(mem[1].StrVal) != "b" {
		t.Errorf("import member list wrong: %+v", mem)
	}
}

func TestParseVarLet(t *testing.T) {
	unit, c := parseSrc(t, "fun f()\n  var a int = 3\n  let b = a\n  var c ?*int\n")
	if c.Errcount() != 0 {
		t.Fatalf("%d parse errors", c.Errcount())
	}
	body := unit.Nodes[0].Body.Nodes
	if body[0].Kind != EXPR_VAR || body[0].Type != TypeInt || body[0].X == nil {
		t.Errorf("var a parsed wrong: %+v", body[0])
	}
	if body[1].Kind != EXPR_LET || body[1].X == nil || body[1].Type != nil {
		t.Errorf("let b parsed wrong: %+v", body[1])
	}
	ct := body[2].Type
	if ct == nil || ct.Kind != TYPE_OPTIONAL || ct.Elem.Kind != TYPE_PTR || ct.Elem.Elem != TypeInt {
		t.Errorf("type of c = %v", typeStr(ct))
	}
}

func TestParseLetRequiresValue(t *testing.T) {
	_, c := parseSrc(t, "fun f()\n  let x int\n")
	if c.Errcount() == 0 {
		t.Error("let without value must be an error")
	}
}

func TestParseTypeDecls(t *testing.T) {
	src := "type Celsius f64\n" +
		"type Point { x int; y int }\n" +
		"type Handle *int\n"
	unit, c := parseSrc(t, src)
	if c.Errcount() != 0 {
		t.Fatalf("%d parse errors", c.Errcount())
	}
	alias := unit.Nodes[0].Type
	if alias.Kind != TYPE_ALIAS || alias.Elem != TypeF64 || alias.Name != "Celsius" {
		t.Errorf("alias = %+v", alias)
	}
	st := unit.Nodes[1].Type
	if st.Kind != TYPE_STRUCT || len(st.Fields) != 2 || st.Fields[1].Name != "y" {
		t.Errorf("struct = %+v", st)
	}
	h := unit.Nodes[2].Type
	if h.Kind != TYPE_ALIAS || h.Elem.Kind != TYPE_PTR {
		t.Errorf("handle = %+v", h)
	}
}

func TestParseTemplateDecl(t *testing.T) {
	unit, c := parseSrc(t, "type Box<T> { value T }\nfun f()\n  var b Box<int>\n")
	if c.Errcount() != 0 {
		t.Fatalf("%d parse errors", c.Errcount())
	}
	tpl := unit.Nodes[0].Type
	if tpl.Flags&NF_TEMPLATE == 0 || len(tpl.TplParams) != 1 || tpl.TplParams[0].Name != "T" {
		t.Errorf("template = %+v", tpl)
	}
	inst := unit.Nodes[1].Body.Nodes[0].Type
	if inst == nil || inst.Kind != TYPE_TEMPLATE || inst.Flags&NF_TEMPLATEI == 0 ||
		len(inst.Args) != 1 || inst.Args[0] != TypeInt {
		t.Errorf("instantiation = %+v", inst)
	}
}

func TestParseIfElse(t *testing.T) {
	unit, c := parseSrc(t, "fun f(b bool)\n  if b\n    1\n  else\n    2\n")
	if c.Errcount() != 0 {
		t.Fatalf("%d parse errors", c.Errcount())
	}
	ifn := unit.Nodes[0].Body.Nodes[0]
	if ifn.Kind != EXPR_IF || ifn.X == nil || ifn.Body == nil || ifn.Else == nil {
		t.Errorf("if parsed wrong: %+v", ifn)
	}
}

func TestParseForLoop(t *testing.T) {
	unit, c := parseSrc(t, "fun f()\n  for var i = 0; i < 10; i = i + 1\n    g(i)\n")
	if c.Errcount() != 0 {
		t.Fatalf("%d parse errors", c.Errcount())
	}
	loop := unit.Nodes[0].Body.Nodes[0]
	if loop.Kind != EXPR_FOR || loop.Y == nil || loop.X == nil || loop.Z == nil {
		t.Errorf("for parsed wrong: init=%v cond=%v end=%v", loop.Y, loop.X, loop.Z)
	}
}

func TestParsePrecedence(t *testing.T) {
	unit, _ := parseSrc(t, "fun f() int\n  1 + 2 * 3\n")
	e := unit.Nodes[0].Body.Nodes[0]
	if e.Kind != EXPR_BINOP || e.Op != TOKEN_PLUS {
		t.Fatalf("root op = %v", tokenName(e.Op))
	}
	if e.Y.Kind != EXPR_BINOP || e.Y.Op != TOKEN_STAR {
		t.Errorf("* did not bind tighter than +")
	}
}

func TestParseNamedCallArgs(t *testing.T) {
	unit, c := parseSrc(t, "fun f()\n  g(width: 3, 4)\n")
	if c.Errcount() != 0 {
		t.Fatalf("%d parse errors", c.Errcount())
	}
	call := unit.Nodes[0].Body.Nodes[0]
	if call.Kind != EXPR_CALL || len(call.Nodes) != 2 {
		t.Fatalf("call parsed wrong")
	}
	if call.Nodes[0].Kind != EXPR_PARAM || call.Nodes[0].Name != "width" {
		t.Errorf("named arg not parsed: %+v", call.Nodes[0])
	}
	if call.Nodes[1].Kind == EXPR_PARAM {
		t.Errorf("positional arg mis-parsed as named")
	}
}

func TestParseDuplicateTopLevel(t *testing.T) {
	_, c := parseSrc(t, "fun f() { }\nfun f() { }\n")
	if c.Errcount() == 0 {
		t.Error("duplicate definition must be an error")
	}
}

func TestParseErrorRecovery(t *testing.T) {
	// the bad first declaration must not prevent parsing of the second
	unit, c := parseSrc(t, "fun 123 { }\nfun ok() { }\n")
	if c.Errcount() == 0 {
		t.Error("expected a parse error")
	}
	found := false
	for _, d := range unit.Nodes {
		if d.Kind == EXPR_FUN && d.Name == "ok" {
			found = true
		}
	}
	if !found {
		t.Error("parser did not recover at the next statement boundary")
	}
}

func TestParseFlagBubbling(t *testing.T) {
	unit, _ := parseSrc(t, "fun f()\n  unknown_name\n")
	if unit.Flags&NF_UNKNOWN == 0 {
		t.Error("NF_UNKNOWN did not bubble from the unresolved id to the unit")
	}
}
