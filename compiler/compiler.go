package compiler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Compiler holds the shared services of one compilation: symbol and
// location interning, diagnostics, the package index and the type
// intern table. A Compiler may be used by several worker goroutines at
// once; all shared state is internally synchronized.
type Compiler struct {
	Syms   *SymTab
	Predef PredefSyms
	Locmap *LocMap
	Diags  *Diags
	Pkgs   *PkgIndex
	Types  *TypeIntern

	Coroot string   // install directory; "std/..." imports resolve here
	Copath []string // search path for symbolic imports
	Target string   // target triple

	KeepComments bool
}

// Options configures a Compiler.
type Options struct {
	Coroot       string
	Copath       []string
	Target       string
	DiagWriter   io.Writer
	DiagHandler  DiagHandler
	KeepComments bool
}

func New(opts Options) *Compiler {
	if opts.DiagWriter == nil {
		opts.DiagWriter = os.Stderr
	}
	syms := NewSymTab()
	c := &Compiler{
		Syms:         syms,
		Predef:       syms.Predef(),
		Locmap:       NewLocMap(),
		Diags:        NewDiags(opts.DiagWriter, opts.DiagHandler),
		Pkgs:         NewPkgIndex(),
		Types:        NewTypeIntern(),
		Coroot:       opts.Coroot,
		Copath:       opts.Copath,
		Target:       opts.Target,
		KeepComments: opts.KeepComments,
	}
	return c
}

// Errcount returns the number of errors reported so far.
func (c *Compiler) Errcount() int { return c.Diags.Errcount() }

// PkgForDir interns the package at dir (relative paths are absolutized).
func (c *Compiler) PkgForDir(dir string) (*Pkg, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return c.Pkgs.Intern(abs, filepath.Base(abs))
}

// LoadPkg parses, checks and analyzes pkg, loading its imports first.
// The load is serialized through the package's future: the first caller
// produces, later callers wait. chain is the active import chain, used
// to detect cyclic imports.
func (c *Compiler) LoadPkg(pkg *Pkg, chain []*Pkg) error {
	for _, anc := range chain {
		if anc == pkg {
			c.Diags.Errf(Origin{}, "import cycle: %s", fmtImportCycle(chain, pkg))
			return fmt.Errorf("import cycle through %s: %w", pkg.Path, ErrInvalid)
		}
	}
	if pkg.Loadfut.Acquire() {
		err := c.loadPkg1(pkg, chain)
		pkg.Loadfut.Finalize(err)
		return err
	}
	return pkg.Loadfut.Wait()
}

func fmtImportCycle(chain []*Pkg, pkg *Pkg) string {
	var sb strings.Builder
	start := 0
	for i, p := range chain {
		if p == pkg {
			start = i
			break
		}
	}
	for _, p := range chain[start:] {
		sb.WriteString(p.Path)
		sb.WriteString(" -> ")
	}
	sb.WriteString(pkg.Path)
	return sb.String()
}

func (c *Compiler) loadPkg1(pkg *Pkg, chain []*Pkg) error {
	if len(pkg.Files) == 0 {
		if err := c.ScanPkgDir(pkg); err != nil {
			c.Diags.Errf(Origin{}, "%s: %v", pkg.Dir, err)
			return err
		}
	}

	var units []*Node
	for _, sf := range pkg.Files {
		unit, err := c.ParseUnit(sf)
		if err != nil {
			c.Diags.Errf(Origin{File: sf}, "%v", err)
			return err
		}
		units = append(units, unit)
	}

	if err := c.ImportPkgs(pkg, units); err != nil {
		return err
	}
	chain = append(chain, pkg)
	for _, dep := range pkg.ImportedPkgs() {
		if err := c.LoadPkg(dep, chain); err != nil {
			return err
		}
	}

	if c.Errcount() > 0 {
		return ErrInvalid
	}

	c.CheckPkg(pkg, units)
	if c.Errcount() > 0 {
		return ErrInvalid
	}

	order := c.CheckTypeDeps(pkg)
	if c.Errcount() > 0 {
		return ErrInvalid
	}
	pkg.DeclOrder = order

	for _, unit := range units {
		iru := c.Analyze(pkg, unit)
		if iru != nil {
			pkg.IRUnits = append(pkg.IRUnits, iru)
		}
	}
	if c.Errcount() > 0 {
		return ErrInvalid
	}

	pkg.ComputeAPISha256(c.Types)
	return nil
}
