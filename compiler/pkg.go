package compiler

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Names of the on-disk package metadata files. These are cache keys;
// changing either invalidates every existing package cache.
const (
	PkgMetaFileName   = "pub.coast"
	PkgHeaderFileName = "pub.h"
)

// Pkg is one Compis package: a directory of source files.
//
// Invariants: Dir is always absolute and path-cleaned, and
// Dir == Root + "/" + Path. Two references to the same directory always
// point to the same Pkg (see PkgIndex).
type Pkg struct {
	Dir  string // canonical absolute directory
	Path string // canonical symbolic path, e.g. "std/runtime"
	Root string // directory above the package's top path segment

	mu      sync.RWMutex
	Files   []*SrcFile // sorted by name; ids are stable once assigned
	defs    map[Sym]*Node
	TFuns   TypeFunTab
	imports []*Pkg

	// Loadfut serializes loading: the first thread to Acquire it parses
	// and checks the package; other threads Wait.
	Loadfut *Future

	// Results of a successful load:
	DeclOrder []*Node   // package declarations in dependency-first order
	IRUnits   []*IRUnit // one per compilation unit; input to the C code generator

	APISha256 [sha256.Size]byte
}

func newPkg(dir, path, root string) *Pkg {
	return &Pkg{
		Dir:     dir,
		Path:    path,
		Root:    root,
		defs:    make(map[Sym]*Node),
		Loadfut: NewFuture(),
	}
}

// AddSrcFile adds (or returns the existing) source file named name,
// keeping Files sorted by name.
func (p *Pkg) AddSrcFile(name string) *SrcFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := sort.Search(len(p.Files), func(i int) bool { return p.Files[i].Name >= name })
	if i < len(p.Files) && p.Files[i].Name == name {
		return p.Files[i]
	}
	sf := &SrcFile{Name: name, Pkg: p}
	p.Files = append(p.Files, nil)
	copy(p.Files[i+1:], p.Files[i:])
	p.Files[i] = sf
	return sf
}

// Def returns the package-level definition of name, or nil.
func (p *Pkg) Def(name Sym) *Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defs[name]
}

// DefineDef records a package-level definition. Returns the previous
// definition and false when name is already defined.
func (p *Pkg) DefineDef(name Sym, n *Node) (*Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.defs[name]; ok {
		return prev, false
	}
	p.defs[name] = n
	return nil, true
}

// Defs returns a snapshot of the package-level definitions, sorted by name.
func (p *Pkg) Defs() []*Node {
	p.mu.RLock()
	names := make([]string, 0, len(p.defs))
	for name := range p.defs {
		names = append(names, string(name))
	}
	p.mu.RUnlock()
	sort.Strings(names)
	nodes := make([]*Node, len(names))
	p.mu.RLock()
	for i, name := range names {
		nodes[i] = p.defs[name]
	}
	p.mu.RUnlock()
	return nodes
}

// AddImport records dep as imported by p, unless already recorded.
func (p *Pkg) AddImport(dep *Pkg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.imports {
		if d == dep {
			return
		}
	}
	p.imports = append(p.imports, dep)
}

// ImportedPkgs returns the packages imported by p.
func (p *Pkg) ImportedPkgs() []*Pkg {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Pkg(nil), p.imports...)
}

// ComputeAPISha256 derives the package's API checksum from its public
// definitions, in sorted order so the result is deterministic.
func (p *Pkg) ComputeAPISha256(ti *TypeIntern) {
	h := sha256.New()
	for _, def := range p.Defs() {
		if !def.IsPub() {
			continue
		}
		fmt.Fprintf(h, "%s\x00", def.Name)
		if def.Type != nil {
			h.Write([]byte(ti.ID(def.Type)))
		}
		if def.Kind == EXPR_FUN && def.Result != nil {
			h.Write([]byte(ti.ID(def.Result)))
		}
	}
	h.Sum(p.APISha256[:0])
}


// PkgIndex interns packages by canonical absolute directory.
type PkgIndex struct {
	mu sync.RWMutex
	m  map[string]*Pkg
}

func NewPkgIndex() *PkgIndex {
	return &PkgIndex{m: make(map[string]*Pkg)}
}

// Intern returns the package at dir, creating it on first reference.
// dir must be absolute; it is path-cleaned. path is the symbolic
// package path; root is derived from dir and path.
func (ix *PkgIndex) Intern(dir, path string) (*Pkg, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("pkgindex: %q: %w (directory must be absolute)", dir, ErrInvalid)
	}
	dir = filepath.Clean(dir)

	ix.mu.RLock()
	pkg := ix.m[dir]
	ix.mu.RUnlock()
	if pkg != nil {
		return pkg, nil
	}

	root := strings.TrimSuffix(dir, "/"+path)
	if root == dir { // path is not a suffix of dir
		root = filepath.Dir(dir)
		path = filepath.Base(dir)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if pkg = ix.m[dir]; pkg != nil {
		return pkg, nil
	}
	pkg = newPkg(dir, path, root)
	ix.m[dir] = pkg
	return pkg, nil
}

// Lookup returns the package interned at dir, or nil.
func (ix *PkgIndex) Lookup(dir string) *Pkg {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.m[filepath.Clean(dir)]
}

// === import paths ===

// ValidateImportPath checks the syntax of an import path, returning a
// message and byte offset on failure.
func ValidateImportPath(path string) (errmsg string, erroffs int, ok bool) {
	if path == "" {
		return "empty path", 0, false
	}
	if path[0] == ' ' {
		return "leading whitespace", 0, false
	}
	if path[0] == '/' {
		return "absolute path", 0, false
	}
	// if the path starts with "." it must be "./" or "../"
	if path[0] == '.' {
		if path == "." {
			return "cannot import itself", 0, false
		}
		if !strings.HasPrefix(path, "./") && !strings.HasPrefix(path, "../") {
			return `must start with "./" or "../" when first character is '.'`, 1, false
		}
	}
	// invalid or reserved characters
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c > ' ' && c != ':' && c != '\\' && c != '@' {
			continue
		}
		if c == ' ' {
			// space is permitted anywhere but at the beginning or end
			if i+1 < len(path) {
				continue
			}
			return "trailing whitespace", i, false
		}
		switch c {
		case '@':
			return "'@' is a reserved character", i, false
		case '\\':
			return `use '/' as path separator, not '\'`, i, false
		}
		return "invalid character", i, false
	}
	if path[0] != '.' {
		// symbolic paths must not contain "../" nor end with "/.."
		if i := strings.Index(path, "/../"); i >= 0 {
			return "parent-directory reference", i + 1, false
		}
		if strings.HasSuffix(path, "/..") {
			return "parent-directory reference", len(path) - 2, false
		}
	}
	return "", 0, true
}

// ResolveImport resolves path as imported from srcdir (the directory of
// the importing source file) in importer. The resolution rules are:
//
//  1. a relative path ("./x", "../x") is joined with srcdir and must
//     remain under the importer's root
//  2. a "std/..." path resolves under coroot
//  3. anything else is searched through the copath entries in order
func (c *Compiler) ResolveImport(importer *Pkg, srcdir, path string) (*Pkg, error) {
	if msg, offs, ok := ValidateImportPath(path); !ok {
		return nil, fmt.Errorf("invalid import path %q at offset %d: %s: %w",
			path, offs, msg, ErrInvalid)
	}

	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		fspath := filepath.Join(srcdir, path)
		rootPrefix := importer.Root + string(filepath.Separator)
		if !strings.HasPrefix(fspath+string(filepath.Separator), rootPrefix) {
			return nil, fmt.Errorf("import %q escapes package root %s: %w",
				path, importer.Root, ErrInvalid)
		}
		sympath := strings.TrimPrefix(fspath, rootPrefix)
		return c.Pkgs.Intern(fspath, filepath.ToSlash(sympath))
	}

	if strings.HasPrefix(path, "std/") {
		dir := filepath.Join(c.Coroot, path)
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("package %q: %w", path, ErrNotFound)
		}
		return c.Pkgs.Intern(dir, path)
	}

	for _, entry := range c.Copath {
		dir := filepath.Join(entry, path)
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return c.Pkgs.Intern(dir, path)
		}
	}
	return nil, fmt.Errorf("package %q: %w", path, ErrNotFound)
}

// importKey is the dedup key of an import: for a relative import, its
// cleaned filesystem path joined with srcdir; for any other import, its
// cleaned symbolic path.
func importKey(srcdir, path string) string {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return filepath.Clean(filepath.Join(srcdir, path))
	}
	return filepath.ToSlash(filepath.Clean(path))
}

// ImportPkgs resolves the imports of the given parsed units of pkg.
// Imports are de-duplicated by cleaned filesystem path and visited in
// sorted order, which makes resolution deterministic. Every STMT_IMPORT
// node's PkgRef is set to the resolved package.
func (c *Compiler) ImportPkgs(pkg *Pkg, units []*Node) error {
	type imp struct {
		key    string
		srcdir string
		path   string
		nodes  []*Node
	}
	byKey := make(map[string]*imp)
	var keys []string

	for _, unit := range units {
		srcdir := pkg.Dir
		if sf := c.Locmap.SrcFile(unit.Loc.FileID()); sf != nil {
			srcdir = filepath.Dir(sf.Path())
		}
		for n := unit.NextImport; n != nil; n = n.NextImport {
			path := string(n.StrVal)
			key := importKey(srcdir, path)
			im := byKey[key]
			if im == nil {
				im = &imp{key: key, srcdir: srcdir, path: path}
				byKey[key] = im
				keys = append(keys, key)
			}
			im.nodes = append(im.nodes, n)
		}
	}
	sort.Strings(keys)

	var firstErr error
	for _, key := range keys {
		im := byKey[key]
		dep, err := c.ResolveImport(pkg, im.srcdir, im.path)
		if err == nil && dep == pkg {
			err = fmt.Errorf("package %q imports itself: %w", pkg.Path, ErrInvalid)
		}
		if err != nil {
			for _, n := range im.nodes {
				c.Diags.Errf(MakeOrigin(c.Locmap, n.Loc), "cannot import %q: %v", im.path, err)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, n := range im.nodes {
			n.PkgRef = dep
		}
		pkg.AddImport(dep)
	}
	return firstErr
}

// ScanPkgDir populates pkg.Files with the ".co" source files of its
// directory.
func (c *Compiler) ScanPkgDir(pkg *Pkg) error {
	entries, err := os.ReadDir(pkg.Dir)
	if err != nil {
		return fmt.Errorf("%s: %w", pkg.Dir, ErrNotFound)
	}
	n := 0
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".co") {
			continue
		}
		pkg.AddSrcFile(ent.Name())
		n++
	}
	if n == 0 {
		return fmt.Errorf("no source files in %s: %w", pkg.Dir, ErrNotFound)
	}
	return nil
}
