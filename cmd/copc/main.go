// Command copc is the Compis compiler driver: it builds the packages
// named on the command line, running the front-end pipeline (scan,
// parse, typecheck, ownership analysis) for each package and its
// imports in parallel.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go4.org/syncutil"
	"golang.org/x/sync/errgroup"

	"j5.nz/compis/compiler"
)

func main() {
	var (
		target  = flag.String("target", "", "target triple")
		maxproc = flag.Int("j", runtime.NumCPU(), "max concurrent package builds")
		dumpIR  = flag.Bool("dump-ir", false, "print the IR of each built package")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: copc [options] <package-dir>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	coroot := os.Getenv("COROOT")
	if coroot == "" {
		if exe, err := os.Executable(); err == nil {
			coroot = filepath.Dir(exe)
		}
	}
	var copath []string
	for _, dir := range filepath.SplitList(os.Getenv("COPATH")) {
		if dir != "" {
			copath = append(copath, dir)
		}
	}

	c := compiler.New(compiler.Options{
		Coroot: coroot,
		Copath: copath,
		Target: *target,
	})

	// interpret each argument as a package directory; a .co file names
	// its directory's package
	var pkgs []*compiler.Pkg
	for _, arg := range flag.Args() {
		dir := arg
		if strings.HasSuffix(arg, ".co") {
			dir = filepath.Dir(arg)
		}
		pkg, err := c.PkgForDir(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "copc: %s: %v\n", arg, err)
			os.Exit(1)
		}
		pkgs = append(pkgs, pkg)
	}

	// build packages in parallel; the gate bounds concurrency and each
	// package's one-shot future deduplicates shared imports
	gate := syncutil.NewGate(max(*maxproc, 1))
	var g errgroup.Group
	for _, pkg := range pkgs {
		pkg := pkg
		g.Go(func() error {
			gate.Start()
			defer gate.Done()
			return c.LoadPkg(pkg, nil)
		})
	}
	err := g.Wait()

	if *dumpIR && err == nil {
		for _, pkg := range pkgs {
			for _, iru := range pkg.IRUnits {
				fmt.Print(compiler.FmtIRUnit(iru))
			}
		}
	}

	if err != nil || c.Errcount() > 0 {
		os.Exit(1)
	}
}
