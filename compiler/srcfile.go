package compiler

import (
	"os"
	"path/filepath"
	"time"
)

// SrcFile is one source file of a package.
type SrcFile struct {
	Name  string // name relative to Pkg.Dir (or absolute for ad-hoc files)
	Pkg   *Pkg   // parent package, nil for ad-hoc files
	Data  []byte // source bytes; nil until Load
	Size  int64
	Mtime time.Time
	ID    uint32 // assigned by LocMap.InternFile; 0 = not interned
}

// Path returns the filesystem path of sf.
func (sf *SrcFile) Path() string {
	if sf.Pkg == nil || filepath.IsAbs(sf.Name) {
		return sf.Name
	}
	return filepath.Join(sf.Pkg.Dir, sf.Name)
}

// Load reads the file's contents from disk if not already loaded.
func (sf *SrcFile) Load() error {
	if sf.Data != nil {
		return nil
	}
	data, err := os.ReadFile(sf.Path())
	if err != nil {
		return err
	}
	fi, err := os.Stat(sf.Path())
	if err == nil {
		sf.Mtime = fi.ModTime()
	}
	sf.Data = data
	sf.Size = int64(len(data))
	return nil
}

// SetData sets in-memory contents, for tests and stdin input.
func (sf *SrcFile) SetData(data []byte) {
	sf.Data = data
	sf.Size = int64(len(data))
}

// LineBytes returns the bytes of 1-based line number, without the
// terminating LF, or nil if the line does not exist.
func (sf *SrcFile) LineBytes(line uint32) []byte {
	if line == 0 || sf.Data == nil {
		return nil
	}
	n := uint32(1)
	start := 0
	for i, b := range sf.Data {
		if n == line {
			start = i
			for j := i; j < len(sf.Data); j++ {
				if sf.Data[j] == '\n' {
					return sf.Data[start:j]
				}
			}
			return sf.Data[start:]
		}
		if b == '\n' {
			n++
			if n == line {
				start = i + 1
				for j := start; j < len(sf.Data); j++ {
					if sf.Data[j] == '\n' {
						return sf.Data[start:j]
					}
				}
				return sf.Data[start:]
			}
		}
	}
	return nil
}
