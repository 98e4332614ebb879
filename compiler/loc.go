package compiler

import (
	"fmt"
	"sync"
)

// Loc is a compact representation of a source location: file, line,
// column and width. Inspired by the Go compiler's xpos & lico.
// Loc(0) is the unknown location.
//
// Limits: files: 1048575, lines: 1048575, columns: 4095, width: 4095.
type Loc uint64

const (
	locWidthBits  = 12
	locColBits    = 12
	locLineBits   = 20
	locFileBits   = 64 - locLineBits - locColBits - locWidthBits
	locWidthMax   = 1<<locWidthBits - 1
	locColMax     = 1<<locColBits - 1
	locLineMax    = 1<<locLineBits - 1
	locFileMax    = 1<<locFileBits - 1
	locLineShift  = locColBits + locWidthBits
	locColShift   = locWidthBits
	locFileShift  = locLineBits + locColBits + locWidthBits
)

// MakeLoc packs a source location. Out-of-range components saturate.
func MakeLoc(fileid, line, col, width uint32) Loc {
	return Loc(uint64(min(fileid, locFileMax))<<locFileShift |
		uint64(min(line, locLineMax))<<locLineShift |
		uint64(min(col, locColMax))<<locColShift |
		uint64(min(width, locWidthMax)))
}

func (l Loc) FileID() uint32 { return uint32(l >> locFileShift) }
func (l Loc) Line() uint32   { return uint32(l>>locLineShift) & locLineMax }
func (l Loc) Col() uint32    { return uint32(l>>locColShift) & locColMax }
func (l Loc) Width() uint32  { return uint32(l) & locWidthMax }

// IsKnown reports whether l carries any location information.
func (l Loc) IsKnown() bool { return l.FileID() != 0 || l.Line() != 0 }

func (l Loc) WithFileID(id uint32) Loc {
	return MakeLoc(id, l.Line(), l.Col(), l.Width())
}
func (l Loc) WithLine(line uint32) Loc {
	return MakeLoc(l.FileID(), line, l.Col(), l.Width())
}
func (l Loc) WithCol(col uint32) Loc {
	return MakeLoc(l.FileID(), l.Line(), col, l.Width())
}
func (l Loc) WithWidth(width uint32) Loc {
	return MakeLoc(l.FileID(), l.Line(), l.Col(), width)
}

// Before reports whether l appears before other in the same input.
func (l Loc) Before(other Loc) bool { return l < other }

// After reports whether l appears after other in the same input.
func (l Loc) After(other Loc) bool { return l > other }

// LocUnion returns a Loc covering the column extent of both a and b.
// a and b must be on the same line; if they are not, a is returned.
func LocUnion(a, b Loc) Loc {
	if a == b || !b.IsKnown() {
		return a
	}
	if !a.IsKnown() {
		return b
	}
	if a.Line() != b.Line() {
		return a
	}
	c1, c2 := a.Col(), b.Col()
	e1, e2 := c1+a.Width(), c2+b.Width()
	c := min(c1, c2)
	e := max(e1, e2)
	return MakeLoc(a.FileID(), a.Line(), c, e-c)
}

// LocMap maps the file-id component of Locs to SrcFiles.
// All methods are safe for concurrent use. Slot 0 is always nil.
type LocMap struct {
	mu    sync.RWMutex
	files []*SrcFile
}

func NewLocMap() *LocMap {
	return &LocMap{files: make([]*SrcFile, 1, 8)}
}

// InternFile assigns (or returns the already-assigned) file id for sf
// and records it in sf.ID.
func (lm *LocMap) InternFile(sf *SrcFile) uint32 {
	lm.mu.RLock()
	for id, f := range lm.files {
		if f == sf {
			lm.mu.RUnlock()
			return uint32(id)
		}
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()
	for id, f := range lm.files {
		if f == sf {
			return uint32(id)
		}
	}
	id := uint32(len(lm.files))
	lm.files = append(lm.files, sf)
	sf.ID = id
	return id
}

// SrcFile returns the file interned under id, or nil.
func (lm *LocMap) SrcFile(id uint32) *SrcFile {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if id == 0 || int(id) >= len(lm.files) {
		return nil
	}
	return lm.files[id]
}

// Fmt renders l as "file:line:col". Unknown components are omitted.
func (lm *LocMap) Fmt(l Loc) string {
	sf := lm.SrcFile(l.FileID())
	switch {
	case sf != nil && l.Line() > 0:
		return fmt.Sprintf("%s:%d:%d", sf.Name, l.Line(), l.Col())
	case sf != nil:
		return sf.Name
	case l.Line() > 0:
		return fmt.Sprintf("%d:%d", l.Line(), l.Col())
	}
	return "?"
}

// Origin describes the origin of a diagnostic, usually derived from a Loc.
type Origin struct {
	File     *SrcFile
	Line     uint32 // 0 if unknown; then the fields below are invalid
	Col      uint32
	Width    uint32 // >0 if it's a range starting at line & col
	FocusCol uint32 // if >0, an important column on Line
}

// MakeOrigin resolves l against lm.
func MakeOrigin(lm *LocMap, l Loc) Origin {
	return Origin{
		File:  lm.SrcFile(l.FileID()),
		Line:  l.Line(),
		Col:   l.Col(),
		Width: l.Width(),
	}
}
