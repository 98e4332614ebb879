package compiler

import "testing"

func TestLocPacking(t *testing.T) {
	tests := []struct {
		fileid, line, col, width uint32
	}{
		{0, 0, 0, 0},
		{1, 1, 1, 0},
		{7, 1234, 56, 3},
		{locFileMax, locLineMax, locColMax, locWidthMax},
	}
	for _, tt := range tests {
		l := MakeLoc(tt.fileid, tt.line, tt.col, tt.width)
		if l.FileID() != tt.fileid || l.Line() != tt.line ||
			l.Col() != tt.col || l.Width() != tt.width {
			t.Errorf("MakeLoc(%d,%d,%d,%d) round-tripped as (%d,%d,%d,%d)",
				tt.fileid, tt.line, tt.col, tt.width,
				l.FileID(), l.Line(), l.Col(), l.Width())
		}
	}
}

func TestLocSaturates(t *testing.T) {
	l := MakeLoc(1, locLineMax+5, locColMax+5, locWidthMax+5)
	if l.Line() != locLineMax || l.Col() != locColMax || l.Width() != locWidthMax {
		t.Errorf("out-of-range components did not saturate: %d %d %d",
			l.Line(), l.Col(), l.Width())
	}
}

func TestLocIsKnown(t *testing.T) {
	if Loc(0).IsKnown() {
		t.Error("zero Loc must be unknown")
	}
	if !MakeLoc(1, 2, 3, 0).IsKnown() {
		t.Error("nonzero Loc must be known")
	}
}

func TestLocUnion(t *testing.T) {
	a := MakeLoc(1, 10, 5, 3)  // cols 5..8
	b := MakeLoc(1, 10, 12, 4) // cols 12..16
	u := LocUnion(a, b)
	if u.Col() != 5 || u.Col()+u.Width() != 16 {
		t.Errorf("union = col %d width %d, want col 5 width 11", u.Col(), u.Width())
	}
	// unions across lines keep the first loc
	c := MakeLoc(1, 11, 1, 1)
	if LocUnion(a, c) != a {
		t.Error("cross-line union should return the first loc")
	}
}

func TestLocOrder(t *testing.T) {
	a := MakeLoc(1, 10, 5, 0)
	b := MakeLoc(1, 10, 9, 0)
	if !a.Before(b) || !b.After(a) {
		t.Error("loc ordering broken")
	}
}

func TestLocMap(t *testing.T) {
	lm := NewLocMap()
	sf := &SrcFile{Name: "a.co"}
	id := lm.InternFile(sf)
	if id == 0 {
		t.Fatal("file id 0 is reserved for unknown")
	}
	if lm.InternFile(sf) != id {
		t.Error("re-interning returned a different id")
	}
	if lm.SrcFile(id) != sf {
		t.Error("lookup did not return the interned file")
	}
	if lm.SrcFile(0) != nil {
		t.Error("slot 0 must be nil")
	}
	got := lm.Fmt(MakeLoc(id, 3, 7, 0))
	if got != "a.co:3:7" {
		t.Errorf("Fmt = %q, want a.co:3:7", got)
	}
}
