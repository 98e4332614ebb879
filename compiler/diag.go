package compiler

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/term"
)

// DiagKind is the severity of a diagnostic.
type DiagKind int

const (
	DIAG_ERR DiagKind = iota
	DIAG_WARN
	DIAG_HELP
)

func (k DiagKind) String() string {
	switch k {
	case DIAG_ERR:
		return "error"
	case DIAG_WARN:
		return "warning"
	default:
		return "help"
	}
}

// Diag is one formatted diagnostic message.
type Diag struct {
	Kind   DiagKind
	Origin Origin
	Msg    string // short message (one line)
	Text   string // fully formatted message, including source-line excerpt
}

// DiagHandler observes diagnostics as they are reported.
// The *Diag is only valid for the duration of the call.
type DiagHandler func(*Diag)

// Diags is the diagnostics sink. Writes are serialized with a mutex and
// the error counter is atomic, so it can be shared by compiler workers.
type Diags struct {
	mu       sync.Mutex
	w        io.Writer
	handler  DiagHandler // optional
	color    bool
	errcount atomic.Int32
}

// NewDiags creates a sink writing to w. Color is enabled when w is a
// terminal, overridable with COMPIS_TERM_COLORS=on|off.
func NewDiags(w io.Writer, handler DiagHandler) *Diags {
	d := &Diags{w: w, handler: handler}
	switch os.Getenv("COMPIS_TERM_COLORS") {
	case "on", "1", "true":
		d.color = true
	case "off", "0", "false":
		d.color = false
	default:
		if f, ok := w.(*os.File); ok {
			d.color = term.IsTerminal(int(f.Fd()))
		}
	}
	return d
}

// Errcount returns the number of DIAG_ERR diagnostics reported so far.
func (d *Diags) Errcount() int { return int(d.errcount.Load()) }

// Errf reports an error at origin.
func (d *Diags) Errf(origin Origin, format string, args ...any) {
	d.report(DIAG_ERR, origin, format, args...)
}

// Warnf reports a warning at origin.
func (d *Diags) Warnf(origin Origin, format string, args ...any) {
	d.report(DIAG_WARN, origin, format, args...)
}

// Helpf reports a secondary help note at origin, usually following an error.
func (d *Diags) Helpf(origin Origin, format string, args ...any) {
	d.report(DIAG_HELP, origin, format, args...)
}

const (
	sgrBold   = "\x1b[1m"
	sgrRed    = "\x1b[1;31m"
	sgrYellow = "\x1b[1;33m"
	sgrCyan   = "\x1b[1;36m"
	sgrDim    = "\x1b[2m"
	sgrReset  = "\x1b[0m"
)

func (d *Diags) report(kind DiagKind, origin Origin, format string, args ...any) {
	if kind == DIAG_ERR {
		d.errcount.Add(1)
	}
	msg := fmt.Sprintf(format, args...)

	var sb strings.Builder
	if origin.File != nil {
		sb.WriteString(origin.File.Name)
		if origin.Line > 0 {
			fmt.Fprintf(&sb, ":%d:%d", origin.Line, origin.Col)
		}
		sb.WriteString(": ")
	}
	if d.color {
		switch kind {
		case DIAG_ERR:
			sb.WriteString(sgrRed)
		case DIAG_WARN:
			sb.WriteString(sgrYellow)
		default:
			sb.WriteString(sgrCyan)
		}
	}
	sb.WriteString(kind.String())
	sb.WriteString(": ")
	if d.color {
		sb.WriteString(sgrReset + sgrBold)
	}
	sb.WriteString(msg)
	if d.color {
		sb.WriteString(sgrReset)
	}
	sb.WriteByte('\n')

	d.excerpt(&sb, origin)

	diag := &Diag{Kind: kind, Origin: origin, Msg: msg, Text: sb.String()}

	d.mu.Lock()
	if d.w != nil {
		io.WriteString(d.w, diag.Text)
	}
	if d.handler != nil {
		d.handler(diag)
	}
	d.mu.Unlock()
}

// excerpt appends the source line of origin with an arrow or underline
// marking the column or range.
func (d *Diags) excerpt(sb *strings.Builder, origin Origin) {
	if origin.File == nil || origin.Line == 0 {
		return
	}
	line := origin.File.LineBytes(origin.Line)
	if line == nil {
		return
	}
	ln := fmt.Sprintf("%4d", origin.Line)
	if d.color {
		fmt.Fprintf(sb, "%s%s │%s %s\n", sgrDim, ln, sgrReset, expandTabs(line))
	} else {
		fmt.Fprintf(sb, "%s │ %s\n", ln, expandTabs(line))
	}
	col := origin.Col
	if origin.FocusCol > 0 {
		col = origin.FocusCol
	}
	if col == 0 {
		return
	}
	pad := visualCol(line, col)
	fmt.Fprintf(sb, "%s │ %s", strings.Repeat(" ", len(ln)), strings.Repeat(" ", pad))
	if d.color {
		sb.WriteString(sgrRed)
	}
	if origin.Width > 1 && origin.FocusCol == 0 {
		sb.WriteString(strings.Repeat("~", int(origin.Width)))
	} else {
		sb.WriteString("^")
	}
	if d.color {
		sb.WriteString(sgrReset)
	}
	sb.WriteByte('\n')
}

const tabWidth = 4

// expandTabs replaces every tab with spaces so the caret column lines up.
func expandTabs(line []byte) string {
	if !strings.ContainsRune(string(line), '\t') {
		return string(line)
	}
	return strings.ReplaceAll(string(line), "\t", strings.Repeat(" ", tabWidth))
}

// visualCol converts a 1-based byte column into the number of display
// cells preceding it, accounting for tab expansion.
func visualCol(line []byte, col uint32) int {
	n := 0
	for i := 0; i < int(col)-1 && i < len(line); i++ {
		if line[i] == '\t' {
			n += tabWidth
		} else {
			n++
		}
	}
	if int(col)-1 > len(line) {
		n += int(col) - 1 - len(line)
	}
	return n
}
