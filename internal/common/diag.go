package common

import (
	"fmt"

	"pipeview/internal/pipe"
)

// DiagKind classifies a diagnostic message.
type DiagKind string

const (
	DiagMalformed  DiagKind = "malformed"
	DiagUnresolved DiagKind = "unresolved"
	DiagIO         DiagKind = "io"
	DiagDuplicate  DiagKind = "duplicate"
	DiagUnclaimed  DiagKind = "unclaimed"
)

// Diag records a non-fatal issue encountered while parsing a trace line.
type Diag struct {
	Line pipe.LineIndex `json:"line"`
	Kind DiagKind       `json:"kind"`
	Msg  string         `json:"msg"`
}

func (d Diag) String() string {
	if d.Line == pipe.BadLineIndex {
		return fmt.Sprintf("[%s] %s", d.Kind, d.Msg)
	}
	return fmt.Sprintf("[%s] line %d: %s", d.Kind, d.Line, d.Msg)
}

// DefaultMaxDiags caps the number of retained diagnostics.
const DefaultMaxDiags = 1000

// Diags accumulates diagnostics. Every Add is counted per kind; only the
// first Max items are retained. A zero Diags uses DefaultMaxDiags.
type Diags struct {
	Max    int
	items  []Diag
	counts map[DiagKind]int
}

// NewDiags returns a Diags retaining at most max items (0 = default).
func NewDiags(max int) *Diags {
	return &Diags{Max: max}
}

func (d *Diags) limit() int {
	if d.Max > 0 {
		return d.Max
	}
	return DefaultMaxDiags
}

func (d *Diags) Add(line pipe.LineIndex, kind DiagKind, msg string) {
	if d.counts == nil {
		d.counts = make(map[DiagKind]int)
	}
	d.counts[kind]++
	if len(d.items) < d.limit() {
		d.items = append(d.items, Diag{Line: line, Kind: kind, Msg: msg})
	}
}

func (d *Diags) Addf(line pipe.LineIndex, kind DiagKind, format string, args ...any) {
	d.Add(line, kind, fmt.Sprintf(format, args...))
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Count returns how many diagnostics of kind were added, retained or not.
func (d *Diags) Count(kind DiagKind) int { return d.counts[kind] }

// Total returns how many diagnostics were added across all kinds.
func (d *Diags) Total() int {
	n := 0
	for _, c := range d.counts {
		n += c
	}
	return n
}

// Counts returns a copy of the per-kind totals.
func (d *Diags) Counts() map[DiagKind]int {
	out := make(map[DiagKind]int, len(d.counts))
	for k, v := range d.counts {
		out[k] = v
	}
	return out
}
