package printers

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"pipeview/internal/model"
	"pipeview/internal/pipe"
)

// TimelinePrinter renders a decode result as text, one instruction per
// line followed by its stage timeline:
//
//	Idx:0; SN:5; PC:0x400; add x1,x2,x3
//	    fetch@100 decode@105 retire@130
type TimelinePrinter struct {
	ItemPrinter
	relative  bool
	showDiags bool
	base      pipe.Tick
}

// NewTimelinePrinter creates a printer writing to stdout.
func NewTimelinePrinter() *TimelinePrinter {
	return &TimelinePrinter{ItemPrinter: *NewItemPrinter(os.Stdout), showDiags: true}
}

// NewTimelinePrinterTo creates a printer writing to w.
func NewTimelinePrinterTo(w io.Writer) *TimelinePrinter {
	p := NewTimelinePrinter()
	p.SetOutput(w)
	return p
}

// SetRelativeTicks prints ticks as offsets from the result's min_tick.
func (p *TimelinePrinter) SetRelativeTicks(rel bool) { p.relative = rel }

// SetShowDiags controls the trailing diagnostics block.
func (p *TimelinePrinter) SetShowDiags(show bool) { p.showDiags = show }

// PrintResult writes the header, every instruction and the diagnostics.
func (p *TimelinePrinter) PrintResult(res *model.Result) {
	p.base = 0
	if p.relative {
		p.base = res.MinTick
	}
	p.ItemPrintLine(fmt.Sprintf("CPU: %s; Instructions: %d; MinTick: %d\n", res.CPUType, res.Count, res.MinTick))
	for i, inst := range res.Instructions {
		p.PrintInstruction(i, inst)
	}
	if p.showDiags {
		p.PrintDiags(res)
	}
}

// PrintInstruction writes a single instruction.
func (p *TimelinePrinter) PrintInstruction(idx int, inst model.Instruction) {
	var sb strings.Builder
	h := inst.Header()
	if !p.IdxPrintMuted() {
		fmt.Fprintf(&sb, "Idx:%d; ", idx)
	}
	fmt.Fprintf(&sb, "SN:%d; PC:%s; %s", h.ID, orDash(h.PC), orDash(h.Disasm))
	if o, ok := inst.(*model.O3Instruction); ok && o.IsFlushed {
		sb.WriteString(" [flushed]")
	}
	sb.WriteString("\n    ")

	switch v := inst.(type) {
	case *model.O3Instruction:
		p.o3Stages(&sb, v)
	case *model.FlexInstruction:
		p.flexStages(&sb, v)
	}
	sb.WriteString("\n")
	p.ItemPrintLine(sb.String())
}

func (p *TimelinePrinter) o3Stages(sb *strings.Builder, inst *model.O3Instruction) {
	for i, name := range inst.StageNames() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(sb, "%s@%d", name, inst.Stages[name]-p.base)
	}
	if n := len(inst.CacheEvents); n > 0 {
		fmt.Fprintf(sb, " cache_misses=%d", n)
	}
}

func (p *TimelinePrinter) flexStages(sb *strings.Builder, inst *model.FlexInstruction) {
	for i, name := range inst.StageNames() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(name)
		sb.WriteString("=[")
		for j, e := range inst.Stages[name] {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(sb, "%d:%s", e.Tick-p.base, e.Status)
		}
		sb.WriteByte(']')
	}
}

// PrintDiags writes the diagnostics summary and each retained entry.
func (p *TimelinePrinter) PrintDiags(res *model.Result) {
	if len(res.Diagnostics) == 0 {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Diagnostics: %d\n", len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		sb.WriteString("    ")
		sb.WriteString(d.String())
		sb.WriteByte('\n')
	}
	p.ItemPrintLine(sb.String())
}

// PrintStats writes the per-run counters.
func (p *TimelinePrinter) PrintStats(res *model.Result) {
	s := res.Stats
	var sb strings.Builder
	sb.WriteString("Trace lines processed:-\n")
	fmt.Fprintf(&sb, "Lines read: %d\n", s.Lines)
	fmt.Fprintf(&sb, "Records: %d\n", s.Records)
	fmt.Fprintf(&sb, "Instructions created: %d\n", s.Created)
	fmt.Fprintf(&sb, "Instructions in window: %d\n", res.Count)
	if s.Terminated {
		fmt.Fprintf(&sb, "Stopped early at line %d\n", s.StopLine)
	}
	kinds := slices.Sorted(maps.Keys(res.DiagCounts))
	for _, kind := range kinds {
		fmt.Fprintf(&sb, "Diagnostics %s: %d\n", kind, res.DiagCounts[kind])
	}
	p.ItemPrintLine(sb.String())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
