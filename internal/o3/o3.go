// Package o3 parses the sequential-tag trace dialect (gem5 O3PipeView).
//
// Each record is a colon-delimited line:
//
//	O3PipeView:fetch:<tick>:<pc>:<upc>:<sn>:<disasm...>
//	O3PipeView:<stage>:<tick>[:...][:<sn>]
//	O3PipeView:retire:<tick>:store:<store tick>[:<sn>]
//	O3PipeView:cache:<tick>:<type>:<vaddr>:<paddr>:<sn>:<result>
//
// A fetch record opens an instruction and makes it the current grouped
// instruction; later records without a known serial number attach to it.
package o3

import (
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"pipeview/internal/common"
	"pipeview/internal/linescan"
	"pipeview/internal/model"
	"pipeview/internal/pipe"
	"pipeview/internal/window"
)

const delim = ":"

// Minimum field counts per record kind.
const (
	minFields      = 3
	minFetchFields = 6
	minCacheFields = 8
)

// Options controls a parse run.
type Options struct {
	Window       window.Window
	Margin       pipe.Tick // 0 = pipe.O3Margin
	MaxLineBytes int
	MaxDiags     int
	Logger       common.Logger
}

// Parser holds the state of one forward pass.
type Parser struct {
	opts   Options
	bounds window.Bounds
	log    common.Logger
	diags  *common.Diags

	insts   map[model.SerialNumber]*model.O3Instruction
	pending map[model.SerialNumber][]model.CacheEvent
	// current is the implicit target of records that carry no resolvable
	// serial number.
	current *model.O3Instruction

	stats model.Stats
}

// NewParser creates a parser for a single run.
func NewParser(opts Options) *Parser {
	if opts.Margin <= 0 {
		opts.Margin = pipe.O3Margin
	}
	return &Parser{
		opts:    opts,
		bounds:  opts.Window.WithMargin(opts.Margin),
		log:     common.OrNoOp(opts.Logger),
		diags:   common.NewDiags(opts.MaxDiags),
		insts:   make(map[model.SerialNumber]*model.O3Instruction),
		pending: make(map[model.SerialNumber][]model.CacheEvent),
	}
}

// Parse runs a parser with opts over r.
func Parse(r io.Reader, opts Options) (*model.Result, error) {
	return NewParser(opts).Parse(r)
}

// Parse streams r once and assembles the result. Malformed lines become
// diagnostics; only stream faults are returned as errors.
func (p *Parser) Parse(r io.Reader) (*model.Result, error) {
	sc := linescan.New(r, p.opts.MaxLineBytes, p.diags)
	for sc.Scan() {
		if p.parseLine(sc.Line(), sc.Text()) {
			p.stats.Terminated = true
			p.stats.StopLine = uint64(sc.Line())
			p.log.Logf(common.SeverityDebug, "o3: fetch beyond tick %d at line %d, stopping", p.bounds.High(), sc.Line())
			break
		}
	}
	p.stats.Lines = uint64(sc.Line())
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return p.finish(), nil
}

// HasPending reports whether cache events are still buffered for sn.
func (p *Parser) HasPending(sn model.SerialNumber) bool {
	_, ok := p.pending[sn]
	return ok
}

// parseLine handles one line and reports whether the scan must stop.
func (p *Parser) parseLine(idx pipe.LineIndex, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, pipe.O3Marker) {
		return false
	}
	p.stats.Records++

	parts := strings.Split(line, delim)
	if len(parts) < minFields {
		p.diags.Addf(idx, common.DiagMalformed, "%d fields, need at least %d", len(parts), minFields)
		return false
	}
	stage := parts[1]
	if stage == "" {
		p.diags.Add(idx, common.DiagMalformed, "empty stage name")
		return false
	}
	tick, err := parseTick(parts[2])
	if err != nil {
		p.diags.Addf(idx, common.DiagMalformed, "%s tick %q: %v", stage, parts[2], err)
		return false
	}

	switch stage {
	case model.StageCache:
		p.cache(idx, tick, parts)
	case model.StageFetch:
		return p.fetch(idx, tick, parts)
	default:
		p.stage(idx, stage, tick, parts)
	}
	return false
}

func (p *Parser) cache(idx pipe.LineIndex, tick pipe.Tick, parts []string) {
	if len(parts) < minCacheFields {
		p.diags.Addf(idx, common.DiagMalformed, "cache record has %d fields, need %d", len(parts), minCacheFields)
		return
	}
	sn, err := parseSerial(parts[6])
	if err != nil {
		p.diags.Addf(idx, common.DiagMalformed, "cache serial number %q: %v", parts[6], err)
		return
	}
	result := strings.Join(parts[7:], delim)
	if !strings.Contains(strings.ToLower(result), "miss") {
		return
	}
	// A miss cannot precede its instruction's fetch, so one before the
	// lookback belongs to an instruction that will be skipped.
	if p.bounds.Before(tick) {
		return
	}

	ev := model.CacheEvent{
		Tick:   tick,
		Type:   parts[3],
		VAddr:  parts[4],
		PAddr:  parts[5],
		Result: result,
	}
	if inst, ok := p.insts[sn]; ok {
		inst.CacheEvents = append(inst.CacheEvents, ev)
		return
	}
	p.pending[sn] = append(p.pending[sn], ev)
}

func (p *Parser) fetch(idx pipe.LineIndex, tick pipe.Tick, parts []string) bool {
	if len(parts) < minFetchFields {
		p.diags.Addf(idx, common.DiagMalformed, "fetch record has %d fields, need %d", len(parts), minFetchFields)
		return false
	}
	sn, err := parseSerial(parts[5])
	if err != nil {
		p.diags.Addf(idx, common.DiagMalformed, "fetch serial number %q: %v", parts[5], err)
		return false
	}

	if p.bounds.Beyond(tick) {
		return true
	}
	if p.bounds.Before(tick) {
		// Nothing after this fetch may bind to the previous instruction.
		p.current = nil
		delete(p.pending, sn)
		return false
	}

	if _, dup := p.insts[sn]; dup {
		p.diags.Addf(idx, common.DiagDuplicate, "serial number %d fetched again, replacing", sn)
	} else {
		p.stats.Created++
	}

	inst := model.NewO3Instruction(sn, parts[3], strings.Join(parts[6:], delim))
	inst.Stages[model.StageFetch] = tick
	if evs, ok := p.pending[sn]; ok {
		inst.CacheEvents = append(inst.CacheEvents, evs...)
		delete(p.pending, sn)
	}
	p.insts[sn] = inst
	p.current = inst
	return false
}

func (p *Parser) stage(idx pipe.LineIndex, stage string, tick pipe.Tick, parts []string) {
	target := p.explicitTarget(stage, parts)
	if target == nil {
		target = p.current
	}
	if target == nil {
		p.diags.Addf(idx, common.DiagUnresolved, "%s at tick %d has no target instruction", stage, tick)
		return
	}

	if stage != model.StageRetire {
		// Zero means the stage did not happen normally.
		if tick > 0 {
			target.Stages[stage] = tick
		}
		return
	}

	// A zero retire tick is itself the flush signal and is recorded.
	target.Stages[model.StageRetire] = tick
	if tick == 0 {
		target.IsFlushed = true
	}
	if len(parts) > 4 && parts[3] == model.StageStore {
		if st, err := parseTick(parts[4]); err == nil && st > 0 {
			target.Stages[model.StageStore] = st
		}
	}
	if target == p.current {
		p.current = nil
	}
}

// explicitTarget resolves a trailing serial number field to a known
// instruction. The store tick of "retire:<t>:store:<st>" is not a serial
// number.
func (p *Parser) explicitTarget(stage string, parts []string) *model.O3Instruction {
	if len(parts) <= minFields {
		return nil
	}
	last := len(parts) - 1
	if stage == model.StageRetire && parts[3] == model.StageStore && last == 4 {
		return nil
	}
	sn, err := parseSerial(parts[last])
	if err != nil {
		return nil
	}
	return p.insts[sn]
}

// finish normalizes flush flags, reports unclaimed cache events and
// assembles the windowed result.
func (p *Parser) finish() *model.Result {
	for _, inst := range p.insts {
		inst.IsFlushed = !inst.Retired()
	}
	for _, sn := range slices.Sorted(maps.Keys(p.pending)) {
		p.diags.Addf(pipe.BadLineIndex, common.DiagUnclaimed,
			"%d cache events for serial number %d never matched a fetch", len(p.pending[sn]), sn)
	}

	res := model.Assemble(pipe.DialectO3, p.insts, p.opts.Window, p.diags)
	res.Stats = p.stats
	p.log.Logf(common.SeverityDebug, "o3: %d lines, %d records, %d instructions created, %d retained",
		p.stats.Lines, p.stats.Records, p.stats.Created, res.Count)
	return res
}

func parseTick(s string) (pipe.Tick, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, strconv.ErrRange
	}
	return pipe.Tick(v), nil
}

func parseSerial(s string) (model.SerialNumber, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, strconv.ErrRange
	}
	return model.SerialNumber(v), nil
}
