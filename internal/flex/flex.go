// Package flex parses the columnar-status trace dialect.
//
// Each record is a comma-separated line:
//
//	PIPE_TRACE,<tick>,<stage>,<sn>,<pc>,"<disasm>",<status>
//
// Stage is IF, ID or EX. A serial number of 0 means no instruction owns the
// event. Fetch events usually carry no serial number, so they are queued by
// PC until a decode event claims them.
package flex

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"pipeview/internal/common"
	"pipeview/internal/linescan"
	"pipeview/internal/model"
	"pipeview/internal/pipe"
	"pipeview/internal/window"
)

const (
	minFields = 7

	// maxFetchQueue bounds fetches waiting for a decode; the oldest are
	// dropped first, as a decode would drop them anyway.
	maxFetchQueue = 4096
)

// Options controls a parse run.
type Options struct {
	Window window.Window
	Margin pipe.Tick // 0 = pipe.FlexMargin
	// RetireOffset is added to the tick of the provisional retire entry
	// recorded when the execute stage stalls with no owner.
	RetireOffset pipe.Tick
	MaxLineBytes int
	MaxDiags     int
	Logger       common.Logger
}

// record is one decoded PIPE_TRACE line.
type record struct {
	tick   pipe.Tick
	stage  string
	sn     model.SerialNumber
	pc     string
	disasm string
	status string
}

// pendingFetch is an IF occurrence not yet claimed by a decode.
type pendingFetch struct {
	pc      string
	history []model.StatusEntry
}

// Parser holds the state of one forward pass.
type Parser struct {
	opts   Options
	bounds window.Bounds
	log    common.Logger
	diags  *common.Diags

	insts map[model.SerialNumber]*model.FlexInstruction
	queue []pendingFetch

	// Last instruction seen in decode and execute, for owner-less stalls.
	lastDecode model.SerialNumber
	lastExec   model.SerialNumber

	stats model.Stats
}

// NewParser creates a parser for a single run.
func NewParser(opts Options) *Parser {
	if opts.Margin <= 0 {
		opts.Margin = pipe.FlexMargin
	}
	return &Parser{
		opts:   opts,
		bounds: opts.Window.WithMargin(opts.Margin),
		log:    common.OrNoOp(opts.Logger),
		diags:  common.NewDiags(opts.MaxDiags),
		insts:  make(map[model.SerialNumber]*model.FlexInstruction),
	}
}

// Parse runs a parser with opts over r.
func Parse(r io.Reader, opts Options) (*model.Result, error) {
	return NewParser(opts).Parse(r)
}

// Parse streams r once and assembles the result.
func (p *Parser) Parse(r io.Reader) (*model.Result, error) {
	sc := linescan.New(r, p.opts.MaxLineBytes, p.diags)
	for sc.Scan() {
		if p.parseLine(sc.Line(), sc.Text()) {
			p.stats.Terminated = true
			p.stats.StopLine = uint64(sc.Line())
			p.log.Logf(common.SeverityDebug, "flex: tick beyond %d at line %d, stopping", p.bounds.High(), sc.Line())
			break
		}
	}
	p.stats.Lines = uint64(sc.Line())
	if err := sc.Err(); err != nil {
		return nil, err
	}

	res := model.Assemble(pipe.DialectFlex, p.insts, p.opts.Window, p.diags)
	res.Stats = p.stats
	p.log.Logf(common.SeverityDebug, "flex: %d lines, %d records, %d instructions created, %d retained, %d fetches unclaimed",
		p.stats.Lines, p.stats.Records, p.stats.Created, res.Count, len(p.queue))
	return res, nil
}

// QueueLen returns the number of fetch occurrences awaiting a decode.
func (p *Parser) QueueLen() int { return len(p.queue) }

func (p *Parser) parseLine(idx pipe.LineIndex, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, pipe.FlexMarker) {
		return false
	}
	p.stats.Records++

	rec, ok := p.parseRecord(idx, line)
	if !ok {
		return false
	}
	if p.bounds.Beyond(rec.tick) {
		return true
	}
	if p.bounds.Before(rec.tick) {
		return false
	}

	switch rec.stage {
	case model.StageIF:
		p.fetch(rec)
	case model.StageID:
		p.decodeStage(idx, rec)
	case model.StageEX:
		p.execute(idx, rec)
	default:
		p.other(idx, rec)
	}
	return false
}

func (p *Parser) parseRecord(idx pipe.LineIndex, line string) (record, bool) {
	cr := csv.NewReader(strings.NewReader(line))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	fields, err := cr.Read()
	if err != nil {
		p.diags.Addf(idx, common.DiagMalformed, "csv: %v", err)
		return record{}, false
	}
	if len(fields) < minFields || fields[0] != pipe.FlexMarker {
		p.diags.Addf(idx, common.DiagMalformed, "%d fields, need %d", len(fields), minFields)
		return record{}, false
	}

	tick, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil || tick < 0 {
		p.diags.Addf(idx, common.DiagMalformed, "tick %q", fields[1])
		return record{}, false
	}
	sn, err := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil {
		p.diags.Addf(idx, common.DiagMalformed, "serial number %q", fields[3])
		return record{}, false
	}

	last := len(fields) - 1
	return record{
		tick:  pipe.Tick(tick),
		stage: strings.TrimSpace(fields[2]),
		sn:    model.SerialNumber(sn),
		pc:    strings.TrimSpace(fields[4]),
		// An unquoted disassembly containing commas spans several fields.
		disasm: strings.Join(fields[5:last], ","),
		status: strings.TrimSpace(fields[last]),
	}, true
}

// fetch records an IF event. Without a known owner the event joins the
// fetch queue; the same PC as the queue tail is a stall of that occurrence.
func (p *Parser) fetch(rec record) {
	if inst := p.known(rec.sn); inst != nil {
		p.appendTo(inst, model.StageIF, rec)
		return
	}
	if rec.status == model.StatusBubble {
		return
	}

	entry := model.StatusEntry{Tick: rec.tick, Status: rec.status}
	if n := len(p.queue); n > 0 && p.queue[n-1].pc == rec.pc {
		p.queue[n-1].history = append(p.queue[n-1].history, entry)
		return
	}
	if len(p.queue) >= maxFetchQueue {
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, pendingFetch{pc: rec.pc, history: []model.StatusEntry{entry}})
}

func (p *Parser) decodeStage(idx pipe.LineIndex, rec record) {
	if rec.sn == 0 {
		switch rec.status {
		case model.StatusStalled:
			inst := p.known(p.lastDecode)
			if inst == nil {
				p.diags.Addf(idx, common.DiagUnresolved, "ID stall at tick %d with no previous decode", rec.tick)
				return
			}
			inst.Append(model.StageID, rec.tick, rec.status)
		case model.StatusBubble:
			p.lastDecode = 0
		default:
			p.diags.Addf(idx, common.DiagUnresolved, "ID %s at tick %d has no serial number", rec.status, rec.tick)
		}
		return
	}

	p.lastDecode = rec.sn
	if inst := p.known(rec.sn); inst != nil {
		p.appendTo(inst, model.StageID, rec)
		return
	}

	inst := p.create(rec)
	if hist, ok := p.claimFetch(rec.pc); ok {
		inst.Stages[model.StageIF] = hist
	} else {
		inst.Append(model.StageIF, rec.tick, model.StatusUnknown)
	}
	p.appendTo(inst, model.StageID, rec)
}

// claimFetch takes the oldest queued fetch with a matching PC, dropping
// it and every older entry.
func (p *Parser) claimFetch(pc string) ([]model.StatusEntry, bool) {
	for i, f := range p.queue {
		if f.pc == pc {
			p.queue = p.queue[i+1:]
			return f.history, true
		}
	}
	return nil, false
}

func (p *Parser) execute(idx pipe.LineIndex, rec record) {
	if rec.sn == 0 {
		switch rec.status {
		case model.StatusStalled:
			inst := p.known(p.lastExec)
			if inst == nil {
				p.diags.Addf(idx, common.DiagUnresolved, "EX stall at tick %d with no previous execute", rec.tick)
				return
			}
			inst.Append(model.StageEX, rec.tick, rec.status)
			// TODO: confirm tick vs tick+1 for the provisional retire against
			// simulator ground truth; RetireOffset defaults to 0 until then.
			inst.Append(model.StageRETIRE, rec.tick+p.opts.RetireOffset, model.StatusRetire)
		case model.StatusBubble:
			p.lastExec = 0
		default:
			p.diags.Addf(idx, common.DiagUnresolved, "EX %s at tick %d has no serial number", rec.status, rec.tick)
		}
		return
	}

	p.lastExec = rec.sn
	if inst := p.known(rec.sn); inst != nil {
		p.appendTo(inst, model.StageEX, rec)
		return
	}

	// Decode was lost or fell outside the window.
	inst := p.create(rec)
	inst.Append(model.StageIF, rec.tick, model.StatusUnknown)
	inst.Append(model.StageID, rec.tick, model.StatusUnknown)
	p.appendTo(inst, model.StageEX, rec)
}

// other handles stage codes beyond IF/ID/EX by appending to a known owner.
func (p *Parser) other(idx pipe.LineIndex, rec record) {
	inst := p.known(rec.sn)
	if inst == nil {
		p.diags.Addf(idx, common.DiagUnresolved, "%s event at tick %d for unknown serial number %d", rec.stage, rec.tick, rec.sn)
		return
	}
	p.appendTo(inst, rec.stage, rec)
}

func (p *Parser) known(sn model.SerialNumber) *model.FlexInstruction {
	if sn == 0 {
		return nil
	}
	return p.insts[sn]
}

func (p *Parser) create(rec record) *model.FlexInstruction {
	inst := model.NewFlexInstruction(rec.sn, rec.pc, rec.disasm)
	p.insts[rec.sn] = inst
	p.stats.Created++
	return inst
}

// appendTo records rec on stage and fills in header fields the first
// sighting lacked. A RETIRE status also lands in the RETIRE history.
func (p *Parser) appendTo(inst *model.FlexInstruction, stage string, rec record) {
	inst.Append(stage, rec.tick, rec.status)
	if rec.status == model.StatusRetire && stage != model.StageRETIRE {
		inst.Append(model.StageRETIRE, rec.tick, rec.status)
	}
	if inst.Disasm == "" {
		inst.Disasm = rec.disasm
	}
	if inst.PC == "" {
		inst.PC = rec.pc
	}
}
