// Package model holds the per-instruction timeline records produced by the
// trace parsers, and the result assembler shared by both dialects.
//
// Instruction is a closed sum: *O3Instruction for the sequential-tag
// dialect, *FlexInstruction for the columnar-status dialect. Only the
// header fields in Base are shared.
package model

import (
	"slices"

	"pipeview/internal/pipe"
)

// SerialNumber identifies a dynamic instruction within one parse run.
type SerialNumber uint64

// Base carries the fields common to both record shapes.
type Base struct {
	ID     SerialNumber `json:"id"`
	PC     string       `json:"pc"`
	Disasm string       `json:"disasm"`
}

// Instruction is one reconstructed dynamic instruction.
type Instruction interface {
	Header() *Base
	Dialect() pipe.Dialect
	// MaxTick is the latest tick recorded anywhere in the timeline.
	MaxTick() pipe.Tick
	// FetchTick is the instruction's (first) fetch tick, if it has one.
	FetchTick() (pipe.Tick, bool)
	// StageNames lists recorded stages in timeline order.
	StageNames() []string
}

// O3 stage names.
const (
	StageFetch    = "fetch"
	StageDecode   = "decode"
	StageRename   = "rename"
	StageDispatch = "dispatch"
	StageIssue    = "issue"
	StageComplete = "complete"
	StageRetire   = "retire"
	StageStore    = "store"
	StageCache    = "cache"
)

// CacheEvent is a cache miss attributed to an instruction.
type CacheEvent struct {
	Tick   pipe.Tick `json:"tick"`
	Type   string    `json:"type"`
	VAddr  string    `json:"vaddr"`
	PAddr  string    `json:"paddr"`
	Result string    `json:"result"`
}

// O3Instruction is a sequential-tag record: one tick per stage,
// last write wins.
type O3Instruction struct {
	Base
	Stages      map[string]pipe.Tick `json:"stages"`
	IsFlushed   bool                 `json:"is_flushed"`
	CacheEvents []CacheEvent         `json:"cache_events"`
}

// NewO3Instruction creates a record with an empty timeline.
func NewO3Instruction(id SerialNumber, pc, disasm string) *O3Instruction {
	return &O3Instruction{
		Base:        Base{ID: id, PC: pc, Disasm: disasm},
		Stages:      make(map[string]pipe.Tick),
		CacheEvents: []CacheEvent{},
	}
}

func (i *O3Instruction) Header() *Base         { return &i.Base }
func (i *O3Instruction) Dialect() pipe.Dialect { return pipe.DialectO3 }

func (i *O3Instruction) MaxTick() pipe.Tick {
	var m pipe.Tick
	for _, t := range i.Stages {
		m = max(m, t)
	}
	return m
}

func (i *O3Instruction) FetchTick() (pipe.Tick, bool) {
	t, ok := i.Stages[StageFetch]
	return t, ok
}

// Retired reports whether the timeline holds a non-zero retire tick.
func (i *O3Instruction) Retired() bool {
	t, ok := i.Stages[StageRetire]
	return ok && t != 0
}

func (i *O3Instruction) StageNames() []string {
	names := make([]string, 0, len(i.Stages))
	for name := range i.Stages {
		names = append(names, name)
	}
	// Order by tick, then by name so equal ticks are stable.
	slices.SortFunc(names, func(a, b string) int {
		if ta, tb := i.Stages[a], i.Stages[b]; ta != tb {
			if ta < tb {
				return -1
			}
			return 1
		}
		return o3Rank(a) - o3Rank(b)
	})
	return names
}

var o3Order = []string{
	StageFetch, StageDecode, StageRename, StageDispatch,
	StageIssue, StageComplete, StageRetire, StageStore,
}

func o3Rank(stage string) int {
	if i := slices.Index(o3Order, stage); i >= 0 {
		return i
	}
	return len(o3Order)
}

// Flex stage codes and status codes.
const (
	StageIF     = "IF"
	StageID     = "ID"
	StageEX     = "EX"
	StageRETIRE = "RETIRE"

	StatusFetched    = "FETCHED"
	StatusStalled    = "STALLED"
	StatusWaitingMem = "WAITING_MEM"
	StatusBubble     = "BUBBLE"
	StatusRetire     = "RETIRE"
	StatusUnknown    = "UNKNOWN"
)

var flexOrder = []string{StageIF, StageID, StageEX, StageRETIRE}

// StatusEntry is one timestamped observation of a Flex stage.
type StatusEntry struct {
	Tick   pipe.Tick `json:"tick"`
	Status string    `json:"status"`
}

// FlexInstruction is a columnar-status record: an ordered history of
// status entries per stage, since a stage may be revisited across stalls.
type FlexInstruction struct {
	Base
	Stages map[string][]StatusEntry `json:"stages"`
}

// NewFlexInstruction creates a record with an empty timeline.
func NewFlexInstruction(id SerialNumber, pc, disasm string) *FlexInstruction {
	return &FlexInstruction{
		Base:   Base{ID: id, PC: pc, Disasm: disasm},
		Stages: make(map[string][]StatusEntry),
	}
}

func (i *FlexInstruction) Header() *Base         { return &i.Base }
func (i *FlexInstruction) Dialect() pipe.Dialect { return pipe.DialectFlex }

// Append adds an entry to a stage history.
func (i *FlexInstruction) Append(stage string, tick pipe.Tick, status string) {
	i.Stages[stage] = append(i.Stages[stage], StatusEntry{Tick: tick, Status: status})
}

func (i *FlexInstruction) MaxTick() pipe.Tick {
	var m pipe.Tick
	for _, hist := range i.Stages {
		for _, e := range hist {
			m = max(m, e.Tick)
		}
	}
	return m
}

func (i *FlexInstruction) FetchTick() (pipe.Tick, bool) {
	hist := i.Stages[StageIF]
	if len(hist) == 0 {
		return 0, false
	}
	return hist[0].Tick, true
}

// StageNames lists IF, ID, EX, RETIRE first, then any other stage codes
// the trace used, alphabetically.
func (i *FlexInstruction) StageNames() []string {
	var names, extra []string
	for _, s := range flexOrder {
		if len(i.Stages[s]) > 0 {
			names = append(names, s)
		}
	}
	for s, hist := range i.Stages {
		if len(hist) > 0 && !slices.Contains(flexOrder, s) {
			extra = append(extra, s)
		}
	}
	slices.Sort(extra)
	return append(names, extra...)
}
