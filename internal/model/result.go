package model

import (
	"cmp"
	"slices"

	"pipeview/internal/common"
	"pipeview/internal/pipe"
	"pipeview/internal/window"
)

// Stats summarises one parse pass.
type Stats struct {
	Lines      uint64 `json:"lines"`
	Records    uint64 `json:"records"`
	Created    int    `json:"created"`
	Terminated bool   `json:"terminated_early"`
	StopLine   uint64 `json:"stop_line,omitempty"`
}

// Result is the response payload of one parse run.
type Result struct {
	MinTick      pipe.Tick               `json:"min_tick"`
	Instructions []Instruction           `json:"instructions"`
	Count        int                     `json:"count"`
	CPUType      pipe.Dialect            `json:"cpu_type"`
	Diagnostics  []common.Diag           `json:"diagnostics"`
	DiagCounts   map[common.DiagKind]int `json:"diag_counts,omitempty"`
	Stats        Stats                   `json:"stats"`
}

// Assemble applies the liveness filter to byID, orders the survivors by
// serial number and computes min_tick (the earliest fetch tick among them,
// or w.Start when none has one).
func Assemble[T Instruction](dialect pipe.Dialect, byID map[SerialNumber]T, w window.Window, diags *common.Diags) *Result {
	res := &Result{
		MinTick:      w.Start,
		Instructions: make([]Instruction, 0, len(byID)),
		CPUType:      dialect,
		Diagnostics:  []common.Diag{},
	}

	kept := make([]T, 0, len(byID))
	for _, inst := range byID {
		if w.Live(inst.MaxTick()) {
			kept = append(kept, inst)
		}
	}
	slices.SortFunc(kept, func(a, b T) int {
		return cmp.Compare(a.Header().ID, b.Header().ID)
	})

	found := false
	for _, inst := range kept {
		res.Instructions = append(res.Instructions, inst)
		if t, ok := inst.FetchTick(); ok && (!found || t < res.MinTick) {
			res.MinTick = t
			found = true
		}
	}
	res.Count = len(res.Instructions)

	if diags != nil {
		if items := diags.Items(); len(items) > 0 {
			res.Diagnostics = items
		}
		if diags.Total() > 0 {
			res.DiagCounts = diags.Counts()
		}
	}
	return res
}
