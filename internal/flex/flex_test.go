package flex

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pipeview/internal/common"
	"pipeview/internal/model"
	"pipeview/internal/pipe"
	"pipeview/internal/window"
)

type entries = []model.StatusEntry

func trace(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func parse(t *testing.T, in string, opts Options) *model.Result {
	t.Helper()
	res, err := Parse(strings.NewReader(in), opts)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return res
}

func inst(id model.SerialNumber, pc, disasm string, stages map[string]entries) *model.FlexInstruction {
	i := model.NewFlexInstruction(id, pc, disasm)
	i.Stages = stages
	return i
}

func TestDecodeClaimsFetchByPC(t *testing.T) {
	res := parse(t, trace(
		`PIPE_TRACE,10,IF,0,0x800,"",FETCHED`,
		`PIPE_TRACE,12,ID,7,0x800,"nop",FETCHED`,
	), Options{Window: window.All})

	want := []model.Instruction{
		inst(7, "0x800", "nop", map[string]entries{
			"IF": {{Tick: 10, Status: "FETCHED"}},
			"ID": {{Tick: 12, Status: "FETCHED"}},
		}),
	}
	if diff := cmp.Diff(want, res.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
	if res.CPUType != pipe.DialectFlex || res.MinTick != 10 {
		t.Errorf("cpu_type=%v min_tick=%d", res.CPUType, res.MinTick)
	}
}

func TestFetchStallAndSquash(t *testing.T) {
	p := NewParser(Options{Window: window.All})
	res, err := p.Parse(strings.NewReader(trace(
		`PIPE_TRACE,1,IF,0,0x100,"",FETCHED`,
		`PIPE_TRACE,2,IF,0,0x104,"",WAITING_MEM`,
		`PIPE_TRACE,3,IF,0,0x104,"",FETCHED`,
		`PIPE_TRACE,4,IF,0,0x108,"",FETCHED`,
		`PIPE_TRACE,4,IF,0,0x000,"",BUBBLE`,
		// 0x100 is never decoded: squashed when 0x104 is claimed.
		`PIPE_TRACE,5,ID,1,0x104,"ld x1, [x2]",FETCHED`,
		`PIPE_TRACE,6,ID,2,0x108,"add x3, x1, x1",FETCHED`,
	)))
	if err != nil {
		t.Fatal(err)
	}

	want := []model.Instruction{
		inst(1, "0x104", "ld x1, [x2]", map[string]entries{
			"IF": {{Tick: 2, Status: "WAITING_MEM"}, {Tick: 3, Status: "FETCHED"}},
			"ID": {{Tick: 5, Status: "FETCHED"}},
		}),
		inst(2, "0x108", "add x3, x1, x1", map[string]entries{
			"IF": {{Tick: 4, Status: "FETCHED"}},
			"ID": {{Tick: 6, Status: "FETCHED"}},
		}),
	}
	if diff := cmp.Diff(want, res.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
	if p.QueueLen() != 0 {
		t.Errorf("QueueLen() = %d, want 0", p.QueueLen())
	}
}

func TestFIFOAmongEqualPCs(t *testing.T) {
	res := parse(t, trace(
		`PIPE_TRACE,1,IF,0,0x200,"",FETCHED`,
		`PIPE_TRACE,2,IF,0,0x204,"",FETCHED`,
		`PIPE_TRACE,3,IF,0,0x200,"",FETCHED`,
		`PIPE_TRACE,4,ID,10,0x200,"b loop",FETCHED`,
		`PIPE_TRACE,5,ID,11,0x204,"nop",FETCHED`,
		`PIPE_TRACE,6,ID,12,0x200,"b loop",FETCHED`,
	), Options{Window: window.All})

	got := map[model.SerialNumber]entries{}
	for _, i := range res.Instructions {
		f := i.(*model.FlexInstruction)
		got[f.ID] = f.Stages["IF"]
	}
	want := map[model.SerialNumber]entries{
		10: {{Tick: 1, Status: "FETCHED"}},
		11: {{Tick: 2, Status: "FETCHED"}},
		12: {{Tick: 3, Status: "FETCHED"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fetch histories mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeWithoutFetchSynthesizesUnknown(t *testing.T) {
	res := parse(t, trace(
		`PIPE_TRACE,1,IF,0,0x300,"",FETCHED`,
		`PIPE_TRACE,8,ID,3,0x999,"mul",FETCHED`,
	), Options{Window: window.All})

	want := []model.Instruction{
		inst(3, "0x999", "mul", map[string]entries{
			"IF": {{Tick: 8, Status: "UNKNOWN"}},
			"ID": {{Tick: 8, Status: "FETCHED"}},
		}),
	}
	if diff := cmp.Diff(want, res.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeStallsAndBubbles(t *testing.T) {
	res := parse(t, trace(
		`PIPE_TRACE,1,IF,0,0x10,"",FETCHED`,
		`PIPE_TRACE,2,ID,1,0x10,"div",FETCHED`,
		`PIPE_TRACE,3,ID,0,0x0,"",STALLED`,
		`PIPE_TRACE,4,ID,1,0x10,"div",STALLED`,
		`PIPE_TRACE,5,ID,0,0x0,"",BUBBLE`,
		`PIPE_TRACE,6,ID,0,0x0,"",STALLED`,
	), Options{Window: window.All})

	want := []model.Instruction{
		inst(1, "0x10", "div", map[string]entries{
			"IF": {{Tick: 1, Status: "FETCHED"}},
			"ID": {{Tick: 2, Status: "FETCHED"}, {Tick: 3, Status: "STALLED"}, {Tick: 4, Status: "STALLED"}},
		}),
	}
	if diff := cmp.Diff(want, res.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
	if res.DiagCounts[common.DiagUnresolved] != 1 {
		t.Errorf("stall after a bubble should be unresolved, diags=%v", res.DiagCounts)
	}
}

func TestExecuteStallsRecordProvisionalRetire(t *testing.T) {
	in := trace(
		`PIPE_TRACE,1,IF,0,0x20,"",FETCHED`,
		`PIPE_TRACE,2,ID,4,0x20,"ld",FETCHED`,
		`PIPE_TRACE,3,EX,4,0x20,"ld",WAITING_MEM`,
		`PIPE_TRACE,4,EX,0,0x0,"",STALLED`,
		`PIPE_TRACE,5,EX,0,0x0,"",BUBBLE`,
		`PIPE_TRACE,6,EX,0,0x0,"",STALLED`,
	)

	tests := []struct {
		name   string
		offset pipe.Tick
		retire pipe.Tick
	}{
		{"same tick", 0, 4},
		{"next tick", 1, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parse(t, in, Options{Window: window.All, RetireOffset: tt.offset})
			want := []model.Instruction{
				inst(4, "0x20", "ld", map[string]entries{
					"IF":     {{Tick: 1, Status: "FETCHED"}},
					"ID":     {{Tick: 2, Status: "FETCHED"}},
					"EX":     {{Tick: 3, Status: "WAITING_MEM"}, {Tick: 4, Status: "STALLED"}},
					"RETIRE": {{Tick: tt.retire, Status: "RETIRE"}},
				}),
			}
			if diff := cmp.Diff(want, res.Instructions); diff != "" {
				t.Errorf("instructions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExecuteFirstSighting(t *testing.T) {
	res := parse(t, trace(
		`PIPE_TRACE,40,EX,9,0x44,"sub",FETCHED`,
		`PIPE_TRACE,41,EX,9,0x44,"sub",RETIRE`,
	), Options{Window: window.All})

	want := []model.Instruction{
		inst(9, "0x44", "sub", map[string]entries{
			"IF":     {{Tick: 40, Status: "UNKNOWN"}},
			"ID":     {{Tick: 40, Status: "UNKNOWN"}},
			"EX":     {{Tick: 40, Status: "FETCHED"}, {Tick: 41, Status: "RETIRE"}},
			"RETIRE": {{Tick: 41, Status: "RETIRE"}},
		}),
	}
	if diff := cmp.Diff(want, res.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestUnquotedDisasmWithCommas(t *testing.T) {
	res := parse(t, trace(
		`PIPE_TRACE,1,ID,1,0x0,add x1, x2, x3,FETCHED`,
	), Options{Window: window.All})
	if got := res.Instructions[0].Header().Disasm; got != "add x1, x2, x3" {
		t.Errorf("disasm = %q", got)
	}
}

func TestWindowing(t *testing.T) {
	in := trace(
		`PIPE_TRACE,5,IF,0,0x0,"",FETCHED`,
		`PIPE_TRACE,6,ID,1,0x0,"early",FETCHED`,
		`PIPE_TRACE,60000,IF,0,0x4,"",FETCHED`,
		`PIPE_TRACE,60001,ID,2,0x4,"mid",FETCHED`,
		`PIPE_TRACE,150000,ID,3,0x8,"late",FETCHED`,
		`PIPE_TRACE,150001,ID,4,0xc,"later",FETCHED`,
	)

	res := parse(t, in, Options{Window: window.Window{Start: 100000, End: 100000}})
	// Lookback is 50000: sn 1 is skipped, sn 2 is created but its last
	// tick precedes the start; 150001 is past the 150000 lookahead.
	var ids []model.SerialNumber
	for _, i := range res.Instructions {
		ids = append(ids, i.Header().ID)
	}
	if diff := cmp.Diff([]model.SerialNumber{3}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if !res.Stats.Terminated || res.Stats.StopLine != 6 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if res.MinTick != 150000 {
		t.Errorf("MinTick = %d, want 150000", res.MinTick)
	}
}

func TestOutOfWindowLiveness(t *testing.T) {
	res := parse(t, trace(`PIPE_TRACE,5,ID,1,0x0,"x",FETCHED`), Options{Window: window.Window{Start: 1000, End: pipe.UnboundedEnd}})
	if res.Count != 0 || res.MinTick != 1000 {
		t.Errorf("count=%d min_tick=%d, want 0 and 1000", res.Count, res.MinTick)
	}
}

func TestMalformedLines(t *testing.T) {
	res := parse(t, trace(
		`# comment`,
		`PIPE_TRACE,1,IF,0`,
		`PIPE_TRACE,x,IF,0,0x0,"",FETCHED`,
		`PIPE_TRACE,1,IF,-3,0x0,"",FETCHED`,
		`PIPE_TRACE_EXTRA,1,IF,0,0x0,"",FETCHED`,
		`PIPE_TRACE,2,WB,77,0x0,"",FETCHED`,
		`PIPE_TRACE,3,ID,5,0x0,"ok",FETCHED`,
		`PIPE_TRACE,4,WB,5,0x0,"",FETCHED`,
	), Options{Window: window.All})

	wantCounts := map[common.DiagKind]int{common.DiagMalformed: 4, common.DiagUnresolved: 1}
	if diff := cmp.Diff(wantCounts, res.DiagCounts); diff != "" {
		t.Errorf("diag counts mismatch (-want +got):\n%s", diff)
	}
	want := []model.Instruction{
		inst(5, "0x0", "ok", map[string]entries{
			"IF": {{Tick: 3, Status: "UNKNOWN"}},
			"ID": {{Tick: 3, Status: "FETCHED"}},
			"WB": {{Tick: 4, Status: "FETCHED"}},
		}),
	}
	if diff := cmp.Diff(want, res.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestIdempotent(t *testing.T) {
	in := trace(
		`PIPE_TRACE,1,IF,0,0x100,"",FETCHED`,
		`PIPE_TRACE,2,IF,0,0x104,"",FETCHED`,
		`PIPE_TRACE,2,ID,1,0x100,"a",FETCHED`,
		`PIPE_TRACE,3,ID,2,0x104,"b",FETCHED`,
		`PIPE_TRACE,3,EX,1,0x100,"a",FETCHED`,
		`PIPE_TRACE,4,EX,0,0x0,"",STALLED`,
	)
	a := parse(t, in, Options{Window: window.All})
	b := parse(t, in, Options{Window: window.All})
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if !bytes.Equal(ja, jb) {
		t.Errorf("two parses differ:\n%s\n%s", ja, jb)
	}
}

func TestLargestEnd(t *testing.T) {
	res := parse(t, trace(
		`PIPE_TRACE,100,IF,0,0x10,"",FETCHED`,
		`PIPE_TRACE,101,ID,1,0x10,"a",FETCHED`,
		`PIPE_TRACE,102,EX,1,0x10,"a",RETIRE`,
	), Options{Window: window.Window{Start: 0, End: math.MaxInt64}})
	if res.Count != 1 || res.Stats.Terminated {
		t.Errorf("count=%d terminated=%v, want 1 and false", res.Count, res.Stats.Terminated)
	}
}

// sn 1 straddles the lower margin of the narrow windows: it is only
// partially seen there and must not be reported until a window covers it.
const windowed = `PIPE_TRACE,40000,IF,0,0x10,"",FETCHED
PIPE_TRACE,60000,ID,1,0x10,"a",FETCHED
PIPE_TRACE,70000,EX,1,0x10,"a",RETIRE
PIPE_TRACE,99000,IF,0,0x20,"",WAITING_MEM
PIPE_TRACE,99500,IF,0,0x20,"",FETCHED
PIPE_TRACE,100000,ID,2,0x20,"b",FETCHED
PIPE_TRACE,100001,ID,0,0x0,"",STALLED
PIPE_TRACE,100002,EX,2,0x20,"b",FETCHED
PIPE_TRACE,100003,EX,0,0x0,"",STALLED
PIPE_TRACE,100004,EX,2,0x20,"b",RETIRE
PIPE_TRACE,120000,IF,0,0x30,"",FETCHED
PIPE_TRACE,120001,ID,3,0x30,"c",FETCHED
PIPE_TRACE,120002,EX,3,0x30,"c",RETIRE
PIPE_TRACE,180000,IF,0,0x40,"",FETCHED
PIPE_TRACE,180001,ID,4,0x40,"d",FETCHED
PIPE_TRACE,300000,IF,0,0x50,"",FETCHED
PIPE_TRACE,300001,ID,5,0x50,"e",FETCHED
`

func TestWindowMonotonic(t *testing.T) {
	tests := []struct {
		w   window.Window
		ids []model.SerialNumber
	}{
		{window.Window{Start: 100000, End: 100000}, []model.SerialNumber{2, 3}},
		{window.Window{Start: 90000, End: 110000}, []model.SerialNumber{2, 3}},
		{window.Window{Start: 20000, End: 200000}, []model.SerialNumber{1, 2, 3, 4}},
		{window.All, []model.SerialNumber{1, 2, 3, 4, 5}},
	}
	prev := map[model.SerialNumber]*model.FlexInstruction{}
	for _, tt := range tests {
		res := parse(t, windowed, Options{Window: tt.w})
		var ids []model.SerialNumber
		got := map[model.SerialNumber]*model.FlexInstruction{}
		for _, i := range res.Instructions {
			ids = append(ids, i.Header().ID)
			got[i.Header().ID] = i.(*model.FlexInstruction)
		}
		if diff := cmp.Diff(tt.ids, ids); diff != "" {
			t.Errorf("window %+v ids mismatch (-want +got):\n%s", tt.w, diff)
		}
		for id, old := range prev {
			cur, ok := got[id]
			if !ok {
				t.Errorf("window %+v dropped sn %d", tt.w, id)
				continue
			}
			if diff := cmp.Diff(old, cur); diff != "" {
				t.Errorf("window %+v changed sn %d (-narrow +wide):\n%s", tt.w, id, diff)
			}
		}
		prev = got
	}

	want := inst(2, "0x20", "b", map[string]entries{
		"IF":     {{Tick: 99000, Status: "WAITING_MEM"}, {Tick: 99500, Status: "FETCHED"}},
		"ID":     {{Tick: 100000, Status: "FETCHED"}, {Tick: 100001, Status: "STALLED"}},
		"EX":     {{Tick: 100002, Status: "FETCHED"}, {Tick: 100003, Status: "STALLED"}, {Tick: 100004, Status: "RETIRE"}},
		"RETIRE": {{Tick: 100003, Status: "RETIRE"}, {Tick: 100004, Status: "RETIRE"}},
	})
	if diff := cmp.Diff(want, prev[2]); diff != "" {
		t.Errorf("sn 2 mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderingStrict(t *testing.T) {
	res := parse(t, trace(
		`PIPE_TRACE,10,ID,30,0x0,"a",FETCHED`,
		`PIPE_TRACE,11,ID,10,0x4,"b",FETCHED`,
		`PIPE_TRACE,12,ID,20,0x8,"c",FETCHED`,
	), Options{Window: window.All})
	if res.Count != 3 {
		t.Fatalf("Count = %d, want 3", res.Count)
	}
	for i := 1; i < len(res.Instructions); i++ {
		if res.Instructions[i-1].Header().ID >= res.Instructions[i].Header().ID {
			t.Fatalf("instructions not strictly ascending at %d", i)
		}
	}
	if res.MinTick != 10 {
		t.Errorf("MinTick = %d, want 10", res.MinTick)
	}
}
