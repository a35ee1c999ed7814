// Package window implements the tick-window policy shared by both trace
// parsers: lookahead termination, lookback skip and post-pass liveness.
package window

import (
	"fmt"
	"math"

	"pipeview/internal/common"
	"pipeview/internal/pipe"
)

// Window is the tick range a caller asked for. End == pipe.UnboundedEnd
// means no upper bound.
type Window struct {
	Start pipe.Tick
	End   pipe.Tick
}

// All is the window covering the whole trace.
var All = Window{Start: 0, End: pipe.UnboundedEnd}

// Bounded reports whether the window has an upper bound.
func (w Window) Bounded() bool { return w.End >= 0 }

// Validate rejects negative starts and ends that precede the start.
func (w Window) Validate() error {
	if w.Start < 0 {
		return common.NewErrorMsg(pipe.ErrSevError, pipe.ErrInvalidWindow,
			fmt.Sprintf("start_tick %d is negative", w.Start))
	}
	if w.End != pipe.UnboundedEnd && (w.End < 0 || w.End < w.Start) {
		return common.NewErrorMsg(pipe.ErrSevError, pipe.ErrInvalidWindow,
			fmt.Sprintf("end_tick %d precedes start_tick %d", w.End, w.Start))
	}
	return nil
}

// Bounds is a Window widened by a dialect margin.
type Bounds struct {
	Window
	Margin pipe.Tick
	low    pipe.Tick
	high   pipe.Tick
}

// WithMargin widens w by margin ticks on both sides. The lower bound is
// floored at zero and the upper bound saturates at math.MaxInt64.
func (w Window) WithMargin(margin pipe.Tick) Bounds {
	b := Bounds{Window: w, Margin: margin}
	b.low = max(0, w.Start-margin)
	if w.Bounded() {
		if w.End > math.MaxInt64-margin {
			b.high = math.MaxInt64
		} else {
			b.high = w.End + margin
		}
	}
	return b
}

// Low returns the effective lookback tick.
func (b Bounds) Low() pipe.Tick { return b.low }

// High returns the effective lookahead tick, or pipe.UnboundedEnd.
func (b Bounds) High() pipe.Tick {
	if !b.Bounded() {
		return pipe.UnboundedEnd
	}
	return b.high
}

// Beyond reports whether tick lies past the lookahead; the scan stops there.
func (b Bounds) Beyond(tick pipe.Tick) bool {
	return b.Bounded() && tick > b.high
}

// Before reports whether tick lies before the lookback; such defining
// events are skipped without creating an instruction.
func (b Bounds) Before(tick pipe.Tick) bool {
	return tick < b.low
}

// Live reports whether an instruction whose latest observed tick is
// maxTick is retained. The literal start tick applies, not the lookback.
func (w Window) Live(maxTick pipe.Tick) bool {
	return maxTick >= w.Start
}
