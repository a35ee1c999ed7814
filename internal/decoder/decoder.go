// Package decoder is the entry point for turning a trace stream into a
// per-instruction pipeline timeline. It classifies the stream, rewinds it
// and hands it to the parser for the detected dialect.
package decoder

import (
	"io"

	"pipeview/internal/classify"
	"pipeview/internal/common"
	"pipeview/internal/flex"
	"pipeview/internal/model"
	"pipeview/internal/o3"
	"pipeview/internal/pipe"
	"pipeview/internal/window"
)

// Options controls a decode run. Zero values select the defaults.
type Options struct {
	Window window.Window

	O3Margin         pipe.Tick
	FlexMargin       pipe.Tick
	FlexRetireOffset pipe.Tick
	ClassifyLines    int
	MaxLineBytes     int
	MaxDiags         int

	// Force skips classification when set.
	Force  *pipe.Dialect
	Logger common.Logger
}

// DefaultOptions returns options covering the whole trace.
func DefaultOptions() Options {
	return Options{Window: window.All}
}

// Decode classifies r and parses it in a single forward pass. Only
// stream-level faults and an invalid window are returned as errors;
// malformed lines are reported in the result's diagnostics.
func Decode(r io.ReadSeeker, opts Options) (*model.Result, error) {
	if r == nil {
		return nil, common.NewErrorMsg(pipe.ErrSevError, pipe.ErrNotSeekable, "nil trace stream")
	}
	if err := opts.Window.Validate(); err != nil {
		return nil, err
	}
	log := common.OrNoOp(opts.Logger)

	var dialect pipe.Dialect
	if opts.Force != nil {
		dialect = *opts.Force
	} else {
		d, err := classify.Detect(r, opts.ClassifyLines)
		if err != nil {
			return nil, err
		}
		dialect = d
	}
	log.Logf(common.SeverityDebug, "decoder: %s trace, window [%d, %d]", dialect, opts.Window.Start, opts.Window.End)

	switch dialect {
	case pipe.DialectO3:
		return o3.Parse(r, o3.Options{
			Window:       opts.Window,
			Margin:       opts.O3Margin,
			MaxLineBytes: opts.MaxLineBytes,
			MaxDiags:     opts.MaxDiags,
			Logger:       opts.Logger,
		})
	case pipe.DialectFlex:
		return flex.Parse(r, flex.Options{
			Window:       opts.Window,
			Margin:       opts.FlexMargin,
			RetireOffset: opts.FlexRetireOffset,
			MaxLineBytes: opts.MaxLineBytes,
			MaxDiags:     opts.MaxDiags,
			Logger:       opts.Logger,
		})
	}
	return nil, common.NewErrorMsg(pipe.ErrSevError, pipe.ErrUnknownDialect, dialect.String())
}
