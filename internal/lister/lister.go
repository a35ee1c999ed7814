package lister

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pipeview/internal/common"
	"pipeview/internal/config"
	"pipeview/internal/decoder"
	"pipeview/internal/model"
	"pipeview/internal/printers"
	"pipeview/internal/source"
	"pipeview/internal/stagegraph"
	"pipeview/internal/window"
)

// Format selects what Run writes.
type Format string

const (
	FormatList Format = "list"
	FormatJSON Format = "json"
	FormatDOT  Format = "dot"
)

// Config carries the command line arguments of one lister run.
type Config struct {
	TracePath    string
	Format       Format
	Window       window.Window
	Settings     config.Config
	Relative     bool // list: ticks relative to min_tick
	PrintStats   bool // list: trailing per-run counters
	NoIdx        bool // list: drop the Idx:<n>; prefix
	NoDiags      bool // list: omit the diagnostics block
	Quiet        bool // list: suppress the timeline, keep stats
	EchoLog      bool // list: mirror printed lines to Logger at debug level
	Indent       bool // json: pretty-print
	OutputWriter io.Writer
	Logger       common.Logger
}

// Run decodes the trace at cfg.TracePath and writes it in cfg.Format.
func Run(cfg Config) error {
	w := cfg.OutputWriter
	if w == nil {
		w = os.Stdout
	}
	if cfg.Format == "" {
		cfg.Format = FormatList
	}
	log := common.OrNoOp(cfg.Logger)

	tr, err := source.Open(cfg.TracePath)
	if err != nil {
		return fmt.Errorf("failed to open trace: %w", err)
	}
	defer tr.Close()
	if tr.Compressed {
		log.Logf(common.SeverityDebug, "lister: %s is snappy compressed", cfg.TracePath)
	}

	res, err := decoder.Decode(tr, cfg.Settings.DecoderOptions(cfg.Window, cfg.Logger))
	if err != nil {
		return fmt.Errorf("error decoding trace: %w", err)
	}
	log.Logf(common.SeverityInfo, "lister: %s: %s trace, %d instructions, %d diagnostics",
		filepath.Base(cfg.TracePath), res.CPUType, res.Count, len(res.Diagnostics))

	switch cfg.Format {
	case FormatList:
		p := printers.NewTimelinePrinterTo(w)
		p.SetRelativeTicks(cfg.Relative)
		p.SetShowDiags(!cfg.NoDiags)
		p.MuteIdxPrint(cfg.NoIdx)
		if cfg.EchoLog && cfg.Logger != nil {
			p.SetMessageLogger(cfg.Logger)
		}
		p.SetMute(cfg.Quiet)
		p.PrintResult(res)
		p.SetMute(false)
		if cfg.PrintStats {
			p.PrintStats(res)
		}
		log.Logf(common.SeverityDebug, "lister: wrote %d list blocks", p.Lines())
		return nil
	case FormatJSON:
		return writeJSON(w, res, cfg.Indent)
	case FormatDOT:
		g := stagegraph.Build(res)
		_, err := io.WriteString(w, g.DOT(filepath.Base(cfg.TracePath)))
		return err
	}
	return fmt.Errorf("unknown output format %q", cfg.Format)
}

func writeJSON(w io.Writer, res *model.Result, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}
