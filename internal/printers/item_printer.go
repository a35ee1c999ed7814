package printers

import (
	"fmt"
	"io"

	"pipeview/internal/common"
)

// ItemPrinter is the line sink shared by the printers in this package.
type ItemPrinter struct {
	writer    io.Writer
	log       common.Logger
	muted     bool
	idxMuted  bool
	linesDone int
}

// NewItemPrinter constructs an ItemPrinter writing to writer.
func NewItemPrinter(writer io.Writer) *ItemPrinter {
	return &ItemPrinter{writer: writer}
}

// SetOutput redirects the printer. A nil writer is ignored.
func (p *ItemPrinter) SetOutput(w io.Writer) {
	if w != nil {
		p.writer = w
	}
}

// SetMessageLogger mirrors every printed line to logger at debug level.
func (p *ItemPrinter) SetMessageLogger(logger common.Logger) { p.log = logger }

// ItemPrintLine writes msg to the writer and the optional logger.
func (p *ItemPrinter) ItemPrintLine(msg string) {
	if p.muted {
		return
	}
	if p.writer != nil {
		fmt.Fprint(p.writer, msg)
	}
	if p.log != nil {
		p.log.Debug(msg)
	}
	p.linesDone++
}

// SetMute stops all output while mute is set.
func (p *ItemPrinter) SetMute(mute bool) { p.muted = mute }

// IsMuted reports whether output is suppressed.
func (p *ItemPrinter) IsMuted() bool { return p.muted }

// MuteIdxPrint drops the Idx:<n>; prefix from instruction lines.
func (p *ItemPrinter) MuteIdxPrint(mute bool) { p.idxMuted = mute }

// IdxPrintMuted reports whether the index prefix is suppressed.
func (p *ItemPrinter) IdxPrintMuted() bool { return p.idxMuted }

// Lines returns the number of lines written so far.
func (p *ItemPrinter) Lines() int { return p.linesDone }
