// Package linescan splits a trace stream into numbered text lines.
//
// Unlike bufio.Scanner it never gives up on an overlong line: the line is
// drained, reported as a diagnostic, and scanning resumes at the next one.
package linescan

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"pipeview/internal/common"
	"pipeview/internal/pipe"
)

// DefaultMaxLineBytes bounds a single trace line.
const DefaultMaxLineBytes = 1 << 20

const readBufSize = 64 * 1024

// Scanner yields the lines of a trace stream.
type Scanner struct {
	r      *bufio.Reader
	maxLen int
	diags  *common.Diags

	buf  []byte
	text string
	line pipe.LineIndex
	done bool
	err  error
}

// New creates a Scanner over r. Lines longer than maxLen bytes are
// skipped (0 = DefaultMaxLineBytes). diags may be nil.
func New(r io.Reader, maxLen int, diags *common.Diags) *Scanner {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineBytes
	}
	if diags == nil {
		diags = common.NewDiags(0)
	}
	return &Scanner{
		r:      bufio.NewReaderSize(r, readBufSize),
		maxLen: maxLen,
		diags:  diags,
	}
}

// Scan advances to the next line. It returns false at end of stream or on
// a stream fault; Err distinguishes the two.
func (s *Scanner) Scan() bool {
	for !s.done {
		tooLong, err := s.readLine()
		gotData := len(s.buf) > 0 || tooLong
		if err != nil && !errors.Is(err, io.EOF) {
			s.err = common.WrapError(pipe.ErrStreamRead, s.line+1, err)
			s.done = true
			return false
		}
		if err != nil {
			s.done = true
			if !gotData {
				return false
			}
		}
		s.line++

		if tooLong {
			s.diags.Addf(s.line, common.DiagIO, "line exceeds %d bytes, skipped", s.maxLen)
			continue
		}

		b := s.buf
		b = trimEOL(b)
		if !utf8.Valid(b) {
			s.diags.Add(s.line, common.DiagIO, "invalid UTF-8 dropped")
			s.text = strings.ToValidUTF8(string(b), "")
		} else {
			s.text = string(b)
		}
		return true
	}
	return false
}

// readLine fills s.buf with the next line including its terminator.
func (s *Scanner) readLine() (tooLong bool, err error) {
	s.buf = s.buf[:0]
	for {
		chunk, err := s.r.ReadSlice('\n')
		if len(chunk) > 0 && !tooLong {
			if len(s.buf)+len(chunk) > s.maxLen+2 {
				tooLong = true
				s.buf = s.buf[:0]
			} else {
				s.buf = append(s.buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return tooLong, err
	}
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

// Text returns the current line without its terminator.
func (s *Scanner) Text() string { return s.text }

// Line returns the 1-based number of the current line.
func (s *Scanner) Line() pipe.LineIndex { return s.line }

// Err returns the stream fault that stopped scanning, if any.
func (s *Scanner) Err() error { return s.err }
