// Package source opens trace input for the decoder. Parsing needs a
// seekable stream, so compressed or non-seekable input is spooled to a
// temporary file first.
package source

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"

	"pipeview/internal/common"
	"pipeview/internal/pipe"
)

// snappyMagic is the stream identifier chunk that opens every snappy
// framed stream.
var snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")

// Trace is an open, seekable trace stream.
type Trace struct {
	io.ReadSeeker
	Name       string
	Compressed bool

	closers []func() error
}

// Close releases the underlying file and any spool file.
func (t *Trace) Close() error {
	var first error
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	t.closers = nil
	return first
}

// Open opens the trace file at path. Files holding a snappy framed
// stream are decompressed into a spool file.
func Open(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.WrapError(pipe.ErrSourceOpen, pipe.BadLineIndex, err)
	}
	t, err := fromFile(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

func fromFile(name string, f *os.File) (*Trace, error) {
	br := bufio.NewReader(f)
	compressed, err := isSnappy(br)
	if err != nil {
		return nil, err
	}
	if !compressed && !strings.HasSuffix(name, ".sz") {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, common.WrapError(pipe.ErrStreamSeek, pipe.BadLineIndex, err)
		}
		return &Trace{ReadSeeker: f, Name: name, closers: []func() error{f.Close}}, nil
	}
	t, err := spool(name, snappy.NewReader(br))
	if err != nil {
		return nil, err
	}
	t.Compressed = true
	t.closers = append([]func() error{f.Close}, t.closers...)
	return t, nil
}

// FromReader wraps r, which may be a snappy framed stream, as a seekable
// Trace. Uploaded request bodies arrive this way.
func FromReader(name string, r io.Reader) (*Trace, error) {
	br := bufio.NewReader(r)
	compressed, err := isSnappy(br)
	if err != nil {
		return nil, err
	}
	var src io.Reader = br
	if compressed {
		src = snappy.NewReader(br)
	} else if rs, ok := r.(io.ReadSeeker); ok {
		if _, err := rs.Seek(0, io.SeekStart); err == nil {
			return &Trace{ReadSeeker: rs, Name: name}, nil
		}
	}
	t, err := spool(name, src)
	if err != nil {
		return nil, err
	}
	t.Compressed = compressed
	return t, nil
}

func isSnappy(br *bufio.Reader) (bool, error) {
	head, err := br.Peek(len(snappyMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return false, common.WrapError(pipe.ErrStreamRead, pipe.BadLineIndex, err)
	}
	return bytes.Equal(head, snappyMagic), nil
}

// spool copies src into an unlinked-on-close temporary file.
func spool(name string, src io.Reader) (*Trace, error) {
	tmp, err := os.CreateTemp("", "pipeview-*.trace")
	if err != nil {
		return nil, common.WrapError(pipe.ErrSourceOpen, pipe.BadLineIndex, err)
	}
	cleanup := func() error {
		cerr := tmp.Close()
		if rerr := os.Remove(tmp.Name()); rerr != nil && cerr == nil {
			cerr = rerr
		}
		return cerr
	}
	if _, err := io.Copy(tmp, src); err != nil {
		cleanup()
		return nil, common.WrapError(pipe.ErrStreamRead, pipe.BadLineIndex, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, common.WrapError(pipe.ErrStreamSeek, pipe.BadLineIndex, err)
	}
	return &Trace{ReadSeeker: tmp, Name: name, closers: []func() error{cleanup}}, nil
}
