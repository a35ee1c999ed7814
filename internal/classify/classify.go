// Package classify detects which trace dialect a stream carries.
package classify

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"pipeview/internal/common"
	"pipeview/internal/pipe"
)

// Detect peeks at up to maxLines lines of r looking for a line that starts
// with the Flex marker, then rewinds r to where it was. Streams without the
// marker are O3. maxLines <= 0 uses pipe.ClassifyLineLimit.
func Detect(r io.ReadSeeker, maxLines int) (pipe.Dialect, error) {
	if maxLines <= 0 {
		maxLines = pipe.ClassifyLineLimit
	}

	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return pipe.DialectO3, common.WrapError(pipe.ErrStreamSeek, pipe.BadLineIndex, err)
	}

	dialect := pipe.DialectO3
	br := bufio.NewReader(r)
	for n := 0; n < maxLines; n++ {
		line, rerr := br.ReadString('\n')
		if strings.HasPrefix(strings.TrimSpace(line), pipe.FlexMarker) {
			dialect = pipe.DialectFlex
			break
		}
		if rerr != nil {
			// A short or unreadable prefix is not a classification failure;
			// the parser reports stream faults on its own pass.
			break
		}
	}

	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return dialect, common.WrapError(pipe.ErrStreamSeek, pipe.BadLineIndex,
			fmt.Errorf("rewind to %d: %w", start, err))
	}
	return dialect, nil
}
