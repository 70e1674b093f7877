package lifecycle

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ReadLines splits r into lines and hands each one to emit as soon as its
// terminating '\n' arrives. Carriage returns are dropped. A trailing line
// without '\n' is emitted once at EOF unless it is empty.
func ReadLines(r io.Reader, emit func(line string)) error {
	br := bufio.NewReader(r)

	var line strings.Builder
	for {
		c, _, err := br.ReadRune()
		if err != nil {
			if line.Len() > 0 {
				emit(line.String())
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch c {
		case '\n':
			emit(line.String())
			line.Reset()
		case '\r':
		default:
			line.WriteRune(c)
		}
	}
}
