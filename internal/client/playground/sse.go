package playground

import (
	"bufio"
	"io"
	"strings"
)

const maxFrameSize = 1024 * 1024

// readFrames splits an SSE body into frames and calls fn with each frame's data.
// Multi-line data is joined with "\n". event:, id:, retry: and comment lines are
// ignored. A trailing frame without its blank line is still delivered. fn returns
// false to stop reading.
func readFrames(r io.Reader, fn func(data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var data strings.Builder
	pending := false

	flush := func() bool {
		if !pending {
			return true
		}
		frame := data.String()
		data.Reset()
		pending = false
		return fn(frame)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if !flush() {
				return nil
			}
			continue
		}

		if !strings.HasPrefix(line, "data:") {
			continue
		}
		value := strings.TrimPrefix(line, "data:")
		value = strings.TrimPrefix(value, " ")
		if pending {
			data.WriteByte('\n')
		}
		data.WriteString(value)
		pending = true
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}
