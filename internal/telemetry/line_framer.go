package telemetry

import (
	"strings"
)

// LineFramer splits a text stream into lines. Text after the last '\n' is
// kept until a later Push completes it. There is no length limit: a device
// that never sends a terminator grows the pending buffer without bound.
type LineFramer struct {
	pending strings.Builder
}

func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Push appends text and returns the lines it completed, in order, without
// their terminators. A '\r' before the '\n' is dropped as well. Blank and
// whitespace-only lines are not returned.
func (f *LineFramer) Push(text string) []string {
	if strings.IndexByte(text, '\n') < 0 {
		f.pending.WriteString(text)
		return nil
	}

	data := f.pending.String() + text
	f.pending.Reset()

	var lines []string
	for {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(data[:i], "\r")
		data = data[i+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	f.pending.WriteString(data)
	return lines
}

// Pending returns the unterminated text held for the next Push.
func (f *LineFramer) Pending() string {
	return f.pending.String()
}

func (f *LineFramer) Reset() {
	f.pending.Reset()
}
