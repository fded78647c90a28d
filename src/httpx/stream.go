package httpx

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const maxLineSize = 1 << 20

// Event is a single server-sent event.
type Event struct {
	Type string
	Data string
}

// SSEReader reads server-sent events from a response body.
type SSEReader struct {
	scanner *bufio.Scanner
	event   Event
	err     error
}

// NewSSEReader creates an SSEReader over r.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &SSEReader{scanner: scanner}
}

// Next advances to the next event. It returns false at end of input or on
// error; Err distinguishes the two.
func (r *SSEReader) Next() bool {
	var eventType string
	var data []string

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if len(data) == 0 && eventType == "" {
				continue
			}
			r.event = Event{Type: eventType, Data: strings.Join(data, "\n")}
			return true
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = value
		case "data":
			data = append(data, value)
		}
	}

	r.err = r.scanner.Err()
	if r.err == nil && len(data) > 0 {
		r.event = Event{Type: eventType, Data: strings.Join(data, "\n")}
		return true
	}
	return false
}

// Event returns the current event.
func (r *SSEReader) Event() Event {
	return r.event
}

// Err returns the first non-EOF error encountered.
func (r *SSEReader) Err() error {
	return r.err
}

// LineReader reads newline delimited JSON records, skipping blank lines.
type LineReader struct {
	scanner *bufio.Scanner
	line    []byte
}

// NewLineReader creates a LineReader over r.
func NewLineReader(r io.Reader) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &LineReader{scanner: scanner}
}

// Next returns the next non-empty line, or io.EOF when input is exhausted.
func (r *LineReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		r.line = append(r.line[:0], line...)
		return r.line, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
