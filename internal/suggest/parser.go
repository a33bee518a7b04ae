// Package suggest reconstructs streamed reply suggestions. The wire format is
// line oriented: "data: <json>" lines carrying incremental text, ":" comment
// lines, and a "data: [DONE]" sentinel. Chunk boundaries are arbitrary and may
// split a line, a JSON token or a multi-byte character.
package suggest

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	dataPrefix = "data: "
	sentinel   = "[DONE]"

	// maxJoinedLines bounds how many physical lines a payload split by an
	// embedded newline may span before its first line is dropped.
	maxJoinedLines = 8
)

// Parser is the buffer/extract/recover state machine. It is not safe for
// concurrent use; one stream owns one Parser.
type Parser struct {
	buf     []byte
	text    strings.Builder
	done    bool
	dropped int
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk and returns the accumulated text after every payload
// that carried text, oldest first. Observers see growing text, not deltas.
func (p *Parser) Feed(chunk []byte) []string {
	if p.done {
		return nil
	}
	p.buf = append(p.buf, chunk...)
	return p.drain(false)
}

// Flush processes whatever is left in the buffer at end of input. Lines that
// still fail to decode are ignored.
func (p *Parser) Flush() []string {
	if p.done || len(p.buf) == 0 {
		return nil
	}
	if p.buf[len(p.buf)-1] != '\n' {
		p.buf = append(p.buf, '\n')
	}
	out := p.drain(true)
	p.buf = nil
	return out
}

// Text returns the accumulated suggestion.
func (p *Parser) Text() string { return p.text.String() }

// Done reports whether the [DONE] sentinel was seen.
func (p *Parser) Done() bool { return p.done }

// Dropped counts data lines discarded because they never decoded.
func (p *Parser) Dropped() int { return p.dropped }

// drain extracts complete lines from the buffer. A data line that fails to
// decode stays at the head of the buffer and is retried joined with the lines
// after it; when those are not buffered yet the pass stops and resumes on the
// next chunk. At end of input a pending line is dropped instead.
func (p *Parser) drain(eof bool) []string {
	var out []string
	for !p.done {
		line, n, ok := nextLine(p.buf)
		if !ok {
			break
		}
		payload, isData := dataPayload(line)
		if !isData {
			p.buf = p.buf[n:]
			continue
		}
		if strings.TrimSpace(payload) == sentinel {
			p.buf = p.buf[n:]
			p.done = true
			break
		}
		if delta, ok := decodeDelta(payload); ok {
			p.buf = p.buf[n:]
			out = p.emit(out, delta)
			continue
		}

		consumed, delta, state := p.join(payload, n, eof)
		switch state {
		case joinPending:
			return out
		case joinDropped:
			p.dropped++
			p.buf = p.buf[n:]
		case joinDecoded:
			p.buf = p.buf[consumed:]
			out = p.emit(out, delta)
		}
	}
	return out
}

type joinState int

const (
	joinDecoded joinState = iota
	joinPending
	joinDropped
)

// join retries a failed payload glued to the continuation lines that follow
// it. Continuation stops at a line that starts a new event.
func (p *Parser) join(payload string, offset int, eof bool) (int, string, joinState) {
	joined := payload
	for lines := 1; lines < maxJoinedLines; lines++ {
		line, n, ok := nextLine(p.buf[offset:])
		if !ok {
			if eof {
				return 0, "", joinDropped
			}
			return 0, "", joinPending
		}
		if startsEvent(line) {
			return 0, "", joinDropped
		}
		offset += n
		joined += "\n" + line
		if delta, ok := decodeDelta(joined); ok {
			return offset, delta, joinDecoded
		}
	}
	return 0, "", joinDropped
}

func (p *Parser) emit(out []string, delta string) []string {
	if delta == "" {
		return out
	}
	p.text.WriteString(delta)
	return append(out, p.text.String())
}

// nextLine returns the first line of buf without its newline and trailing
// carriage return, plus the number of bytes it occupies.
func nextLine(buf []byte) (string, int, bool) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return "", 0, false
	}
	line := buf[:i]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return string(line), i + 1, true
}

// dataPayload strips the data prefix. Empty lines, comments and anything not
// carrying the prefix are not data.
func dataPayload(line string) (string, bool) {
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	return line[len(dataPrefix):], true
}

func startsEvent(line string) bool {
	return line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "data:")
}

type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// decodeDelta decodes one payload and returns its incremental text, which may
// be empty for role or finish frames.
func decodeDelta(payload string) (string, bool) {
	var chunk chunkPayload
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
		return "", true
	}
	return *chunk.Choices[0].Delta.Content, true
}
