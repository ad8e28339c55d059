package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"chatrelay/pkg/models"
)

// FrameKind discriminates a decoded frame.
type FrameKind int

const (
	FrameMessage FrameKind = iota
	FrameError
	FrameDone
)

func (k FrameKind) String() string {
	switch k {
	case FrameMessage:
		return "message"
	case FrameError:
		return "error"
	case FrameDone:
		return "done"
	}
	return fmt.Sprintf("FrameKind(%d)", int(k))
}

// Frame is one decoded event. Message is set for FrameMessage, Error for
// FrameError; a done frame carries neither.
type Frame struct {
	Kind    FrameKind
	Message models.Message
	Error   models.ErrorSignal
}

var frameSep = []byte("\n\n")

// Parser turns a byte stream into frames. It is fed whatever chunk the
// transport produced and keeps incomplete trailing data for the next call.
// A Parser is not safe for concurrent use.
type Parser struct {
	buf []byte

	// OnMalformed is called for each frame that cannot be decoded. The frame
	// is skipped either way.
	OnMalformed func(raw string, err error)
}

// Feed appends chunk and returns every frame it completed.
func (p *Parser) Feed(chunk []byte) []Frame {
	if len(chunk) > 0 {
		p.buf = append(p.buf, bytes.ReplaceAll(chunk, []byte("\r"), nil)...)
	}
	var out []Frame
	for {
		i := bytes.Index(p.buf, frameSep)
		if i < 0 {
			break
		}
		raw := string(p.buf[:i])
		p.buf = p.buf[i+len(frameSep):]
		if f, ok := p.decode(raw); ok {
			out = append(out, f)
		}
	}
	return out
}

// Flush decodes a trailing frame that was never terminated by a blank line,
// as happens when the body ends abruptly.
func (p *Parser) Flush() []Frame {
	raw := strings.TrimSpace(string(p.buf))
	p.buf = p.buf[:0]
	if raw == "" {
		return nil
	}
	if f, ok := p.decode(raw); ok {
		return []Frame{f}
	}
	return nil
}

// Pending reports how many bytes are buffered awaiting a frame terminator.
func (p *Parser) Pending() int { return len(p.buf) }

func (p *Parser) decode(raw string) (Frame, bool) {
	var event string
	var data []string
	unknown := false
	for _, line := range strings.Split(raw, "\n") {
		switch {
		case line == "", strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			v := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(v, " "))
		default:
			unknown = true
		}
	}
	if event == "" && len(data) == 0 {
		// comment-only frames are keep-alives
		if unknown {
			p.malformed(raw, fmt.Errorf("frame has no data field"))
		}
		return Frame{}, false
	}
	payload := strings.Join(data, "\n")

	switch event {
	case "", "message":
		var m models.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			p.malformed(raw, err)
			return Frame{}, false
		}
		return Frame{Kind: FrameMessage, Message: m}, true
	case EventError:
		var e models.ErrorSignal
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			p.malformed(raw, err)
			return Frame{}, false
		}
		return Frame{Kind: FrameError, Error: e}, true
	case EventDone:
		return Frame{Kind: FrameDone}, true
	}
	p.malformed(raw, fmt.Errorf("unknown event %q", event))
	return Frame{}, false
}

func (p *Parser) malformed(raw string, err error) {
	if p.OnMalformed != nil {
		p.OnMalformed(raw, err)
	}
}
