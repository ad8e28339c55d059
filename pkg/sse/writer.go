// Package sse implements the event-stream framing shared by the relay and
// the conversation client.
//
// A content frame is "data: <json-message>\n\n". The two control frames are
// "event: error\ndata: <json-error>\n\n" and "event: done\ndata: [DONE]\n\n".
package sse

import (
	"encoding/json"
	"io"

	"github.com/valyala/bytebufferpool"

	"chatrelay/pkg/models"
)

const (
	EventError = "error"
	EventDone  = "done"

	// DoneSentinel is the payload of the done frame.
	DoneSentinel = "[DONE]"
)

// FlushWriter is the sink a Writer emits frames to. *bufio.Writer satisfies it.
type FlushWriter interface {
	io.Writer
	Flush() error
}

// Writer emits frames and flushes after each one. Once a write or flush
// fails, every later call is a no-op returning the first error.
type Writer struct {
	w        FlushWriter
	err      error
	onBroken func(error)
	frames   int
}

// NewWriter wraps w. onBroken, if set, is called once with the first write
// or flush error, typically to cancel whatever produces the frames.
func NewWriter(w FlushWriter, onBroken func(error)) *Writer {
	return &Writer{w: w, onBroken: onBroken}
}

// WriteMessage writes one content frame.
func (w *Writer) WriteMessage(m models.Message) error {
	return w.writeJSON("", m)
}

// WriteError writes the error control frame.
func (w *Writer) WriteError(e models.ErrorSignal) error {
	return w.writeJSON(EventError, e)
}

// WriteDone writes the done control frame.
func (w *Writer) WriteDone() error {
	return w.writeFrame(EventDone, []byte(DoneSentinel))
}

// Err returns the first write or flush failure.
func (w *Writer) Err() error { return w.err }

// Frames returns how many frames were written and flushed successfully.
func (w *Writer) Frames() int { return w.frames }

func (w *Writer) writeJSON(event string, v any) error {
	if w.err != nil {
		return w.err
	}
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	enc := json.NewEncoder(bb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// encoding failures are ours, not the connection's
		return err
	}
	data := bb.B
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
	}
	return w.writeFrame(event, data)
}

func (w *Writer) writeFrame(event string, data []byte) error {
	if w.err != nil {
		return w.err
	}
	frame := bytebufferpool.Get()
	defer bytebufferpool.Put(frame)

	if event != "" {
		_, _ = frame.WriteString("event: ")
		_, _ = frame.WriteString(event)
		_ = frame.WriteByte('\n')
	}
	_, _ = frame.WriteString("data: ")
	_, _ = frame.Write(data)
	_, _ = frame.WriteString("\n\n")

	if _, err := w.w.Write(frame.B); err != nil {
		return w.fail(err)
	}
	if err := w.w.Flush(); err != nil {
		return w.fail(err)
	}
	w.frames++
	return nil
}

func (w *Writer) fail(err error) error {
	w.err = err
	if w.onBroken != nil {
		w.onBroken(err)
	}
	return err
}
