package sse

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/models"
)

func TestWriterFraming(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(bufio.NewWriter(&buf), nil)

	m := models.NewTextMessage(models.RoleAssistant, "<b>Hi</b>")
	m.ID = "m1"
	require.NoError(t, w.WriteMessage(m))
	require.NoError(t, w.WriteError(models.ErrorSignal{ErrorCode: "stream_error", Message: "oops"}))
	require.NoError(t, w.WriteDone())

	want := `data: {"messageId":"m1","role":"assistant","complete":false,"contents":[{"$type":"text","text":"<b>Hi</b>"}]}` + "\n\n" +
		"event: error\n" + `data: {"errorCode":"stream_error","message":"oops"}` + "\n\n" +
		"event: done\ndata: [DONE]\n\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, 3, w.Frames())
}

type failingWriter struct{ writes int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	return len(p), nil
}

func (f *failingWriter) Flush() error { return errors.New("broken pipe") }

func TestWriterFailsOnce(t *testing.T) {
	fw := &failingWriter{}
	var broken []error
	w := NewWriter(fw, func(err error) { broken = append(broken, err) })

	err := w.WriteMessage(models.NewTextMessage(models.RoleAssistant, "a"))
	require.EqualError(t, err, "broken pipe")
	require.EqualError(t, w.WriteDone(), "broken pipe")

	assert.Equal(t, 1, fw.writes)
	assert.Len(t, broken, 1)
	assert.Equal(t, 0, w.Frames())
}

func TestParserRoundTripAcrossChunks(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(bufio.NewWriter(&buf), nil)
	for _, s := range []string{"Hi", " there!"} {
		m := models.NewTextMessage(models.RoleAssistant, s)
		m.ID = "a1"
		require.NoError(t, w.WriteMessage(m))
	}
	require.NoError(t, w.WriteDone())
	wire := buf.Bytes()

	var p Parser
	var frames []Frame
	// one byte at a time is the worst case for partial reads
	for i := range wire {
		frames = append(frames, p.Feed(wire[i:i+1])...)
	}
	frames = append(frames, p.Flush()...)

	require.Len(t, frames, 3)
	assert.Equal(t, FrameMessage, frames[0].Kind)
	assert.Equal(t, "Hi", frames[0].Message.Text())
	assert.Equal(t, "a1", frames[0].Message.ID)
	assert.Equal(t, " there!", frames[1].Message.Text())
	assert.Equal(t, FrameDone, frames[2].Kind)
	assert.Zero(t, p.Pending())
}

func TestParserSkipsMalformed(t *testing.T) {
	var bad []string
	p := Parser{OnMalformed: func(raw string, _ error) { bad = append(bad, raw) }}

	input := "data: {not json}\n\n" +
		"event: mystery\ndata: {}\n\n" +
		": keep-alive comment\n\n" +
		"event: error\ndata: {\"errorCode\":\"stream_error\",\"message\":\"generic\"}\r\n\r\n" +
		`data: {"role":"assistant","contents":[{"$type":"text","text":"ok"}]}` + "\n\n"

	frames := p.Feed([]byte(input))
	require.Len(t, frames, 2)
	assert.Equal(t, FrameError, frames[0].Kind)
	assert.Equal(t, "generic", frames[0].Error.Message)
	assert.Equal(t, "ok", frames[1].Message.Text())
	assert.Len(t, bad, 2)
}

func TestParserFlushTrailingFrame(t *testing.T) {
	var p Parser
	assert.Empty(t, p.Feed([]byte(`data: {"role":"assistant","contents":[{"$type":"text","text":"tail"}]}`)))
	frames := p.Flush()
	require.Len(t, frames, 1)
	assert.Equal(t, "tail", frames[0].Message.Text())
	assert.Empty(t, p.Flush())
}
