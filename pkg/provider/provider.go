// Package provider defines the token stream that backs a relay turn and the
// sources that produce it.
package provider

import (
	"context"
	"io"
	"sync"

	"chatrelay/pkg/models"
)

// Delta is one incremental update from the upstream model.
type Delta struct {
	MessageID string
	Contents  []models.Content
}

// TextDelta builds a delta holding a single text block.
func TextDelta(id, text string) Delta {
	return Delta{MessageID: id, Contents: []models.Content{models.TextContent(text)}}
}

// Text joins the text blocks of the delta.
func (d Delta) Text() string { return models.JoinText(d.Contents) }

// Stream is a pull iterator over deltas. Next returns io.EOF once the upstream
// finishes; any other error ends the stream. Close releases the upstream and
// may be called at any point, including more than once.
type Stream interface {
	Next() (Delta, error)
	Close() error
}

// Source opens streams for a conversation. Implementations must support
// concurrent independent calls.
type Source interface {
	StreamDeltas(ctx context.Context, conversation []models.Message) (Stream, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context, conversation []models.Message) (Stream, error)

func (f Func) StreamDeltas(ctx context.Context, conversation []models.Message) (Stream, error) {
	return f(ctx, conversation)
}

// SliceStream replays a fixed list of deltas, then returns Err (io.EOF when
// nil). It checks ctx before every element.
type SliceStream struct {
	ctx    context.Context
	deltas []Delta
	err    error

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewSliceStream returns a stream over deltas ending with err, or io.EOF when
// err is nil.
func NewSliceStream(ctx context.Context, deltas []Delta, err error) *SliceStream {
	return &SliceStream{ctx: ctx, deltas: deltas, err: err}
}

func (s *SliceStream) Next() (Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Delta{}, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return Delta{}, err
	}
	if s.pos < len(s.deltas) {
		d := s.deltas[s.pos]
		s.pos++
		return d, nil
	}
	if s.err != nil {
		return Delta{}, s.err
	}
	return Delta{}, io.EOF
}

func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Static returns a Source that answers every conversation with the same
// deltas and terminal error.
func Static(deltas []Delta, err error) Source {
	return Func(func(ctx context.Context, _ []models.Message) (Stream, error) {
		return NewSliceStream(ctx, deltas, err), nil
	})
}
