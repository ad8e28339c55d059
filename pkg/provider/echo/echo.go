// Package echo is a development source that answers with the last user
// message, one word per delta.
package echo

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"chatrelay/pkg/models"
	"chatrelay/pkg/provider"
)

const DefaultPrefix = "You said: "

// Source streams the utterance back. The zero value streams without delay.
type Source struct {
	// Delay is the pause before every delta after the first.
	Delay time.Duration
	// Prefix is emitted as the first delta. Empty disables it.
	Prefix string
}

// New returns an echo source with the default prefix.
func New(delay time.Duration) *Source {
	return &Source{Delay: delay, Prefix: DefaultPrefix}
}

func (s *Source) StreamDeltas(ctx context.Context, conversation []models.Message) (provider.Stream, error) {
	var words []string
	if s.Prefix != "" {
		words = append(words, s.Prefix)
	}
	words = append(words, split(lastUserText(conversation))...)
	return &stream{ctx: ctx, words: words, delay: s.Delay}, nil
}

func lastUserText(conversation []models.Message) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == models.RoleUser {
			return conversation[i].Text()
		}
	}
	return ""
}

// split keeps the separating spaces attached so the deltas concatenate back
// to the original text.
func split(text string) []string {
	var out []string
	for len(text) > 0 {
		i := strings.IndexByte(text[1:], ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}

type stream struct {
	ctx   context.Context
	words []string
	delay time.Duration

	mu     sync.Mutex
	pos    int
	closed bool
}

func (s *stream) Next() (provider.Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.words) {
		return provider.Delta{}, io.EOF
	}
	if s.pos > 0 && s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return provider.Delta{}, s.ctx.Err()
		case <-t.C:
		}
	}
	if err := s.ctx.Err(); err != nil {
		return provider.Delta{}, err
	}
	w := s.words[s.pos]
	s.pos++
	return provider.TextDelta("", w), nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
