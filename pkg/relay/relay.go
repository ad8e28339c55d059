// Package relay turns one provider stream into an always-terminated event
// stream over a single HTTP response.
//
// Every turn walks Validating, Streaming, then Completing or ErrorCompleting,
// and ends in Done, which writes exactly one done frame whatever happened
// before it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/provider"
	"chatrelay/pkg/sse"
)

const (
	DefaultSystemPrompt = "You are a helpful assistant. Always reply in markdown format."
	DefaultErrorMessage = "An error occurred while generating the response."

	// ErrorCode tags every in-band error frame.
	ErrorCode = "stream_error"
)

// State is a step of the per-turn state machine.
type State int

const (
	Validating State = iota
	Streaming
	Completing
	ErrorCompleting
	Done
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case Streaming:
		return "streaming"
	case Completing:
		return "completing"
	case ErrorCompleting:
		return "error_completing"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome is how a streamed turn ended.
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Relay streams chat turns from a provider source. It keeps no per-turn state
// between calls, so one Relay serves any number of concurrent requests.
type Relay struct {
	source       provider.Source
	systemPrompt string
	errorMessage string
	metrics      *Metrics
	newID        func() string
}

// Option configures a Relay.
type Option func(*Relay)

// WithSystemPrompt replaces the prompt prepended to every conversation. An
// empty prompt sends none.
func WithSystemPrompt(prompt string) Option {
	return func(r *Relay) { r.systemPrompt = prompt }
}

// WithErrorMessage replaces the generic text of error frames.
func WithErrorMessage(msg string) Option {
	return func(r *Relay) {
		if msg != "" {
			r.errorMessage = msg
		}
	}
}

// WithMetrics records turns and frames into m.
func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithIDGenerator sets how assistant message ids are minted when the provider
// does not supply one.
func WithIDGenerator(fn func() string) Option {
	return func(r *Relay) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// New returns a relay over source.
func New(source provider.Source, opts ...Option) *Relay {
	r := &Relay{
		source:       source,
		systemPrompt: DefaultSystemPrompt,
		errorMessage: DefaultErrorMessage,
		newID:        uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Validate decodes and checks a request body. A non-empty problem list means
// the request must be rejected before any stream is opened.
func (r *Relay) Validate(body []byte) (*models.ChatPayload, []string) {
	payload, err := models.DecodeChatPayload(body)
	if err != nil {
		return nil, []string{err.Error()}
	}
	if problems := models.ValidateChatPayload(payload); len(problems) > 0 {
		return nil, problems
	}
	return payload, nil
}

type turn struct {
	id      string
	state   State
	started time.Time
	w       *sse.Writer
}

func (t *turn) enter(s State) {
	logger.Debug("relay_state", "turn", t.id, "from", t.state.String(), "to", s.String())
	t.state = s
}

// Stream runs one validated turn and writes its frames to w. It returns once
// the done frame has been written, or once writing is no longer possible.
// A failing write cancels the provider stream.
func (r *Relay) Stream(ctx context.Context, w sse.FlushWriter, payload *models.ChatPayload) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := &turn{id: r.newID(), state: Validating, started: time.Now()}
	t.w = sse.NewWriter(w, func(err error) {
		logger.Warn("stream_client_gone", "turn", t.id, "error", err)
		cancel()
	})

	r.metrics.streamStarted()
	t.enter(Streaming)
	outcome, err := r.pump(ctx, t, payload.Conversation(r.systemPrompt))

	switch outcome {
	case Failed:
		t.enter(ErrorCompleting)
		logger.Error("stream_failed", "turn", t.id, "frames", t.w.Frames(), "error", fmt.Sprintf("%+v", err))
		if t.w.WriteError(models.ErrorSignal{ErrorCode: ErrorCode, Message: r.errorMessage}) == nil {
			r.metrics.frame("error")
		}
	case Cancelled:
		t.enter(Completing)
		logger.Info("stream_cancelled", "turn", t.id, "frames", t.w.Frames(), "reason", errString(err))
	default:
		t.enter(Completing)
		logger.Info("stream_completed", "turn", t.id, "frames", t.w.Frames(), "duration", time.Since(t.started).String())
	}

	if t.w.WriteDone() == nil {
		r.metrics.frame("done")
	}
	t.enter(Done)
	r.metrics.streamFinished(outcome, t.started)
	return outcome
}

// pump pulls deltas strictly one at a time and writes one frame per non-empty
// delta.
func (r *Relay) pump(ctx context.Context, t *turn, conversation []models.Message) (Outcome, error) {
	stream, err := r.source.StreamDeltas(ctx, conversation)
	if err != nil {
		return classify(ctx, err)
	}
	defer stream.Close()

	for {
		if err := ctx.Err(); err != nil {
			return Cancelled, err
		}
		d, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return Completed, nil
		}
		if err != nil {
			return classify(ctx, err)
		}
		if err := ctx.Err(); err != nil {
			return Cancelled, err
		}

		text := d.Text()
		if text == "" {
			continue
		}
		id := d.MessageID
		if id == "" {
			id = t.id
		}
		logger.Debug("stream_delta", "turn", t.id, "message_id", id, "bytes", len(text))

		msg := models.Message{
			ID:       id,
			Role:     models.RoleAssistant,
			Contents: []models.Content{models.TextContent(text)},
		}
		if err := t.w.WriteMessage(msg); err != nil {
			if t.w.Err() != nil {
				return Cancelled, err
			}
			return Failed, err
		}
		r.metrics.frame("data")
	}
}

func classify(ctx context.Context, err error) (Outcome, error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return Cancelled, err
	}
	return Failed, err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
