// Package conversation drives chat turns against the relay and keeps the
// reconciled transcript, a status line and a busy flag for the caller.
package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/reconcile"
	"chatrelay/pkg/sse"
)

var (
	ErrTurnInFlight = errors.New("a turn is already in flight")
	ErrNotRunning   = errors.New("conversation pipeline is not running")
)

const (
	StatusCancelled = "cancelled"

	readChunkSize = 4096
	maxErrorBody  = 64 << 10
)

// TranscriptMerge is the transcript policy: identity is (turn, messageId), and
// a failed turn only ever loses its unfinished entry.
func TranscriptMerge() reconcile.MergeFunc[models.Message] {
	return reconcile.IdentityMerge(
		func(m models.Message) models.Key { return m.Key() },
		func(m models.Message) string {
			if m.Complete {
				return ""
			}
			return m.Turn
		},
	)
}

// Pipeline runs one turn at a time.
type Pipeline struct {
	session Session
	rec     *reconcile.Reconciler[models.Message]
	status  *reconcile.Broadcast[string]
	busy    *reconcile.Broadcast[bool]
	newID   func() string

	// base outlives every turn; Run cancels it once its context ends.
	base context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	running  bool
	stopped  bool
	inFlight bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*pipelineOptions)

type pipelineOptions struct {
	seed  []models.Message
	newID func() string
}

// WithSeed starts the transcript from msgs instead of empty.
func WithSeed(msgs []models.Message) Option {
	return func(o *pipelineOptions) { o.seed = msgs }
}

// WithIDGenerator sets how turn and message ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(o *pipelineOptions) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New returns a pipeline for session. Submit may be called as soon as New
// returns; a turn starts once Run is folding the transcript.
func New(session Session, opts ...Option) *Pipeline {
	o := pipelineOptions{newID: uuid.NewString}
	for _, fn := range opts {
		fn(&o)
	}
	base, stop := context.WithCancel(context.Background())
	return &Pipeline{
		session: session,
		rec:     reconcile.New(o.seed, TranscriptMerge()),
		status:  reconcile.NewBroadcastWith(""),
		busy:    reconcile.NewBroadcastWith(false),
		newID:   o.newID,
		base:    base,
		stop:    stop,
	}
}

// Run owns the transcript until ctx ends, then waits for the in-flight turn
// to wind down and closes every subscription.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return errors.New("conversation pipeline already started")
	}
	p.running = true
	p.mu.Unlock()

	err := p.rec.Run(ctx)

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.stop()
	p.wg.Wait()
	p.status.Close()
	p.busy.Close()
	return err
}

// Submit starts a turn for msg. The message is always sent as the user, and
// appears in the transcript before Submit returns control to the relay
// request. While a turn is in flight Submit fails with ErrTurnInFlight, and
// once Run has returned it fails with ErrNotRunning.
func (p *Pipeline) Submit(ctx context.Context, msg models.Message) error {
	p.mu.Lock()
	switch {
	case p.stopped:
		p.mu.Unlock()
		return ErrNotRunning
	case p.inFlight:
		p.mu.Unlock()
		return ErrTurnInFlight
	}
	turnCtx, cancel := context.WithCancel(p.base)
	p.inFlight = true
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()
	p.busy.Publish(true)
	p.status.Publish("")

	turn := p.newID()
	utterance := msg.Clone()
	utterance.Role = models.RoleUser
	utterance.Complete = true
	utterance.Turn = turn
	if utterance.ID == "" {
		utterance.ID = p.newID()
	}

	history, err := p.rec.State(ctx)
	if err == nil {
		err = p.rec.Push(ctx, reconcile.Action[models.Message]{Item: utterance, Change: reconcile.Add})
	}
	if err != nil {
		p.finish()
		p.wg.Done()
		if errors.Is(err, reconcile.ErrStopped) {
			return ErrNotRunning
		}
		return err
	}

	go func() {
		defer p.wg.Done()
		defer p.finish()
		p.runTurn(turnCtx, turn, utterance, history)
		// busy only drops once the transcript shows the turn's last revision
		_, _ = p.rec.State(context.Background())
	}()
	return nil
}

// Cancel asks the in-flight turn to stop. It does nothing when idle.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight && p.cancel != nil {
		p.cancel()
	}
}

func (p *Pipeline) finish() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.inFlight = false
	p.mu.Unlock()
	p.busy.Publish(false)
}

// Transcript returns the latest reconciled transcript.
func (p *Pipeline) Transcript() []models.Message { return p.rec.Snapshot() }

// SubscribeTranscript streams transcript revisions, starting with the current one.
func (p *Pipeline) SubscribeTranscript() (<-chan []models.Message, func()) {
	return p.rec.Subscribe()
}

// Status returns the latest status notice; empty means nothing to report.
func (p *Pipeline) Status() string {
	s, _ := p.status.Last()
	return s
}

// SubscribeStatus streams status notices, starting with the current one.
func (p *Pipeline) SubscribeStatus() (<-chan string, func()) { return p.status.Subscribe() }

// Busy reports whether a turn is in flight.
func (p *Pipeline) Busy() bool {
	b, _ := p.busy.Last()
	return b
}

// SubscribeBusy streams busy changes, starting with the current value.
func (p *Pipeline) SubscribeBusy() (<-chan bool, func()) { return p.busy.Subscribe() }

func (p *Pipeline) runTurn(ctx context.Context, turn string, utterance models.Message, history []models.Message) {
	target, err := p.session.URL()
	if err != nil {
		p.fail(turn, err.Error())
		return
	}
	body, err := json.Marshal(models.ChatPayload{Utterance: &utterance, History: history})
	if err != nil {
		p.fail(turn, fmt.Sprintf("encode request: %v", err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		p.fail(turn, fmt.Sprintf("build request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	logger.Debug("turn_started", "turn", turn, "history", len(history))
	resp, err := p.session.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			p.cancelled(turn, nil)
			return
		}
		p.fail(turn, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.fail(turn, rejection(resp))
		return
	}

	acc := &assembler{turn: turn, fallbackID: p.newID}
	parser := sse.Parser{OnMalformed: func(raw string, err error) {
		logger.Warn("turn_frame_malformed", "turn", turn, "error", err, "frame", raw)
	}}

	buf := make([]byte, readChunkSize)
	sawDone := false
	for {
		n, rerr := resp.Body.Read(buf)
		frames := parser.Feed(buf[:n])
		if rerr != nil {
			frames = append(frames, parser.Flush()...)
		}
		for _, f := range frames {
			switch f.Kind {
			case sse.FrameMessage:
				acc.add(f.Message)
			case sse.FrameError:
				logger.Warn("turn_llm_error", "turn", turn, "code", f.Error.ErrorCode, "message", f.Error.Message)
				p.fail(turn, "llm error: "+f.Error.Message)
				return
			case sse.FrameDone:
				sawDone = true
			}
		}
		if a, ok := acc.flush(false); ok {
			if err := p.rec.Push(context.Background(), a); err != nil {
				return
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				p.cancelled(turn, acc)
				return
			}
			p.fail(turn, fmt.Sprintf("stream interrupted: %v", rerr))
			return
		}
	}

	if !sawDone {
		logger.Warn("turn_ended_without_done", "turn", turn)
	}
	if a, ok := acc.flush(true); ok {
		_ = p.rec.Push(context.Background(), a)
	}
	logger.Debug("turn_completed", "turn", turn, "bytes", acc.text.Len())
}

// cancelled closes the turn without rolling anything back; whatever arrived
// stays, marked complete.
func (p *Pipeline) cancelled(turn string, acc *assembler) {
	logger.Info("turn_cancelled", "turn", turn)
	if acc != nil {
		if a, ok := acc.flush(true); ok {
			_ = p.rec.Push(context.Background(), a)
		}
	}
	p.status.Publish(StatusCancelled)
}

func (p *Pipeline) fail(turn, notice string) {
	logger.Warn("turn_failed", "turn", turn, "status", notice)
	p.status.Publish(notice)
	_ = p.rec.Fail(context.Background(), turn)
}

// rejection renders a non-2xx relay answer. The relay reports validation
// problems as a JSON array of strings.
func rejection(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var problems []string
	if json.Unmarshal(raw, &problems) == nil && len(problems) > 0 {
		return fmt.Sprintf("request rejected (%d): %s", resp.StatusCode, strings.Join(problems, "; "))
	}
	var obj struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Error != "" {
		return fmt.Sprintf("request rejected (%d): %s", resp.StatusCode, obj.Error)
	}
	return fmt.Sprintf("request rejected (%d %s)", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// assembler coalesces every content frame of one response into a single
// growing assistant message.
type assembler struct {
	turn       string
	fallbackID func() string

	id      string
	text    strings.Builder
	pushed  bool
	pending bool
}

func (a *assembler) add(m models.Message) {
	text := m.Text()
	if a.id == "" {
		a.id = m.ID
		if a.id == "" {
			a.id = a.fallbackID()
		}
	}
	if text == "" {
		return
	}
	a.text.WriteString(text)
	a.pending = true
}

// flush returns the action publishing the message so far. Partial flushes
// happen only when new text arrived; the final one always happens once any
// text exists.
func (a *assembler) flush(complete bool) (reconcile.Action[models.Message], bool) {
	if a.id == "" || a.text.Len() == 0 || (!a.pending && !complete) {
		return reconcile.Action[models.Message]{}, false
	}
	msg := models.Message{
		ID:       a.id,
		Role:     models.RoleAssistant,
		Complete: complete,
		Contents: []models.Content{models.TextContent(a.text.String())},
		Turn:     a.turn,
	}
	change := reconcile.Update
	if !a.pushed {
		change = reconcile.Add
	}
	a.pushed = true
	a.pending = false
	return reconcile.Action[models.Message]{Item: msg, Change: change}, true
}
