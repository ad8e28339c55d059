// Package reconcile keeps an ordered list of items consistent with a feed of
// change instructions.
//
// One goroutine (Run) owns the state. Producers enqueue emissions and the
// owner folds them strictly in arrival order, publishing every resulting
// revision to subscribers.
package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
)

var ErrStopped = errors.New("reconciler stopped")

const defaultBuffer = 64

type op[T any] struct {
	emission Emission[T]
	reset    bool
	base     []T
	reply    chan []T
}

// Reconciler folds emissions into an ordered list with a merge policy.
type Reconciler[T any] struct {
	merge    MergeFunc[T]
	ops      chan op[T]
	out      *Broadcast[[]T]
	done     chan struct{}
	revision atomic.Uint64
	started  atomic.Bool
}

// Option configures a Reconciler.
type Option func(*options)

type options struct {
	buffer int
}

// WithBuffer sets how many emissions may queue before producers block.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// New returns a reconciler whose initial revision is seed.
func New[T any](seed []T, merge MergeFunc[T], opts ...Option) *Reconciler[T] {
	o := options{buffer: defaultBuffer}
	for _, fn := range opts {
		fn(&o)
	}
	return &Reconciler[T]{
		merge: merge,
		ops:   make(chan op[T], o.buffer),
		out:   NewBroadcastWith(clone(seed)),
		done:  make(chan struct{}),
	}
}

// Run folds queued emissions until ctx ends. It must be called once.
func (r *Reconciler[T]) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("reconciler already running")
	}
	defer func() {
		close(r.done)
		r.out.Close()
	}()

	state, _ := r.out.Last()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-r.ops:
			switch {
			case o.reply != nil:
				o.reply <- clone(state)
				continue
			case o.reset:
				state = clone(o.base)
			default:
				next := r.merge(state, o.emission)
				if sameSlice(next, state) {
					// no-op emissions do not produce a revision
					continue
				}
				state = next
			}
			r.revision.Add(1)
			r.out.Publish(state)
		}
	}
}

// Apply enqueues one emission.
func (r *Reconciler[T]) Apply(ctx context.Context, e Emission[T]) error {
	return r.enqueue(ctx, op[T]{emission: e})
}

// Push enqueues actions as a single batch.
func (r *Reconciler[T]) Push(ctx context.Context, actions ...Action[T]) error {
	return r.Apply(ctx, Batch(actions...))
}

// Fail enqueues the rollback emission for scope.
func (r *Reconciler[T]) Fail(ctx context.Context, scope string) error {
	return r.Apply(ctx, Failure[T](scope))
}

// Reset replaces the state with base once every earlier emission is folded.
func (r *Reconciler[T]) Reset(ctx context.Context, base []T) error {
	return r.enqueue(ctx, op[T]{reset: true, base: clone(base)})
}

// State returns the state after every emission enqueued before the call has
// been folded.
func (r *Reconciler[T]) State(ctx context.Context) ([]T, error) {
	reply := make(chan []T, 1)
	if err := r.enqueue(ctx, op[T]{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-r.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns a copy of the latest published revision.
func (r *Reconciler[T]) Snapshot() []T {
	s, _ := r.out.Last()
	return clone(s)
}

// Revision counts the revisions published since New.
func (r *Reconciler[T]) Revision() uint64 { return r.revision.Load() }

// Subscribe streams revisions, starting with the current one. Values are
// shared between subscribers and must be treated as read-only.
func (r *Reconciler[T]) Subscribe() (<-chan []T, func()) {
	return r.out.Subscribe()
}

// Done is closed when Run returns.
func (r *Reconciler[T]) Done() <-chan struct{} { return r.done }

func (r *Reconciler[T]) enqueue(ctx context.Context, o op[T]) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.ops <- o:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clone[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func sameSlice[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
