package reconcile

// Change is the kind of instruction an Action carries.
type Change string

const (
	Add    Change = "add"
	Update Change = "update"
	Remove Change = "remove"
)

// Action is one change instruction on the feed.
type Action[T any] struct {
	Item   T
	Change Change
}

// Emission is one feed emission. Either Actions holds an ordered batch that
// becomes a single revision, or Failed marks a rollback for the turn named by
// Scope.
type Emission[T any] struct {
	Actions []Action[T]
	Failed  bool
	Scope   string
}

// Batch wraps actions into one emission.
func Batch[T any](actions ...Action[T]) Emission[T] {
	return Emission[T]{Actions: actions}
}

// Failure builds the rollback emission for scope.
func Failure[T any](scope string) Emission[T] {
	return Emission[T]{Failed: true, Scope: scope}
}

// MergeFunc folds one emission into state and returns the new state. It must
// not modify state in place: published revisions are shared with readers.
type MergeFunc[T any] func(state []T, e Emission[T]) []T

// IdentityMerge returns the identity keyed merge policy.
//
//   - add replaces the item with the same key in its slot, or appends.
//   - update replaces the item with the same key in its slot; absent keys are ignored.
//   - remove drops the item with the same key; absent keys are ignored.
//   - a failure drops the last entry, provided scope reports it belongs to
//     the failed scope. A nil scope drops the last entry unconditionally.
func IdentityMerge[T any, K comparable](key func(T) K, scope func(T) string) MergeFunc[T] {
	return func(state []T, e Emission[T]) []T {
		if e.Failed {
			n := len(state)
			if n == 0 {
				return state
			}
			if scope != nil && scope(state[n-1]) != e.Scope {
				return state
			}
			out := make([]T, n-1)
			copy(out, state[:n-1])
			return out
		}
		if len(e.Actions) == 0 {
			return state
		}

		out := make([]T, len(state), len(state)+len(e.Actions))
		copy(out, state)
		changed := false
		for _, a := range e.Actions {
			i := indexOf(out, key(a.Item), key)
			switch a.Change {
			case Add:
				if i < 0 {
					out = append(out, a.Item)
				} else {
					out[i] = a.Item
				}
				changed = true
			case Update:
				if i >= 0 {
					out[i] = a.Item
					changed = true
				}
			case Remove:
				if i >= 0 {
					out = append(out[:i], out[i+1:]...)
					changed = true
				}
			}
		}
		if !changed {
			return state
		}
		return out
	}
}

func indexOf[T any, K comparable](items []T, k K, key func(T) K) int {
	for i := range items {
		if key(items[i]) == k {
			return i
		}
	}
	return -1
}
