// Package arena implements the same cancellation-token surface as the token
// package with deterministic, collector-free reclamation: callback entries
// live in a per-token arena addressed by integer handles, and abandoning a
// Source is an explicit Release call instead of a garbage-collection event.
// Release discards pending cancel callbacks unrun at a point the caller
// chooses, which makes abandonment exactly as testable as cancellation.
package arena

import "sync"

// State enumerates the lifecycle of a token.
type State uint8

const (
	// StateStillCancellable tokens store callbacks given to them, to be run
	// upon cancellation or discarded upon release.
	StateStillCancellable State = iota

	// StateCancelled tokens have run (or are running) any stored callbacks,
	// and immediately run any new cancel callbacks given to them.
	StateCancelled

	// StateImmortal tokens discard, without running, any callbacks that have
	// been or will be given to them.
	StateImmortal
)

func (s State) String() string {
	switch s {
	case StateStillCancellable:
		return "still-cancellable"
	case StateCancelled:
		return "cancelled"
	case StateImmortal:
		return "immortal"
	default:
		return "unknown"
	}
}

// Token is the read side of a cancellation signal. Tokens are compared by
// identity; all methods are safe for concurrent use.
type Token struct {
	mu          sync.Mutex
	state       State
	onCancelled *list
	onSettled   *list
}

// Handle identifies one registered callback. The zero Handle is valid and
// removes nothing.
type Handle struct {
	t      *Token
	settle bool
	idx    int
}

// Remove unlinks the callback if it is still pending. Idempotent, and a
// no-op once the owning token has resolved, since both lists are discarded
// wholesale at the transition.
func (h Handle) Remove() {
	if h.t == nil {
		return
	}
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	if h.t.state != StateStillCancellable {
		return
	}
	if h.settle {
		h.t.onSettled.remove(h.idx)
	} else {
		h.t.onCancelled.remove(h.idx)
	}
}

// Cancelled returns a token that is already cancelled.
func Cancelled() *Token {
	return &Token{state: StateCancelled}
}

// Immortal returns a token that will never be cancelled.
func Immortal() *Token {
	return &Token{state: StateImmortal}
}

// State reports whether the token is still cancellable, cancelled or immortal.
func (t *Token) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// WhenCancelled registers cb to run when the token is cancelled and returns a
// handle that can unregister it. If the token is already cancelled, cb runs
// synchronously and the zero handle is returned; if the token is immortal, cb
// is discarded unrun. Panics if cb is nil.
func (t *Token) WhenCancelled(cb func()) Handle {
	h, _ := t.register(cb)
	return h
}

// WhenSettled registers cb to run once the token has permanently resolved,
// whether by cancellation or release. If the token has already resolved, cb
// runs synchronously and the zero handle is returned. Panics if cb is nil.
func (t *Token) WhenSettled(cb func()) Handle {
	h, _ := t.registerSettle(cb)
	return h
}

// register appends cb to the cancel list. ok is false when no entry was
// stored: the token is immortal, or it was cancelled and cb has already run
// on the calling goroutine.
func (t *Token) register(cb func()) (Handle, bool) {
	if cb == nil {
		panic("arena: nil callback")
	}

	t.mu.Lock()
	switch t.state {
	case StateImmortal:
		t.mu.Unlock()
		return Handle{}, false
	case StateStillCancellable:
		idx := t.onCancelled.insert(cb)
		t.mu.Unlock()
		return Handle{t: t, idx: idx}, true
	}
	t.mu.Unlock()

	cb()
	return Handle{}, false
}

// registerSettle appends cb to the settle list, or runs it immediately when
// the token has already resolved.
func (t *Token) registerSettle(cb func()) (Handle, bool) {
	if cb == nil {
		panic("arena: nil callback")
	}

	t.mu.Lock()
	if t.state == StateStillCancellable {
		idx := t.onSettled.insert(cb)
		t.mu.Unlock()
		return Handle{t: t, settle: true, idx: idx}, true
	}
	t.mu.Unlock()

	cb()
	return Handle{}, false
}

// cancel performs the StillCancellable -> Cancelled transition. Both lists
// are detached under the lock and fired outside it, settle callbacks first,
// so callbacks may re-enter the token freely.
func (t *Token) cancel() bool {
	t.mu.Lock()
	if t.state != StateStillCancellable {
		t.mu.Unlock()
		return false
	}
	t.state = StateCancelled
	settled := t.onSettled
	cancelled := t.onCancelled
	t.onSettled = nil
	t.onCancelled = nil
	t.mu.Unlock()

	settled.runAll()
	cancelled.runAll()
	return true
}

// immortalize performs the StillCancellable -> Immortal transition, firing
// settle callbacks and discarding cancel callbacks unrun. No-op on a token
// that has already resolved.
func (t *Token) immortalize() {
	t.mu.Lock()
	if t.state != StateStillCancellable {
		t.mu.Unlock()
		return
	}
	t.state = StateImmortal
	settled := t.onSettled
	t.onSettled = nil
	t.onCancelled = nil
	t.mu.Unlock()

	settled.runAll()
}
