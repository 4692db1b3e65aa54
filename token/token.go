// Package token implements a shareable cancellation token: a one-shot
// "this operation has been told to stop" signal with a registry of cleanup
// callbacks that fire exactly once at the transition.
//
// Tokens are created and cancelled through a Source. A Source that is dropped
// without ever cancelling lets the garbage collector discard the pending
// cancel callbacks unrun and moves its token to Immortal; the token itself
// only ever holds a weak link to its cancel list, so abandoned registrations
// never leak. The sibling arena package implements the same surface with
// deterministic, collector-free reclamation.
package token

import (
	"sync"
	"weak"
)

// State enumerates the lifecycle of a token.
type State uint8

const (
	// StateStillCancellable tokens store callbacks given to them, to be run
	// upon cancellation or discarded upon immortalization.
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
// identity and may be held by any number of goroutines; all methods are safe
// for concurrent use.
type Token struct {
	mu    sync.Mutex
	state State

	// onCancelled is deliberately weak: only the owning Source keeps the
	// cancel ring alive, so abandoning the Source lets the ring and every
	// callback closure in it be collected without the token's cooperation.
	onCancelled weak.Pointer[node]

	// onSettled is owned by the token and detached on either transition.
	onSettled *node
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

// WhenCancelled registers cb to run when the token is cancelled. If the token
// is already cancelled, cb runs synchronously before WhenCancelled returns.
// If the token is (or becomes) immortal, cb is discarded unrun.
// Panics if cb is nil.
func (t *Token) WhenCancelled(cb func()) {
	t.register(cb)
}

// WhenSettled registers cb to run once the token has permanently resolved,
// whether by cancellation or by becoming immortal. If the token has already
// resolved, cb runs synchronously. Panics if cb is nil.
func (t *Token) WhenSettled(cb func()) {
	t.settle(cb)
}

// register appends cb to the cancel ring and returns a weak handle to the new
// entry. ok is false when no entry was stored: the token is immortal, its
// source was already collected, or the token was cancelled and cb has already
// run on the calling goroutine.
func (t *Token) register(cb func()) (entry weak.Pointer[node], ok bool) {
	if cb == nil {
		panic("token: nil callback")
	}

	t.mu.Lock()
	switch t.state {
	case StateImmortal:
		t.mu.Unlock()
		return entry, false
	case StateStillCancellable:
		ring := t.onCancelled.Value()
		if ring == nil {
			// The source was collected; immortalization is imminent.
			t.mu.Unlock()
			return entry, false
		}
		n := ring.insert(cb)
		t.mu.Unlock()
		return weak.Make(n), true
	}
	t.mu.Unlock()

	cb()
	return entry, false
}

// settle appends cb to the settle ring, or runs it immediately when the token
// has already resolved. The returned node is nil in the immediate case.
func (t *Token) settle(cb func()) *node {
	if cb == nil {
		panic("token: nil callback")
	}

	t.mu.Lock()
	if t.state == StateStillCancellable {
		n := t.onSettled.insert(cb)
		t.mu.Unlock()
		return n
	}
	t.mu.Unlock()

	cb()
	return nil
}

// unregister unlinks n if the token has not resolved yet. Once a transition
// detaches the rings the firing pass owns them outside the lock, so late
// removals must leave them untouched; a removed entry on a resolved token has
// either already fired or been discarded. Nil n is a no-op.
func (t *Token) unregister(n *node) {
	if n == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateStillCancellable {
		return
	}
	n.remove()
}

// cancel performs the StillCancellable -> Cancelled transition. Both rings
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
	cancelled := t.onCancelled.Value()
	t.onSettled = nil
	t.onCancelled = weak.Pointer[node]{}
	t.mu.Unlock()

	settled.runAll()
	if cancelled != nil {
		cancelled.runAll()
	}
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
	t.onCancelled = weak.Pointer[node]{}
	t.mu.Unlock()

	settled.runAll()
}
