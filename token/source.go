package token

import (
	"runtime"
	"weak"
)

// Source creates and controls exactly one token. It holds the only strong
// reference to the token's cancel ring, plus a cleanup tied to the Source's
// own reachability: dropping a Source without cancelling immortalizes its
// token, however many holders the token still has.
type Source struct {
	token *Token

	// ring is the only strong reference to the token's cancel callbacks.
	ring    *node
	cleanup runtime.Cleanup
}

// NewSource returns a source controlling a fresh still-cancellable token.
func NewSource() *Source {
	ring := newRing()
	t := &Token{
		state:       StateStillCancellable,
		onCancelled: weak.Make(ring),
		onSettled:   newRing(),
	}
	s := &Source{token: t, ring: ring}
	s.cleanup = runtime.AddCleanup(s, (*Token).immortalize, t)
	return s
}

// Token returns the token controlled by the source.
func (s *Source) Token() *Token {
	return s.token
}

// Cancel moves the token to Cancelled and fires its callbacks in
// registration order, settle callbacks first. Returns false and does nothing
// if the token had already resolved. On success the source drops its strong
// references, so anything retained only through callback closures becomes
// collectible without waiting for the Source itself to be reclaimed.
func (s *Source) Cancel() bool {
	if !s.token.cancel() {
		return false
	}
	s.ring = nil
	s.cleanup.Stop()
	return true
}
