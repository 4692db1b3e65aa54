package arena

// Source creates and controls exactly one token. Unlike the token package,
// abandonment is explicit: callers that decide never to cancel call Release,
// which discards pending cancel callbacks unrun and immortalizes the token at
// a deterministic point instead of whenever the collector notices.
type Source struct {
	token *Token
}

// NewSource returns a source controlling a fresh still-cancellable token.
func NewSource() *Source {
	return &Source{token: &Token{
		state:       StateStillCancellable,
		onCancelled: &list{},
		onSettled:   &list{},
	}}
}

// Token returns the token controlled by the source.
func (s *Source) Token() *Token {
	return s.token
}

// Cancel moves the token to Cancelled and fires its callbacks in
// registration order, settle callbacks first. Returns false and does nothing
// if the token had already resolved.
func (s *Source) Cancel() bool {
	return s.token.cancel()
}

// Release abandons the source: a still-cancellable token becomes Immortal,
// firing settle callbacks and discarding cancel callbacks unrun. Idempotent,
// and a no-op after a successful Cancel.
func (s *Source) Release() {
	s.token.immortalize()
}
