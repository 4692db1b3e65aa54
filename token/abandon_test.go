package token_test

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"
	"weak"

	"github.com/delaneyj/cancelparty/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForState polls the collector until the token reaches the wanted state.
// Abandonment in this package is collector-driven, so tests have to nudge the
// GC rather than assert synchronously.
func waitForState(t *testing.T, tok *token.Token, want token.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		runtime.GC()
		return tok.State() == want
	}, 5*time.Second, 10*time.Millisecond)
}

// payload is a weak-probe target: a callback closure captures one, and the
// probe going nil proves the whole registration chain was reclaimed.
type payload struct {
	_ [16]byte
}

func waitForCollected(t *testing.T, probe weak.Pointer[payload]) {
	t.Helper()
	require.Eventually(t, func() bool {
		runtime.GC()
		return probe.Value() == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAbandonedSourceImmortalizesToken(t *testing.T) {
	var fired atomic.Int32

	// The source only lives inside the closure; returning hands back the
	// token with no strong path to the cancel ring left.
	tok := func() *token.Token {
		s := token.NewSource()
		s.Token().WhenCancelled(func() { fired.Add(1) })
		return s.Token()
	}()

	waitForState(t, tok, token.StateImmortal)
	assert.Equal(t, int32(0), fired.Load())

	// And stays discarded for late registrations too.
	tok.WhenCancelled(func() { fired.Add(1) })
	assert.Equal(t, int32(0), fired.Load())
}

func TestHeldSourceKeepsTokenCancellable(t *testing.T) {
	s := token.NewSource()
	tok := s.Token()

	for i := 0; i < 5; i++ {
		runtime.GC()
	}
	assert.Equal(t, token.StateStillCancellable, tok.State())
	runtime.KeepAlive(s)
}

func TestAbandonmentFiresSettleCallbacksOnce(t *testing.T) {
	var settled atomic.Int32

	tok := func() *token.Token {
		s := token.NewSource()
		s.Token().WhenSettled(func() { settled.Add(1) })
		return s.Token()
	}()

	waitForState(t, tok, token.StateImmortal)
	assert.Equal(t, int32(1), settled.Load())

	tok.WhenSettled(func() { settled.Add(1) })
	assert.Equal(t, int32(2), settled.Load())
}

func TestAbandonmentReleasesCallbackClosures(t *testing.T) {
	probe := func() weak.Pointer[payload] {
		p := &payload{}
		s := token.NewSource()
		s.Token().WhenCancelled(func() { runtime.KeepAlive(p) })
		return weak.Make(p)
	}()

	waitForCollected(t, probe)
}

func TestCancelReleasesCallbackClosuresPromptly(t *testing.T) {
	s := token.NewSource()

	probe := func() weak.Pointer[payload] {
		p := &payload{}
		s.Token().WhenCancelled(func() { runtime.KeepAlive(p) })
		return weak.Make(p)
	}()

	// The source stays reachable for the whole test; cancelling alone must
	// free the callback chain.
	require.True(t, s.Cancel())
	waitForCollected(t, probe)
	runtime.KeepAlive(s)
}
