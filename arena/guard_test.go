package arena_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/delaneyj/cancelparty/arena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardCancellingFirstSuppressesCallback(t *testing.T) {
	trigger := arena.NewSource()
	guard := arena.NewSource()

	calls := 0
	trigger.Token().WhenCancelledBefore(func() { calls++ }, guard.Token())

	guard.Cancel()
	assert.Equal(t, 0, calls)

	trigger.Cancel()
	assert.Equal(t, 0, calls)
}

func TestTriggerCancellingFirstFiresCallback(t *testing.T) {
	trigger := arena.NewSource()
	guard := arena.NewSource()

	calls := 0
	trigger.Token().WhenCancelledBefore(func() { calls++ }, guard.Token())

	trigger.Cancel()
	assert.Equal(t, 1, calls)

	guard.Cancel()
	assert.Equal(t, 1, calls)
}

func TestBackAndForthConditionalCancellation(t *testing.T) {
	s := arena.NewSource()
	u := arena.NewSource()

	sCalls, uCalls := 0, 0
	s.Token().WhenCancelledBefore(func() { sCalls++ }, u.Token())
	u.Token().WhenCancelledBefore(func() { uCalls++ }, s.Token())

	s.Cancel()
	assert.Equal(t, 1, sCalls)
	assert.Equal(t, 0, uCalls)

	u.Cancel()
	assert.Equal(t, 1, sCalls)
	assert.Equal(t, 0, uCalls)
}

func TestGuardingOnSelfIsNoOp(t *testing.T) {
	s := arena.NewSource()

	before := 0
	s.Token().WhenCancelledBefore(func() { before++ }, s.Token())
	s.Cancel()

	after := 0
	s.Token().WhenCancelledBefore(func() { after++ }, s.Token())

	assert.Equal(t, 0, before)
	assert.Equal(t, 0, after)
}

func TestGuardAlreadyCancelledWinsTies(t *testing.T) {
	calls := 0
	s := arena.NewSource()
	s.Cancel()

	s.Token().WhenCancelledBefore(func() { calls++ }, arena.Cancelled())
	arena.Cancelled().WhenCancelledBefore(func() { calls++ }, arena.Cancelled())
	arena.Cancelled().WhenCancelledBefore(func() { calls++ }, s.Token())

	assert.Equal(t, 0, calls)
}

func TestImmortalGuardActsAsPlainRegistration(t *testing.T) {
	trigger := arena.NewSource()

	calls := 0
	trigger.Token().WhenCancelledBefore(func() { calls++ }, arena.Immortal())

	trigger.Cancel()
	assert.Equal(t, 1, calls)
}

func TestGuardReleasedAllowsCallback(t *testing.T) {
	trigger := arena.NewSource()
	guard := arena.NewSource()

	calls := 0
	trigger.Token().WhenCancelledBefore(func() { calls++ }, guard.Token())

	guard.Release()
	assert.Equal(t, arena.StateImmortal, guard.Token().State())

	assert.Equal(t, 0, calls)
	trigger.Cancel()
	assert.Equal(t, 1, calls)
}

func TestTriggerReleasedDiscardsCallback(t *testing.T) {
	trigger := arena.NewSource()
	guard := arena.NewSource()

	calls := 0
	trigger.Token().WhenCancelledBefore(func() { calls++ }, guard.Token())

	trigger.Release()
	guard.Cancel()
	assert.Equal(t, 0, calls)
}

func TestConcurrentLinkedCancelsFireAtMostOnce(t *testing.T) {
	for i := 0; i < 200; i++ {
		trigger := arena.NewSource()
		guard := arena.NewSource()

		var calls atomic.Int32
		trigger.Token().WhenCancelledBefore(func() { calls.Add(1) }, guard.Token())

		var start, done sync.WaitGroup
		start.Add(1)
		done.Add(2)
		go func() { defer done.Done(); start.Wait(); trigger.Cancel() }()
		go func() { defer done.Done(); start.Wait(); guard.Cancel() }()
		start.Done()
		done.Wait()

		require.LessOrEqual(t, calls.Load(), int32(1))
	}
}

func TestTriggerAlreadyCancelledRunsImmediately(t *testing.T) {
	guard := arena.NewSource()

	calls := 0
	arena.Cancelled().WhenCancelledBefore(func() { calls++ }, guard.Token())
	assert.Equal(t, 1, calls)
}

func TestGuardCancellationUnlinksSuppressedCallback(t *testing.T) {
	s1 := arena.NewSource()
	s2 := arena.NewSource()

	c1Calls, c2Calls := 0, 0
	s1.Token().WhenCancelledBefore(func() { c1Calls++ }, s2.Token())
	s2.Token().WhenCancelledBefore(func() { c2Calls++ }, s1.Token())

	s1.Cancel()
	assert.Equal(t, 1, c1Calls)
	assert.Equal(t, 0, c2Calls)

	s2.Cancel()
	assert.Equal(t, 1, c1Calls)
	assert.Equal(t, 0, c2Calls)
}

func TestMutualReleaseFiresNothing(t *testing.T) {
	s1 := arena.NewSource()
	s2 := arena.NewSource()

	calls := 0
	s1.Token().WhenCancelledBefore(func() { calls++ }, s2.Token())
	s2.Token().WhenCancelledBefore(func() { calls++ }, s1.Token())

	s1.Release()
	s2.Release()

	assert.Equal(t, arena.StateImmortal, s1.Token().State())
	assert.Equal(t, arena.StateImmortal, s2.Token().State())
	assert.Equal(t, 0, calls)
}

func TestReleaseThenCancelSuppressionChain(t *testing.T) {
	s1 := arena.NewSource()
	s2 := arena.NewSource()

	c1Calls, c2Calls := 0, 0
	s1.Token().WhenCancelledBefore(func() { c1Calls++ }, s2.Token())
	s2.Token().WhenCancelledBefore(func() { c2Calls++ }, s1.Token())

	// Releasing s1 discards its conditional callback unrun; s1 never
	// cancelled, so s2's callback survives and fires on s2's cancel.
	s1.Release()
	assert.Equal(t, 0, c1Calls)
	assert.Equal(t, 0, c2Calls)

	s2.Cancel()
	assert.Equal(t, 0, c1Calls)
	assert.Equal(t, 1, c2Calls)
}
