package arena

import "sync/atomic"

// WhenCancelledBefore registers cb to run when t cancels, unless guard
// cancels first. A guard that cancels first suppresses cb permanently; a
// guard that is already cancelled at call time wins the tie and suppresses cb
// outright. A guard that is (or becomes) immortal leaves cb behaving like a
// plain WhenCancelled registration. If t and guard are the same token this is
// a no-op. Panics if cb or guard is nil.
//
// Cross-token bookkeeping is handle-based: each side holds integer handles
// into the other token's arena, and a symmetric settle pair removes them once
// either token resolves. The pair shares a first-caller-wins latch, separate
// from both token locks, so teardown runs exactly once and never needs two
// locks at the same time.
func (t *Token) WhenCancelledBefore(cb func(), guard *Token) {
	if cb == nil {
		panic("arena: nil callback")
	}
	if guard == nil {
		panic("arena: nil guard token")
	}
	trigger := t

	// The dependency would immediately cancel itself out.
	if trigger == guard {
		return
	}
	if guard.State() == StateCancelled {
		return
	}

	triggerEntry, ok := trigger.register(cb)
	if !ok {
		// The trigger ran cb or never will; nothing left to suppress.
		return
	}

	guardEntry, ok := guard.register(triggerEntry.Remove)
	if !ok {
		// The guard already resolved away; cb stays a plain registration.
		return
	}

	var guardSettle Handle
	var torn atomic.Bool
	prepareElseTearDown := func() {
		if torn.CompareAndSwap(false, true) {
			return
		}
		guardEntry.Remove()
		guardSettle.Remove()
	}

	triggerSettle, ok := trigger.registerSettle(prepareElseTearDown)
	if ok {
		guardSettle, _ = guard.registerSettle(triggerSettle.Remove)
	}
	// If both tokens resolved before the pair finished wiring, the settle
	// registrations above already entered the latch once; this second entry
	// completes the teardown instead of leaving a stuck cycle.
	prepareElseTearDown()
}
