package token

import (
	"sync/atomic"
)

// WhenCancelledBefore registers cb to run when t cancels, unless guard
// cancels first. A guard that cancels first suppresses cb permanently, even
// if t cancels later; a guard that is already cancelled at call time wins the
// tie and suppresses cb outright. A guard that is (or becomes) immortal
// leaves cb behaving like a plain WhenCancelled registration. If t and guard
// are the same token this is a no-op. Panics if cb or guard is nil.
//
// The wiring leaves no cross-references behind once both tokens resolve: each
// side also gets a settle callback whose only job is to unlink the entries
// held on the other side, and a first-caller-wins latch collapses that
// deliberately cyclic pair on the second entry, whichever path gets there.
func (t *Token) WhenCancelledBefore(cb func(), guard *Token) {
	if cb == nil {
		panic("token: nil callback")
	}
	if guard == nil {
		panic("token: nil guard token")
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

	guardEntry, ok := guard.register(func() {
		trigger.unregister(triggerEntry.Value())
	})
	if !ok {
		// The guard already resolved away; cb stays a plain registration.
		return
	}

	// Neither token alone hears about the other resolving without
	// cancelling, so a symmetric settle pair unlinks the cross-registered
	// entries once either side is done. The latch is independent of both
	// token locks, which keeps the two teardown paths from ever needing
	// both locks at once. All removals go through unregister: once a token
	// has resolved its detached rings belong to the firing pass, and a
	// concurrent unlink there could loop that pass back onto the same node.
	var guardSettle *node
	var torn atomic.Bool
	prepareElseTearDown := func() {
		if torn.CompareAndSwap(false, true) {
			return
		}
		guard.unregister(guardEntry.Value())
		guard.unregister(guardSettle)
	}

	triggerSettle := trigger.settle(prepareElseTearDown)
	if triggerSettle != nil {
		guardSettle = guard.settle(func() {
			trigger.unregister(triggerSettle)
		})
	}
	// If both tokens resolved before the pair finished wiring, the settle
	// registrations above already entered the latch once; this second entry
	// completes the teardown instead of leaving a stuck cycle.
	prepareElseTearDown()
}
