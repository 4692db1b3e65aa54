package arena

// list is an append-only arena of callback entries. Removal tombstones the
// entry in place, so integer handles stay valid and removing one twice is a
// safe no-op.
type list struct {
	entries []entry
}

type entry struct {
	callback func()
	removed  bool
}

// insert appends a callback and returns its index.
func (l *list) insert(callback func()) int {
	l.entries = append(l.entries, entry{callback: callback})
	return len(l.entries) - 1
}

// remove tombstones the entry at idx.
func (l *list) remove(idx int) {
	l.entries[idx].removed = true
	l.entries[idx].callback = nil
}

// runAll invokes the live callbacks in insertion order. Only called after the
// list has been detached from its token.
func (l *list) runAll() {
	for i := range l.entries {
		if e := &l.entries[i]; !e.removed {
			e.callback()
		}
	}
}
