package token

// node is a circular doubly-linked callback ring. A zero-callback root acts
// as the sentinel; every other node holds one registered callback.
type node struct {
	next, prev *node
	callback   func()
}

func newRing() *node {
	root := &node{}
	root.next, root.prev = root, root
	return root
}

// insert appends a callback at the tail of the ring, preserving registration
// order when the ring is walked from the root.
func (root *node) insert(callback func()) *node {
	n := &node{
		callback: callback,
		next:     root,
		prev:     root.prev,
	}
	n.prev.next = n
	n.next.prev = n
	return n
}

// remove unlinks n from its ring. A removed node self-links, so removing it
// again is a no-op.
func (n *node) remove() {
	n.next.prev = n.prev
	n.prev.next = n.next
	n.next = n
	n.prev = n
}

// runAll invokes every callback in insertion order. Only called on the root,
// after the ring has been detached from its token.
func (root *node) runAll() {
	for n := root.next; n != root; n = n.next {
		n.callback()
	}
}
