package rbtree

// Relative classification for the fix-up state machines. The sentinel
// stands in for every absent relative, so an absent uncle or sibling
// child reads as black without special-casing.

// uncle returns the sibling of x's parent. Callers must have
// established that x has a grandparent.
func (t *Tree[K, V]) uncle(x *Node[K, V]) *Node[K, V] {
	grandparent := x.parent.parent
	if x.parent == grandparent.left {
		return grandparent.right
	}
	return grandparent.left
}

// uncleColor reports the color of x's uncle, treating an absent uncle
// as black. ok is false when x has no parent or no grandparent, which
// is what terminates an upward fix-up walk at the root.
func (t *Tree[K, V]) uncleColor(x *Node[K, V]) (color, bool) {
	if x.parent == t.nilNode || x.parent.parent == t.nilNode {
		return black, false
	}
	return t.uncle(x).color, true
}

// siblingOf returns x's sibling together with the colors of the
// sibling's own left and right children; delete fix-up case selection
// depends on both. Callers must have established that x has a parent.
func (t *Tree[K, V]) siblingOf(x *Node[K, V]) (*Node[K, V], color, color) {
	var w *Node[K, V]
	if x == x.parent.left {
		w = x.parent.right
	} else {
		w = x.parent.left
	}
	return w, w.left.color, w.right.color
}
