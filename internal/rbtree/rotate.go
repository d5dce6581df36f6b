package rbtree

// Rotations relink exactly three edges (plus the parent back-references
// of the nodes involved) and never change a color; recoloring is a
// separate primitive and the two are composed by the fix-up logic.
// The in-order key sequence is unchanged by either rotation.

func (t *Tree[K, V]) leftRotate(x *Node[K, V]) {
	/*
		Left rotation around node x:
			    Before:               After:
		          P                    P
		          |                    |
		          x                    y
		         / \                  / \
		        A   y       →        x   C
		           / \              / \
		          B   C            A   B
	*/
	y := x.right
	x.right = y.left
	if y.left != t.nilNode {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilNode {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *Tree[K, V]) rightRotate(y *Node[K, V]) {
	/*
		Right rotation around node y:
		    Before:               After:
		       P                    P
		       |                    |
		       y                    x
		      / \                  / \
		     x   C       →        A   y
		    / \                      / \
		   A   B                    B   C
	*/
	x := y.left
	y.left = x.right
	if x.right != t.nilNode {
		x.right.parent = y
	}
	x.parent = y.parent
	if y.parent == t.nilNode {
		t.root = x
	} else if y == y.parent.right {
		y.parent.right = x
	} else {
		y.parent.left = x
	}
	x.right = y
	y.parent = x
}

// colorFlip recolors x's parent and uncle black and its grandparent
// red in one step. No links move. Callers must have established that
// x has a grandparent.
func (t *Tree[K, V]) colorFlip(x *Node[K, V]) {
	grandparent := x.parent.parent
	x.parent.color = black
	t.uncle(x).color = black
	grandparent.color = red
}
