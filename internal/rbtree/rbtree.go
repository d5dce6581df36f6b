// Package rbtree implements a Red-Black Tree data structure
// with insertion, deletion, point search and range search.
//
// Red-Black Tree is a self-balancing binary search tree that guarantees
// O(log n) time complexity for basic operations. A tree is a
// single-owner structure: callers needing concurrent access must
// synchronize externally.
package rbtree

import (
	"cmp"
)

// color of a node. The zero value is deliberately not a legal color so
// that Validate can detect corrupted nodes.
type color uint8

const (
	red color = iota + 1
	black
)

// Node holds one stored key and its value. Absent children are
// represented by the tree's sentinel node, which is always black.
type Node[K cmp.Ordered, V any] struct {
	Key                 K
	Val                 V
	color               color
	left, right, parent *Node[K, V]
}

// Tree represents a Red-Black Tree instance.
// Use New() to create a new tree instance.
type Tree[K cmp.Ordered, V any] struct {
	root    *Node[K, V]
	nilNode *Node[K, V] // Sentinel node, stands in for every absent link
	size    int
}

// New creates and returns a new empty Red-Black Tree.
func New[K cmp.Ordered, V any]() *Tree[K, V] {
	nilNode := &Node[K, V]{color: black}
	return &Tree[K, V]{
		root:    nilNode,
		nilNode: nilNode,
	}
}

// Len returns the number of keys currently stored.
func (t *Tree[K, V]) Len() int {
	return t.size
}

// Insert adds a new key to the tree while maintaining Red-Black Tree
// properties. The tree holds no duplicate keys: inserting a key that is
// already present is a no-op and returns false. Use Update to replace
// the value of an existing key.
func (t *Tree[K, V]) Insert(key K, val V) bool {
	parent := t.nilNode
	current := t.root

	for current != t.nilNode {
		parent = current
		switch {
		case key < current.Key:
			current = current.left
		case key > current.Key:
			current = current.right
		default:
			return false
		}
	}

	newNode := &Node[K, V]{
		Key:    key,
		Val:    val,
		color:  red, // new nodes are always red
		left:   t.nilNode,
		right:  t.nilNode,
		parent: parent,
	}

	if parent == t.nilNode {
		t.root = newNode
	} else if key < parent.Key {
		parent.left = newNode
	} else {
		parent.right = newNode
	}

	t.size++
	t.fixInsert(newNode)
	return true
}

// fixInsert walks from the freshly inserted node toward the root,
// repairing the red-red violation a red insert may have introduced.
// Case selection is purely structural (which side a node hangs on);
// key comparisons only happened during the descent.
func (t *Tree[K, V]) fixInsert(x *Node[K, V]) {
	for x.parent.color == red {
		uncle, ok := t.uncleColor(x)
		if !ok {
			// no grandparent: the walk has reached the root
			break
		}

		if uncle == red {
			t.colorFlip(x)
			x = x.parent.parent
			continue
		}

		grandparent := x.parent.parent
		if x.parent == grandparent.left {
			if x == x.parent.right {
				// zig-zag: straighten it so the outer case applies
				x = x.parent
				t.leftRotate(x)
			}
			x.parent.color = black
			x.parent.parent.color = red
			t.rightRotate(x.parent.parent)
		} else {
			if x == x.parent.left {
				x = x.parent
				t.rightRotate(x)
			}
			x.parent.color = black
			x.parent.parent.color = red
			t.leftRotate(x.parent.parent)
		}
	}
	t.root.color = black
}

// Update replaces the value stored under key without touching the tree
// structure or any node color. Returns false if the key is absent.
func (t *Tree[K, V]) Update(key K, val V) bool {
	node := t.findNode(key)
	if node == t.nilNode {
		return false
	}
	node.Val = val
	return true
}

// Delete removes a key from the tree while maintaining Red-Black Tree
// properties. If the key is absent the tree is left unchanged and the
// second return value is false.
func (t *Tree[K, V]) Delete(key K) (V, bool) {
	var zero V

	z := t.findNode(key)
	if z == t.nilNode {
		return zero, false
	}
	val := z.Val

	// y is the node physically spliced out; x takes its structural
	// position and inherits the double-black deficit if y was black.
	y := z
	yOriginalColor := y.color
	var x *Node[K, V]

	switch {
	case z.left == t.nilNode:
		x = z.right
		t.transplant(z, z.right)
	case z.right == t.nilNode:
		x = z.left
		t.transplant(z, z.left)
	default:
		// two children: the in-order successor is spliced out of its
		// position and relinked into z's place wearing z's color, so
		// the black count only changes at the splice point.
		y = t.minimum(z.right)
		yOriginalColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOriginalColor == black {
		t.fixDelete(x)
	}

	t.size--
	return val, true
}

// transplant replaces the subtree rooted at u with the subtree rooted
// at v in u's parent.
func (t *Tree[K, V]) transplant(u, v *Node[K, V]) {
	if u.parent == t.nilNode {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *Tree[K, V]) minimum(x *Node[K, V]) *Node[K, V] {
	for x.left != t.nilNode {
		x = x.left
	}
	return x
}

// fixDelete resolves the double-black deficit carried by x after a
// black node was spliced out. If x is red the deficit is discharged by
// the final recolor; otherwise the sibling classification decides the
// repair case, and the deficit may propagate toward the root.
func (t *Tree[K, V]) fixDelete(x *Node[K, V]) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w, wl, wr := t.siblingOf(x)
			if w.color == red {
				// red sibling: lift it above the parent so the new
				// sibling is black, then reclassify
				w.color = black
				x.parent.color = red
				t.leftRotate(x.parent)
				w, wl, wr = t.siblingOf(x)
			}
			if wl == black && wr == black {
				w.color = red
				x = x.parent // deficit moves up
			} else {
				if wr == black {
					// only the near child is red: convert to far-red
					w.left.color = black
					w.color = red
					t.rightRotate(w)
					w, _, _ = t.siblingOf(x)
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.leftRotate(x.parent)
				x = t.root
			}
		} else {
			w, wl, wr := t.siblingOf(x)
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rightRotate(x.parent)
				w, wl, wr = t.siblingOf(x)
			}
			if wr == black && wl == black {
				w.color = red
				x = x.parent
			} else {
				if wl == black {
					w.right.color = black
					w.color = red
					t.leftRotate(w)
					w, _, _ = t.siblingOf(x)
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rightRotate(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}

// Find returns the value stored under key.
func (t *Tree[K, V]) Find(key K) (V, bool) {
	node := t.findNode(key)
	if node == t.nilNode {
		return t.nilNode.Val, false
	}
	return node.Val, true
}

func (t *Tree[K, V]) findNode(key K) *Node[K, V] {
	current := t.root
	for current != t.nilNode {
		switch {
		case key == current.Key:
			return current
		case key < current.Key:
			current = current.left
		default:
			current = current.right
		}
	}
	return t.nilNode
}

// Exists checks if a key is present in the tree.
func (t *Tree[K, V]) Exists(key K) bool {
	return t.findNode(key) != t.nilNode
}
