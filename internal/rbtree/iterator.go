package rbtree

import (
	"iter"
)

// InOrder yields every key-value pair in ascending key order.
func (t *Tree[K, V]) InOrder() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		stack := []*Node[K, V]{}
		current := t.root
		for current != t.nilNode || len(stack) > 0 {

			for current != t.nilNode {
				stack = append(stack, current)
				current = current.left
			}

			current = stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if !yield(current.Key, current.Val) {
				return
			}

			current = current.right
		}
	}
}

// Range yields the key-value pairs with keys in [lo, hi] in ascending
// key order. Subtrees entirely outside the range are never visited, so
// the walk costs O(log n + matches). A range with lo > hi is empty.
func (t *Tree[K, V]) Range(lo, hi K) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		t.rangeVisit(t.root, lo, hi, yield)
	}
}

// rangeVisit is a pruned in-order walk: the left subtree is skipped
// when every key in it is below lo, the right when every key is above
// hi. Returns false once yield stops the traversal.
func (t *Tree[K, V]) rangeVisit(node *Node[K, V], lo, hi K, yield func(K, V) bool) bool {
	if node == t.nilNode {
		return true
	}
	if node.Key > lo {
		if !t.rangeVisit(node.left, lo, hi, yield) {
			return false
		}
	}
	if node.Key >= lo && node.Key <= hi {
		if !yield(node.Key, node.Val) {
			return false
		}
	}
	if node.Key < hi {
		if !t.rangeVisit(node.right, lo, hi, yield) {
			return false
		}
	}
	return true
}
