package rbtree

import "strings"

// Violations is a bitmask describing which Red-Black Tree invariants a
// tree breaks. Validation is a diagnostic: mutations never call it, and
// it never mutates the tree.
type Violations uint32

const (
	// ViolationInvalidColor: a reachable node is neither red nor black.
	ViolationInvalidColor Violations = 1 << iota
	// ViolationRedRoot: the root is not black.
	ViolationRedRoot
	// ViolationNullNotBlack: the sentinel standing in for absent links
	// is not black. Structurally impossible unless the representation
	// was corrupted, checked defensively.
	ViolationNullNotBlack
	// ViolationRedChildOfRed: a red node has a red child.
	ViolationRedChildOfRed
	// ViolationUnequalBlackPaths: root-to-leaf paths pass through
	// differing numbers of black nodes.
	ViolationUnequalBlackPaths
)

var violationNames = map[Violations]string{
	ViolationInvalidColor:      "invalid color",
	ViolationRedRoot:           "red root",
	ViolationNullNotBlack:      "null not black",
	ViolationRedChildOfRed:     "red child of red",
	ViolationUnequalBlackPaths: "unequal black paths",
}

// Has reports whether v contains the given violation flag.
func (v Violations) Has(flag Violations) bool {
	return v&flag != 0
}

func (v Violations) String() string {
	if v == 0 {
		return "valid"
	}
	var names []string
	for flag := ViolationInvalidColor; flag <= ViolationUnequalBlackPaths; flag <<= 1 {
		if v.Has(flag) {
			names = append(names, violationNames[flag])
		}
	}
	return strings.Join(names, ", ")
}

// Validate independently re-derives whether the Red-Black Tree
// invariants hold and returns a bitmask of the ones that fail. It
// always returns a result; an empty tree is valid. A root carrying a
// parent link indicates link corruption rather than a balance bug and
// panics instead of being reported.
func (t *Tree[K, V]) Validate() Violations {
	var violations Violations

	if t.nilNode.color != black {
		violations |= ViolationNullNotBlack
	}

	if t.root == t.nilNode {
		return violations
	}

	if t.root.parent != t.nilNode && t.root.parent != nil {
		panic("rbtree: root has a parent link")
	}

	if t.root.color != black {
		violations |= ViolationRedRoot
	}

	t.checkNode(t.root, t.blackHeight(), &violations)
	return violations
}

// VerifyTreeProperties reports whether all Red-Black Tree invariants
// hold. Convenience wrapper around Validate.
func (t *Tree[K, V]) VerifyTreeProperties() bool {
	return t.Validate() == 0
}

// blackHeight counts the black nodes along the leftmost path. Any
// single path works as the reference: if the tree is valid all paths
// agree, and if they disagree checkNode reports it.
func (t *Tree[K, V]) blackHeight() int {
	height := 0
	for current := t.root; current != t.nilNode; current = current.left {
		if current.color == black {
			height++
		}
	}
	return height
}

// checkNode descends with the number of black nodes the path below is
// still expected to contain. remaining is passed by value so both
// children are checked against the same inherited count rather than a
// running total leaking across siblings.
func (t *Tree[K, V]) checkNode(node *Node[K, V], remaining int, violations *Violations) {
	if node == t.nilNode {
		if remaining != 0 {
			*violations |= ViolationUnequalBlackPaths
		}
		return
	}

	if node.color != red && node.color != black {
		*violations |= ViolationInvalidColor
	}

	if node.color == black {
		remaining--
	}

	if node.color == red && (node.left.color == red || node.right.color == red) {
		*violations |= ViolationRedChildOfRed
	}

	t.checkNode(node.left, remaining, violations)
	t.checkNode(node.right, remaining, violations)
}
