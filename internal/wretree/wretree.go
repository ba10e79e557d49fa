// Package wretree implements the weight-ranked self-balancing ordered tree
// (WRE tree) used by the hotness ranking engine: an AVL-balanced binary
// search tree whose nodes additionally carry a subtree weight, turning
// ordinary key lookup into weighted-rank selection.
//
// The tree is single-writer by contract (see internal/ranking, which owns
// the only mutator goroutine); this package performs no locking of its own,
// mirroring the teacher's internal/clockpro package, which likewise assumes
// external synchronisation and stays lock-free internally.
//
// © 2025 memtier authors. MIT License.
package wretree

import "fmt"

// node is a single AVL node carrying both an ordinary key/weight pair and
// the aggregated subtree weight used for FindWeighted.
type node struct {
	key    float64
	weight int64 // own weight
	sw     int64 // subtree weight: weight + left.sw + right.sw
	height int32
	left   *node
	right  *node
}

// Tree is a weight-ranked ordered set of float64 keys. Zero value is an
// empty, ready-to-use tree.
type Tree struct {
	root *node
}

// Empty reports whether the tree currently holds no keys.
func (t *Tree) Empty() bool { return t.root == nil }

// TotalWeight returns the root's subtree weight, i.e. the sum of every
// node's own weight, or 0 for an empty tree.
func (t *Tree) TotalWeight() int64 {
	return subtreeWeight(t.root)
}

func subtreeWeight(n *node) int64 {
	if n == nil {
		return 0
	}
	return n.sw
}

func height(n *node) int32 {
	if n == nil {
		return 0
	}
	return n.height
}

func recalc(n *node) {
	n.height = 1 + maxInt32(height(n.left), height(n.right))
	n.sw = n.weight + subtreeWeight(n.left) + subtreeWeight(n.right)
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func balanceFactor(n *node) int32 {
	return height(n.left) - height(n.right)
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right

	x.right = y
	y.left = t2

	recalc(y)
	recalc(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left

	y.left = x
	x.right = t2

	recalc(x)
	recalc(y)
	return y
}

func rebalance(n *node) *node {
	recalc(n)
	bf := balanceFactor(n)

	if bf > 1 {
		if balanceFactor(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	}
	if bf < -1 {
		if balanceFactor(n.right) > 0 {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}

// Put inserts key with the given weight, or replaces the weight of an
// existing node carrying the same key. Weight must be non-negative; a zero
// weight is allowed (the node simply does not contribute to weighted
// selection until its weight is raised again).
func (t *Tree) Put(key float64, weight int64) {
	t.root = put(t.root, key, weight)
}

func put(n *node, key float64, weight int64) *node {
	if n == nil {
		return &node{key: key, weight: weight, sw: weight, height: 1}
	}
	switch {
	case key < n.key:
		n.left = put(n.left, key, weight)
	case key > n.key:
		n.right = put(n.right, key, weight)
	default:
		n.weight = weight
		recalc(n)
		return n
	}
	return rebalance(n)
}

// Remove deletes key from the tree and returns its former weight. ok is
// false if the key was not present.
func (t *Tree) Remove(key float64) (weight int64, ok bool) {
	var removed *node
	t.root, removed = remove(t.root, key)
	if removed == nil {
		return 0, false
	}
	return removed.weight, true
}

func remove(n *node, key float64) (*node, *node) {
	if n == nil {
		return nil, nil
	}
	var removed *node
	switch {
	case key < n.key:
		n.left, removed = remove(n.left, key)
	case key > n.key:
		n.right, removed = remove(n.right, key)
	default:
		removed = &node{key: n.key, weight: n.weight}
		switch {
		case n.left == nil:
			return n.right, removed
		case n.right == nil:
			return n.left, removed
		default:
			succ := minNode(n.right)
			n.key = succ.key
			n.weight = succ.weight
			n.right, _ = remove(n.right, succ.key)
		}
	}
	if n == nil {
		return nil, removed
	}
	return rebalance(n), removed
}

func minNode(n *node) *node {
	for n.left != nil {
		n = n.left
	}
	return n
}

func maxNode(n *node) *node {
	for n.right != nil {
		n = n.right
	}
	return n
}

// MaxKey returns the largest key present in the tree. ok is false for an
// empty tree.
func (t *Tree) MaxKey() (key float64, ok bool) {
	if t.root == nil {
		return 0, false
	}
	return maxNode(t.root).key, true
}

// MinKey returns the smallest key present in the tree. ok is false for an
// empty tree.
func (t *Tree) MinKey() (key float64, ok bool) {
	if t.root == nil {
		return 0, false
	}
	return minNode(t.root).key, true
}

// Weight returns the current own weight stored for key, or (0, false) if
// key is absent.
func (t *Tree) Weight(key float64) (int64, bool) {
	n := t.root
	for n != nil {
		switch {
		case key < n.key:
			n = n.left
		case key > n.key:
			n = n.right
		default:
			return n.weight, true
		}
	}
	return 0, false
}

// FindWeighted treats the tree as a weighted ordered enumeration of its keys
// from minimum upward, and returns the key whose "slot" in the cumulative
// weight ordering contains fraction*TotalWeight(): the smallest key n such
// that the sum of weights of all keys strictly less than n is <= the target
// and the sum of weights of all keys <= n exceeds the target. Ties at a
// slot boundary resolve to the higher key (the descent compares with a
// strict "<" against the inclusive cumulative weight, see the loop below).
//
// FindWeighted on an empty tree returns ok == false. fraction is expected in
// [0,1]; values outside are clamped.
func (t *Tree) FindWeighted(fraction float64) (key float64, weight int64, ok bool) {
	if t.root == nil {
		return 0, 0, false
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	target := fraction * float64(t.TotalWeight())

	n := t.root
	var offset float64
	for {
		leftW := float64(subtreeWeight(n.left))
		cumBefore := offset + leftW
		cumIncl := cumBefore + float64(n.weight)

		switch {
		case target < cumBefore:
			if n.left == nil {
				return n.key, n.weight, true
			}
			n = n.left
		case target < cumIncl:
			return n.key, n.weight, true
		default:
			if n.right == nil {
				return n.key, n.weight, true
			}
			offset = cumIncl
			n = n.right
		}
	}
}

// CheckInvariants walks the whole tree in O(n) recomputing heights and
// subtree weights, returning a descriptive error on the first mismatch. It
// exists for tests; production code never calls it.
func (t *Tree) CheckInvariants() error {
	_, _, err := checkInvariants(t.root)
	return err
}

func checkInvariants(n *node) (h int32, w int64, err error) {
	if n == nil {
		return 0, 0, nil
	}
	lh, lw, err := checkInvariants(n.left)
	if err != nil {
		return 0, 0, err
	}
	rh, rw, err := checkInvariants(n.right)
	if err != nil {
		return 0, 0, err
	}
	wantH := 1 + maxInt32(lh, rh)
	wantW := n.weight + lw + rw
	if n.height != wantH {
		return 0, 0, errHeight(n.key, n.height, wantH)
	}
	if n.sw != wantW {
		return 0, 0, errWeight(n.key, n.sw, wantW)
	}
	if d := lh - rh; d > 1 || d < -1 {
		return 0, 0, errBalance(n.key, d)
	}
	return wantH, wantW, nil
}

// Walk calls fn for every key in ascending order. fn's own-weight parameter
// reflects the node's current own weight, not the subtree weight.
func (t *Tree) Walk(fn func(key float64, weight int64)) {
	walk(t.root, fn)
}

func walk(n *node, fn func(key float64, weight int64)) {
	if n == nil {
		return
	}
	walk(n.left, fn)
	fn(n.key, n.weight)
	walk(n.right, fn)
}

// Len returns the number of keys in the tree in O(n).
func (t *Tree) Len() int {
	n := 0
	t.Walk(func(float64, int64) { n++ })
	return n
}

func errHeight(key float64, got, want int32) error {
	return fmt.Errorf("wretree: node %v: height mismatch: got %d, want %d", key, got, want)
}

func errWeight(key float64, got, want int64) error {
	return fmt.Errorf("wretree: node %v: subtree_weight mismatch: got %d, want %d", key, got, want)
}

func errBalance(key float64, diff int32) error {
	return fmt.Errorf("wretree: node %v: balance factor out of range: %d", key, diff)
}
