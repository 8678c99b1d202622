package repository

import (
	"math"

	"github.com/okian/scoreingest/internal/domain/model"
)

// A ranking is a treap of one chart's PBs under one algorithm.
//
// Ordering: value DESC, then userID ASC, so in-order traversal yields the
// chart leaderboard from best to worst. Subtree sizes give ranks in
// O(log n).

// valueScale is the fixed-point scale applied to PB values.
const valueScale = 1_000_000

type valueFP int64

func toFixedPoint(x float64) valueFP {
	switch {
	case math.IsNaN(x):
		return 0
	case x*valueScale >= math.MaxInt64:
		return valueFP(math.MaxInt64)
	case x*valueScale <= math.MinInt64:
		return valueFP(math.MinInt64)
	}
	return valueFP(math.Round(x * valueScale))
}

type node struct {
	userID int
	value  valueFP
	prio   uint64
	left   *node
	right  *node
	size   int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less reports whether (av, aID) ranks before (bv, bID).
func less(av valueFP, aID int, bv valueFP, bID int) bool {
	if av != bv {
		return av > bv
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

// priority mixes the user id (splitmix64) so the heap order is independent
// of the key order.
func priority(userID int) uint64 {
	z := uint64(userID) + 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func insert(n *node, userID int, value valueFP) *node {
	if n == nil {
		return &node{userID: userID, value: value, prio: priority(userID), size: 1}
	}
	if less(value, userID, n.value, n.userID) {
		n.left = insert(n.left, userID, value)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, userID, value)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, userID int, value valueFP) *node {
	if n == nil {
		return nil
	}
	switch {
	case value == n.value && userID == n.userID:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, userID, value)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, userID, value)
		}
	case less(value, userID, n.value, n.userID):
		n.left = deleteNode(n.left, userID, value)
	default:
		n.right = deleteNode(n.right, userID, value)
	}
	fix(n)
	return n
}

// countAbove returns how many nodes hold a value strictly greater than v.
func countAbove(n *node, v valueFP) int {
	count := 0
	for n != nil {
		if n.value > v {
			count += 1 + nsize(n.left)
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// collectTop appends up to limit user ids in rank order.
func collectTop(n *node, limit int, out *[]int) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTop(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n.userID)
	}
	if len(*out) < limit {
		collectTop(n.right, limit, out)
	}
}

// ranking indexes one chart+algorithm. Not safe for concurrent use.
type ranking struct {
	root   *node
	values map[int]valueFP
}

func newRanking() *ranking {
	return &ranking{values: make(map[int]valueFP)}
}

// set stores userID's value, replacing any previous one.
func (r *ranking) set(userID int, value float64) {
	fp := toFixedPoint(value)
	if old, ok := r.values[userID]; ok {
		if old == fp {
			return
		}
		r.root = deleteNode(r.root, userID, old)
	}
	r.values[userID] = fp
	r.root = insert(r.root, userID, fp)
}

// rank returns userID's competition rank (ties share the better rank).
func (r *ranking) rank(userID int) (model.RankingData, bool) {
	fp, ok := r.values[userID]
	if !ok {
		return model.RankingData{}, false
	}
	return model.RankingData{Rank: countAbove(r.root, fp) + 1, OutOf: nsize(r.root)}, true
}

func (r *ranking) top(n int) []int {
	out := make([]int, 0, min(n, nsize(r.root)))
	collectTop(r.root, n, &out)
	return out
}
