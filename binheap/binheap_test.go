package binheap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func intHeap() *Heap[int] {
	return New(func(a, b int) bool { return a < b })
}

// validate checks the complete-tree shape, the heap property, and link
// consistency, returning the node count and depth of the subtree.
func validate[T any](t *testing.T, h *Heap[T], base *Node[T]) (count, depth int) {
	t.Helper()
	if base == nil {
		return 0, 0
	}
	require.Same(t, h, base.heap)
	if base.left != nil {
		require.False(t, h.less(base.left.Value, base.Value), "heap property violated")
		require.Same(t, base, base.left.parent)
	}
	if base.right != nil {
		require.False(t, h.less(base.right.Value, base.Value), "heap property violated")
		require.Same(t, base, base.right.parent)
	}
	leftCount, leftDepth := validate(t, h, base.left)
	rightCount, rightDepth := validate(t, h, base.right)
	require.GreaterOrEqual(t, leftCount, rightCount, "tree not complete")
	depth = leftDepth
	if rightDepth > depth {
		depth = rightDepth
	}
	return 1 + leftCount + rightCount, 1 + depth
}

func validateHeap[T any](t *testing.T, h *Heap[T]) {
	t.Helper()
	count, depth := validate(t, h, h.root)
	require.Equal(t, h.size, count)
	fullTreeSize := 1<<depth - 1
	require.LessOrEqual(t, fullTreeSize/2, h.size)
	require.LessOrEqual(t, h.size, fullTreeSize)
}

func TestHeapBasic(t *testing.T) {
	h := intHeap()
	require.True(t, h.Empty())
	require.Nil(t, h.Top())

	nodes := []*Node[int]{
		{Value: 30},
		{Value: 40},
		{Value: 20},
		{Value: 10},
	}
	for _, n := range nodes {
		h.Insert(n)
		validateHeap(t, h)
	}

	require.Equal(t, 4, h.Len())
	require.Equal(t, 10, h.Top().Value)

	h.Remove(nodes[3])
	validateHeap(t, h)
	require.Equal(t, 20, h.Top().Value)

	// Remove an internal node, not the top.
	h.Remove(nodes[1])
	validateHeap(t, h)
	require.Equal(t, 20, h.Top().Value)

	h.Remove(nodes[2])
	validateHeap(t, h)
	require.Equal(t, 30, h.Top().Value)

	h.Remove(nodes[0])
	require.True(t, h.Empty())
	require.Nil(t, h.Top())
}

func TestHeapReinsert(t *testing.T) {
	h := intHeap()
	n := &Node[int]{Value: 5}
	h.Insert(n)
	require.True(t, n.InHeap())
	h.Remove(n)
	require.False(t, n.InHeap())

	n.Value = 7 // fine, not in the heap
	h.Insert(n)
	require.Equal(t, 7, h.Top().Value)
	h.Clear()
	require.False(t, n.InHeap())
}

func TestHeapDuplicateValues(t *testing.T) {
	h := intHeap()
	var nodes []*Node[int]
	for i := 0; i < 10; i++ {
		n := &Node[int]{Value: i % 3}
		nodes = append(nodes, n)
		h.Insert(n)
	}
	validateHeap(t, h)
	for _, n := range nodes {
		h.Remove(n)
		validateHeap(t, h)
	}
}

func TestHeapDrainOrder(t *testing.T) {
	h := intHeap()
	perm := rand.Perm(100)
	for _, v := range perm {
		h.Insert(&Node[int]{Value: v})
	}

	for want := 0; want < 100; want++ {
		top := h.Top()
		require.Equal(t, want, top.Value)
		h.Remove(top)
	}
	require.True(t, h.Empty())
}

func TestHeapRandomOps(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := intHeap()
		var in []*Node[int]

		ops := rapid.IntRange(1, 200).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			removal := len(in) > 0 && rapid.Bool().Draw(t, "removal")
			if removal {
				j := rapid.IntRange(0, len(in)-1).Draw(t, "victim")
				h.Remove(in[j])
				in = append(in[:j], in[j+1:]...)
			} else {
				n := &Node[int]{Value: rapid.IntRange(0, 50).Draw(t, "value")}
				h.Insert(n)
				in = append(in, n)
			}

			if len(in) == 0 {
				if h.Top() != nil {
					t.Fatalf("top of empty heap is not nil")
				}
				continue
			}
			min := in[0].Value
			for _, n := range in[1:] {
				if n.Value < min {
					min = n.Value
				}
			}
			if got := h.Top().Value; got != min {
				t.Fatalf("top = %d, want %d", got, min)
			}
			if h.Len() != len(in) {
				t.Fatalf("len = %d, want %d", h.Len(), len(in))
			}
		}
	})
}

// The randomized structural check is separate from TestHeapRandomOps because
// validateHeap needs *testing.T.
func TestHeapRandomShape(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		h := intHeap()
		var in []*Node[int]
		for i := 0; i < 100; i++ {
			if len(in) > 0 && rng.Intn(3) == 0 {
				j := rng.Intn(len(in))
				h.Remove(in[j])
				in = append(in[:j], in[j+1:]...)
			} else {
				n := &Node[int]{Value: rng.Intn(64)}
				h.Insert(n)
				in = append(in, n)
			}
			validateHeap(t, h)
		}
	}
}
