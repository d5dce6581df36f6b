package rbtree_test

import (
	"cmp"
	"math/rand"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madrone-kv/madrone/internal/rbtree"
)

const (
	benchSize = 10_000
	size      = 10_000
	source    = 42
)

func TestInsert(t *testing.T) {
	r := rand.New(rand.NewSource(source))
	shuffled := r.Perm(size)

	sorted := make([]int, size)
	for i := range sorted {
		sorted[i] = i
	}

	reversed := make([]int, size)
	for i := range reversed {
		reversed[i] = size - 1 - i
	}

	tests := []struct {
		name  string
		input []int
	}{
		{"Empty", []int{}},
		{"Single", []int{1}},
		{"Shuffled", shuffled},
		{"Sorted", sorted},
		{"Reversed", reversed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := rbtree.New[int, int]()
			for _, v := range tt.input {
				require.True(t, tree.Insert(v, v))
			}

			assert.Equal(t, rbtree.Violations(0), tree.Validate())
			assert.Equal(t, len(tt.input), tree.Len())

			want := make([]int, len(tt.input))
			copy(want, tt.input)
			slices.Sort(want)

			assert.Equal(t, want, inorderKeys(tree))
		})
	}
}

func TestInsertDuplicate(t *testing.T) {
	tree := rbtree.New[int, string]()
	for _, k := range []int{5, 3, 8, 1} {
		require.True(t, tree.Insert(k, "v"))
	}

	before := inorderKeys(tree)
	validBefore := tree.Validate()

	assert.False(t, tree.Insert(3, "other"), "duplicate insert must be a no-op")
	assert.Equal(t, 4, tree.Len())
	assert.Equal(t, before, inorderKeys(tree), "duplicate insert must not change shape")
	assert.Equal(t, validBefore, tree.Validate())

	// the stored value is untouched as well; Update is the way to replace it
	v, ok := tree.Find(3)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestUpdate(t *testing.T) {
	tree := rbtree.New[string, int]()
	require.True(t, tree.Insert("a", 1))

	assert.True(t, tree.Update("a", 2))
	v, ok := tree.Find("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	assert.False(t, tree.Update("missing", 3))
	assert.Equal(t, 1, tree.Len())
}

func TestDelete(t *testing.T) {
	r := rand.New(rand.NewSource(source))

	t.Run("LargeDataset", func(t *testing.T) {
		tree := rbtree.New[int, int]()
		keys := r.Perm(size)

		for _, k := range keys {
			tree.Insert(k, k)
		}

		for _, k := range keys {
			require.True(t, tree.Exists(k), "key %d should exist before deletion", k)
		}

		r.Shuffle(len(keys), func(i, j int) {
			keys[i], keys[j] = keys[j], keys[i]
		})

		for i, k := range keys {
			v, ok := tree.Delete(k)
			require.True(t, ok, "deleting key %d (iteration %d)", k, i)
			require.Equal(t, k, v)
			require.False(t, tree.Exists(k), "key %d still exists after deletion (iteration %d)", k, i)
			require.Equal(t, rbtree.Violations(0), tree.Validate(),
				"invariants violated after deleting %d (iteration %d)", k, i)
		}
		assert.Equal(t, 0, tree.Len())
	})

	t.Run("AbsentKey", func(t *testing.T) {
		tree := rbtree.New[int, int]()
		tree.Insert(1, 1)

		before := inorderKeys(tree)
		_, ok := tree.Delete(42)
		assert.False(t, ok)
		assert.Equal(t, before, inorderKeys(tree), "deleting an absent key must be a no-op")
		assert.Equal(t, rbtree.Violations(0), tree.Validate())
	})

	t.Run("SingleNode", func(t *testing.T) {
		tree := rbtree.New[int, int]()
		tree.Insert(10, 10)

		_, ok := tree.Delete(10)
		require.True(t, ok)

		assert.Equal(t, 0, tree.Len())
		assert.False(t, tree.Exists(10))
		_, found := tree.Find(10)
		assert.False(t, found)
		assert.Equal(t, rbtree.Violations(0), tree.Validate())
	})
}

// TestInterleaved mixes insertions and deletions and checks after every
// operation that the invariants hold and the in-order sequence matches
// the set of currently present keys.
func TestInterleaved(t *testing.T) {
	r := rand.New(rand.NewSource(source))
	tree := rbtree.New[int, int]()
	present := map[int]bool{}

	check := func() {
		require.Equal(t, rbtree.Violations(0), tree.Validate())

		want := make([]int, 0, len(present))
		for k := range present {
			want = append(want, k)
		}
		slices.Sort(want)
		require.Equal(t, want, inorderKeys(tree))
	}

	for i := 0; i < 2000; i++ {
		k := r.Intn(500)
		if r.Intn(3) == 0 && len(present) > 0 {
			_, ok := tree.Delete(k)
			require.Equal(t, present[k], ok)
			delete(present, k)
		} else {
			ok := tree.Insert(k, k)
			require.Equal(t, !present[k], ok)
			present[k] = true
		}
		check()
	}
}

func TestFind(t *testing.T) {
	r := rand.New(rand.NewSource(source))
	tree := rbtree.New[int, string]()
	keys := r.Perm(size)

	for _, k := range keys {
		tree.Insert(k, strconv.Itoa(k))
	}

	t.Run("KeyExists", func(t *testing.T) {
		for _, k := range keys {
			v, ok := tree.Find(k)
			require.True(t, ok, "key %d not found", k)
			require.Equal(t, strconv.Itoa(k), v)
		}
	})

	for _, k := range keys {
		_, ok := tree.Delete(k)
		require.True(t, ok)
	}

	t.Run("KeyDeleted", func(t *testing.T) {
		for _, k := range keys {
			_, ok := tree.Find(k)
			require.False(t, ok, "key %d found but it was deleted", k)
		}
	})

	t.Run("NeverInserted", func(t *testing.T) {
		_, ok := tree.Find(size + 1)
		assert.False(t, ok)
	})
}

func TestRange(t *testing.T) {
	r := rand.New(rand.NewSource(source))
	tree := rbtree.New[int, int]()
	keys := r.Perm(1000)
	for _, k := range keys {
		tree.Insert(k, k)
	}

	tests := []struct {
		name   string
		lo, hi int
	}{
		{"Full", 0, 999},
		{"Middle", 100, 200},
		{"SingleKey", 500, 500},
		{"LowEdge", -10, 0},
		{"HighEdge", 999, 2000},
		{"OutsideBelow", -100, -1},
		{"OutsideAbove", 1000, 2000},
		{"Inverted", 200, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var want []int
			for k := 0; k < 1000; k++ {
				if k >= tt.lo && k <= tt.hi {
					want = append(want, k)
				}
			}

			var got []int
			for k, v := range tree.Range(tt.lo, tt.hi) {
				require.Equal(t, k, v)
				got = append(got, k)
			}
			assert.Equal(t, want, got)
			assert.True(t, slices.IsSorted(got))
		})
	}

	t.Run("EarlyStop", func(t *testing.T) {
		count := 0
		for range tree.Range(0, 999) {
			count++
			if count == 5 {
				break
			}
		}
		assert.Equal(t, 5, count)
	})
}

func inorderKeys[K cmp.Ordered, V any](tree *rbtree.Tree[K, V]) []K {
	keys := []K{}
	for k := range tree.InOrder() {
		keys = append(keys, k)
	}
	return keys
}

func BenchmarkInsert(b *testing.B) {
	sizes := []int{100, 1000, 10000}
	for _, size := range sizes {
		name := "Size-" + strconv.Itoa(size)
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				tree := rbtree.New[int, int]()
				for n := 0; n < size; n++ {
					tree.Insert(n, n)
				}
			}
		})
	}
}

func BenchmarkDelete(b *testing.B) {
	tree := rbtree.New[int, int]()
	for n := 0; n < benchSize; n++ {
		tree.Insert(n, n)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Delete(i % benchSize)
	}
}

func BenchmarkSearch(b *testing.B) {
	tree := rbtree.New[int, int]()
	for n := 0; n < benchSize; n++ {
		tree.Insert(n, n)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Exists(i % benchSize)
	}
}
