package tools_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madrone-kv/madrone/internal/lsm/memtable"
	"github.com/madrone-kv/madrone/internal/lsm/tools"
)

func tableIterator(pairs ...[2]string) tools.Iterator {
	mt := memtable.New()
	for _, p := range pairs {
		mt.Put(p[0], p[1])
	}
	return mt.Iterator()
}

func drain(t *testing.T, it tools.Iterator) map[string]string {
	t.Helper()

	got := make(map[string]string)
	for it.Next() {
		got[it.Key()] = it.Value()
	}
	return got
}

func TestMergeIteratorOrdering(t *testing.T) {
	a := tableIterator([2]string{"a", "1"}, [2]string{"d", "4"})
	b := tableIterator([2]string{"b", "2"}, [2]string{"e", "5"})
	c := tableIterator([2]string{"c", "3"})

	m := tools.NewMergeIterator([]tools.Iterator{a, b, c})
	defer m.Close()

	var keys []string
	for m.Next() {
		keys = append(keys, m.Key())
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)
}

func TestMergeIteratorNewestWins(t *testing.T) {
	newest := tableIterator([2]string{"k", "new"}, [2]string{"x", "1"})
	oldest := tableIterator([2]string{"k", "old"}, [2]string{"y", "2"})

	// first source has priority
	m := tools.NewMergeIterator([]tools.Iterator{newest, oldest})
	defer m.Close()

	got := drain(t, m)
	assert.Equal(t, map[string]string{"k": "new", "x": "1", "y": "2"}, got)
}

func TestMergeIteratorTombstone(t *testing.T) {
	mt := memtable.New()
	mt.Put("live", "v")
	mt.Delete("dead")

	m := tools.NewMergeIterator([]tools.Iterator{mt.Iterator()})
	defer m.Close()

	seen := make(map[string]bool)
	for m.Next() {
		seen[m.Key()] = m.IsTombstone()
	}
	assert.Equal(t, map[string]bool{"live": false, "dead": true}, seen)
}

func TestMergeIteratorEmpty(t *testing.T) {
	m := tools.NewMergeIterator(nil)
	defer m.Close()
	assert.False(t, m.Next())

	m = tools.NewMergeIterator([]tools.Iterator{tableIterator()})
	defer m.Close()
	assert.False(t, m.Next())
}

func TestMergeIteratorTombstoneShadowsOlderValue(t *testing.T) {
	newest := memtable.New()
	newest.Delete("k")
	oldest := tableIterator([2]string{"k", "stale"})

	m := tools.NewMergeIterator([]tools.Iterator{newest.Iterator(), oldest})
	defer m.Close()

	require.True(t, m.Next())
	assert.Equal(t, "k", m.Key())
	assert.True(t, m.IsTombstone())
	assert.False(t, m.Next())
}

func TestRangeIterator(t *testing.T) {
	src := tableIterator(
		[2]string{"apple", "1"},
		[2]string{"banana", "2"},
		[2]string{"cherry", "3"},
		[2]string{"date", "4"},
	)

	r := tools.NewRangeIterator(src, tools.KeyRange{Start: "banana", End: "cherry"})
	defer r.Close()

	var keys []string
	for r.Next() {
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []string{"banana", "cherry"}, keys)
}

func TestRangeIteratorUnbounded(t *testing.T) {
	src := tableIterator([2]string{"a", "1"}, [2]string{"b", "2"})

	r := tools.NewRangeIterator(src, tools.KeyRange{})
	defer r.Close()

	got := drain(t, r)
	assert.Len(t, got, 2)
}

func TestRangeIteratorStopsAtEnd(t *testing.T) {
	src := tableIterator([2]string{"a", "1"}, [2]string{"m", "2"}, [2]string{"z", "3"})

	r := tools.NewRangeIterator(src, tools.KeyRange{End: "m"})
	defer r.Close()

	var keys []string
	for r.Next() {
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []string{"a", "m"}, keys)

	// exhausted stays exhausted
	assert.False(t, r.Next())
}
