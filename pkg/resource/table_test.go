package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTable_PushGetRemove(t *testing.T) {
	tbl := NewTable[string]()

	a := tbl.Push("alpha")
	b := tbl.Push("beta")
	require.NotEqual(t, a, b)

	v, ok := tbl.Get(a)
	require.True(t, ok)
	require.Equal(t, "alpha", v)

	removed, ok := tbl.Remove(a)
	require.True(t, ok)
	require.Equal(t, "alpha", removed)

	_, ok = tbl.Get(a)
	require.False(t, ok, "removed rid must not resolve")

	_, ok = tbl.Get(b)
	require.True(t, ok, "other rid must be unaffected")
}

func TestTable_RidsNeverCollideAcrossSequence(t *testing.T) {
	tbl := NewTable[int]()
	seen := make(map[Rid]bool)

	for i := 0; i < 100; i++ {
		rid := tbl.Push(i)
		require.False(t, seen[rid], "rid %d reused", rid)
		seen[rid] = true
		if i%3 == 0 {
			tbl.Remove(rid)
		}
	}
}

func TestTable_Drain(t *testing.T) {
	tbl := NewTable[int]()
	tbl.Push(1)
	tbl.Push(2)
	tbl.Push(3)

	drained := tbl.Drain()
	require.Len(t, drained, 3)
	require.Equal(t, 0, tbl.Len())
}
