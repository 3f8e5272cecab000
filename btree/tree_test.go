package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFanout uint32 = 4

func TestInsertAndFindSinglePermutation(t *testing.T) {
	// Keys 0..10*M inserted out of order; every inserted key must be
	// found afterwards and every key outside the range must not be,
	// matching spec.md section 8's B+-tree round-trip law.
	storage := newMemStorage(testFanout)
	tr := New(storage, nil)

	const n = 10 * int(testFanout)
	perm := []int{}
	for i := 0; i < n; i++ {
		perm = append(perm, i)
	}
	// A fixed, deterministic "shuffle" (no math/rand — this suite never
	// calls it to stay resumable) that still inserts out of ascending
	// order: reverse the odd-indexed half against the even-indexed half.
	for i, j := 0, len(perm)-1; i < j; i, j = i+1, j-1 {
		if i%2 == 0 {
			perm[i], perm[j] = perm[j], perm[i]
		}
	}

	var root uint64
	for _, k := range perm {
		var err error
		root, err = tr.Insert(root, uint64(k), uint64(k)*10+1)
		require.NoError(t, err)
	}

	for k := 0; k < n; k++ {
		val, ok, err := tr.Find(root, uint64(k))
		require.NoError(t, err)
		require.Truef(t, ok, "key %d should be found", k)
		assert.EqualValues(t, k*10+1, val)
	}
	for k := n; k < 2*n; k++ {
		_, ok, err := tr.Find(root, uint64(k))
		require.NoError(t, err)
		assert.Falsef(t, ok, "key %d should not be found", k)
	}
}

func TestLeafChainVisitsKeysInOrder(t *testing.T) {
	storage := newMemStorage(testFanout)
	tr := New(storage, nil)

	const n = 10 * int(testFanout)
	var root uint64
	for k := n - 1; k >= 0; k-- {
		var err error
		root, err = tr.Insert(root, uint64(k), uint64(k))
		require.NoError(t, err)
	}

	vals, err := tr.Values(root)
	require.NoError(t, err)
	require.Len(t, vals, n)
	for i, v := range vals {
		assert.EqualValues(t, i, v, "leaf chain must yield keys in sorted order with no duplicates or omissions")
	}
}

func TestFindRangeReportsHoles(t *testing.T) {
	storage := newMemStorage(testFanout)
	tr := New(storage, nil)

	var root uint64
	var err error
	root, err = tr.Insert(root, 1, 100)
	require.NoError(t, err)
	root, err = tr.Insert(root, 3, 300)
	require.NoError(t, err)

	out, err := tr.FindRange(root, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 100, 0, 300, 0}, out)
}

func TestFindOnEmptyTree(t *testing.T) {
	storage := newMemStorage(testFanout)
	tr := New(storage, nil)

	_, ok, err := tr.Find(0, 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearFreesEveryNodeButNotValues(t *testing.T) {
	storage := newMemStorage(testFanout)
	tr := New(storage, nil)

	var root uint64
	var err error
	for k := uint64(0); k < uint64(10*testFanout); k++ {
		root, err = tr.Insert(root, k, k+1000)
		require.NoError(t, err)
	}
	require.NotZero(t, len(storage.nodes))

	require.NoError(t, tr.Clear(root))
	assert.Empty(t, storage.nodes, "Clear must free every node block")
}
