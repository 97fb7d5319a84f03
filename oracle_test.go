package cqf

import (
	"fmt"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/pcg"
)

// naiveOracle tracks, independently of the kernel's block metadata, which
// quotients are occupied and what each (key, value) pair's count should be.
// It exists only to cross-check the bit-packed implementation's run layout
// against a structure simple enough to trust by inspection, the same role
// the teacher's alternate cqf.go sketch gives its occupied/continuation/
// shifted bitsets.
type naiveOracle struct {
	occupied *bitset.BitSet
	counts   map[string]uint64
}

func newNaiveOracle(nslots uint64) *naiveOracle {
	return &naiveOracle{
		occupied: bitset.New(uint(nslots)),
		counts:   map[string]uint64{},
	}
}

func (o *naiveOracle) insert(f *Filter, key []byte, value, count uint64) {
	q, _ := f.fingerprint(key, value, 0)
	o.occupied.Set(uint(q))
	o.counts[string(key)+fmt.Sprint(value)] += count
}

func (o *naiveOracle) remove(f *Filter, key []byte, value uint64) {
	delete(o.counts, string(key)+fmt.Sprint(value))
}

func TestOracleCrossChecksOccupiedBits(t *testing.T) {
	cfg := smallConfig()
	f, err := New(cfg)
	require.NoError(t, err)
	oracle := newNaiveOracle(cfg.NSlots)

	rng := pcg.New(99)
	for i := 0; i < 60; i++ {
		key := []byte(fmt.Sprintf("oracle-%d", rng.Uint64()%1000))
		_, err := f.Insert(key, 0, 1, FlagWaitForLock)
		require.NoError(t, err)
		oracle.insert(f, key, 0, 1)
	}

	for i := uint(0); i < uint(cfg.NSlots); i++ {
		got := f.slots.isOccupied(uint64(i))
		want := oracle.occupied.Test(i)
		if got != want {
			t.Fatalf("quotient %d: filter occupied=%v oracle occupied=%v", i, got, want)
		}
	}
}

func TestOracleCrossChecksDecodedCounts(t *testing.T) {
	cfg := smallConfig()
	f, err := New(cfg)
	require.NoError(t, err)
	oracle := newNaiveOracle(cfg.NSlots)

	keys := [][]byte{[]byte("one"), []byte("two"), []byte("three"), []byte("four")}
	for _, k := range keys {
		_, err := f.Insert(k, 0, 1, FlagWaitForLock)
		require.NoError(t, err)
		oracle.insert(f, k, 0, 1)
	}
	_, err = f.Insert(keys[0], 0, 2, FlagWaitForLock)
	require.NoError(t, err)
	oracle.insert(f, keys[0], 0, 2)

	wantTotal := uint64(0)
	for _, c := range oracle.counts {
		wantTotal += c
	}

	gotTotal := uint64(0)
	it := NewIterator(f)
	for it.Next() {
		gotTotal += it.Count()
	}

	if diff := cmp.Diff(wantTotal, gotTotal); diff != "" {
		t.Fatalf("total count mismatch (-want +got):\n%s", diff)
	}
}

// TestOracleDenseInvertibleLoad is §8 scenario 4: 192 distinct keys loaded
// into a 256-slot invertible filter, a load factor (75%) dense enough that
// the filter inevitably builds clusters spanning multiple 64-slot blocks
// (unlike the sparser suites elsewhere, which never drive offset>0). It
// cross-checks every key's count against the oracle, confirms the iterator
// yields elements in strictly non-decreasing hash order, and recovers every
// original key under HashInvertible.
func TestOracleDenseInvertibleLoad(t *testing.T) {
	cfg := Config{NSlots: 256, KeyBits: 64, ValueBits: 0, HashMode: HashInvertible, Seed: 7}
	f, err := New(cfg)
	require.NoError(t, err)
	oracle := newNaiveOracle(cfg.NSlots)

	rng := pcg.New(42)
	const n = 192
	keys := make([][]byte, 0, n)
	seen := map[uint64]bool{}
	for len(keys) < n {
		v := rng.Uint64()
		if seen[v] {
			continue
		}
		seen[v] = true
		var b [8]byte
		putUint64LE(b[:], v)
		keys = append(keys, b[:])
	}

	for _, k := range keys {
		_, err := f.Insert(k, 0, 1, FlagWaitForLock)
		require.NoError(t, err)
		oracle.insert(f, k, 0, 1)
	}

	// This many keys at this load factor must spill at least one run
	// across a block boundary; otherwise the dense scenario isn't
	// actually exercising the offset>0 path it's meant to.
	spanned := false
	for blk := uint64(1); blk < cfg.NSlots/slotsPerBlock; blk++ {
		if f.kern.resolveOffset(blk) > 0 {
			spanned = true
			break
		}
	}
	assert.True(t, spanned, "192 keys in 256 slots should carry at least one block's offset past zero")

	for _, k := range keys {
		count, err := f.CountKeyValue(k, 0, FlagWaitForLock)
		require.NoError(t, err)
		want := oracle.counts[string(k)+fmt.Sprint(uint64(0))]
		assert.Equal(t, want, count, "count mismatch for key %x", k)
	}

	occupied, distinct, sum := f.SyncCounters()
	assert.Equal(t, int64(n), distinct)
	assert.Equal(t, int64(n), sum)
	assert.Equal(t, int64(n), occupied)

	var lastHash uint64
	var lastValid bool
	visited := 0
	it := NewIterator(f)
	for it.Next() {
		h := it.Hash()
		if lastValid {
			assert.LessOrEqual(t, lastHash, h, "iterator must yield non-decreasing hashes")
		}
		lastHash, lastValid = h, true

		orig, err := it.Key()
		require.NoError(t, err)
		assert.True(t, seen[bytesToUint64(orig)], "recovered key %x was never inserted", orig)
		visited++
	}
	assert.Equal(t, n, visited)
}
