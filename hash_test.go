package cqf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/pcg"
)

func TestInvertibleMixRoundTrip(t *testing.T) {
	rng := pcg.New(123)
	for i := 0; i < 2000; i++ {
		x := rng.Uint64()
		assert.Equal(t, x, invertibleUnmix(invertibleMix(x)))
	}
}

func TestModInverse64(t *testing.T) {
	for _, c := range []uint64{mixC1, mixC2, 1, 3, 0xdeadbeefdeadbeef | 1} {
		inv := modInverse64(c)
		assert.Equal(t, uint64(1), c*inv)
	}
}

func TestIteratorKeyRecoveryUnderInvertibleMode(t *testing.T) {
	// KeyBits spans the full 64-bit mixed hash so the fingerprint carries
	// it without truncation; a narrower KeyBits only recovers an
	// approximation, per Key()'s doc comment.
	cfg := Config{NSlots: 1 << 8, KeyBits: 64, ValueBits: 0, HashMode: HashInvertible}
	f, err := New(cfg)
	require.NoError(t, err)

	var keyBuf [8]byte
	putUint64LE(keyBuf[:], 0xabad1dea)
	_, err = f.Insert(keyBuf[:], 0, 1, FlagWaitForLock)
	require.NoError(t, err)

	it := NewIterator(f)
	require.True(t, it.Next())
	got, err := it.Key()
	require.NoError(t, err)
	assert.Equal(t, keyBuf[:], got)
}

func TestIteratorKeyUnavailableUnderDefaultMode(t *testing.T) {
	f, err := New(smallConfig())
	require.NoError(t, err)
	_, err = f.Insert([]byte("no-recovery"), 0, 1, FlagWaitForLock)
	require.NoError(t, err)

	it := NewIterator(f)
	require.True(t, it.Next())
	_, err = it.Key()
	assert.Equal(t, CodeInvalid, CodeOf(err))
}

func TestFlagKeyIsHashBypassesMixing(t *testing.T) {
	f, err := New(smallConfig())
	require.NoError(t, err)

	var h [8]byte
	putUint64LE(h[:], 777)
	_, err = f.Insert(h[:], 0, 1, FlagKeyIsHash)
	require.NoError(t, err)

	count, err := f.CountKeyValue(h[:], 0, FlagKeyIsHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}
