package cqf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	return Config{NSlots: 1 << 8, KeyBits: 32, ValueBits: 0, HashMode: HashDefault}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"ok", smallConfig(), true},
		{"not power of two", Config{NSlots: 100, KeyBits: 32}, false},
		{"key bits too small", Config{NSlots: 1 << 8, KeyBits: 4}, false},
		{"bits overflow", Config{NSlots: 1 << 8, KeyBits: 60, ValueBits: 10}, false},
		{"too few slots", Config{NSlots: 1 << 3, KeyBits: 3}, false},
		{"not multiple of block", Config{NSlots: 1 << 5, KeyBits: 5}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.validate()
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBytesRequired(t *testing.T) {
	cfg := smallConfig()
	got := cfg.BytesRequired()
	assert.Greater(t, got, cfg.NSlots*uint64(cfg.rBits())/8)
}

func TestInsertQueryRoundTrip(t *testing.T) {
	f, err := New(smallConfig())
	require.NoError(t, err)

	keys := [][]byte{[]byte("alpha"), []byte("bravo"), []byte("charlie"), []byte("delta")}
	for _, k := range keys {
		_, err := f.Insert(k, 0, 1, FlagWaitForLock)
		require.NoError(t, err)
	}

	for _, k := range keys {
		value, count, err := f.Query(k, FlagWaitForLock)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), value)
		assert.Equal(t, uint64(1), count)
	}

	_, count, err := f.Query([]byte("echo"), FlagWaitForLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestInsertAccumulatesCount(t *testing.T) {
	f, err := New(smallConfig())
	require.NoError(t, err)

	key := []byte("repeat-me")
	for i := 0; i < 5; i++ {
		_, err := f.Insert(key, 0, 1, FlagWaitForLock)
		require.NoError(t, err)
	}
	count, err := f.CountKeyValue(key, 0, FlagWaitForLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), count)
}

func TestSetCountAndRemove(t *testing.T) {
	f, err := New(smallConfig())
	require.NoError(t, err)

	key := []byte("widget")
	require.NoError(t, f.SetCount(key, 0, 10, FlagWaitForLock))
	count, err := f.CountKeyValue(key, 0, FlagWaitForLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), count)

	freed, err := f.Remove(key, 0, 4, FlagWaitForLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), freed)

	count, err = f.CountKeyValue(key, 0, FlagWaitForLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), count)

	freed, err = f.Remove(key, 0, 100, FlagWaitForLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), freed)

	_, err = f.CountKeyValue(key, 0, FlagWaitForLock)
	require.NoError(t, err)
	count, err = f.CountKeyValue(key, 0, FlagWaitForLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestDeleteKeyValueTwiceFails(t *testing.T) {
	f, err := New(smallConfig())
	require.NoError(t, err)

	key := []byte("once")
	_, err = f.Insert(key, 0, 3, FlagWaitForLock)
	require.NoError(t, err)

	require.NoError(t, f.DeleteKeyValue(key, 0, FlagWaitForLock))
	err = f.DeleteKeyValue(key, 0, FlagWaitForLock)
	assert.Equal(t, CodeDoesntExist, CodeOf(err))
}

func TestValueBitsDistinguishSameKey(t *testing.T) {
	cfg := smallConfig()
	cfg.ValueBits = 4
	f, err := New(cfg)
	require.NoError(t, err)

	key := []byte("shared-key")
	_, err = f.Insert(key, 1, 1, FlagWaitForLock)
	require.NoError(t, err)
	_, err = f.Insert(key, 2, 1, FlagWaitForLock)
	require.NoError(t, err)

	c1, err := f.CountKeyValue(key, 1, FlagWaitForLock)
	require.NoError(t, err)
	c2, err := f.CountKeyValue(key, 2, FlagWaitForLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c1)
	assert.Equal(t, uint64(1), c2)
}

func TestManyKeysSyncCounters(t *testing.T) {
	cfg := Config{NSlots: 1 << 10, KeyBits: 32, ValueBits: 0, HashMode: HashDefault, AutoResize: true}
	f, err := New(cfg)
	require.NoError(t, err)

	n := 400
	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16), byte(i >> 24)}
		_, err := f.Insert(key, 0, 1, FlagWaitForLock)
		require.NoError(t, err)
	}

	_, distinct, sum := f.SyncCounters()
	assert.Equal(t, int64(n), distinct)
	assert.Equal(t, int64(n), sum)

	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i >> 16), byte(i >> 24)}
		count, err := f.CountKeyValue(key, 0, FlagWaitForLock)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), count, "key %d", i)
	}
}

func TestGetUniqueIndexResolvesToIteratorPosition(t *testing.T) {
	f, err := New(smallConfig())
	require.NoError(t, err)

	key := []byte("indexable")
	_, err = f.Insert(key, 0, 1, FlagWaitForLock)
	require.NoError(t, err)

	idx, err := f.GetUniqueIndex(key, 0, FlagWaitForLock)
	require.NoError(t, err)

	it := NewIteratorAt(f, idx)
	require.True(t, it.Next())
	v, c := it.Value(), it.Count()
	assert.Equal(t, uint64(0), v)
	assert.Equal(t, uint64(1), c)
}
