package cqf

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := smallConfig()
	f, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		key := []byte(fmt.Sprintf("save-%d", i))
		_, err := f.Insert(key, 0, uint64(i%5+1), FlagWaitForLock)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "filter.cqf")
	require.NoError(t, f.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, f.Config(), loaded.Config())
	for i := 0; i < 25; i++ {
		key := []byte(fmt.Sprintf("save-%d", i))
		count, err := loaded.CountKeyValue(key, 0, FlagWaitForLock)
		require.NoError(t, err)
		assert.Equal(t, uint64(i%5+1), count)
	}

	occ1, dist1, sum1 := f.SyncCounters()
	occ2, dist2, sum2 := loaded.SyncCounters()
	assert.Equal(t, occ1, occ2)
	assert.Equal(t, dist1, dist2)
	assert.Equal(t, sum1, sum2)
}

func TestLoadFromFileMissingPath(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestInitRejectsUndersizedBuffer(t *testing.T) {
	cfg := smallConfig()
	buf := NewRAMBuffer(8)
	_, need, err := Init(cfg, buf)
	assert.Equal(t, CodeInvalid, CodeOf(err))
	assert.Equal(t, cfg.BytesRequired(), need)
}
