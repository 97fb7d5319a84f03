package cqf

import "sync/atomic"

// counterShard holds one stripe's contribution to the filter's running
// totals. Mutations touch only the shard for the stripe they locked;
// SyncCounters folds every shard into the authoritative totals. This
// mirrors the spec's requirement that "sum_of_counts and occupied-slot
// totals are maintained as per-thread (or per-stripe) shards that must be
// reduced by a sync_counters operation before returning an authoritative
// value" (§5).
type counterShard struct {
	occupiedSlots int64
	distinctPairs int64
	sumOfCounts   int64
}

// metadata is the totals tracker for a Filter: one shard per lock stripe,
// plus the last-synced authoritative totals.
type metadata struct {
	shards []counterShard

	// synced totals, valid only immediately after SyncCounters; cached here
	// so repeated metadata reads between mutations don't re-walk shards.
	occupiedSlots int64
	distinctPairs int64
	sumOfCounts   int64
}

func newMetadata(nshards int) *metadata {
	if nshards < 1 {
		nshards = 1
	}
	return &metadata{shards: make([]counterShard, nshards)}
}

func (m *metadata) addOccupied(shard int, delta int64) {
	atomic.AddInt64(&m.shards[shard].occupiedSlots, delta)
}

func (m *metadata) addDistinct(shard int, delta int64) {
	atomic.AddInt64(&m.shards[shard].distinctPairs, delta)
}

func (m *metadata) addSum(shard int, delta int64) {
	atomic.AddInt64(&m.shards[shard].sumOfCounts, delta)
}

// sync reduces all shards into the cached totals and returns them. Callers
// holding no stripe locks may race with in-flight mutations the same way
// a NO_LOCK read may observe a torn counter group: the totals are only
// authoritative once all mutations that should be visible have completed.
func (m *metadata) sync() (occupied, distinct, sum int64) {
	for i := range m.shards {
		occupied += atomic.LoadInt64(&m.shards[i].occupiedSlots)
		distinct += atomic.LoadInt64(&m.shards[i].distinctPairs)
		sum += atomic.LoadInt64(&m.shards[i].sumOfCounts)
	}
	m.occupiedSlots, m.distinctPairs, m.sumOfCounts = occupied, distinct, sum
	return
}

// reset clears every shard, used by Filter.Reset.
func (m *metadata) reset() {
	for i := range m.shards {
		m.shards[i] = counterShard{}
	}
	m.occupiedSlots, m.distinctPairs, m.sumOfCounts = 0, 0, 0
}
