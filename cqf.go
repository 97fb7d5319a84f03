package cqf

import (
	"fmt"
	"sync"

	"github.com/quotientlabs/cqf/internal/stripelock"
)

// maxLoadFactor is the highest load ResizeMalloc accepts for its target
// size. Auto-resize does not consult it: any mutation that fails with
// CodeNoSpace triggers a resize, whatever the current load.
const maxLoadFactor = 0.95

// minKeyBits mirrors go-qfext's config.go minQBits: nslots must have at
// least this many address bits, since a filter with fewer is degenerate.
const minKeyBits = 4

// Config controls the geometry and hashing behavior of a Filter, in the
// teacher's Config-struct style (config.go), generalized from the
// teacher's single "bits of storage per entry" knob to the spec's
// key_bits/value_bits/hash_mode triple.
type Config struct {
	// NSlots is the number of slots to allocate; must be a power of two.
	NSlots uint64
	// KeyBits is the number of bits of the hash devoted to the key
	// fingerprint; must be >= log2(NSlots).
	KeyBits uint
	// ValueBits is the number of bits devoted to an associated value,
	// folded into the low bits of the fingerprint alongside the key hash.
	ValueBits uint
	// HashMode selects how keys are mixed into fingerprints.
	HashMode HashMode
	// Seed perturbs HashDefault/HashInvertible mixing.
	Seed uint32
	// KeyIsHash, when true, treats every key argument as an already
	// computed hash value, equivalent to passing FlagKeyIsHash on every
	// call.
	KeyIsHash bool
	// AutoResize enables automatic doubling when a mutation would
	// otherwise fail with CodeNoSpace.
	AutoResize bool
}

// rBits returns r = key_bits + value_bits - log2(nslots), the remainder
// width implied by this Config.
func (c Config) rBits() uint {
	qbits := log2Exact(c.NSlots)
	total := c.KeyBits + c.ValueBits
	if total <= qbits {
		return 0
	}
	return total - qbits
}

func (c Config) validate() error {
	if c.NSlots == 0 || c.NSlots&(c.NSlots-1) != 0 {
		return newError(CodeInvalid, "nslots must be a power of two")
	}
	qbits := log2Exact(c.NSlots)
	if c.KeyBits < qbits {
		return newError(CodeInvalid, "key_bits must be >= log2(nslots)")
	}
	if c.KeyBits+c.ValueBits > 64 {
		return newError(CodeInvalid, "key_bits + value_bits must be <= 64")
	}
	if qbits < minKeyBits {
		return newError(CodeInvalid, fmt.Sprintf("nslots must be at least 2^%d", minKeyBits))
	}
	if c.NSlots%slotsPerBlock != 0 {
		return newError(CodeInvalid, "nslots must be a multiple of 64 (one full block)")
	}
	return nil
}

func log2Exact(n uint64) uint {
	bits := uint(0)
	for n > 1 {
		n >>= 1
		bits++
	}
	return bits
}

// BytesRequired reports the buffer size Init needs for this Config,
// mirroring go-qfext's Config.BytesRequired.
func (c Config) BytesRequired() uint64 {
	l := newLayout(c.rBits())
	nblocks := c.NSlots / slotsPerBlock
	return headerSize + l.bufferSize(nblocks)
}

// Filter is a counting quotient filter over an opaque Buffer. Mutators and
// queries are safe for concurrent use; see Flags for the locking discipline.
type Filter struct {
	mu sync.Mutex // serializes structural operations (resize, CopyFrom, Reset) against each other; per-slot operations use stripes instead

	cfg     Config
	layout  layout
	nblocks uint64
	buf     Buffer
	kern    *kernel
	slots   slotStore
	stripes *stripelock.Array
	meta    *metadata
	hasher  hasher
}

// Init builds a Filter over buf, which must be at least cfg.BytesRequired()
// bytes. If buf is smaller, Init returns the required size and a
// CodeInvalid error without modifying buf.
func Init(cfg Config, buf Buffer) (*Filter, uint64, error) {
	if err := cfg.validate(); err != nil {
		return nil, 0, err
	}
	need := cfg.BytesRequired()
	if uint64(len(buf.Bytes())) < need {
		return nil, need, newError(CodeInvalid, "buffer too small")
	}
	f := newFilterShell(cfg, buf)
	f.writeHeader()
	return f, need, nil
}

// New allocates a RAMBuffer sized for cfg and initializes a Filter over it,
// the "malloc" constructor from gqf.h's cqf_malloc.
func New(cfg Config) (*Filter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	buf := NewRAMBuffer(cfg.BytesRequired())
	f, _, err := Init(cfg, buf)
	return f, err
}

// Use reconstructs a Filter from a buffer already holding a serialized
// image in the §6.4 layout (gqf.h's cqf_use).
func Use(buf Buffer) (*Filter, error) {
	cfg, meta, err := readHeader(buf.Bytes())
	if err != nil {
		return nil, err
	}
	f := newFilterShell(cfg, buf)
	f.meta.shards[0] = meta
	return f, nil
}

// newFilterShell builds the runtime structures around buf without writing
// a header; Init and Use each finish setup their own way.
func newFilterShell(cfg Config, buf Buffer) *Filter {
	l := newLayout(cfg.rBits())
	nblocks := cfg.NSlots / slotsPerBlock
	stripes := stripelock.New(cfg.NSlots)
	f := &Filter{
		cfg:     cfg,
		layout:  l,
		nblocks: nblocks,
		buf:     buf,
		stripes: stripes,
		meta:    newMetadata(stripes.Len()),
		hasher:  newHasher(cfg.HashMode, cfg.Seed, cfg.KeyIsHash),
	}
	f.rebuildViews()
	return f
}

// rebuildViews recomputes the kernel/slotStore views over f.buf.Bytes();
// called after construction and after any operation that replaces the
// backing buffer (resize, CopyFrom).
func (f *Filter) rebuildViews() {
	b := f.dataBytes()
	f.kern = newKernel(b, f.layout, f.nblocks)
	f.slots = newSlotStore(b, f.layout)
}

// dataBytes returns the portion of the buffer after the header, the region
// block.go's layout addresses.
func (f *Filter) dataBytes() []byte {
	return f.buf.Bytes()[headerSize:]
}

// Destroy returns the backing Buffer without releasing it (gqf.h's
// cqf_destroy); the Filter must not be used afterward.
func (f *Filter) Destroy() Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := f.buf
	f.buf = nil
	return buf
}

// Config returns a copy of the Filter's configuration.
func (f *Filter) Config() Config { return f.cfg }

// HashMode reports the configured hash mode (cqf_get_hashmode).
func (f *Filter) HashMode() HashMode { return f.cfg.HashMode }

// Seed reports the configured hash seed (cqf_get_hash_seed).
func (f *Filter) Seed() uint32 { return f.cfg.Seed }

// NSlots reports the slot count (cqf_get_nslots).
func (f *Filter) NSlots() uint64 { return f.cfg.NSlots }

// KeyBits reports the configured key bit width (cqf_get_num_key_bits).
func (f *Filter) KeyBits() uint { return f.cfg.KeyBits }

// ValueBits reports the configured value bit width (cqf_get_num_value_bits).
func (f *Filter) ValueBits() uint { return f.cfg.ValueBits }

// RemainderBits reports r (cqf_get_num_key_remainder_bits, generalized to
// cover the folded-in value bits too).
func (f *Filter) RemainderBits() uint { return f.layout.rBits }

// BitsPerSlot reports the width of one packed slot (cqf_get_bits_per_slot).
func (f *Filter) BitsPerSlot() uint { return f.layout.rBits }

// AutoResizeEnabled reports whether auto-resize is active
// (cqf_is_auto_resize_enabled).
func (f *Filter) AutoResizeEnabled() bool { return f.cfg.AutoResize }

// SizeBytes reports the total buffer size (cqf_get_total_size_in_bytes).
func (f *Filter) SizeBytes() uint64 { return uint64(len(f.buf.Bytes())) }

// fingerprint folds a hashed key together with value into the
// (key_bits+value_bits)-wide composite §3 calls the fingerprint, then
// splits it into quotient and remainder per §4.4's q = h>>r, rem =
// h&((1<<r)-1).
func (f *Filter) fingerprint(key []byte, value uint64, flags Flags) (q, rem uint64) {
	h := f.hasher.hashBytes(key, flags.keyIsHash())
	return f.splitFingerprint(h, value)
}

// splitFingerprint is fingerprint's value/value-bits arithmetic, shared
// with callers (iterator, merge) that already hold a 64-bit hash rather
// than raw key bytes.
func (f *Filter) splitFingerprint(hash, value uint64) (q, rem uint64) {
	keyPart := hash & lowBitsMask(f.cfg.KeyBits)
	fp := (keyPart << f.cfg.ValueBits) | (value & lowBitsMask(f.cfg.ValueBits))
	rBits := f.layout.rBits
	return fp >> rBits, fp & f.layout.rMask
}

// joinFingerprint reassembles a quotient/remainder pair back into the
// composite fingerprint and splits out the value bits, the inverse of
// splitFingerprint's folding.
func (f *Filter) joinFingerprint(q, rem uint64) (hash, value uint64) {
	fp := (q << f.layout.rBits) | rem
	valueBits := f.cfg.ValueBits
	value = fp & lowBitsMask(valueBits)
	hash = fp >> valueBits
	return hash, value
}

// SyncCounters reduces the per-stripe shards into authoritative totals and
// returns them, matching gqf.h's cqf_sync_counters followed by the
// individual accessors.
func (f *Filter) SyncCounters() (occupiedSlots, distinctPairs, sumOfCounts int64) {
	return f.meta.sync()
}

// OccupiedSlots reports the last-synced occupied slot count
// (cqf_get_num_occupied_slots). Call SyncCounters first for a fresh value
// under concurrent mutation.
func (f *Filter) OccupiedSlots() int64 { return f.meta.occupiedSlots }

// DistinctPairs reports the last-synced distinct (key,value) pair count
// (cqf_get_num_distinct_key_value_pairs).
func (f *Filter) DistinctPairs() int64 { return f.meta.distinctPairs }

// SumOfCounts reports the last-synced sum of all counts
// (cqf_get_sum_of_counts).
func (f *Filter) SumOfCounts() int64 { return f.meta.sumOfCounts }
