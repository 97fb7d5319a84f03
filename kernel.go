package cqf

// This file implements the rank/select machinery that locates runs inside
// the block metadata: given a quotient, where does its run end? Given a
// target slot, how far does the offset hint need to look back? The
// approach -- rank the occupied bits local to the target slot's own block,
// then select the matching runend starting just past whatever run carried
// in from an earlier block -- is the standard counting-quotient-filter
// algorithm, ported from zeebo/cascade's ranksel.go (occupiedRank /
// runendsSelect / rankSelect) and generalized from that package's
// fixed-size circular block array to this filter's linear, variably-sized
// one. cascade's own rankSelect shifts both the rank and select windows by
// the block's offset, which is safe there only because its simple
// (non-counting) filter gives every occupied home exactly one physical
// slot; once a run can carry a multi-slot counter group across a block
// boundary (this filter's whole reason for existing), ranking from
// base+offset instead of base silently drops every carried home from the
// count, so this port ranks from base and skips only the carried run's own
// runend bit in the select step.
//
// offset maintenance trades the fully incremental O(1)-amortized update a
// production implementation would do (zeebo/cascade bumps bl.offset by
// hand at each shift site) for a simpler, still-correct scheme: after a
// mutation touches blocks starting at some index, refreshOffsetsFrom
// recomputes every following block's offset from its neighbor until it
// finds one whose value didn't change, then stops. That is worse in the
// worst case (a single very long run can force an O(nblocks) walk) but
// it's a single code path to get right instead of a family of hand-tuned
// increment sites, and it still satisfies the spec's own escape hatch: any
// block is allowed to carry the sentinel and be resolved by scanning
// forward from a known-good block. See DESIGN.md.

// kernel holds everything the run-location algorithms need: the block
// layout and the slot count they operate over.
type kernel struct {
	layout  layout
	buf     []byte
	nblocks uint64
}

func newKernel(buf []byte, l layout, nblocks uint64) *kernel {
	return &kernel{layout: l, buf: buf, nblocks: nblocks}
}

// occupiedRank counts set bits in the occupied bitmap over the half-open
// window [s, s+b), b <= 64. The window spans at most two blocks.
func (k *kernel) occupiedRank(s uint64, b uint64) uint32 {
	if b == 0 {
		return 0
	}
	idx, off := s/slotsPerBlock, uint(s%slotsPerBlock)
	word := k.layout.occupiedWord(k.buf, idx) >> off

	avail := uint(slotsPerBlock) - off
	take := b
	if uint64(avail) < take {
		take = uint64(avail)
	}
	rank := popcount64(word & lowBitsMask(uint(take)))

	if b > uint64(avail) && idx+1 < k.nblocks {
		rest := b - uint64(avail)
		word2 := k.layout.occupiedWord(k.buf, idx+1)
		rank += popcount64(word2 & lowBitsMask(uint(rest)))
	}
	return rank
}

// runendsSelect returns the distance past s to the position of the k-th
// (1-indexed) set bit in the runend bitmap, scanning forward block by
// block from s. ok is false if fewer than k set bits exist before the end
// of the filter.
func (k *kernel) runendsSelect(s uint64, target uint32) (dist uint64, ok bool) {
	idx, off := s/slotsPerBlock, uint(s%slotsPerBlock)
	acc := uint64(0)
	remaining := target
	for {
		if idx >= k.nblocks {
			return 0, false
		}
		word := k.layout.runendWord(k.buf, idx) >> off
		cnt := popcount64(word)
		if cnt >= remaining {
			pos := select64(word, remaining-1)
			return acc + uint64(pos), true
		}
		remaining -= cnt
		acc += uint64(slotsPerBlock) - uint64(off)
		idx++
		off = 0
	}
}

// runEndFor returns the absolute position of the run-end covering (or most
// recently preceding) slot, given the trusted offset of slot's own block.
// ok is false when no occupied quotient at or before slot covers slot.
func (k *kernel) runEndFor(slot uint64, blockOffset uint64) (pos uint64, ok bool) {
	base := (slot / slotsPerBlock) * slotsPerBlock
	b := slot - base + 1

	// rank only ever counts homes physically recorded in *this* block's
	// own occupied word, over [base, slot]. A run carried in from an
	// earlier block has its home below base, so it never contributes here
	// regardless of blockOffset -- ranking from base+blockOffset instead
	// of base (as an earlier version of this function did) silently
	// drops every carried run's contribution and under-counts whenever
	// blockOffset>0.
	rank := k.occupiedRank(base, b)

	if rank == 0 {
		// No home in [base, slot] is occupied, so slot is covered only if
		// it falls inside the tail of a run carried in from an earlier
		// block.
		switch {
		case blockOffset > 0 && slot <= base+blockOffset:
			return base + blockOffset, true
		case blockOffset == 0 && slot == base && k.layout.runendBit(k.buf, base):
			// I5 reports offset 0 both when nothing is carried in and
			// when the carried run's last slot lands exactly on base;
			// the runend bit at base disambiguates the latter.
			return base, true
		default:
			return 0, false
		}
	}

	// Select the rank-th run-end that belongs to *this* block's own runs.
	// base+blockOffset itself holds the carried run's own run-end bit
	// (when blockOffset>0), so the scan must start one slot past it or it
	// would be mistaken for the first local run-end, resolving every
	// local run one run too early.
	selectStart := base + blockOffset
	if blockOffset > 0 {
		selectStart++
	}
	dist, found := k.runendsSelect(selectStart, rank)
	if !found {
		return 0, false
	}
	return selectStart + dist, true
}

// resolveOffset returns the trusted numeric offset for blockIdx, falling
// back to a forward recompute from block 0 when the stored byte is the
// sentinel.
func (k *kernel) resolveOffset(blockIdx uint64) uint64 {
	if blockIdx == 0 {
		return 0
	}
	raw := k.layout.offsetByte(k.buf, blockIdx)
	if raw != offsetSentinel {
		return uint64(raw)
	}
	return k.recomputeOffset(blockIdx)
}

// recomputeOffset rebuilds the offset chain from block 0 up to and
// including target, without trusting any stored byte along the way, and
// returns target's offset. It does not persist anything; callers that want
// the recomputed value cached call refreshOffsetsFrom instead.
func (k *kernel) recomputeOffset(target uint64) uint64 {
	prev := uint64(0)
	for b := uint64(1); b <= target; b++ {
		prev = k.offsetForBlock(b, prev)
	}
	return prev
}

// offsetForBlock computes block b's true offset given the trusted offset
// of block b-1.
func (k *kernel) offsetForBlock(b uint64, prevOffset uint64) uint64 {
	base := b * slotsPerBlock
	pos, ok := k.runEndFor(base-1, prevOffset)
	if !ok || pos < base {
		return 0
	}
	return pos - base
}

// refreshOffsetsFrom recomputes and persists offsets for every block from
// fromBlock onward, stopping as soon as a block's recomputed value matches
// what was already stored there (everything after it is then unaffected).
func (k *kernel) refreshOffsetsFrom(fromBlock uint64) {
	var prevOffset uint64
	start := fromBlock
	if start == 0 {
		k.layout.setOffsetByte(k.buf, 0, 0)
		start = 1
	} else {
		prevOffset = k.resolveOffset(start - 1)
	}
	for b := start; b < k.nblocks; b++ {
		newOff := k.offsetForBlock(b, prevOffset)

		oldRaw := k.layout.offsetByte(k.buf, b)
		oldIsSentinel := oldRaw == offsetSentinel
		unchanged := (!oldIsSentinel && uint64(oldRaw) == newOff && newOff <= 254) ||
			(oldIsSentinel && newOff > 254)

		if newOff > 254 {
			k.layout.setOffsetByte(k.buf, b, offsetSentinel)
		} else {
			k.layout.setOffsetByte(k.buf, b, uint8(newOff))
		}

		prevOffset = newOff
		if unchanged {
			return
		}
	}
}

// runEndForOccupied returns the absolute runend position of quotient q's
// run. q must be occupied.
func (k *kernel) runEndForOccupied(q uint64) (pos uint64, ok bool) {
	return k.runEndFor(q, k.resolveOffset(q/slotsPerBlock))
}

// runStartFor returns the first physical slot belonging to quotient q's
// run (whether or not q is itself occupied): one past the end of whatever
// run physically precedes it, or q itself if nothing does. Runs within a
// cluster are packed with no gaps (I4), so this is well defined regardless
// of q's own occupied bit.
func (k *kernel) runStartFor(q uint64) uint64 {
	if q == 0 {
		return 0
	}
	prevEnd, ok := k.runEndFor(q-1, k.resolveOffset((q-1)/slotsPerBlock))
	if !ok || prevEnd < q {
		return q
	}
	return prevEnd + 1
}

// nextOccupied returns the smallest occupied quotient at or after from, for
// iterator advancement.
func (k *kernel) nextOccupied(from uint64) (uint64, bool) {
	blk := from / slotsPerBlock
	within := uint(from % slotsPerBlock)
	for ; blk < k.nblocks; blk++ {
		word := k.layout.occupiedWord(k.buf, blk)
		word &^= lowBitsMask(within)
		if word != 0 {
			bit := select64(word, 0)
			return blk*slotsPerBlock + uint64(bit), true
		}
		within = 0
	}
	return 0, false
}

// findFirstUnused returns the first slot at or after start whose physical
// content is not claimed by any run, i.e. the position a new element whose
// home is start (or earlier, if start is itself mid-run) would be placed.
// This generalizes zeebo/cascade's findFirstUnused to an arbitrary (not
// necessarily occupied) starting quotient, matching how the kernel probes
// forward during insertion. When the cluster runs to the end of the filter
// the result is the slot count itself, which callers treat as no space.
func (k *kernel) findFirstUnused(start uint64) uint64 {
	slot := start
	for {
		if slot >= k.nblocks*slotsPerBlock {
			return slot
		}
		blockOffset := k.resolveOffset(slot / slotsPerBlock)
		pos, ok := k.runEndFor(slot, blockOffset)
		if !ok || pos < slot {
			return slot
		}
		slot = pos + 1
	}
}
