package cqf

// This file implements §4.4's insertion and removal algorithms: locating a
// quotient's run, finding the sorted-by-remainder splice point within it,
// and shifting the physically contiguous cluster content to open or close
// the gap a counter group's encoded length change requires. Grounded in
// go-qfext's qf.go insertByHash (the sorted-splice-and-shift shape) and
// zeebo/cascade's quotient.go insertSlot (block-metadata-only bookkeeping,
// no per-slot shifted/continuation bits), generalized from single-slot
// remainders to variable-length counter groups.
//
// The run is walked forward from its start rather than backward from its
// end as §4.4 step 4 describes. Both directions are equivalent here: I3's
// strictly-increasing-remainder ordering combined with counter.go's digit
// remap guarantees a group's own boundary slots are never confused with a
// neighboring group's, so decodeCounter's forward scan (bounded by the
// run's end) finds the same splice point a backward walk would. Forward is
// simpler to express against this design's block-level (not per-slot)
// metadata, which has no ready backward cursor. See DESIGN.md.

// locateResult describes where a (q, rem) pair's counter group sits, or
// would sit if inserted.
type locateResult struct {
	occupied bool   // whether q was occupied before this lookup
	runStart uint64 // q's run's physical start (valid iff occupied)
	runEnd   uint64 // q's run's physical end (valid iff occupied)
	ins      uint64 // splice point: where rem's group is, or belongs
	oldLen   int    // length of the existing group at ins, 0 if matched is false
	oldCount uint64 // decoded count of the existing group, 0 if matched is false
	matched  bool   // whether a group for exactly rem was found at ins
}

// locate finds (or determines the correct insertion point for) rem within
// q's run.
func (f *Filter) locate(q, rem uint64) locateResult {
	if !f.slots.isOccupied(q) {
		return locateResult{occupied: false, ins: f.kern.runStartFor(q)}
	}
	runEnd, ok := f.kern.runEndForOccupied(q)
	if !ok {
		// Should not happen for an occupied quotient; treat as empty run.
		return locateResult{occupied: false, ins: f.kern.runStartFor(q)}
	}
	runStart := f.kern.runStartFor(q)

	pos := runStart
	for pos <= runEnd {
		r := f.slots.getSlot(pos)
		limit := runEnd + 1
		count, consumed := readCounterAt(f.slots, pos, r, f.layout.rBits, limit)
		if r == rem {
			return locateResult{
				occupied: true, runStart: runStart, runEnd: runEnd,
				ins: pos, oldLen: consumed, oldCount: count, matched: true,
			}
		}
		if r > rem {
			break
		}
		pos += uint64(consumed)
	}
	return locateResult{occupied: true, runStart: runStart, runEnd: runEnd, ins: pos}
}

// splice rewrites the counter group at loc to hold newVals (possibly
// empty, meaning delete the group entirely), shifting the physically
// contiguous content that follows to open or close the size difference.
// It does not touch occupied/runend bits for q itself; the caller (which
// knows whether the run is growing from nothing, losing its last group, or
// just being resized in place) handles those and then must call
// f.kern.refreshOffsetsFrom(q/slotsPerBlock).
func (f *Filter) splice(loc locateResult, newVals []uint64) error {
	newLen := len(newVals)
	shiftStart := loc.ins + uint64(loc.oldLen)
	freeSlot := f.kern.findFirstUnused(shiftStart)
	delta := newLen - loc.oldLen

	switch {
	case delta > 0:
		grow := uint64(delta)
		if freeSlot+grow > f.cfg.NSlots {
			return newError(CodeNoSpace, "no free slot for growing counter group")
		}
		if freeSlot > shiftStart {
			f.slots.shiftSlotsRightBy(shiftStart, freeSlot-1, grow)
			f.slots.shiftRunendsRightBy(shiftStart, freeSlot-1, grow)
		}
		f.slots.clearRunends(loc.ins, loc.ins+uint64(newLen)-1)
	case delta < 0:
		shrink := uint64(-delta)
		if freeSlot > shiftStart {
			f.slots.shiftSlotsLeftBy(shiftStart, freeSlot-1, shrink)
			f.slots.shiftRunendsLeftBy(shiftStart, freeSlot-1, shrink)
		}
		f.slots.clearRunends(freeSlot-shrink, freeSlot-1)
	}

	if newLen > 0 {
		f.slots.writeGroup(loc.ins, newVals)
	}
	return nil
}

// applyCount is the shared core of Insert/SetCount/Remove/DeleteKeyValue:
// it sets the stored count for (q, rem) to newCount (0 meaning "not
// present"), maintaining occupied/runend bits and offsets, and returns the
// old count that was replaced.
func (f *Filter) applyCount(q, rem, newCount uint64) (oldCount uint64, err error) {
	loc := f.locate(q, rem)
	oldCount = loc.oldCount
	if loc.matched && newCount == loc.oldCount {
		return oldCount, nil
	}

	var newVals []uint64
	if newCount > 0 {
		newVals = encodeCounter(rem, newCount, f.layout.rBits)
	}

	// tailMoving: the group being rewritten is the run's last one, or is
	// appended after it, so the run's end moves. The old runend bit at
	// loc.runEnd stays set while splice runs, because findFirstUnused needs
	// it to see where the run ends. When the tail group itself is resized,
	// splice already removes that bit (it lies in the group range splice
	// clears, or the left shift overwrites it); an appended group leaves it
	// in place, so it is cleared here.
	wasTail := loc.matched && loc.ins+uint64(loc.oldLen)-1 == loc.runEnd
	appendingAtTail := !loc.matched && loc.occupied && loc.ins == loc.runEnd+1
	tailMoving := loc.occupied && (wasTail || appendingAtTail)

	if err := f.splice(loc, newVals); err != nil {
		return oldCount, err
	}
	if appendingAtTail {
		f.slots.setRunend(loc.runEnd, false)
	}

	switch {
	case !loc.occupied:
		if newCount > 0 {
			f.slots.setOccupied(q, true)
			f.slots.setRunend(loc.ins+uint64(len(newVals))-1, true)
		}
	case tailMoving:
		if newCount > 0 {
			f.slots.setRunend(loc.ins+uint64(len(newVals))-1, true)
		} else if loc.ins > loc.runStart {
			// The deleted group was the run's last one but others remain
			// before it; the new tail is the end of whatever precedes it.
			f.slots.setRunend(loc.ins-1, true)
		} else {
			// The run's only group was deleted.
			f.slots.setOccupied(q, false)
		}
	}

	f.kern.refreshOffsetsFrom(q / slotsPerBlock)

	shard := f.stripes.Index(q)
	switch {
	case !loc.matched && newCount > 0:
		f.meta.addDistinct(shard, 1)
		f.meta.addOccupied(shard, int64(len(newVals)))
		f.meta.addSum(shard, int64(newCount))
	case loc.matched && newCount == 0:
		f.meta.addDistinct(shard, -1)
		f.meta.addOccupied(shard, -int64(loc.oldLen))
		f.meta.addSum(shard, -int64(oldCount))
	case loc.matched:
		f.meta.addOccupied(shard, int64(len(newVals)-loc.oldLen))
		f.meta.addSum(shard, int64(newCount)-int64(oldCount))
	}

	return oldCount, nil
}

// mutateLocked runs body with the stripe(s) guarding q held per flags,
// auto-resizing and retrying once if body reports CodeNoSpace and
// AutoResize is enabled.
func (f *Filter) mutateLocked(q uint64, flags Flags, body func() error) error {
	unlock, ok := f.acquire(q, flags)
	if !ok {
		return newError(CodeCouldntLock, "stripe contended")
	}
	err := body()
	unlock()

	if CodeOf(err) == CodeNoSpace && f.cfg.AutoResize {
		if rerr := f.autoResize(); rerr != nil {
			return rerr
		}
		unlock, ok = f.acquire(q, flags)
		if !ok {
			return newError(CodeCouldntLock, "stripe contended")
		}
		err = body()
		unlock()
	}
	return err
}

// Insert adds count occurrences of (key, value), returning the distance
// from the home quotient to the run's end after insertion (gqf.h's
// cqf_insert "dist" return).
func (f *Filter) Insert(key []byte, value, count uint64, flags Flags) (dist uint64, err error) {
	if count == 0 {
		return 0, nil
	}
	q, rem := f.fingerprint(key, value, flags)
	err = f.mutateLocked(q, flags, func() error {
		// Recomputed on every attempt: an auto-resize between attempts
		// changes r and with it the quotient/remainder split.
		q, rem = f.fingerprint(key, value, flags)
		loc := f.locate(q, rem)
		total := loc.oldCount + count
		_, e := f.applyCount(q, rem, total)
		return e
	})
	if err != nil {
		return 0, err
	}
	runEnd, ok := f.kern.runEndForOccupied(q)
	if !ok {
		return 0, nil
	}
	return runEnd - q, nil
}

// SetCount sets the absolute count of (key, value); count=0 removes it.
func (f *Filter) SetCount(key []byte, value, count uint64, flags Flags) error {
	q, rem := f.fingerprint(key, value, flags)
	return f.mutateLocked(q, flags, func() error {
		q, rem = f.fingerprint(key, value, flags) // r may change on auto-resize
		_, e := f.applyCount(q, rem, count)
		return e
	})
}

// Remove decrements (key, value)'s count by up to count, returning how many
// were actually freed. Removing more than the stored count deletes the
// entry entirely rather than erroring.
func (f *Filter) Remove(key []byte, value, count uint64, flags Flags) (freed uint64, err error) {
	q, rem := f.fingerprint(key, value, flags)
	err = f.mutateLocked(q, flags, func() error {
		loc := f.locate(q, rem)
		if !loc.matched {
			return newError(CodeDoesntExist, "key/value not present")
		}
		freed = count
		if freed > loc.oldCount {
			freed = loc.oldCount
		}
		_, e := f.applyCount(q, rem, loc.oldCount-freed)
		return e
	})
	if err != nil {
		return 0, err
	}
	return freed, nil
}

// DeleteKeyValue removes every occurrence of (key, value). Matches
// delete_key_value twice being equivalent to once: the second call simply
// finds nothing to match and returns CodeDoesntExist.
func (f *Filter) DeleteKeyValue(key []byte, value uint64, flags Flags) error {
	q, rem := f.fingerprint(key, value, flags)
	return f.mutateLocked(q, flags, func() error {
		loc := f.locate(q, rem)
		if !loc.matched {
			return newError(CodeDoesntExist, "key/value not present")
		}
		_, e := f.applyCount(q, rem, 0)
		return e
	})
}
