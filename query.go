package cqf

// Queries are read-only uses of the same locate/decode machinery mutate.go
// uses to find a splice point, stopping short of ever calling splice.

// Query reports the count and value of the first element stored under key,
// per §6.3: "only the first matching value is reported." Multiple values
// for the same key land in the same run as distinct counter groups (they
// share a quotient and differ only in the low, value-carrying remainder
// bits); Query returns whichever group sorts first. Absent keys report
// count 0.
func (f *Filter) Query(key []byte, flags Flags) (value, count uint64, err error) {
	q, keyRem := f.fingerprint(key, 0, flags)
	unlock, ok := f.acquire(q, flags)
	if !ok {
		return 0, 0, newError(CodeCouldntLock, "stripe contended")
	}
	defer unlock()

	if !f.slots.isOccupied(q) {
		return 0, 0, nil
	}
	runStart := f.kern.runStartFor(q)
	runEnd, ok := f.kern.runEndForOccupied(q)
	if !ok {
		return 0, 0, nil
	}
	// Groups of other keys that share q differ from key's groups above the
	// low ValueBits of the remainder and are skipped.
	for pos := runStart; pos <= runEnd; {
		rem := f.slots.getSlot(pos)
		c, consumed := readCounterAt(f.slots, pos, rem, f.layout.rBits, runEnd+1)
		if rem>>f.cfg.ValueBits == keyRem>>f.cfg.ValueBits {
			_, value = f.joinFingerprint(q, rem)
			return value, c, nil
		}
		pos += uint64(consumed)
	}
	return 0, 0, nil
}

// CountKeyValue reports the exact stored count for (key, value), 0 if
// absent.
func (f *Filter) CountKeyValue(key []byte, value uint64, flags Flags) (count uint64, err error) {
	q, rem := f.fingerprint(key, value, flags)
	unlock, ok := f.acquire(q, flags)
	if !ok {
		return 0, newError(CodeCouldntLock, "stripe contended")
	}
	defer unlock()

	loc := f.locate(q, rem)
	if !loc.matched {
		return 0, nil
	}
	return loc.oldCount, nil
}

// GetUniqueIndex returns the physical slot holding (key, value)'s counter
// group, or CodeDoesntExist if absent. The index changes across mutations
// (§6.3). NewIteratorAt treats it as a quotient, so resuming from it
// reaches this element only when the element is the first group of a run
// stored at its own home slot.
func (f *Filter) GetUniqueIndex(key []byte, value uint64, flags Flags) (idx uint64, err error) {
	q, rem := f.fingerprint(key, value, flags)
	unlock, ok := f.acquire(q, flags)
	if !ok {
		return 0, newError(CodeCouldntLock, "stripe contended")
	}
	defer unlock()

	loc := f.locate(q, rem)
	if !loc.matched {
		return 0, newError(CodeDoesntExist, "key/value not present")
	}
	return loc.ins, nil
}
