package cqf

// Iterator walks a Filter's elements in hash (quotient, then remainder)
// order, per §4.6: advance skips the current group's trailing digits, and
// once a run is exhausted scans occupied bits forward for the next home
// quotient. It is a snapshot: concurrent structural mutation (resize,
// CopyFrom, any insert/remove touching a stripe the iterator has already
// passed or not yet reached) invalidates it, matching §3's lifecycle note;
// nothing in this type detects that itself, so callers that need a
// guaranteed-consistent walk should hold NO_LOCK writers off entirely or
// accept the torn-read contract §5 documents for concurrent readers.
type Iterator struct {
	f *Filter

	searchFrom uint64 // next address nextOccupied should search from
	q          uint64 // current quotient, valid iff haveRun
	pos        uint64 // current group's start slot
	runEnd     uint64
	rem        uint64
	count      uint64
	consumed   int
	haveRun    bool
	done       bool
}

func newIteratorFromAddress(f *Filter, start uint64) *Iterator {
	return &Iterator{f: f, searchFrom: start}
}

// NewIterator starts an iterator at the filter's first element.
func NewIterator(f *Filter) *Iterator {
	return newIteratorFromAddress(f, 0)
}

// NewIteratorFrom starts an iterator at the first element whose home
// quotient is >= the quotient (key, value) hashes to, letting a caller
// resume an ordered walk from a known logical position without having
// looked up its physical slot first (gqf.h's cqf_iterator_from_key_value).
func NewIteratorFrom(f *Filter, key []byte, value uint64, flags Flags) *Iterator {
	q, _ := f.fingerprint(key, value, flags)
	return newIteratorFromAddress(f, q)
}

// NewIteratorAt starts an iterator at the first run whose home quotient is
// at or after slot, treating the slot index as a quotient: the same scan
// NewIteratorFrom performs. Elements stored at or after slot whose home
// quotient is below slot (runs shifted right of their home) are not
// visited.
func NewIteratorAt(f *Filter, slot uint64) *Iterator {
	return newIteratorFromAddress(f, slot)
}

// Next advances to the next element and reports whether one was found.
// Call it before the first use of Value/Count/etc.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if it.haveRun {
		it.pos += uint64(it.consumed)
		if it.pos > it.runEnd {
			it.haveRun = false
			it.searchFrom = it.q + 1
		}
	}
	for !it.haveRun {
		nq, ok := it.f.kern.nextOccupied(it.searchFrom)
		if !ok {
			it.done = true
			return false
		}
		start := it.f.kern.runStartFor(nq)
		end, ok := it.f.kern.runEndForOccupied(nq)
		if !ok || end < start {
			it.searchFrom = nq + 1
			continue
		}
		it.q, it.pos, it.runEnd = nq, start, end
		it.haveRun = true
	}

	rem := it.f.slots.getSlot(it.pos)
	count, consumed := readCounterAt(it.f.slots, it.pos, rem, it.f.layout.rBits, it.runEnd+1)
	it.rem, it.count, it.consumed = rem, count, consumed
	return true
}

// Value returns the current element's value bits.
func (it *Iterator) Value() uint64 {
	_, v := it.f.joinFingerprint(it.q, it.rem)
	return v
}

// Count returns the current element's stored count.
func (it *Iterator) Count() uint64 { return it.count }

// Quotient returns the current element's home quotient.
func (it *Iterator) Quotient() uint64 { return it.q }

// Remainder returns the current element's raw remainder.
func (it *Iterator) Remainder() uint64 { return it.rem }

// Hash returns the current element's composite key hash (the fingerprint
// with the value bits shifted back out), useful for ordered merge walks
// that need to compare positions across filters sharing a hash mode and r.
func (it *Iterator) Hash() uint64 {
	h, _ := it.f.joinFingerprint(it.q, it.rem)
	return h
}

// Slot returns the current element's physical slot. NewIteratorAt resumes
// at this element from it only when the element is the first group of a
// run stored at its own home slot.
func (it *Iterator) Slot() uint64 { return it.pos }

// Key recovers the original key bytes under HashInvertible mode, where the
// mix applied at insert time has a known inverse. The mix runs over all 64
// bits and the fingerprint keeps only its low KeyBits bits, so the result
// equals the inserted key only when KeyBits is 64; with a narrower KeyBits
// it is the inverse of the truncated hash, not the key. Any other mode returns
// CodeInvalid, per §4.5: iteration under DEFAULT yields hashes only, and
// NONE never had an original key to recover (the hash was the key).
func (it *Iterator) Key() ([]byte, error) {
	if it.f.cfg.HashMode != HashInvertible {
		return nil, newError(CodeInvalid, "original keys only recoverable under invertible hash mode")
	}
	orig := it.f.hasher.unhash(it.Hash())
	var buf [8]byte
	putUint64LE(buf[:], orig)
	return buf[:], nil
}
