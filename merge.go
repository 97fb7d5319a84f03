package cqf

// The two structural whole-buffer operations (CopyFrom, Reset) need
// exclusive access to more than the one or two stripes a normal mutation
// touches, so they go through stripelock.Array's LockAll/UnlockAll rather
// than acquire. Merge, MergeAll and InnerProduct take no locks on their
// source filters; the merges write into dst through Insert, which locks
// per call.

// checkMergeCompatible requires every filter share the geometry that makes
// their quotients directly comparable: same hash mode and r (§4.7), scoped
// here to identical Config entirely, which is the simplest contract that
// guarantees it.
func checkMergeCompatible(fs ...*Filter) error {
	if len(fs) == 0 {
		return nil
	}
	want := fs[0].cfg
	for _, f := range fs[1:] {
		if f.cfg != want {
			return newError(CodeInvalid, "filters must share identical configuration to merge")
		}
	}
	return nil
}

func combinedKey(it *Iterator) uint64 {
	return (it.Quotient() << it.f.layout.rBits) | it.Remainder()
}

func writeEntry(dst *Filter, hash, value, count uint64) error {
	var hb [8]byte
	putUint64LE(hb[:], hash)
	_, err := dst.Insert(hb[:], value, count, FlagKeyIsHash)
	return err
}

// Merge performs an ordered walk of a and b's iterators in hash order,
// summing counts where fingerprints coincide, and writes the result into
// dst (gqf.h's merge, generalized from set union to counting sum).
func Merge(dst, a, b *Filter) (err error) {
	timer := mergeThunk.Start()
	defer func() { timer.Stop(&err) }()

	if err := checkMergeCompatible(a, b); err != nil {
		return err
	}
	ia, ib := NewIterator(a), NewIterator(b)
	haveA, haveB := ia.Next(), ib.Next()
	for haveA || haveB {
		switch {
		case haveA && haveB && combinedKey(ia) == combinedKey(ib):
			if err := writeEntry(dst, ia.Hash(), ia.Value(), ia.Count()+ib.Count()); err != nil {
				return err
			}
			haveA, haveB = ia.Next(), ib.Next()
		case haveA && (!haveB || combinedKey(ia) < combinedKey(ib)):
			if err := writeEntry(dst, ia.Hash(), ia.Value(), ia.Count()); err != nil {
				return err
			}
			haveA = ia.Next()
		default:
			if err := writeEntry(dst, ib.Hash(), ib.Value(), ib.Count()); err != nil {
				return err
			}
			haveB = ib.Next()
		}
	}
	return nil
}

// MergeAll folds an arbitrary number of source filters into dst by
// inserting every element of every source in turn. count(merge(a,b),k,v) =
// count(a,k,v) + count(b,k,v) holds the same way Merge's does, since each
// Insert accumulates onto whatever dst already holds (including a prior
// source's contribution); the synchronized ordered walk Merge performs for
// the two-filter case is an ordering nicety for sequential writes, not a
// correctness requirement, since dst is randomly addressable.
func MergeAll(dst *Filter, srcs ...*Filter) error {
	all := append([]*Filter{dst}, srcs...)
	if err := checkMergeCompatible(all...); err != nil {
		return err
	}
	for _, src := range srcs {
		it := NewIterator(src)
		for it.Next() {
			if err := writeEntry(dst, it.Hash(), it.Value(), it.Count()); err != nil {
				return err
			}
		}
	}
	return nil
}

// InnerProduct walks a and b simultaneously and sums count_a * count_b over
// matching fingerprints.
func InnerProduct(a, b *Filter) (uint64, error) {
	if err := checkMergeCompatible(a, b); err != nil {
		return 0, err
	}
	ia, ib := NewIterator(a), NewIterator(b)
	haveA, haveB := ia.Next(), ib.Next()
	var sum uint64
	for haveA && haveB {
		ka, kb := combinedKey(ia), combinedKey(ib)
		switch {
		case ka == kb:
			sum += ia.Count() * ib.Count()
			haveA, haveB = ia.Next(), ib.Next()
		case ka < kb:
			haveA = ia.Next()
		default:
			haveB = ib.Next()
		}
	}
	return sum, nil
}

// Magnitude returns Σ count² over a's elements, i.e. InnerProduct(a, a);
// the law inner(a,a) = Σ count² from §8 makes this its own direct
// definition rather than a separate algorithm.
func Magnitude(a *Filter) (uint64, error) {
	return InnerProduct(a, a)
}

// CopyFrom replaces f's entire contents with src's, requiring identical
// configuration, for callers that want an explicit snapshot copy (gqf.h's
// cqf_copy).
func (f *Filter) CopyFrom(src *Filter) error {
	if f.cfg != src.cfg {
		return newError(CodeInvalid, "incompatible configuration")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stripes.LockAll()
	defer f.stripes.UnlockAll()

	copy(f.buf.Bytes(), src.buf.Bytes())
	f.rebuildViews()

	occupied, distinct, sum := src.meta.sync()
	f.meta.shards = make([]counterShard, len(f.meta.shards))
	f.meta.shards[0] = counterShard{occupiedSlots: occupied, distinctPairs: distinct, sumOfCounts: sum}
	f.meta.sync()
	return nil
}

// Reset clears f back to an empty filter with the same configuration.
func (f *Filter) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stripes.LockAll()
	defer f.stripes.UnlockAll()

	b := f.buf.Bytes()
	for i := range b {
		b[i] = 0
	}
	f.rebuildViews()
	f.meta.reset()
	f.writeHeader()
	return nil
}
