package cqf

// resize grows a filter by allocating a fresh one at a larger nslots,
// re-inserting every element in order, then swapping its internals into
// place, per §4.4's Resize paragraph: a quotient filter's slot width
// (r) depends on nslots, so growing it isn't a buffer copy -- every
// element's quotient/remainder split changes and must be recomputed via a
// full reinsertion pass.

// autoResize doubles nslots, the policy §4.4 and §5 describe for a
// mutation that would otherwise fail with CodeNoSpace when AutoResize is
// enabled.
func (f *Filter) autoResize() error {
	return f.resizeTo(f.cfg.NSlots * 2)
}

// ResizeMalloc grows (or, if ever needed, shrinks) f to newNSlots, which
// must be a power of two at least large enough to hold the current
// occupied slot count under maxLoadFactor (gqf.h's cqf_resize_malloc).
func (f *Filter) ResizeMalloc(newNSlots uint64) error {
	occupied, _, _ := f.SyncCounters()
	minSlots := uint64(float64(occupied) / maxLoadFactor)
	if newNSlots < minSlots {
		return newError(CodeInvalid, "newNSlots too small for current occupancy")
	}
	return f.resizeTo(newNSlots)
}

func (f *Filter) resizeTo(newNSlots uint64) (err error) {
	timer := resizeThunk.Start()
	defer func() { timer.Stop(&err) }()

	newCfg := f.cfg
	newCfg.NSlots = newNSlots
	if err := newCfg.validate(); err != nil {
		return err
	}
	nf, err := New(newCfg)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	oldStripes := f.stripes
	oldStripes.LockAll()

	it := NewIterator(f)
	for it.Next() {
		var hb [8]byte
		putUint64LE(hb[:], it.Hash())
		if _, err := nf.Insert(hb[:], it.Value(), it.Count(), FlagKeyIsHash); err != nil {
			oldStripes.UnlockAll()
			return err
		}
	}

	f.cfg = nf.cfg
	f.layout = nf.layout
	f.nblocks = nf.nblocks
	f.buf = nf.buf
	f.stripes = nf.stripes
	f.meta = nf.meta
	f.hasher = nf.hasher
	f.rebuildViews()

	oldStripes.UnlockAll()
	return nil
}
