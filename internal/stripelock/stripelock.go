// Copyright (c) Facebook, Inc. and its affiliates. All Rights Reserved

// Package stripelock implements the striped spinlock array used to guard
// fine-grained regions of a counting quotient filter's slot array. A
// mutation or query never needs more than the stripe containing its home
// slot and the stripe immediately after it, so the array hands out at most
// two locks per call, always in ascending stripe order to avoid deadlock.
package stripelock

import (
	"sync"

	"golang.org/x/sys/cpu"
)

// SlotsPerStripe is the number of filter slots guarded by one stripe, fixed
// by the quotient-filter-kernel's contract that a run can span at most two
// stripes (Kernel §5: "at most 2*stripe_size by design contract with
// auto-resize").
const SlotsPerStripe = 4096

// stripe bundles one spinlock with the local counter shard it protects.
// cpu.CacheLinePad keeps adjacent stripes from false-sharing a cache line
// under concurrent access, the same low-level concern zeebo/cascade solves
// with golang.org/x/sys/unix for its mmap page geometry; here the relevant
// system fact is the cache line, not the page.
type stripe struct {
	mu sync.Mutex
	_  cpu.CacheLinePad
}

// Array is a fixed set of stripes covering a filter's slot range.
type Array struct {
	stripes []stripe
}

// New builds a stripe array covering nslots slots.
func New(nslots uint64) *Array {
	n := (nslots + SlotsPerStripe - 1) / SlotsPerStripe
	if n == 0 {
		n = 1
	}
	return &Array{stripes: make([]stripe, n)}
}

// Index returns the stripe index guarding the given slot.
func (a *Array) Index(slot uint64) int {
	return int((slot / SlotsPerStripe) % uint64(len(a.stripes)))
}

// Mode selects the acquisition behavior for a single call.
type Mode int

const (
	// WaitForLock spins (via blocking Lock) until both stripes are acquired.
	WaitForLock Mode = iota
	// TryOnceLock attempts each stripe exactly once and gives up on contention.
	TryOnceLock
	// NoLock bypasses locking entirely; the caller accepts torn reads.
	NoLock
)

// Acquire locks the stripe(s) covering [slot, slot+1] (a mutation may shift
// into the following stripe) according to mode. It returns an Unlock
// function and whether acquisition succeeded; Unlock is always safe to call
// even when ok is false (it is then a no-op).
func (a *Array) Acquire(slot uint64, mode Mode) (unlock func(), ok bool) {
	if mode == NoLock {
		return func() {}, true
	}

	i1 := a.Index(slot)
	i2 := a.Index(slot + 1)
	if i2 < i1 {
		i1, i2 = i2, i1
	}

	switch mode {
	case TryOnceLock:
		if !a.stripes[i1].mu.TryLock() {
			return func() {}, false
		}
		if i2 != i1 && !a.stripes[i2].mu.TryLock() {
			a.stripes[i1].mu.Unlock()
			return func() {}, false
		}
	default: // WaitForLock
		a.stripes[i1].mu.Lock()
		if i2 != i1 {
			a.stripes[i2].mu.Lock()
		}
	}

	if i2 != i1 {
		return func() {
			a.stripes[i2].mu.Unlock()
			a.stripes[i1].mu.Unlock()
		}, true
	}
	return func() { a.stripes[i1].mu.Unlock() }, true
}

// Len reports the number of stripes.
func (a *Array) Len() int { return len(a.stripes) }

// LockAll acquires every stripe in ascending order, giving the caller
// exclusive access to the whole array (used by operations like resize,
// CopyFrom and Reset that replace the entire backing buffer rather than a
// bounded slot range).
func (a *Array) LockAll() {
	for i := range a.stripes {
		a.stripes[i].mu.Lock()
	}
}

// UnlockAll releases every stripe, in descending order to mirror LockAll's
// acquisition order.
func (a *Array) UnlockAll() {
	for i := len(a.stripes) - 1; i >= 0; i-- {
		a.stripes[i].mu.Unlock()
	}
}
