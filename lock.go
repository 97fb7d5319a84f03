package cqf

import "github.com/quotientlabs/cqf/internal/stripelock"

// Flags selects per-call lock behavior and hashing bypass, combined the way
// gqf.h's QF_NO_LOCK/QF_TRY_ONCE_LOCK/QF_WAIT_FOR_LOCK/QF_KEY_IS_HASH bit
// flags do.
type Flags uint32

const (
	// FlagWaitForLock spins until both required stripes are acquired. This
	// is the default (zero value) so a bare 0 behaves like gqf.h's default
	// blocking lock.
	FlagWaitForLock Flags = 0
	// FlagTryOnceLock attempts each stripe exactly once, failing with
	// CodeCouldntLock on contention.
	FlagTryOnceLock Flags = 1 << iota
	// FlagNoLock bypasses locking entirely.
	FlagNoLock
	// FlagKeyIsHash skips hashing: the key argument is already the 64-bit
	// hash value to quotient/remainder.
	FlagKeyIsHash
)

func (f Flags) mode() stripelock.Mode {
	switch {
	case f&FlagNoLock != 0:
		return stripelock.NoLock
	case f&FlagTryOnceLock != 0:
		return stripelock.TryOnceLock
	default:
		return stripelock.WaitForLock
	}
}

func (f Flags) keyIsHash() bool { return f&FlagKeyIsHash != 0 }

// acquire locks the stripe(s) guarding slot (and slot+1) per f's mode. A
// caller that gets ok=false under FlagTryOnceLock must return CodeCouldntLock.
func (filt *Filter) acquire(slot uint64, f Flags) (unlock func(), ok bool) {
	return filt.stripes.Acquire(slot, f.mode())
}
