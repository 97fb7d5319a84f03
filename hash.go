package cqf

import murmur "github.com/aviddiviner/go-murmur"

// HashMode selects how a Filter turns an inserted key into the 64-bit
// value it quotients and remainders. Mirrors gqf.h's qf_hashmode (DEFAULT,
// INVERTIBLE, NONE) plus the orthogonal KEY_IS_HASH flag.
type HashMode int

const (
	// HashDefault mixes the key with MurmurHash64A, lossy but uniform;
	// ported from go-qfext's hash.go murmurhash64, backed here by
	// aviddiviner/go-murmur for a maintained implementation instead of
	// the teacher's inlined copy.
	HashDefault HashMode = iota
	// HashInvertible applies a bijective 64-bit mix (multiply + xorshift,
	// all steps reversible) so a stored hash can be inverted back to the
	// bit pattern that produced it. Needed when the caller wants
	// cqf_get_unique_index-style support for reconstructing an
	// approximate original key.
	HashInvertible
	// HashNone performs no mixing at all: the caller guarantees the bytes
	// passed in already are a well-distributed 64-bit value.
	HashNone
)

// hasher turns a byte-string key into the 64-bit value a Filter splits
// into quotient and remainder.
type hasher struct {
	mode HashMode
	seed uint32
	// keyIsHash: the caller already passed a hash value (as 8 little
	// endian bytes or via hashUint64) and mixing must be skipped
	// regardless of mode, matching gqf.h's QF_KEY_IS_HASH flag.
	keyIsHash bool
}

func newHasher(mode HashMode, seed uint32, keyIsHash bool) hasher {
	return hasher{mode: mode, seed: seed, keyIsHash: keyIsHash}
}

// hashBytes hashes a key given as raw bytes. forceKeyIsHash lets a single
// call (FlagKeyIsHash) bypass mixing even when the Filter's own config
// doesn't have KeyIsHash set.
func (h hasher) hashBytes(key []byte, forceKeyIsHash bool) uint64 {
	if h.keyIsHash || forceKeyIsHash {
		return bytesToUint64(key)
	}
	switch h.mode {
	case HashInvertible:
		return invertibleMix(bytesToUint64(key) ^ uint64(h.seed))
	case HashNone:
		return bytesToUint64(key)
	default:
		return murmur.MurmurHash64A(key, h.seed)
	}
}

// hashUint64 hashes a key already given as a 64-bit value, without a
// byte-slice round trip.
func (h hasher) hashUint64(key uint64, forceKeyIsHash bool) uint64 {
	if h.keyIsHash || forceKeyIsHash {
		return key
	}
	switch h.mode {
	case HashInvertible:
		return invertibleMix(key ^ uint64(h.seed))
	case HashNone:
		return key
	default:
		var buf [8]byte
		putUint64LE(buf[:], key)
		return murmur.MurmurHash64A(buf[:], h.seed)
	}
}

// unhash inverts hashUint64 for HashInvertible mode, letting
// GetUniqueIndex-style callers recover the pre-mix value. It is only
// meaningful (and only called) when mode == HashInvertible; callers must
// check that themselves.
func (h hasher) unhash(hashed uint64) uint64 {
	return invertibleUnmix(hashed) ^ uint64(h.seed)
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// invertibleMix / invertibleUnmix implement a bijective 64-bit finalizer
// (the same multiply/xorshift shape as MurmurHash3's fmix64, which is
// invertible because every step -- xorshift, odd-constant multiply -- has
// a unique inverse). Each step below is undone by invertibleUnmix in
// reverse order.
const (
	mixC1 = 0xff51afd7ed558ccd
	mixC2 = 0xc4ceb9fe1a85ec53
)

func invertibleMix(x uint64) uint64 {
	x ^= x >> 33
	x *= mixC1
	x ^= x >> 33
	x *= mixC2
	x ^= x >> 33
	return x
}

func invertibleUnmix(x uint64) uint64 {
	x = unxorshift33(x)
	x *= modInverse64(mixC2)
	x = unxorshift33(x)
	x *= modInverse64(mixC1)
	x = unxorshift33(x)
	return x
}

// unxorshift33 inverts x ^= x >> 33: since the shift is more than half of
// 64 bits, applying the same xorshift twice recovers the original value.
func unxorshift33(x uint64) uint64 {
	return x ^ (x >> 33)
}

// modInverse64 returns the multiplicative inverse of odd c modulo 2^64,
// via Newton's iteration (doubling the number of correct bits each step),
// the standard technique for inverting odd-constant multiplication in a
// power-of-two ring.
func modInverse64(c uint64) uint64 {
	x := c // correct mod 2^3 already since c is odd
	for i := 0; i < 5; i++ {
		x *= 2 - c*x
	}
	return x
}
