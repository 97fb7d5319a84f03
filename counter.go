package cqf

// Counter codec: encodes a per-remainder count as a variable-length run of
// r-bit slots. count == 1 is a single remainder slot. count == 2 is the
// remainder slot twice. count >= 3 is the remainder slot, followed by the
// big-endian base-(2^r - 1) digits of count-1, followed by the remainder
// slot again as a terminator.
//
// The digit alphabet deliberately excludes the value of rem itself (every
// natural digit d in [0, 2^r-2] is stored as d if d < rem, or d+1
// otherwise) so that no digit slot can ever equal rem. That is what makes
// the terminator unambiguous: scanning forward from the leading rem slot,
// the first later slot that equals rem is always the terminator, never a
// coincidental digit value. This is the standard technique the original
// CQF paper's counter encoding uses (the spec's §2 overview names it "base
// (2^r - 1)"); an encoding without the remap would need an explicit
// escape/separator convention instead, which is harder to get bit-exact
// and isn't required since the spec's only hard contract is round-trip
// (encode(decode(x)) == x, decode(encode(rem,c)) == c), not a fixed wire
// form. See DESIGN.md.

// digitBase returns B' = 2^r - 1, the number of distinct digit values
// available once rem is excluded from the r-bit alphabet.
func digitBase(rBits uint) uint64 {
	return lowBitsMask(rBits) // 2^r - 1
}

// remapDigit stores a natural digit d (0..B'-1) as an r-bit slot value that
// never equals rem.
func remapDigit(d, rem uint64) uint64 {
	if d < rem {
		return d
	}
	return d + 1
}

// unmapDigit inverts remapDigit.
func unmapDigit(stored, rem uint64) uint64 {
	if stored < rem {
		return stored
	}
	return stored - 1
}

// naturalDigits returns the minimal big-endian base-B' digits of n (n>=1).
func naturalDigits(n, base uint64) []uint64 {
	if n == 0 {
		return []uint64{0}
	}
	var rev []uint64
	for n > 0 {
		rev = append(rev, n%base)
		n /= base
	}
	digits := make([]uint64, len(rev))
	for i, d := range rev {
		digits[len(rev)-1-i] = d
	}
	return digits
}

// counterLength returns the number of r-bit slots encode(rem, count, rBits)
// occupies, without materializing the slot values.
func counterLength(count uint64, rBits uint) int {
	switch {
	case count == 1:
		return 1
	case count == 2:
		return 2
	default:
		n := count - 1
		return 2 + len(naturalDigits(n, digitBase(rBits)))
	}
}

// encodeCounter returns the slot values (length counterLength(count, rBits))
// for storing count occurrences of remainder rem.
func encodeCounter(rem, count uint64, rBits uint) []uint64 {
	switch {
	case count == 1:
		return []uint64{rem}
	case count == 2:
		return []uint64{rem, rem}
	default:
		n := count - 1
		base := digitBase(rBits)
		digits := naturalDigits(n, base)
		out := make([]uint64, 0, len(digits)+2)
		out = append(out, rem)
		for _, d := range digits {
			out = append(out, remapDigit(d, rem))
		}
		out = append(out, rem)
		return out
	}
}

// decodeCounter reads a counter group starting at slots[0] (slots[0] ==
// rem must already hold). avail bounds how many slots are available to
// read (the remaining length of the run); decodeCounter never reads past
// avail. It returns the decoded count and how many slots the group
// consumed.
func decodeCounter(slots []uint64, rem uint64, avail int, rBits uint) (count uint64, consumed int) {
	if avail <= 1 || slots[1] != rem {
		if avail <= 1 {
			return 1, 1
		}
		// Not an immediate repeat: slots[1] is the first digit (remapped).
		base := digitBase(rBits)
		var digits []uint64
		i := 1
		for i < avail && slots[i] != rem {
			digits = append(digits, unmapDigit(slots[i], rem))
			i++
		}
		n := uint64(0)
		for _, d := range digits {
			n = n*base + d
		}
		return n + 1, i + 1 // +1 to consume the terminating rem slot
	}
	// slots[1] == rem: the immediate-repeat special case for count == 2.
	return 2, 2
}
