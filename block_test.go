package cqf

import (
	"testing"

	"github.com/zeebo/assert"
)

func TestLayoutBlockByteOffsets(t *testing.T) {
	l := newLayout(8)
	assert.Equal(t, l.blockByteOffset(0), uint64(0))
	assert.Equal(t, l.blockByteOffset(1), l.blockBytes)
	assert.Equal(t, l.bufferSize(3), 3*l.blockBytes)
}

func TestLayoutOccupiedRunendBits(t *testing.T) {
	l := newLayout(6)
	buf := make([]byte, l.blockBytes*2)

	assert.That(t, !l.occupiedBit(buf, 5))
	l.setOccupiedBit(buf, 5, true)
	assert.That(t, l.occupiedBit(buf, 5))
	assert.That(t, !l.occupiedBit(buf, 4))
	assert.That(t, !l.occupiedBit(buf, 6))

	l.setRunendBit(buf, 70, true)
	assert.That(t, l.runendBit(buf, 70))
	assert.That(t, !l.runendBit(buf, 69))

	l.setOccupiedBit(buf, 5, false)
	assert.That(t, !l.occupiedBit(buf, 5))
}

func TestLayoutSlotRoundTrip(t *testing.T) {
	l := newLayout(11)
	buf := make([]byte, l.blockBytes*2)

	for i := uint64(0); i < 128; i++ {
		v := (i * 37) & l.rMask
		l.setSlotRaw(buf, i, v)
	}
	for i := uint64(0); i < 128; i++ {
		want := (i * 37) & l.rMask
		assert.Equal(t, l.getSlotRaw(buf, i), want)
	}
}

func TestOffsetByteSentinel(t *testing.T) {
	l := newLayout(4)
	buf := make([]byte, l.blockBytes*2)
	l.setOffsetByte(buf, 1, offsetSentinel)
	assert.Equal(t, l.offsetByte(buf, 1), uint8(offsetSentinel))
}
