package cqf

import (
	"bytes"
	"encoding/binary"
	"os"

	atomicfile "github.com/natefinch/atomic"
)

// headerSize is the fixed byte-exact header §6.4 specifies, padded to a
// whole 8-byte word for the same reason block regions are.
const headerSize = 56

const (
	hdrNSlots     = 0  // uint64
	hdrKeyBits    = 8  // uint8
	hdrValueBits  = 9  // uint8
	hdrRBits      = 10 // uint8
	hdrHashMode   = 11 // uint8
	hdrKeyIsHash  = 12 // uint8
	hdrAutoResize = 13 // uint8
	hdrSeed       = 16 // uint32
	hdrNumBlocks  = 24 // uint64
	hdrOccupied   = 32 // int64
	hdrDistinct   = 40 // int64
	hdrSumCounts  = 48 // int64
)

// writeHeader serializes f.cfg and the last-synced totals into the
// buffer's header region, per §6.4.
func (f *Filter) writeHeader() {
	h := f.buf.Bytes()[:headerSize]
	binary.LittleEndian.PutUint64(h[hdrNSlots:], f.cfg.NSlots)
	h[hdrKeyBits] = uint8(f.cfg.KeyBits)
	h[hdrValueBits] = uint8(f.cfg.ValueBits)
	h[hdrRBits] = uint8(f.layout.rBits)
	h[hdrHashMode] = uint8(f.cfg.HashMode)
	h[hdrKeyIsHash] = boolByte(f.cfg.KeyIsHash)
	h[hdrAutoResize] = boolByte(f.cfg.AutoResize)
	binary.LittleEndian.PutUint32(h[hdrSeed:], f.cfg.Seed)
	binary.LittleEndian.PutUint64(h[hdrNumBlocks:], f.nblocks)
	occupied, distinct, sum := f.meta.sync()
	binary.LittleEndian.PutUint64(h[hdrOccupied:], uint64(occupied))
	binary.LittleEndian.PutUint64(h[hdrDistinct:], uint64(distinct))
	binary.LittleEndian.PutUint64(h[hdrSumCounts:], uint64(sum))
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// readHeader parses a Config and an initial counterShard (occupying shard
// 0; SyncCounters will fold it in along with whatever shards subsequent
// mutations populate) out of a serialized buffer.
func readHeader(buf []byte) (Config, counterShard, error) {
	if uint64(len(buf)) < headerSize {
		return Config{}, counterShard{}, newError(CodeInvalid, "buffer too small for header")
	}
	h := buf[:headerSize]
	cfg := Config{
		NSlots:     binary.LittleEndian.Uint64(h[hdrNSlots:]),
		KeyBits:    uint(h[hdrKeyBits]),
		ValueBits:  uint(h[hdrValueBits]),
		HashMode:   HashMode(h[hdrHashMode]),
		Seed:       binary.LittleEndian.Uint32(h[hdrSeed:]),
		KeyIsHash:  h[hdrKeyIsHash] != 0,
		AutoResize: h[hdrAutoResize] != 0,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, counterShard{}, err
	}
	shard := counterShard{
		occupiedSlots: int64(binary.LittleEndian.Uint64(h[hdrOccupied:])),
		distinctPairs: int64(binary.LittleEndian.Uint64(h[hdrDistinct:])),
		sumOfCounts:   int64(binary.LittleEndian.Uint64(h[hdrSumCounts:])),
	}
	return cfg, shard, nil
}

// SaveToFile writes the Filter's current buffer to path, via
// github.com/natefinch/atomic so a crash mid-write cannot leave a torn
// image: atomic.WriteFile stages to a temp file in the same directory and
// renames over the destination, grounded in the same crash-safety pattern
// calvinalkan-agent-task's config writer uses.
func (f *Filter) SaveToFile(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeHeader()
	return wrapError(CodeInvalid, atomicfile.WriteFile(path, bytes.NewReader(f.buf.Bytes())))
}

// LoadFromFile reads a serialized Filter image from path and reconstructs
// a live Filter over it (Use).
func LoadFromFile(path string) (*Filter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapError(CodeInvalid, err)
	}
	return Use(ReadRAMBuffer(data))
}
