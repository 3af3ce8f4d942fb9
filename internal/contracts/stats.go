package contracts

import "encoding/binary"

// Stats is the decoded form of the packed per-character statistics blob the
// battle contract returns from getStats.
type Stats struct {
	Health     uint16
	Energy     uint8
	Block      uint8
	Vulnerable uint8
	Weak       uint8
	Strength   uint8
}

// Packed layout: health is a big-endian uint16 at offset 0, the remaining
// five statistics are single bytes at offsets 2 through 6.
const statsPackedLen = 7

// DecodeStats extracts the six statistics from their fixed byte offsets.
// A truncated buffer zero-fills the missing trailing fields; a longer buffer
// ignores the extra bytes.
func DecodeStats(buf []byte) Stats {
	if len(buf) < statsPackedLen {
		padded := make([]byte, statsPackedLen)
		copy(padded, buf)
		buf = padded
	}
	return Stats{
		Health:     binary.BigEndian.Uint16(buf[0:2]),
		Energy:     buf[2],
		Block:      buf[3],
		Vulnerable: buf[4],
		Weak:       buf[5],
		Strength:   buf[6],
	}
}

// EncodeStats packs the statistics back into their wire layout. Used by tests
// and local simulations; the contract is the authoritative encoder.
func EncodeStats(s Stats) []byte {
	buf := make([]byte, statsPackedLen)
	binary.BigEndian.PutUint16(buf[0:2], s.Health)
	buf[2] = s.Energy
	buf[3] = s.Block
	buf[4] = s.Vulnerable
	buf[5] = s.Weak
	buf[6] = s.Strength
	return buf
}
