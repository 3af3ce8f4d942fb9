package contracts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeStats_ByteOffsets(t *testing.T) {
	// [health=30, energy=3, block=0, vulnerable=0, weak=0, strength=0]
	buf := []byte{0x00, 0x1e, 0x03, 0x00, 0x00, 0x00, 0x00}

	s := DecodeStats(buf)
	require.Equal(t, uint16(30), s.Health)
	require.Equal(t, uint8(3), s.Energy)
	require.Equal(t, uint8(0), s.Block)
	require.Equal(t, uint8(0), s.Vulnerable)
	require.Equal(t, uint8(0), s.Weak)
	require.Equal(t, uint8(0), s.Strength)
}

func TestDecodeStats_TruncatedZeroFills(t *testing.T) {
	// Only health and energy present; trailing fields must be zero.
	buf := []byte{0x00, 0x1e, 0x03}

	s := DecodeStats(buf)
	require.Equal(t, Stats{Health: 30, Energy: 3}, s)
}

func TestDecodeStats_EmptyBuffer(t *testing.T) {
	require.Equal(t, Stats{}, DecodeStats(nil))
}

func TestDecodeStats_IgnoresTrailingBytes(t *testing.T) {
	buf := append(EncodeStats(Stats{Health: 500, Energy: 2, Strength: 7}), 0xff, 0xff)

	s := DecodeStats(buf)
	require.Equal(t, uint16(500), s.Health)
	require.Equal(t, uint8(2), s.Energy)
	require.Equal(t, uint8(7), s.Strength)
}

func TestEncodeDecodeStats(t *testing.T) {
	in := Stats{Health: 30, Energy: 3, Block: 5, Vulnerable: 1, Weak: 2, Strength: 4}
	require.Equal(t, in, DecodeStats(EncodeStats(in)))
}
