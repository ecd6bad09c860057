package fits

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, tile []uint16) {
	t.Helper()
	enc := riceEncode(tile)
	dec, err := riceDecode(enc, len(tile))
	require.NoError(t, err)
	assert.Equal(t, tile, dec)
}

func TestRiceRoundTripConstant(t *testing.T) {
	tile := make([]uint16, 128)
	for i := range tile {
		tile[i] = 12345
	}
	roundTrip(t, tile)

	// All-zero blocks collapse to one selector each.
	assert.Less(t, len(riceEncode(tile)), 8)
}

func TestRiceRoundTripRamp(t *testing.T) {
	tile := make([]uint16, 100)
	for i := range tile {
		tile[i] = uint16(1000 + 3*i)
	}
	roundTrip(t, tile)
}

func TestRiceRoundTripNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tile := make([]uint16, 517) // not a multiple of the block size
	for i := range tile {
		tile[i] = uint16(2048 + rng.Intn(64))
	}
	roundTrip(t, tile)
}

func TestRiceRoundTripExtremes(t *testing.T) {
	// Alternating full-range jumps force the verbatim escape.
	tile := make([]uint16, 64)
	for i := range tile {
		if i%2 == 0 {
			tile[i] = 0
		} else {
			tile[i] = 65535
		}
	}
	roundTrip(t, tile)
}

func TestRiceRoundTripShortTiles(t *testing.T) {
	roundTrip(t, []uint16{})
	roundTrip(t, []uint16{7})
	roundTrip(t, []uint16{7, 9})
}

func TestRiceCompressesSmoothData(t *testing.T) {
	tile := make([]uint16, 4096)
	for i := range tile {
		tile[i] = uint16(2000 + i%4)
	}
	assert.Less(t, len(riceEncode(tile)), len(tile)) // well under 2 bytes/sample
}

func TestRiceDecodeTruncated(t *testing.T) {
	enc := riceEncode([]uint16{1, 2, 3, 4, 5, 6, 7, 8})
	_, err := riceDecode(enc[:1], 8)
	assert.ErrorIs(t, err, errShortStream)
}

func TestMapDiff(t *testing.T) {
	for _, d := range []int32{0, 1, -1, 2, -2, 32767, -32768, 65535, -65535} {
		assert.Equal(t, d, unmapDiff(mapDiff(d)))
	}
	assert.Equal(t, uint32(0), mapDiff(0))
	assert.Equal(t, uint32(1), mapDiff(-1))
	assert.Equal(t, uint32(2), mapDiff(1))
}
