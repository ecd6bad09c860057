package cr2

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pgm16 renders pix as a binary 16-bit greymap.
func pgm16(width, height int, pix []uint16) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "P5\n%d %d\n65535\n", width, height)
	for _, v := range pix {
		var w [2]byte
		binary.BigEndian.PutUint16(w[:], v)
		buf.Write(w[:])
	}
	return buf.Bytes()
}

func TestDecodePGMBinary16(t *testing.T) {
	img, err := decodePGM(bytes.NewReader(pgm16(fixSensorWidth, fixSensorHeight, fixSensorPix())))
	require.NoError(t, err)

	assert.Equal(t, fixSensorWidth, img.Width)
	assert.Equal(t, fixSensorHeight, img.Height)
	assert.Equal(t, fixSensorPix(), img.Pix)
}

func TestDecodePGMBinary8(t *testing.T) {
	img, err := decodePGM(strings.NewReader("P5 2 2 255\n\x01\x02\x03\x04"))
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3, 4}, img.Pix)
}

func TestDecodePGMPlain(t *testing.T) {
	img, err := decodePGM(strings.NewReader("P2\n3 1\n1000\n10 20 999\n"))
	require.NoError(t, err)
	assert.Equal(t, []uint16{10, 20, 999}, img.Pix)
}

func TestDecodePGMComments(t *testing.T) {
	in := "P5 # created by a converter\n# another comment\n2 1\n255\n\x05\x06"
	img, err := decodePGM(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []uint16{5, 6}, img.Pix)
}

func TestDecodePGMWrongMagic(t *testing.T) {
	_, err := decodePGM(strings.NewReader("P6\n2 2\n255\n"))
	var fe FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDecodePGMBadMaxval(t *testing.T) {
	_, err := decodePGM(strings.NewReader("P5\n2 2\n70000\n"))
	var fe FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDecodePGMMalformedHeader(t *testing.T) {
	_, err := decodePGM(strings.NewReader("P5\nten 2\n255\n"))
	var fe FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDecodePGMShortData(t *testing.T) {
	data := pgm16(4, 4, make([]uint16, 16))
	_, err := decodePGM(bytes.NewReader(data[:len(data)-10]))

	var sr *ShortReadError
	require.ErrorAs(t, err, &sr)
	assert.Equal(t, 32, sr.Want)
}

func TestDecodePGMPlainSampleOverflow(t *testing.T) {
	_, err := decodePGM(strings.NewReader("P2\n1 1\n100\n200\n"))
	var fe FormatError
	require.ErrorAs(t, err, &fe)
}
