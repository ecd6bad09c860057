package cr2

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// The synthetic container used across the package tests: a little-endian
// CR2 with an IFD0 (camera identity and date), a thumbnail IFD, a raw
// IFD holding a lossless JPEG strip, an EXIF sub-directory and a Canon
// MakerNote with a SensorInfo table.
//
// Sensor geometry: 8x4 samples, active area columns [2,6) rows [2,4),
// sliced vertically in two halves of 4 columns.
const (
	fixSensorWidth  = 8
	fixSensorHeight = 4
	fixBits         = 12
	fixDate         = "2015:06:21 03:14:07"
)

// fixPixel is the sensor value at (x, y). Values sit near the decoder's
// initial prediction so differences stay small.
func fixPixel(x, y int) uint16 {
	return uint16(2048 + x + fixSensorWidth*y)
}

func fixSensorPix() []uint16 {
	pix := make([]uint16, fixSensorWidth*fixSensorHeight)
	for y := 0; y < fixSensorHeight; y++ {
		for x := 0; x < fixSensorWidth; x++ {
			pix[y*fixSensorWidth+x] = fixPixel(x, y)
		}
	}
	return pix
}

// fixStream is the entropy-stream sample order: each vertical slice
// stored contiguously in row-major order.
func fixStream() []uint16 {
	pix := fixSensorPix()
	var out []uint16
	for _, start := range []int{0, 4} {
		for y := 0; y < fixSensorHeight; y++ {
			out = append(out, pix[y*fixSensorWidth+start:y*fixSensorWidth+start+4]...)
		}
	}
	return out
}

type fixtureOpt func(*fixture)

type fixture struct {
	badMagic      bool
	badVersion    bool
	noSlices      bool
	extraIFD0     []ifdEntry
	rawStrip      []byte
	sensorInfoLen int
}

func withBadMagic() fixtureOpt   { return func(f *fixture) { f.badMagic = true } }
func withBadVersion() fixtureOpt { return func(f *fixture) { f.badVersion = true } }
func withNoSlices() fixtureOpt   { return func(f *fixture) { f.noSlices = true } }
func withRawStrip(b []byte) fixtureOpt {
	return func(f *fixture) { f.rawStrip = b }
}
func withIFD0Entry(e ifdEntry) fixtureOpt {
	return func(f *fixture) { f.extraIFD0 = append(f.extraIFD0, e) }
}

// ifdEntry is the 12-byte on-disk form of one directory entry. raw, when
// set, is placed verbatim in the value word; otherwise value is encoded
// little endian.
type ifdEntry struct {
	id    uint16
	dtype uint16
	count uint32
	value uint32
	raw   []byte
}

func writeIFD(buf *bytes.Buffer, entries []ifdEntry, next uint32) {
	le := binary.LittleEndian
	var w [4]byte
	le.PutUint16(w[:2], uint16(len(entries)))
	buf.Write(w[:2])
	for _, e := range entries {
		le.PutUint16(w[:2], e.id)
		buf.Write(w[:2])
		le.PutUint16(w[:2], e.dtype)
		buf.Write(w[:2])
		le.PutUint32(w[:], e.count)
		buf.Write(w[:])
		if e.raw != nil {
			var v [4]byte
			copy(v[:], e.raw)
			buf.Write(v[:])
		} else {
			le.PutUint32(w[:], e.value)
			buf.Write(w[:])
		}
	}
	le.PutUint32(w[:], next)
	buf.Write(w[:])
}

func ifdSize(entries int) uint32 { return 2 + 12*uint32(entries) + 4 }

// buildCR2 assembles the synthetic container. thumb, when non-nil, is
// placed behind the thumbnail IFD as a rendered JPEG.
func buildCR2(t *testing.T, thumb []byte, opts ...fixtureOpt) []byte {
	t.Helper()

	f := &fixture{sensorInfoLen: 17}
	for _, o := range opts {
		o(f)
	}
	strip := f.rawStrip
	if strip == nil {
		strip = encodeLosslessFixture(t)
	}

	makeStr := []byte("Canon\x00")
	modelStr := []byte("EOS\x00") // 4 bytes, stored inline
	dateStr := []byte(fixDate + "\x00")
	exposure := make([]byte, 8) // 1/200 s
	binary.LittleEndian.PutUint32(exposure[0:], 1)
	binary.LittleEndian.PutUint32(exposure[4:], 200)

	sensorVals := make([]uint16, f.sensorInfoLen)
	copy(sensorVals, []uint16{
		17, fixSensorWidth, fixSensorHeight, 0, 0,
		2, 2, 6, 4, // active-area borders
		7, 0, 7, 3, // black mask
	})
	sensorInfo := make([]byte, 2*len(sensorVals))
	for i, v := range sensorVals {
		binary.LittleEndian.PutUint16(sensorInfo[2*i:], v)
	}

	slices := make([]byte, 6) // 1 slice of 4 columns + final 4
	for i, v := range []uint16{1, 4, 4} {
		binary.LittleEndian.PutUint16(slices[2*i:], v)
	}

	nIFD0 := 4 + len(f.extraIFD0)
	nIFD1 := 2
	nRaw := 4
	if f.noSlices {
		nRaw = 3
	}
	nExif := 3
	nMaker := 1

	ifd0Off := uint32(headerLen)
	ifd1Off := ifd0Off + ifdSize(nIFD0)
	rawOff := ifd1Off + ifdSize(nIFD1)
	exifOff := rawOff + ifdSize(nRaw)
	makerOff := exifOff + ifdSize(nExif)
	extraOff := makerOff + ifdSize(nMaker)

	makeOff := extraOff
	dateOff := makeOff + uint32(len(makeStr))
	expOff := dateOff + uint32(len(dateStr))
	dateOrigOff := expOff + uint32(len(exposure))
	sensorOff := dateOrigOff + uint32(len(dateStr))
	sliceOff := sensorOff + uint32(len(sensorInfo))
	stripOff := sliceOff + uint32(len(slices))
	thumbOff := stripOff + uint32(len(strip))

	var buf bytes.Buffer
	buf.WriteString(leHeader)
	le32 := func(v uint32) {
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], v)
		buf.Write(w[:])
	}
	le32(ifd0Off)
	if f.badMagic {
		buf.WriteString("XX")
	} else {
		buf.WriteString(cr2Magic)
	}
	if f.badVersion {
		buf.Write([]byte{9, 0})
	} else {
		buf.Write([]byte{2, 0})
	}
	le32(rawOff)

	ifd0 := []ifdEntry{
		{id: tMake, dtype: dtASCII, count: uint32(len(makeStr)), value: makeOff},
		{id: tModel, dtype: dtASCII, count: uint32(len(modelStr)), raw: modelStr},
		{id: tDateTime, dtype: dtASCII, count: uint32(len(dateStr)), value: dateOff},
		{id: tExifIFD, dtype: dtLong, count: 1, value: exifOff},
	}
	ifd0 = append(ifd0, f.extraIFD0...)
	writeIFD(&buf, ifd0, ifd1Off)

	writeIFD(&buf, []ifdEntry{
		{id: tThumbOffset, dtype: dtLong, count: 1, value: thumbOff},
		{id: tThumbLength, dtype: dtLong, count: 1, value: uint32(len(thumb))},
	}, rawOff)

	rawIFD := []ifdEntry{
		{id: tCompression, dtype: dtShort, count: 1, value: cJPEGOld},
		{id: tStripOffsets, dtype: dtLong, count: 1, value: stripOff},
		{id: tStripByteCounts, dtype: dtLong, count: 1, value: uint32(len(strip))},
	}
	if !f.noSlices {
		rawIFD = append(rawIFD, ifdEntry{id: tCR2Slice, dtype: dtShort, count: 3, value: sliceOff})
	}
	writeIFD(&buf, rawIFD, 0)

	writeIFD(&buf, []ifdEntry{
		{id: tExposureTime, dtype: dtRational, count: 1, value: expOff},
		{id: tDateTimeOriginal, dtype: dtASCII, count: uint32(len(dateStr)), value: dateOrigOff},
		{id: tMakerNote, dtype: dtUndefined, count: ifdSize(nMaker), value: makerOff},
	}, 0)

	writeIFD(&buf, []ifdEntry{
		{id: mnSensorInfo, dtype: dtShort, count: uint32(len(sensorVals)), value: sensorOff},
	}, 0)

	buf.Write(makeStr)
	buf.Write(dateStr)
	buf.Write(exposure)
	buf.Write(dateStr)
	buf.Write(sensorInfo)
	buf.Write(slices)
	buf.Write(strip)
	buf.Write(thumb)

	return buf.Bytes()
}

// writeFixture materializes the container in a temporary directory.
func writeFixture(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.CR2")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// thumbJPEG renders a small greyscale JPEG for the thumbnail IFD.
func thumbJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 6, 4))
	for i := range img.Pix {
		img.Pix[i] = byte(40 * (i % 6))
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// jpegBitWriter emits the entropy-coded segment with 0xFF byte stuffing.
type jpegBitWriter struct {
	buf []byte
	acc uint32
	n   uint
}

func (w *jpegBitWriter) write(v uint32, n uint) {
	w.acc = w.acc<<n | v&(1<<n-1)
	w.n += n
	for w.n >= 8 {
		w.n -= 8
		b := byte(w.acc >> w.n)
		w.buf = append(w.buf, b)
		if b == 0xff {
			w.buf = append(w.buf, 0x00)
		}
	}
}

func (w *jpegBitWriter) bytes() []byte {
	if w.n > 0 {
		// Pad the final byte with one bits per the JPEG convention.
		pad := 8 - w.n
		b := byte(w.acc<<pad | 1<<pad - 1)
		w.buf = append(w.buf, b)
		if b == 0xff {
			w.buf = append(w.buf, 0x00)
		}
		w.n = 0
	}
	return w.buf
}

// Fixed huffman table for the test encoder: seven difference categories,
// all with three-bit codes 000..110.
var fixtureDHTCounts = [maxHuffmanBits]byte{0, 0, 7}

// encodeLossless builds an SOF3 stream carrying the samples in stream
// order: ncomp interleaved components of the given frame width, first
// predictor, mirroring the decoder's prediction exactly.
func encodeLossless(t *testing.T, samples []uint16, width, height, ncomp, bits int) []byte {
	t.Helper()
	require.Len(t, samples, width*height*ncomp)

	var buf bytes.Buffer
	buf.Write([]byte{0xff, mSOI})

	// DHT: one DC table with categories 0..6 at three bits each.
	dht := []byte{0xff, mDHT, 0, byte(2 + 1 + maxHuffmanBits + 7), 0x00}
	dht = append(dht, fixtureDHTCounts[:]...)
	dht = append(dht, 0, 1, 2, 3, 4, 5, 6)
	buf.Write(dht)

	sof := []byte{0xff, mSOF, 0, byte(2 + 6 + 3*ncomp), byte(bits),
		byte(height >> 8), byte(height), byte(width >> 8), byte(width), byte(ncomp)}
	for i := 0; i < ncomp; i++ {
		sof = append(sof, byte(i+1), 0x11, 0)
	}
	buf.Write(sof)

	sos := []byte{0xff, mSOS, 0, byte(2 + 1 + 2*ncomp + 3), byte(ncomp)}
	for i := 0; i < ncomp; i++ {
		sos = append(sos, byte(i+1), 0x00)
	}
	sos = append(sos, 1, 0, 0) // predictor 1
	buf.Write(sos)

	w := &jpegBitWriter{}
	prev := make([][]uint16, ncomp)
	cur := make([][]uint16, ncomp)
	for i := range prev {
		prev[i] = make([]uint16, width)
		cur[i] = make([]uint16, width)
	}
	pos := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for i := 0; i < ncomp; i++ {
				s := samples[pos]
				pos++
				d := int32(s) - predict(1, bits, x, y, cur[i], prev[i])
				cur[i][x] = s
				encodeDiff(t, w, d)
			}
		}
		prev, cur = cur, prev
	}
	buf.Write(w.bytes())
	buf.Write([]byte{0xff, mEOI})
	return buf.Bytes()
}

func encodeDiff(t *testing.T, w *jpegBitWriter, d int32) {
	t.Helper()
	cat := uint(0)
	abs := d
	if abs < 0 {
		abs = -abs
	}
	for v := abs; v > 0; v >>= 1 {
		cat++
	}
	require.LessOrEqual(t, cat, uint(6), "fixture difference %d too large", d)

	w.write(uint32(cat), 3)
	if cat == 0 {
		return
	}
	if d < 0 {
		w.write(uint32(d+1<<cat-1), cat)
	} else {
		w.write(uint32(d), cat)
	}
}

// encodeLosslessFixture encodes the standard fixture sensor: two
// components of width 4, sliced stream order.
func encodeLosslessFixture(t *testing.T) []byte {
	return encodeLossless(t, fixStream(), 4, fixSensorHeight, 2, fixBits)
}
