package cr2

// RawImage is a single-channel 2-D array of unsigned 16-bit samples at
// sensor resolution (raw Bayer data, or luminance for the embedded
// JPEG path). Pix is in row-major order, Pix[y*Width+x].
type RawImage struct {
	Pix    []uint16
	Width  int
	Height int
}

// At returns the sample at (x, y).
func (m *RawImage) At(x, y int) uint16 {
	return m.Pix[y*m.Width+x]
}

// crop returns the sub-image [left,right) x [top,bottom).
func (m *RawImage) crop(left, top, right, bottom int) (*RawImage, error) {
	if left < 0 || top < 0 || right > m.Width || bottom > m.Height || right <= left || bottom <= top {
		return nil, FormatError("decoded image smaller than active area")
	}
	w, h := right-left, bottom-top
	out := &RawImage{Pix: make([]uint16, w*h), Width: w, Height: h}
	for y := 0; y < h; y++ {
		src := m.Pix[(top+y)*m.Width+left : (top+y)*m.Width+right]
		copy(out.Pix[y*w:(y+1)*w], src)
	}
	return out, nil
}

// sliceInfo describes the CR2 vertical slicing of the raw strip
// (tag 50752): count slices of size columns, then one of lastSize.
type sliceInfo struct {
	count    int
	size     int
	lastSize int
}

// widths returns the per-slice column counts for a sensor of the given
// total width. An absent slice table means a single full-width slice.
func (s sliceInfo) widths(total int) []int {
	if s.count <= 0 {
		return []int{total}
	}
	w := make([]int, 0, s.count+1)
	for i := 0; i < s.count; i++ {
		w = append(w, s.size)
	}
	return append(w, s.lastSize)
}

// decodeEmbeddedRaw extracts and unpacks the sensor data strip of the
// raw IFD without an external process.
func (c *CR2Image) decodeEmbeddedRaw() (*RawImage, error) {
	dir := c.raw

	offTag, ok := dir.tag(tStripOffsets)
	if !ok {
		return nil, FormatError("raw directory has no strip offset")
	}
	cntTag, ok := dir.tag(tStripByteCounts)
	if !ok {
		return nil, FormatError("raw directory has no strip byte count")
	}
	offset := int64(offTag.firstVal())
	count := int64(cntTag.firstVal())
	if offset < headerLen || count <= 0 || offset+count > c.size {
		return nil, FormatError("raw strip out of bounds")
	}

	data := make([]byte, count)
	if _, err := c.f.ReadAt(data, offset); err != nil {
		return nil, FormatError("truncated raw strip")
	}

	compression := dir.firstVal(tCompression)
	switch compression {
	case 0, cJPEGOld:
		return c.decodeLossless(data)
	case cNone:
		return c.decodePacked(data)
	default:
		return nil, UnsupportedError("compression scheme " + itoa(int(compression)))
	}
}

// decodePacked unpacks an uncompressed raw strip: plain 8-bit samples
// or the packed little-endian 12/14-bit layouts this camera family uses.
func (c *CR2Image) decodePacked(data []byte) (*RawImage, error) {
	w := int(c.raw.firstVal(tImageWidth))
	h := int(c.raw.firstVal(tImageLength))
	if w <= 0 || h <= 0 {
		return nil, FormatError("raw directory has no dimensions")
	}
	bits := int(c.raw.firstVal(tBitsPerSample))
	if bits == 0 {
		bits = 16
	}

	pix := make([]uint16, w*h)
	switch bits {
	case 8:
		if len(data) < len(pix) {
			return nil, &ShortReadError{Want: len(pix), Got: len(data)}
		}
		for i := range pix {
			pix[i] = uint16(data[i])
		}
	case 12, 14:
		if err := unpackBitsLE(data, pix, uint(bits)); err != nil {
			return nil, err
		}
	case 16:
		if len(data) < 2*len(pix) {
			return nil, &ShortReadError{Want: 2 * len(pix), Got: len(data)}
		}
		for i := range pix {
			pix[i] = uint16(data[2*i]) | uint16(data[2*i+1])<<8
		}
	default:
		return nil, UnsupportedError(itoa(bits) + " bits per sample")
	}
	return &RawImage{Pix: pix, Width: w, Height: h}, nil
}

// unpackBitsLE reads len(pix) samples of the given width from a
// little-endian packed bit stream (least significant bits first).
func unpackBitsLE(data []byte, pix []uint16, bits uint) error {
	var acc uint32
	var n uint
	mask := uint32(1)<<bits - 1
	pos := 0

	for i := range pix {
		for n < bits {
			if pos >= len(data) {
				want := (len(pix)*int(bits) + 7) / 8
				return &ShortReadError{Want: want, Got: len(data)}
			}
			acc |= uint32(data[pos]) << n
			pos++
			n += 8
		}
		pix[i] = uint16(acc & mask)
		acc >>= bits
		n -= bits
	}
	return nil
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var b [20]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}
