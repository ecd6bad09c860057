package cr2

// Lossless JPEG (ITU T.81 process 14) decoder for the raw sensor strip.
// The stream is a regular JPEG container restricted to SOF3: huffman
// coded differences against a spatial predictor, no DCT, no
// quantization. Canon splits the sensor into vertical slices that are
// concatenated in the entropy stream and must be reassembled afterwards.

// huffKey identifies one huffman code: its bit length and the code value
// itself, left-aligned reads accumulated one bit at a time.
type huffKey struct {
	length uint8
	code   uint16
}

type huffTable struct {
	codes  map[huffKey]uint8
	maxLen uint8
}

// buildHuffTable derives the canonical code assignment from the DHT
// counts-per-length and symbol list.
func buildHuffTable(counts []byte, symbols []byte) (*huffTable, error) {
	h := &huffTable{codes: make(map[huffKey]uint8)}
	code := uint16(0)
	k := 0
	for length := uint8(1); length <= maxHuffmanBits; length++ {
		for i := byte(0); i < counts[length-1]; i++ {
			if k >= len(symbols) {
				return nil, FormatError("huffman table symbol underrun")
			}
			h.codes[huffKey{length, code}] = symbols[k]
			h.maxLen = length
			code++
			k++
		}
		code <<= 1
	}
	return h, nil
}

// decodeSymbol reads bits one at a time until the accumulated prefix
// matches a code in the table.
func (h *huffTable) decodeSymbol(r *jpegBitReader) (uint8, error) {
	var code uint16
	for length := uint8(1); length <= h.maxLen; length++ {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		code = code<<1 | uint16(b)
		if s, ok := h.codes[huffKey{length, code}]; ok {
			return s, nil
		}
	}
	return 0, FormatError("invalid huffman code in raw stream")
}

// jpegBitReader reads the entropy-coded segment MSB first, undoing the
// 0xFF 0x00 byte stuffing. A marker inside the segment ends the stream;
// reads past it pad with zero bits so that the final partial byte of a
// well-formed stream still decodes.
type jpegBitReader struct {
	data    []byte
	pos     int
	padding int
}

func (r *jpegBitReader) bit() (uint32, error) {
	if r.pos >= r.bitLen() {
		if r.padding >= 64 {
			return 0, &ShortReadError{Want: r.pos/8 + 1, Got: len(r.data)}
		}
		r.padding++
		return 0, nil
	}
	b := r.data[r.pos/8]
	v := uint32(b>>(7-uint(r.pos%8))) & 1
	r.pos++
	return v, nil
}

func (r *jpegBitReader) bits(n int) (uint32, error) {
	var v uint32
	for i := 0; i < n; i++ {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

func (r *jpegBitReader) bitLen() int { return len(r.data) * 8 }

// unstuff strips the 0xFF 0x00 sequences from an entropy-coded segment
// and returns the payload up to the next marker.
func unstuff(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == 0xff {
			if i+1 < len(data) && data[i+1] == 0x00 {
				out = append(out, 0xff)
				i++
				continue
			}
			// A real marker terminates the segment.
			break
		}
		out = append(out, data[i])
	}
	return out
}

type jpegFrame struct {
	bits   int
	height int
	width  int
	comps  []jpegComponent
	psv    int
	scan   []byte
}

type jpegComponent struct {
	id    byte
	table byte
}

// parseLossless walks the JPEG marker segments of the raw strip up to
// the start of the entropy-coded scan.
func parseLossless(data []byte) (*jpegFrame, map[byte]*huffTable, error) {
	if len(data) < 2 || data[0] != 0xff || data[1] != mSOI {
		return nil, nil, FormatError("raw strip is not a JPEG stream")
	}

	f := &jpegFrame{}
	tables := make(map[byte]*huffTable)
	pos := 2

	for {
		if pos+2 > len(data) {
			return nil, nil, &ShortReadError{Want: pos + 2, Got: len(data)}
		}
		if data[pos] != 0xff {
			return nil, nil, FormatError("misaligned JPEG marker")
		}
		marker := data[pos+1]
		if marker == mEOI {
			return nil, nil, FormatError("JPEG stream has no scan")
		}
		if pos+4 > len(data) {
			return nil, nil, &ShortReadError{Want: pos + 4, Got: len(data)}
		}
		seglen := int(data[pos+2])<<8 | int(data[pos+3])
		if seglen < 2 || pos+2+seglen > len(data) {
			return nil, nil, FormatError("JPEG segment extends past end of strip")
		}
		seg := data[pos+4 : pos+2+seglen]
		pos += 2 + seglen

		switch marker {
		case mDHT:
			if err := parseDHT(seg, tables); err != nil {
				return nil, nil, err
			}
		case mSOF:
			if err := parseSOF3(seg, f); err != nil {
				return nil, nil, err
			}
		case mSOS:
			if err := parseSOS(seg, f); err != nil {
				return nil, nil, err
			}
			f.scan = data[pos:]
			return f, tables, nil
		default:
			// APPn / COM and friends carry nothing we need.
		}
	}
}

func parseDHT(seg []byte, tables map[byte]*huffTable) error {
	for len(seg) > 0 {
		if len(seg) < 1+maxHuffmanBits {
			return FormatError("truncated huffman table")
		}
		id := seg[0] & 0x0f
		counts := seg[1 : 1+maxHuffmanBits]
		total := 0
		for _, c := range counts {
			total += int(c)
		}
		if len(seg) < 1+maxHuffmanBits+total {
			return FormatError("truncated huffman table")
		}
		t, err := buildHuffTable(counts, seg[1+maxHuffmanBits:1+maxHuffmanBits+total])
		if err != nil {
			return err
		}
		tables[id] = t
		seg = seg[1+maxHuffmanBits+total:]
	}
	return nil
}

func parseSOF3(seg []byte, f *jpegFrame) error {
	if len(seg) < 6 {
		return FormatError("truncated frame header")
	}
	f.bits = int(seg[0])
	f.height = int(seg[1])<<8 | int(seg[2])
	f.width = int(seg[3])<<8 | int(seg[4])
	ncomp := int(seg[5])
	if f.bits < 2 || f.bits > 16 {
		return UnsupportedError(itoa(f.bits) + " bit lossless precision")
	}
	if ncomp < 1 || len(seg) < 6+3*ncomp {
		return FormatError("truncated frame header")
	}
	f.comps = make([]jpegComponent, ncomp)
	for i := 0; i < ncomp; i++ {
		f.comps[i].id = seg[6+3*i]
	}
	return nil
}

func parseSOS(seg []byte, f *jpegFrame) error {
	if len(seg) < 1 {
		return FormatError("truncated scan header")
	}
	ns := int(seg[0])
	if ns != len(f.comps) || len(seg) < 1+2*ns+3 {
		return FormatError("scan header does not match frame")
	}
	for i := 0; i < ns; i++ {
		cs := seg[1+2*i]
		td := seg[2+2*i] >> 4
		found := false
		for j := range f.comps {
			if f.comps[j].id == cs {
				f.comps[j].table = td
				found = true
			}
		}
		if !found {
			return FormatError("scan selects unknown component")
		}
	}
	// Ss holds the predictor selection value for a lossless scan.
	f.psv = int(seg[1+2*ns])
	return nil
}

// decodeLossless decodes the raw strip into a sensor-resolution image,
// reassembling the vertical slices.
func (c *CR2Image) decodeLossless(data []byte) (*RawImage, error) {
	f, tables, err := parseLossless(data)
	if err != nil {
		return nil, err
	}
	flat, err := decodeScan(f, tables)
	if err != nil {
		return nil, err
	}

	width := f.width * len(f.comps)
	height := f.height

	var slices sliceInfo
	if t, ok := c.raw.tag(tCR2Slice); ok && len(t.val) >= 3 {
		slices = sliceInfo{
			count:    int(t.val[0]),
			size:     int(t.val[1]),
			lastSize: int(t.val[2]),
		}
	}
	return assembleSlices(flat, width, height, slices)
}

// decodeScan runs the entropy decoder over the scan, producing samples
// in stream order: rows of interleaved components.
func decodeScan(f *jpegFrame, tables map[byte]*huffTable) ([]uint16, error) {
	ncomp := len(f.comps)
	if ncomp == 0 {
		return nil, FormatError("JPEG stream has no frame")
	}
	for _, comp := range f.comps {
		if tables[comp.table] == nil {
			return nil, FormatError("scan references missing huffman table")
		}
	}
	if f.psv < 1 || f.psv > 7 {
		return nil, UnsupportedError("predictor " + itoa(f.psv))
	}

	r := &jpegBitReader{data: unstuff(f.scan)}
	flat := make([]uint16, f.height*f.width*ncomp)

	// One current and one previous row per component, for the
	// two-dimensional predictors.
	prev := make([][]uint16, ncomp)
	cur := make([][]uint16, ncomp)
	for i := range prev {
		prev[i] = make([]uint16, f.width)
		cur[i] = make([]uint16, f.width)
	}

	pos := 0
	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			for i, comp := range f.comps {
				diff, err := decodeDiff(r, tables[comp.table])
				if err != nil {
					return nil, err
				}
				pred := predict(f.psv, f.bits, x, y, cur[i], prev[i])
				v := uint16(pred + diff)
				cur[i][x] = v
				flat[pos] = v
				pos++
			}
		}
		prev, cur = cur, prev
	}
	return flat, nil
}

// decodeDiff reads one huffman-coded difference: the symbol is the bit
// category, followed by that many raw bits. A leading zero bit in the
// raw value means the difference is negative.
func decodeDiff(r *jpegBitReader, t *huffTable) (int32, error) {
	ssss, err := t.decodeSymbol(r)
	if err != nil {
		return 0, err
	}
	switch {
	case ssss == 0:
		return 0, nil
	case ssss == 16:
		return 32768, nil
	case ssss > 16:
		return 0, FormatError("difference category out of range")
	}
	v, err := r.bits(int(ssss))
	if err != nil {
		return 0, err
	}
	if v < 1<<(ssss-1) {
		return int32(v) - (1 << ssss) + 1, nil
	}
	return int32(v), nil
}

// predict computes the prediction for the sample at (x, y) of one
// component. The first sample of the image seeds at half scale; the
// first row and first column fall back to the one-neighbour cases.
func predict(psv, bits, x, y int, cur, prev []uint16) int32 {
	switch {
	case x == 0 && y == 0:
		return 1 << (bits - 1)
	case y == 0:
		return int32(cur[x-1])
	case x == 0:
		return int32(prev[x])
	}
	ra := int32(cur[x-1])
	rb := int32(prev[x])
	rc := int32(prev[x-1])
	switch psv {
	case 1:
		return ra
	case 2:
		return rb
	case 3:
		return rc
	case 4:
		return ra + rb - rc
	case 5:
		return ra + (rb-rc)/2
	case 6:
		return rb + (ra-rc)/2
	default: // 7
		return (ra + rb) / 2
	}
}

// assembleSlices rearranges the stream-order samples into sensor
// layout. The entropy stream holds each vertical slice contiguously,
// itself in row-major order; an empty slice table means the frame is a
// single slice and the stream is already in place.
func assembleSlices(flat []uint16, width, height int, s sliceInfo) (*RawImage, error) {
	if len(flat) != width*height {
		return nil, FormatError("decoded sample count does not match frame")
	}
	widths := s.widths(width)
	total := 0
	for _, sw := range widths {
		if sw <= 0 {
			return nil, FormatError("invalid slice table")
		}
		total += sw
	}
	if total != width {
		return nil, FormatError("slice table does not cover frame width")
	}
	if len(widths) == 1 {
		return &RawImage{Pix: flat, Width: width, Height: height}, nil
	}

	out := make([]uint16, width*height)
	pos := 0
	col := 0
	for _, sw := range widths {
		for y := 0; y < height; y++ {
			copy(out[y*width+col:y*width+col+sw], flat[pos:pos+sw])
			pos += sw
		}
		col += sw
	}
	return &RawImage{Pix: out, Width: width, Height: height}, nil
}
