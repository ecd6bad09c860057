package fits

// Rice coding of 16-bit tiles for the tiled image compression
// convention (ZCMPTYPE = 'RICE_1', BYTEPIX = 2, BLOCKSIZE = 32).
//
// The first sample is stored verbatim. Every following sample becomes a
// difference against its predecessor, folded to non-negative with the
// usual zig-zag map, and the mapped values are coded in blocks of 32:
// a 5-bit selector per block picks an all-zero shortcut, a Golomb-Rice
// split at one of 26 widths, or a verbatim escape of 17 bits per value
// (a mapped 16-bit difference needs up to 17 bits).

const (
	riceBlock  = 32
	riceFsBits = 5
	riceFsMax  = 25

	riceCodeZero   = 0
	riceCodeEscape = riceFsMax + 2
	riceEscapeBits = 17
)

type bitWriter struct {
	buf []byte
	acc uint64
	n   uint
}

func (w *bitWriter) writeBits(v uint64, n uint) {
	w.acc = w.acc<<n | v&(1<<n-1)
	w.n += n
	for w.n >= 8 {
		w.n -= 8
		w.buf = append(w.buf, byte(w.acc>>w.n))
	}
}

// writeUnary emits q zero bits and a terminating one.
func (w *bitWriter) writeUnary(q uint32) {
	for q >= 32 {
		w.writeBits(0, 32)
		q -= 32
	}
	w.writeBits(1, uint(q)+1)
}

func (w *bitWriter) bytes() []byte {
	if w.n > 0 {
		w.buf = append(w.buf, byte(w.acc<<(8-w.n)))
		w.n = 0
	}
	return w.buf
}

type bitReader struct {
	data []byte
	pos  uint // bit position
}

func (r *bitReader) readBits(n uint) (uint64, error) {
	var v uint64
	for i := uint(0); i < n; i++ {
		if r.pos >= uint(len(r.data))*8 {
			return 0, errShortStream
		}
		b := r.data[r.pos/8] >> (7 - r.pos%8) & 1
		v = v<<1 | uint64(b)
		r.pos++
	}
	return v, nil
}

func (r *bitReader) readUnary() (uint32, error) {
	var q uint32
	for {
		b, err := r.readBits(1)
		if err != nil {
			return 0, err
		}
		if b == 1 {
			return q, nil
		}
		q++
	}
}

// mapDiff folds a signed difference into a non-negative code.
func mapDiff(d int32) uint32 {
	if d >= 0 {
		return uint32(2 * d)
	}
	return uint32(-2*d - 1)
}

func unmapDiff(v uint32) int32 {
	if v&1 == 0 {
		return int32(v / 2)
	}
	return -int32(v+1) / 2
}

// riceEncode compresses one tile of samples.
func riceEncode(tile []uint16) []byte {
	w := &bitWriter{}
	if len(tile) == 0 {
		return w.bytes()
	}
	w.writeBits(uint64(tile[0]), 16)

	mapped := make([]uint32, len(tile)-1)
	last := tile[0]
	for i := 1; i < len(tile); i++ {
		mapped[i-1] = mapDiff(int32(tile[i]) - int32(last))
		last = tile[i]
	}

	for start := 0; start < len(mapped); start += riceBlock {
		end := start + riceBlock
		if end > len(mapped) {
			end = len(mapped)
		}
		encodeBlock(w, mapped[start:end])
	}
	return w.bytes()
}

// encodeBlock picks the cheapest representation for one block of mapped
// differences and emits it.
func encodeBlock(w *bitWriter, block []uint32) {
	allZero := true
	for _, v := range block {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		w.writeBits(riceCodeZero, riceFsBits)
		return
	}

	bestFs, bestCost := -1, len(block)*riceEscapeBits
	for fs := 0; fs <= riceFsMax; fs++ {
		cost := 0
		for _, v := range block {
			cost += int(v>>uint(fs)) + 1 + fs
			if cost >= bestCost {
				break
			}
		}
		if cost < bestCost {
			bestFs, bestCost = fs, cost
		}
	}

	if bestFs < 0 {
		w.writeBits(riceCodeEscape, riceFsBits)
		for _, v := range block {
			w.writeBits(uint64(v), riceEscapeBits)
		}
		return
	}
	w.writeBits(uint64(bestFs)+1, riceFsBits)
	for _, v := range block {
		w.writeUnary(v >> uint(bestFs))
		if bestFs > 0 {
			w.writeBits(uint64(v), uint(bestFs))
		}
	}
}

type fitsError string

func (e fitsError) Error() string { return "fits: " + string(e) }

const errShortStream = fitsError("compressed stream truncated")

// riceDecode expands a compressed tile back into n samples.
func riceDecode(data []byte, n int) ([]uint16, error) {
	out := make([]uint16, n)
	if n == 0 {
		return out, nil
	}
	r := &bitReader{data: data}

	first, err := r.readBits(16)
	if err != nil {
		return nil, err
	}
	out[0] = uint16(first)

	mapped := make([]uint32, n-1)
	for start := 0; start < len(mapped); start += riceBlock {
		end := start + riceBlock
		if end > len(mapped) {
			end = len(mapped)
		}
		if err := decodeBlock(r, mapped[start:end]); err != nil {
			return nil, err
		}
	}

	last := int32(out[0])
	for i, v := range mapped {
		last += unmapDiff(v)
		out[i+1] = uint16(last)
	}
	return out, nil
}

func decodeBlock(r *bitReader, block []uint32) error {
	code, err := r.readBits(riceFsBits)
	if err != nil {
		return err
	}
	switch {
	case code == riceCodeZero:
		for i := range block {
			block[i] = 0
		}
	case code == riceCodeEscape:
		for i := range block {
			v, err := r.readBits(riceEscapeBits)
			if err != nil {
				return err
			}
			block[i] = uint32(v)
		}
	case code <= riceFsMax+1:
		fs := uint(code - 1)
		for i := range block {
			q, err := r.readUnary()
			if err != nil {
				return err
			}
			rem, err := r.readBits(fs)
			if err != nil {
				return err
			}
			block[i] = q<<fs | uint32(rem)
		}
	default:
		return fitsError("invalid block selector in compressed stream")
	}
	return nil
}
