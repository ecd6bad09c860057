package cr2

import (
	"encoding/binary"
	"io"

	"github.com/sirupsen/logrus"
)

// directory is one parsed IFD: its entries keyed by tag number, the
// order they appeared in, and the offset of the next directory in the
// chain (0 if terminal).
type directory struct {
	off   int64
	tags  map[uint16]tag
	order []uint16
	next  int64
}

func (d *directory) tag(id uint16) (tag, bool) {
	t, ok := d.tags[id]
	return t, ok
}

// firstVal is a convenient accessor for single-valued numeric tags.
func (d *directory) firstVal(id uint16) uint64 {
	return d.tags[id].firstVal()
}

// ifdReader walks IFD structures out of a CR2/TIFF container. Every read
// is bounds-checked against the file size: nothing validates the native
// path downstream, so no byte may be interpreted beyond file length.
type ifdReader struct {
	r         io.ReaderAt
	size      int64
	byteOrder binary.ByteOrder
	log       logrus.FieldLogger
}

func newIFDReader(r io.ReaderAt, size int64, log logrus.FieldLogger) (*ifdReader, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &ifdReader{r: r, size: size, log: log}

	p := make([]byte, 4)
	if _, err := r.ReadAt(p, 0); err != nil {
		return nil, FormatError("truncated header")
	}
	switch string(p) {
	case leHeader:
		d.byteOrder = binary.LittleEndian
	case beHeader:
		d.byteOrder = binary.BigEndian
	default:
		return nil, FormatError("unknown byte order")
	}
	return d, nil
}

// chain walks the linked list of directories starting at offset until a
// terminal next-offset of 0.
func (d *ifdReader) chain(offset int64) ([]*directory, error) {
	var dirs []*directory
	seen := make(map[int64]bool)

	for offset != 0 {
		if seen[offset] || len(dirs) >= maxIFDs {
			return nil, FormatError("directory chain loops")
		}
		seen[offset] = true

		dir, err := d.directory(offset)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
		offset = dir.next
	}
	return dirs, nil
}

// directory reads the IFD at offset: a 16-bit entry count, that many
// 12-byte entries and a 32-bit next-directory offset.
func (d *ifdReader) directory(offset int64) (*directory, error) {
	if offset < int64(len(leHeader)) || offset+2 > d.size {
		return nil, FormatError("directory offset out of bounds")
	}

	p := make([]byte, 2)
	if _, err := d.r.ReadAt(p, offset); err != nil {
		return nil, FormatError("truncated directory")
	}
	n := int64(d.byteOrder.Uint16(p))

	if offset+2+n*ifdLen+4 > d.size {
		return nil, FormatError("directory extends past end of file")
	}
	p = make([]byte, n*ifdLen+4)
	if _, err := d.r.ReadAt(p, offset+2); err != nil {
		return nil, FormatError("truncated directory")
	}

	dir := &directory{
		off:  offset,
		tags: make(map[uint16]tag, n),
		next: int64(d.byteOrder.Uint32(p[n*ifdLen:])),
	}
	if dir.next != 0 && (dir.next < int64(len(leHeader)) || dir.next >= d.size) {
		return nil, FormatError("next directory offset out of bounds")
	}

	for i := int64(0); i < n; i++ {
		t, ok, err := d.parseEntry(p[i*ifdLen : (i+1)*ifdLen])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, dup := dir.tags[t.id]; !dup {
			dir.order = append(dir.order, t.id)
		}
		dir.tags[t.id] = t
	}
	return dir, nil
}

// parseEntry decodes one 12-byte IFD entry, resolving out-of-line values.
// Entries with a private data type outside 1-12 are logged and skipped,
// not fatal: camera vendors use types the TIFF spec does not know.
func (d *ifdReader) parseEntry(p []byte) (tag, bool, error) {
	t := tag{
		id:       d.byteOrder.Uint16(p[0:2]),
		datatype: d.byteOrder.Uint16(p[2:4]),
		count:    d.byteOrder.Uint32(p[4:8]),
		offset:   d.byteOrder.Uint32(p[8:12]),
	}

	if t.datatype < dtByte || t.datatype > dtDouble {
		d.log.Debugf("cr2: skipping tag %d with private type %d", t.id, t.datatype)
		return tag{}, false, nil
	}

	datalen := int64(lengths[t.datatype]) * int64(t.count)
	var raw []byte
	if datalen > 4 {
		// The entry holds a pointer to the real value.
		off := int64(t.offset)
		if off < headerLen || off+datalen > d.size {
			return tag{}, false, FormatError("tag value offset out of bounds")
		}
		raw = make([]byte, datalen)
		if _, err := d.r.ReadAt(raw, off); err != nil {
			return tag{}, false, FormatError("truncated tag value")
		}
	} else {
		raw = p[8 : 8+datalen]
	}

	d.decodeValue(&t, raw)
	return t, true, nil
}

func (d *ifdReader) decodeValue(t *tag, raw []byte) {
	n := int(t.count)
	switch t.datatype {
	case dtASCII:
		t.str = cString(raw)
	case dtUndefined:
		t.raw = raw
	case dtByte, dtSByte:
		t.val = make([]uint64, n)
		for i := 0; i < n; i++ {
			t.val[i] = uint64(raw[i])
		}
	case dtShort, dtSShort:
		t.val = make([]uint64, n)
		for i := 0; i < n; i++ {
			t.val[i] = uint64(d.byteOrder.Uint16(raw[2*i : 2*(i+1)]))
		}
	case dtLong, dtSLong, dtFloat:
		t.val = make([]uint64, n)
		for i := 0; i < n; i++ {
			t.val[i] = uint64(d.byteOrder.Uint32(raw[4*i : 4*(i+1)]))
		}
	case dtRational, dtSRational:
		// Numerator in the low word, denominator in the high word.
		t.val = make([]uint64, n)
		for i := 0; i < n; i++ {
			num := d.byteOrder.Uint32(raw[8*i : 8*i+4])
			denom := d.byteOrder.Uint32(raw[8*i+4 : 8*i+8])
			t.val[i] = uint64(num) | uint64(denom)<<32
		}
	case dtDouble:
		t.val = make([]uint64, n)
		for i := 0; i < n; i++ {
			t.val[i] = d.byteOrder.Uint64(raw[8*i : 8*(i+1)])
		}
	}
}

// cString strips NULs from an ASCII tag payload.
func cString(raw []byte) string {
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return string(raw[:end])
}
