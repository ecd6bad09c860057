package cr2

import (
	"math"
	"math/big"
)

// tag is a decoded IFD entry. Numeric values are widened into val;
// rationals are packed numerator-low / denominator-high the way the
// container stores them. ASCII and undefined payloads keep their own
// fields, and offset always holds the raw value-or-offset word so that
// sub-IFD pointers (EXIF, MakerNote) stay reachable.
type tag struct {
	id       uint16
	datatype uint16
	count    uint32
	val      []uint64
	str      string
	raw      []byte
	offset   uint32
}

// firstVal returns the first numeric value of the tag, or 0.
func (t tag) firstVal() uint64 {
	if len(t.val) == 0 {
		return 0
	}
	return t.val[0]
}

// rational returns the unsigned rational at index, or nil when the
// denominator is zero.
func (t tag) rational(index int) *big.Rat {
	if len(t.val) <= index {
		return nil
	}
	u64 := t.val[index]
	num := int64(u64 & 0xFFFFFFFF)
	denom := int64(u64 >> 32)
	if denom == 0 {
		return nil
	}
	return big.NewRat(num, denom)
}

// sRational returns the signed rational at index, or nil when the
// denominator is zero.
func (t tag) sRational(index int) *big.Rat {
	if len(t.val) <= index {
		return nil
	}
	u64 := t.val[index]
	num := int32(u64 & 0xFFFFFFFF)
	denom := int32(u64 >> 32)
	if denom == 0 {
		return nil
	}
	return big.NewRat(int64(num), int64(denom))
}

// value materializes the tag into the representation stored in an
// ExifMap. Single-element tags collapse to a scalar.
func (t tag) value() interface{} {
	switch t.datatype {
	case dtASCII:
		return t.str
	case dtUndefined:
		return t.raw
	case dtByte:
		return scalarize(t.val, func(v uint64) interface{} { return uint8(v) })
	case dtShort:
		return scalarize(t.val, func(v uint64) interface{} { return uint16(v) })
	case dtLong:
		return scalarize(t.val, func(v uint64) interface{} { return uint32(v) })
	case dtSByte:
		return scalarize(t.val, func(v uint64) interface{} { return int8(v) })
	case dtSShort:
		return scalarize(t.val, func(v uint64) interface{} { return int16(v) })
	case dtSLong:
		return scalarize(t.val, func(v uint64) interface{} { return int32(v) })
	case dtFloat:
		return scalarize(t.val, func(v uint64) interface{} { return math.Float32frombits(uint32(v)) })
	case dtDouble:
		return scalarize(t.val, func(v uint64) interface{} { return math.Float64frombits(v) })
	case dtRational:
		return scalarizeRat(t, tag.rational)
	case dtSRational:
		return scalarizeRat(t, tag.sRational)
	default:
		return t.val
	}
}

func scalarize(val []uint64, conv func(uint64) interface{}) interface{} {
	if len(val) == 1 {
		return conv(val[0])
	}
	out := make([]interface{}, len(val))
	for i, v := range val {
		out[i] = conv(v)
	}
	return out
}

func scalarizeRat(t tag, conv func(tag, int) *big.Rat) interface{} {
	if len(t.val) == 1 {
		return ratOrNaN(conv(t, 0))
	}
	out := make([]interface{}, len(t.val))
	for i := range t.val {
		out[i] = ratOrNaN(conv(t, i))
	}
	return out
}

// ratOrNaN mirrors the container convention for zero denominators.
func ratOrNaN(r *big.Rat) interface{} {
	if r == nil {
		return "nan"
	}
	return r
}
