// Package fits writes single-HDU FITS files holding 16-bit images,
// plainly or tile-compressed with the Rice algorithm. The subset
// implemented here follows the FITS 4.0 standard: 80-character header
// cards grouped in 2880-byte blocks, big-endian data, and the tiled
// image compression convention for the compressed form.
package fits

import (
	"fmt"
	"strings"
)

const (
	cardLen  = 80
	blockLen = 2880
)

// Card is one header keyword record. Value types map to the fixed-format
// notation of the standard: bool to T/F, integers and floats right
// justified in the value field, strings quoted. A nil Value produces a
// commentary card (keyword and comment only).
type Card struct {
	Keyword string
	Value   interface{}
	Comment string
}

// format renders the card into exactly 80 bytes.
func (c Card) format() ([]byte, error) {
	kw := strings.ToUpper(c.Keyword)
	if len(kw) > 8 {
		return nil, fmt.Errorf("fits: keyword %q longer than 8 characters", c.Keyword)
	}
	for i := 0; i < len(kw); i++ {
		b := kw[i]
		if !(b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-' || b == '_') {
			return nil, fmt.Errorf("fits: invalid character in keyword %q", c.Keyword)
		}
	}

	var s string
	switch v := c.Value.(type) {
	case nil:
		s = fmt.Sprintf("%-8s%s", kw, c.Comment)
	case bool:
		t := "F"
		if v {
			t = "T"
		}
		s = fmt.Sprintf("%-8s= %20s", kw, t)
	case int:
		s = fmt.Sprintf("%-8s= %20d", kw, v)
	case int64:
		s = fmt.Sprintf("%-8s= %20d", kw, v)
	case float64:
		s = fmt.Sprintf("%-8s= %20s", kw, formatFloat(v))
	case string:
		// Fixed format wants the closing quote at column 20 or later,
		// so short values are blank padded inside the quotes.
		q := "'" + fmt.Sprintf("%-8s", strings.ReplaceAll(v, "'", "''")) + "'"
		if len(q) > cardLen-10 {
			return nil, fmt.Errorf("fits: string value for %s too long", kw)
		}
		s = fmt.Sprintf("%-8s= %s", kw, q)
	default:
		return nil, fmt.Errorf("fits: unsupported value type %T for %s", c.Value, kw)
	}

	if c.Value != nil && c.Comment != "" {
		s += " / " + c.Comment
	}
	if len(s) > cardLen {
		s = s[:cardLen]
	}
	out := make([]byte, cardLen)
	copy(out, s)
	for i := len(s); i < cardLen; i++ {
		out[i] = ' '
	}
	return out, nil
}

// formatFloat renders a float in the exponent-free form when it is
// exact, otherwise with an uppercase exponent as the standard requires.
func formatFloat(v float64) string {
	s := fmt.Sprintf("%G", v)
	if !strings.ContainsAny(s, ".E") {
		s += "."
	}
	return s
}

// headerBlock assembles formatted cards plus the END card and pads the
// result to a multiple of the FITS block size.
func headerBlock(cards []Card) ([]byte, error) {
	var buf []byte
	for _, c := range cards {
		b, err := c.format()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	end, _ := Card{Keyword: "END"}.format()
	buf = append(buf, end...)
	return padBlock(buf, ' '), nil
}

// padBlock extends buf with fill bytes up to the next 2880 boundary.
func padBlock(buf []byte, fill byte) []byte {
	rem := len(buf) % blockLen
	if rem == 0 {
		return buf
	}
	pad := make([]byte, blockLen-rem)
	if fill != 0 {
		for i := range pad {
			pad[i] = fill
		}
	}
	return append(buf, pad...)
}
