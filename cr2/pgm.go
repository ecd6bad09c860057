package cr2

import (
	"bufio"
	"io"
)

// decodePGM parses a Netpbm greymap, the interchange format the
// external raw decoder emits. Both the binary (P5) and plain (P2)
// variants are accepted; binary samples over one byte are big endian
// per the Netpbm convention.
func decodePGM(r io.Reader) (*RawImage, error) {
	br := bufio.NewReader(r)

	magic, err := pgmToken(br)
	if err != nil {
		return nil, err
	}
	if magic != "P5" && magic != "P2" {
		return nil, FormatError("not a PGM greymap")
	}

	width, err := pgmInt(br)
	if err != nil {
		return nil, err
	}
	height, err := pgmInt(br)
	if err != nil {
		return nil, err
	}
	maxval, err := pgmInt(br)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, FormatError("PGM has no dimensions")
	}
	if maxval <= 0 || maxval > 65535 {
		return nil, FormatError("PGM maxval out of range")
	}

	img := &RawImage{Pix: make([]uint16, width*height), Width: width, Height: height}
	if magic == "P2" {
		for i := range img.Pix {
			v, err := pgmInt(br)
			if err != nil {
				return nil, err
			}
			if v < 0 || v > maxval {
				return nil, FormatError("PGM sample exceeds maxval")
			}
			img.Pix[i] = uint16(v)
		}
		return img, nil
	}

	bytesPer := 1
	if maxval > 255 {
		bytesPer = 2
	}
	data := make([]byte, width*height*bytesPer)
	if n, err := io.ReadFull(br, data); err != nil {
		return nil, &ShortReadError{Want: len(data), Got: n}
	}
	if bytesPer == 1 {
		for i := range img.Pix {
			img.Pix[i] = uint16(data[i])
		}
	} else {
		for i := range img.Pix {
			img.Pix[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
		}
	}
	return img, nil
}

// pgmToken reads the next whitespace-delimited token, skipping
// '#' comments that run to end of line.
func pgmToken(br *bufio.Reader) (string, error) {
	var tok []byte
	inComment := false
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			return "", FormatError("truncated PGM header")
		}
		switch {
		case inComment:
			if b == '\n' {
				inComment = false
			}
		case b == '#':
			if len(tok) > 0 {
				return string(tok), br.UnreadByte()
			}
			inComment = true
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, b)
		}
	}
}

func pgmInt(br *bufio.Reader) (int, error) {
	tok, err := pgmToken(br)
	if err != nil {
		return 0, err
	}
	v := 0
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return 0, FormatError("malformed PGM header field")
		}
		v = v*10 + int(tok[i]-'0')
		if v > 1<<30 {
			return 0, FormatError("PGM header field overflows")
		}
	}
	return v, nil
}
