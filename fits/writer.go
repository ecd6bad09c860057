package fits

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// creator is recorded in the SWCREATE card of every file written here.
const creator = "crtwo2fits"

// Image is a 16-bit greyscale image destined for a FITS primary HDU.
// Pix is row-major, Pix[y*Width+x]; rows are stored in the order given.
type Image struct {
	Width  int
	Height int
	Pix    []uint16
}

// Write stores img at path, either as a plain 16-bit primary HDU or as
// a Rice tile-compressed binary table (one tile per row). Extra header
// cards follow the mandatory ones. The file is written to a temporary
// sibling and renamed into place, so a crash never leaves a partial
// file under the final name.
func Write(path string, img *Image, cards []Card, compressed bool) error {
	if img.Width <= 0 || img.Height <= 0 || len(img.Pix) != img.Width*img.Height {
		return fitsError("image dimensions do not match pixel count")
	}

	var buf []byte
	var err error
	if compressed {
		buf, err = encodeCompressed(img, cards)
	} else {
		buf, err = encodePlain(img, cards)
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fits-*")
	if err != nil {
		return errors.Wrap(err, "fits: create temporary file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fits: write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "fits: sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "fits: close")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrap(err, "fits: chmod")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "fits: rename into place")
}

// stored returns the physical value for a pixel under the unsigned
// 16-bit convention (BZERO 32768): the sign bit is flipped and the
// result interpreted as a two's-complement int16.
func stored(v uint16) uint16 { return v ^ 0x8000 }

func encodePlain(img *Image, cards []Card) ([]byte, error) {
	hdr := []Card{
		{"SIMPLE", true, "conforms to FITS standard"},
		{"BITPIX", 16, "16-bit signed integers"},
		{"NAXIS", 2, ""},
		{"NAXIS1", img.Width, ""},
		{"NAXIS2", img.Height, ""},
		{"BZERO", 32768, "unsigned 16-bit data"},
		{"BSCALE", 1, ""},
	}
	hdr = append(hdr, cards...)
	hdr = append(hdr, Card{"SWCREATE", creator, "software that created this file"})

	buf, err := headerBlock(hdr)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 2*len(img.Pix))
	for i, v := range img.Pix {
		binary.BigEndian.PutUint16(data[2*i:], stored(v))
	}
	return padBlock(append(buf, data...), 0), nil
}

func encodeCompressed(img *Image, cards []Card) ([]byte, error) {
	primary, err := headerBlock([]Card{
		{"SIMPLE", true, "conforms to FITS standard"},
		{"BITPIX", 8, ""},
		{"NAXIS", 0, ""},
		{"EXTEND", true, "compressed image in first extension"},
	})
	if err != nil {
		return nil, err
	}

	// One tile per image row, compressed independently. The table has
	// one variable-length column holding the compressed byte stream of
	// each tile.
	tiles := make([][]byte, img.Height)
	row := make([]uint16, img.Width)
	maxLen, heapLen := 0, 0
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			row[x] = stored(img.Pix[y*img.Width+x])
		}
		tiles[y] = riceEncode(row)
		if len(tiles[y]) > maxLen {
			maxLen = len(tiles[y])
		}
		heapLen += len(tiles[y])
	}

	hdr := []Card{
		{"XTENSION", "BINTABLE", "binary table extension"},
		{"BITPIX", 8, ""},
		{"NAXIS", 2, ""},
		{"NAXIS1", 8, "width of table row in bytes"},
		{"NAXIS2", img.Height, "one row per tile"},
		{"PCOUNT", heapLen, "size of heap area"},
		{"GCOUNT", 1, ""},
		{"TFIELDS", 1, ""},
		{"TTYPE1", "COMPRESSED_DATA", ""},
		{"TFORM1", fmt.Sprintf("1PB(%d)", maxLen), "variable-length byte array"},
		{"BZERO", 32768, "unsigned 16-bit data"},
		{"BSCALE", 1, ""},
		{"ZIMAGE", true, "extension contains a compressed image"},
		{"ZCMPTYPE", "RICE_1", "compression algorithm"},
		{"ZBITPIX", 16, "data type of original image"},
		{"ZNAXIS", 2, ""},
		{"ZNAXIS1", img.Width, ""},
		{"ZNAXIS2", img.Height, ""},
		{"ZTILE1", img.Width, "tile width"},
		{"ZTILE2", 1, "tile height"},
		{"ZNAME1", "BLOCKSIZE", ""},
		{"ZVAL1", riceBlock, "samples per coding block"},
		{"ZNAME2", "BYTEPIX", ""},
		{"ZVAL2", 2, "bytes per original sample"},
	}
	hdr = append(hdr, cards...)
	hdr = append(hdr, Card{"SWCREATE", creator, "software that created this file"})

	ext, err := headerBlock(hdr)
	if err != nil {
		return nil, err
	}

	// Descriptor table, then the heap, padded together.
	data := make([]byte, 8*img.Height, 8*img.Height+heapLen)
	off := 0
	for i, t := range tiles {
		binary.BigEndian.PutUint32(data[8*i:], uint32(len(t)))
		binary.BigEndian.PutUint32(data[8*i+4:], uint32(off))
		off += len(t)
	}
	for _, t := range tiles {
		data = append(data, t...)
	}

	out := append(primary, ext...)
	return padBlock(append(out, data...), 0), nil
}
