package cr2

import (
	"bytes"
	"context"
	"image/color"
	"image/jpeg"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Config carries the decode-time collaborators of a CR2Image. The zero
// value uses the built-in raw decoder only and the process-wide logger.
type Config struct {
	// External, when set, is preferred over the built-in decoder for
	// the raw sensor data.
	External *ExternalDecoder

	Logger logrus.FieldLogger
}

// CR2Image is an open CR2 file: its directory chain and metadata are
// parsed eagerly, pixel data lazily through Load and Preview.
type CR2Image struct {
	path string
	f    *os.File
	size int64

	rd   *ifdReader
	dirs []*directory
	raw  *directory

	exif      *ExifMap
	sensor    SensorInfo
	hasSensor bool

	external *ExternalDecoder
	log      logrus.FieldLogger
}

// Open parses the container structure of the CR2 file at path. The
// file stays open for the lifetime of the image; callers own Close.
func Open(path string, cfg *Config) (*CR2Image, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c := &CR2Image{
		path:     path,
		f:        f,
		exif:     newExifMap(),
		external: cfg.External,
		log:      log.WithField("file", path),
	}
	if err := c.parse(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *CR2Image) parse() error {
	fi, err := c.f.Stat()
	if err != nil {
		return err
	}
	c.size = fi.Size()
	if c.size < headerLen {
		return FormatError("file shorter than header")
	}

	hdr := make([]byte, headerLen)
	if _, err := c.f.ReadAt(hdr, 0); err != nil {
		return FormatError("truncated header")
	}

	c.rd, err = newIFDReader(c.f, c.size, c.log)
	if err != nil {
		return err
	}

	// The CR2 extension follows the TIFF header: the "CR" marker, a
	// major/minor version and a direct pointer to the raw directory.
	if string(hdr[8:10]) != cr2Magic {
		return FormatError("missing CR2 marker")
	}
	if hdr[10] != 2 {
		return UnsupportedError("CR2 version " + itoa(int(hdr[10])))
	}
	ifd0Offset := int64(c.rd.byteOrder.Uint32(hdr[4:8]))
	rawOffset := int64(c.rd.byteOrder.Uint32(hdr[12:16]))

	c.dirs, err = c.rd.chain(ifd0Offset)
	if err != nil {
		return err
	}
	if len(c.dirs) == 0 {
		return FormatError("empty directory chain")
	}

	for _, dir := range c.dirs {
		if dir.off == rawOffset {
			c.raw = dir
		}
	}
	if c.raw == nil {
		// Some writers leave the raw directory off the chain.
		c.raw, err = c.rd.directory(rawOffset)
		if err != nil {
			return err
		}
	}

	return c.parseMetadata()
}

// parseMetadata flattens IFD0, the EXIF sub-directory and the Canon
// MakerNote into one namespaced map.
func (c *CR2Image) parseMetadata() error {
	ifd0 := c.dirs[0]
	c.mergeTags(NamespaceExif, ifd0)

	exifTag, ok := ifd0.tag(tExifIFD)
	if !ok {
		c.log.Debug("no EXIF sub-directory")
		return nil
	}
	exifDir, err := c.rd.directory(int64(exifTag.firstVal()))
	if err != nil {
		return err
	}
	c.mergeTags(NamespaceExif, exifDir)

	mnTag, ok := exifDir.tag(tMakerNote)
	if !ok {
		return nil
	}
	// The Canon MakerNote payload is itself an IFD, addressed from the
	// start of the file.
	mnDir, err := c.rd.directory(int64(mnTag.offset))
	if err != nil {
		c.log.WithError(err).Debug("unreadable MakerNote, skipping")
		return nil
	}
	c.mergeTags(NamespaceMakerNote, mnDir)

	if si, ok := mnDir.tag(mnSensorInfo); ok && len(si.val) >= 9 {
		c.sensor = sensorInfoFromVals(si.val)
		c.hasSensor = true
	}
	return nil
}

func (c *CR2Image) mergeTags(ns Namespace, dir *directory) {
	for _, id := range dir.order {
		t := dir.tags[id]
		k := Key{Namespace: ns, ID: id}
		if _, present := c.exif.Lookup(k); present {
			continue
		}
		c.exif.set(k, t.value())
	}
}

// Close releases the underlying file.
func (c *CR2Image) Close() error {
	return c.f.Close()
}

// Path returns the file the image was opened from.
func (c *CR2Image) Path() string { return c.path }

// Exif returns the combined metadata map. Standard tags live in
// NamespaceExif, Canon vendor tags in NamespaceMakerNote.
func (c *CR2Image) Exif() *ExifMap { return c.exif }

// Sensor returns the sensor geometry table when the MakerNote carried
// one.
func (c *CR2Image) Sensor() (SensorInfo, bool) {
	return c.sensor, c.hasSensor
}

// Timestamp returns the capture time, preferring the original date over
// the digitized and file-modification dates.
func (c *CR2Image) Timestamp() (time.Time, error) {
	for _, id := range []uint16{tDateTimeOriginal, tDateTimeDigitized, tDateTime} {
		s, ok := c.exif.String(Key{Namespace: NamespaceExif, ID: id})
		if !ok || s == "" {
			continue
		}
		return ParseDateTime(s)
	}
	return time.Time{}, TimestampError("no date tag present")
}

// LoadOptions selects how the raw sensor image is decoded.
type LoadOptions struct {
	// FullFrame keeps the optically masked border pixels instead of
	// cropping to the active sensor area.
	FullFrame bool

	// Native forces the built-in decoder even when an external one is
	// configured.
	Native bool
}

// Load decodes the raw sensor data. The image is cropped to the active
// area described by the MakerNote unless FullFrame is set or no sensor
// table is present.
func (c *CR2Image) Load(ctx context.Context, opts LoadOptions) (*RawImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var img *RawImage
	var err error
	if opts.Native || c.external == nil {
		c.log.Debug("decoding raw strip with built-in decoder")
		img, err = c.decodeEmbeddedRaw()
	} else {
		img, err = c.external.decode(ctx, c.path)
	}
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"width": img.Width, "height": img.Height}).
		Debug("raw sensor image decoded")

	if opts.FullFrame || !c.hasSensor || !c.sensor.hasBorders() {
		return img, nil
	}
	left, top, right, bottom := c.sensor.Borders()
	return img.crop(left, top, right, bottom)
}

// Preview decodes the rendered JPEG of the directory at index (0 is the
// full-size preview, 1 the thumbnail) into a 16-bit luminance image.
func (c *CR2Image) Preview(index int) (*RawImage, error) {
	if index < 0 || index >= len(c.dirs) {
		return nil, FormatError("no directory at index " + itoa(index))
	}
	dir := c.dirs[index]
	if dir == c.raw {
		return nil, UnsupportedError("raw directory holds no rendered preview")
	}

	var offset, count int64
	if t, ok := dir.tag(tStripOffsets); ok {
		offset = int64(t.firstVal())
		count = int64(dir.firstVal(tStripByteCounts))
	} else if t, ok := dir.tag(tThumbOffset); ok {
		offset = int64(t.firstVal())
		count = int64(dir.firstVal(tThumbLength))
	} else {
		return nil, FormatError("directory holds no image data")
	}
	if offset < headerLen || count <= 0 || offset+count > c.size {
		return nil, FormatError("preview data out of bounds")
	}

	data := make([]byte, count)
	if _, err := c.f.ReadAt(data, offset); err != nil {
		return nil, FormatError("truncated preview data")
	}
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, FormatError("preview is not a JPEG: " + err.Error())
	}

	b := src.Bounds()
	img := &RawImage{
		Pix:    make([]uint16, b.Dx()*b.Dy()),
		Width:  b.Dx(),
		Height: b.Dy(),
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.Pix[i] = color.Gray16Model.Convert(src.At(x, y)).(color.Gray16).Y
			i++
		}
	}
	return img, nil
}
