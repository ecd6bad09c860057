package cr2

// A CR2 file is a TIFF container with a Canon-specific header extension.
// The metadata of each image is contained in an Image File Directory (IFD),
// which contains entries of 12 bytes each. An IFD entry consists of
//
//  - a tag, which describes the signification of the entry,
//  - the data type and length of the entry,
//  - the data itself or a pointer to it if it is more than 4 bytes.
//
// A CR2 file carries four chained IFDs; the fourth one holds the raw
// sensor data as a lossless JPEG stream. See http://lclevy.free.fr/cr2/.

const (
	leHeader = "II\x2A\x00" // Header for little-endian files.
	beHeader = "MM\x00\x2A" // Header for big-endian files.

	cr2Magic = "CR" // Canon marker at offset 8.

	headerLen = 16 // TIFF header (8) + CR2 extension (8).
	ifdLen    = 12 // Length of an IFD entry in bytes.

	maxIFDs = 64 // Sanity limit while walking the directory chain.
)

// Data types (p. 14-16 of the TIFF spec).
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

// The length of one instance of each data type in bytes.
var lengths = [...]uint32{0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8}

// EXIF tags used by the decode pipeline.
const (
	tImageWidth        = 256
	tImageLength       = 257
	tBitsPerSample     = 258
	tCompression       = 259
	tImageDescription  = 270
	tMake              = 271
	tModel             = 272
	tStripOffsets      = 273
	tOrientation       = 274
	tStripByteCounts   = 279
	tXResolution       = 282
	tYResolution       = 283
	tResolutionUnit    = 296
	tDateTime          = 306
	tThumbOffset       = 513
	tThumbLength       = 514
	tExposureTime      = 33434
	tFNumber           = 33437
	tExifIFD           = 34665
	tISOSpeedRatings   = 34855
	tDateTimeOriginal  = 36867
	tDateTimeDigitized = 36868
	tShutterSpeed      = 37377
	tApertureValue     = 37378
	tFocalLength       = 37386
	tMakerNote         = 37500
	tCR2Slice          = 50752
)

// Canon MakerNote tags. These live in a vendor-private namespace and
// collide with standard EXIF numbers, hence the Key type in catalog.go.
const (
	mnCameraSettings       = 0x0001
	mnFocusInfo            = 0x0002
	mnImageType            = 0x0006
	mnSensorInfo           = 0x00e0
	mnColorBalance         = 0x4001
	mnBlackLevel           = 0x4008
	mnVignettingCorrection = 0x4015
)

// Compression values seen in the raw IFD.
const (
	cNone    = 1
	cJPEGOld = 6 // Lossless JPEG, the scheme Canon uses for the raw strip.
)

// JPEG markers of the lossless stream inside the raw strip, without
// their 0xFF prefix byte.
const (
	mSOI = 0xd8 // Start Of Image
	mDHT = 0xc4 // Define Huffman Table
	mSOF = 0xc3 // Start Of Frame (lossless sequential)
	mSOS = 0xda // Start Of Scan
	mEOI = 0xd9 // End Of Image
)

const maxHuffmanBits = 16
