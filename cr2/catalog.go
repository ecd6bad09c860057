package cr2

import (
	"fmt"
	"strings"
	"time"
)

// Namespace separates standard EXIF tag numbers from the vendor-private
// MakerNote numbers that collide with them.
type Namespace uint8

const (
	NamespaceExif Namespace = iota
	NamespaceMakerNote
)

func (n Namespace) String() string {
	switch n {
	case NamespaceExif:
		return "Exif"
	case NamespaceMakerNote:
		return "MakerNote"
	}
	return fmt.Sprintf("Namespace(%d)", uint8(n))
}

// Key identifies a metadata entry: a tag number qualified by its namespace.
type Key struct {
	Namespace Namespace
	ID        uint16
}

func (k Key) String() string {
	if k.Namespace == NamespaceMakerNote {
		return "MakerNote." + TagName(k)
	}
	return TagName(k)
}

// TagName returns the common name of a tag, or "Unknown(n)" for tags the
// catalog does not know about.
func TagName(k Key) string {
	if k.Namespace == NamespaceMakerNote {
		return makerNoteName(k.ID)
	}
	return exifName(k.ID)
}

func exifName(id uint16) string {
	switch id {
	case tImageWidth:
		return "ImageWidth"
	case tImageLength:
		return "ImageLength"
	case tBitsPerSample:
		return "BitsPerSample"
	case tCompression:
		return "Compression"
	case tImageDescription:
		return "ImageDescription"
	case tMake:
		return "Make"
	case tModel:
		return "Model"
	case tStripOffsets:
		return "StripOffsets"
	case tOrientation:
		return "Orientation"
	case tStripByteCounts:
		return "StripByteCounts"
	case tXResolution:
		return "XResolution"
	case tYResolution:
		return "YResolution"
	case tResolutionUnit:
		return "ResolutionUnit"
	case tDateTime:
		return "DateTime"
	case tExposureTime:
		return "ExposureTime"
	case tFNumber:
		return "FNumber"
	case tExifIFD:
		return "ExifIFD"
	case tISOSpeedRatings:
		return "ISOSpeedRatings"
	case tDateTimeOriginal:
		return "DateTimeOriginal"
	case tDateTimeDigitized:
		return "DateTimeDigitized"
	case tShutterSpeed:
		return "ShutterSpeedValue"
	case tApertureValue:
		return "ApertureValue"
	case tFocalLength:
		return "FocalLength"
	case tMakerNote:
		return "MakerNote"
	case tCR2Slice:
		return "CR2Slice"
	default:
		return fmt.Sprintf("Unknown(%d)", id)
	}
}

func makerNoteName(id uint16) string {
	switch id {
	case mnCameraSettings:
		return "CameraSettings"
	case mnFocusInfo:
		return "FocusInfo"
	case mnImageType:
		return "ImageType"
	case mnSensorInfo:
		return "SensorInfo"
	case mnColorBalance:
		return "ColorBalance"
	case mnBlackLevel:
		return "BlackLevel"
	case mnVignettingCorrection:
		return "VignettingCorrection"
	default:
		return fmt.Sprintf("Unknown(%d)", id)
	}
}

// Well-known keys for callers building output headers.
var (
	KeyMake             = Key{NamespaceExif, tMake}
	KeyModel            = Key{NamespaceExif, tModel}
	KeyDateTime         = Key{NamespaceExif, tDateTime}
	KeyDateTimeOriginal = Key{NamespaceExif, tDateTimeOriginal}
	KeyExposureTime     = Key{NamespaceExif, tExposureTime}
	KeyFNumber          = Key{NamespaceExif, tFNumber}
	KeyISOSpeedRatings  = Key{NamespaceExif, tISOSpeedRatings}
	KeyFocalLength      = Key{NamespaceExif, tFocalLength}
)

const exifTimeLayout = "2006:01:02 15:04:05"

// ParseDateTime parses an EXIF "YYYY:MM:DD HH:MM:SS" value as UTC.
// Malformed values yield a TimestampError.
func ParseDateTime(s string) (time.Time, error) {
	v := strings.TrimSpace(strings.Trim(s, "\x00"))
	t, err := time.ParseInLocation(exifTimeLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, TimestampError(s)
	}
	return t, nil
}

// ISO8601 formats a timestamp the way FITS DATE-OBS cards expect it.
func ISO8601(t time.Time) string {
	return t.Format("2006-01-02T15:04:05")
}
