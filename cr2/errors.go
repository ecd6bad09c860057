package cr2

import (
	"fmt"
	"time"
)

// A FormatError reports that the input is not a structurally valid CR2
// container.
type FormatError string

func (e FormatError) Error() string {
	return fmt.Sprintf("cr2: malformed container: %s", string(e))
}

// An UnsupportedError reports that the raw data uses a valid but
// unimplemented sample encoding.
type UnsupportedError string

func (e UnsupportedError) Error() string {
	return fmt.Sprintf("cr2: unsupported raw encoding: %s", string(e))
}

// A TimestampError reports an unparsable EXIF date/time value. It is
// metadata-only and never aborts a decode.
type TimestampError string

func (e TimestampError) Error() string {
	return fmt.Sprintf("cr2: invalid timestamp: %q", string(e))
}

// A DecoderUnavailableError reports that the external decoder executable
// could not be located or spawned.
type DecoderUnavailableError struct {
	Exec string
	Err  error
}

func (e *DecoderUnavailableError) Error() string {
	return fmt.Sprintf("cr2: external decoder %s unavailable: %v", e.Exec, e.Err)
}

func (e *DecoderUnavailableError) Unwrap() error { return e.Err }

// A DecoderFailedError reports that the external decoder exited non-zero
// or produced an invalid PGM stream. Stderr carries the captured
// diagnostics of the subprocess.
type DecoderFailedError struct {
	Exec   string
	Stderr string
	Err    error
}

func (e *DecoderFailedError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("cr2: external decoder %s failed: %v: %s", e.Exec, e.Err, e.Stderr)
	}
	return fmt.Sprintf("cr2: external decoder %s failed: %v", e.Exec, e.Err)
}

func (e *DecoderFailedError) Unwrap() error { return e.Err }

// A DecoderTimeoutError reports that the external decoder was killed
// after exceeding its time budget.
type DecoderTimeoutError struct {
	Exec    string
	Timeout time.Duration
}

func (e *DecoderTimeoutError) Error() string {
	return fmt.Sprintf("cr2: external decoder %s timed out after %s", e.Exec, e.Timeout)
}

// A ShortReadError reports that a pixel stream declared more sample bytes
// than it actually carried.
type ShortReadError struct {
	Want int
	Got  int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("cr2: short read: want %d sample bytes, got %d", e.Want, e.Got)
}
