package mt

import (
	"errors"
	"fmt"
)

var (
	ErrFraming            = errors.New("mt: bad start of frame")
	ErrChecksumMismatch   = errors.New("mt: checksum mismatch")
	ErrTruncatedFrame     = errors.New("mt: truncated frame")
	ErrUnsupportedVariant = errors.New("mt: unsupported frame variant")
	ErrInvalidLength      = errors.New("mt: invalid length")
)

// ChecksumError carries the trailing FCS byte and the value computed over
// header and payload.
type ChecksumError struct {
	Got  uint8
	Want uint8
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("mt: checksum mismatch: got 0x%02X, want 0x%02X", e.Got, e.Want)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// IsDecodeError reports whether err came from rejecting malformed input.
// Such bytes should be dropped and the stream resynchronized, never retried.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrFraming) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrTruncatedFrame) ||
		errors.Is(err, ErrInvalidLength)
}

// ErrorKind is a short label for a decode failure, used in logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFraming):
		return "framing"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, ErrTruncatedFrame):
		return "truncated"
	case errors.Is(err, ErrInvalidLength):
		return "invalid_length"
	case errors.Is(err, ErrUnsupportedVariant):
		return "unsupported_variant"
	default:
		return "other"
	}
}
