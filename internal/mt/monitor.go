package mt

import "fmt"

// Monitor/Test envelope:
//
//	+-----+------------------------------+-----+
//	| SOF |     general frame (3-253)    | FCS |
//	+-----+------------------------------+-----+
//	  1B                                   1B
const (
	SOF = 0xFE

	// EnvelopeOverhead is SOF + header + FCS; a frame with N payload bytes
	// occupies EnvelopeOverhead+N bytes on the wire.
	EnvelopeOverhead = 1 + HeaderSize + 1
	MaxEnvelopeSize  = EnvelopeOverhead + MaxPayloadSize
)

// MonitorFrame is either a standard *Frame or an *ExtendedFrame.
type MonitorFrame interface {
	monitorFrame()
}

// ExtendedHeader is the first byte of the extended header: version in the
// upper 5 bits, stack id in the lower 3.
type ExtendedHeader struct {
	Version uint8
	ID      uint8
}

// ParseExtendedHeader splits the extended header byte.
func ParseExtendedHeader(b uint8) ExtendedHeader {
	return ExtendedHeader{Version: b >> 3, ID: b & 0x07}
}

// ExtendedFrame is the extended frame variant. Its layout beyond the
// extended header is not supported; it cannot be encoded.
type ExtendedFrame struct {
	Header Header
	Ext    ExtendedHeader
}

func (*ExtendedFrame) monitorFrame() {}

// EncodeMonitorFrame returns SOF, the serialized frame, and the FCS.
func EncodeMonitorFrame(f MonitorFrame) ([]byte, error) {
	switch v := f.(type) {
	case *Frame:
		if v == nil {
			return nil, fmt.Errorf("%w: nil frame", ErrUnsupportedVariant)
		}
		body, err := v.Bytes()
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 0, len(body)+2)
		buf = append(buf, SOF)
		buf = append(buf, body...)
		buf = append(buf, FCS(body))
		return buf, nil
	case *ExtendedFrame:
		return nil, fmt.Errorf("%w: cannot encode extended frame", ErrUnsupportedVariant)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedVariant, f)
	}
}

// MonitorCommand returns the command word of a standard frame. Extended
// frames have no defined command and yield ErrUnsupportedVariant.
func MonitorCommand(f MonitorFrame) (Command, error) {
	switch v := f.(type) {
	case *Frame:
		if v == nil {
			return Command{}, fmt.Errorf("%w: nil frame", ErrUnsupportedVariant)
		}
		return v.Header.Command, nil
	case *ExtendedFrame:
		return Command{}, fmt.Errorf("%w: extended frame has no command", ErrUnsupportedVariant)
	default:
		return Command{}, fmt.Errorf("%w: %T", ErrUnsupportedVariant, f)
	}
}

// DecodeMonitorFrame parses a complete envelope, SOF through FCS. Bytes
// after the FCS are ignored.
func DecodeMonitorFrame(raw []byte) (MonitorFrame, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrTruncatedFrame)
	}
	if raw[0] != SOF {
		return nil, fmt.Errorf("%w: got 0x%02X", ErrFraming, raw[0])
	}
	if len(raw) < EnvelopeOverhead {
		return nil, fmt.Errorf("%w: envelope needs at least %d bytes, have %d", ErrTruncatedFrame, EnvelopeOverhead, len(raw))
	}
	n := int(raw[1])
	if n > MaxPayloadSize {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrInvalidLength, n, MaxPayloadSize)
	}
	end := 1 + HeaderSize + n
	if len(raw) < end+1 {
		return nil, fmt.Errorf("%w: length %d needs %d bytes, have %d", ErrTruncatedFrame, n, end+1, len(raw))
	}
	inner := raw[1:end]
	if got, want := raw[end], FCS(inner); got != want {
		return nil, &ChecksumError{Got: got, Want: want}
	}
	return DecodeFrame(inner)
}

// DecodeStandard is DecodeMonitorFrame for callers that only handle the
// standard variant.
func DecodeStandard(raw []byte) (*Frame, error) {
	mf, err := DecodeMonitorFrame(raw)
	if err != nil {
		return nil, err
	}
	f, ok := mf.(*Frame)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedVariant, mf)
	}
	return f, nil
}

// Envelope builds a standard frame and wraps it in one step.
func Envelope(cmd Command, payload []byte) ([]byte, error) {
	f, err := NewFrame(cmd, payload)
	if err != nil {
		return nil, err
	}
	return EncodeMonitorFrame(f)
}
