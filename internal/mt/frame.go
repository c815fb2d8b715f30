package mt

import "fmt"

// General frame layout:
//
//	+-----+------+------+------------------+
//	| Len | Cmd0 | Cmd1 |       Data       |
//	+-----+------+------+------------------+
//	  1B     1B     1B        0-250 B
const (
	HeaderSize     = 3
	MaxPayloadSize = 250
)

// Header is the 3-byte MT header. Length counts payload bytes only.
type Header struct {
	Length  uint8
	Command Command
}

// DecodeHeader parses [Len, Cmd0, Cmd1].
func DecodeHeader(b [HeaderSize]byte) (Header, error) {
	if b[0] > MaxPayloadSize {
		return Header{}, fmt.Errorf("%w: length %d exceeds %d", ErrInvalidLength, b[0], MaxPayloadSize)
	}
	return Header{
		Length:  b[0],
		Command: CommandFromBytes([2]byte{b[1], b[2]}),
	}, nil
}

// Bytes returns the header in wire order.
func (h Header) Bytes() [HeaderSize]byte {
	return [HeaderSize]byte{h.Length, h.Command.Cmd0, h.Command.Cmd1}
}

// Frame is a standard MT frame: header plus payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewFrame builds a frame with Length set from payload. The payload is copied.
func NewFrame(cmd Command, payload []byte) (*Frame, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrInvalidLength, len(payload), MaxPayloadSize)
	}
	f := &Frame{
		Header: Header{Length: uint8(len(payload)), Command: cmd},
	}
	if len(payload) > 0 {
		f.Payload = make([]byte, len(payload))
		copy(f.Payload, payload)
	}
	return f, nil
}

// DecodeFrame parses a header and the payload it announces. Bytes past
// HeaderSize+Length are ignored.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: need %d header bytes, have %d", ErrTruncatedFrame, HeaderSize, len(data))
	}
	h, err := DecodeHeader([HeaderSize]byte{data[0], data[1], data[2]})
	if err != nil {
		return nil, err
	}
	end := HeaderSize + int(h.Length)
	if len(data) < end {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedFrame, end, len(data))
	}
	f := &Frame{Header: h}
	if h.Length > 0 {
		f.Payload = make([]byte, h.Length)
		copy(f.Payload, data[HeaderSize:end])
	}
	return f, nil
}

// Command returns the frame's command word.
func (f *Frame) Command() Command {
	return f.Header.Command
}

// Bytes serializes header and payload. Length must match the payload.
func (f *Frame) Bytes() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrInvalidLength, len(f.Payload), MaxPayloadSize)
	}
	if int(f.Header.Length) != len(f.Payload) {
		return nil, fmt.Errorf("%w: header says %d, payload has %d", ErrInvalidLength, f.Header.Length, len(f.Payload))
	}
	h := f.Header.Bytes()
	buf := make([]byte, 0, HeaderSize+len(f.Payload))
	buf = append(buf, h[:]...)
	buf = append(buf, f.Payload...)
	return buf, nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s len=%d payload=%X", f.Header.Command, f.Header.Length, f.Payload)
}

func (*Frame) monitorFrame() {}
