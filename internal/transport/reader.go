package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"zigstack/internal/link"
	"zigstack/internal/mt"
)

// maxControlFrame bounds how far a link control frame is scanned for a
// terminator with a valid CRC before the bytes are dropped as noise.
const maxControlFrame = 64

// PacketKind tells which framing a packet arrived in.
type PacketKind int

const (
	PacketMonitor PacketKind = iota
	PacketControl
)

func (k PacketKind) String() string {
	if k == PacketControl {
		return "control"
	}
	return "monitor"
}

// Packet is one complete unit read off the line. Exactly one of Frame and
// Control is set, matching Kind.
type Packet struct {
	Kind    PacketKind
	Raw     []byte
	Frame   *mt.Frame
	Control *link.Frame
}

// DecodeError reports bytes that were dropped while resynchronizing.
// The reader has already moved past them.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("transport: dropped %d bytes: %v", len(e.Raw), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrorKind labels a dropped-bytes error for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, link.ErrControlCRC):
		return "control_crc"
	case errors.Is(err, link.ErrNoTerminator), errors.Is(err, link.ErrShortControlFrame):
		return "noise"
	default:
		return mt.ErrorKind(err)
	}
}

// FrameReader reassembles packets from a byte stream. Envelopes are located
// by SOF and delimited by their length byte; anything else is scanned as a
// link control frame up to the terminator.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 512)}
}

// Next returns the next packet. Malformed input yields a *DecodeError after
// the offending bytes have been skipped; the caller should keep calling Next.
// Any other error comes from the underlying reader.
func (fr *FrameReader) Next() (Packet, error) {
	b, err := fr.r.Peek(1)
	if err != nil {
		return Packet{}, err
	}
	if b[0] == mt.SOF {
		return fr.nextMonitor()
	}
	return fr.nextControl()
}

func (fr *FrameReader) nextMonitor() (Packet, error) {
	hdr, err := fr.r.Peek(2)
	if err != nil {
		return Packet{}, err
	}
	n := int(hdr[1])
	if n > mt.MaxPayloadSize {
		raw := []byte{hdr[0], hdr[1]}
		fr.r.Discard(1)
		return Packet{}, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: length %d", mt.ErrInvalidLength, n)}
	}

	buf, err := fr.r.Peek(mt.EnvelopeOverhead + n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, err
	}
	raw := append([]byte(nil), buf...)

	f, err := mt.DecodeStandard(raw)
	if err != nil {
		// Drop only the SOF so an envelope starting inside this one is found.
		fr.r.Discard(1)
		return Packet{}, &DecodeError{Raw: raw, Err: err}
	}
	fr.r.Discard(len(raw))
	return Packet{Kind: PacketMonitor, Raw: raw, Frame: f}, nil
}

func (fr *FrameReader) nextControl() (Packet, error) {
	var acc []byte
	var lastErr error = link.ErrNoTerminator
	for len(acc) < maxControlFrame {
		if len(acc) > 0 {
			next, err := fr.r.Peek(1)
			if err != nil {
				return Packet{}, err
			}
			if next[0] == mt.SOF {
				if pkt, ok := fr.controlThroughSOF(acc); ok {
					return pkt, nil
				}
				break
			}
		}
		c, err := fr.r.ReadByte()
		if err != nil {
			return Packet{}, err
		}
		acc = append(acc, c)
		if c != link.Terminator {
			continue
		}
		cf, err := link.DecodeControlFrame(acc)
		if err == nil {
			return Packet{Kind: PacketControl, Raw: acc, Control: &cf}, nil
		}
		// A terminator value can appear inside the CRC; keep scanning.
		lastErr = err
	}
	return Packet{}, &DecodeError{Raw: acc, Err: lastErr}
}

// controlThroughSOF looks past an SOF that may sit inside the control frame
// begun in acc. It consumes input only when a terminator completes a frame
// with a valid CRC before the peeked bytes form a valid envelope.
func (fr *FrameReader) controlThroughSOF(acc []byte) (Packet, bool) {
	for k := 1; len(acc)+k <= maxControlFrame; k++ {
		p, err := fr.r.Peek(k)
		if err != nil {
			return Packet{}, false
		}
		if k >= 2 {
			if n := int(p[1]); n <= mt.MaxPayloadSize && k == mt.EnvelopeOverhead+n && p[k-1] == mt.FCS(p[1:k-1]) {
				return Packet{}, false
			}
		}
		if p[k-1] != link.Terminator {
			continue
		}
		raw := append(append([]byte(nil), acc...), p...)
		cf, err := link.DecodeControlFrame(raw)
		if err != nil {
			continue
		}
		fr.r.Discard(k)
		return Packet{Kind: PacketControl, Raw: raw, Control: &cf}, true
	}
	return Packet{}, false
}
