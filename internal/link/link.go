// Package link builds and parses the link-layer control frames used to
// acknowledge data frames on the serial line:
//
//	+---------+-----------+--------+--------+------+
//	| control |  payload  | crc hi | crc lo | 0x7E |
//	+---------+-----------+--------+--------+------+
//
// The CRC is CRC-16/XMODEM over control and payload, sent big-endian.
package link

import (
	"errors"
	"fmt"
	"io"

	"github.com/sigurn/crc16"
)

const (
	Terminator byte = 0x7E

	AckFlag uint8 = 0x80
	NakFlag uint8 = 0xA0
	SeqMask uint8 = 0x07

	// MinFrameSize is control + CRC + terminator.
	MinFrameSize = 4
)

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

var (
	ErrShortControlFrame = errors.New("link: control frame too short")
	ErrNoTerminator      = errors.New("link: missing terminator")
	ErrControlCRC        = errors.New("link: control frame CRC mismatch")
)

// CRC returns the XMODEM CRC of data.
func CRC(data []byte) uint16 {
	crc := crc16.Init(crcTable)
	crc = crc16.Update(crc, data, crcTable)
	return crc16.Complete(crc, crcTable)
}

// ControlFrame frames a control byte with an optional payload.
func ControlFrame(control uint8, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+MinFrameSize)
	buf = append(buf, control)
	buf = append(buf, payload...)
	crc := CRC(buf)
	return append(buf, byte(crc>>8), byte(crc), Terminator)
}

// AckControl is the control byte acknowledging everything up to seq-1.
func AckControl(seq uint8) uint8 {
	return AckFlag | seq&SeqMask
}

// NakControl is the control byte rejecting frame seq.
func NakControl(seq uint8) uint8 {
	return NakFlag | seq&SeqMask
}

// SendAck writes a framed ACK for seq to w.
func SendAck(w io.Writer, seq uint8) error {
	if _, err := w.Write(ControlFrame(AckControl(seq), nil)); err != nil {
		return fmt.Errorf("link: send ack %d: %w", seq&SeqMask, err)
	}
	return nil
}

// SendNak writes a framed NAK for seq to w.
func SendNak(w io.Writer, seq uint8) error {
	if _, err := w.Write(ControlFrame(NakControl(seq), nil)); err != nil {
		return fmt.Errorf("link: send nak %d: %w", seq&SeqMask, err)
	}
	return nil
}

// DataControl holds the fields of a data frame's control byte.
type DataControl struct {
	FrameNumber uint8
	Retransmit  bool
	AckNumber   uint8
}

// ParseDataControl splits a data control byte.
func ParseDataControl(b uint8) DataControl {
	return DataControl{
		FrameNumber: (b & 0x70) >> 4,
		Retransmit:  (b&0x08)>>3 == 1,
		AckNumber:   b & SeqMask,
	}
}

// NextAckSeq is the sequence to acknowledge after receiving frameNumber.
func NextAckSeq(frameNumber uint8) uint8 {
	return (frameNumber + 1) & SeqMask
}

// ControlKind classifies a control byte.
type ControlKind int

const (
	KindData ControlKind = iota
	KindAck
	KindNak
	KindOther
)

func (k ControlKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindNak:
		return "nak"
	default:
		return "other"
	}
}

// Kind classifies control by its high bits: 0xxxxxxx data, 100xxxxx ack,
// 101xxxxx nak.
func Kind(control uint8) ControlKind {
	switch {
	case control&0x80 == 0:
		return KindData
	case control&0xE0 == AckFlag:
		return KindAck
	case control&0xE0 == NakFlag:
		return KindNak
	default:
		return KindOther
	}
}

// Frame is a decoded control frame.
type Frame struct {
	Control uint8
	Payload []byte
	CRC     uint16
}

// Kind classifies the frame's control byte.
func (f Frame) Kind() ControlKind { return Kind(f.Control) }

// Seq is the 3-bit sequence carried by ACK and NAK frames.
func (f Frame) Seq() uint8 { return f.Control & SeqMask }

func (f Frame) String() string {
	return fmt.Sprintf("%s control=0x%02X payload=%X", f.Kind(), f.Control, f.Payload)
}

// DecodeControlFrame parses one control frame ending in the terminator.
func DecodeControlFrame(raw []byte) (Frame, error) {
	if len(raw) == 0 || raw[len(raw)-1] != Terminator {
		return Frame{}, ErrNoTerminator
	}
	if len(raw) < MinFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortControlFrame, len(raw))
	}
	body := raw[:len(raw)-3]
	got := uint16(raw[len(raw)-3])<<8 | uint16(raw[len(raw)-2])
	if want := CRC(body); got != want {
		return Frame{}, fmt.Errorf("%w: got 0x%04X, want 0x%04X", ErrControlCRC, got, want)
	}
	f := Frame{Control: body[0], CRC: got}
	if len(body) > 1 {
		f.Payload = append([]byte(nil), body[1:]...)
	}
	return f, nil
}
