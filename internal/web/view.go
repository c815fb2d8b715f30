package web

import (
	"fmt"

	"zigstack/internal/link"
	"zigstack/internal/mt"
	"zigstack/internal/store"
	"zigstack/internal/transport"
)

// FrameView is the decoded JSON form of a raw unit. Kind is "mt" for an
// envelope and "link" for a control frame.
type FrameView struct {
	Kind string `json:"kind"`
	Raw  string `json:"raw"`

	Cmd0          *uint8 `json:"cmd0,omitempty"`
	Cmd1          *uint8 `json:"cmd1,omitempty"`
	Type          string `json:"type,omitempty"`
	Subsystem     string `json:"subsystem,omitempty"`
	Known         *bool  `json:"known_subsystem,omitempty"`
	SubsystemName string `json:"subsystem_name,omitempty"`
	Command       string `json:"command,omitempty"`
	Length        *uint8 `json:"length,omitempty"`
	FCS           string `json:"fcs,omitempty"`

	Control     string `json:"control,omitempty"`
	ControlKind string `json:"control_kind,omitempty"`
	Seq         *uint8 `json:"seq,omitempty"`
	CRC         string `json:"crc,omitempty"`

	Payload string `json:"payload"`
}

// viewError is a decode failure with a stable kind label.
type viewError struct {
	Kind string `json:"kind"`
	Err  string `json:"error"`
}

func ptr[T any](v T) *T { return &v }

// decodeView decodes an envelope when raw starts with SOF and a link
// control frame otherwise.
func decodeView(raw []byte) (*FrameView, *viewError) {
	v := &FrameView{Raw: fmt.Sprintf("%X", raw)}
	if len(raw) > 0 && raw[0] == mt.SOF {
		f, err := mt.DecodeStandard(raw)
		if err != nil {
			return nil, &viewError{Kind: mt.ErrorKind(err), Err: err.Error()}
		}
		cmd := f.Command()
		v.Kind = "mt"
		v.Cmd0 = ptr(cmd.Cmd0)
		v.Cmd1 = ptr(cmd.Cmd1)
		v.Type = cmd.Type().String()
		v.Subsystem = cmd.Subsystem().String()
		v.Known = ptr(cmd.KnownSubsystem())
		v.SubsystemName = cmd.SubsystemName().String()
		v.Command = cmd.String()
		v.Length = ptr(f.Header.Length)
		v.FCS = fmt.Sprintf("%02X", raw[mt.EnvelopeOverhead-1+int(f.Header.Length)])
		v.Payload = fmt.Sprintf("%X", f.Payload)
		return v, nil
	}

	cf, err := link.DecodeControlFrame(raw)
	if err != nil {
		return nil, &viewError{Kind: transport.ErrorKind(err), Err: err.Error()}
	}
	v.Kind = "link"
	v.Control = fmt.Sprintf("%02X", cf.Control)
	v.ControlKind = cf.Kind().String()
	if k := cf.Kind(); k == link.KindAck || k == link.KindNak {
		v.Seq = ptr(cf.Seq())
	}
	v.CRC = fmt.Sprintf("%04X", cf.CRC)
	v.Payload = fmt.Sprintf("%X", cf.Payload)
	return v, nil
}

// CaptureView is a stored capture with its decoded form.
type CaptureView struct {
	*store.Capture
	Raw     string     `json:"raw"`
	Decoded *FrameView `json:"decoded,omitempty"`
	Decode  *viewError `json:"decode_error,omitempty"`
}

func newCaptureView(c *store.Capture) CaptureView {
	cv := CaptureView{Capture: c, Raw: fmt.Sprintf("%X", c.Raw)}
	if c.Kind != store.KindError {
		cv.Decoded, cv.Decode = decodeView(c.Raw)
	}
	return cv
}
