package events

import (
	"fmt"
	"time"

	"zigstack/internal/session"
	"zigstack/internal/transport"
)

// FrameEvent is the JSON view of one line record.
type FrameEvent struct {
	Direction string    `json:"direction"`
	Cmd0      uint8     `json:"cmd0"`
	Cmd1      uint8     `json:"cmd1"`
	Type      string    `json:"type,omitempty"`
	Subsystem string    `json:"subsystem,omitempty"`
	Command   string    `json:"command,omitempty"`
	Control   string    `json:"control,omitempty"`
	Payload   string    `json:"payload"`
	Raw       string    `json:"raw"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Time      time.Time `json:"time"`
}

// FromRecord classifies a session record.
func FromRecord(r session.Record) Event {
	fe := FrameEvent{
		Direction: string(r.Direction),
		Raw:       fmt.Sprintf("%X", r.Raw),
		Time:      r.Time,
	}
	switch {
	case r.Err != nil:
		fe.Error = r.Err.Error()
		fe.ErrorKind = transport.ErrorKind(r.Err)
		return Event{Type: DecodeError, Data: fe}
	case r.Control != nil:
		fe.Control = r.Control.Kind().String()
		fe.Cmd0 = r.Control.Control
		fe.Payload = fmt.Sprintf("%X", r.Control.Payload)
		return Event{Type: LinkControl, Data: fe}
	}

	cmd := r.Frame.Command()
	fe.Cmd0 = cmd.Cmd0
	fe.Cmd1 = cmd.Cmd1
	fe.Type = cmd.Type().String()
	fe.Subsystem = cmd.Subsystem().String()
	fe.Command = cmd.String()
	fe.Payload = fmt.Sprintf("%X", r.Frame.Payload)
	if r.Direction == session.DirectionTX {
		return Event{Type: FrameTX, Data: fe}
	}
	return Event{Type: FrameRX, Data: fe}
}

// Observe lets the bus sit directly behind a session.
func (b *Bus) Observe(r session.Record) {
	b.Emit(FromRecord(r))
}
