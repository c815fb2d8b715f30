package store

import "time"

// Capture kinds.
const (
	KindMonitor = "monitor"
	KindControl = "control"
	KindError   = "error"
)

// Capture is one unit seen on the serial line.
type Capture struct {
	ID        uint64    `json:"id"`
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"`
	Kind      string    `json:"kind"`
	Raw       []byte    `json:"raw"`
	Cmd0      uint8     `json:"cmd0,omitempty"`
	Cmd1      uint8     `json:"cmd1,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Meta keys.
const (
	MetaVersion      = "version"
	MetaCapabilities = "capabilities"
)
