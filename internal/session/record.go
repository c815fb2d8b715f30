package session

import (
	"time"

	"zigstack/internal/link"
	"zigstack/internal/mt"
)

type Direction string

const (
	DirectionRX Direction = "rx"
	DirectionTX Direction = "tx"
)

// Record describes one unit that crossed the line. Exactly one of Frame,
// Control and Err is set.
type Record struct {
	Time      time.Time
	Direction Direction
	Raw       []byte
	Frame     *mt.Frame
	Control   *link.Frame
	Err       error
}

// Observer sees every record in line order. Observe is called from the
// read loop and from writers, so it must not block.
type Observer interface {
	Observe(Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Record)

func (f ObserverFunc) Observe(r Record) { f(r) }

// Observers fans a record out to each observer in order.
func Observers(obs ...Observer) Observer {
	return ObserverFunc(func(r Record) {
		for _, o := range obs {
			if o != nil {
				o.Observe(r)
			}
		}
	})
}
