package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"zigstack/internal/link"
	"zigstack/internal/mt"
	"zigstack/internal/session"
	"zigstack/internal/transport"
)

func TestObserve(t *testing.T) {
	m := New()

	ping, _ := mt.NewFrame(mt.Command{Cmd0: 0x21, Cmd1: 0x01}, nil)
	rsp, _ := mt.NewFrame(mt.Command{Cmd0: 0x61, Cmd1: 0x01}, []byte{0x79, 0x01})
	ack := link.Frame{Control: 0x83}

	m.Observe(session.Record{Direction: session.DirectionTX, Raw: make([]byte, 5), Frame: ping})
	m.Observe(session.Record{Direction: session.DirectionRX, Raw: make([]byte, 7), Frame: rsp})
	m.Observe(session.Record{Direction: session.DirectionTX, Raw: make([]byte, 4), Control: &ack})
	m.Observe(session.Record{Direction: session.DirectionRX, Raw: make([]byte, 5), Err: &transport.DecodeError{Err: &mt.ChecksumError{}}})
	m.Observe(session.Record{Direction: session.DirectionRX, Raw: make([]byte, 2), Err: &transport.DecodeError{Err: link.ErrNoTerminator}})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"tx sreq", testutil.ToFloat64(m.frames.WithLabelValues("tx", "SYS", "SREQ")), 1},
		{"rx srsp", testutil.ToFloat64(m.frames.WithLabelValues("rx", "SYS", "SRSP")), 1},
		{"ack", testutil.ToFloat64(m.controls.WithLabelValues("tx", "ack")), 1},
		{"checksum", testutil.ToFloat64(m.decodeErrors.WithLabelValues("checksum")), 1},
		{"noise", testutil.ToFloat64(m.decodeErrors.WithLabelValues("noise")), 1},
		{"rx bytes", testutil.ToFloat64(m.bytes.WithLabelValues("rx")), 14},
		{"tx bytes", testutil.ToFloat64(m.bytes.WithLabelValues("tx")), 9},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest("SREQ SYS_PING", 12*time.Millisecond, nil)
	m.ObserveRequest("SREQ SYS_PING", time.Second, errors.New("timeout"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`zigstack_request_duration_seconds_count{command="SREQ SYS_PING",outcome="ok"} 1`,
		`zigstack_request_duration_seconds_count{command="SREQ SYS_PING",outcome="error"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
