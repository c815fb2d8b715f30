//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"zigstack/internal/events"
	"zigstack/internal/logging"
	"zigstack/internal/mt"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []mt.Command
	acks    []uint8
	naks    []uint8
	rsp     []byte
	failReq bool
}

func (f *fakeSender) Send(_ context.Context, cmd mt.Command, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSender) Request(_ context.Context, cmd mt.Command, _ []byte) (*mt.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	if f.failReq {
		return nil, errors.New("request timeout")
	}
	return mt.NewFrame(mt.Command{Cmd0: 0x61, Cmd1: cmd.Cmd1}, f.rsp)
}

func (f *fakeSender) SendAck(seq uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, seq)
	return nil
}

func (f *fakeSender) SendNak(seq uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.naks = append(f.naks, seq)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestEngine(t *testing.T) (*Engine, *events.Bus, *fakeSender, *Manager) {
	t.Helper()
	bus := events.NewBus(logging.Quiet())
	sender := &fakeSender{rsp: []byte{0x59, 0x01}}
	mgr := newTestManager(t)
	e := NewEngine(bus, sender, mgr, logging.Quiet())
	return e, bus, sender, mgr
}

func TestHandlerFilterMatch(t *testing.T) {
	fe := events.FrameEvent{Direction: "rx", Cmd0: 0x61, Cmd1: 0x01, Type: "SRSP", Subsystem: "SYS"}
	tests := []struct {
		name   string
		filter handlerFilter
		want   bool
	}{
		{"empty", handlerFilter{cmd0: -1, cmd1: -1}, true},
		{"direction", handlerFilter{direction: "RX", cmd0: -1, cmd1: -1}, true},
		{"wrong direction", handlerFilter{direction: "tx", cmd0: -1, cmd1: -1}, false},
		{"subsystem", handlerFilter{subsystem: "sys", cmd0: -1, cmd1: -1}, true},
		{"wrong subsystem", handlerFilter{subsystem: "MAC", cmd0: -1, cmd1: -1}, false},
		{"cmd type", handlerFilter{cmdType: "SRSP", cmd0: -1, cmd1: -1}, true},
		{"cmd0", handlerFilter{cmd0: 0x61, cmd1: -1}, true},
		{"cmd0 zero", handlerFilter{cmd0: 0, cmd1: -1}, false},
		{"cmd1", handlerFilter{cmd0: -1, cmd1: 0x02}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.match(fe); got != tt.want {
				t.Errorf("match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunLuaCodeHelpers(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	res := e.RunLuaCode(`
		mt.log(string.format("%02X", mt.fcs("00 21 01")))
		mt.log(mt.envelope(0x21, 0x01, ""))
		local f = mt.decode("FE00210120")
		mt.log(f.kind .. " " .. f.subsystem .. " " .. f.cmd_type)
		local a = mt.decode("82B1CA7E")
		mt.log(a.kind .. " " .. a.control_kind .. " " .. a.seq)
		local bad, err = mt.decode("FE00210121")
		mt.log(tostring(bad) .. " " .. tostring(err ~= nil))
	`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"20", "FE00210120", "mt SYS SREQ", "link ack 2", "nil true"}
	if len(res.Logs) != len(want) {
		t.Fatalf("logs = %q, want %q", res.Logs, want)
	}
	for i := range want {
		if res.Logs[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, res.Logs[i], want[i])
		}
	}
}

func TestRunLuaCodeSend(t *testing.T) {
	e, _, sender, _ := newTestEngine(t)

	res := e.RunLuaCode(`
		mt.log(mt.send(0x21, 0x01, ""))
		mt.log(tostring(mt.send(0x41, 0x00, "01")))
		mt.log(tostring(mt.ack(5)))
		mt.log(tostring(mt.nak(3)))
	`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if got := strings.Join(res.Logs, "|"); got != "5901|true|true|true" {
		t.Errorf("logs = %s", got)
	}
	if sender.sentCount() != 2 {
		t.Errorf("sent = %d, want 2", sender.sentCount())
	}
	if len(sender.acks) != 1 || sender.acks[0] != 5 {
		t.Errorf("acks = %v, want [5]", sender.acks)
	}
	if len(sender.naks) != 1 || sender.naks[0] != 3 {
		t.Errorf("naks = %v, want [3]", sender.naks)
	}
}

func TestRunLuaCodeSendError(t *testing.T) {
	e, _, sender, _ := newTestEngine(t)
	sender.failReq = true

	res := e.RunLuaCode(`
		local rsp, err = mt.send(0x21, 0x02, "")
		mt.log(tostring(rsp) .. ":" .. err)
	`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "nil:request timeout" {
		t.Errorf("logs = %q", res.Logs)
	}
}

func TestRunLuaCodeSandbox(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	for _, code := range []string{`os.exit(1)`, `io.write("x")`, `require("x")`, `dofile("/etc/passwd")`} {
		if res := e.RunLuaCode(code); res.OK {
			t.Errorf("%s: expected failure", code)
		}
	}
}

func TestRunLuaCodeTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the run timeout")
	}
	e, _, _, _ := newTestEngine(t)
	res := e.RunLuaCode(`while true do end`)
	if res.OK {
		t.Fatal("expected timeout")
	}
	if !strings.Contains(res.Error, "timeout") {
		t.Errorf("error = %q, want timeout", res.Error)
	}
}

func TestRunLuaCodeCallsHandlers(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	res := e.RunLuaCode(`
		mt.on("frame_rx", {subsystem = "SYS", cmd1 = 0x80}, function(ev)
			mt.log(ev.type .. " " .. ev.subsystem .. " " .. ev.cmd1)
		end)
	`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "frame_rx SYS 128" {
		t.Errorf("logs = %q", res.Logs)
	}
}

func TestRunLuaCodeUnknownEventType(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	if res := e.RunLuaCode(`mt.on("device_join", {}, function() end)`); res.OK {
		t.Error("expected error for unknown event type")
	}
}

func TestEngineDispatch(t *testing.T) {
	e, bus, sender, mgr := newTestEngine(t)

	// Answer every SYS reset indication with a ping.
	if _, err := mgr.Save(&Script{
		ID:   "on_reset",
		Meta: ScriptMeta{Name: "on reset", Enabled: true},
		LuaCode: `mt.on("frame_rx", {subsystem = "SYS", cmd1 = 0x80}, function(ev)
	mt.send(0x21, 0x01, "")
end)`,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Save(&Script{ID: "off", Meta: ScriptMeta{Name: "off", Enabled: false}, LuaCode: `error("never")`}); err != nil {
		t.Fatal(err)
	}

	e.Start()
	defer e.Stop()

	status, err := e.Status()
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != 2 {
		t.Fatalf("status len = %d, want 2", len(status))
	}
	for _, st := range status {
		switch st.ID {
		case "on_reset":
			if !st.Running || st.Handlers != 1 {
				t.Errorf("on_reset status = %+v", st)
			}
		case "off":
			if st.Running {
				t.Errorf("disabled script running")
			}
		}
	}

	// Not matching: wrong cmd1.
	bus.Emit(events.Event{Type: events.FrameRX, Data: events.FrameEvent{Subsystem: "SYS", Cmd0: 0x41, Cmd1: 0x01}})
	bus.Emit(events.Event{Type: events.FrameRX, Data: events.FrameEvent{Subsystem: "SYS", Cmd0: 0x41, Cmd1: 0x80}})

	deadline := time.Now().Add(2 * time.Second)
	for sender.sentCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := sender.sentCount(); got != 1 {
		t.Fatalf("sent = %d, want 1", got)
	}
}

func TestEngineReloadAndStop(t *testing.T) {
	e, _, _, mgr := newTestEngine(t)
	if _, err := mgr.Save(&Script{ID: "s", Meta: ScriptMeta{Name: "s", Enabled: true}, LuaCode: `syntax error here`}); err != nil {
		t.Fatal(err)
	}

	if err := e.ReloadScript("s"); err == nil {
		t.Fatal("expected error for bad script")
	}
	status, _ := e.Status()
	if len(status) != 1 || status[0].Error == "" || status[0].Running {
		t.Fatalf("status = %+v, want error and not running", status)
	}

	if _, err := mgr.Save(&Script{ID: "s", Meta: ScriptMeta{Name: "s", Enabled: true}, LuaCode: `mt.on("link_control", {}, function() end)`}); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript("s"); err != nil {
		t.Fatal(err)
	}
	status, _ = e.Status()
	if !status[0].Running || status[0].Error != "" || status[0].Handlers != 1 {
		t.Fatalf("status = %+v", status[0])
	}

	e.StopScript("s")
	status, _ = e.Status()
	if status[0].Running {
		t.Error("script still running after StopScript")
	}
}
