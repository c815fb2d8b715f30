//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zigstack/internal/events"
	"zigstack/internal/link"
	"zigstack/internal/mt"
)

const maxHandlersPerScript = 100

// registerMTModule installs the `mt` global table.
func registerMTModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on":       func(L *lua.LState) int { return mtOn(L, vm) },
		"send":     func(L *lua.LState) int { return mtSend(L, vm, e) },
		"ack":      func(L *lua.LState) int { return mtAck(L, e) },
		"nak":      func(L *lua.LState) int { return mtNak(L, e) },
		"fcs":      mtFCS,
		"envelope": mtEnvelope,
		"decode":   mtDecode,
		"after":    func(L *lua.LState) int { return mtAfter(L, vm, e) },
		"log":      func(L *lua.LState) int { return mtLog(L, vm) },
		"now":      mtNow,
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("mt", mod)
}

// mt.on(type, filter, callback)
//
// filter keys: direction, subsystem, cmd_type, cmd0, cmd1. Missing keys match
// anything.
func mtOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filter := L.OptTable(2, L.NewTable())
	fn := L.CheckFunction(3)

	switch events.Type(eventType) {
	case events.FrameRX, events.FrameTX, events.DecodeError, events.LinkControl:
	default:
		L.ArgError(1, fmt.Sprintf("unknown event type %q", eventType))
		return 0
	}

	h := luaHandler{
		eventType: events.Type(eventType),
		fn:        fn,
		filter:    handlerFilter{cmd0: -1, cmd1: -1},
	}
	if v := filter.RawGetString("direction"); v != lua.LNil {
		h.filter.direction = v.String()
	}
	if v := filter.RawGetString("subsystem"); v != lua.LNil {
		h.filter.subsystem = v.String()
	}
	if v := filter.RawGetString("cmd_type"); v != lua.LNil {
		h.filter.cmdType = v.String()
	}
	if v, ok := filter.RawGetString("cmd0").(lua.LNumber); ok {
		h.filter.cmd0 = int(v) & 0xFF
	}
	if v, ok := filter.RawGetString("cmd1").(lua.LNumber); ok {
		h.filter.cmd1 = int(v) & 0xFF
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()
	return 0
}

// mt.send(cmd0, cmd1, payload_hex)
//
// An SREQ blocks until the SRSP arrives and returns its payload as hex. Other
// types return true once written. Failures return nil, err.
func mtSend(L *lua.LState, vm *scriptVM, e *Engine) int {
	cmd := mt.Command{Cmd0: uint8(L.CheckInt(1)), Cmd1: uint8(L.CheckInt(2))}
	payload, err := mt.ParseHex(L.OptString(3, ""))
	if err != nil {
		L.ArgError(3, err.Error())
		return 0
	}
	if e.sender == nil {
		L.Push(lua.LNil)
		L.Push(lua.LString("no line attached"))
		return 2
	}

	ctx, cancel := context.WithTimeout(vm.ctx, requestTimeout)
	defer cancel()

	if cmd.Type() == mt.TypeSREQ {
		rsp, err := e.sender.Request(ctx, cmd, payload)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(fmt.Sprintf("%X", rsp.Payload)))
		return 1
	}
	if err := e.sender.Send(ctx, cmd, payload); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// mt.ack(seq)
func mtAck(L *lua.LState, e *Engine) int {
	return mtControl(L, e, func(seq uint8) error { return e.sender.SendAck(seq) })
}

// mt.nak(seq)
func mtNak(L *lua.LState, e *Engine) int {
	return mtControl(L, e, func(seq uint8) error { return e.sender.SendNak(seq) })
}

func mtControl(L *lua.LState, e *Engine, send func(uint8) error) int {
	seq := uint8(L.CheckInt(1))
	if e.sender == nil {
		L.Push(lua.LNil)
		L.Push(lua.LString("no line attached"))
		return 2
	}
	if err := send(seq); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// mt.fcs(hex) returns the XOR checksum of the bytes.
func mtFCS(L *lua.LState) int {
	b, err := mt.ParseHex(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	L.Push(lua.LNumber(mt.FCS(b)))
	return 1
}

// mt.envelope(cmd0, cmd1, payload_hex) returns the wire frame as hex.
func mtEnvelope(L *lua.LState) int {
	cmd := mt.Command{Cmd0: uint8(L.CheckInt(1)), Cmd1: uint8(L.CheckInt(2))}
	payload, err := mt.ParseHex(L.OptString(3, ""))
	if err != nil {
		L.ArgError(3, err.Error())
		return 0
	}
	raw, err := mt.Envelope(cmd, payload)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(fmt.Sprintf("%X", raw)))
	return 1
}

// mt.decode(hex) decodes an MT envelope (leading FE) or a link control
// frame. Returns a table, or nil and the error.
func mtDecode(L *lua.LState) int {
	raw, err := mt.ParseHex(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	t := L.NewTable()
	if len(raw) > 0 && raw[0] == mt.SOF {
		f, err := mt.DecodeStandard(raw)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		cmd := f.Command()
		t.RawSetString("kind", lua.LString("mt"))
		t.RawSetString("cmd0", lua.LNumber(cmd.Cmd0))
		t.RawSetString("cmd1", lua.LNumber(cmd.Cmd1))
		t.RawSetString("cmd_type", lua.LString(cmd.Type().String()))
		t.RawSetString("subsystem", lua.LString(cmd.Subsystem().String()))
		t.RawSetString("known", lua.LBool(cmd.KnownSubsystem()))
		t.RawSetString("length", lua.LNumber(f.Header.Length))
		t.RawSetString("payload", lua.LString(fmt.Sprintf("%X", f.Payload)))
		L.Push(t)
		return 1
	}

	cf, err := link.DecodeControlFrame(raw)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	t.RawSetString("kind", lua.LString("link"))
	t.RawSetString("control", lua.LNumber(cf.Control))
	t.RawSetString("control_kind", lua.LString(cf.Kind().String()))
	t.RawSetString("seq", lua.LNumber(cf.Seq()))
	t.RawSetString("crc", lua.LNumber(cf.CRC))
	t.RawSetString("payload", lua.LString(fmt.Sprintf("%X", cf.Payload)))
	L.Push(t)
	return 1
}

// mt.after(seconds, callback)
func mtAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		case <-vm.ctx.Done():
		default:
			e.logger.Warn("after: command channel full")
		}
	}()
	return 0
}

// mt.log(msg)
func mtLog(L *lua.LState, vm *scriptVM) int {
	vm.logf(L.CheckString(1))
	return 0
}

// mt.now() returns unix seconds with sub-second precision.
func mtNow(L *lua.LState) int {
	L.Push(lua.LNumber(float64(time.Now().UnixNano()) / 1e9))
	return 1
}
