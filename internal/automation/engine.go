//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"zigstack/internal/events"
	"zigstack/internal/mt"
)

// Sender is the part of a session scripts may drive.
type Sender interface {
	Send(ctx context.Context, cmd mt.Command, payload []byte) error
	Request(ctx context.Context, cmd mt.Command, payload []byte) (*mt.Frame, error)
	SendAck(seq uint8) error
	SendNak(seq uint8) error
}

const (
	runTimeout     = 5 * time.Second
	requestTimeout = 3 * time.Second
)

// luaHandler is a callback registered with mt.on.
type luaHandler struct {
	eventType events.Type
	filter    handlerFilter
	fn        *lua.LFunction
}

type handlerFilter struct {
	direction string
	subsystem string
	cmdType   string
	cmd0      int // -1: any
	cmd1      int // -1: any
}

func (f handlerFilter) match(fe events.FrameEvent) bool {
	if f.direction != "" && !strings.EqualFold(f.direction, fe.Direction) {
		return false
	}
	if f.subsystem != "" && !strings.EqualFold(f.subsystem, fe.Subsystem) {
		return false
	}
	if f.cmdType != "" && !strings.EqualFold(f.cmdType, fe.Type) {
		return false
	}
	if f.cmd0 >= 0 && uint8(f.cmd0) != fe.Cmd0 {
		return false
	}
	if f.cmd1 >= 0 && uint8(f.cmd1) != fe.Cmd1 {
		return false
	}
	return true
}

// scriptVM is one Lua state. Only the goroutine draining commands touches it.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState)
	handlers []luaHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers

	// logf receives mt.log output; one-shot runs capture it.
	logf func(string)
}

func (vm *scriptVM) handlerCount() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.handlers)
}

// Engine runs each enabled script in its own VM and feeds it bus events.
type Engine struct {
	bus     *events.Bus
	sender  Sender
	manager *Manager
	logger  *slog.Logger

	mu     sync.Mutex
	vms    map[string]*scriptVM
	errors map[string]string // last start error per script
	unsub  func()
}

func NewEngine(bus *events.Bus, sender Sender, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		bus:     bus,
		sender:  sender,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
		errors:  make(map[string]string),
	}
}

// Start subscribes to the bus and loads every enabled script.
func (e *Engine) Start() {
	e.unsub = e.bus.OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.mu.Lock()
	n := len(e.vms)
	e.mu.Unlock()
	e.logger.Info("automation engine started", "scripts", n)
}

func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// ReloadScript restarts a script from disk. A disabled script is only stopped.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// Status lists every script on disk with its runtime state.
func (e *Engine) Status() ([]ScriptStatus, error) {
	scripts, err := e.manager.List()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ScriptStatus, 0, len(scripts))
	for _, s := range scripts {
		st := ScriptStatus{ID: s.ID, Name: s.Meta.Name, Enabled: s.Meta.Enabled, Error: e.errors[s.ID]}
		if vm, ok := e.vms[s.ID]; ok {
			st.Running = true
			st.Handlers = vm.handlerCount()
		}
		out = append(out, st)
	}
	return out, nil
}

// newVM builds a sandboxed state with the mt module registered.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc) *scriptVM {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	vm.logf = func(msg string) { e.logger.Info("script log", "msg", msg) }
	registerMTModule(L, vm, e)
	return vm
}

// RunLuaCode executes code in a throwaway VM, then calls each handler it
// registered once with a synthetic event of the handler's type. Frames the
// script sends go to the real line.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	vm := e.newVM(ctx, cancel)
	L := vm.state
	defer L.Close()
	L.SetContext(ctx)

	var logs []string
	vm.logf = func(msg string) {
		logs = append(logs, msg)
		e.logger.Info("script run log", "msg", msg)
	}

	fail := func(err error) *RunResult {
		msg := err.Error()
		if strings.Contains(msg, "context deadline exceeded") {
			msg = fmt.Sprintf("timeout (%s)", runTimeout)
		}
		e.logger.Warn("script run failed", "err", msg)
		return &RunResult{OK: false, Error: msg, Logs: logs, Duration: time.Since(start).String()}
	}

	if err := L.DoString(code); err != nil {
		return fail(err)
	}

	vm.mu.Lock()
	handlers := append([]luaHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range handlers {
		ev := events.Event{Type: h.eventType, Data: events.FrameEvent{
			Direction: h.filter.direction,
			Subsystem: h.filter.subsystem,
			Type:      h.filter.cmdType,
			Time:      time.Now(),
		}}
		if h.filter.cmd0 >= 0 {
			ev.Data.Cmd0 = uint8(h.filter.cmd0)
		}
		if h.filter.cmd1 >= 0 {
			ev.Data.Cmd1 = uint8(h.filter.cmd1)
		}
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, eventTable(L, ev)); err != nil {
			return fail(err)
		}
	}

	return &RunResult{OK: true, Logs: logs, Duration: time.Since(start).String()}
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.errors, id)
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel)
	L := vm.state

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		e.mu.Lock()
		e.errors[s.ID] = err.Error()
		e.mu.Unlock()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	delete(e.errors, s.ID)
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name, "handlers", vm.handlerCount())
	return nil
}

// dispatchEvent queues matching handlers on each VM's command channel.
func (e *Engine) dispatchEvent(ev events.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaHandler(nil), vm.handlers...)
		vm.mu.Unlock()

		for _, h := range handlers {
			if h.eventType != ev.Type || !h.filter.match(ev.Data) {
				continue
			}
			fn := h.fn
			select {
			case <-vm.ctx.Done():
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, ev) }:
			default:
				e.logger.Warn("script command channel full, dropping event", "type", ev.Type)
			}
		}
	}
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, eventTable(L, ev)); err != nil {
		e.logger.Error("lua handler error", "type", ev.Type, "err", err)
	}
}

// eventTable is the Lua view of an event. The command type is exposed as
// cmd_type since type holds the event type.
func eventTable(L *lua.LState, ev events.Event) *lua.LTable {
	fe := ev.Data
	t := L.NewTable()
	t.RawSetString("type", lua.LString(ev.Type))
	t.RawSetString("direction", lua.LString(fe.Direction))
	t.RawSetString("cmd0", lua.LNumber(fe.Cmd0))
	t.RawSetString("cmd1", lua.LNumber(fe.Cmd1))
	t.RawSetString("payload", lua.LString(fe.Payload))
	t.RawSetString("raw", lua.LString(fe.Raw))
	t.RawSetString("time", lua.LNumber(fe.Time.Unix()))
	for k, v := range map[string]string{
		"cmd_type":   fe.Type,
		"subsystem":  fe.Subsystem,
		"command":    fe.Command,
		"control":    fe.Control,
		"error":      fe.Error,
		"error_kind": fe.ErrorKind,
	} {
		if v != "" {
			t.RawSetString(k, lua.LString(v))
		}
	}
	return t
}
