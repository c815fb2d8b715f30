//go:build no_automation

package automation

import (
	"context"
	"errors"
	"log/slog"

	"zigstack/internal/events"
	"zigstack/internal/mt"
)

var errDisabled = errors.New("automation disabled in this build")

type Sender interface {
	Send(ctx context.Context, cmd mt.Command, payload []byte) error
	Request(ctx context.Context, cmd mt.Command, payload []byte) (*mt.Frame, error)
	SendAck(seq uint8) error
	SendNak(seq uint8) error
}

type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

type ScriptStatus struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	Handlers int    `json:"handlers"`
	Error    string `json:"error,omitempty"`
}

type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

func NewManager(string) (*Manager, error)        { return &Manager{}, nil }
func (m *Manager) Dir() string                   { return "" }
func (m *Manager) List() ([]*Script, error)      { return nil, nil }
func (m *Manager) Get(string) (*Script, error)   { return nil, errDisabled }
func (m *Manager) Save(*Script) (*Script, error) { return nil, errDisabled }
func (m *Manager) Delete(string) error           { return errDisabled }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

func NewEngine(*events.Bus, Sender, *Manager, *slog.Logger) *Engine { return &Engine{} }
func (e *Engine) Start()                                           {}
func (e *Engine) Stop()                                            {}
func (e *Engine) ReloadScript(string) error                        { return errDisabled }
func (e *Engine) StopScript(string)                                {}
func (e *Engine) Status() ([]ScriptStatus, error)                  { return nil, nil }
func (e *Engine) RunLuaCode(string) *RunResult {
	return &RunResult{OK: false, Error: errDisabled.Error()}
}
