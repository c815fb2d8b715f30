//go:build !no_automation

package web

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"zigstack/internal/automation"
	"zigstack/internal/events"
	"zigstack/internal/logging"
)

func setupAutomationServer(t *testing.T) (*Server, *automation.Engine, *automation.Manager) {
	t.Helper()
	mgr, err := automation.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	line := &fakeLine{rsp: []byte{0x59, 0x01}}
	engine := automation.NewEngine(events.NewBus(logging.Quiet()), line, mgr, logging.Quiet())
	engine.Start()
	t.Cleanup(engine.Stop)
	srv, _, _ := setupTestServer(t, WithAutomation(engine, mgr))
	return srv, engine, mgr
}

func scriptStatus(t *testing.T, engine *automation.Engine, id string) automation.ScriptStatus {
	t.Helper()
	status, err := engine.Status()
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range status {
		if st.ID == id {
			return st
		}
	}
	t.Fatalf("script %q not in status", id)
	return automation.ScriptStatus{}
}

func TestAPIScriptLifecycle(t *testing.T) {
	srv, engine, mgr := setupAutomationServer(t)

	w := do(t, srv, "POST", "/api/scripts", `{"name":"Ack Watch","lua_code":"mt.on(\"link_control\", {}, function(ev) end)","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", w.Code, w.Body)
	}
	var created automation.Script
	decodeBody(t, w, &created)
	if created.ID != "ack_watch" {
		t.Fatalf("id = %q, want ack_watch", created.ID)
	}
	if st := scriptStatus(t, engine, "ack_watch"); !st.Running || st.Handlers != 1 {
		t.Errorf("after create: running %t handlers %d, want running with 1 handler", st.Running, st.Handlers)
	}

	w = do(t, srv, "PUT", "/api/scripts/ack_watch", `{"lua_code":"mt.on(\"frame_rx\", {}, function(ev) end)\nmt.on(\"frame_tx\", {}, function(ev) end)","enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d: %s", w.Code, w.Body)
	}
	sc, err := mgr.Get("ack_watch")
	if err != nil {
		t.Fatal(err)
	}
	if sc.Meta.Name != "Ack Watch" {
		t.Errorf("name after update without name = %q, want Ack Watch", sc.Meta.Name)
	}
	if st := scriptStatus(t, engine, "ack_watch"); st.Handlers != 2 {
		t.Errorf("after update: handlers = %d, want 2", st.Handlers)
	}

	w = do(t, srv, "POST", "/api/scripts/ack_watch/toggle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("toggle: status = %d: %s", w.Code, w.Body)
	}
	if st := scriptStatus(t, engine, "ack_watch"); st.Enabled || st.Running {
		t.Errorf("after toggle: enabled %t running %t, want stopped", st.Enabled, st.Running)
	}

	w = do(t, srv, "DELETE", "/api/scripts/ack_watch", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status = %d: %s", w.Code, w.Body)
	}
	if _, err := os.Stat(filepath.Join(mgr.Dir(), "ack_watch.lua")); !os.IsNotExist(err) {
		t.Errorf("script file still present: %v", err)
	}
	if w := do(t, srv, "GET", "/api/scripts/ack_watch", ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", w.Code)
	}
}

func TestAPIScriptSaveErrors(t *testing.T) {
	srv, engine, _ := setupAutomationServer(t)

	tests := []struct {
		name, method, path, body string
		status                   int
	}{
		{"create without name", "POST", "/api/scripts", `{"lua_code":"x = 1"}`, http.StatusBadRequest},
		{"create bad json", "POST", "/api/scripts", `{`, http.StatusBadRequest},
		{"update missing", "PUT", "/api/scripts/nope", `{"lua_code":"x = 1"}`, http.StatusNotFound},
		{"toggle missing", "POST", "/api/scripts/nope/toggle", "", http.StatusNotFound},
		{"delete missing", "DELETE", "/api/scripts/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, srv, tt.method, tt.path, tt.body); w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body)
			}
		})
	}

	// A script that fails to run is saved and reports its error.
	w := do(t, srv, "POST", "/api/scripts", `{"name":"broken","lua_code":"this is not lua","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create broken: status = %d", w.Code)
	}
	if st := scriptStatus(t, engine, "broken"); st.Running || st.Error == "" {
		t.Errorf("broken: running %t error %q, want stopped with error", st.Running, st.Error)
	}
}
