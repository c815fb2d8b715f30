//go:build !no_automation

package automation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scripts")
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "Ack Watcher", Description: "logs acks", Enabled: true},
		LuaCode: `mt.log("hello")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "ack_watcher" {
		t.Errorf("id = %q, want ack_watcher", saved.ID)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.Name != "Ack Watcher" {
		t.Errorf("name = %q, want Ack Watcher", got.Meta.Name)
	}
	if got.Meta.Description != "logs acks" {
		t.Errorf("description = %q", got.Meta.Description)
	}
	if !got.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if !strings.Contains(got.LuaCode, `mt.log("hello")`) {
		t.Errorf("lua_code = %q", got.LuaCode)
	}
}

func TestManagerSaveExistingID(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{ID: "my_script", Meta: ScriptMeta{Name: "My Script", Enabled: true}, LuaCode: `mt.log("v1")`})
	if err != nil {
		t.Fatal(err)
	}
	saved.LuaCode = `mt.log("v2")`
	if _, err := m.Save(saved); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("my_script")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.LuaCode, `mt.log("v2")`) {
		t.Errorf("lua_code after update = %q", got.LuaCode)
	}
}

func TestManagerListSorted(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		if _, err := m.Save(&Script{Meta: ScriptMeta{Name: name}}); err != nil {
			t.Fatal(err)
		}
	}
	// Not a script.
	os.WriteFile(filepath.Join(m.Dir(), "notes.txt"), []byte("x"), 0o644)

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, s := range scripts {
		ids = append(ids, s.ID)
	}
	if got := strings.Join(ids, ","); got != "alpha,beta,gamma" {
		t.Errorf("ids = %s, want alpha,beta,gamma", got)
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Save(&Script{Meta: ScriptMeta{Name: "Doomed"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(s.ID); err == nil {
		t.Error("expected error after delete, got nil")
	}
}

func TestManagerInvalidID(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"", "..", "../etc/passwd", `a\b`, "a/b"} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q): expected error", id)
		}
		if err := m.Delete(id); err == nil {
			t.Errorf("Delete(%q): expected error", id)
		}
	}
}

func TestManagerUniqueID(t *testing.T) {
	m := newTestManager(t)
	a, err := m.Save(&Script{Meta: ScriptMeta{Name: "Same"}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Save(&Script{Meta: ScriptMeta{Name: "Same"}})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != "same" || b.ID != "same_1" {
		t.Errorf("ids = %q, %q; want same, same_1", a.ID, b.ID)
	}
}

func TestParseScriptFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name        string
		content     string
		wantName    string
		wantEnabled bool
		wantCode    string
		wantErr     bool
	}{
		{
			name:        "with_meta",
			content:     "-- {\"name\":\"Pinger\",\"enabled\":false}\n\nmt.log(\"x\")\n",
			wantName:    "Pinger",
			wantEnabled: false,
			wantCode:    "mt.log(\"x\")\n",
		},
		{
			name:        "plain",
			content:     "-- just a comment\nmt.log(\"y\")\n",
			wantName:    "plain",
			wantEnabled: true,
			wantCode:    "-- just a comment\nmt.log(\"y\")\n",
		},
		{
			name:    "bad_meta",
			content: "-- {not json\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".lua")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			s, err := parseScriptFile(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if s.ID != tt.name {
				t.Errorf("id = %q, want %q", s.ID, tt.name)
			}
			if s.Meta.Name != tt.wantName {
				t.Errorf("name = %q, want %q", s.Meta.Name, tt.wantName)
			}
			if s.Meta.Enabled != tt.wantEnabled {
				t.Errorf("enabled = %v, want %v", s.Meta.Enabled, tt.wantEnabled)
			}
			if s.LuaCode != tt.wantCode {
				t.Errorf("code = %q, want %q", s.LuaCode, tt.wantCode)
			}
		})
	}
}

func TestSerializeScriptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := &Script{ID: "rt", Meta: ScriptMeta{Name: "Round Trip", Enabled: true}, LuaCode: "mt.log(1)"}
	path := filepath.Join(dir, "rt.lua")
	if err := os.WriteFile(path, []byte(serializeScript(s)), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := parseScriptFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta != s.Meta {
		t.Errorf("meta = %+v, want %+v", got.Meta, s.Meta)
	}
	if got.LuaCode != "mt.log(1)\n" {
		t.Errorf("code = %q", got.LuaCode)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello World", "hello_world"},
		{"  SYS ping / reset  ", "sys_ping_reset"},
		{"___", ""},
		{strings.Repeat("a", 50), strings.Repeat("a", 40)},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
