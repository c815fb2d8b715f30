//go:build !no_automation

package automation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

func validScriptID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\") && !strings.Contains(id, "..")
}

// Manager reads and writes *.lua files in one directory. A file may start
// with a metadata line of the form:
//
//	-- {"name": "...", "enabled": true}
//
// Files without one are treated as enabled and named after the file.
type Manager struct {
	dir string
	mu  sync.RWMutex
}

// NewManager creates dir if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

func (m *Manager) Dir() string { return m.dir }

// List returns every script in the directory sorted by ID. Unreadable files
// are skipped.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		s, err := parseScriptFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("invalid script id: %q", id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return parseScriptFile(filepath.Join(m.dir, id+".lua"))
}

// Save writes s, deriving a unique ID from its name when s.ID is empty.
func (m *Manager) Save(s *Script) (*Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		base := slugify(s.Meta.Name)
		if base == "" {
			base = "script"
		}
		s.ID = base
		for i := 1; ; i++ {
			if _, err := os.Stat(filepath.Join(m.dir, s.ID+".lua")); os.IsNotExist(err) {
				break
			}
			s.ID = fmt.Sprintf("%s_%d", base, i)
		}
	} else if !validScriptID(s.ID) {
		return nil, fmt.Errorf("invalid script id: %q", s.ID)
	}

	s.FilePath = filepath.Join(m.dir, s.ID+".lua")
	if err := os.WriteFile(s.FilePath, []byte(serializeScript(s)), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("invalid script id: %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(filepath.Join(m.dir, id+".lua")); err != nil {
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

func parseScriptFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSuffix(filepath.Base(path), ".lua")
	s := &Script{
		ID:       id,
		Meta:     ScriptMeta{Name: id, Enabled: true},
		FilePath: path,
	}

	code := string(data)
	first, rest, _ := strings.Cut(code, "\n")
	if strings.HasPrefix(first, "-- {") {
		if err := json.Unmarshal([]byte(strings.TrimPrefix(first, "-- ")), &s.Meta); err != nil {
			return nil, fmt.Errorf("script %s: metadata: %w", id, err)
		}
		code = rest
	}
	s.LuaCode = strings.TrimLeft(code, "\r\n")
	return s, nil
}

func serializeScript(s *Script) string {
	var b strings.Builder
	meta, _ := json.Marshal(s.Meta)
	b.WriteString("-- ")
	b.Write(meta)
	b.WriteString("\n")
	if s.LuaCode != "" {
		b.WriteString("\n")
		b.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	s = strings.Trim(s, "_")
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
