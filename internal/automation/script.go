//go:build !no_automation

package automation

// ScriptMeta is the JSON header on the first line of a script file.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a Lua file in the scripts directory.
type Script struct {
	ID       string     `json:"id"` // filename stem
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

// ScriptStatus reports whether a script is loaded and how many handlers
// it registered.
type ScriptStatus struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	Handlers int    `json:"handlers"`
	Error    string `json:"error,omitempty"`
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}
