package web

import (
	"net/http"

	"zigstack/internal/automation"
)

func (s *Server) handleAPIListScripts(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	status, err := s.autoEngine.Status()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAPIGetScript(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}
	sc, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleAPIReloadScript(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}
	id := r.PathValue("id")
	if err := s.autoEngine.ReloadScript(id); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIStopScript(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}
	s.autoEngine.StopScript(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runScriptRequest struct {
	LuaCode string `json:"lua_code"`
}

// handleAPIRunScript executes ad-hoc Lua in a throwaway VM.
func (s *Server) handleAPIRunScript(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}
	var req runScriptRequest
	if err := readJSON(w, r, &req); err != nil || req.LuaCode == "" {
		s.writeError(w, http.StatusBadRequest, "lua_code is required")
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
}

type saveScriptRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

func (s *Server) handleAPICreateScript(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}
	var req saveScriptRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	saved, err := s.scriptMgr.Save(&automation.Script{
		Meta: automation.ScriptMeta{
			Name:        req.Name,
			Description: req.Description,
			Enabled:     req.Enabled,
		},
		LuaCode: req.LuaCode,
	})
	if err != nil {
		s.logger.Error("create script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reloadSaved(saved)
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateScript(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}
	existing, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	var req saveScriptRequest
	if err := readJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != "" {
		existing.Meta.Name = req.Name
	}
	existing.Meta.Description = req.Description
	existing.Meta.Enabled = req.Enabled
	existing.LuaCode = req.LuaCode

	saved, err := s.scriptMgr.Save(existing)
	if err != nil {
		s.logger.Error("update script", "id", existing.ID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reloadSaved(saved)
	s.writeJSON(w, http.StatusOK, saved)
}

// handleAPIToggleScript flips the enabled flag and starts or stops the script.
func (s *Server) handleAPIToggleScript(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}
	sc, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	sc.Meta.Enabled = !sc.Meta.Enabled
	saved, err := s.scriptMgr.Save(sc)
	if err != nil {
		s.logger.Error("toggle script", "id", sc.ID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.reloadSaved(saved)
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteScript(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automation not available")
		return
	}
	id := r.PathValue("id")
	if _, err := s.scriptMgr.Get(id); err != nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return
	}
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	if err := s.scriptMgr.Delete(id); err != nil {
		s.logger.Error("delete script", "id", id, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reloadSaved restarts a saved script, or stops it when it is disabled. A
// script that fails to start is still saved; Status reports the error.
func (s *Server) reloadSaved(sc *automation.Script) {
	if s.autoEngine == nil {
		return
	}
	if err := s.autoEngine.ReloadScript(sc.ID); err != nil {
		s.logger.Warn("reload script after save", "id", sc.ID, "err", err)
	}
}
