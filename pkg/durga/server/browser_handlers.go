package server

import (
	"net/http"
)

// handleBrowserStatus implements GET /browser/status: session state plus
// the worker's side-channel inbox snapshot when one exists.
func (s *Server) handleBrowserStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"browser":        s.deps.Supervisor.State(),
		"inbox":          s.deps.Supervisor.InboxState(),
		"pending_events": s.deps.Queue.PendingCount(),
	})
}

// handleBrowserScreenshot implements GET /browser/screenshot.
func (s *Server) handleBrowserScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, ok := s.deps.Supervisor.ScreenshotPath()
	if !ok {
		s.writeError(w, "no screenshot available", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

func (s *Server) handleBrowserPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Supervisor.Pause()
	s.deps.Persist()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "paused"})
}

func (s *Server) handleBrowserResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Supervisor.Resume()
	s.deps.Persist()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "running"})
}

func (s *Server) handleBrowserStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Supervisor.Stop()
	s.deps.Persist()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "stopped"})
}

func (s *Server) handleBrowserTakeControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Supervisor.TakeControl()
	s.deps.Persist()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "manual",
		"message": "Browser window opening on your desktop. You have full control.",
	})
}

func (s *Server) handleBrowserReturnControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Supervisor.ReturnControl()
	s.deps.Persist()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "running"})
}

type browserActionRequest struct {
	Action   string `json:"action"`
	EmailNum int    `json:"email_num"`
	Template string `json:"template"`
}

// handleBrowserAction implements POST /browser/action, bypassing the
// free-text parser for callers that already know the intent.
func (s *Server) handleBrowserAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req browserActionRequest
	if !s.readBody(w, r, &req) {
		return
	}
	if req.Action == "" {
		s.writeError(w, "action is required", http.StatusBadRequest)
		return
	}
	s.logger.Info("browser action requested", "action", req.Action, "email", req.EmailNum, "template", req.Template)
	result, err := s.deps.Supervisor.Invoke(req.Action, req.EmailNum, req.Template)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.deps.Persist()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": result.Success,
		"message": result.Message,
		"output":  result.Output,
		"error":   result.Error,
		"status":  result.Status,
	})
}
