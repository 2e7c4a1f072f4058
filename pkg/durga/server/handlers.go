package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/durgabridge/durga/pkg/durga/browser"
	"github.com/durgabridge/durga/pkg/durga/events"
	"github.com/durgabridge/durga/pkg/durga/suggest"
)

const serviceName = "durga-bridge"

// maxBodySize bounds request bodies so an oversized payload cannot OOM
// the daemon.
const maxBodySize = 2 * 1024 * 1024

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, msg string, code int) {
	s.writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, "failed to read body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

type askRequest struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

type askAction struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	EmailNum int    `json:"email_num,omitempty"`
	Template string `json:"template,omitempty"`
}

type askResponse struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Actions []askAction `json:"actions"`
	Sources []string    `json:"sources"`
}

// handleAsk implements POST /ask. A recognized automation command goes to
// the browser supervisor; everything else goes through the budget gate to
// the language-model CLI with context enrichment.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req askRequest
	if !s.readBody(w, r, &req) {
		return
	}

	if cmd := browser.Parse(req.Query); cmd != nil {
		s.logger.Info("browser command detected", "action", cmd.Action, "email", cmd.EmailNum, "template", cmd.Template)
		result, err := s.deps.Supervisor.Invoke(cmd.Action, cmd.EmailNum, cmd.Template)
		if err != nil {
			s.writeError(w, "browser automation error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"response": askResponse{
				Message: result.Message,
				Type:    "browser_automation",
				Actions: []askAction{{
					Type:     "browser",
					Action:   cmd.Action,
					EmailNum: cmd.EmailNum,
					Template: cmd.Template,
				}},
				Sources: []string{"Browser Automation"},
			},
		})
		return
	}

	if !s.deps.Gate.CanSpend() {
		s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success":     false,
			"error":       "daily token limit reached",
			"token_usage": s.deps.Gate.Usage(),
		})
		return
	}

	enriched := req.Context
	responseType := suggest.Classify(req.Query)
	sources := []string{}

	if suggest.IsInboxQuery(req.Query) {
		emails, err := s.deps.Manager.FetchRecent(r.Context(), "gmail", 5)
		if err != nil {
			enriched = fmt.Sprintf("Note: could not fetch emails (%v). %s", err, req.Context)
		} else if len(emails) > 0 {
			userCtx := req.Context
			if userCtx == "" {
				userCtx = "None"
			}
			enriched = fmt.Sprintf("INBOX DATA (%d recent emails):\n%s\n\nUser context: %s",
				len(emails), suggest.FormatEmails(emails), userCtx)
			responseType = suggest.ResponseInbox
			sources = []string{"Gmail API"}
		}
	}

	if responseType == suggest.ResponseEvents || strings.Contains(strings.ToLower(req.Query), "pending") {
		if pending := s.deps.Queue.List(events.StatusPending); len(pending) > 0 {
			enriched += suggest.FormatPendingEvents(pending)
		}
	}

	prompt := suggest.BuildAskPrompt(req.Query, enriched)
	output, code, err := s.deps.Runner.Complete(r.Context(), prompt)
	if err != nil {
		s.writeError(w, "completion backend unavailable: "+err.Error(), http.StatusInternalServerError)
		return
	}
	report := s.deps.Gate.Track(prompt, output)

	message := strings.TrimSpace(output)
	if message == "" {
		message = "No response from completion backend"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": code == 0,
		"response": askResponse{
			Message: message,
			Type:    responseType,
			Actions: []askAction{},
			Sources: sources,
		},
		"token_usage": report,
	})
}

// handleEvents implements GET /events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	all := s.deps.Queue.List("")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"events":  all,
		"pending": s.deps.Queue.PendingCount(),
		"total":   len(all),
	})
}

// handleEventsPending implements GET /events/pending.
func (s *Server) handleEventsPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pending := s.deps.Queue.List(events.StatusPending)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"events":  pending,
		"count":   len(pending),
	})
}

// handleEventsClear implements DELETE /events/clear.
func (s *Server) handleEventsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Queue.Clear()
	s.deps.Persist()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "event queue cleared",
	})
}

// handleEventDecision implements POST /events/{id}/approve and
// POST /events/{id}/dismiss.
func (s *Server) handleEventDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "events" {
		s.writeError(w, "not found", http.StatusNotFound)
		return
	}
	id, decision := parts[1], parts[2]

	var (
		event events.Event
		err   error
	)
	switch decision {
	case "approve":
		event, err = s.deps.Queue.Approve(id)
	case "dismiss":
		event, err = s.deps.Queue.Dismiss(id)
	default:
		s.writeError(w, "not found", http.StatusNotFound)
		return
	}
	switch {
	case errors.Is(err, events.ErrNotFound):
		s.writeError(w, "event not found", http.StatusNotFound)
		return
	case errors.Is(err, events.ErrInvalidTransition):
		s.writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.deps.Store.ArchiveStatus(event.ID, event.Status)
	s.deps.Persist()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"event":   event,
	})
}

// handleTokens implements GET /tokens.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	usage := s.deps.Gate.Usage()
	limit := s.deps.Gate.DailyLimit()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"usage":     usage,
		"limit":     limit,
		"remaining": limit - usage.Today,
	})
}

type configUpdate struct {
	Polling     *bool `json:"polling"`
	AutoProcess *bool `json:"auto_process"`
	TokenLimit  *int  `json:"token_limit"`
}

func (s *Server) configView() map[string]any {
	return map[string]any{
		"polling":      map[string]any{"enabled": s.deps.Manager.Enabled()},
		"auto_process": map[string]any{"enabled": s.deps.Manager.AutoProcess()},
		"token_tracking": map[string]any{
			"daily_limit": s.deps.Gate.DailyLimit(),
		},
	}
}

// handleConfig implements GET /config and POST /config. Toggling polling
// stops or starts the poller schedules immediately.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"config":  s.configView(),
		})
	case http.MethodPost:
		var upd configUpdate
		if !s.readBody(w, r, &upd) {
			return
		}
		if upd.Polling != nil {
			s.deps.Manager.SetEnabled(*upd.Polling)
		}
		if upd.AutoProcess != nil {
			s.deps.Manager.SetAutoProcess(*upd.AutoProcess)
		}
		if upd.TokenLimit != nil {
			s.deps.Gate.SetDailyLimit(*upd.TokenLimit)
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"config":  s.configView(),
		})
	default:
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// webhookSources maps the webhook path suffix to the event shape it
// produces. Webhook ids are timestamp-derived, not content-derived, so a
// replayed delivery makes a new event.
var webhookSources = map[string]struct {
	eventType events.Type
	source    string
	idPrefix  string
}{
	"gmail":    {events.TypeNewEmail, "gmail_webhook", "gmail_webhook"},
	"whatsapp": {events.TypeNewWhatsApp, "whatsapp_webhook", "whatsapp_webhook"},
	"forms":    {events.TypeNewSubmission, "forms_webhook", "form_webhook"},
}

// handleWebhook implements POST /webhook/{gmail,whatsapp,forms}.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/webhook/")
	src, ok := webhookSources[name]
	if !ok {
		s.writeError(w, "not found", http.StatusNotFound)
		return
	}
	var payload map[string]any
	if !s.readBody(w, r, &payload) {
		return
	}

	event := events.Event{
		ID:        fmt.Sprintf("%s_%d", src.idPrefix, time.Now().UnixMilli()),
		Type:      src.eventType,
		Source:    src.source,
		Timestamp: time.Now(),
		Data:      payload,
		Status:    events.StatusPending,
	}
	if err := s.deps.Queue.Enqueue(event); err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.deps.Store.MarkProcessed(event.ID)
	s.deps.Store.ArchiveEvent(event)
	s.deps.Persist()
	s.logger.Info("webhook event received", "source", src.source, "id", event.ID)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"event_id": event.ID,
	})
}

// handleInbox implements GET /inbox, a direct proxy fetch of recent mail.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	emails, err := s.deps.Manager.FetchRecent(r.Context(), "gmail", 10)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if emails == nil {
		emails = []map[string]any{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"emails":  emails,
		"count":   len(emails),
	})
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"status":         "healthy",
		"service":        serviceName,
		"polling":        s.deps.Manager.Enabled(),
		"pending_events": s.deps.Queue.PendingCount(),
		"token_usage":    s.deps.Gate.Usage(),
	})
}

// handleInfo implements GET / with a self-describing endpoint listing.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, "not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"service":      serviceName,
		"polling":      s.deps.Manager.Enabled(),
		"auto_process": s.deps.Manager.AutoProcess(),
		"endpoints": map[string]string{
			"POST /ask":                   "query the assistant (recognizes browser commands)",
			"GET /inbox":                  "fetch recent mail from the gmail service",
			"GET /events":                 "full event queue",
			"GET /events/pending":         "pending events only",
			"POST /events/{id}/approve":   "approve a suggested action",
			"POST /events/{id}/dismiss":   "dismiss an event",
			"DELETE /events/clear":        "clear the event queue",
			"GET /tokens":                 "token usage and remaining budget",
			"GET /config":                 "current runtime configuration",
			"POST /config":                "update polling, auto-process, token limit",
			"POST /webhook/gmail":         "push a mail event",
			"POST /webhook/whatsapp":      "push a message event",
			"POST /webhook/forms":         "push a form submission",
			"GET /health":                 "health check",
			"GET /browser/status":         "automation session state",
			"GET /browser/screenshot":     "latest screenshot",
			"POST /browser/pause":         "pause automation",
			"POST /browser/resume":        "resume automation",
			"POST /browser/stop":          "stop the session",
			"POST /browser/take-control":  "switch to manual control",
			"POST /browser/return-control": "return control to automation",
			"POST /browser/action":        "run a specific automation action",
		},
	})
}
