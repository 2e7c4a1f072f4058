package browser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Browser session statuses.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusPaused  = "paused"
	StatusManual  = "manual"
)

// Config controls the automation supervisor.
type Config struct {
	// Interpreter is the binary that runs the worker script (python3).
	Interpreter string `yaml:"interpreter"`

	// Script is the path of the automation worker script.
	Script string `yaml:"script"`

	// StatusFile is the side-channel JSON the worker writes its inbox
	// state to. Read best-effort; absence is "not available".
	StatusFile string `yaml:"status_file"`

	// ScreenshotFile is the side-channel PNG the worker refreshes.
	ScreenshotFile string `yaml:"screenshot_file"`

	// GraceDelay is how long an invocation waits before resolving
	// optimistically with status "started". Defaults to 1s.
	GraceDelay time.Duration `yaml:"grace_delay"`
}

// Result is the outcome reported to the caller. When the worker outlives
// the grace delay, Status is "started" and Success is optimistic; the true
// outcome is observed later through the side-channel files.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Supervisor launches the automation worker as a detached process and
// tracks the session state machine. The worker's lifetime is not tied to
// this process: it keeps running after the invocation resolves and is
// never killed — stop sends it a new "close" command instead.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	status       string
	lastAction   string
	currentEmail int
	mu           sync.Mutex
}

// NewSupervisor creates a supervisor in the idle state.
func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "browser"),
		status: StatusIdle,
	}
}

// Invoke launches the worker for the given intent. The call resolves
// within the grace delay regardless of how long the worker actually runs:
// a fast worker resolves with its real outcome, a slow one resolves
// optimistically with status "started". A spawn-level failure (missing
// executable, permission) is the only error that propagates.
func (s *Supervisor) Invoke(action string, emailNum int, template string) (Result, error) {
	args := []string{s.cfg.Script, action}
	if emailNum > 0 {
		args = append(args, strconv.Itoa(emailNum))
	}
	if template != "" {
		args = append(args, template)
	}

	runID := uuid.NewString()[:8]
	s.logger.Info("launching automation worker",
		"run", runID, "action", action, "email", emailNum, "template", template)

	cmd := exec.Command(s.cfg.Interpreter, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Own process group: the worker survives this process exiting and is
	// not reaped by our signal handling.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("spawning automation worker: %w", err)
	}

	s.mu.Lock()
	s.status = StatusRunning
	s.lastAction = action
	s.currentEmail = emailNum
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		// Worker finished within the grace window: report its real outcome.
		if err != nil {
			s.logger.Warn("automation worker failed",
				"run", runID, "error", err, "stderr", tail(stderr.String(), 500))
			return Result{
				Success: false,
				Message: fmt.Sprintf("Browser automation failed: %v", err),
				Error:   firstNonEmpty(stderr.String(), stdout.String()),
			}, nil
		}
		s.logger.Info("automation worker completed", "run", runID)
		return Result{
			Success: true,
			Message: describeAction(action, emailNum, template, "completed"),
			Output:  tail(stdout.String(), 500),
		}, nil

	case <-time.After(s.cfg.GraceDelay):
		// Worker still running: resolve optimistically and let it finish
		// on its own. Completion is observed via the side-channel files.
		go func() {
			err := <-done
			if err != nil {
				s.logger.Warn("detached automation worker exited with error",
					"run", runID, "error", err, "output", tail(stderr.String(), 500))
				return
			}
			s.logger.Info("detached automation worker finished", "run", runID)
		}()
		return Result{
			Success: true,
			Message: describeAction(action, emailNum, template, "started"),
			Status:  "started",
		}, nil
	}
}

// Stop asks the worker to close the session and returns to idle. The
// original worker process, if any, is left alone.
func (s *Supervisor) Stop() {
	s.launchDetached(ActionClose)
	s.mu.Lock()
	s.status = StatusIdle
	s.lastAction = "stopped"
	s.mu.Unlock()
	s.logger.Info("browser session stopped")
}

// Pause suspends automation without touching the worker.
func (s *Supervisor) Pause() {
	s.setStatus(StatusPaused, "paused")
}

// Resume returns a paused session to running.
func (s *Supervisor) Resume() {
	s.setStatus(StatusRunning, "resumed")
}

// TakeControl switches to manual mode and opens a visible inbox so the
// operator can drive the browser directly.
func (s *Supervisor) TakeControl() {
	s.launchDetached(ActionList)
	s.setStatus(StatusManual, "manual_control")
}

// ReturnControl hands the session back to automation.
func (s *Supervisor) ReturnControl() {
	s.setStatus(StatusRunning, "returned_control")
}

// State describes the current session for the control surface.
type State struct {
	Status        string `json:"status"`
	LastAction    string `json:"last_action,omitempty"`
	CurrentEmail  int    `json:"current_email,omitempty"`
	HasScreenshot bool   `json:"has_screenshot"`
}

// State returns the session state plus side-channel availability.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Status:        s.status,
		LastAction:    s.lastAction,
		CurrentEmail:  s.currentEmail,
		HasScreenshot: fileExists(s.cfg.ScreenshotFile),
	}
}

// InboxState reads the worker's side-channel status file. Absence or a
// parse failure yields nil: "not available", never an error.
func (s *Supervisor) InboxState() map[string]any {
	data, err := os.ReadFile(s.cfg.StatusFile)
	if err != nil {
		return nil
	}
	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Debug("unreadable inbox state file", "error", err)
		return nil
	}
	return state
}

// ScreenshotPath returns the screenshot file path when one is available.
func (s *Supervisor) ScreenshotPath() (string, bool) {
	return s.cfg.ScreenshotFile, fileExists(s.cfg.ScreenshotFile)
}

// launchDetached fires a worker command without waiting at all. Used for
// stop/take-control where no acknowledgment is needed.
func (s *Supervisor) launchDetached(action string) {
	cmd := exec.Command(s.cfg.Interpreter, s.cfg.Script, action)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		s.logger.Error("failed to launch worker", "action", action, "error", err)
		return
	}
	go cmd.Wait()
}

func (s *Supervisor) setStatus(status, action string) {
	s.mu.Lock()
	s.status = status
	s.lastAction = action
	s.mu.Unlock()
	s.logger.Info("browser state changed", "status", status, "action", action)
}

func describeAction(action string, emailNum int, template, verb string) string {
	msg := fmt.Sprintf("Browser automation %s. Action: %s", verb, action)
	if emailNum > 0 {
		msg += fmt.Sprintf(" on email #%d", emailNum)
	}
	if template != "" {
		msg += fmt.Sprintf(" with template: %s", template)
	}
	return msg
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
