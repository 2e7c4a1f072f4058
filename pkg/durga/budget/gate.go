// Package budget implements the daily token budget gate that throttles
// language-model usage. Counts are estimated from text length, not a real
// tokenizer; the point is a ceiling, not billing-grade accounting.
package budget

import (
	"log/slog"
	"sync"
	"time"
)

// Usage holds the persisted counters. Today resets when the calendar date
// changes; Total is monotonic and never reset.
type Usage struct {
	Today     int    `json:"today"`
	Total     int    `json:"total"`
	LastReset string `json:"last_reset"`
}

// Report is the per-call breakdown returned by Track.
type Report struct {
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"response_tokens"`
	Total          int `json:"total"`
	DailyTotal     int `json:"daily_total"`
}

// Config controls the gate.
type Config struct {
	// Enabled turns tracking on. When false, CanSpend always allows.
	Enabled bool `yaml:"enabled"`

	// DailyLimit is the token ceiling per calendar day.
	DailyLimit int `yaml:"daily_limit"`
}

// Gate tracks daily and total token consumption and enforces the ceiling.
// CanSpend must be checked before any code path that consumes the model;
// the gate does not preempt in-flight calls, and a check must be repeated
// after any blocking operation.
type Gate struct {
	enabled    bool
	dailyLimit int
	usage      Usage

	// onChange is invoked after Track mutates the counters, so the
	// snapshot store can persist them.
	onChange func()

	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a gate with zeroed counters.
func New(cfg Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		enabled:    cfg.Enabled,
		dailyLimit: cfg.DailyLimit,
		usage:      Usage{LastReset: today()},
		logger:     logger.With("component", "budget"),
	}
}

// OnChange registers a callback fired after each Track.
func (g *Gate) OnChange(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// Seed restores counters from a persisted snapshot.
func (g *Gate) Seed(u Usage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u.LastReset == "" {
		u.LastReset = today()
	}
	g.usage = u
}

// Estimate approximates the token count of text as ceil(len/4).
func (g *Gate) Estimate(text string) int {
	return (len(text) + 3) / 4
}

// Track accounts one prompt/response pair. On the first call of a new
// calendar day the daily counter is zeroed before adding; the monotonic
// total is unaffected by the reset.
func (g *Gate) Track(prompt, response string) Report {
	promptTokens := g.Estimate(prompt)
	responseTokens := g.Estimate(response)
	total := promptTokens + responseTokens

	g.mu.Lock()
	g.rolloverLocked()
	g.usage.Today += total
	g.usage.Total += total
	daily := g.usage.Today
	fn := g.onChange
	g.mu.Unlock()

	if fn != nil {
		fn()
	}

	g.logger.Debug("tokens tracked",
		"prompt", promptTokens, "response", responseTokens, "daily", daily)

	return Report{
		PromptTokens:   promptTokens,
		ResponseTokens: responseTokens,
		Total:          total,
		DailyTotal:     daily,
	}
}

// CanSpend reports whether another model call is allowed right now. Always
// true when tracking is disabled.
func (g *Gate) CanSpend() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return true
	}
	g.rolloverLocked()
	return g.usage.Today < g.dailyLimit
}

// Usage returns the current counters (after day rollover).
func (g *Gate) Usage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.usage
}

// DailyLimit returns the configured ceiling.
func (g *Gate) DailyLimit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyLimit
}

// SetDailyLimit updates the ceiling at runtime.
func (g *Gate) SetDailyLimit(limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyLimit = limit
}

// rolloverLocked zeroes the daily counter when the calendar date changed.
// Callers must hold g.mu.
func (g *Gate) rolloverLocked() {
	now := today()
	if g.usage.LastReset != now {
		g.usage.Today = 0
		g.usage.LastReset = now
	}
}

func today() string {
	return time.Now().Format("2006-01-02")
}
