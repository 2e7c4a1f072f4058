// Package poll drives the source pollers. Each upstream (mail, chat,
// forms) is fetched on its own recurring schedule, new items are
// deduplicated against the processed-id set and enqueued as pending
// events. Scheduling uses robfig/cron with staggered initial fires so
// the three pollers never burst at the same instant.
package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/durgabridge/durga/pkg/durga/budget"
	"github.com/durgabridge/durga/pkg/durga/events"
	"github.com/durgabridge/durga/pkg/durga/state"
)

// Upstream describes one polled source.
type Upstream struct {
	// Name is the source identifier (gmail, whatsapp, forms).
	Name string `yaml:"name"`

	// Type is the event type produced by this source.
	Type events.Type `yaml:"-"`

	// URL is the recent-items endpoint.
	URL string `yaml:"url"`

	// ItemsField is the JSON field holding the item array. A missing
	// field or empty array means no new items, not an error.
	ItemsField string `yaml:"items_field"`

	// IDPrefix namespaces dedup ids (e.g. "gmail_").
	IDPrefix string `yaml:"-"`

	// IDFields are tried in order to derive the dedup id. When none is
	// present the item's arrival time is used — a known limitation: two
	// distinct items sharing a timestamp would collide.
	IDFields []string `yaml:"-"`

	// LimitParam, when set, is appended as a query parameter capping
	// how many items the upstream returns.
	LimitParam string `yaml:"-"`

	// Limit caps items per tick.
	Limit int `yaml:"limit"`

	// Every is the polling cadence.
	Every time.Duration `yaml:"every"`

	// InitialDelay staggers the first fire after polling starts.
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// Suggester produces a suggested action for a fresh event. Implemented
// by the suggest package; abstracted here so pollers can be tested
// without a completion worker.
type Suggester interface {
	Suggest(ctx context.Context, e events.Event) string
}

// Manager owns the pollers and their timers.
type Manager struct {
	upstreams []Upstream
	client    *http.Client
	queue     *events.Queue
	store     *state.Store
	gate      *budget.Gate
	suggester Suggester

	// persist writes the full state snapshot; wired by the daemon.
	persist func()

	cron        *cron.Cron
	initial     []*time.Timer
	enabled     bool
	autoProcess bool

	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a poller manager. Timers start with Start or SetEnabled.
func New(upstreams []Upstream, queue *events.Queue, store *state.Store, gate *budget.Gate, sug Suggester, persist func(), logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if persist == nil {
		persist = func() {}
	}
	return &Manager{
		upstreams: upstreams,
		client:    &http.Client{Timeout: 15 * time.Second},
		queue:     queue,
		store:     store,
		gate:      gate,
		suggester: sug,
		persist:   persist,
		logger:    logger.With("component", "poll"),
	}
}

// Start schedules all pollers when enable is true: an immediate staggered
// burst plus the recurring cadence per source.
func (m *Manager) Start(enable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !enable {
		m.logger.Info("polling disabled")
		return
	}
	m.startLocked()
}

func (m *Manager) startLocked() {
	if m.enabled {
		return
	}
	m.enabled = true
	m.cron = cron.New()

	for i := range m.upstreams {
		u := m.upstreams[i]
		m.initial = append(m.initial, time.AfterFunc(u.InitialDelay, func() { m.tick(u) }))
		if _, err := m.cron.AddFunc("@every "+u.Every.String(), func() { m.tick(u) }); err != nil {
			m.logger.Error("failed to schedule poller", "source", u.Name, "error", err)
			continue
		}
		m.logger.Info("poller scheduled", "source", u.Name, "every", u.Every.String())
	}
	m.cron.Start()
}

// Stop clears all timers. An in-flight tick runs to completion; only
// future fires are prevented.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if !m.enabled {
		return
	}
	m.enabled = false
	for _, t := range m.initial {
		t.Stop()
	}
	m.initial = nil
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
	m.logger.Info("polling stopped")
}

// SetEnabled toggles polling at runtime. Enabling schedules a fresh
// staggered burst plus recurring timers; disabling clears them all.
func (m *Manager) SetEnabled(enable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enable {
		m.startLocked()
	} else {
		m.stopLocked()
	}
}

// Enabled reports whether the pollers are scheduled.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// SetAutoProcess toggles suggestion generation at ingestion time.
func (m *Manager) SetAutoProcess(enable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoProcess = enable
}

// AutoProcess reports whether fresh events get a suggested action.
func (m *Manager) AutoProcess() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoProcess
}

// tick fetches one upstream and ingests anything new. Failures never
// propagate past the tick: transport errors are logged and swallowed,
// and a refused connection (optional sibling service not running) is
// suppressed entirely. The last-check timestamp is only stamped after a
// successful fetch.
func (m *Manager) tick(u Upstream) {
	m.mu.Lock()
	enabled := m.enabled
	m.mu.Unlock()
	if !enabled {
		return
	}

	m.logger.Debug("polling", "source", u.Name)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	items, err := m.fetchItems(ctx, u, u.Limit)
	if err != nil {
		if isConnRefused(err) {
			return
		}
		m.logger.Error("poll failed", "source", u.Name, "error", err)
		return
	}

	fresh := 0
	for _, item := range items {
		id := m.eventID(u, item)
		if m.store.Seen(id) {
			continue
		}

		e := events.Event{
			ID:        id,
			Type:      u.Type,
			Source:    u.Name,
			Timestamp: time.Now(),
			Data:      normalize(u.Type, item),
			Status:    events.StatusPending,
		}

		if m.AutoProcess() && m.gate.CanSpend() && m.suggester != nil {
			e.SuggestedAction = m.suggester.Suggest(ctx, e)
		}

		if err := m.queue.Enqueue(e); err != nil {
			m.logger.Error("enqueue failed", "id", id, "error", err)
			continue
		}
		m.store.MarkProcessed(id)
		m.store.ArchiveEvent(e)
		fresh++
	}

	m.store.SetLastCheck(u.Name, time.Now())
	m.persist()

	if fresh > 0 {
		m.logger.Info("new events ingested", "source", u.Name, "count", fresh)
	}
}

// FetchRecent fetches recent items from a named upstream outside the
// polling cycle (inbox proxying, prompt enrichment). No dedup side
// effects.
func (m *Manager) FetchRecent(ctx context.Context, source string, limit int) ([]map[string]any, error) {
	for _, u := range m.upstreams {
		if u.Name == source {
			return m.fetchItems(ctx, u, limit)
		}
	}
	return nil, fmt.Errorf("unknown source %q", source)
}

func (m *Manager) fetchItems(ctx context.Context, u Upstream, limit int) ([]map[string]any, error) {
	endpoint := u.URL
	if u.LimitParam != "" && limit > 0 {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream url: %w", err)
		}
		q := parsed.Query()
		q.Set(u.LimitParam, strconv.Itoa(limit))
		parsed.RawQuery = q.Encode()
		endpoint = parsed.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", u.Name, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", u.Name, err)
	}

	raw, ok := payload[u.ItemsField].([]any)
	if !ok {
		// Absent field: no new items.
		return nil, nil
	}

	items := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if item, ok := entry.(map[string]any); ok {
			items = append(items, item)
		}
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// eventID derives the dedup id from the first present id field, falling
// back to the arrival time when the upstream provides none.
func (m *Manager) eventID(u Upstream, item map[string]any) string {
	for _, field := range u.IDFields {
		if v, ok := item[field]; ok && v != nil && fmt.Sprintf("%v", v) != "" {
			return u.IDPrefix + fmt.Sprintf("%v", v)
		}
	}
	return u.IDPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)
}

// normalize maps a raw upstream item to the event payload shape.
func normalize(t events.Type, item map[string]any) map[string]any {
	switch t {
	case events.TypeNewEmail:
		return map[string]any{
			"from":    item["from"],
			"subject": item["subject"],
			"snippet": item["snippet"],
			"date":    item["date"],
		}
	case events.TypeNewWhatsApp:
		return map[string]any{
			"from":      item["from"],
			"body":      item["body"],
			"timestamp": item["timestamp"],
		}
	default:
		// Form submissions keep the raw object.
		return item
	}
}

// isConnRefused detects the expected-absent upstream case.
func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
