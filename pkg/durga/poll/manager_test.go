package poll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/durgabridge/durga/pkg/durga/budget"
	"github.com/durgabridge/durga/pkg/durga/events"
	"github.com/durgabridge/durga/pkg/durga/state"
)

type staticSuggester struct{ text string }

func (s staticSuggester) Suggest(context.Context, events.Event) string { return s.text }

func gmailUpstream(url string) Upstream {
	return Upstream{
		Name:         "gmail",
		Type:         events.TypeNewEmail,
		URL:          url,
		ItemsField:   "emails",
		IDPrefix:     "gmail_",
		IDFields:     []string{"id", "message_id"},
		LimitParam:   "max_results",
		Limit:        5,
		Every:        time.Hour,
		InitialDelay: time.Hour,
	}
}

func newTestManager(t *testing.T, u Upstream, sug Suggester) (*Manager, *events.Queue, *state.Store, *budget.Gate) {
	t.Helper()
	queue := events.NewQueue(nil)
	store := state.New(filepath.Join(t.TempDir(), "state.json"), nil, nil)
	gate := budget.New(budget.Config{Enabled: true, DailyLimit: 100000}, nil)
	m := New([]Upstream{u}, queue, store, gate, sug, nil, nil)
	m.SetEnabled(true)
	t.Cleanup(m.Stop)
	return m, queue, store, gate
}

func TestTick_IdempotentIngestion(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"emails":[
			{"id":"m1","from":"a@b.c","subject":"One","snippet":"first"},
			{"id":"m2","from":"d@e.f","subject":"Two","snippet":"second"}
		]}`))
	}))
	defer srv.Close()

	u := gmailUpstream(srv.URL)
	m, queue, store, _ := newTestManager(t, u, nil)

	m.tick(u)
	m.tick(u) // same upstream items again

	if got := queue.Len(); got != 2 {
		t.Errorf("queue length after two identical ticks = %d, want 2", got)
	}
	if got := store.ProcessedCount(); got != 2 {
		t.Errorf("processed set cardinality = %d, want 2", got)
	}

	e, err := queue.Get("gmail_m1")
	if err != nil {
		t.Fatalf("Get(gmail_m1) error = %v", err)
	}
	if e.Status != events.StatusPending || e.Data["subject"] != "One" {
		t.Errorf("event = %+v, want pending normalized email", e)
	}
	if e.SuggestedAction != "" {
		t.Errorf("suggestion attached without auto-process: %q", e.SuggestedAction)
	}
}

func TestTick_StampsLastCheckOnEmptyFetch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`)) // items field absent: zero new items
	}))
	defer srv.Close()

	u := gmailUpstream(srv.URL)
	m, queue, store, _ := newTestManager(t, u, nil)

	m.tick(u)

	if queue.Len() != 0 {
		t.Errorf("queue length = %d, want 0", queue.Len())
	}
	if _, ok := store.LastCheck()["gmail"]; !ok {
		t.Error("last-check must be stamped even with zero new items")
	}
}

func TestTick_TransportFailureLeavesLastCheckUntouched(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	u := gmailUpstream(srv.URL)
	m, _, store, _ := newTestManager(t, u, nil)

	m.tick(u)

	if _, ok := store.LastCheck()["gmail"]; ok {
		t.Error("last-check must stay untouched on a failed tick")
	}
}

func TestTick_ConnRefusedIsSwallowed(t *testing.T) {
	t.Parallel()
	// A closed server yields connection refused: the expected-absent
	// upstream case. The tick must neither panic nor stamp last-check.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	u := gmailUpstream(url)
	m, queue, store, _ := newTestManager(t, u, nil)

	m.tick(u)

	if queue.Len() != 0 {
		t.Errorf("queue length = %d, want 0", queue.Len())
	}
	if _, ok := store.LastCheck()["gmail"]; ok {
		t.Error("last-check must stay untouched when the upstream is absent")
	}
}

func TestTick_AutoProcessAttachesSuggestion(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"emails":[{"id":"m1","from":"a@b.c","subject":"One"}]}`))
	}))
	defer srv.Close()

	u := gmailUpstream(srv.URL)
	m, queue, _, _ := newTestManager(t, u, staticSuggester{text: "reply briefly"})
	m.SetAutoProcess(true)

	m.tick(u)

	e, err := queue.Get("gmail_m1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.SuggestedAction != "reply briefly" {
		t.Errorf("suggested action = %q, want %q", e.SuggestedAction, "reply briefly")
	}
}

func TestTick_BudgetExhaustedSkipsSuggestion(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"emails":[{"id":"m1","from":"a@b.c"}]}`))
	}))
	defer srv.Close()

	u := gmailUpstream(srv.URL)
	queue := events.NewQueue(nil)
	store := state.New(filepath.Join(t.TempDir(), "state.json"), nil, nil)
	gate := budget.New(budget.Config{Enabled: true, DailyLimit: 10}, nil)
	gate.Seed(budget.Usage{Today: 10, LastReset: time.Now().Format("2006-01-02")})

	m := New([]Upstream{u}, queue, store, gate, staticSuggester{text: "should not appear"}, nil, nil)
	m.SetEnabled(true)
	t.Cleanup(m.Stop)
	m.SetAutoProcess(true)

	m.tick(u)

	e, err := queue.Get("gmail_m1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.SuggestedAction != "" {
		t.Errorf("suggestion generated over budget: %q", e.SuggestedAction)
	}
}

func TestTick_RespectsItemLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"emails":[
			{"id":"1"},{"id":"2"},{"id":"3"},{"id":"4"},{"id":"5"},{"id":"6"},{"id":"7"}
		]}`))
	}))
	defer srv.Close()

	u := gmailUpstream(srv.URL)
	u.Limit = 5
	m, queue, _, _ := newTestManager(t, u, nil)

	m.tick(u)

	if got := queue.Len(); got != 5 {
		t.Errorf("queue length = %d, want 5 (per-tick cap)", got)
	}
}

func TestFetchRecent(t *testing.T) {
	t.Parallel()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"emails":[{"id":"m1","subject":"Hello"}]}`))
	}))
	defer srv.Close()

	u := gmailUpstream(srv.URL)
	m, queue, store, _ := newTestManager(t, u, nil)

	items, err := m.FetchRecent(context.Background(), "gmail", 10)
	if err != nil {
		t.Fatalf("FetchRecent() error = %v", err)
	}
	if len(items) != 1 || items[0]["subject"] != "Hello" {
		t.Errorf("items = %+v, want one Hello email", items)
	}
	if gotQuery != "max_results=10" {
		t.Errorf("limit query = %q, want max_results=10", gotQuery)
	}
	// No dedup side effects.
	if queue.Len() != 0 || store.ProcessedCount() != 0 {
		t.Error("FetchRecent must not ingest")
	}

	if _, err := m.FetchRecent(context.Background(), "nope", 1); err == nil {
		t.Error("FetchRecent(unknown source) should fail")
	}
}

func TestSetEnabled_Toggle(t *testing.T) {
	t.Parallel()
	u := gmailUpstream("http://127.0.0.1:1/unused")
	m := New([]Upstream{u}, events.NewQueue(nil),
		state.New(filepath.Join(t.TempDir(), "state.json"), nil, nil),
		budget.New(budget.Config{}, nil), nil, nil, nil)

	if m.Enabled() {
		t.Error("manager should start disabled")
	}
	m.SetEnabled(true)
	if !m.Enabled() {
		t.Error("SetEnabled(true) should schedule pollers")
	}
	m.SetEnabled(false)
	if m.Enabled() {
		t.Error("SetEnabled(false) should clear timers")
	}
}
