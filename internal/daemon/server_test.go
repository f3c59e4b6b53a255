package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/termdeck/termdeck/internal/config"
	"github.com/termdeck/termdeck/internal/journal"
	"github.com/termdeck/termdeck/internal/target"
	"github.com/termdeck/termdeck/internal/testutil"
)

type fakeRunner struct {
	output string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	return []byte(f.output), f.err
}

func newTestServer(t *testing.T, cfg config.Config, runner target.Runner, store *journal.Store) *Server {
	t.Helper()
	if runner == nil {
		runner = &fakeRunner{}
	}
	executor := target.NewExecutorWithRunner(cfg, runner)
	manager := NewManager(cfg, nil, executor, nil)
	return NewServer(cfg, nil, manager, store)
}

func TestHealthHandler(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = nil
	s := newTestServer(t, cfg, nil, nil)

	rec := httptest.NewRecorder()
	s.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Tmux   string `json:"tmux"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Tmux != "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestSessionsHandlerRequiresToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = nil
	cfg.AuthToken = "secret"
	s := newTestServer(t, cfg, &fakeRunner{output: "main\x1f2\x1f1\x1f1756000000\n"}, nil)

	rec := httptest.NewRecorder()
	s.sessionsHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.sessionsHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Sessions []sessionJSON `json:"sessions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].Name != "main" || body.Sessions[0].Windows != 2 {
		t.Fatalf("unexpected sessions: %+v", body.Sessions)
	}
}

func TestSessionsHandlerAcceptsQueryToken(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = nil
	cfg.AuthToken = "secret"
	s := newTestServer(t, cfg, nil, nil)

	rec := httptest.NewRecorder()
	s.sessionsHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions?token=secret", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("query token: status = %d", rec.Code)
	}
}

func TestEventsHandlerQueriesJournal(t *testing.T) {
	store, ctx := testutil.NewJournal(t)
	ev := journal.NewEvent("deck", "layout-change")
	ev.WindowID = "0"
	if err := store.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.RetryBackoff = nil
	s := newTestServer(t, cfg, nil, store)

	rec := httptest.NewRecorder()
	s.eventsHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/events?session=deck", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Events []journal.Event `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Kind != "layout-change" {
		t.Fatalf("unexpected events: %+v", body.Events)
	}
}

func TestEventsHandlerRejectsBadLimit(t *testing.T) {
	store, _ := testutil.NewJournal(t)
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = nil
	s := newTestServer(t, cfg, nil, store)

	rec := httptest.NewRecorder()
	s.eventsHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/events?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
