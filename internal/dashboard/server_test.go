package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/codexmonitor/agent-monitor/internal/codex"
	"github.com/codexmonitor/agent-monitor/internal/conversation"
	"github.com/codexmonitor/agent-monitor/internal/store"
	"github.com/codexmonitor/agent-monitor/internal/uistate"
	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type memoryStore struct {
	mu      sync.Mutex
	threads map[string][]conversation.Item
}

func (s *memoryStore) LoadThreadItems(_ context.Context, threadID string) ([]conversation.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.threads[threadID]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "memoryStore.LoadThreadItems", "thread %q", threadID)
	}
	return items, nil
}

func (s *memoryStore) SaveThreadItems(_ context.Context, threadID string, items []conversation.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = items
	return nil
}

type fakeTransport struct {
	threads map[string]map[string]any
}

func (f *fakeTransport) Stats() codex.Stats { return codex.Stats{Connected: true, Forwarded: 7} }

func (f *fakeTransport) ResumeThread(_ context.Context, threadID string) (map[string]any, error) {
	thread, ok := f.threads[threadID]
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrNotFound, "fakeTransport.ResumeThread", threadID)
	}
	return thread, nil
}

type fakeLister struct{ records []store.ThreadRecord }

func (f fakeLister) ListThreads(context.Context, string, int) ([]store.ThreadRecord, error) {
	return f.records, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func agentMessage(threadID, itemID, text string) map[string]any {
	return map[string]any{
		"threadId": threadID,
		"item":     map[string]any{"type": "agentMessage", "id": itemID, "text": text},
	}
}

type fixture struct {
	runtime *uistate.RuntimeManager
	store   *memoryStore
	server  *Server
}

func newFixture(opts ...Option) fixture {
	st := &memoryStore{threads: map[string][]conversation.Item{}}
	bus := NewEventBus(8)
	rt := uistate.NewRuntimeManager(uistate.WithStore(st), uistate.WithPublisher(bus))
	srv := NewServer(rt, append([]Option{WithEventBus(bus)}, opts...)...)
	return fixture{runtime: rt, store: st, server: srv}
}

func TestThreadEndpoints(t *testing.T) {
	f := newFixture()
	f.runtime.ApplyNotification(uistate.MethodItemCompleted, agentMessage("thr-1", "m1", "hello"))
	h := f.server.Engine()

	code, env := do(t, h, http.MethodGet, "/api/threads")
	if code != http.StatusOK || !env.Success {
		t.Fatalf("list threads = %d %+v", code, env)
	}
	var summaries []uistate.ThreadSummary
	if err := json.Unmarshal(env.Data, &summaries); err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].ID != "thr-1" || summaries[0].ItemCount != 1 {
		t.Fatalf("summaries = %+v", summaries)
	}

	code, env = do(t, h, http.MethodGet, "/api/threads/thr-1")
	if code != http.StatusOK {
		t.Fatalf("get thread = %d", code)
	}
	var snap uistate.ThreadSnapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Items) != 1 || snap.Items[0].TextValue() != "hello" {
		t.Fatalf("snapshot items = %+v", snap.Items)
	}

	code, env = do(t, h, http.MethodGet, "/api/threads/thr-1/items")
	var items []conversation.Item
	if err := json.Unmarshal(env.Data, &items); err != nil || code != http.StatusOK || len(items) != 1 {
		t.Fatalf("items = %d %v %v", code, items, err)
	}

	code, env = do(t, h, http.MethodGet, "/api/threads/missing")
	if code != http.StatusNotFound || env.Error == nil || env.Error.Code != "not_found" {
		t.Fatalf("missing thread = %d %+v", code, env)
	}
}

func TestLoadAndSaveEndpoints(t *testing.T) {
	f := newFixture()
	h := f.server.Engine()
	f.runtime.ApplyNotification(uistate.MethodItemCompleted, agentMessage("thr-s", "m1", "persist me"))

	if code, env := do(t, h, http.MethodPost, "/api/threads/thr-s/save"); code != http.StatusOK {
		t.Fatalf("save = %d %+v", code, env)
	}
	if got := f.store.threads["thr-s"]; len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("stored = %+v", got)
	}

	f.store.threads["thr-old"] = []conversation.Item{{ID: "x", Kind: conversation.KindMessage}}
	code, env := do(t, h, http.MethodPost, "/api/threads/thr-old/load")
	if code != http.StatusOK {
		t.Fatalf("load = %d %+v", code, env)
	}
	if _, ok := f.runtime.Thread("thr-old"); !ok {
		t.Fatal("loaded thread not in runtime")
	}

	if code, _ := do(t, h, http.MethodPost, "/api/threads/nope/load"); code != http.StatusNotFound {
		t.Fatalf("load missing = %d", code)
	}
	if code, _ := do(t, h, http.MethodPost, "/api/threads/nope/save"); code != http.StatusNotFound {
		t.Fatalf("save missing = %d", code)
	}
}

func TestStoreNotConfigured(t *testing.T) {
	rt := uistate.NewRuntimeManager()
	h := NewServer(rt).Engine()
	rt.ApplyNotification(uistate.MethodItemCompleted, agentMessage("thr", "m1", "x"))

	for _, path := range []string{"/api/threads/thr/save", "/api/threads/thr/load", "/api/threads/thr/resume"} {
		code, env := do(t, h, http.MethodPost, path)
		if code != http.StatusServiceUnavailable || env.Error == nil || env.Error.Code != "unavailable" {
			t.Fatalf("%s = %d %+v", path, code, env)
		}
	}
	if code, _ := do(t, h, http.MethodGet, "/api/stored-threads"); code != http.StatusServiceUnavailable {
		t.Fatalf("stored-threads = %d", code)
	}
}

func TestResumeEndpoint(t *testing.T) {
	transport := &fakeTransport{threads: map[string]map[string]any{
		"thr-r": {
			"id": "thr-r",
			"turns": []any{map[string]any{"items": []any{
				map[string]any{"type": "userMessage", "id": "u1", "content": []any{map[string]any{"type": "text", "text": "hi"}}},
				map[string]any{"type": "agentMessage", "id": "m1", "text": "hello"},
			}}},
		},
	}}
	f := newFixture(WithTransport(transport))
	h := f.server.Engine()

	code, env := do(t, h, http.MethodPost, "/api/threads/thr-r/resume")
	if code != http.StatusOK {
		t.Fatalf("resume = %d %+v", code, env)
	}
	if items := f.runtime.ThreadItems("thr-r"); len(items) != 2 || items[0].ID != "u1" {
		t.Fatalf("hydrated items = %+v", items)
	}
	if code, _ := do(t, h, http.MethodPost, "/api/threads/unknown/resume"); code != http.StatusNotFound {
		t.Fatalf("resume unknown = %d", code)
	}

	code, env = do(t, h, http.MethodGet, "/api/status")
	var status struct {
		Threads       int         `json:"threads"`
		Transport     codex.Stats `json:"transport"`
		ItemTypes     []string    `json:"itemTypes"`
		RoutedMethods []string    `json:"routedMethods"`
	}
	if err := json.Unmarshal(env.Data, &status); err != nil || code != http.StatusOK {
		t.Fatalf("status = %d %v", code, err)
	}
	if status.Threads != 1 || !status.Transport.Connected || status.Transport.Forwarded != 7 {
		t.Fatalf("status = %+v", status)
	}
	if !lo.Contains(status.ItemTypes, "commandExecution") || !lo.Contains(status.RoutedMethods, uistate.MethodAgentMessageDelta) {
		t.Fatalf("status capabilities = %v / %v", status.ItemTypes, status.RoutedMethods)
	}
}

func TestStoredThreadsEndpoint(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(WithThreadLister(fakeLister{records: []store.ThreadRecord{{ThreadID: "thr-1", ItemCount: 3, UpdatedAt: now}}}))
	code, env := do(t, f.server.Engine(), http.MethodGet, "/api/stored-threads?keyword=thr&limit=5")
	var records []store.ThreadRecord
	if err := json.Unmarshal(env.Data, &records); err != nil || code != http.StatusOK {
		t.Fatalf("stored-threads = %d %v", code, err)
	}
	if len(records) != 1 || records[0].ItemCount != 3 || !records[0].UpdatedAt.Equal(now) {
		t.Fatalf("records = %+v", records)
	}
}

func TestQueryLimit(t *testing.T) {
	tests := map[string]int{"": 100, "?limit=5": 5, "?limit=0": 100, "?limit=abc": 100, "?limit=99999": 2000}
	for query, want := range tests {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/x"+query, nil)
		if got := queryLimit(c, 100); got != want {
			t.Errorf("queryLimit(%q) = %d, want %d", query, got, want)
		}
	}
}

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.Wrap(apperrors.ErrNotFound, "op", "x"), http.StatusNotFound},
		{apperrors.Wrap(apperrors.ErrInvalidInput, "op", "x"), http.StatusBadRequest},
		{apperrors.Wrap(apperrors.ErrNotConfigured, "op", "x"), http.StatusServiceUnavailable},
		{apperrors.Wrap(apperrors.ErrClosed, "op", "x"), http.StatusServiceUnavailable},
		{apperrors.Wrap(apperrors.ErrTimeout, "op", "x"), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		writeError(c, tt.err)
		if rec.Code != tt.want {
			t.Errorf("writeError(%v) = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
