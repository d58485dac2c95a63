package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/data-assistant/internal/chat"
	"github.com/ashureev/data-assistant/internal/config"
	"github.com/ashureev/data-assistant/internal/domain"
	"github.com/ashureev/data-assistant/internal/identity"
	"github.com/ashureev/data-assistant/internal/render"
	"github.com/ashureev/data-assistant/internal/session"
	"github.com/ashureev/data-assistant/internal/store"
)

type fakeRepo struct {
	store.Repository

	mu        sync.Mutex
	users     map[string]*domain.User
	exchanges []*domain.Exchange
	pingErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]*domain.User)}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	copy := *user
	return &copy, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *user
	f.users[user.UserID] = &copy
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeRepo) RecordExchange(_ context.Context, ex *domain.Exchange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, ex)
	return nil
}

func (f *fakeRepo) ListExchanges(_ context.Context, userID string, limit int) ([]*domain.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Exchange
	for i := len(f.exchanges) - 1; i >= 0 && len(out) < limit; i-- {
		if f.exchanges[i].UserID == userID {
			out = append(out, f.exchanges[i])
		}
	}
	return out, nil
}

func (f *fakeRepo) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRepo) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func newJar(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New failed: %v", err)
	}
	return jar
}

type fakeQuerier struct {
	mu      sync.Mutex
	calls   int
	reply   *chat.Reply
	err     error
	release chan struct{}
	entered chan struct{}
}

func (q *fakeQuerier) Query(ctx context.Context, _ string) (*chat.Reply, error) {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
	if q.entered != nil {
		q.entered <- struct{}{}
	}
	if q.release != nil {
		<-q.release
	}
	return q.reply, q.err
}

func (q *fakeQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

type allowFunc func(string) bool

func (f allowFunc) Allow(key string) bool { return f(key) }

type testServer struct {
	*httptest.Server
	repo    *fakeRepo
	querier *fakeQuerier
	client  *http.Client
}

func newTestServer(t *testing.T, q *fakeQuerier, limiter Limiter) *testServer {
	t.Helper()

	repo := newFakeRepo()
	renderer, err := render.NewHTMLRenderer(nil)
	if err != nil {
		t.Fatalf("NewHTMLRenderer failed: %v", err)
	}
	sessions := session.NewStore(session.Config{TTL: time.Minute},
		func() (chat.Querier, error) { return q, nil }, repo, nil)
	cfg := &config.Config{
		Query:     config.QueryConfig{Timeout: 2 * time.Minute, Mode: chat.ModeSteps},
		RateLimit: config.RateLimitConfig{Requests: 20, Window: time.Minute},
	}

	base := NewHandler(repo, sessions, renderer, limiter, cfg)
	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	NewConversationHandler(base).RegisterRoutes(r)
	r.Get("/health/ready", base.Ready(nil))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.Jar = newJar(t)
	return &testServer{Server: srv, repo: repo, querier: q, client: client}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp, out
}

func (s *testServer) create(t *testing.T) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/conversations", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}
	return body["id"].(string)
}

func totalSales() *chat.Reply {
	return &chat.Reply{
		FriendlyResponse: "Total sales: $42",
		Steps: &chat.StepReport{
			RelevantTables: []string{"sales"},
			QueryIntent:    "aggregate",
			GeneratedSQL:   "SELECT SUM(amount) FROM sales",
			SQLValidated:   true,
			QueryResult:    json.RawMessage(`{"total":42}`),
		},
	}
}

func TestSubmitTotalSales(t *testing.T) {
	s := newTestServer(t, &fakeQuerier{reply: totalSales()}, nil)
	id := s.create(t)

	resp, body := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"content":"show me total sales"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}

	msgs := body["messages"].([]interface{})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if m := msgs[0].(map[string]interface{}); m["role"] != "user" || m["content"] != "show me total sales" {
		t.Fatalf("unexpected user message %v", m)
	}
	if m := msgs[1].(map[string]interface{}); m["steps"] == nil {
		t.Fatalf("expected step report, got %v", m)
	}
	if m := msgs[2].(map[string]interface{}); m["content"] != "Total sales: $42" {
		t.Fatalf("unexpected friendly message %v", m)
	}
	if body["loading"] != false {
		t.Fatal("expected loading to be false")
	}
	if html, _ := body["html"].(string); !strings.Contains(html, "Query Process Steps") {
		t.Fatalf("expected rendered fragment, got %q", html)
	}

	s.repo.mu.Lock()
	n := len(s.repo.exchanges)
	s.repo.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one recorded exchange, got %d", n)
	}

	resp, body = s.do(t, http.MethodGet, "/api/exchanges?limit=5", "")
	if resp.StatusCode != http.StatusOK || len(body["exchanges"].([]interface{})) != 1 {
		t.Fatalf("unexpected exchanges response %d: %v", resp.StatusCode, body)
	}
}

func TestSubmitBlankIsUnchanged(t *testing.T) {
	q := &fakeQuerier{reply: totalSales()}
	s := newTestServer(t, q, nil)
	id := s.create(t)

	resp, body := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"content":"   "}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if msgs := body["messages"].([]interface{}); len(msgs) != 0 {
		t.Fatalf("expected empty transcript, got %v", msgs)
	}
	if q.callCount() != 0 {
		t.Fatalf("expected no query, got %d", q.callCount())
	}
}

func TestSubmitFailureShowsFallback(t *testing.T) {
	s := newTestServer(t, &fakeQuerier{err: errors.New("connection refused")}, nil)
	id := s.create(t)

	resp, body := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"content":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	msgs := body["messages"].([]interface{})
	if len(msgs) != 2 || msgs[1].(map[string]interface{})["content"] != chat.FallbackText {
		t.Fatalf("expected fallback message, got %v", msgs)
	}
}

func TestSubmitWhileInFlightConflicts(t *testing.T) {
	q := &fakeQuerier{reply: totalSales(), release: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := newTestServer(t, q, nil)
	id := s.create(t)

	done := make(chan int, 1)
	go func() {
		resp, _ := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"content":"first"}`)
		done <- resp.StatusCode
	}()

	select {
	case <-q.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first query")
	}

	resp, _ := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"content":"second"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	_, body := s.do(t, http.MethodGet, "/api/conversations/"+id, "")
	if body["loading"] != true {
		t.Fatal("expected loading while the first query is outstanding")
	}

	close(q.release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected first submit to succeed, got %d", code)
	}
	if q.callCount() != 1 {
		t.Fatalf("expected one query, got %d", q.callCount())
	}
}

func TestSubmitRateLimited(t *testing.T) {
	s := newTestServer(t, &fakeQuerier{reply: totalSales()}, allowFunc(func(string) bool { return false }))
	id := s.create(t)

	resp, _ := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"content":"hello"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if s.querier.callCount() != 0 {
		t.Fatal("rate limited submit must not reach the query service")
	}
}

func TestSubmitInvalidBody(t *testing.T) {
	s := newTestServer(t, &fakeQuerier{}, nil)
	id := s.create(t)

	resp, _ := s.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", `{"content":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestConversationOwnership(t *testing.T) {
	s := newTestServer(t, &fakeQuerier{}, nil)
	id := s.create(t)

	// A second browser has its own cookie jar and therefore its own identity.
	other := &http.Client{Jar: newJar(t)}
	resp, err := other.Get(s.URL + "/api/conversations/" + id)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign conversation, got %d", resp.StatusCode)
	}

	resp, _ = s.do(t, http.MethodDelete, "/api/conversations/"+id, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, "/api/conversations/"+id, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestGetConfigAndMe(t *testing.T) {
	s := newTestServer(t, &fakeQuerier{}, nil)

	resp, body := s.do(t, http.MethodGet, "/api/config", "")
	if resp.StatusCode != http.StatusOK || body["render_mode"] != "steps" {
		t.Fatalf("unexpected config %d: %v", resp.StatusCode, body)
	}
	if body["query_timeout_seconds"] != float64(120) {
		t.Fatalf("unexpected timeout %v", body["query_timeout_seconds"])
	}

	resp, body = s.do(t, http.MethodGet, "/api/me", "")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(body["user_id"].(string), "anon_") {
		t.Fatalf("unexpected me %d: %v", resp.StatusCode, body)
	}
}

func TestReady(t *testing.T) {
	s := newTestServer(t, &fakeQuerier{}, nil)

	resp, body := s.do(t, http.MethodGet, "/health/ready", "")
	if resp.StatusCode != http.StatusOK || body["database"] != "ok" {
		t.Fatalf("unexpected readiness %d: %v", resp.StatusCode, body)
	}

	s.repo.setPingErr(errors.New("database is closed"))
	resp, body = s.do(t, http.MethodGet, "/health/ready", "")
	if resp.StatusCode != http.StatusServiceUnavailable || body["database"] != "unavailable" {
		t.Fatalf("unexpected readiness %d: %v", resp.StatusCode, body)
	}
}
