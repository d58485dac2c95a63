package queryclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestQueryPostsJSONAndDecodesReply(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"query": "show me total sales",
			"steps": {
				"relevant_tables": ["sales"],
				"query_intent": "aggregate",
				"generated_sql": "SELECT SUM(amount) FROM sales",
				"sql_validated": true,
				"query_result": {"total": 42},
				"error": null
			},
			"friendlyResponse": "Total sales: $42"
		}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL + "/query", Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	reply, err := c.Query(context.Background(), "show me total sales")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if gotBody["query"] != "show me total sales" {
		t.Fatalf("expected query in body, got %v", gotBody)
	}
	if reply.FriendlyResponse != "Total sales: $42" {
		t.Fatalf("unexpected friendly response %q", reply.FriendlyResponse)
	}
	if reply.Steps == nil || reply.Steps.RelevantTables[0] != "sales" || !reply.Steps.SQLValidated {
		t.Fatalf("unexpected steps: %+v", reply.Steps)
	}
	if reply.Steps.HasError() {
		t.Fatal("null error should not count as an error")
	}
}

func TestQueryFailuresWrapErrRequestFailed(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"steps": [`))
		}},
		{"html body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>gateway</html>`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, err := New(Config{URL: srv.URL}, nil)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if _, err := c.Query(context.Background(), "q"); !errors.Is(err, ErrRequestFailed) {
				t.Fatalf("expected ErrRequestFailed, got %v", err)
			}
		})
	}
}

func TestQueryNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{URL: url}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := c.Query(context.Background(), "q"); !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
}

func TestQueryIncludesCookiesFromEarlierResponses(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		} else if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			t.Errorf("expected session cookie on call %d", calls)
		}
		_, _ = w.Write([]byte(`{"result": 1, "friendlyResponse": "one"}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := c.Query(context.Background(), "q"); err != nil {
			t.Fatalf("Query %d failed: %v", i, err)
		}
	}
}

func TestQueryHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := c.Query(context.Background(), "q"); !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed on timeout, got %v", err)
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			t.Errorf("expected OPTIONS, got %s", r.Method)
		}
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
}
