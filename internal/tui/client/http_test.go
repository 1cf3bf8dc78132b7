package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPClientGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"direction":4,"magnitude":0.5,"n_controllers":2,"total_counts":{"4":1,"6":1},"seq":12}`))
	}))
	defer srv.Close()

	st, err := NewHTTPClient(srv.URL).GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.Dir() != DirBackward || st.NControllers != 2 || st.Seq != 12 {
		t.Errorf("status = %+v", st)
	}
	if st.Count(DirTurnLeft) != 1 {
		t.Errorf("Count(turn left) = %d, want 1", st.Count(DirTurnLeft))
	}
}

func TestHTTPClientGetHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","controllers":3,"relay":{"clients":4,"frames_dropped":2},"feed":{"status":"healthy","robots":1}}`))
	}))
	defer srv.Close()

	h, err := NewHTTPClient(srv.URL).GetHealth(context.Background())
	if err != nil {
		t.Fatalf("GetHealth: %v", err)
	}
	if h.Controllers != 3 || h.Relay.Clients != 4 || h.Relay.FramesDropped != 2 {
		t.Errorf("health = %+v", h)
	}
	if h.Feed == nil || h.Feed.Status != FeedHealthy {
		t.Errorf("feed = %+v", h.Feed)
	}
	if h.Host != nil {
		t.Error("host should be absent when the server omits it")
	}
}

func TestHTTPClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/status":
			w.Write([]byte(`{not json`))
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL)

	if _, err := c.GetHealth(context.Background()); err == nil || !strings.Contains(err.Error(), "405") {
		t.Errorf("GetHealth error = %v, want the 405 status", err)
	}
	if _, err := c.GetStatus(context.Background()); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Errorf("GetStatus error = %v, want a decode error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GetStatus(ctx); err == nil {
		t.Error("a cancelled context should fail the request")
	}
}
