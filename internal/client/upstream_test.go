package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"dmc-forwarder/internal/config"
	"dmc-forwarder/internal/metrics"
)

func newTestClient(cfg *config.Config, m *metrics.Metrics) *UpstreamClient {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUpstreamClient(cfg, logger, m)
}

func TestUpstreamClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(&config.Config{}, nil)

	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/test", http.Header{}, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if string(resp.Body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(resp.Body), `{"status":"ok"}`)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestUpstreamClient_Do_SendsBodyAndHeaders(t *testing.T) {
	type captured struct{ body, session string }
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- captured{body: string(b), session: r.Header.Get("X-Session")}
	}))
	defer srv.Close()

	c := newTestClient(&config.Config{}, nil)

	header := http.Header{"X-Session": {"abc"}}
	if _, err := c.Do(context.Background(), http.MethodPost, srv.URL, header, []byte("payload")); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	req := <-got
	if req.body != "payload" {
		t.Errorf("body = %q, want %q", req.body, "payload")
	}
	if req.session != "abc" {
		t.Errorf("X-Session = %q, want %q", req.session, "abc")
	}
}

func TestUpstreamClient_Do_SelfSignedTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer srv.Close()

	c := newTestClient(&config.Config{}, nil)

	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("Do() error = %v; self-signed upstream certificates must be accepted", err)
	}
	if string(resp.Body) != "secure" {
		t.Errorf("body = %q, want %q", string(resp.Body), "secure")
	}

	// The relaxed verification must not leak into the default client.
	defaultResp, err := http.Get(srv.URL)
	if err == nil {
		_ = defaultResp.Body.Close()
		t.Fatal("http.Get() succeeded against a self-signed server; default transport was modified")
	}
}

func TestUpstreamClient_Do_ClosesConnections(t *testing.T) {
	var closeRequested atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		closeRequested.Store(r.Close)
	}))
	defer srv.Close()

	c := newTestClient(&config.Config{}, nil)
	if _, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !closeRequested.Load() {
		t.Error("expected Connection: close when keep_alive is disabled")
	}

	c = newTestClient(&config.Config{Upstream: config.UpstreamConfig{KeepAlive: true, IdleConnections: 4}}, nil)
	if _, err := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if closeRequested.Load() {
		t.Error("expected a reusable connection when keep_alive is enabled")
	}
}

func TestUpstreamClient_Timeout(t *testing.T) {
	c := newTestClient(&config.Config{}, nil)
	if c.httpClient.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0 (unbounded) by default", c.httpClient.Timeout)
	}

	c = newTestClient(&config.Config{Upstream: config.UpstreamConfig{TimeoutSeconds: 15}}, nil)
	if c.httpClient.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
	}
}

func TestUpstreamClient_Do_Error(t *testing.T) {
	m := metrics.New()
	c := newTestClient(&config.Config{}, m)

	_, err := c.Do(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil)
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}
	if !strings.Contains(err.Error(), "upstream request") {
		t.Errorf("error = %q, want it wrapped with %q", err, "upstream request")
	}
	if got := testutil.ToFloat64(m.UpstreamErrors.WithLabelValues("GET")); got != 1 {
		t.Errorf("upstream errors = %v, want 1", got)
	}
}

func TestUpstreamClient_Do_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(&config.Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.Do(ctx, http.MethodGet, srv.URL+"/slow", http.Header{}, nil)
	if err == nil {
		t.Fatal("Do() expected error for canceled context, got nil")
	}
}

func TestUpstreamClient_Do_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := metrics.New()
	c := newTestClient(&config.Config{}, m)

	resp, err := c.Do(context.Background(), http.MethodPost, srv.URL, nil, []byte("{}"))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	if got := testutil.ToFloat64(m.UpstreamResponses.WithLabelValues("POST", "500")); got != 1 {
		t.Errorf("upstream responses{POST,500} = %v, want 1", got)
	}
}
