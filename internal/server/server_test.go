package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/derivwatch/internal/coordinator"
	"github.com/rickgao/derivwatch/internal/feed"
	"github.com/rickgao/derivwatch/internal/metrics"
)

type fakeStatus struct{ st coordinator.Status }

func (f *fakeStatus) Status() coordinator.Status { return f.st }

type fakePinger struct{ err error }

func (p *fakePinger) Name() string                   { return "sqlite" }
func (p *fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeCatalog struct{}

func (fakeCatalog) Len() int            { return 120 }
func (fakeCatalog) Unknown() []string   { return []string{"FAKE"} }
func (fakeCatalog) LastSync() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name       string
		status     coordinator.Status
		pingErr    error
		wantStatus string
		wantCode   int
	}{
		{
			name:       "healthy before first cycle",
			status:     coordinator.Status{Phase: "fetching", Interval: "5m0s"},
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
		},
		{
			name:       "healthy after recent cycle",
			status:     coordinator.Status{Phase: "idle", Interval: "5m0s", Cycles: 3, LastCycleEnd: now.Add(-time.Minute)},
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
		},
		{
			name:       "degraded when cycles stall",
			status:     coordinator.Status{Phase: "dispatching", Interval: "5m0s", Cycles: 3, LastCycleEnd: now.Add(-time.Hour)},
			wantStatus: "degraded",
			wantCode:   http.StatusOK,
		},
		{
			name:       "unhealthy when store is down",
			status:     coordinator.Status{Phase: "idle", Interval: "5m0s"},
			pingErr:    errors.New("database is locked"),
			wantStatus: "unhealthy",
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{}, &fakeStatus{st: tt.status}, &fakePinger{err: tt.pingErr}, Handlers{}, nil)
			srv := httptest.NewServer(s.Handler())
			defer srv.Close()

			var h struct {
				Status     string                     `json:"status"`
				Components map[string]json.RawMessage `json:"components"`
			}
			code := getJSON(t, srv.URL+"/health", &h)
			if code != tt.wantCode {
				t.Errorf("status code = %d, want %d", code, tt.wantCode)
			}
			if h.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", h.Status, tt.wantStatus)
			}
			if _, ok := h.Components["store"]; !ok {
				t.Error("missing store component")
			}
			var coord map[string]any
			if err := json.Unmarshal(h.Components["coordinator"], &coord); err != nil {
				t.Fatalf("coordinator component: %v", err)
			}
			if coord["phase"] != tt.status.Phase {
				t.Errorf("phase = %v, want %q", coord["phase"], tt.status.Phase)
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	st := coordinator.Status{
		Phase:    "idle",
		Interval: "5m0s",
		Cycles:   7,
		Instruments: []coordinator.InstrumentStatus{
			{Instrument: "BTC", Metrics: map[string]float64{"open_interest": 1.5e10}},
		},
	}
	s := New(Config{}, &fakeStatus{st: st}, nil, Handlers{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var got coordinator.Status
	if code := getJSON(t, srv.URL+"/status", &got); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if got.Cycles != 7 || got.Interval != "5m0s" {
		t.Errorf("got cycles=%d interval=%q", got.Cycles, got.Interval)
	}
	if len(got.Instruments) != 1 || got.Instruments[0].Metrics["open_interest"] != 1.5e10 {
		t.Errorf("Instruments = %+v", got.Instruments)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ObserveFetch(2, 1, 0)
	s := New(Config{MetricsPath: "/prom"}, &fakeStatus{}, nil, Handlers{Metrics: m.Handler()}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/prom")
	if err != nil {
		t.Fatalf("GET /prom: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `derivwatch_fetch_total{result="ok"} 2`) {
		t.Errorf("metrics body missing fetch counter:\n%s", body)
	}

	resp2, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("default metrics path status = %d, want 404", resp2.StatusCode)
	}
}

func TestFeedEndpoint(t *testing.T) {
	hub := feed.NewHub(feed.Config{}, nil)
	defer hub.Close()
	s := New(Config{}, &fakeStatus{}, nil, Handlers{Feed: hub}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.Subscribers(); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}
}

func TestCatalogEndpoint(t *testing.T) {
	s := New(Config{}, &fakeStatus{}, nil, Handlers{Catalog: fakeCatalog{}}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var got struct {
		Supported int      `json:"supported"`
		Unknown   []string `json:"unknown"`
	}
	getJSON(t, srv.URL+"/debug/catalog", &got)
	if got.Supported != 120 || len(got.Unknown) != 1 || got.Unknown[0] != "FAKE" {
		t.Errorf("catalog = %+v", got)
	}
}

func TestStartShutdown(t *testing.T) {
	s := New(Config{Port: 0}, &fakeStatus{}, &fakePinger{}, Handlers{}, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("Addr() = %q: %v", s.Addr(), err)
	}
	base := "http://127.0.0.1:" + port

	var h struct {
		Status string `json:"status"`
	}
	getJSON(t, base+"/health", &h)
	if h.Status != "healthy" {
		t.Errorf("status = %q, want healthy", h.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, err := http.Get(base + "/health"); err == nil {
		t.Error("expected request to fail after Shutdown")
	}
}
