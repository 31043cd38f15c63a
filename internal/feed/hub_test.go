package feed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/derivwatch/internal/dispatch"
	"github.com/rickgao/derivwatch/internal/model"
)

func testEvent() model.AlertEvent {
	return model.AlertEvent{
		ID:          uuid.MustParse("5f0c8a4e-6a3e-4d57-9f55-8d3f3f6f1a01"),
		Instrument:  "BTC",
		Metric:      "open_interest",
		Old:         1000,
		New:         1200,
		Delta:       200,
		Relative:    0.2,
		HasRelative: true,
		Crossing:    model.CrossingRelative,
		Threshold:   15,
		Severity:    model.SeverityWarning,
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Subscribers() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Subscribers() = %d, want %d", h.Subscribers(), want)
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	hub := NewHub(Config{}, nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitSubscribers(t, hub, 2)

	hub.Publish([]model.AlertEvent{testEvent()})

	for i, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("subscriber %d: ReadMessage() error = %v", i, err)
		}
		var p dispatch.Payload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("subscriber %d: unmarshal: %v", i, err)
		}
		if p.ID != "5f0c8a4e-6a3e-4d57-9f55-8d3f3f6f1a01" {
			t.Errorf("subscriber %d: ID = %q", i, p.ID)
		}
		if p.Instrument != "BTC" || p.Metric != "open_interest" {
			t.Errorf("subscriber %d: got %s/%s, want BTC/open_interest", i, p.Instrument, p.Metric)
		}
		if p.RelativePct == nil || *p.RelativePct != 20 {
			t.Errorf("subscriber %d: RelativePct = %v, want 20", i, p.RelativePct)
		}
		if !strings.Contains(p.Text, "BTC") {
			t.Errorf("subscriber %d: Text = %q, want rendered message", i, p.Text)
		}
	}
}

func TestHub_PublishEmptyIsNoop(t *testing.T) {
	hub := NewHub(Config{}, nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitSubscribers(t, hub, 1)

	hub.Publish(nil)

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no message for empty publish")
	}
}

func TestHub_DisconnectRemovesSubscriber(t *testing.T) {
	hub := NewHub(Config{}, nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitSubscribers(t, hub, 1)

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()

	waitSubscribers(t, hub, 0)
}

func TestHub_CloseSendsNormalClosure(t *testing.T) {
	hub := NewHub(Config{}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitSubscribers(t, hub, 1)

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("ReadMessage() error = %v, want normal closure", err)
	}
	if hub.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after Close, want 0", hub.Subscribers())
	}

	// New subscribers are rejected.
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("Dial() after Close succeeded, want error")
	} else if resp == nil || resp.StatusCode != 503 {
		t.Errorf("Dial() after Close response = %v, want 503", resp)
	}
}

func TestHub_SlowSubscriberDropsMessages(t *testing.T) {
	hub := NewHub(Config{BufferSize: 1}, nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitSubscribers(t, hub, 1)

	events := make([]model.AlertEvent, 50)
	for i := range events {
		events[i] = testEvent()
		events[i].ID = uuid.New()
	}
	// Must not block even though the subscriber is not reading.
	done := make(chan struct{})
	go func() {
		hub.Publish(events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
}
