package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/derivwatch/internal/api"
)

var testFields = map[string]string{
	"open_interest": "open_interest_usd",
	"funding_rate":  "avg_funding_rate_by_oi",
}

// coinServer serves coins-markets responses. Symbols listed in status get
// that HTTP status instead of a payload.
type coinServer struct {
	mu       sync.Mutex
	attempts map[string]int
	status   map[string]int
}

func newCoinServer(t *testing.T, status map[string]int) (*httptest.Server, *coinServer) {
	t.Helper()
	cs := &coinServer{attempts: make(map[string]int), status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sym := r.URL.Query().Get("symbol")
		cs.mu.Lock()
		cs.attempts[sym]++
		cs.mu.Unlock()

		if code, ok := cs.status[sym]; ok {
			w.WriteHeader(code)
			return
		}
		if sym == "BROKEN" {
			fmt.Fprintf(w, `{"code":"0","data":[{"symbol":"BROKEN","open_interest_usd":"n/a","avg_funding_rate_by_oi":0.01}]}`)
			return
		}
		fmt.Fprintf(w, `{"code":"0","data":[{"symbol":%q,"open_interest_usd":1000,"avg_funding_rate_by_oi":"0.01"}]}`, sym)
	}))
	t.Cleanup(srv.Close)
	return srv, cs
}

func (cs *coinServer) attemptsFor(sym string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.attempts[sym]
}

func TestFetcher_AllSucceed(t *testing.T) {
	srv, _ := newCoinServer(t, nil)
	client := api.NewClient(srv.URL, "key", api.WithRetries(0, time.Millisecond))

	f := New(Config{Concurrency: 2, Timeout: 5 * time.Second, Fields: testFields}, client, nil)
	res := f.Fetch(context.Background(), []string{"BTC", "ETH", "SOL"})

	if len(res.Failures) != 0 {
		t.Fatalf("Failures = %v, want none", res.Failures)
	}
	if len(res.Snapshots) != 3 {
		t.Fatalf("len(Snapshots) = %d, want 3", len(res.Snapshots))
	}
	for i, want := range []string{"BTC", "ETH", "SOL"} {
		if res.Snapshots[i].Instrument != want {
			t.Errorf("Snapshots[%d].Instrument = %q, want %q", i, res.Snapshots[i].Instrument, want)
		}
	}
	oi, ok := res.Snapshots[0].Value("open_interest")
	if !ok || oi != 1000 {
		t.Errorf("open_interest = %v, %v; want 1000", oi, ok)
	}
	fr, ok := res.Snapshots[0].Value("funding_rate")
	if !ok || fr != 0.01 {
		t.Errorf("funding_rate = %v, %v; want 0.01", fr, ok)
	}
	if res.Snapshots[0].Source != Source {
		t.Errorf("Source = %q, want %q", res.Snapshots[0].Source, Source)
	}
}

func TestFetcher_ServerErrorIsTransientAfterRetries(t *testing.T) {
	srv, cs := newCoinServer(t, map[string]int{"ETH": http.StatusInternalServerError})
	const maxRetries = 2
	client := api.NewClient(srv.URL, "key", api.WithRetries(maxRetries, time.Millisecond))

	f := New(Config{Concurrency: 4, Timeout: 5 * time.Second, Fields: testFields}, client, nil)
	res := f.Fetch(context.Background(), []string{"BTC", "ETH"})

	if len(res.Snapshots) != 1 || res.Snapshots[0].Instrument != "BTC" {
		t.Fatalf("Snapshots = %v, want only BTC", res.Snapshots)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("len(Failures) = %d, want 1", len(res.Failures))
	}
	fe := res.Failures[0]
	if fe.Instrument != "ETH" || !fe.Transient() {
		t.Errorf("Failure = %+v, want transient ETH", fe)
	}
	if fe.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", fe.StatusCode)
	}
	if got := cs.attemptsFor("ETH"); got != maxRetries+1 {
		t.Errorf("ETH attempts = %d, want %d", got, maxRetries+1)
	}
}

func TestFetcher_NotFoundIsPermanentWithoutRetry(t *testing.T) {
	srv, cs := newCoinServer(t, map[string]int{"NOPE": http.StatusNotFound})
	client := api.NewClient(srv.URL, "key", api.WithRetries(3, time.Millisecond))

	f := New(Config{Concurrency: 1, Fields: testFields}, client, nil)
	res := f.Fetch(context.Background(), []string{"NOPE"})

	if len(res.Failures) != 1 || !res.Failures[0].Permanent {
		t.Fatalf("Failures = %v, want one permanent", res.Failures)
	}
	if got := cs.attemptsFor("NOPE"); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestFetcher_MalformedPayloadIsPermanent(t *testing.T) {
	srv, _ := newCoinServer(t, nil)
	client := api.NewClient(srv.URL, "key")

	f := New(Config{Concurrency: 2, Fields: testFields}, client, nil)
	res := f.Fetch(context.Background(), []string{"BROKEN", "BTC"})

	if len(res.Snapshots) != 1 || res.Snapshots[0].Instrument != "BTC" {
		t.Errorf("Snapshots = %v, want only BTC", res.Snapshots)
	}
	if len(res.Failures) != 1 || res.Failures[0].Instrument != "BROKEN" || !res.Failures[0].Permanent {
		t.Errorf("Failures = %v, want permanent BROKEN", res.Failures)
	}
}

func TestFetcher_UnparsablePayloadIsPermanent(t *testing.T) {
	var htmlCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch sym := r.URL.Query().Get("symbol"); sym {
		case "HTML":
			htmlCalls.Add(1)
			w.Write([]byte(`<html>oops</html>`))
		case "NAN":
			fmt.Fprint(w, `{"code":"0","data":[{"symbol":"NAN","open_interest_usd":"NaN","avg_funding_rate_by_oi":0.01}]}`)
		default:
			fmt.Fprintf(w, `{"code":"0","data":[{"symbol":%q,"open_interest_usd":1000,"avg_funding_rate_by_oi":0.01}]}`, sym)
		}
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, "key", api.WithRetries(3, time.Millisecond))
	f := New(Config{Concurrency: 3, Fields: testFields}, client, nil)
	res := f.Fetch(context.Background(), []string{"BTC", "NAN", "HTML"})

	if len(res.Snapshots) != 1 || res.Snapshots[0].Instrument != "BTC" {
		t.Errorf("Snapshots = %v, want only BTC", res.Snapshots)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("len(Failures) = %d, want 2", len(res.Failures))
	}
	for _, fe := range res.Failures {
		if !fe.Permanent {
			t.Errorf("%s failure is transient, want permanent: %v", fe.Instrument, fe)
		}
	}
	if got := htmlCalls.Load(); got != 1 {
		t.Errorf("HTML attempts = %d, want 1", got)
	}
}

func TestFetcher_OptionalMetricMayBeMissing(t *testing.T) {
	srv, _ := newCoinServer(t, nil)
	client := api.NewClient(srv.URL, "key")

	fields := map[string]string{
		"open_interest":   "open_interest_usd",
		"funding_rate":    "avg_funding_rate_by_oi",
		"liquidation_usd": "liquidation_usd_24h",
	}

	tests := []struct {
		name     string
		optional map[string]bool
		wantSnap bool
	}{
		{"required field missing", nil, false},
		{"optional field missing", map[string]bool{"liquidation_usd": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(Config{Concurrency: 1, Fields: fields, Optional: tt.optional}, client, nil)
			res := f.Fetch(context.Background(), []string{"BTC"})

			if !tt.wantSnap {
				if len(res.Snapshots) != 0 || len(res.Failures) != 1 || !res.Failures[0].Permanent {
					t.Errorf("got %d snapshots, failures %v; want one permanent failure", len(res.Snapshots), res.Failures)
				}
				return
			}
			if len(res.Snapshots) != 1 {
				t.Fatalf("len(Snapshots) = %d, want 1 (failures %v)", len(res.Snapshots), res.Failures)
			}
			sn := res.Snapshots[0]
			if v, ok := sn.Value("open_interest"); !ok || v != 1000 {
				t.Errorf("open_interest = %v, %v; want 1000", v, ok)
			}
			if _, ok := sn.Value("liquidation_usd"); ok {
				t.Error("liquidation_usd should be absent")
			}
		})
	}
}

func TestFetcher_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		sym := r.URL.Query().Get("symbol")
		fmt.Fprintf(w, `{"code":"0","data":[{"symbol":%q,"open_interest_usd":1,"avg_funding_rate_by_oi":1}]}`, sym)
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, "key")
	f := New(Config{Concurrency: 2, Fields: testFields}, client, nil)

	instruments := []string{"A", "B", "C", "D", "E", "F"}
	res := f.Fetch(context.Background(), instruments)

	if len(res.Snapshots) != len(instruments) {
		t.Errorf("len(Snapshots) = %d, want %d", len(res.Snapshots), len(instruments))
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestFetcher_CancelledContext(t *testing.T) {
	srv, _ := newCoinServer(t, nil)
	client := api.NewClient(srv.URL, "key")
	f := New(Config{Concurrency: 1, Fields: testFields}, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.Fetch(ctx, []string{"BTC", "ETH"})
	if len(res.Snapshots) != 0 {
		t.Errorf("len(Snapshots) = %d, want 0", len(res.Snapshots))
	}
	if len(res.Failures) != 2 {
		t.Fatalf("len(Failures) = %d, want 2", len(res.Failures))
	}
	for _, fe := range res.Failures {
		if !fe.Transient() {
			t.Errorf("%s failure should be transient", fe.Instrument)
		}
	}
}

func TestFetchError(t *testing.T) {
	fe := &FetchError{Instrument: "BTC", Permanent: true, Err: fmt.Errorf("boom")}
	if got := fe.Error(); got != "fetch BTC (permanent): boom" {
		t.Errorf("Error() = %q", got)
	}
	if fe.Transient() {
		t.Error("Transient() = true, want false")
	}
}
