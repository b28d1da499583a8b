package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCountsResults(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	r.Observe(ctx, "mint", true, 2*time.Millisecond)
	r.Observe(ctx, "mint", true, time.Millisecond)
	r.Observe(ctx, "mint", false, time.Millisecond)
	r.Observe(ctx, "", true, time.Millisecond)

	if got := testutil.ToFloat64(r.results.WithLabelValues("mint", "success")); got != 2 {
		t.Fatalf("success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.results.WithLabelValues("mint", "error")); got != 1 {
		t.Fatalf("error = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(r.durations); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.Observe(context.Background(), "update_state", true, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `seedtrace_operations_total{operation="update_state",result="success"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}

func TestServeUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := NewRecorder()
	r.Observe(context.Background(), "extract_lab_report", false, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `seedtrace_operations_total{operation="extract_lab_report",result="error"} 1`) {
		t.Fatalf("served metrics missing counter:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
