package watrack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(ClientOptions{
		BaseURL:   server.URL,
		Headers:   map[string]string{"X-N8N-API-KEY": "test-key"},
		BaseDelay: time.Millisecond,
		Trace:     func(string, string, int, int, time.Duration, error) {},
	})
	client.jitter = func() float64 { return 0 }
	return client, server
}

func TestClientRetriesTransientStatuses(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"id": "1"}], "nextCursor": ""}`))
	})

	page, err := client.FetchExecutionsPage(context.Background(), "wf", 10, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(page.Executions) != 1 || page.Executions[0].ID != "1" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestClientDoesNotRetryNonTransientStatus(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "nope"}`))
	})

	_, err := client.FetchExecutionsPage(context.Background(), "wf", 10, "")
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if attempts != 1 {
		t.Fatalf("403 must not be retried, got %d attempts", attempts)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("error must carry the status code: %v", err)
	}
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchExecutionsPage(context.Background(), "wf", 10, "")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", attempts)
	}
}

func TestClientSendsConfiguredHeaders(t *testing.T) {
	var gotKey string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-N8N-API-KEY")
		_, _ = w.Write([]byte(`{"data": []}`))
	})

	if _, err := client.FetchExecutionsPage(context.Background(), "wf", 10, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test-key" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
}

func TestRetryDelayDoublesPerAttempt(t *testing.T) {
	client := NewClient(ClientOptions{BaseURL: "http://localhost"})
	client.jitter = func() float64 { return 0 }

	expected := []time.Duration{600 * time.Millisecond, 1200 * time.Millisecond, 2400 * time.Millisecond}
	for i, want := range expected {
		if got := client.retryDelay(i + 1); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, want, got)
		}
	}

	client.jitter = func() float64 { return 1 }
	if got := client.retryDelay(1); got != 900*time.Millisecond {
		t.Fatalf("full jitter must add half the base delay, got %s", got)
	}
}

func TestSleepContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Minute); err == nil {
		t.Fatal("expected context error from cancelled sleep")
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Fatalf("zero delay must return immediately: %v", err)
	}
}

func TestRetryExecutionFallsBackToEmptyBody(t *testing.T) {
	bodies := []string{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		bodies = append(bodies, string(buf[:n]))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	ok, err := client.RetryExecution(context.Background(), "55", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("fallback retry must report success")
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(bodies))
	}
	if !strings.Contains(bodies[0], "loadWorkflow") {
		t.Fatalf("first attempt must carry loadWorkflow, got %q", bodies[0])
	}
	if strings.TrimSpace(bodies[1]) != "{}" {
		t.Fatalf("fallback must send an empty object, got %q", bodies[1])
	}
}
