package ethicalfetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAllowedFailsClosedOnRobotsFetchError(t *testing.T) {
	// Server that always errors on /robots.txt but serves pages fine.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{RespectRobots: true, UserAgent: "test/1.0 (+http://example.com)"}, testLogger())
	allowed, err := f.Allowed(context.Background(), srv.URL+"/listing/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("expected Allowed to fail closed when robots.txt cannot be fetched")
	}
}

func TestAllowedTrueWhenRobotsMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{RespectRobots: true}, testLogger())
	allowed, err := f.Allowed(context.Background(), srv.URL+"/listing/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("expected Allowed to be true when robots.txt is 404")
	}
}

func TestGetRetriesOnRetriableStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{
		RespectRobots: true,
		MinDelay:      time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		MaxRetries:    5,
		BackoffFactor: 1,
	}, testLogger())

	body, err := f.Get(context.Background(), srv.URL+"/listing/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("expected body 'ok', got %q", body)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestGetNonRetriable4xxReturnsNilWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{RespectRobots: true, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}, testLogger())
	body, err := f.Get(context.Background(), srv.URL+"/listing/missing")
	if err != nil {
		t.Fatalf("expected nil error for non-retriable 4xx, got %v", err)
	}
	if body != nil {
		t.Fatalf("expected nil body, got %v", body)
	}
}

func TestGetSkipsIORepeatedURL(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		requests++
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{RespectRobots: true, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}, testLogger())
	url := srv.URL + "/listing/1"

	body, err := f.Get(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("expected body 'ok', got %q", body)
	}

	body, err = f.Get(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error on repeated fetch: %v", err)
	}
	if body != nil {
		t.Fatalf("expected nil body for repeated url, got %v", body)
	}
	if requests != 1 {
		t.Fatalf("expected exactly 1 request, got %d", requests)
	}
}

func TestVisitedSet(t *testing.T) {
	f := New(Config{}, testLogger())
	if f.IsVisited("http://example.com/a") {
		t.Fatal("expected not visited initially")
	}
	f.MarkVisited("http://example.com/a")
	if !f.IsVisited("http://example.com/a") {
		t.Fatal("expected visited after MarkVisited")
	}
	f.ResetVisited()
	if f.IsVisited("http://example.com/a") {
		t.Fatal("expected visited set cleared after ResetVisited")
	}
}

func TestValidUserAgent(t *testing.T) {
	if !ValidUserAgent("realtor-scout/1.0 (+https://example.com/bot)") {
		t.Fatal("expected pattern to match")
	}
	if ValidUserAgent("curl") {
		t.Fatal("expected bare UA to fail pattern check")
	}
}
