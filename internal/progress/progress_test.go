package progress

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"realtor-scout/internal/store"
)

type stubStore struct {
	calls  int
	status []string
}

func (s *stubStore) GetJob(ctx context.Context, id uuid.UUID) (store.ScrapeJob, error) {
	status := s.status[s.calls]
	if s.calls < len(s.status)-1 {
		s.calls++
	}
	return store.ScrapeJob{ID: id, Status: status, Progress: json.RawMessage(`{"pages_scraped":1}`)}, nil
}

func TestStreamEmitsStatusProgressAndDone(t *testing.T) {
	st := &stubStore{status: []string{"running", "completed"}}
	streamer := New(st, time.Millisecond, 1000)

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	err := streamer.Stream(context.Background(), w, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("event: status")) {
		t.Fatalf("expected a status event, got:\n%s", out)
	}
	if !bytes.Contains([]byte(out), []byte("event: progress")) {
		t.Fatalf("expected a progress event, got:\n%s", out)
	}
	if !bytes.Contains([]byte(out), []byte("event: done")) {
		t.Fatalf("expected a done event, got:\n%s", out)
	}
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	st := &stubStore{status: []string{"running", "running", "running"}}
	streamer := New(st, time.Millisecond, 1000)

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Millisecond)
	defer cancel()

	err := streamer.Stream(ctx, w, uuid.New())
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}
