// Package progress implements the Progress Channel (C7): a
// poll-based SSE-style event stream over a job's status, re-reading
// the store on each tick rather than pushing updates from the job
// engine, so it always reflects the latest committed state (spec.md
// §4.7). Wired into fiber via c.Context().SetBodyStreamWriter, the way
// the teacher streams responses for large payloads elsewhere in
// internal/http.
package progress

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"realtor-scout/internal/store"
)

// EventType enumerates the SSE event names spec.md §4.7 requires.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventStatus    EventType = "status"
	EventHeartbeat EventType = "heartbeat"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one SSE frame.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Store is the read dependency this package needs.
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (store.ScrapeJob, error)
}

// Streamer polls a job's status/progress and writes SSE frames until
// the job reaches a terminal state or the client disconnects.
type Streamer struct {
	store           Store
	pollInterval    time.Duration
	heartbeatEveryN int
}

func New(st Store, pollInterval time.Duration, heartbeatEveryN int) *Streamer {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if heartbeatEveryN <= 0 {
		heartbeatEveryN = 15
	}
	return &Streamer{store: st, pollInterval: pollInterval, heartbeatEveryN: heartbeatEveryN}
}

// Stream writes SSE-formatted events for jobID to w until the job
// finishes, ctx is cancelled, or an unrecoverable store error occurs.
func (s *Streamer) Stream(ctx context.Context, w *bufio.Writer, jobID uuid.UUID) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var lastStatus string
	polls := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		polls++

		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			if writeErr := writeEvent(w, Event{Type: EventError, Data: map[string]string{"message": err.Error()}}); writeErr != nil {
				return writeErr
			}
			return err
		}

		if job.Status != lastStatus {
			if err := writeEvent(w, Event{Type: EventStatus, Data: map[string]string{"status": job.Status}}); err != nil {
				return err
			}
			lastStatus = job.Status
		}

		var prog json.RawMessage = job.Progress
		if err := writeEvent(w, Event{Type: EventProgress, Data: prog}); err != nil {
			return err
		}

		if isTerminal(job.Status) {
			return writeEvent(w, Event{Type: EventDone, Data: map[string]string{"status": job.Status}})
		}

		if polls%s.heartbeatEveryN == 0 {
			if err := writeEvent(w, Event{Type: EventHeartbeat, Data: map[string]int64{"unix": time.Now().Unix()}}); err != nil {
				return err
			}
		}
	}
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	default:
		return false
	}
}

func writeEvent(w *bufio.Writer, ev Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	return w.Flush()
}
