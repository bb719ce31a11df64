// Package audit provides the append-only operational trail. Writes
// are best-effort by contract: losing an audit entry must never
// change the outcome of the attendance decision that produced it.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"hostelattendance/internal/queue"
)

// MessageType tags audit entries on the queue.
const MessageType = "audit"

// Entry is one append-only audit fact. The details map is free-form;
// its shape varies by action.
type Entry struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details"`
	RecordedAt time.Time      `json:"recorded_at"`
	Date       string         `json:"date"`
}

// Recorder dispatches entries onto a queue so a slow sink never adds
// latency to the user-facing decision. It never returns an error to
// the caller; publish failures are logged and dropped.
type Recorder struct {
	q   queue.Queue
	now func() time.Time
}

// NewRecorder wraps a queue.
func NewRecorder(q queue.Queue) *Recorder {
	return &Recorder{q: q, now: time.Now}
}

// Record publishes one entry, fire-and-forget.
func (r *Recorder) Record(ctx context.Context, userID, action string, details map[string]any, date string) {
	e := Entry{
		ID:         uuid.NewString(),
		UserID:     userID,
		Action:     action,
		Details:    details,
		RecordedAt: r.now().UTC(),
		Date:       date,
	}
	body, err := json.Marshal(e)
	if err != nil {
		log.Printf("audit encode failed: %v", err)
		return
	}
	if err := r.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}

// Sink writes entries to the audit_logs table. Used by the worker
// and by the in-process drain when the queue backend is memory.
type Sink struct {
	db *sql.DB
}

// NewSink wraps a database handle.
func NewSink(db *sql.DB) *Sink {
	return &Sink{db: db}
}

// Insert appends one entry.
func (s *Sink) Insert(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		details = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, details, recorded_at, date)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.UserID, e.Action, details, e.RecordedAt, e.Date)
	return err
}

// Drain consumes audit messages and inserts them until ctx ends.
// Insert failures are logged and the message is discarded; the trail
// is best-effort by design.
func Drain(ctx context.Context, q queue.Queue, sink *Sink) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != MessageType {
			continue
		}
		var e Entry
		if err := json.Unmarshal(msg.Body, &e); err != nil {
			log.Printf("audit decode failed: %v", err)
			continue
		}
		if err := sink.Insert(ctx, e); err != nil {
			log.Printf("audit insert failed for %s: %v", e.ID, err)
		}
	}
	return nil
}
