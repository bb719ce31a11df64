package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"hostelattendance/internal/geo"
	"hostelattendance/internal/schedule"
)

// Audit action tags.
const (
	ActionMarked = "attendance_marked"
	ActionFailed = "attendance_failed"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "attendance_decisions_total",
	Help: "Check-in decisions by outcome and rejection reason.",
}, []string{"outcome", "reason"})

// UserStore resolves user profiles. A missing user is (nil, nil).
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

// RecordStore persists attendance records. CreateRecord must be
// create-if-absent on (date, user): it returns false, nil when a
// record already exists and must never overwrite one.
type RecordStore interface {
	GetRecord(ctx context.Context, date, userID string) (*Record, error)
	CreateRecord(ctx context.Context, rec Record) (bool, error)
}

// Auditor receives decision outcomes. Implementations are
// fire-and-forget: they never return an error to the engine.
type Auditor interface {
	Record(ctx context.Context, userID, action string, details map[string]any, date string)
}

// DayMarker is an optional fast pre-check for "already marked today".
// It is advisory only; the record store stays the source of truth.
type DayMarker interface {
	Marked(ctx context.Context, date, userID string) bool
	Mark(ctx context.Context, date, userID string)
}

// Config carries the static per-deployment rules.
type Config struct {
	Window       schedule.Window
	Center       geo.Coordinate
	RadiusMeters float64
	// BiometricFailOpen restores the legacy behavior where a failed
	// biometric verification still lets marking proceed. Off by
	// default; enabling it defeats the point of the gate.
	BiometricFailOpen bool
	// Now supplies the current local time; defaults to time.Now.
	Now func() time.Time
}

// Engine decides whether a check-in is allowed and what status it
// receives. It holds no cross-user mutable state; the same-user
// same-day race is settled by the record store's create-if-absent
// write, not by an in-process lock.
type Engine struct {
	users   UserStore
	records RecordStore
	audit   Auditor
	marker  DayMarker
	cfg     Config
}

// NewEngine wires the engine with its collaborators. marker may be nil.
func NewEngine(users UserStore, records RecordStore, audit Auditor, marker DayMarker, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{users: users, records: records, audit: audit, marker: marker, cfg: cfg}
}

// Input is one check-in attempt.
type Input struct {
	UserID             string
	Method             Method
	Location           *geo.Coordinate
	BiometricAvailable bool
	BiometricPassed    bool
}

// Evaluate runs the eligibility checks in order, short-circuiting on
// the first failure. Failures come back as *Rejection; each failure
// after the duplicate check also emits one audit entry. A duplicate
// emits none, since no new fact occurred.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	now := e.cfg.Now()
	date := now.Format(DateLayout)

	user, err := e.users.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, e.rejected(rejectStore(err))
	}
	if user == nil {
		return nil, e.rejected(reject(KindUserNotFound, "user profile not found"))
	}

	if e.marker != nil && e.marker.Marked(ctx, date, in.UserID) {
		return nil, e.rejected(reject(KindAlreadyMarked, "attendance already marked today"))
	}
	existing, err := e.records.GetRecord(ctx, date, in.UserID)
	if err != nil {
		return nil, e.rejected(rejectStore(err))
	}
	if existing != nil {
		e.mark(ctx, date, in.UserID)
		return nil, e.rejected(reject(KindAlreadyMarked, "attendance already marked today"))
	}

	if in.Location == nil {
		e.audit.Record(ctx, in.UserID, ActionFailed, map[string]any{"reason": "location unavailable"}, date)
		return nil, e.rejected(reject(KindLocationUnavailable, "current location unavailable"))
	}

	if !e.cfg.Window.Contains(now) {
		e.audit.Record(ctx, in.UserID, ActionFailed, map[string]any{"reason": "outside time window"}, date)
		return nil, e.rejected(reject(KindWindowClosed,
			fmt.Sprintf("attendance window is closed (%s)", e.cfg.Window)))
	}

	dist := geo.DistanceMeters(e.cfg.Center, *in.Location)
	if dist > e.cfg.RadiusMeters {
		e.audit.Record(ctx, in.UserID, ActionFailed, map[string]any{
			"reason":   "outside hostel boundary",
			"distance": dist,
		}, date)
		r := reject(KindOutsideBoundary,
			fmt.Sprintf("you are outside the hostel premises (%.0fm away)", dist))
		r.DistanceMeters = dist
		return nil, e.rejected(r)
	}

	if user.BiometricEnabled && in.BiometricAvailable && !in.BiometricPassed && !e.cfg.BiometricFailOpen {
		e.audit.Record(ctx, in.UserID, ActionFailed, map[string]any{
			"reason": "biometric verification failed",
			"method": string(in.Method),
		}, date)
		return nil, e.rejected(reject(KindBiometricFailed, "biometric verification failed"))
	}

	status := e.cfg.Window.Classify(now)
	rec := Record{
		UserID:           user.ID,
		UserName:         user.Name,
		EnrollmentNumber: user.EnrollmentNumber,
		Date:             date,
		MarkedAt:         now,
		Location:         in.Location,
		Method:           in.Method,
		Status:           status,
	}
	created, err := e.records.CreateRecord(ctx, rec)
	if err != nil {
		e.audit.Record(ctx, in.UserID, ActionFailed, map[string]any{"reason": err.Error()}, date)
		return nil, e.rejected(rejectStore(err))
	}
	if !created {
		// Lost the race to a concurrent attempt. The existing record
		// stands; this is a duplicate, not an error.
		e.mark(ctx, date, in.UserID)
		return nil, e.rejected(reject(KindAlreadyMarked, "attendance already marked today"))
	}
	e.mark(ctx, date, in.UserID)

	e.audit.Record(ctx, in.UserID, ActionMarked, map[string]any{
		"method": string(in.Method),
		"status": string(status),
	}, date)
	decisions.WithLabelValues("accepted", "").Inc()
	return &Decision{Status: status, Record: rec}, nil
}

func (e *Engine) mark(ctx context.Context, date, userID string) {
	if e.marker != nil {
		e.marker.Mark(ctx, date, userID)
	}
}

func (e *Engine) rejected(r *Rejection) *Rejection {
	decisions.WithLabelValues("rejected", string(r.Kind)).Inc()
	return r
}
