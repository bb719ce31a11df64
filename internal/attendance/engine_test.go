package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostelattendance/internal/geo"
	"hostelattendance/internal/schedule"
)

// ~1 degree of latitude in meters; used to place test points at a
// known distance from the center.
const metersPerLatDegree = 111194.92664

var testCenter = geo.Coordinate{Lat: 24.436924752254967, Lon: 77.15831449580436}

func pointAtMeters(m float64) *geo.Coordinate {
	return &geo.Coordinate{Lat: testCenter.Lat + m/metersPerLatDegree, Lon: testCenter.Lon}
}

type fakeUsers struct {
	users map[string]*User
	err   error
}

func (f *fakeUsers) GetUser(ctx context.Context, id string) (*User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

type fakeRecords struct {
	records   map[string]Record
	getErr    error
	createErr error
	// hideFromGet simulates the window where a concurrent insert has
	// landed but this attempt's duplicate read ran before it.
	hideFromGet bool
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]Record)}
}

func (f *fakeRecords) key(date, userID string) string { return date + "|" + userID }

func (f *fakeRecords) GetRecord(ctx context.Context, date, userID string) (*Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.hideFromGet {
		return nil, nil
	}
	if rec, ok := f.records[f.key(date, userID)]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (f *fakeRecords) CreateRecord(ctx context.Context, rec Record) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	k := f.key(rec.Date, rec.UserID)
	if _, ok := f.records[k]; ok {
		return false, nil
	}
	f.records[k] = rec
	return true, nil
}

type auditEntry struct {
	userID  string
	action  string
	details map[string]any
	date    string
}

type fakeAudit struct {
	entries []auditEntry
}

func (f *fakeAudit) Record(ctx context.Context, userID, action string, details map[string]any, date string) {
	f.entries = append(f.entries, auditEntry{userID: userID, action: action, details: details, date: date})
}

func fixedClock(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 8, 30, hour, minute, 0, 0, time.Local)
	}
}

func testUser() *User {
	return &User{
		ID:               "u1",
		EnrollmentNumber: "21B0101",
		Email:            "u1@juetguna.in",
		Name:             "Asha",
		BiometricEnabled: true,
	}
}

type engineFixture struct {
	users   *fakeUsers
	records *fakeRecords
	audit   *fakeAudit
	engine  *Engine
}

func newFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()
	window, err := schedule.New(480, 1020, 15) // 8:00-17:00, 15 min grace
	require.NoError(t, err)

	cfg := Config{
		Window:       window,
		Center:       testCenter,
		RadiusMeters: 100,
		Now:          fixedClock(8, 5),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f := &engineFixture{
		users:   &fakeUsers{users: map[string]*User{"u1": testUser()}},
		records: newFakeRecords(),
		audit:   &fakeAudit{},
	}
	f.engine = NewEngine(f.users, f.records, f.audit, nil, cfg)
	return f
}

func validInput() Input {
	return Input{
		UserID:             "u1",
		Method:             MethodBiometric,
		Location:           pointAtMeters(50),
		BiometricAvailable: true,
		BiometricPassed:    true,
	}
}

func requireRejection(t *testing.T, err error) *Rejection {
	t.Helper()
	var r *Rejection
	require.ErrorAs(t, err, &r)
	return r
}

func TestEvaluateAccepted(t *testing.T) {
	f := newFixture(t, nil)

	decision, err := f.engine.Evaluate(context.Background(), validInput())
	require.NoError(t, err)
	require.NotNil(t, decision)

	assert.Equal(t, schedule.StatusPresent, decision.Status)
	assert.Equal(t, "u1", decision.Record.UserID)
	assert.Equal(t, "Asha", decision.Record.UserName)
	assert.Equal(t, "21B0101", decision.Record.EnrollmentNumber)
	assert.Equal(t, "2026-08-30", decision.Record.Date)
	assert.Equal(t, MethodBiometric, decision.Record.Method)
	require.NotNil(t, decision.Record.Location)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, ActionMarked, f.audit.entries[0].action)
	assert.Equal(t, map[string]any{"method": "biometric", "status": "present"}, f.audit.entries[0].details)
}

func TestEvaluateLateStatus(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Now = fixedClock(8, 20) })

	decision, err := f.engine.Evaluate(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusLate, decision.Status)
}

func TestEvaluateIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.engine.Evaluate(ctx, validInput())
	require.NoError(t, err)

	_, err = f.engine.Evaluate(ctx, validInput())
	r := requireRejection(t, err)
	assert.Equal(t, KindAlreadyMarked, r.Kind)
	assert.False(t, r.Retryable())

	// The stored record is exactly what the first call produced, and
	// a duplicate attempt adds no audit entry.
	stored, err := f.records.GetRecord(ctx, first.Record.Date, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.Record, *stored)
	assert.Len(t, f.audit.entries, 1)
}

func TestEvaluateUserNotFound(t *testing.T) {
	f := newFixture(t, nil)

	in := validInput()
	in.UserID = "ghost"
	_, err := f.engine.Evaluate(context.Background(), in)
	r := requireRejection(t, err)
	assert.Equal(t, KindUserNotFound, r.Kind)
	assert.Empty(t, f.audit.entries)
}

func TestEvaluateLocationUnavailable(t *testing.T) {
	f := newFixture(t, nil)

	in := validInput()
	in.Location = nil
	_, err := f.engine.Evaluate(context.Background(), in)
	r := requireRejection(t, err)
	assert.Equal(t, KindLocationUnavailable, r.Kind)
	assert.True(t, r.Retryable())

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, ActionFailed, f.audit.entries[0].action)
	assert.Equal(t, "location unavailable", f.audit.entries[0].details["reason"])
}

func TestEvaluateWindowClosed(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Now = fixedClock(23, 0) })

	_, err := f.engine.Evaluate(context.Background(), validInput())
	r := requireRejection(t, err)
	assert.Equal(t, KindWindowClosed, r.Kind)
	assert.Contains(t, r.Message, "08:00-17:00")

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "outside time window", f.audit.entries[0].details["reason"])
}

func TestEvaluateOutsideBoundary(t *testing.T) {
	f := newFixture(t, nil)

	in := validInput()
	in.Location = pointAtMeters(500)
	_, err := f.engine.Evaluate(context.Background(), in)
	r := requireRejection(t, err)
	assert.Equal(t, KindOutsideBoundary, r.Kind)
	assert.InDelta(t, 500, r.DistanceMeters, 1)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "outside hostel boundary", f.audit.entries[0].details["reason"])
	assert.InDelta(t, 500, f.audit.entries[0].details["distance"].(float64), 1)
}

func TestEvaluateBoundaryInclusive(t *testing.T) {
	// A point exactly on the radius is inside.
	point := pointAtMeters(100)
	dist := geo.DistanceMeters(testCenter, *point)
	f := newFixture(t, func(cfg *Config) { cfg.RadiusMeters = dist })

	in := validInput()
	in.Location = point
	_, err := f.engine.Evaluate(context.Background(), in)
	assert.NoError(t, err)
}

func TestEvaluateBiometricGate(t *testing.T) {
	t.Run("failed verification rejects by default", func(t *testing.T) {
		f := newFixture(t, nil)

		in := validInput()
		in.BiometricPassed = false
		_, err := f.engine.Evaluate(context.Background(), in)
		r := requireRejection(t, err)
		assert.Equal(t, KindBiometricFailed, r.Kind)

		require.Len(t, f.audit.entries, 1)
		assert.Equal(t, "biometric verification failed", f.audit.entries[0].details["reason"])
	})

	t.Run("fail-open flag restores legacy behavior", func(t *testing.T) {
		f := newFixture(t, func(cfg *Config) { cfg.BiometricFailOpen = true })

		in := validInput()
		in.BiometricPassed = false
		decision, err := f.engine.Evaluate(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, schedule.StatusPresent, decision.Status)
	})

	t.Run("unavailable verifier does not block", func(t *testing.T) {
		f := newFixture(t, nil)

		in := validInput()
		in.BiometricAvailable = false
		in.BiometricPassed = false
		_, err := f.engine.Evaluate(context.Background(), in)
		assert.NoError(t, err)
	})

	t.Run("gate skipped when profile has biometric disabled", func(t *testing.T) {
		f := newFixture(t, nil)
		f.users.users["u1"].BiometricEnabled = false

		in := validInput()
		in.BiometricPassed = false
		_, err := f.engine.Evaluate(context.Background(), in)
		assert.NoError(t, err)
	})
}

func TestEvaluateConcurrentDuplicateMapsToAlreadyMarked(t *testing.T) {
	// A lost create-if-absent race is a duplicate, not an internal error.
	f := newFixture(t, nil)
	f.records.records[f.records.key("2026-08-30", "u1")] = Record{UserID: "u1", Date: "2026-08-30"}
	f.records.hideFromGet = true

	_, err := f.engine.Evaluate(context.Background(), validInput())
	r := requireRejection(t, err)
	assert.Equal(t, KindAlreadyMarked, r.Kind)

	// The existing record stands untouched.
	f.records.hideFromGet = false
	stored, err := f.records.GetRecord(context.Background(), "2026-08-30", "u1")
	require.NoError(t, err)
	assert.Empty(t, stored.UserName)
}

func TestEvaluateStoreErrors(t *testing.T) {
	t.Run("user lookup failure", func(t *testing.T) {
		f := newFixture(t, nil)
		f.users.err = errors.New("connection refused")

		_, err := f.engine.Evaluate(context.Background(), validInput())
		r := requireRejection(t, err)
		assert.Equal(t, KindStoreError, r.Kind)
		assert.True(t, r.Retryable())
	})

	t.Run("record insert failure audits and surfaces", func(t *testing.T) {
		f := newFixture(t, nil)
		f.records.createErr = errors.New("quota exceeded")

		_, err := f.engine.Evaluate(context.Background(), validInput())
		r := requireRejection(t, err)
		assert.Equal(t, KindStoreError, r.Kind)
		require.Len(t, f.audit.entries, 1)
		assert.Equal(t, ActionFailed, f.audit.entries[0].action)
	})
}

type fakeMarker struct {
	marked map[string]bool
}

func (m *fakeMarker) Marked(ctx context.Context, date, userID string) bool {
	return m.marked[date+"|"+userID]
}

func (m *fakeMarker) Mark(ctx context.Context, date, userID string) {
	m.marked[date+"|"+userID] = true
}

func TestEvaluateDayMarker(t *testing.T) {
	window, err := schedule.New(480, 1020, 15)
	require.NoError(t, err)

	marker := &fakeMarker{marked: make(map[string]bool)}
	users := &fakeUsers{users: map[string]*User{"u1": testUser()}}
	records := newFakeRecords()
	sink := &fakeAudit{}
	engine := NewEngine(users, records, sink, marker, Config{
		Window:       window,
		Center:       testCenter,
		RadiusMeters: 100,
		Now:          fixedClock(8, 5),
	})
	ctx := context.Background()

	_, err = engine.Evaluate(ctx, validInput())
	require.NoError(t, err)
	assert.True(t, marker.Marked(ctx, "2026-08-30", "u1"))

	// Second attempt is cut off by the marker before touching the store.
	records.getErr = errors.New("store must not be consulted")
	_, err = engine.Evaluate(ctx, validInput())
	r := requireRejection(t, err)
	assert.Equal(t, KindAlreadyMarked, r.Kind)
}
