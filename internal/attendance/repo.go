package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hostelattendance/internal/geo"
	"hostelattendance/internal/schedule"
)

// Repository persists users and attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser registers a new user. Email collisions surface as an
// error from the unique index.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, enrollment_number, email, name, password_hash, registered_at, biometric_enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, u.EnrollmentNumber, u.Email, u.Name, u.PasswordHash, u.RegisteredAt, u.BiometricEnabled)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUser returns a user by id, or nil when missing.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, enrollment_number, email, name, password_hash, registered_at, biometric_enabled
		FROM users WHERE id = $1
	`, id))
}

// GetUserByEmail returns a user by email, or nil when missing.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, enrollment_number, email, name, password_hash, registered_at, biometric_enabled
		FROM users WHERE email = $1
	`, email))
}

func (r *Repository) scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.EnrollmentNumber, &u.Email, &u.Name, &u.PasswordHash, &u.RegisteredAt, &u.BiometricEnabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// SetBiometricEnabled flips the one mutable profile field.
func (r *Repository) SetBiometricEnabled(ctx context.Context, userID string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET biometric_enabled = $2 WHERE id = $1`, userID, enabled)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, userID, token, expiresAt)
	return err
}

// GetRecord returns the attendance record for (date, user), or nil.
func (r *Repository) GetRecord(ctx context.Context, date, userID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, user_name, enrollment_number, date, marked_at, lat, lon, method, status
		FROM attendance_records
		WHERE date = $1 AND user_id = $2
	`, date, userID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// CreateRecord inserts a write-once attendance record. The composite
// primary key on (date, user_id) makes the insert create-if-absent:
// a concurrent duplicate hits ON CONFLICT DO NOTHING and is reported
// as created == false, never overwritten.
func (r *Repository) CreateRecord(ctx context.Context, rec Record) (bool, error) {
	var lat, lon *float64
	if rec.Location != nil {
		lat, lon = &rec.Location.Lat, &rec.Location.Lon
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (date, user_id, user_name, enrollment_number, marked_at, lat, lon, method, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (date, user_id) DO NOTHING
	`, rec.Date, rec.UserID, rec.UserName, rec.EnrollmentNumber, rec.MarkedAt, lat, lon, rec.Method, rec.Status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListUserRecords returns a user's records, newest first.
func (r *Repository) ListUserRecords(ctx context.Context, userID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, user_name, enrollment_number, date, marked_at, lat, lon, method, status
		FROM attendance_records
		WHERE user_id = $1
		ORDER BY date DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListByDate returns every record for one calendar date.
func (r *Repository) ListByDate(ctx context.Context, date string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, user_name, enrollment_number, date, marked_at, lat, lon, method, status
		FROM attendance_records
		WHERE date = $1
		ORDER BY marked_at
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var lat, lon sql.NullFloat64
	var method, status string
	if err := row.Scan(&rec.UserID, &rec.UserName, &rec.EnrollmentNumber, &rec.Date, &rec.MarkedAt, &lat, &lon, &method, &status); err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		rec.Location = &geo.Coordinate{Lat: lat.Float64, Lon: lon.Float64}
	}
	rec.Method = Method(method)
	rec.Status = schedule.Status(status)
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}

var _ UserStore = (*Repository)(nil)
var _ RecordStore = (*Repository)(nil)

// Schema documents the tables this repo expects; applied out of band.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	enrollment_number TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	registered_at TIMESTAMPTZ NOT NULL,
	biometric_enabled BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS attendance_records (
	date TEXT NOT NULL,
	user_id TEXT NOT NULL REFERENCES users(id),
	user_name TEXT NOT NULL,
	enrollment_number TEXT NOT NULL,
	marked_at TIMESTAMPTZ NOT NULL,
	lat DOUBLE PRECISION,
	lon DOUBLE PRECISION,
	method TEXT NOT NULL,
	status TEXT NOT NULL,
	PRIMARY KEY (date, user_id)
);
CREATE TABLE IF NOT EXISTS refresh_tokens (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	details JSONB NOT NULL DEFAULT '{}',
	recorded_at TIMESTAMPTZ NOT NULL,
	date TEXT NOT NULL
);
`

// EnsureSchema creates the tables if they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
