package attendance

import (
	"time"

	"hostelattendance/internal/geo"
	"hostelattendance/internal/schedule"
)

// DateLayout is the local calendar date key format.
const DateLayout = "2006-01-02"

// Method tags how a check-in was verified.
type Method string

const (
	MethodBiometric Method = "biometric"
	MethodFace      Method = "face"
)

// Valid reports whether m is a known method tag.
func (m Method) Valid() bool {
	return m == MethodBiometric || m == MethodFace
}

// User is a registered hostel resident. The profile is immutable
// after registration except for the biometric flag.
type User struct {
	ID               string    `json:"id"`
	EnrollmentNumber string    `json:"enrollment_number"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	PasswordHash     string    `json:"-"`
	RegisteredAt     time.Time `json:"registered_at"`
	BiometricEnabled bool      `json:"biometric_enabled"`
}

// Record is a write-once attendance fact keyed by (date, user).
// Name and enrollment number are snapshotted at write time so the
// record stays accurate if the profile changes later.
type Record struct {
	UserID           string          `json:"user_id"`
	UserName         string          `json:"user_name"`
	EnrollmentNumber string          `json:"enrollment_number"`
	Date             string          `json:"date"`
	MarkedAt         time.Time       `json:"marked_at"`
	Location         *geo.Coordinate `json:"location,omitempty"`
	Method           Method          `json:"method"`
	Status           schedule.Status `json:"status"`
}

// Decision is the successful outcome of an Evaluate call.
type Decision struct {
	Status schedule.Status `json:"status"`
	Record Record          `json:"record"`
}
