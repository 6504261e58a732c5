package booking

import (
	"context"
	"errors"
	"time"

	"github.com/mbellini/concierge/internal/calendar"
)

// Status is the lifecycle position of a booking record.
type Status string

const (
	StatusConfirmed   Status = "confirmed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

var (
	// ErrAlreadyExists means the booking code is taken; callers regenerate.
	ErrAlreadyExists = errors.New("booking code already exists")
	// ErrNotFound means no record carries the given code.
	ErrNotFound = errors.New("booking not found")
	// ErrStorageFatal means reserve retries were exhausted.
	ErrStorageFatal = errors.New("booking storage failure")
)

// Record is one confirmed appointment. Records are never hard-deleted and a
// code is never reissued, even after cancellation.
type Record struct {
	Code      string        `json:"booking_code"`
	Topic     string        `json:"topic"`
	Slot      calendar.Slot `json:"slot"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store is the durable source of truth for booking records, keyed by code.
// Reserve must be atomic per code across all callers.
type Store interface {
	Reserve(ctx context.Context, r Record) error
	Get(ctx context.Context, code string) (Record, error)
	SetStatus(ctx context.Context, code string, status Status) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}
