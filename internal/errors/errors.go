package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDataFound is returned for an import with no rows.
	ErrNoDataFound = errors.New("no data found")
	// ErrTransportNotConfigured aborts a dispatch run before any job is claimed.
	ErrTransportNotConfigured = errors.New("message transport not configured")
	// ErrJobNotClaimed means the job left the processing state under us
	// (e.g. reclaimed by the stale sweep).
	ErrJobNotClaimed   = errors.New("job is not claimed")
	ErrInvalidStrategy = errors.New("invalid import strategy")
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError reports a missing referenced entity.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %v not found", e.Entity, e.ID)
}

func NewNotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func NewCampaignNotFound(id int) error {
	return NewNotFound("campaign", id)
}

func NewContactNotFound(id int) error {
	return NewNotFound("contact", id)
}

func NewMessageNotFound(id int) error {
	return NewNotFound("message", id)
}

func NewJobNotFound(id int) error {
	return NewNotFound("job", id)
}

// InvalidStateError is returned when an operation is not allowed in the
// entity's current status.
type InvalidStateError struct {
	Entity string
	ID     int
	Status string
	Want   string
}

func (e *InvalidStateError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("%s %d is in invalid state %q", e.Entity, e.ID, e.Status)
	}
	return fmt.Sprintf("%s %d is %q, want %s", e.Entity, e.ID, e.Status, e.Want)
}

func NewInvalidState(entity string, id int, status, want string) error {
	return &InvalidStateError{Entity: entity, ID: id, Status: status, Want: want}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsInvalidState(err error) bool {
	var is *InvalidStateError
	return errors.As(err, &is)
}
