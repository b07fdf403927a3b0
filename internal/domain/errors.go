package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTheatreNotFound  = errors.New("theatre not found")
	ErrScreenNotFound   = errors.New("screen not found")
	ErrShowtimeNotFound = errors.New("showtime not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrAlreadyCancelled = errors.New("booking already cancelled")
	ErrBookingClosed    = errors.New("booking is no longer active")
	ErrAlreadyPaid      = errors.New("booking already paid")

	// ErrContention means a transaction kept losing to concurrent writers.
	// Nothing was written; the request can be sent again.
	ErrContention = errors.New("too many concurrent updates")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// SeatConflictError carries the seats already held by another live booking.
type SeatConflictError struct {
	Seats []string
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seats already booked: %s", strings.Join(e.Seats, ", "))
}

// InvalidSeatError carries the seats that are not part of the screen layout.
type InvalidSeatError struct {
	Seats []string
}

func (e *InvalidSeatError) Error() string {
	return fmt.Sprintf("invalid seats: %s", strings.Join(e.Seats, ", "))
}

// ShowtimeConflictError is returned when a schedule overlaps an existing showtime on the same screen.
type ShowtimeConflictError struct {
	Existing Showtime
}

func (e *ShowtimeConflictError) Error() string {
	return fmt.Sprintf(
		"time conflict with showtime %s (%s-%s)",
		e.Existing.ID, e.Existing.StartTime, e.Existing.EndTime,
	)
}

type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}
