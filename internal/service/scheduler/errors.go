package scheduler

import "errors"

var (
	ErrShowtimeHasBookings = errors.New("showtime has live bookings")
	ErrShowtimeExists      = errors.New("showtime already exists")
)
