package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
)

// NormalizeSeats trims the requested ids and rejects empty, malformed or repeated ones.
func NormalizeSeats(seats []string) ([]string, error) {
	if len(seats) == 0 {
		return nil, domain.Invalid("seats", "at least one seat is required")
	}

	out := make([]string, 0, len(seats))
	seen := make(map[string]struct{}, len(seats))

	for _, raw := range seats {
		id := strings.TrimSpace(raw)
		if !domain.ValidSeatID(id) {
			return nil, domain.Invalid("seats", "malformed seat id %q", raw)
		}
		if _, dup := seen[id]; dup {
			return nil, domain.Invalid("seats", "seat %s requested twice", id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out, nil
}

// LockBooking loads a booking and locks the showtime it belongs to. The booking
// is read again after the lock so the caller sees the latest committed state.
// The returned showtime is nil when it no longer exists.
func LockBooking(ctx context.Context, tx repository.Repos, bookingID string) (*domain.Booking, *domain.Showtime, error) {
	b, err := tx.Bookings().Get(ctx, bookingID)
	if err != nil {
		return nil, nil, bookingErr(err)
	}

	st, err := tx.Showtimes().Lock(ctx, b.ShowtimeID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		st = nil
	case err != nil:
		return nil, nil, err
	}

	b, err = tx.Bookings().Get(ctx, bookingID)
	if err != nil {
		return nil, nil, bookingErr(err)
	}

	return b, st, nil
}

// Reserve adds seats to a showtime locked by the caller's transaction.
//
// Returns:
//   - *domain.InvalidSeatError if a seat is not in the screen layout.
//   - *domain.SeatConflictError if a seat is already booked; nothing is written.
func Reserve(ctx context.Context, tx repository.Repos, st *domain.Showtime, seats []string, now time.Time) error {
	screen, err := tx.Catalog().GetScreen(ctx, st.ScreenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrScreenNotFound
		}
		return err
	}

	if invalid := screen.InvalidSeats(seats); len(invalid) > 0 {
		return &domain.InvalidSeatError{Seats: invalid}
	}

	if taken := domain.Intersect(seats, st.BookedSeats); len(taken) > 0 {
		return &domain.SeatConflictError{Seats: taken}
	}

	booked := append(slices.Clone(st.BookedSeats), seats...)
	if err := tx.Showtimes().SetBookedSeats(ctx, st.ID, booked, now); err != nil {
		return err
	}

	st.BookedSeats = booked
	st.SeatsVersion++
	st.UpdatedAt = now

	return nil
}

// Release removes seats from a showtime locked by the caller's transaction.
// A nil showtime is ignored.
func Release(ctx context.Context, tx repository.Repos, st *domain.Showtime, seats []string, now time.Time) error {
	if st == nil {
		return nil
	}

	booked := domain.Subtract(st.BookedSeats, seats)
	if err := tx.Showtimes().SetBookedSeats(ctx, st.ID, booked, now); err != nil {
		return err
	}

	st.BookedSeats = booked
	st.SeatsVersion++
	st.UpdatedAt = now

	return nil
}

func bookingErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %w", domain.ErrBookingNotFound, err)
	}
	return err
}
