package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
)

func seedShowtime(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.Showtimes().Create(context.Background(), &domain.Showtime{
		ID:        id,
		ScreenID:  "scr",
		ShowDate:  "2030-01-01",
		StartTime: "14:00",
		EndTime:   "16:00",
	}))
}

func TestRunTx_RollbackDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedShowtime(t, s, "st1")

	boom := errors.New("boom")
	err := s.RunTx(ctx, nil, func(ctx context.Context, tx repository.Repos) error {
		require.NoError(t, tx.Showtimes().SetBookedSeats(ctx, "st1", []string{"A1"}, time.Now()))
		require.NoError(t, tx.Bookings().Create(ctx, &domain.Booking{ID: "b1", ShowtimeID: "st1"}))

		// the transaction sees its own writes
		st, err := tx.Showtimes().Get(ctx, "st1")
		require.NoError(t, err)
		assert.Equal(t, []string{"A1"}, st.BookedSeats)

		return boom
	})
	require.ErrorIs(t, err, boom)

	st, err := s.Showtimes().Get(ctx, "st1")
	require.NoError(t, err)
	assert.Empty(t, st.BookedSeats)

	_, err = s.Bookings().Get(ctx, "b1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRunTx_CommitIsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedShowtime(t, s, "st1")

	err := s.RunTx(ctx, nil, func(ctx context.Context, tx repository.Repos) error {
		if err := tx.Showtimes().SetBookedSeats(ctx, "st1", []string{"A1", "A2"}, time.Now()); err != nil {
			return err
		}
		// not visible outside before commit
		st, err := s.Showtimes().Get(ctx, "st1")
		require.NoError(t, err)
		assert.Empty(t, st.BookedSeats)

		return tx.Bookings().Create(ctx, &domain.Booking{ID: "b1", ShowtimeID: "st1", Status: domain.BookingPending})
	})
	require.NoError(t, err)

	st, err := s.Showtimes().Get(ctx, "st1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, st.BookedSeats)

	n, err := s.Bookings().CountLive(ctx, "st1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLock_SerializesSameShowtime(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedShowtime(t, s, "st1")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.RunTx(ctx, nil, func(ctx context.Context, tx repository.Repos) error {
			if _, err := tx.Showtimes().Lock(ctx, "st1"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err := s.RunTx(waitCtx, nil, func(ctx context.Context, tx repository.Repos) error {
		_, err := tx.Showtimes().Lock(ctx, "st1")
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)

	err = s.RunTx(ctx, nil, func(ctx context.Context, tx repository.Repos) error {
		_, err := tx.Showtimes().Lock(ctx, "st1")
		return err
	})
	assert.NoError(t, err)
}

func TestLock_DisjointShowtimesDoNotBlock(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedShowtime(t, s, "st1")
	seedShowtime(t, s, "st2")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.RunTx(ctx, nil, func(ctx context.Context, tx repository.Repos) error {
			if _, err := tx.Showtimes().Lock(ctx, "st1"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	err := s.RunTx(waitCtx, nil, func(ctx context.Context, tx repository.Repos) error {
		_, err := tx.Showtimes().Lock(ctx, "st2")
		return err
	})
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestShowtimes_ListFiltersAndPages(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, st := range []domain.Showtime{
		{ID: "c", MovieRef: "550", ShowDate: "2030-01-02", StartTime: "10:00"},
		{ID: "a", MovieRef: "550", ShowDate: "2030-01-01", StartTime: "18:00"},
		{ID: "b", MovieRef: "550", ShowDate: "2030-01-01", StartTime: "12:00"},
		{ID: "d", MovieRef: "680", ShowDate: "2030-01-01", StartTime: "09:00"},
	} {
		require.NoError(t, s.Showtimes().Create(ctx, &st))
	}

	got, total, err := s.Showtimes().List(ctx, domain.ShowtimeFilter{MovieRef: "550", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	got, total, err = s.Showtimes().List(ctx, domain.ShowtimeFilter{MovieRef: "550", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	got, _, err = s.Showtimes().List(ctx, domain.ShowtimeFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBookings_ListExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, b := range []domain.Booking{
		{ID: "old", Status: domain.BookingPending, ExpiresAt: now.Add(-time.Minute)},
		{ID: "older", Status: domain.BookingReserved, ExpiresAt: now.Add(-time.Hour)},
		{ID: "fresh", Status: domain.BookingPending, ExpiresAt: now.Add(time.Minute)},
		{ID: "paid", Status: domain.BookingPaid, ExpiresAt: now.Add(-time.Hour)},
		{ID: "edge", Status: domain.BookingPending, ExpiresAt: now},
	} {
		require.NoError(t, s.Bookings().Create(ctx, &b))
	}

	got, err := s.Bookings().ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "older", got[0].ID)
	assert.Equal(t, "old", got[1].ID)
}

func TestReadsReturnCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Bookings().Create(ctx, &domain.Booking{ID: "b1", Seats: []string{"A1"}}))

	b, err := s.Bookings().Get(ctx, "b1")
	require.NoError(t, err)
	b.Seats[0] = "Z9"

	again, err := s.Bookings().Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "A1", again.Seats[0])
}
