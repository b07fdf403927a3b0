package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository/memory"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func seeded(t *testing.T, booked ...string) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.Catalog().CreateTheatre(ctx, &domain.Theatre{ID: "t1", Name: "Odeon"}))
	require.NoError(t, store.Catalog().CreateScreen(ctx, &domain.Screen{
		ID:        "s1",
		TheatreID: "t1",
		Name:      "Screen 1",
		Layout: []domain.SeatRow{
			{Row: "A", Seats: []domain.Seat{{Number: "1"}, {Number: "2"}}},
			{Row: "B", Seats: []domain.Seat{{Number: "1"}, {Number: "2"}}},
		},
	}))
	require.NoError(t, store.Showtimes().Create(ctx, &domain.Showtime{
		ID: "st1", TheatreID: "t1", ScreenID: "s1", MovieRef: "550",
		ShowDate: "2030-05-20", StartTime: "14:00", EndTime: "16:00",
	}))
	if len(booked) > 0 {
		require.NoError(t, store.Showtimes().SetBookedSeats(ctx, "st1", booked, time.Now()))
	}

	return store
}

func TestGetAvailableSeats(t *testing.T) {
	svc := New(seeded(t, "B1", "A2"), WithLogger(discard))

	got, err := svc.GetAvailableSeats(context.Background(), "st1")
	require.NoError(t, err)

	assert.Equal(t, 4, got.TotalSeats)
	assert.Equal(t, []string{"A1", "B2"}, got.AvailableSeats)
	assert.Equal(t, 2, got.AvailableCount)
	assert.Equal(t, []string{"B1", "A2"}, got.BookedSeats)
	assert.Equal(t, "Screen 1", got.ScreenName)
	assert.Equal(t, "550", got.MovieRef)

	_, err = svc.GetAvailableSeats(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrShowtimeNotFound)
}

func TestCheckSeatsAvailability(t *testing.T) {
	svc := New(seeded(t, "A2"), WithLogger(discard))
	ctx := context.Background()

	ok, err := svc.CheckSeatsAvailability(ctx, "st1", []string{" A1 ", "B2"})
	require.NoError(t, err)
	assert.True(t, ok.Available)
	assert.Equal(t, []string{"A1", "B2"}, ok.RequestedSeats)
	assert.Empty(t, ok.UnavailableSeats)

	taken, err := svc.CheckSeatsAvailability(ctx, "st1", []string{"A1", "A2"})
	require.NoError(t, err)
	assert.False(t, taken.Available)
	assert.Equal(t, []string{"A2"}, taken.UnavailableSeats)

	_, err = svc.CheckSeatsAvailability(ctx, "st1", []string{"C9"})
	var invalid *domain.InvalidSeatError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"C9"}, invalid.Seats)

	_, err = svc.CheckSeatsAvailability(ctx, "st1", nil)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestScreen_ServedFromCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet(redisrepo.KeyScreen("s1")).
		SetVal(`{"id":"s1","theatre":"t1","name":"Cached","seatLayout":[{"row":"Z","seats":[{"number":"9"}]}]}`)

	svc := New(seeded(t), WithLogger(discard), WithScreenCache(redisrepo.New(db, discard), time.Minute))

	got, err := svc.GetAvailableSeats(context.Background(), "st1")
	require.NoError(t, err)
	assert.Equal(t, "Cached", got.ScreenName)
	assert.Equal(t, []string{"Z9"}, got.AvailableSeats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScreen_CacheOutageFallsBackToStore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet(redisrepo.KeyScreen("s1")).SetErr(errors.New("connection refused"))

	svc := New(seeded(t), WithLogger(discard), WithScreenCache(redisrepo.New(db, discard), time.Minute))

	sc, err := svc.Screen(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Screen 1", sc.Name)
}

func TestNormalizeSeats(t *testing.T) {
	got, err := NormalizeSeats([]string{" A1", "b12 "})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "b12"}, got)

	for _, bad := range [][]string{nil, {""}, {"A"}, {"12"}, {"ABCD1"}, {"A1234"}, {"A1", "A1"}} {
		_, err := NormalizeSeats(bad)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr, "%v", bad)
	}
}
