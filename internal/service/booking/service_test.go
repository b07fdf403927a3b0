package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/events"
	"github.com/kirinyoku/cinego/internal/repository/memory"
	"github.com/kirinyoku/cinego/internal/service/inventory"
	"github.com/kirinyoku/cinego/internal/uow"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type limiterMock struct{ mock.Mock }

func (m *limiterMock) Allow(ctx context.Context, key string) (bool, int64, time.Duration, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Get(1).(int64), args.Get(2).(time.Duration), args.Error(3)
}

type fixture struct {
	store *memory.Store
	clock *clock
	svc   *Service
	inv   *inventory.Service
	hub   *events.Hub
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	ctx := context.Background()
	store := memory.New()
	clk := &clock{now: time.Date(2030, 5, 20, 10, 0, 0, 0, time.UTC)}
	hub := events.NewHub(16)

	require.NoError(t, store.Catalog().CreateTheatre(ctx, &domain.Theatre{ID: "t1", Name: "Odeon"}))
	require.NoError(t, store.Catalog().CreateScreen(ctx, &domain.Screen{
		ID:        "s1",
		TheatreID: "t1",
		Name:      "Screen 1",
		Layout: []domain.SeatRow{
			{Row: "A", Seats: []domain.Seat{{Number: "1"}, {Number: "2"}, {Number: "3"}}},
			{Row: "B", Seats: []domain.Seat{{Number: "1"}, {Number: "2"}, {Number: "3"}}},
		},
	}))
	require.NoError(t, store.Showtimes().Create(ctx, &domain.Showtime{
		ID:        "st1",
		TheatreID: "t1",
		ScreenID:  "s1",
		MovieRef:  "550",
		ShowDate:  "2030-05-20",
		StartTime: "14:00",
		EndTime:   "16:00",
		Price:     decimal.NewFromInt(10),
	}))

	n := 0
	var idMu sync.Mutex
	base := []Option{
		WithClock(clk.Now),
		WithEvents(hub),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(func() string {
			idMu.Lock()
			defer idMu.Unlock()
			n++
			return fmt.Sprintf("b%d", n)
		}),
	}

	return &fixture{
		store: store,
		clock: clk,
		svc:   New(uow.NewUoW(store), Config{}, append(base, opts...)...),
		inv:   inventory.New(store),
		hub:   hub,
	}
}

func (f *fixture) book(t *testing.T, seats ...string) (*domain.Booking, error) {
	t.Helper()
	return f.svc.CreateBooking(context.Background(), CreateInput{
		UserID:     "u1",
		ShowtimeID: "st1",
		Seats:      seats,
		TotalPrice: decimal.NewFromInt(int64(10 * len(seats))),
	})
}

func (f *fixture) booked(t *testing.T) []string {
	t.Helper()
	st, err := f.store.Showtimes().Get(context.Background(), "st1")
	require.NoError(t, err)
	return st.BookedSeats
}

func TestCreateBooking_ConflictLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)

	b, err := f.book(t, "A1", "A2")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, b.Status)
	assert.Equal(t, domain.PaymentPending, b.PaymentStatus)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), b.ExpiresAt)
	assert.Equal(t, []string{"A1", "A2"}, f.booked(t))

	_, err = f.book(t, "A2", "A3")

	var conflict *domain.SeatConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"A2"}, conflict.Seats)
	assert.Equal(t, []string{"A1", "A2"}, f.booked(t))

	list, err := f.svc.ListBookings(context.Background(), domain.BookingFilter{ShowtimeID: "st1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateBooking_ConcurrentDisjointBothSucceed(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, seats := range [][]string{{"A1", "A2"}, {"B1", "B2"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.book(t, seats...)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.ElementsMatch(t, []string{"A1", "A2", "B1", "B2"}, f.booked(t))
}

func TestCreateBooking_ConcurrentOverlapExactlyOneWins(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seats := []string{"A2", "A1"}
			if i%2 == 0 {
				seats = []string{"A2", "A3"}
			}
			_, err := f.book(t, seats...)

			mu.Lock()
			defer mu.Unlock()
			var conflict *domain.SeatConflictError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &conflict):
				assert.Contains(t, conflict.Seats, "A2")
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, f.booked(t), 2)
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"no seats", CreateInput{UserID: "u1", ShowtimeID: "st1"}},
		{"malformed seat", CreateInput{UserID: "u1", ShowtimeID: "st1", Seats: []string{"1A"}}},
		{"duplicate seat", CreateInput{UserID: "u1", ShowtimeID: "st1", Seats: []string{"A1", "A1"}}},
		{"negative price", CreateInput{UserID: "u1", ShowtimeID: "st1", Seats: []string{"A1"}, TotalPrice: decimal.NewFromInt(-1)}},
		{"missing user", CreateInput{ShowtimeID: "st1", Seats: []string{"A1"}}},
		{"too many seats", CreateInput{UserID: "u1", ShowtimeID: "st1", Seats: []string{"A1", "A2", "A3", "B1", "B2", "B3", "C1", "C2", "C3", "D1", "D2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateBooking(ctx, tt.in)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}

	assert.Empty(t, f.booked(t))
}

func TestCreateBooking_SeatOutsideLayout(t *testing.T) {
	f := newFixture(t)

	_, err := f.book(t, "A1", "Z9")

	var invalid *domain.InvalidSeatError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"Z9"}, invalid.Seats)
	assert.Empty(t, f.booked(t))
}

func TestCreateBooking_UnknownShowtime(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateBooking(context.Background(), CreateInput{UserID: "u1", ShowtimeID: "nope", Seats: []string{"A1"}})
	assert.ErrorIs(t, err, domain.ErrShowtimeNotFound)
}

func TestCreateBooking_RateLimited(t *testing.T) {
	lim := &limiterMock{}
	lim.On("Allow", mock.Anything, "ip:1.2.3.4").Return(false, int64(11), 30*time.Second, nil)

	f := newFixture(t, WithLimiter(lim))

	_, err := f.svc.CreateBooking(context.Background(), CreateInput{
		UserID: "u1", ShowtimeID: "st1", Seats: []string{"A1"}, RateLimitKey: "ip:1.2.3.4",
	})

	var rl *domain.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
	assert.Empty(t, f.booked(t))
	lim.AssertExpectations(t)
}

func TestCreateBooking_LimiterOutageDoesNotBlock(t *testing.T) {
	lim := &limiterMock{}
	lim.On("Allow", mock.Anything, "ip:1.2.3.4").Return(false, int64(0), time.Duration(0), errors.New("redis down"))

	f := newFixture(t, WithLimiter(lim))

	_, err := f.svc.CreateBooking(context.Background(), CreateInput{
		UserID: "u1", ShowtimeID: "st1", Seats: []string{"A1"}, RateLimitKey: "ip:1.2.3.4",
	})
	require.NoError(t, err)
}

func TestCreateBooking_PublishesAfterCommit(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.hub.Subscribe("st1")
	defer cancel()

	_, err := f.book(t, "B3")
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, domain.EventSeatsChanged, ev.Type)
		assert.Equal(t, []string{"B3"}, ev.BookedSeats)
	default:
		t.Fatal("no seats_changed event")
	}
}

func TestCancelBooking_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.book(t, "A1", "A2")
	require.NoError(t, err)

	cancelled, err := f.svc.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, cancelled.Status)

	avail, err := f.inv.GetAvailableSeats(ctx, "st1")
	require.NoError(t, err)
	assert.Subset(t, avail.AvailableSeats, []string{"A1", "A2"})
	assert.Equal(t, 6, avail.AvailableCount)

	_, err = f.svc.CancelBooking(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)

	_, err = f.svc.CancelBooking(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestCancelBooking_KeepsOtherBookingsSeats(t *testing.T) {
	f := newFixture(t)

	a, err := f.book(t, "A1")
	require.NoError(t, err)
	_, err = f.book(t, "A2")
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(context.Background(), a.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"A2"}, f.booked(t))
}

func TestExpireStaleBookings_ReleasesAfterHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.book(t, "A1", "A2")
	require.NoError(t, err)

	f.clock.Advance(14 * time.Minute)
	n, err := f.svc.ExpireStaleBookings(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Minute)
	n, err = f.svc.ExpireStaleBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingExpired, got.Status)
	require.NotNil(t, got.Showtime)
	assert.Empty(t, got.Showtime.BookedSeats)

	avail, err := f.inv.GetAvailableSeats(ctx, "st1")
	require.NoError(t, err)
	assert.Subset(t, avail.AvailableSeats, []string{"A1", "A2"})

	_, err = f.svc.CancelBooking(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrBookingClosed)

	n, err = f.svc.ExpireStaleBookings(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "sweep is idempotent")
}

func TestExpireStaleBookings_SkipsPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.book(t, "A1")
	require.NoError(t, err)

	paid, err := f.store.Bookings().Get(ctx, b.ID)
	require.NoError(t, err)
	paid.Status = domain.BookingPaid
	paid.PaymentStatus = domain.PaymentPaid
	require.NoError(t, f.store.Bookings().Update(ctx, paid))

	f.clock.Advance(time.Hour)
	n, err := f.svc.ExpireStaleBookings(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"A1"}, f.booked(t))
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.RunSweeper(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestDeleteBooking_ReleasesLiveSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.book(t, "B1", "B2")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteBooking(ctx, b.ID))
	assert.Empty(t, f.booked(t))

	_, err = f.svc.GetBooking(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	assert.ErrorIs(t, f.svc.DeleteBooking(ctx, b.ID), domain.ErrBookingNotFound)
}

func TestListBookings_NewestFirstByUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.book(t, "A1")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.book(t, "A2")
	require.NoError(t, err)

	_, err = f.svc.CreateBooking(ctx, CreateInput{UserID: "u2", ShowtimeID: "st1", Seats: []string{"A3"}})
	require.NoError(t, err)

	list, err := f.svc.ListBookings(ctx, domain.BookingFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	require.NotNil(t, list[0].Showtime)
	assert.Equal(t, "550", list[0].Showtime.MovieRef)
}
