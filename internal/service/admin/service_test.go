package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository/memory"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
	"github.com/kirinyoku/cinego/internal/uow"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func row(label string, numbers ...string) domain.SeatRow {
	r := domain.SeatRow{Row: label}
	for _, n := range numbers {
		r.Seats = append(r.Seats, domain.Seat{Number: n, Price: decimal.NewFromInt(10)})
	}
	return r
}

func TestCreateTheatreAndScreen(t *testing.T) {
	store := memory.New()
	svc := New(uow.NewUoW(store), WithLogger(discard))
	ctx := context.Background()

	th, err := svc.CreateTheatre(ctx, "  Odeon ", "Main St")
	require.NoError(t, err)
	assert.Equal(t, "Odeon", th.Name)
	assert.NotEmpty(t, th.ID)

	sc, err := svc.CreateScreen(ctx, th.ID, "Screen 1", []domain.SeatRow{
		row("A", "1", "2"),
		{Row: "B", Seats: []domain.Seat{{Number: "1", Class: domain.SeatVIP, Price: decimal.NewFromInt(25)}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2", "B1"}, sc.SeatIDs())
	assert.Equal(t, domain.SeatRegular, sc.Layout[0].Seats[0].Class)
	assert.Equal(t, domain.SeatVIP, sc.Layout[1].Seats[0].Class)

	stored, err := store.Catalog().GetScreen(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, th.ID, stored.TheatreID)

	_, err = svc.CreateScreen(ctx, "missing", "Screen 2", []domain.SeatRow{row("A", "1")})
	assert.ErrorIs(t, err, domain.ErrTheatreNotFound)

	_, err = svc.CreateTheatre(ctx, " ", "")
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestNormalizeLayout_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		layout []domain.SeatRow
	}{
		{"empty", nil},
		{"bad row label", []domain.SeatRow{row("A1", "1")}},
		{"duplicate row", []domain.SeatRow{row("A", "1"), row("A", "2")}},
		{"row without seats", []domain.SeatRow{{Row: "A"}}},
		{"bad seat number", []domain.SeatRow{row("A", "x")}},
		{"duplicate seat", []domain.SeatRow{row("A", "1", "1")}},
		{"unknown class", []domain.SeatRow{{Row: "A", Seats: []domain.Seat{{Number: "1", Class: "balcony"}}}}},
		{"negative price", []domain.SeatRow{{Row: "A", Seats: []domain.Seat{{Number: "1", Price: decimal.NewFromInt(-5)}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeLayout(tt.layout)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func seed(t *testing.T, store *memory.Store, booked []string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Catalog().CreateTheatre(ctx, &domain.Theatre{ID: "t1", Name: "Odeon"}))
	require.NoError(t, store.Catalog().CreateScreen(ctx, &domain.Screen{
		ID: "s1", TheatreID: "t1", Name: "Screen 1",
		Layout: []domain.SeatRow{row("A", "1", "2", "3"), row("B", "1", "2")},
	}))
	require.NoError(t, store.Showtimes().Create(ctx, &domain.Showtime{
		ID: "st1", TheatreID: "t1", ScreenID: "s1", MovieRef: "550",
		ShowDate: "2030-05-20", StartTime: "14:00", EndTime: "16:00",
	}))
	require.NoError(t, store.Showtimes().Create(ctx, &domain.Showtime{
		ID: "st2", TheatreID: "t1", ScreenID: "s1", MovieRef: "551",
		ShowDate: "2030-05-21", StartTime: "14:00", EndTime: "16:00",
	}))
	require.NoError(t, store.Showtimes().SetBookedSeats(ctx, "st2", booked, time.Now()))
}

func TestUpdateScreenLayout_BlocksRemovingBookedSeats(t *testing.T) {
	store := memory.New()
	seed(t, store, []string{"B2"})
	svc := New(uow.NewUoW(store), WithLogger(discard))
	ctx := context.Background()

	_, err := svc.UpdateScreenLayout(ctx, "s1", []domain.SeatRow{row("A", "1", "2", "3"), row("B", "1")})

	var inUse *SeatsInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, []string{"B2"}, inUse.Seats)

	sc, err := store.Catalog().GetScreen(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, sc.SeatIDs(), 5, "layout unchanged")
}

func TestUpdateScreenLayout_WritesThroughCache(t *testing.T) {
	store := memory.New()
	seed(t, store, []string{"B2"})
	ctx := context.Background()

	input := []domain.SeatRow{row("A", "1", "2"), row("B", "1", "2", "3")}
	want, err := store.Catalog().GetScreen(ctx, "s1")
	require.NoError(t, err)
	want.Layout, err = NormalizeLayout(input)
	require.NoError(t, err)
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	db, mock := redismock.NewClientMock()
	mock.ExpectSet(redisrepo.KeyScreen("s1"), string(raw), 5*time.Minute).SetVal("OK")

	svc := New(uow.NewUoW(store), WithLogger(discard), WithCache(redisrepo.New(db, discard), 5*time.Minute))

	sc, err := svc.UpdateScreenLayout(ctx, "s1", input)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2", "B1", "B2", "B3"}, sc.SeatIDs())

	stored, err := store.Catalog().GetScreen(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sc.SeatIDs(), stored.SeatIDs())

	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = svc.UpdateScreenLayout(ctx, "missing", []domain.SeatRow{row("A", "1")})
	assert.ErrorIs(t, err, domain.ErrScreenNotFound)
}

func TestUpdateScreenLayout_DropsCacheWhenWriteFails(t *testing.T) {
	store := memory.New()
	seed(t, store, nil)

	db, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSet(redisrepo.KeyScreen("s1"), `.*`, 10*time.Minute).SetErr(errors.New("OOM"))
	mock.ExpectDel(redisrepo.KeyScreen("s1")).SetVal(1)

	svc := New(uow.NewUoW(store), WithLogger(discard), WithCache(redisrepo.New(db, discard), 0))

	_, err := svc.UpdateScreenLayout(context.Background(), "s1", []domain.SeatRow{row("A", "1")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScreenCache_StaleFillCannotOverwriteEdit(t *testing.T) {
	store := memory.New()
	seed(t, store, nil)
	ctx := context.Background()

	old, err := store.Catalog().GetScreen(ctx, "s1")
	require.NoError(t, err)

	db, mock := redismock.NewClientMock()
	key := redisrepo.KeyScreen("s1")
	mock.Regexp().ExpectSet(key, `.*`, 10*time.Minute).SetVal("OK")
	// a reader that loaded the old layout before the edit committed
	mock.ExpectGet(key).RedisNil()
	mock.Regexp().ExpectSetNX(key, `.*`, 10*time.Minute).SetVal(false)

	cache := redisrepo.New(db, discard)
	svc := New(uow.NewUoW(store), WithLogger(discard), WithCache(cache, 0))

	_, err = svc.UpdateScreenLayout(ctx, "s1", []domain.SeatRow{row("A", "1")})
	require.NoError(t, err)

	got, err := redisrepo.GetOrSetJSON(ctx, cache, key, 10*time.Minute, func(context.Context) (domain.Screen, error) {
		return *old, nil
	})
	require.NoError(t, err)
	assert.Equal(t, old.SeatIDs(), got.SeatIDs(), "the reader still gets its own copy")
	assert.NoError(t, mock.ExpectationsWereMet())
}
