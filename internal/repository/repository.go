package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kirinyoku/cinego/internal/domain"
)

// Repos groups the repositories bound to a single handle: either the store itself
// or one open transaction.
type Repos interface {
	Catalog() CatalogRepo
	Showtimes() ShowtimeRepo
	Bookings() BookingRepo
	Payments() PaymentRepo
}

// Store is a Repos that can also open transactions.
type Store interface {
	Repos

	// RunTx runs fn inside one transaction. Writes made through tx become visible
	// to other readers only if fn returns nil and the commit succeeds.
	// A nil opts means a serializable read-write transaction.
	RunTx(ctx context.Context, opts *pgx.TxOptions, fn func(ctx context.Context, tx Repos) error) error

	// Retryable reports whether err is a transient transaction failure
	// (serialization failure, deadlock) that is safe to retry from scratch.
	Retryable(err error) bool
}

type CatalogRepo interface {
	CreateTheatre(ctx context.Context, t *domain.Theatre) error
	GetTheatre(ctx context.Context, id string) (*domain.Theatre, error)
	CreateScreen(ctx context.Context, s *domain.Screen) error
	GetScreen(ctx context.Context, id string) (*domain.Screen, error)
	// LockScreen reads the screen and holds it exclusively until the transaction ends.
	LockScreen(ctx context.Context, id string) (*domain.Screen, error)
	UpdateScreenLayout(ctx context.Context, id string, layout []domain.SeatRow) error
}

type ShowtimeRepo interface {
	Create(ctx context.Context, s *domain.Showtime) error
	Get(ctx context.Context, id string) (*domain.Showtime, error)
	// Lock reads the showtime and holds it exclusively until the transaction ends.
	Lock(ctx context.Context, id string) (*domain.Showtime, error)
	// UpdateSchedule writes every field except the booked seats.
	UpdateSchedule(ctx context.Context, s *domain.Showtime) error
	// SetBookedSeats replaces the booked seats and bumps SeatsVersion by one.
	SetBookedSeats(ctx context.Context, id string, seats []string, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	ListByScreenDate(ctx context.Context, screenID, showDate string) ([]domain.Showtime, error)
	ListByScreen(ctx context.Context, screenID string) ([]domain.Showtime, error)
	List(ctx context.Context, f domain.ShowtimeFilter) ([]domain.Showtime, int, error)
}

type BookingRepo interface {
	Create(ctx context.Context, b *domain.Booking) error
	Get(ctx context.Context, id string) (*domain.Booking, error)
	Update(ctx context.Context, b *domain.Booking) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error)
	// ListExpired returns holds (pending/reserved) whose expiry is strictly before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
	CountLive(ctx context.Context, showtimeID string) (int, error)
}

type PaymentRepo interface {
	Create(ctx context.Context, p *domain.Payment) error
	LatestByBooking(ctx context.Context, bookingID string) (*domain.Payment, error)
	Update(ctx context.Context, p *domain.Payment) error
}
