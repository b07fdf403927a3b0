package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/events"
	"github.com/kirinyoku/cinego/internal/metrics"
	"github.com/kirinyoku/cinego/internal/repository"
	"github.com/kirinyoku/cinego/internal/service/inventory"
	"github.com/kirinyoku/cinego/internal/uow"
)

type Config struct {
	HoldTTL    time.Duration
	SweepBatch int
	MaxSeats   int
}

// Limiter is satisfied by redisrepo.SlidingWindowLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

type Service struct {
	uow     *uow.UoW
	store   repository.Store
	cfg     Config
	limiter Limiter
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

func WithLimiter(l Limiter) Option           { return func(s *Service) { s.limiter = l } }
func WithEvents(p events.Publisher) Option   { return func(s *Service) { s.events = p } }
func WithMetrics(m *metrics.Metrics) Option  { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option       { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func New(u *uow.UoW, cfg Config, opts ...Option) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 15 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 500
	}
	if cfg.MaxSeats <= 0 {
		cfg.MaxSeats = 10
	}

	s := &Service{
		uow:    u,
		store:  u.Store(),
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type CreateInput struct {
	UserID     string
	ShowtimeID string
	Seats      []string
	TotalPrice decimal.Decimal
	// RateLimitKey identifies the caller for the limiter; empty disables limiting.
	RateLimitKey string
}

// CreateBooking atomically checks and reserves seats for a showtime.
//
// Of several concurrent calls with overlapping seats at most one succeeds; the
// others fail with *domain.SeatConflictError and persist nothing.
//
// Returns:
//   - *domain.Booking: the pending booking, holding its seats until ExpiresAt.
//   - error: *domain.ValidationError for malformed input.
//   - error: *domain.InvalidSeatError if a seat is not part of the screen.
//   - error: *domain.SeatConflictError listing the seats already taken.
//   - error: domain.ErrShowtimeNotFound if the showtime does not exist.
//   - error: *domain.RateLimitedError if the caller exceeded its quota.
func (s *Service) CreateBooking(ctx context.Context, in CreateInput) (*domain.Booking, error) {
	const op = "service.booking.CreateBooking"

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%s:%w", op, domain.Invalid("user", "is required"))
	}
	if strings.TrimSpace(in.ShowtimeID) == "" {
		return nil, fmt.Errorf("%s:%w", op, domain.Invalid("showtime", "is required"))
	}
	if in.TotalPrice.IsNegative() {
		return nil, fmt.Errorf("%s:%w", op, domain.Invalid("totalPrice", "must not be negative"))
	}

	seats, err := inventory.NormalizeSeats(in.Seats)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if len(seats) > s.cfg.MaxSeats {
		return nil, fmt.Errorf("%s:%w", op, domain.Invalid("seats", "at most %d seats per booking", s.cfg.MaxSeats))
	}

	if s.limiter != nil && in.RateLimitKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, in.RateLimitKey)
		if err != nil {
			// limiter outage must not block sales
			s.logger.Warn("rate limiter unavailable", "op", op, "err", err)
		} else if !ok {
			return nil, fmt.Errorf("%s:%w", op, &domain.RateLimitedError{RetryAfter: retry})
		}
	}

	var created domain.Booking

	err = s.uow.DoWithOpts(ctx, uow.RowLocking, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		now := s.now().UTC()

		st, err := tx.Showtimes().Lock(ctx, in.ShowtimeID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrShowtimeNotFound
			}
			return err
		}

		if err := inventory.Reserve(ctx, tx, st, seats, now); err != nil {
			return err
		}

		created = domain.Booking{
			ID:            s.newID(),
			UserID:        userID,
			ShowtimeID:    st.ID,
			Seats:         seats,
			TotalPrice:    in.TotalPrice,
			Status:        domain.BookingPending,
			PaymentStatus: domain.PaymentPending,
			ExpiresAt:     now.Add(s.cfg.HoldTTL),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Bookings().Create(ctx, &created); err != nil {
			return err
		}

		s.afterSeatsChanged(after, *st)

		return nil
	})
	if err != nil {
		var conflict *domain.SeatConflictError
		if errors.As(err, &conflict) {
			s.metrics.SeatConflict()
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.metrics.BookingCreated()
	s.logger.Info("booking created",
		"booking_id", created.ID, "showtime_id", created.ShowtimeID, "seats", created.Seats)

	return &created, nil
}

// CancelBooking releases the booking's seats and marks it cancelled in one unit of work.
//
// Returns:
//   - error: domain.ErrBookingNotFound if absent.
//   - error: domain.ErrAlreadyCancelled if already cancelled.
//   - error: domain.ErrBookingClosed if expired; its seats were already released.
func (s *Service) CancelBooking(ctx context.Context, id string) (*domain.Booking, error) {
	const op = "service.booking.CancelBooking"

	var out domain.Booking

	err := s.uow.DoWithOpts(ctx, uow.RowLocking, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		now := s.now().UTC()

		b, st, err := inventory.LockBooking(ctx, tx, id)
		if err != nil {
			return err
		}

		switch b.Status {
		case domain.BookingCancelled:
			return domain.ErrAlreadyCancelled
		case domain.BookingExpired:
			return domain.ErrBookingClosed
		}

		if err := inventory.Release(ctx, tx, st, b.Seats, now); err != nil {
			return err
		}

		b.Status = domain.BookingCancelled
		b.UpdatedAt = now
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return err
		}

		if st != nil {
			s.afterSeatsChanged(after, *st)
		}

		out = *b

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.metrics.BookingCancelled()

	return &out, nil
}

// ExpireStaleBookings expires every pending or reserved booking whose hold has
// lapsed and releases its seats. Each booking is handled in its own unit of
// work; a failure on one does not stop the others.
func (s *Service) ExpireStaleBookings(ctx context.Context) (int, error) {
	const op = "service.booking.ExpireStaleBookings"

	var (
		expired int
		errs    []error
		skip    = make(map[string]struct{})
	)

	for {
		batch, err := s.store.Bookings().ListExpired(ctx, s.now().UTC(), s.cfg.SweepBatch)
		if err != nil {
			return expired, fmt.Errorf("%s:%w", op, err)
		}

		progressed := false
		for _, b := range batch {
			if _, ok := skip[b.ID]; ok {
				continue
			}

			ok, err := s.expireOne(ctx, b.ID)
			if err != nil {
				skip[b.ID] = struct{}{}
				errs = append(errs, err)
				continue
			}
			if ok {
				expired++
				progressed = true
			}
		}

		if len(batch) < s.cfg.SweepBatch || !progressed || ctx.Err() != nil {
			break
		}
	}

	s.metrics.BookingsExpiredAdd(expired)
	if expired > 0 {
		s.logger.Info("expired stale bookings", "count", expired)
	}

	if err := errors.Join(errs...); err != nil {
		return expired, fmt.Errorf("%s:%w", op, err)
	}

	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, id string) (bool, error) {
	expired := false

	err := s.uow.DoWithOpts(ctx, uow.RowLocking, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		expired = false
		now := s.now().UTC()

		b, st, err := inventory.LockBooking(ctx, tx, id)
		if err != nil {
			if errors.Is(err, domain.ErrBookingNotFound) {
				return nil
			}
			return err
		}

		// paid or cancelled while we were waiting for the lock
		if !b.Holding() || !b.ExpiresAt.Before(now) {
			return nil
		}

		if err := inventory.Release(ctx, tx, st, b.Seats, now); err != nil {
			return err
		}

		b.Status = domain.BookingExpired
		b.UpdatedAt = now
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return err
		}

		if st != nil {
			s.afterSeatsChanged(after, *st)
		}

		expired = true

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("booking %s: %w", id, err)
	}

	return expired, nil
}

// RunSweeper calls ExpireStaleBookings every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ExpireStaleBookings(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("expiry sweep failed", "err", err)
			}
		}
	}
}

func (s *Service) GetBooking(ctx context.Context, id string) (*domain.BookingDetails, error) {
	const op = "service.booking.GetBooking"

	b, err := s.store.Bookings().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, domain.ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out, err := s.join(ctx, []domain.Booking{*b})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &out[0], nil
}

// ListBookings returns bookings matching f, newest first, each joined with its showtime.
func (s *Service) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.BookingDetails, error) {
	const op = "service.booking.ListBookings"

	list, err := s.store.Bookings().List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out, err := s.join(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// DeleteBooking removes a booking, releasing its seats first if it is still live.
func (s *Service) DeleteBooking(ctx context.Context, id string) error {
	const op = "service.booking.DeleteBooking"

	err := s.uow.DoWithOpts(ctx, uow.RowLocking, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		now := s.now().UTC()

		b, st, err := inventory.LockBooking(ctx, tx, id)
		if err != nil {
			return err
		}

		if b.Live() {
			if err := inventory.Release(ctx, tx, st, b.Seats, now); err != nil {
				return err
			}
			if st != nil {
				s.afterSeatsChanged(after, *st)
			}
		}

		return tx.Bookings().Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// join attaches each booking's showtime; showtimes are read once per id.
func (s *Service) join(ctx context.Context, list []domain.Booking) ([]domain.BookingDetails, error) {
	showtimes := make(map[string]*domain.Showtime)
	out := make([]domain.BookingDetails, 0, len(list))

	for _, b := range list {
		st, seen := showtimes[b.ShowtimeID]
		if !seen {
			got, err := s.store.Showtimes().Get(ctx, b.ShowtimeID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
			case err != nil:
				return nil, err
			default:
				st = got
			}
			showtimes[b.ShowtimeID] = st
		}

		out = append(out, domain.BookingDetails{Booking: b, Showtime: st})
	}

	return out, nil
}

func (s *Service) afterSeatsChanged(after func(uow.AfterCommit), st domain.Showtime) {
	if s.events == nil {
		return
	}

	ev := domain.ShowtimeEvent{
		Type:         domain.EventSeatsChanged,
		ShowtimeID:   st.ID,
		BookedSeats:  st.BookedSeats,
		SeatsVersion: st.SeatsVersion,
		At:           st.UpdatedAt,
	}

	after(func(ctx context.Context) {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Warn("publish seats changed failed", "showtime_id", ev.ShowtimeID, "err", err)
		}
	})
}
