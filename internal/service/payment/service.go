package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/events"
	"github.com/kirinyoku/cinego/internal/metrics"
	"github.com/kirinyoku/cinego/internal/repository"
	"github.com/kirinyoku/cinego/internal/service/inventory"
	"github.com/kirinyoku/cinego/internal/uow"
)

const DefaultProvider = "stripe"

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeSuccess, OutcomeFailed, OutcomeCancelled:
		return o, nil
	}
	return "", domain.Invalid("status", "unknown payment outcome %q", s)
}

type Service struct {
	uow      *uow.UoW
	store    repository.Store
	gateway  Gateway
	notifier Notifier
	events   events.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

func WithNotifier(n Notifier) Option         { return func(s *Service) { s.notifier = n } }
func WithEvents(p events.Publisher) Option   { return func(s *Service) { s.events = p } }
func WithMetrics(m *metrics.Metrics) Option  { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option       { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// New builds the service. A nil gateway falls back to ReferenceGateway.
func New(u *uow.UoW, gateway Gateway, opts ...Option) *Service {
	if gateway == nil {
		gateway = ReferenceGateway{}
	}

	s := &Service{
		uow:     u,
		store:   u.Store(),
		gateway: gateway,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type Checkout struct {
	Booking     domain.Booking `json:"booking"`
	Payment     domain.Payment `json:"payment"`
	CheckoutRef string         `json:"checkoutRef"`
}

// InitiateCheckout asks the gateway for a checkout reference, then records a
// pending payment and moves the booking to reserved.
//
// Returns:
//   - error: domain.ErrBookingNotFound if absent.
//   - error: domain.ErrBookingClosed if the hold expired, domain.ErrAlreadyCancelled
//     or domain.ErrAlreadyPaid for settled bookings.
//   - error: *domain.ExternalServiceError if the gateway fails; nothing is persisted.
func (s *Service) InitiateCheckout(ctx context.Context, bookingID, provider string) (*Checkout, error) {
	const op = "service.payment.InitiateCheckout"

	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = DefaultProvider
	}

	b, err := s.store.Bookings().Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, domain.ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if err := checkoutAllowed(b, s.now()); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	ref, err := s.gateway.CreateCheckout(ctx, *b, provider)
	if err != nil {
		s.metrics.Payment("gateway_error")
		return nil, fmt.Errorf("%s:%w", op, &domain.ExternalServiceError{Service: "payment gateway", Err: err})
	}

	var out Checkout

	err = s.uow.DoWithOpts(ctx, uow.RowLocking, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		now := s.now().UTC()

		b, _, err := inventory.LockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		// the hold may have lapsed while the gateway was answering
		if err := checkoutAllowed(b, now); err != nil {
			return err
		}

		p := domain.Payment{
			ID:            s.newID(),
			UserID:        b.UserID,
			BookingID:     b.ID,
			Amount:        b.TotalPrice,
			Status:        domain.TransactionPending,
			Provider:      provider,
			TransactionID: ref,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Payments().Create(ctx, &p); err != nil {
			return err
		}

		b.Status = domain.BookingReserved
		b.UpdatedAt = now
		if err := tx.Bookings().Update(ctx, b); err != nil {
			return err
		}

		out = Checkout{Booking: *b, Payment: p, CheckoutRef: ref}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.metrics.Payment("initiated")
	s.logger.Info("checkout initiated", "booking_id", bookingID, "provider", provider)

	return &out, nil
}

func checkoutAllowed(b *domain.Booking, now time.Time) error {
	switch b.Status {
	case domain.BookingPaid:
		return domain.ErrAlreadyPaid
	case domain.BookingCancelled:
		return domain.ErrAlreadyCancelled
	case domain.BookingExpired:
		return domain.ErrBookingClosed
	}
	if !b.ExpiresAt.After(now) {
		return domain.ErrBookingClosed
	}
	return nil
}

// ConfirmPayment applies a provider's verdict to a booking.
//
// success marks the booking paid and is idempotent. An expired booking is
// revived only if all of its seats are still free; otherwise the payment is
// recorded as failed and *domain.SeatConflictError is returned.
//
// failed and cancelled release the seats and cancel the booking. Repeating
// them on a closed booking only records the failed payment status.
//
// Returns:
//   - error: *domain.ValidationError for an unknown outcome.
//   - error: domain.ErrBookingNotFound if absent.
//   - error: domain.ErrAlreadyCancelled for success on a cancelled booking.
//   - error: domain.ErrAlreadyPaid for a failure on a paid booking.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID, externalRef, outcome string) (*domain.Booking, error) {
	const op = "service.payment.ConfirmPayment"

	o, err := ParseOutcome(outcome)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if strings.TrimSpace(bookingID) == "" {
		return nil, fmt.Errorf("%s:%w", op, domain.Invalid("bookingId", "is required"))
	}
	externalRef = strings.TrimSpace(externalRef)

	var (
		out  domain.Booking
		lost *domain.SeatConflictError
	)

	err = s.uow.DoWithOpts(ctx, uow.RowLocking, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		lost = nil
		now := s.now().UTC()

		b, st, err := inventory.LockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}

		if o == OutcomeSuccess {
			lost, err = s.settleSuccess(ctx, tx, after, b, st, externalRef, now)
		} else {
			err = s.settleFailure(ctx, tx, after, b, st, externalRef, now)
		}
		if err != nil {
			return err
		}

		out = *b

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if lost != nil {
		s.metrics.Payment("conflict")
		s.logger.Warn("payment arrived after seats were resold",
			"booking_id", bookingID, "payment_ref", externalRef, "seats", lost.Seats)
		return nil, fmt.Errorf("%s:%w", op, lost)
	}

	s.metrics.Payment(string(o))

	return &out, nil
}

// settleSuccess returns a non-nil conflict when an expired booking could not
// get its seats back; the failed state is still written.
func (s *Service) settleSuccess(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	b *domain.Booking,
	st *domain.Showtime,
	ref string,
	now time.Time,
) (*domain.SeatConflictError, error) {
	switch b.Status {
	case domain.BookingPaid:
		return nil, nil
	case domain.BookingCancelled:
		return nil, domain.ErrAlreadyCancelled
	case domain.BookingExpired:
		lost, err := s.revive(ctx, tx, b, st, now)
		if err != nil {
			return nil, err
		}
		if lost != nil {
			b.PaymentStatus = domain.PaymentFailed
			b.UpdatedAt = now
			if err := tx.Bookings().Update(ctx, b); err != nil {
				return nil, err
			}
			return lost, s.settleRecord(ctx, tx, b, domain.TransactionFailed, ref, now, false)
		}
		s.afterSeatsChanged(after, *st)
	}

	b.Status = domain.BookingPaid
	b.PaymentStatus = domain.PaymentPaid
	if ref != "" {
		b.PaymentRef = ref
	}
	b.UpdatedAt = now
	if err := tx.Bookings().Update(ctx, b); err != nil {
		return nil, err
	}

	if err := s.settleRecord(ctx, tx, b, domain.TransactionSuccess, ref, now, true); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		paid := *b
		show := domain.Showtime{ID: b.ShowtimeID}
		if st != nil {
			show = *st
		}
		after(func(ctx context.Context) {
			if err := s.notifier.BookingConfirmed(ctx, paid, show); err != nil {
				s.logger.Warn("booking confirmation notify failed", "booking_id", paid.ID, "err", err)
			}
		})
	}

	return nil, nil
}

// revive re-reserves the seats of an expired booking on its locked showtime.
func (s *Service) revive(
	ctx context.Context,
	tx repository.Repos,
	b *domain.Booking,
	st *domain.Showtime,
	now time.Time,
) (*domain.SeatConflictError, error) {
	if st == nil {
		return &domain.SeatConflictError{Seats: b.Seats}, nil
	}

	err := inventory.Reserve(ctx, tx, st, b.Seats, now)

	var (
		conflict *domain.SeatConflictError
		invalid  *domain.InvalidSeatError
	)
	switch {
	case err == nil:
		return nil, nil
	case errors.As(err, &conflict):
		return conflict, nil
	case errors.As(err, &invalid):
		return &domain.SeatConflictError{Seats: invalid.Seats}, nil
	default:
		return nil, err
	}
}

func (s *Service) settleFailure(
	ctx context.Context,
	tx repository.Repos,
	after func(uow.AfterCommit),
	b *domain.Booking,
	st *domain.Showtime,
	ref string,
	now time.Time,
) error {
	switch {
	case b.Status == domain.BookingPaid:
		return domain.ErrAlreadyPaid
	case b.Holding():
		if err := inventory.Release(ctx, tx, st, b.Seats, now); err != nil {
			return err
		}
		if st != nil {
			s.afterSeatsChanged(after, *st)
		}
		b.Status = domain.BookingCancelled
	}

	b.PaymentStatus = domain.PaymentFailed
	b.UpdatedAt = now
	if err := tx.Bookings().Update(ctx, b); err != nil {
		return err
	}

	return s.settleRecord(ctx, tx, b, domain.TransactionFailed, ref, now, false)
}

// settleRecord moves the latest payment record of b to status. With create set,
// a record is created when the booking never went through checkout.
func (s *Service) settleRecord(
	ctx context.Context,
	tx repository.Repos,
	b *domain.Booking,
	status domain.TransactionStatus,
	ref string,
	now time.Time,
	create bool,
) error {
	p, err := tx.Payments().LatestByBooking(ctx, b.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if !create {
			return nil
		}
		return tx.Payments().Create(ctx, &domain.Payment{
			ID:            s.newID(),
			UserID:        b.UserID,
			BookingID:     b.ID,
			Amount:        b.TotalPrice,
			Status:        status,
			Provider:      DefaultProvider,
			TransactionID: ref,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	case err != nil:
		return err
	}

	p.Status = status
	if ref != "" {
		p.TransactionID = ref
	}
	p.UpdatedAt = now

	return tx.Payments().Update(ctx, p)
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
