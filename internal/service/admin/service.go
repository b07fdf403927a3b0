package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
	"github.com/kirinyoku/cinego/internal/uow"
)

type Service struct {
	uow      *uow.UoW
	cache    *redisrepo.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

// WithCache writes edited layouts through to the screen cache, stored for ttl.
func WithCache(c *redisrepo.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithLogger(l *slog.Logger) Option       { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func New(u *uow.UoW, opts ...Option) *Service {
	s := &Service{
		uow:      u,
		cacheTTL: 10 * time.Minute,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateTheatre creates a theatre record.
//
// Parameters:
//   - ctx: request-scoped context.
//   - name: theatre name, required.
//   - location: free-form address.
//
// Returns:
//   - *domain.Theatre: the created theatre.
//   - error: admin.ErrTheatreConflict if the id is already taken.
func (s *Service) CreateTheatre(ctx context.Context, name, location string) (*domain.Theatre, error) {
	const op = "service.admin.CreateTheatre"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%s:%w", op, domain.Invalid("name", "is required"))
	}

	th := domain.Theatre{
		ID:        s.newID(),
		Name:      name,
		Location:  strings.TrimSpace(location),
		CreatedAt: s.now().UTC(),
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		if err := tx.Catalog().CreateTheatre(ctx, &th); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrTheatreConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &th, nil
}

// CreateScreen creates a screen with its seat layout inside a theatre.
//
// Parameters:
//   - ctx: request-scoped context.
//   - theatreID: owning theatre.
//   - name: screen name, required.
//   - layout: ordered rows; seat classes default to regular.
//
// Returns:
//   - *domain.Screen: the created screen.
//   - error: *domain.ValidationError for a malformed layout.
//   - error: domain.ErrTheatreNotFound if the theatre does not exist.
func (s *Service) CreateScreen(ctx context.Context, theatreID, name string, layout []domain.SeatRow) (*domain.Screen, error) {
	const op = "service.admin.CreateScreen"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%s:%w", op, domain.Invalid("name", "is required"))
	}

	layout, err := NormalizeLayout(layout)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sc := domain.Screen{
		ID:        s.newID(),
		TheatreID: strings.TrimSpace(theatreID),
		Name:      name,
		Layout:    layout,
		CreatedAt: s.now().UTC(),
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		if _, err := tx.Catalog().GetTheatre(ctx, sc.TheatreID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrTheatreNotFound
			}
			return err
		}

		if err := tx.Catalog().CreateScreen(ctx, &sc); err != nil {
			switch {
			case errors.Is(err, repository.ErrConflict):
				return ErrScreenConflict
			case errors.Is(err, repository.ErrNotFound):
				return domain.ErrTheatreNotFound
			}
			return err
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("screen created", "screen_id", sc.ID, "theatre_id", sc.TheatreID, "seats", len(sc.SeatIDs()))

	return &sc, nil
}

// UpdateScreenLayout replaces the seat layout of a screen. The screen and then
// every showtime on it are locked, so no booking can slip in between the check
// and the write.
//
// Returns:
//   - error: domain.ErrScreenNotFound if the screen does not exist.
//   - error: *admin.SeatsInUseError if a removed seat is booked in any showtime.
func (s *Service) UpdateScreenLayout(ctx context.Context, screenID string, layout []domain.SeatRow) (*domain.Screen, error) {
	const op = "service.admin.UpdateScreenLayout"

	layout, err := NormalizeLayout(layout)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var out domain.Screen

	err = s.uow.DoWithOpts(ctx, uow.RowLocking, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		sc, err := tx.Catalog().LockScreen(ctx, screenID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrScreenNotFound
			}
			return err
		}

		showtimes, err := tx.Showtimes().ListByScreen(ctx, screenID)
		if err != nil {
			return err
		}
		slices.SortFunc(showtimes, func(a, b domain.Showtime) int { return strings.Compare(a.ID, b.ID) })

		next := domain.Screen{Layout: layout}
		var inUse []string
		for _, st := range showtimes {
			locked, err := tx.Showtimes().Lock(ctx, st.ID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				return err
			}
			for _, id := range next.InvalidSeats(locked.BookedSeats) {
				if !slices.Contains(inUse, id) {
					inUse = append(inUse, id)
				}
			}
		}
		if len(inUse) > 0 {
			return &SeatsInUseError{Seats: inUse}
		}

		if err := tx.Catalog().UpdateScreenLayout(ctx, screenID, layout); err != nil {
			return err
		}

		sc.Layout = layout
		out = *sc

		if s.cache != nil {
			fresh := out
			after(func(ctx context.Context) { s.refreshScreen(ctx, fresh) })
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &out, nil
}

// refreshScreen overwrites the cached layout. Read-through fills only write
// empty keys, so a reader holding the old layout cannot put it back. When the
// overwrite fails the key is dropped instead.
func (s *Service) refreshScreen(ctx context.Context, sc domain.Screen) {
	err := s.cache.PutScreen(ctx, sc, s.cacheTTL)
	if err == nil {
		return
	}
	s.logger.Warn("screen cache refresh failed", "screen_id", sc.ID, "err", err)

	if err := s.cache.InvalidateScreen(ctx, sc.ID); err != nil {
		s.logger.Warn("screen cache invalidation failed", "screen_id", sc.ID, "err", err)
	}
}

// NormalizeLayout validates a seat layout and fills in default seat classes.
// Row labels and seat numbers must be unique; prices must not be negative.
func NormalizeLayout(layout []domain.SeatRow) ([]domain.SeatRow, error) {
	if len(layout) == 0 {
		return nil, domain.Invalid("seatLayout", "at least one row is required")
	}

	out := make([]domain.SeatRow, 0, len(layout))
	rows := make(map[string]struct{}, len(layout))

	for _, r := range layout {
		label := strings.TrimSpace(r.Row)
		if !domain.ValidRowLabel(label) {
			return nil, domain.Invalid("seatLayout", "invalid row label %q", r.Row)
		}
		if _, dup := rows[label]; dup {
			return nil, domain.Invalid("seatLayout", "row %s defined twice", label)
		}
		rows[label] = struct{}{}

		if len(r.Seats) == 0 {
			return nil, domain.Invalid("seatLayout", "row %s has no seats", label)
		}

		seats := make([]domain.Seat, 0, len(r.Seats))
		numbers := make(map[string]struct{}, len(r.Seats))
		for _, seat := range r.Seats {
			num := strings.TrimSpace(seat.Number)
			if !domain.ValidSeatNumber(num) {
				return nil, domain.Invalid("seatLayout", "invalid seat number %q in row %s", seat.Number, label)
			}
			if _, dup := numbers[num]; dup {
				return nil, domain.Invalid("seatLayout", "seat %s defined twice", domain.SeatID(label, num))
			}
			numbers[num] = struct{}{}

			switch seat.Class {
			case "":
				seat.Class = domain.SeatRegular
			case domain.SeatRegular, domain.SeatPremium, domain.SeatVIP:
			default:
				return nil, domain.Invalid("seatLayout", "unknown seat type %q", seat.Class)
			}

			if seat.Price.IsNegative() {
				return nil, domain.Invalid("seatLayout", "seat %s has a negative price", domain.SeatID(label, num))
			}

			seat.Number = num
			seats = append(seats, seat)
		}

		out = append(out, domain.SeatRow{Row: label, Seats: seats})
	}

	return out, nil
}
