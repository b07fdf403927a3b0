package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
)

// Service answers seat availability questions. Booked seats are always read from
// the store; only screen layouts, which change rarely, may come from the cache.
type Service struct {
	store    repository.Store
	cache    *redisrepo.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
}

type Option func(*Service)

func WithScreenCache(cache *redisrepo.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cacheTTL: 10 * time.Minute,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GetAvailableSeats returns the layout seats of the showtime's screen minus its
// booked seats, in layout order.
func (s *Service) GetAvailableSeats(ctx context.Context, showtimeID string) (*domain.SeatAvailability, error) {
	const op = "service.inventory.GetAvailableSeats"

	st, screen, err := s.load(ctx, showtimeID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	all := screen.SeatIDs()
	available := domain.Subtract(all, st.BookedSeats)

	if stray := screen.InvalidSeats(st.BookedSeats); len(stray) > 0 {
		s.logger.Warn("booked seats missing from layout",
			"showtime_id", st.ID, "screen_id", screen.ID, "seats", stray)
	}

	return &domain.SeatAvailability{
		ShowtimeID:     st.ID,
		ScreenName:     screen.Name,
		MovieRef:       st.MovieRef,
		TotalSeats:     len(all),
		BookedSeats:    st.BookedSeats,
		AvailableSeats: available,
		AvailableCount: len(available),
		SeatsVersion:   st.SeatsVersion,
	}, nil
}

// CheckSeatsAvailability reports which of the requested seats are already
// booked. It reserves nothing.
func (s *Service) CheckSeatsAvailability(ctx context.Context, showtimeID string, seats []string) (*domain.AvailabilityCheck, error) {
	const op = "service.inventory.CheckSeatsAvailability"

	seats, err := NormalizeSeats(seats)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	st, screen, err := s.load(ctx, showtimeID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if invalid := screen.InvalidSeats(seats); len(invalid) > 0 {
		return nil, fmt.Errorf("%s:%w", op, &domain.InvalidSeatError{Seats: invalid})
	}

	unavailable := domain.Intersect(seats, st.BookedSeats)

	return &domain.AvailabilityCheck{
		ShowtimeID:       st.ID,
		Available:        len(unavailable) == 0,
		RequestedSeats:   seats,
		UnavailableSeats: unavailable,
	}, nil
}

// Screen returns a screen, read through the cache when one is configured.
func (s *Service) Screen(ctx context.Context, id string) (*domain.Screen, error) {
	load := func(ctx context.Context) (domain.Screen, error) {
		sc, err := s.store.Catalog().GetScreen(ctx, id)
		if err != nil {
			return domain.Screen{}, err
		}
		return *sc, nil
	}

	var (
		sc  domain.Screen
		err error
	)
	if s.cache != nil {
		sc, err = redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyScreen(id), s.cacheTTL, load)
	} else {
		sc, err = load(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrScreenNotFound
		}
		return nil, err
	}

	return &sc, nil
}

func (s *Service) load(ctx context.Context, showtimeID string) (*domain.Showtime, *domain.Screen, error) {
	st, err := s.store.Showtimes().Get(ctx, showtimeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.ErrShowtimeNotFound
		}
		return nil, nil, err
	}

	screen, err := s.Screen(ctx, st.ScreenID)
	if err != nil {
		return nil, nil, err
	}

	return st, screen, nil
}
