package scheduler

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
	"github.com/kirinyoku/cinego/internal/uow"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// MovieResolver is satisfied by catalog.Client. Implementations never fail;
// unresolved refs come back as placeholders.
type MovieResolver interface {
	Movie(ctx context.Context, ref string) domain.MovieDetails
	Movies(ctx context.Context, refs []string) map[string]domain.MovieDetails
}

type Service struct {
	uow     *uow.UoW
	store   repository.Store
	movies  MovieResolver
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

func WithMovies(m MovieResolver) Option      { return func(s *Service) { s.movies = m } }
func WithEvents(p events.Publisher) Option   { return func(s *Service) { s.events = p } }
func WithMetrics(m *metrics.Metrics) Option  { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option       { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option  { return func(s *Service) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func New(u *uow.UoW, opts ...Option) *Service {
	s := &Service{
		uow:    u,
		store:  u.Store(),
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

type ScheduleInput struct {
	TheatreID string
	ScreenID  string
	MovieRef  string
	ShowDate  string
	StartTime string
	EndTime   string
	Price     decimal.Decimal
}

// window is a validated schedule slot in minutes since midnight.
type window struct {
	start, end int
}

func (in *ScheduleInput) normalize() (window, error) {
	in.TheatreID = strings.TrimSpace(in.TheatreID)
	in.ScreenID = strings.TrimSpace(in.ScreenID)
	in.MovieRef = strings.TrimSpace(in.MovieRef)

	switch {
	case in.TheatreID == "":
		return window{}, domain.Invalid("theatre", "is required")
	case in.ScreenID == "":
		return window{}, domain.Invalid("screen", "is required")
	case in.MovieRef == "":
		return window{}, domain.Invalid("movie", "is required")
	case in.Price.IsNegative():
		return window{}, domain.Invalid("price", "must not be negative")
	}

	if _, err := domain.ParseShowDate(in.ShowDate); err != nil {
		return window{}, domain.Invalid("showDate", "%s", err.Error())
	}

	return parseWindow(in.StartTime, in.EndTime)
}

func parseWindow(startTime, endTime string) (window, error) {
	start, err := domain.ParseClock(startTime)
	if err != nil {
		return window{}, domain.Invalid("startTime", "%s", err.Error())
	}
	end, err := domain.ParseClock(endTime)
	if err != nil {
		return window{}, domain.Invalid("endTime", "%s", err.Error())
	}
	if start >= end {
		return window{}, domain.Invalid("endTime", "must be after start time")
	}
	return window{start: start, end: end}, nil
}

// ScheduleShowtime validates and stores a new showtime with no booked seats.
//
// The overlap check and the insert run in one unit of work holding the
// screen, so two concurrent schedules for the same slot cannot both succeed.
//
// Returns:
//   - *domain.ShowtimeDetails: the stored showtime joined with theatre, screen and movie.
//   - error: *domain.ValidationError for malformed input or a screen of another theatre.
//   - error: domain.ErrTheatreNotFound or domain.ErrScreenNotFound.
//   - error: *domain.ShowtimeConflictError carrying the overlapping showtime.
func (s *Service) ScheduleShowtime(ctx context.Context, in ScheduleInput) (*domain.ShowtimeDetails, error) {
	const op = "service.scheduler.ScheduleShowtime"

	w, err := in.normalize()
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var (
		created domain.Showtime
		theatre *domain.Theatre
		screen  *domain.Screen
	)

	err = s.uow.DoWithOpts(ctx, uow.RowLocking, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		th, sc, err := s.lockSlot(ctx, tx, in, w, "")
		if err != nil {
			return err
		}
		theatre, screen = th, sc

		now := s.now().UTC()
		created = domain.Showtime{
			ID:          s.newID(),
			TheatreID:   in.TheatreID,
			ScreenID:    in.ScreenID,
			MovieRef:    in.MovieRef,
			ShowDate:    in.ShowDate,
			StartTime:   in.StartTime,
			EndTime:     in.EndTime,
			Price:       in.Price,
			BookedSeats: []string{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Showtimes().Create(ctx, &created); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrShowtimeExists
			}
			return err
		}

		return nil
	})
	if err != nil {
		s.countConflict(err)
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("showtime scheduled",
		"showtime_id", created.ID, "screen_id", created.ScreenID,
		"date", created.ShowDate, "start", created.StartTime, "end", created.EndTime)

	return s.details(ctx, created, theatre, screen), nil
}

// RescheduleShowtime replaces the schedule fields of a showtime. Booked seats
// are kept. A showtime with booked seats cannot move to another screen.
func (s *Service) RescheduleShowtime(ctx context.Context, id string, in ScheduleInput) (*domain.ShowtimeDetails, error) {
	const op = "service.scheduler.RescheduleShowtime"

	w, err := in.normalize()
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var (
		updated domain.Showtime
		theatre *domain.Theatre
		screen  *domain.Screen
	)

	err = s.uow.DoWithOpts(ctx, uow.RowLocking, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		// screen first, then showtime: the same order booking and layout edits use
		th, sc, err := s.lockSlot(ctx, tx, in, w, id)
		if err != nil {
			return err
		}
		theatre, screen = th, sc

		cur, err := tx.Showtimes().Lock(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrShowtimeNotFound
			}
			return err
		}

		if cur.ScreenID != in.ScreenID && len(cur.BookedSeats) > 0 {
			return fmt.Errorf("%w: cannot move to another screen", ErrShowtimeHasBookings)
		}

		updated = *cur
		updated.TheatreID = in.TheatreID
		updated.ScreenID = in.ScreenID
		updated.MovieRef = in.MovieRef
		updated.ShowDate = in.ShowDate
		updated.StartTime = in.StartTime
		updated.EndTime = in.EndTime
		updated.Price = in.Price
		updated.UpdatedAt = s.now().UTC()

		if err := tx.Showtimes().UpdateSchedule(ctx, &updated); err != nil {
			return err
		}

		s.publishAfter(after, domain.ShowtimeEvent{
			Type:         domain.EventShowtimeUpdated,
			ShowtimeID:   updated.ID,
			BookedSeats:  updated.BookedSeats,
			SeatsVersion: updated.SeatsVersion,
			At:           updated.UpdatedAt,
		})

		return nil
	})
	if err != nil {
		s.countConflict(err)
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return s.details(ctx, updated, theatre, screen), nil
}

// DeleteShowtime removes a showtime that has no live bookings. Closed bookings
// keep their showtime reference.
//
// Returns:
//   - error: domain.ErrShowtimeNotFound if absent.
//   - error: scheduler.ErrShowtimeHasBookings if a pending, reserved or paid booking exists.
func (s *Service) DeleteShowtime(ctx context.Context, id string) error {
	const op = "service.scheduler.DeleteShowtime"

	err := s.uow.DoWithOpts(ctx, uow.RowLocking, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		if _, err := tx.Showtimes().Lock(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrShowtimeNotFound
			}
			return err
		}

		live, err := tx.Bookings().CountLive(ctx, id)
		if err != nil {
			return err
		}
		if live > 0 {
			return fmt.Errorf("%w: %d", ErrShowtimeHasBookings, live)
		}

		if err := tx.Showtimes().Delete(ctx, id); err != nil {
			return err
		}

		s.publishAfter(after, domain.ShowtimeEvent{
			Type:       domain.EventShowtimeDeleted,
			ShowtimeID: id,
			At:         s.now().UTC(),
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("showtime deleted", "showtime_id", id)

	return nil
}

// CheckConflict returns the first showtime on screenID and showDate overlapping
// [startTime, endTime), or nil. excludeID is ignored when matching. It writes nothing.
func (s *Service) CheckConflict(
	ctx context.Context,
	screenID, showDate, startTime, endTime, excludeID string,
) (*domain.Showtime, error) {
	const op = "service.scheduler.CheckConflict"

	if strings.TrimSpace(screenID) == "" {
		return nil, fmt.Errorf("%s:%w", op, domain.Invalid("screen", "is required"))
	}
	if _, err := domain.ParseShowDate(showDate); err != nil {
		return nil, fmt.Errorf("%s:%w", op, domain.Invalid("showDate", "%s", err.Error()))
	}
	w, err := parseWindow(startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	existing, err := s.store.Showtimes().ListByScreenDate(ctx, screenID, showDate)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return findConflict(existing, w, excludeID), nil
}

func (s *Service) GetShowtime(ctx context.Context, id string) (*domain.ShowtimeDetails, error) {
	const op = "service.scheduler.GetShowtime"

	st, err := s.store.Showtimes().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, domain.ErrShowtimeNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	j := newJoiner(s.store)
	theatre, screen, err := j.catalog(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return s.details(ctx, *st, theatre, screen), nil
}

// ListShowtimes returns one page of showtimes matching f ordered by date and
// start time. page starts at 1; limit defaults to DefaultPageSize and is capped
// at MaxPageSize. Movie details are resolved once per distinct movie.
func (s *Service) ListShowtimes(ctx context.Context, f domain.ShowtimeFilter, page, limit int) (*domain.ShowtimePage, error) {
	const op = "service.scheduler.ListShowtimes"

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	f.Limit = limit
	f.Offset = (page - 1) * limit

	list, total, err := s.store.Showtimes().List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	refs := make([]string, 0, len(list))
	for _, st := range list {
		refs = append(refs, st.MovieRef)
	}
	movies := s.resolveMovies(ctx, refs)

	j := newJoiner(s.store)
	out := make([]domain.ShowtimeDetails, 0, len(list))
	for _, st := range list {
		theatre, screen, err := j.catalog(ctx, &st)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		out = append(out, domain.ShowtimeDetails{
			Showtime:     st,
			Theatre:      theatre,
			Screen:       summary(screen),
			MovieDetails: movies[st.MovieRef],
		})
	}

	totalPages := (total + limit - 1) / limit

	return &domain.ShowtimePage{
		Showtimes:  out,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	}, nil
}

// lockSlot checks the theatre, locks the screen and rejects overlapping showtimes.
func (s *Service) lockSlot(
	ctx context.Context,
	tx repository.Repos,
	in ScheduleInput,
	w window,
	excludeID string,
) (*domain.Theatre, *domain.Screen, error) {
	theatre, err := tx.Catalog().GetTheatre(ctx, in.TheatreID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.ErrTheatreNotFound
		}
		return nil, nil, err
	}

	screen, err := tx.Catalog().LockScreen(ctx, in.ScreenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.ErrScreenNotFound
		}
		return nil, nil, err
	}
	if screen.TheatreID != theatre.ID {
		return nil, nil, domain.Invalid("screen", "screen %s does not belong to theatre %s", screen.ID, theatre.ID)
	}

	existing, err := tx.Showtimes().ListByScreenDate(ctx, in.ScreenID, in.ShowDate)
	if err != nil {
		return nil, nil, err
	}
	if c := findConflict(existing, w, excludeID); c != nil {
		return nil, nil, &domain.ShowtimeConflictError{Existing: *c}
	}

	return theatre, screen, nil
}

func findConflict(existing []domain.Showtime, w window, excludeID string) *domain.Showtime {
	for i := range existing {
		st := &existing[i]
		if st.ID == excludeID {
			continue
		}
		start, err := domain.ParseClock(st.StartTime)
		if err != nil {
			continue
		}
		end, err := domain.ParseClock(st.EndTime)
		if err != nil {
			continue
		}
		if domain.Overlaps(start, end, w.start, w.end) {
			return st
		}
	}
	return nil
}

func (s *Service) countConflict(err error) {
	var conflict *domain.ShowtimeConflictError
	if errors.As(err, &conflict) {
		s.metrics.ShowtimeConflict()
	}
}

func (s *Service) details(ctx context.Context, st domain.Showtime, theatre *domain.Theatre, screen *domain.Screen) *domain.ShowtimeDetails {
	return &domain.ShowtimeDetails{
		Showtime:     st,
		Theatre:      theatre,
		Screen:       summary(screen),
		MovieDetails: s.resolveMovie(ctx, st.MovieRef),
	}
}

func (s *Service) resolveMovie(ctx context.Context, ref string) domain.MovieDetails {
	if s.movies == nil {
		return domain.PlaceholderMovie(ref, "")
	}
	return s.movies.Movie(ctx, ref)
}

func (s *Service) resolveMovies(ctx context.Context, refs []string) map[string]domain.MovieDetails {
	if s.movies == nil {
		out := make(map[string]domain.MovieDetails, len(refs))
		for _, ref := range refs {
			out[ref] = domain.PlaceholderMovie(ref, "")
		}
		return out
	}
	return s.movies.Movies(ctx, refs)
}

func (s *Service) publishAfter(after func(uow.AfterCommit), ev domain.ShowtimeEvent) {
	if s.events == nil {
		return
	}
	after(func(ctx context.Context) {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.logger.Warn("publish showtime event failed",
				"type", ev.Type, "showtime_id", ev.ShowtimeID, "err", err)
		}
	})
}

func summary(sc *domain.Screen) *domain.ScreenSummary {
	if sc == nil {
		return nil
	}
	return &domain.ScreenSummary{ID: sc.ID, Name: sc.Name}
}

// joiner reads each theatre and screen at most once per request.
type joiner struct {
	store    repository.Repos
	theatres map[string]*domain.Theatre
	screens  map[string]*domain.Screen
}

func newJoiner(store repository.Repos) *joiner {
	return &joiner{
		store:    store,
		theatres: make(map[string]*domain.Theatre),
		screens:  make(map[string]*domain.Screen),
	}
}

func (j *joiner) catalog(ctx context.Context, st *domain.Showtime) (*domain.Theatre, *domain.Screen, error) {
	th, ok := j.theatres[st.TheatreID]
	if !ok {
		got, err := j.store.Catalog().GetTheatre(ctx, st.TheatreID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, err
		}
		th = got
		j.theatres[st.TheatreID] = th
	}

	sc, ok := j.screens[st.ScreenID]
	if !ok {
		got, err := j.store.Catalog().GetScreen(ctx, st.ScreenID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, err
		}
		sc = got
		j.screens[st.ScreenID] = sc
	}

	return th, sc, nil
}
