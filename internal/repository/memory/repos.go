package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
)

type catalogRepo struct{ h handle }

func (r catalogRepo) CreateTheatre(ctx context.Context, th *domain.Theatre) error {
	return r.h.run(func(t *txn) error {
		if _, ok := t.theatres.get(&t.s.mu, t.s.theatres, th.ID); ok {
			return repository.ErrConflict
		}
		t.theatres.put(th.ID, *th)
		return nil
	})
}

func (r catalogRepo) GetTheatre(ctx context.Context, id string) (*domain.Theatre, error) {
	var out domain.Theatre
	err := r.h.run(func(t *txn) error {
		th, ok := t.theatres.get(&t.s.mu, t.s.theatres, id)
		if !ok {
			return repository.ErrNotFound
		}
		out = th
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r catalogRepo) CreateScreen(ctx context.Context, sc *domain.Screen) error {
	return r.h.run(func(t *txn) error {
		if _, ok := t.theatres.get(&t.s.mu, t.s.theatres, sc.TheatreID); !ok {
			return repository.ErrNotFound
		}
		if _, ok := t.screens.get(&t.s.mu, t.s.screens, sc.ID); ok {
			return repository.ErrConflict
		}
		t.screens.put(sc.ID, sc.Clone())
		return nil
	})
}

func (r catalogRepo) GetScreen(ctx context.Context, id string) (*domain.Screen, error) {
	var out domain.Screen
	err := r.h.run(func(t *txn) error {
		sc, ok := t.screens.get(&t.s.mu, t.s.screens, id)
		if !ok {
			return repository.ErrNotFound
		}
		out = sc.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r catalogRepo) LockScreen(ctx context.Context, id string) (*domain.Screen, error) {
	if err := r.h.lock(ctx, "screen:"+id); err != nil {
		return nil, err
	}
	return r.GetScreen(ctx, id)
}

func (r catalogRepo) UpdateScreenLayout(ctx context.Context, id string, layout []domain.SeatRow) error {
	return r.h.run(func(t *txn) error {
		sc, ok := t.screens.get(&t.s.mu, t.s.screens, id)
		if !ok {
			return repository.ErrNotFound
		}
		sc.Layout = layout
		t.screens.put(id, sc.Clone())
		return nil
	})
}

type showtimeRepo struct{ h handle }

func (r showtimeRepo) Create(ctx context.Context, st *domain.Showtime) error {
	return r.h.run(func(t *txn) error {
		if _, ok := t.showtimes.get(&t.s.mu, t.s.showtimes, st.ID); ok {
			return repository.ErrConflict
		}
		t.showtimes.put(st.ID, st.Clone())
		return nil
	})
}

func (r showtimeRepo) Get(ctx context.Context, id string) (*domain.Showtime, error) {
	var out domain.Showtime
	err := r.h.run(func(t *txn) error {
		st, ok := t.showtimes.get(&t.s.mu, t.s.showtimes, id)
		if !ok {
			return repository.ErrNotFound
		}
		out = st.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r showtimeRepo) Lock(ctx context.Context, id string) (*domain.Showtime, error) {
	if err := r.h.lock(ctx, "showtime:"+id); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r showtimeRepo) UpdateSchedule(ctx context.Context, st *domain.Showtime) error {
	return r.h.run(func(t *txn) error {
		cur, ok := t.showtimes.get(&t.s.mu, t.s.showtimes, st.ID)
		if !ok {
			return repository.ErrNotFound
		}
		next := st.Clone()
		next.BookedSeats = slices.Clone(cur.BookedSeats)
		next.CreatedAt = cur.CreatedAt
		t.showtimes.put(st.ID, next)
		return nil
	})
}

func (r showtimeRepo) SetBookedSeats(ctx context.Context, id string, seats []string, updatedAt time.Time) error {
	return r.h.run(func(t *txn) error {
		cur, ok := t.showtimes.get(&t.s.mu, t.s.showtimes, id)
		if !ok {
			return repository.ErrNotFound
		}
		cur.BookedSeats = slices.Clone(seats)
		cur.SeatsVersion++
		cur.UpdatedAt = updatedAt
		t.showtimes.put(id, cur.Clone())
		return nil
	})
}

func (r showtimeRepo) Delete(ctx context.Context, id string) error {
	return r.h.run(func(t *txn) error {
		if _, ok := t.showtimes.get(&t.s.mu, t.s.showtimes, id); !ok {
			return repository.ErrNotFound
		}
		t.showtimes.del(id)
		return nil
	})
}

func (r showtimeRepo) ListByScreenDate(ctx context.Context, screenID, showDate string) ([]domain.Showtime, error) {
	return r.filter(func(st *domain.Showtime) bool {
		return st.ScreenID == screenID && st.ShowDate == showDate
	})
}

func (r showtimeRepo) ListByScreen(ctx context.Context, screenID string) ([]domain.Showtime, error) {
	return r.filter(func(st *domain.Showtime) bool {
		return st.ScreenID == screenID
	})
}

func (r showtimeRepo) List(ctx context.Context, f domain.ShowtimeFilter) ([]domain.Showtime, int, error) {
	all, err := r.filter(func(st *domain.Showtime) bool {
		if f.MovieRef != "" && st.MovieRef != f.MovieRef {
			return false
		}
		if f.TheatreID != "" && st.TheatreID != f.TheatreID {
			return false
		}
		if f.ShowDate != "" && st.ShowDate != f.ShowDate {
			return false
		}
		return true
	})
	if err != nil {
		return nil, 0, err
	}

	total := len(all)

	start := min(max(f.Offset, 0), total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}

	return all[start:end], total, nil
}

// filter returns matching showtimes ordered by date, start time and id.
func (r showtimeRepo) filter(keep func(*domain.Showtime) bool) ([]domain.Showtime, error) {
	var out []domain.Showtime
	err := r.h.run(func(t *txn) error {
		for _, st := range t.showtimes.all(&t.s.mu, t.s.showtimes) {
			if keep(&st) {
				out = append(out, st.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b domain.Showtime) int {
		if c := strings.Compare(a.ShowDate, b.ShowDate); c != 0 {
			return c
		}
		if c := strings.Compare(a.StartTime, b.StartTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return out, nil
}

type bookingRepo struct{ h handle }

func (r bookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	return r.h.run(func(t *txn) error {
		if _, ok := t.bookings.get(&t.s.mu, t.s.bookings, b.ID); ok {
			return repository.ErrConflict
		}
		t.bookings.put(b.ID, b.Clone())
		return nil
	})
}

func (r bookingRepo) Get(ctx context.Context, id string) (*domain.Booking, error) {
	var out domain.Booking
	err := r.h.run(func(t *txn) error {
		b, ok := t.bookings.get(&t.s.mu, t.s.bookings, id)
		if !ok {
			return repository.ErrNotFound
		}
		out = b.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r bookingRepo) Update(ctx context.Context, b *domain.Booking) error {
	return r.h.run(func(t *txn) error {
		if _, ok := t.bookings.get(&t.s.mu, t.s.bookings, b.ID); !ok {
			return repository.ErrNotFound
		}
		t.bookings.put(b.ID, b.Clone())
		return nil
	})
}

func (r bookingRepo) Delete(ctx context.Context, id string) error {
	return r.h.run(func(t *txn) error {
		if _, ok := t.bookings.get(&t.s.mu, t.s.bookings, id); !ok {
			return repository.ErrNotFound
		}
		t.bookings.del(id)
		return nil
	})
}

func (r bookingRepo) List(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	out, err := r.filter(func(b *domain.Booking) bool {
		if f.UserID != "" && b.UserID != f.UserID {
			return false
		}
		if f.ShowtimeID != "" && b.ShowtimeID != f.ShowtimeID {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	// newest first
	slices.SortFunc(out, func(a, b domain.Booking) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	return out, nil
}

func (r bookingRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	out, err := r.filter(func(b *domain.Booking) bool {
		return b.Holding() && b.ExpiresAt.Before(now)
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b domain.Booking) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r bookingRepo) CountLive(ctx context.Context, showtimeID string) (int, error) {
	out, err := r.filter(func(b *domain.Booking) bool {
		return b.ShowtimeID == showtimeID && b.Live()
	})
	return len(out), err
}

func (r bookingRepo) filter(keep func(*domain.Booking) bool) ([]domain.Booking, error) {
	var out []domain.Booking
	err := r.h.run(func(t *txn) error {
		for _, b := range t.bookings.all(&t.s.mu, t.s.bookings) {
			if keep(&b) {
				out = append(out, b.Clone())
			}
		}
		return nil
	})
	return out, err
}

type paymentRepo struct{ h handle }

func (r paymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	return r.h.run(func(t *txn) error {
		if _, ok := t.payments.get(&t.s.mu, t.s.payments, p.ID); ok {
			return repository.ErrConflict
		}
		t.payments.put(p.ID, *p)
		return nil
	})
}

func (r paymentRepo) LatestByBooking(ctx context.Context, bookingID string) (*domain.Payment, error) {
	var (
		out   domain.Payment
		found bool
	)
	err := r.h.run(func(t *txn) error {
		for _, p := range t.payments.all(&t.s.mu, t.s.payments) {
			if p.BookingID != bookingID {
				continue
			}
			if !found || p.CreatedAt.After(out.CreatedAt) ||
				(p.CreatedAt.Equal(out.CreatedAt) && p.ID > out.ID) {
				out, found = p, true
			}
		}
		if !found {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r paymentRepo) Update(ctx context.Context, p *domain.Payment) error {
	return r.h.run(func(t *txn) error {
		if _, ok := t.payments.get(&t.s.mu, t.s.payments, p.ID); !ok {
			return repository.ErrNotFound
		}
		t.payments.put(p.ID, *p)
		return nil
	})
}
