package postgresrepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kirinyoku/cinego/internal/domain"
)

const showtimeColumns = `id, theatre_id, screen_id, movie_ref, show_date::text, start_time, end_time,
	price::text, booked_seats, seats_version, created_at, updated_at`

type ShowtimeRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ShowtimeRepo) With(db DB) *ShowtimeRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ShowtimeRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *ShowtimeRepo) Create(ctx context.Context, s *domain.Showtime) error {
	const op = "postgresrepo.ShowtimeRepo.Create"

	date, err := domain.ParseShowDate(s.ShowDate)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	seats := s.BookedSeats
	if seats == nil {
		seats = []string{}
	}

	_, err = r.handle().Exec(ctx,
		`INSERT INTO showtimes(id, theatre_id, screen_id, movie_ref, show_date, start_time, end_time,
		                       price, booked_seats, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11)`,
		s.ID, s.TheatreID, s.ScreenID, s.MovieRef, date, s.StartTime, s.EndTime,
		s.Price.String(), seats, s.CreatedAt, s.UpdatedAt,
	)

	return wrapDBErr(op, err)
}

func (r *ShowtimeRepo) Get(ctx context.Context, id string) (*domain.Showtime, error) {
	const op = "postgresrepo.ShowtimeRepo.Get"

	s, err := scanShowtime(r.handle().QueryRow(ctx,
		`SELECT `+showtimeColumns+` FROM showtimes WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return s, nil
}

// Lock reads the showtime row with FOR UPDATE. Every write to booked_seats goes
// through this lock. Callers run at READ COMMITTED (uow.RowLocking): a second
// booking on the same showtime waits for the first to commit and then reads
// the updated row. Under SERIALIZABLE the waiter would abort with 40001.
func (r *ShowtimeRepo) Lock(ctx context.Context, id string) (*domain.Showtime, error) {
	const op = "postgresrepo.ShowtimeRepo.Lock"

	s, err := scanShowtime(r.handle().QueryRow(ctx,
		`SELECT `+showtimeColumns+` FROM showtimes WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return s, nil
}

func (r *ShowtimeRepo) UpdateSchedule(ctx context.Context, s *domain.Showtime) error {
	const op = "postgresrepo.ShowtimeRepo.UpdateSchedule"

	date, err := domain.ParseShowDate(s.ShowDate)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	tag, err := r.handle().Exec(ctx,
		`UPDATE showtimes
		 SET theatre_id = $2, screen_id = $3, movie_ref = $4, show_date = $5,
		     start_time = $6, end_time = $7, price = $8::numeric, updated_at = $9
		 WHERE id = $1`,
		s.ID, s.TheatreID, s.ScreenID, s.MovieRef, date,
		s.StartTime, s.EndTime, s.Price.String(), s.UpdatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return mustAffect(op, tag.RowsAffected())
}

func (r *ShowtimeRepo) SetBookedSeats(ctx context.Context, id string, seats []string, updatedAt time.Time) error {
	const op = "postgresrepo.ShowtimeRepo.SetBookedSeats"

	if seats == nil {
		seats = []string{}
	}

	tag, err := r.handle().Exec(ctx,
		`UPDATE showtimes
		 SET booked_seats = $2, seats_version = seats_version + 1, updated_at = $3
		 WHERE id = $1`,
		id, seats, updatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return mustAffect(op, tag.RowsAffected())
}

func (r *ShowtimeRepo) Delete(ctx context.Context, id string) error {
	const op = "postgresrepo.ShowtimeRepo.Delete"

	tag, err := r.handle().Exec(ctx, `DELETE FROM showtimes WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return mustAffect(op, tag.RowsAffected())
}

func (r *ShowtimeRepo) ListByScreenDate(ctx context.Context, screenID, showDate string) ([]domain.Showtime, error) {
	const op = "postgresrepo.ShowtimeRepo.ListByScreenDate"

	date, err := domain.ParseShowDate(showDate)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out, err := r.query(ctx,
		`SELECT `+showtimeColumns+` FROM showtimes
		 WHERE screen_id = $1 AND show_date = $2
		 ORDER BY start_time, id`,
		screenID, date,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *ShowtimeRepo) ListByScreen(ctx context.Context, screenID string) ([]domain.Showtime, error) {
	const op = "postgresrepo.ShowtimeRepo.ListByScreen"

	out, err := r.query(ctx,
		`SELECT `+showtimeColumns+` FROM showtimes
		 WHERE screen_id = $1
		 ORDER BY show_date, start_time, id`,
		screenID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// List returns one page of showtimes matching f and the total number of matches.
//
// Parameters:
//   - f.MovieRef, f.TheatreID, f.ShowDate: optional equality filters.
//   - f.Limit, f.Offset: pagination; a non-positive limit returns every match.
func (r *ShowtimeRepo) List(ctx context.Context, f domain.ShowtimeFilter) ([]domain.Showtime, int, error) {
	const op = "postgresrepo.ShowtimeRepo.List"

	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.MovieRef != "" {
		add("movie_ref = $%d", f.MovieRef)
	}
	if f.TheatreID != "" {
		add("theatre_id = $%d", f.TheatreID)
	}
	if f.ShowDate != "" {
		date, err := domain.ParseShowDate(f.ShowDate)
		if err != nil {
			return nil, 0, fmt.Errorf("%s:%w", op, err)
		}
		add("show_date = $%d", date)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.handle().QueryRow(ctx, `SELECT COUNT(*) FROM showtimes`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDBErr(op, err)
	}

	q := `SELECT ` + showtimeColumns + ` FROM showtimes` + where + ` ORDER BY show_date, start_time, id`
	if f.Limit > 0 {
		args = append(args, f.Limit, max(f.Offset, 0))
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	out, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, 0, wrapDBErr(op, err)
	}

	return out, total, nil
}

func (r *ShowtimeRepo) query(ctx context.Context, sql string, args ...any) ([]domain.Showtime, error) {
	rows, err := r.handle().Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var out []domain.Showtime
	for rows.Next() {
		s, err := scanShowtime(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func scanShowtime(row pgx.Row) (*domain.Showtime, error) {
	var (
		s     domain.Showtime
		price string
	)
	err := row.Scan(
		&s.ID, &s.TheatreID, &s.ScreenID, &s.MovieRef, &s.ShowDate, &s.StartTime, &s.EndTime,
		&price, &s.BookedSeats, &s.SeatsVersion, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("decode price: %w", err)
	}

	if s.BookedSeats == nil {
		s.BookedSeats = []string{}
	}

	return &s, nil
}
