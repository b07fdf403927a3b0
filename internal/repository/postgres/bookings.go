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

const bookingColumns = `id, user_id, showtime_id, seats, total_price::text, status, payment_status,
	payment_ref, expires_at, created_at, updated_at`

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "postgresrepo.BookingRepo.Create"

	_, err := r.handle().Exec(ctx,
		`INSERT INTO bookings(id, user_id, showtime_id, seats, total_price, status, payment_status,
		                      payment_ref, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.UserID, b.ShowtimeID, b.Seats, b.TotalPrice.String(), b.Status, b.PaymentStatus,
		b.PaymentRef, b.ExpiresAt, b.CreatedAt, b.UpdatedAt,
	)

	return wrapDBErr(op, err)
}

func (r *BookingRepo) Get(ctx context.Context, id string) (*domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.Get"

	b, err := scanBooking(r.handle().QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

// Update overwrites the mutable part of a booking: status, payment state, seats and timestamps.
func (r *BookingRepo) Update(ctx context.Context, b *domain.Booking) error {
	const op = "postgresrepo.BookingRepo.Update"

	tag, err := r.handle().Exec(ctx,
		`UPDATE bookings
		 SET seats = $2, status = $3, payment_status = $4, payment_ref = $5,
		     expires_at = $6, updated_at = $7
		 WHERE id = $1`,
		b.ID, b.Seats, b.Status, b.PaymentStatus, b.PaymentRef, b.ExpiresAt, b.UpdatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return mustAffect(op, tag.RowsAffected())
}

func (r *BookingRepo) Delete(ctx context.Context, id string) error {
	const op = "postgresrepo.BookingRepo.Delete"

	tag, err := r.handle().Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return mustAffect(op, tag.RowsAffected())
}

func (r *BookingRepo) List(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.List"

	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.ShowtimeID != "" {
		args = append(args, f.ShowtimeID)
		conds = append(conds, fmt.Sprintf("showtime_id = $%d", len(args)))
	}

	q := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"

	out, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *BookingRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.ListExpired"

	out, err := r.query(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status IN ('pending', 'reserved') AND expires_at < $1
		 ORDER BY expires_at, id
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *BookingRepo) CountLive(ctx context.Context, showtimeID string) (int, error) {
	const op = "postgresrepo.BookingRepo.CountLive"

	var n int
	err := r.handle().QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings
		 WHERE showtime_id = $1 AND status IN ('pending', 'reserved', 'paid')`,
		showtimeID,
	).Scan(&n)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}

func (r *BookingRepo) query(ctx context.Context, sql string, args ...any) ([]domain.Booking, error) {
	rows, err := r.handle().Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b     domain.Booking
		total string
	)
	err := row.Scan(
		&b.ID, &b.UserID, &b.ShowtimeID, &b.Seats, &total, &b.Status, &b.PaymentStatus,
		&b.PaymentRef, &b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if b.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("decode total price: %w", err)
	}

	return &b, nil
}
