package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kirinyoku/cinego/internal/domain"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *PaymentRepo) With(db DB) *PaymentRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PaymentRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	const op = "postgresrepo.PaymentRepo.Create"

	_, err := r.handle().Exec(ctx,
		`INSERT INTO payments(id, user_id, booking_id, amount, status, provider, transaction_id,
		                      created_at, updated_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.BookingID, p.Amount.String(), p.Status, p.Provider, p.TransactionID,
		p.CreatedAt, p.UpdatedAt,
	)

	return wrapDBErr(op, err)
}

// LatestByBooking returns the most recent payment attempt for a booking.
//
// Returns:
//   - error: repository.ErrNotFound if checkout was never initiated.
func (r *PaymentRepo) LatestByBooking(ctx context.Context, bookingID string) (*domain.Payment, error) {
	const op = "postgresrepo.PaymentRepo.LatestByBooking"

	var (
		p      domain.Payment
		amount string
	)
	err := r.handle().QueryRow(ctx,
		`SELECT id, user_id, booking_id, amount::text, status, provider, transaction_id,
		        created_at, updated_at
		 FROM payments
		 WHERE booking_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		bookingID,
	).Scan(&p.ID, &p.UserID, &p.BookingID, &amount, &p.Status, &p.Provider, &p.TransactionID,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("%s: decode amount: %w", op, err)
	}

	return &p, nil
}

func (r *PaymentRepo) Update(ctx context.Context, p *domain.Payment) error {
	const op = "postgresrepo.PaymentRepo.Update"

	tag, err := r.handle().Exec(ctx,
		`UPDATE payments SET status = $2, transaction_id = $3, updated_at = $4 WHERE id = $1`,
		p.ID, p.Status, p.TransactionID, p.UpdatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return mustAffect(op, tag.RowsAffected())
}
