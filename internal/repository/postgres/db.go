package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/cinego/internal/repository"
)

// DB is satisfied by both *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

// RunTx opens a transaction and commits it when fn returns nil. Without opts
// the transaction is serializable and read-write.
func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx repository.Repos) error,
) error {
	const op = "postgresrepo.Store.RunTx"

	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}
	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, txRepos{s: s, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

func (s *Store) Retryable(err error) bool { return IsRetryable(err) }

func (s *Store) Catalog() repository.CatalogRepo    { return s.catalog() }
func (s *Store) Showtimes() repository.ShowtimeRepo { return s.showtimes() }
func (s *Store) Bookings() repository.BookingRepo   { return s.bookings() }
func (s *Store) Payments() repository.PaymentRepo   { return s.payments() }

func (s *Store) catalog() *CatalogRepo    { return &CatalogRepo{pool: s.pool} }
func (s *Store) showtimes() *ShowtimeRepo { return &ShowtimeRepo{pool: s.pool} }
func (s *Store) bookings() *BookingRepo   { return &BookingRepo{pool: s.pool} }
func (s *Store) payments() *PaymentRepo   { return &PaymentRepo{pool: s.pool} }

type txRepos struct {
	s  *Store
	tx DB
}

func (t txRepos) Catalog() repository.CatalogRepo    { return t.s.catalog().With(t.tx) }
func (t txRepos) Showtimes() repository.ShowtimeRepo { return t.s.showtimes().With(t.tx) }
func (t txRepos) Bookings() repository.BookingRepo   { return t.s.bookings().With(t.tx) }
func (t txRepos) Payments() repository.PaymentRepo   { return t.s.payments().With(t.tx) }
