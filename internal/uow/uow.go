package uow

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
)

// RowLocking is for units that take row locks (Lock, LockScreen) before they
// read what they write. A waiter re-reads the row once the holder commits
// instead of failing with a serialization error.
var RowLocking = &pgx.TxOptions{
	IsoLevel:   pgx.ReadCommitted,
	AccessMode: pgx.ReadWrite,
}

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// UoW represents a unit of work.
type UoW struct {
	store       repository.Store
	maxAttempts int
	backoff     time.Duration
	onRetry     func(attempt int, err error)
}

type Option func(*UoW)

// WithMaxAttempts bounds how many times a transaction is tried in total.
func WithMaxAttempts(n int) Option {
	return func(u *UoW) {
		if n > 0 {
			u.maxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(u *UoW) { u.backoff = d }
}

// WithRetryHook is called before every retry with the attempt that just failed.
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(u *UoW) { u.onRetry = fn }
}

func NewUoW(store repository.Store, opts ...Option) *UoW {
	u := &UoW{
		store:       store,
		maxAttempts: 3,
		backoff:     10 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// Store exposes the non-transactional repositories.
func (u *UoW) Store() repository.Store { return u.store }

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error,
) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts runs fn inside the transaction with the given options. After a
// successful commit, it executes all after-commit hooks.
//
// fn is re-run from scratch when the store reports a retryable failure, so it
// must not have side effects outside tx other than registering hooks. Once the
// attempts are used up the error wraps domain.ErrContention.
func (u *UoW) DoWithOpts(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error,
) error {
	for attempt := 1; ; attempt++ {
		var hooks []AfterCommit

		err := u.store.RunTx(ctx, opts, func(ctx context.Context, tx repository.Repos) error {
			return fn(ctx, tx, func(h AfterCommit) {
				hooks = append(hooks, h)
			})
		})
		if err == nil {
			for _, h := range hooks {
				h(ctx)
			}
			return nil
		}

		if !u.store.Retryable(err) {
			return err
		}
		if attempt >= u.maxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", domain.ErrContention, attempt, err)
		}

		if u.onRetry != nil {
			u.onRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(u.backoff * time.Duration(attempt)):
		}
	}
}
