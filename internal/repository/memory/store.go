// Package memory is a process-local implementation of repository.Store.
//
// Transactions stage their writes and apply them under a single write lock at
// commit, so a reader never observes half of a unit of work. Row locks taken
// with Lock/LockScreen are keyed mutexes held until the transaction ends; two
// transactions on different showtimes never wait on each other.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/kirinyoku/cinego/internal/domain"
	"github.com/kirinyoku/cinego/internal/repository"
)

type Store struct {
	mu        sync.RWMutex
	theatres  map[string]domain.Theatre
	screens   map[string]domain.Screen
	showtimes map[string]domain.Showtime
	bookings  map[string]domain.Booking
	payments  map[string]domain.Payment

	locks *keyedLocks
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		theatres:  make(map[string]domain.Theatre),
		screens:   make(map[string]domain.Screen),
		showtimes: make(map[string]domain.Showtime),
		bookings:  make(map[string]domain.Booking),
		payments:  make(map[string]domain.Payment),
		locks:     newKeyedLocks(),
	}
}

func (s *Store) Catalog() repository.CatalogRepo    { return catalogRepo{handle{s: s}} }
func (s *Store) Showtimes() repository.ShowtimeRepo { return showtimeRepo{handle{s: s}} }
func (s *Store) Bookings() repository.BookingRepo   { return bookingRepo{handle{s: s}} }
func (s *Store) Payments() repository.PaymentRepo   { return paymentRepo{handle{s: s}} }

// RunTx ignores opts: keyed locks already give every transaction exclusive
// access to what it touches.
func (s *Store) RunTx(ctx context.Context, _ *pgx.TxOptions, fn func(ctx context.Context, tx repository.Repos) error) error {
	t := s.begin()
	defer t.release()

	if err := fn(ctx, handle{s: s, t: t}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	t.commit()

	return nil
}

// Retryable is always false: keyed locks serialize conflicting transactions up front.
func (s *Store) Retryable(error) bool { return false }

func (s *Store) begin() *txn {
	return &txn{
		s:         s,
		theatres:  layer[domain.Theatre]{},
		screens:   layer[domain.Screen]{},
		showtimes: layer[domain.Showtime]{},
		bookings:  layer[domain.Booking]{},
		payments:  layer[domain.Payment]{},
		held:      make(map[string]func()),
	}
}

// handle binds repositories either to a transaction (t != nil) or to the store
// in autocommit mode.
type handle struct {
	s *Store
	t *txn
}

func (h handle) Catalog() repository.CatalogRepo    { return catalogRepo{h} }
func (h handle) Showtimes() repository.ShowtimeRepo { return showtimeRepo{h} }
func (h handle) Bookings() repository.BookingRepo   { return bookingRepo{h} }
func (h handle) Payments() repository.PaymentRepo   { return paymentRepo{h} }

func (h handle) run(fn func(t *txn) error) error {
	if h.t != nil {
		return fn(h.t)
	}

	t := h.s.begin()
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}

	t.commit()

	return nil
}

// lock is a no-op outside a transaction.
func (h handle) lock(ctx context.Context, key string) error {
	if h.t == nil {
		return nil
	}
	return h.t.lock(ctx, key)
}

type txn struct {
	s *Store

	theatres  layer[domain.Theatre]
	screens   layer[domain.Screen]
	showtimes layer[domain.Showtime]
	bookings  layer[domain.Booking]
	payments  layer[domain.Payment]

	held map[string]func()
}

func (t *txn) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}

	unlock, err := t.s.locks.acquire(ctx, key)
	if err != nil {
		return err
	}

	t.held[key] = unlock

	return nil
}

func (t *txn) release() {
	for k, unlock := range t.held {
		unlock()
		delete(t.held, k)
	}
}

func (t *txn) dirty() bool {
	return len(t.theatres) > 0 ||
		len(t.screens) > 0 ||
		len(t.showtimes) > 0 ||
		len(t.bookings) > 0 ||
		len(t.payments) > 0
}

func (t *txn) commit() {
	if !t.dirty() {
		return
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	t.theatres.apply(t.s.theatres)
	t.screens.apply(t.s.screens)
	t.showtimes.apply(t.s.showtimes)
	t.bookings.apply(t.s.bookings)
	t.payments.apply(t.s.payments)

	t.theatres = layer[domain.Theatre]{}
	t.screens = layer[domain.Screen]{}
	t.showtimes = layer[domain.Showtime]{}
	t.bookings = layer[domain.Booking]{}
	t.payments = layer[domain.Payment]{}
}

// layer holds staged rows of one table; a nil entry marks a deletion.
type layer[T any] map[string]*T

func (l layer[T]) get(mu *sync.RWMutex, committed map[string]T, id string) (T, bool) {
	if v, ok := l[id]; ok {
		if v == nil {
			var zero T
			return zero, false
		}
		return *v, true
	}

	mu.RLock()
	defer mu.RUnlock()

	v, ok := committed[id]

	return v, ok
}

func (l layer[T]) put(id string, v T) { l[id] = &v }

func (l layer[T]) del(id string) { l[id] = nil }

func (l layer[T]) all(mu *sync.RWMutex, committed map[string]T) []T {
	mu.RLock()
	out := make([]T, 0, len(committed)+len(l))
	for id, v := range committed {
		if _, staged := l[id]; !staged {
			out = append(out, v)
		}
	}
	mu.RUnlock()

	for _, v := range l {
		if v != nil {
			out = append(out, *v)
		}
	}

	return out
}

func (l layer[T]) apply(committed map[string]T) {
	for id, v := range l {
		if v == nil {
			delete(committed, id)
			continue
		}
		committed[id] = *v
	}
}

type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*keyLock)}
}

func (k *keyedLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.unref(key, l)
		}, nil
	case <-ctx.Done():
		k.unref(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedLocks) unref(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.m, key)
	}
}
