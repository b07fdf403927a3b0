package httpgin

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"

	"github.com/kirinyoku/cinego/internal/repository"
	"github.com/kirinyoku/cinego/internal/repository/memory"
	"github.com/kirinyoku/cinego/internal/service"
)

var errSerialization = errors.New("could not serialize access due to concurrent update")

// busyStore loses every transaction to a concurrent writer.
type busyStore struct {
	*memory.Store
	attempts int
}

func (s *busyStore) RunTx(context.Context, *pgx.TxOptions, func(context.Context, repository.Repos) error) error {
	s.attempts++
	return errSerialization
}

func (s *busyStore) Retryable(err error) bool { return errors.Is(err, errSerialization) }

func TestCreateBooking_ContentionIsRetryable(t *testing.T) {
	busy := &busyStore{}
	env := newTestEnv(t, func(sd *service.Deps, _ *Deps) {
		busy.Store = sd.Store.(*memory.Store)
		sd.Store = busy
	})

	rec := env.do(t, http.MethodPost, "/booking/create", bookingBody("u1", "A1"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, kindContention, decode[ErrorResponse](t, rec).Error)
	assert.Equal(t, 3, busy.attempts)
}
