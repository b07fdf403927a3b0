package service

import (
	"log/slog"
	"time"

	"github.com/kirinyoku/cinego/internal/events"
	"github.com/kirinyoku/cinego/internal/metrics"
	"github.com/kirinyoku/cinego/internal/repository"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
	"github.com/kirinyoku/cinego/internal/service/admin"
	"github.com/kirinyoku/cinego/internal/service/booking"
	"github.com/kirinyoku/cinego/internal/service/inventory"
	"github.com/kirinyoku/cinego/internal/service/payment"
	"github.com/kirinyoku/cinego/internal/service/scheduler"
	"github.com/kirinyoku/cinego/internal/uow"
)

type Services struct {
	Scheduler *scheduler.Service
	Inventory *inventory.Service
	Booking   *booking.Service
	Payment   *payment.Service
	Admin     *admin.Service
}

type Config struct {
	Booking        booking.Config
	ScreenCacheTTL time.Duration
	TxMaxAttempts  int
}

// Deps carries the collaborators shared by the services. Every field except
// Store may be left nil.
type Deps struct {
	Store    repository.Store
	Cache    *redisrepo.Cache
	Events   events.Publisher
	Limiter  booking.Limiter
	Movies   scheduler.MovieResolver
	Gateway  payment.Gateway
	Notifier payment.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func NewServices(d Deps, cfg Config) *Services {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	u := uow.NewUoW(d.Store,
		uow.WithMaxAttempts(cfg.TxMaxAttempts),
		uow.WithRetryHook(d.Metrics.TxRetry),
	)

	invOpts := []inventory.Option{inventory.WithLogger(d.Logger)}
	adminOpts := []admin.Option{admin.WithLogger(d.Logger)}
	if d.Cache != nil {
		invOpts = append(invOpts, inventory.WithScreenCache(d.Cache, cfg.ScreenCacheTTL))
		adminOpts = append(adminOpts, admin.WithCache(d.Cache, cfg.ScreenCacheTTL))
	}

	bookingOpts := []booking.Option{booking.WithLogger(d.Logger), booking.WithMetrics(d.Metrics)}
	schedOpts := []scheduler.Option{scheduler.WithLogger(d.Logger), scheduler.WithMetrics(d.Metrics)}
	payOpts := []payment.Option{payment.WithLogger(d.Logger), payment.WithMetrics(d.Metrics)}

	if d.Events != nil {
		bookingOpts = append(bookingOpts, booking.WithEvents(d.Events))
		schedOpts = append(schedOpts, scheduler.WithEvents(d.Events))
		payOpts = append(payOpts, payment.WithEvents(d.Events))
	}
	if d.Limiter != nil {
		bookingOpts = append(bookingOpts, booking.WithLimiter(d.Limiter))
	}
	if d.Movies != nil {
		schedOpts = append(schedOpts, scheduler.WithMovies(d.Movies))
	}
	if d.Notifier != nil {
		payOpts = append(payOpts, payment.WithNotifier(d.Notifier))
	}

	return &Services{
		Scheduler: scheduler.New(u, schedOpts...),
		Inventory: inventory.New(d.Store, invOpts...),
		Booking:   booking.New(u, cfg.Booking, bookingOpts...),
		Payment:   payment.New(u, d.Gateway, payOpts...),
		Admin:     admin.New(u, adminOpts...),
	}
}
