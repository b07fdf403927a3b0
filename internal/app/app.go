package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/cinego/internal/catalog"
	"github.com/kirinyoku/cinego/internal/config"
	"github.com/kirinyoku/cinego/internal/events"
	"github.com/kirinyoku/cinego/internal/metrics"
	"github.com/kirinyoku/cinego/internal/postgres"
	"github.com/kirinyoku/cinego/internal/queue"
	"github.com/kirinyoku/cinego/internal/redis"
	"github.com/kirinyoku/cinego/internal/repository"
	"github.com/kirinyoku/cinego/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/cinego/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/cinego/internal/repository/redis"
	"github.com/kirinyoku/cinego/internal/service"
	"github.com/kirinyoku/cinego/internal/service/booking"
	httpgin "github.com/kirinyoku/cinego/internal/transport/http/gin"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	pubsub     *redisrepo.ShowtimesPubSub
	hub        *events.Hub
	closers    []func()
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx := context.Background()
	a := &App{cfg: cfg, logger: logger, hub: events.NewHub(64)}

	// Initialize dependencies
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	rdb, err := redis.New(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	deps := service.Deps{
		Store:   store,
		Events:  a.hub,
		Metrics: m,
		Logger:  logger,
	}

	var (
		cache *redisrepo.Cache
		idem  *redisrepo.IdempotencyStore
	)
	if rdb != nil {
		a.closers = append(a.closers, func() { _ = rdb.Close() })

		cache = redisrepo.New(rdb, logger)
		idem = redisrepo.NewIdempotencyStore(rdb, cfg.Booking.IdempotencyTTL)
		a.pubsub = redisrepo.NewShowtimesPubSub(rdb)

		deps.Cache = cache
		deps.Events = a.pubsub
		deps.Limiter = redisrepo.NewSlidingWindowLimiter(rdb, "bookings", cfg.Booking.RateLimitPerMinute, time.Minute)
	} else {
		logger.Warn("redis disabled: no cache, rate limiting or idempotency keys")
	}

	deps.Movies = catalog.New(catalog.Config{
		BaseURL:  cfg.Catalog.BaseURL,
		APIKey:   cfg.Catalog.APIKey,
		Timeout:  cfg.Catalog.Timeout,
		CacheTTL: cfg.Catalog.CacheTTL,
	}, cache, logger)

	if cfg.RabbitMQ.URL != "" {
		deps.Notifier = queue.NewPublisher(cfg.RabbitMQ.URL, logger)
	}

	// Initialize services
	a.services = service.NewServices(deps, service.Config{
		Booking: booking.Config{
			HoldTTL:  cfg.Booking.HoldTTL,
			MaxSeats: cfg.Booking.MaxSeats,
		},
		ScreenCacheTTL: cfg.Booking.ScreenCacheTTL,
		TxMaxAttempts:  cfg.Booking.TxAttempts(),
	})

	// Initialize Gin router
	router := httpgin.NewRouter(httpgin.Deps{
		Services:  a.services,
		Hub:       a.hub,
		Idem:      idem,
		Metrics:   m,
		Gatherer:  reg,
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		Logger:    logger,
		KeepAlive: cfg.Server.SSEKeepAlive,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	if a.cfg.Storage == config.StorageMemory {
		a.logger.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil
	}

	pool, err := postgres.New(ctx, postgres.Config{
		DSN:      a.cfg.Postgres.DSN(),
		MaxConns: int32(a.cfg.Postgres.MaxConns),
		Migrate:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	return postgresrepo.NewStore(pool), nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.Close()

	g, gCtx := errgroup.WithContext(ctx)

	// event streams end with the server instead of holding Shutdown open
	a.httpServer.BaseContext = func(net.Listener) context.Context { return gCtx }

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Expire unpaid holds
	g.Go(func() error {
		return a.services.Booking.RunSweeper(gCtx, a.cfg.Booking.SweepInterval)
	})

	// Fan Redis events out to local SSE subscribers
	if a.pubsub != nil {
		g.Go(func() error {
			err := a.pubsub.Subscribe(gCtx, a.hub.Deliver)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("showtime events subscription: %w", err)
			}
			return nil
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
