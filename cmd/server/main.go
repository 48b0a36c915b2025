package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-seat-booking/internal/cache"
	"github.com/iliyamo/event-seat-booking/internal/config"
	"github.com/iliyamo/event-seat-booking/internal/database"
	"github.com/iliyamo/event-seat-booking/internal/gateway"
	"github.com/iliyamo/event-seat-booking/internal/handler"
	"github.com/iliyamo/event-seat-booking/internal/lock"
	"github.com/iliyamo/event-seat-booking/internal/middleware"
	"github.com/iliyamo/event-seat-booking/internal/queue"
	"github.com/iliyamo/event-seat-booking/internal/realtime"
	"github.com/iliyamo/event-seat-booking/internal/repository"
	"github.com/iliyamo/event-seat-booking/internal/router"
	"github.com/iliyamo/event-seat-booking/internal/service"
	"github.com/iliyamo/event-seat-booking/internal/worker"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	setupLogger(log, cfg)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
	log.Info("server stopped")
}

func setupLogger(log *logrus.Logger, cfg config.Config) {
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	// background workers are stopped and joined before db and rdb close
	var wg sync.WaitGroup
	ctx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	db, err := database.Open(ctx, database.DSN(cfg))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	notifier, closeNotifier := buildNotifier(ctx, &wg, cfg, log)
	defer closeNotifier()

	events := repository.NewEventRepo(db)
	deps := service.Deps{
		Tx:       repository.NewTxManager(db),
		Events:   events,
		Bookings: repository.NewBookingRepo(db),
		Locks:    lock.NewService(rdb),
		Gateway: gateway.NewClient(gateway.Config{
			BaseURL:       cfg.Gateway.BaseURL,
			KeyID:         cfg.Gateway.KeyID,
			KeySecret:     cfg.Gateway.KeySecret,
			WebhookSecret: cfg.Gateway.WebhookSecret,
			Timeout:       cfg.Gateway.Timeout,
		}, log),
		Notifier: notifier,
		Cache:    cache.NewInvalidator(rdb, cfg.Cache.Prefix),
		Log:      log,
		LockTTL:  cfg.Booking.LockTTL,
	}
	bookings := service.NewBookingService(deps, service.BookingConfig{
		MaxSeatsPerBooking: cfg.Booking.MaxSeatsPerBooking,
		ExpiryGrace:        cfg.Reaper.Grace,
		ReapBatchSize:      cfg.Reaper.BatchSize,
	})
	payments := service.NewPaymentService(deps)

	reaper := worker.NewReaper(bookings, cfg.Reaper.Interval, log)
	if cfg.Reaper.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reaper.Run(ctx)
		}()
	}

	e := newServer(cfg, log, db, rdb, bookings, payments, reaper, events)

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		cancelWorkers()
		wg.Wait()
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = e.Shutdown(shutdownCtx)
	wg.Wait()
	return err
}

// buildNotifier fans booking events out to RabbitMQ and PubNub when they
// are configured, and starts the audit consumer on wg.
func buildNotifier(ctx context.Context, wg *sync.WaitGroup, cfg config.Config, log *logrus.Logger) (service.Notifier, func()) {
	var (
		multi   service.MultiNotifier
		closers []func()
	)
	if cfg.Queue.URL != "" {
		pub := queue.NewPublisher(cfg.Queue.URL, cfg.Queue.Exchange, log)
		multi = append(multi, pub)
		closers = append(closers, func() { _ = pub.Close() })
		if cfg.Queue.AuditEnabled {
			consumer := queue.NewAuditConsumer(cfg.Queue.URL, cfg.Queue.Exchange, cfg.Queue.AuditQueue, log)
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = consumer.Run(ctx)
			}()
		}
	} else {
		log.Info("RABBITMQ_URL not set, queue notifications disabled")
	}
	if cfg.PubNub.PublishKey != "" {
		pn := realtime.NewPubNubPublisher(realtime.Config{
			PublishKey:   cfg.PubNub.PublishKey,
			SubscribeKey: cfg.PubNub.SubscribeKey,
			UserID:       cfg.PubNub.UserID,
		})
		multi = append(multi, realtime.NewNotifier(pn, log))
	}
	return multi, func() {
		for _, c := range closers {
			c()
		}
	}
}

func newServer(
	cfg config.Config,
	log *logrus.Logger,
	db *sql.DB,
	rdb *redis.Client,
	bookings *service.BookingService,
	payments *service.PaymentService,
	reaper *worker.Reaper,
	events *repository.EventRepo,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover(), middleware.RequestID(), middleware.RequestLogger(log))

	router.RegisterRoutes(e, map[string]handler.Check{
		"mysql": db.PingContext,
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	bh := handler.NewBookingHandler(bookings, log)
	ph := handler.NewPaymentHandler(payments, log)
	router.RegisterPublic(e, handler.NewEventHandler(events, log), ph, middleware.EventCache(cfg.Cache, rdb))
	router.RegisterCustomer(e, bh, ph, cfg.JWTSecret, middleware.NewTokenBucket(cfg.RateLimit, rdb, log))
	router.RegisterAdmin(e, handler.NewAdminHandler(bookings, payments, reaper, log), cfg.JWTSecret)
	return e
}
