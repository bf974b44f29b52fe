package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/travel-reservation/internal/booking"
	"github.com/iliyamo/travel-reservation/internal/catalog"
	"github.com/iliyamo/travel-reservation/internal/config"
	"github.com/iliyamo/travel-reservation/internal/database"
	"github.com/iliyamo/travel-reservation/internal/handler"
	"github.com/iliyamo/travel-reservation/internal/inventory"
	"github.com/iliyamo/travel-reservation/internal/middleware"
	"github.com/iliyamo/travel-reservation/internal/pii"
	"github.com/iliyamo/travel-reservation/internal/queue"
	"github.com/iliyamo/travel-reservation/internal/repository"
	"github.com/iliyamo/travel-reservation/internal/repository/memory"
	"github.com/iliyamo/travel-reservation/internal/router"
)

// stores groups the persistence the engine runs on, whichever driver
// provides it.
type stores struct {
	catalog  catalog.Store
	units    inventory.UnitStore
	counters inventory.CounterStore
	bookings booking.Store
	refunds  booking.RefundRecorder
	ping     func(ctx context.Context) error
	close    func() error
}

func openStores(cfg config.Config, log *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using the in-memory store; data is lost on exit")
		st := memory.New()
		return &stores{
			catalog: st, units: st, counters: st, bookings: st, refunds: st,
			close: func() error { return nil },
		}, nil
	}

	if cfg.Migrate {
		dsn := database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err := database.Migrate(dsn, log); err != nil {
			return nil, err
		}
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, err
	}
	return mysqlStores(db), nil
}

func mysqlStores(db *sql.DB) *stores {
	resources := repository.NewResourceRepo(db)
	return &stores{
		catalog:  resources,
		units:    repository.NewUnitRepo(db),
		counters: resources,
		bookings: repository.NewBookingRepo(db),
		refunds:  repository.NewRefundRepo(db),
		ping:     db.PingContext,
		close:    db.Close,
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg := config.Load()
	log, err := newLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	sealer, err := pii.NewSealerHex(cfg.PIIKey)
	if err != nil {
		return err
	}

	// events are optional; without a broker the engine publishes nowhere
	var pub booking.Publisher
	if cfg.RabbitURL != "" {
		p, err := queue.NewPublisher(cfg.RabbitURL, log.Named("publisher"))
		if err != nil {
			return err
		}
		defer p.Close()
		pub = p

		consumer := queue.NewAuditConsumer(cfg.RabbitURL, log.Named("audit"))
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	} else {
		log.Info("RABBITMQ_URL not set, events are not published")
	}

	syncOpts := []inventory.SyncOption{}
	if pub != nil {
		syncOpts = append(syncOpts, inventory.WithRepairHook(repairPublisher(pub, log)))
	}
	syncer := inventory.NewSynchronizer(st.counters, cfg.StoreCallTimeout, log.Named("counter"), syncOpts...)
	alloc := inventory.NewAllocator(st.units, syncer, cfg.StoreCallTimeout, log.Named("allocator"))
	cat := catalog.NewService(st.catalog, alloc, cfg.StoreCallTimeout, log.Named("catalog"))

	opts := []booking.Option{
		booking.WithLogger(log.Named("booking")),
		booking.WithCallTimeout(cfg.StoreCallTimeout),
		booking.WithCrossSellDiscount(cfg.Policy.CrossSellPct),
		booking.WithPolicy(booking.RefundPolicy{
			FullBefore:    cfg.Policy.FullRefundBefore,
			PartialBefore: cfg.Policy.PartialRefundBefore,
			Cutoff:        cfg.Policy.CancelCutoff,
			PartialFeePct: cfg.Policy.PartialFeePct,
		}),
	}
	if pub != nil {
		opts = append(opts, booking.WithPublisher(pub))
	}
	svc := booking.NewService(booking.Deps{
		Allocator: alloc,
		Sync:      syncer,
		Catalog:   st.catalog,
		Store:     st.bookings,
		Refunds:   st.refunds,
		Cipher:    sealer,
	}, opts...)

	if cfg.ReconcileEvery > 0 {
		go reconcileLoop(ctx, svc, cfg.ReconcileEvery, log.Named("reconcile"))
	}

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, rate limiting and idempotency disabled", zap.Error(err))
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID))
			return nil
		},
	}))

	router.RegisterRoutes(e, router.Deps{
		JWTSecret:   cfg.JWTSecret,
		Bookings:    handler.NewBookingHandler(svc, log.Named("http")),
		Catalog:     handler.NewCatalogHandler(cat, log.Named("http")),
		Admin:       handler.NewAdminHandler(cat, svc, log.Named("http")),
		Ping:        st.ping,
		RateLimit:   middleware.NewTokenBucket(cfg.RateLimit, rdb, log.Named("ratelimit")),
		Idempotency: middleware.NewIdempotency(cfg.Idempotency, rdb, log.Named("idempotency")),
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// repairPublisher turns a counter repair into an inventory.repaired event.
func repairPublisher(pub booking.Publisher, log *zap.Logger) inventory.RepairHook {
	return func(ctx context.Context, r inventory.Report) {
		ev := queue.Event{
			Type:            queue.TypeInventoryRepaired,
			OccurredAt:      r.CheckedAt,
			ResourceID:      r.ResourceID,
			StoredAvailable: r.Stored,
			ActualAvailable: r.ActualAvailable,
		}
		if err := pub.Publish(ctx, ev); err != nil {
			log.Warn("repair event not published", zap.String("resource_id", r.ResourceID), zap.Error(err))
		}
	}
}

func reconcileLoop(ctx context.Context, svc *booking.Service, every time.Duration, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		res, err := svc.ReconcileAll(ctx, true)
		if err != nil {
			log.Warn("sweep failed", zap.Error(err))
			continue
		}
		repaired := 0
		for _, r := range res.Reports {
			if r.Repaired {
				repaired++
			}
		}
		log.Info("sweep done",
			zap.Int("resources", len(res.Reports)),
			zap.Int("repaired", repaired),
			zap.Int("failed", len(res.Failed)))
	}
}
