package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/cache"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/sqlite"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer closeStore()
	log.WithField("driver", cfg.StoreDriver).Info("store ready")

	// Redis, with an in-process fallback for the status cache
	h := &httpx.OrdersHandler{Log: log}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.WithError(err).Warn("redis unavailable, using local status cache")
			h.Cache = cache.NewStatusLRU(10000, redisx.TTLStatusCache)
		} else {
			h.Cache = redisx.NewStatusCache(rdb)
			h.Idem = redisx.NewIdempotencyIndex(rdb)
		}
	} else {
		h.Cache = cache.NewStatusLRU(10000, redisx.TTLStatusCache)
	}

	// Kafka producer
	var (
		events orders.Publisher
		prod   *kafkax.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
		prod.Start(context.Background())
		events = kafkax.OrderEvents{Producer: prod}
	}

	h.Service = orders.NewService(store, events, log, orders.ServiceConfig{
		Producer:     cfg.ServiceName,
		DefaultLimit: cfg.DefaultPageLimit,
		MaxLimit:     cfg.MaxPageLimit,
	})
	router := httpx.NewRouter(log, cfg.RequestTimeout)
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
}

func openStore(ctx context.Context, cfg config.Config) (orders.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		if cfg.Migrate {
			if err := sqlite.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return &sqlite.Store{DB: db}, func() { _ = db.Close() }, nil
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return &postgres.Store{DB: pool}, pool.Close, nil
	}
}
