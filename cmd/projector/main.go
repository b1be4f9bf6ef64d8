package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/projector"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.WithError(err).Fatal("redis")
	}

	svc := &projector.Service{
		Cache: redisx.NewStatusCache(rdb),
		Dedup: redisx.NewDedup(rdb, cfg.ProjectorGroup),
		Log:   log,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, orders.Topics, cfg.ProjectorWorkers, log)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"group":   cfg.ProjectorGroup,
			"topics":  orders.Topics,
			"workers": cfg.ProjectorWorkers,
		}).Info("projector consumer started")
		return cons.Start(gctx, svc.HandleOrderEvent)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("consumer exit")
		return
	}
	log.Info("projector stopped")
}
