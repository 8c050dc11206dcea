package main

import (
	"context"
	stdlog "log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/diecast-orders/internal/config"
	"github.com/ariefcatur/diecast-orders/internal/expiry"
	kafkax "github.com/ariefcatur/diecast-orders/internal/kafka"
	"github.com/ariefcatur/diecast-orders/internal/logger"
	"github.com/ariefcatur/diecast-orders/internal/orders"
	"github.com/ariefcatur/diecast-orders/internal/postgres"
	"github.com/ariefcatur/diecast-orders/internal/projector"
	"github.com/ariefcatur/diecast-orders/internal/redisx"
)

// worker runs the payment-window expiry scan and the status projector.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("config: %v", err)
	}
	log := logger.New(cfg.Log).With("service", cfg.ServiceName+"-worker")
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr, cfg.RedisDB)
	defer rdb.Close()

	// Expiry cancellations emit OrderCancelled like any other transition.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	repo := &orders.Repo{DB: db}
	svc := &orders.Service{
		Store:         repo,
		Events:        &orders.KafkaPublisher{Producer: prod},
		Log:           log,
		PaymentWindow: cfg.PaymentWindow,
		RejectGrace:   cfg.PaymentRejectGrace,
		ServiceName:   cfg.ServiceName + "-expiry",
	}
	sched := expiry.NewScheduler(repo, svc, cfg.ExpiryScanInterval, cfg.ExpiryBatch, cfg.ExpiryWorkers, log)

	proj := &projector.Service{Redis: rdb, Log: log, Name: "projector"}
	// one worker keeps the events of an order in partition order
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, orders.Topics, 1, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		log.Info("projector consumer started", "group", cfg.KafkaGroup, "topics", orders.Topics)
		return cons.Start(gctx, proj.HandleEvent)
	})

	if err := g.Wait(); err != nil {
		log.Error("worker exit", err)
	}
	log.Info("shutting down")
	prod.Close()
	prod.WaitClosed()
}
