package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/diecast-orders/internal/config"
	"github.com/ariefcatur/diecast-orders/internal/fees"
	"github.com/ariefcatur/diecast-orders/internal/httpx"
	kafkax "github.com/ariefcatur/diecast-orders/internal/kafka"
	"github.com/ariefcatur/diecast-orders/internal/logger"
	"github.com/ariefcatur/diecast-orders/internal/orders"
	"github.com/ariefcatur/diecast-orders/internal/postgres"
	"github.com/ariefcatur/diecast-orders/internal/redisx"
	"github.com/ariefcatur/diecast-orders/internal/suggest"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("config: %v", err)
	}
	log := logger.New(cfg.Log).With("service", cfg.ServiceName)
	defer log.Close()

	pickup, err := fees.ParseSchedule(cfg.PickupSchedule)
	if err != nil {
		log.Fatal("pickup schedule", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr, cfg.RedisDB)
	defer rdb.Close()

	// Kafka producer, one writer for every order topic
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	// Service & handler
	svc := &orders.Service{
		Store:             &orders.Repo{DB: db},
		Events:            &orders.KafkaPublisher{Producer: prod},
		Log:               log,
		PaymentWindow:     cfg.PaymentWindow,
		RejectGrace:       cfg.PaymentRejectGrace,
		PriorityAvailable: cfg.PriorityAvailable,
		Pickup:            pickup,
		ServiceName:       cfg.ServiceName,
	}
	router := httpx.NewRouter(log)
	oh := &httpx.OrdersHandler{
		Orders:  svc,
		Suggest: &suggest.Cached{Next: &suggest.PGSource{DB: db}, Redis: rdb, Log: log},
		Redis:   rdb,
		Log:     log,
	}
	oh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", err)
	}
	prod.Close()      // no more publishes after the server drained
	prod.WaitClosed() // flush & close writer
	cancel()
}
