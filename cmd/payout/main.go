package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goflare.io/payout"
	"goflare.io/payout/account"
	"goflare.io/payout/config"
	"goflare.io/payout/dedup"
	"goflare.io/payout/driver"
	"goflare.io/payout/event"
	"goflare.io/payout/notify"
	"goflare.io/payout/processor"
	transportHTTP "goflare.io/payout/transport/http"
	"goflare.io/payout/webhook"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err = run(cfg, logger); err != nil {
		logger.Fatal("payout exited", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := driver.ConnectSQL(ctx, cfg.DSN())
	if err != nil {
		return err
	}
	defer pool.Close()

	nc, err := driver.ConnectNATS(cfg.NatsURL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	g, gctx := errgroup.WithContext(ctx)

	var deduplicator dedup.Deduplicator
	switch cfg.DedupBackend {
	case config.DedupBackendRedis:
		rdb, err := driver.ConnectRedis(ctx, cfg.RedisAddr(), cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		deduplicator = dedup.NewRedis(rdb, cfg.DedupRetention)
	default:
		logger.Warn("Using in-memory dedup; duplicates are only suppressed within this process")
		mem := dedup.NewMemory(cfg.DedupRetention)
		g.Go(func() error {
			mem.Run(gctx, time.Minute)
			return nil
		})
		deduplicator = mem
	}

	if cfg.StripeWebhookSecret == "" {
		logger.Warn("PAYOUT_STRIPE_WEBHOOK_SECRET is not set; every webhook delivery will be rejected")
	}

	dispatcher := notify.NewDispatcher(notify.NewNatsPublisher(nc), cfg.NotifyWorkers, cfg.NotifyQueueSize, logger)
	defer dispatcher.Shutdown()

	svc := payout.NewService(
		account.NewRepository(pool, logger),
		event.NewRepository(pool, logger),
		driver.NewTransactionManager(pool, logger),
		webhook.NewVerifier(cfg.StripeWebhookSecret, cfg.ReplayTolerance),
		deduplicator,
		processor.NewStripe(processor.StripeConfig{
			SecretKey:  cfg.StripeSecretKey,
			RefreshURL: cfg.OnboardingRefreshURL,
			ReturnURL:  cfg.OnboardingReturnURL,
			Timeout:    cfg.ProcessorTimeout,
		}, logger),
		dispatcher,
		logger,
		payout.WithProcessorTimeout(cfg.ProcessorTimeout),
	)

	server := transportHTTP.NewServer(cfg.ApiAddr(), svc, logger)

	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
