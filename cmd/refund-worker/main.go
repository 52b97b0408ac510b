package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/medibook/clinic-scheduling/internal/appointment"
	"github.com/medibook/clinic-scheduling/internal/availability"
	"github.com/medibook/clinic-scheduling/internal/config"
	"github.com/medibook/clinic-scheduling/internal/db"
	"github.com/medibook/clinic-scheduling/internal/metrics"
	"github.com/medibook/clinic-scheduling/internal/payment"
	redisclient "github.com/medibook/clinic-scheduling/internal/redis"
)

// The refund worker drains cancelled appointments stuck in refund_pending
// or refund_failed: a cancellation always commits locally even when the
// payment provider is down, so something has to come back later and settle
// the refund.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("refund-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running refund worker in env=%s interval=%s batch=%d", cfg.Env, cfg.RefundWorkerInterval, cfg.RefundBatchSize)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	avRepo := availability.NewPgRepository(pgPool)
	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	provider := payment.NewHTTPProvider(cfg.PaymentBaseURL)
	svc := appointment.NewService(repo, avRepo, locker, provider, metrics.NewSchedulingMetrics(nil))

	// Run once at startup
	runOnce(rootCtx, svc, cfg.RefundBatchSize)

	ticker := time.NewTicker(cfg.RefundWorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping refund worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.RefundBatchSize)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, batch int) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.ProcessUnsettledRefunds(runCtx, batch); err != nil {
		log.Printf("refund run error: %v", err)
		return
	}
	log.Printf("refund run complete in %s", time.Since(start))
}
