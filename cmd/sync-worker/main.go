package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sisalud/appointment-notifier/internal/appointment"
	"github.com/sisalud/appointment-notifier/internal/config"
	"github.com/sisalud/appointment-notifier/internal/db"
	"github.com/sisalud/appointment-notifier/internal/gateway"
	"github.com/sisalud/appointment-notifier/internal/legacy"
	"github.com/sisalud/appointment-notifier/internal/notify"
	"github.com/sisalud/appointment-notifier/internal/observability/metrics"
	"github.com/sisalud/appointment-notifier/internal/redisclient"
	"github.com/sisalud/appointment-notifier/internal/syncer"
)

const syncLockName = "appointment-sync"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("sync-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.LegacyDSN == "" {
		log.Fatal("LEGACY_DSN is required")
	}

	log.Printf("running sync worker in env=%s interval=%s", cfg.Env, cfg.SyncInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// Connect the legacy store
	legacyDB, err := legacy.Connect(rootCtx, cfg.LegacyDriver, cfg.LegacyDSN)
	if err != nil {
		log.Fatalf("legacy store connection error: %v", err)
	}
	defer func() {
		if err := legacyDB.Close(); err != nil {
			log.Printf("error closing legacy store: %v", err)
		}
	}()
	log.Println("connected to legacy store")

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

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisRunLocker(rdb, cfg.RunLockTTL)
	gw := gateway.NewClient(cfg.MessageAPIURL, cfg.FlowAPIURL, cfg.GatewayTimeout)
	m := metrics.New(prometheus.DefaultRegisterer)

	poller := syncer.NewPoller(
		repo,
		legacy.NewClient(legacyDB, cfg.LegacyDriver),
		notify.NewResolver(repo),
		notify.NewDispatcher(gw),
		m,
	)

	// Run once at startup
	runOnce(rootCtx, poller, locker)

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping sync worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, poller, locker)
		}
	}
}

func runOnce(ctx context.Context, poller *syncer.Poller, locker redisclient.Locker) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	err := locker.WithRunLock(runCtx, syncLockName, poller.RunCycle)
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			log.Println("sync cycle already running elsewhere, skipping")
			return
		}
		log.Printf("sync cycle error: %v", err)
		return
	}
	log.Printf("sync cycle complete in %s", time.Since(start))
}
