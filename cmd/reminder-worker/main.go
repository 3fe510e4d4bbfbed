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
	"github.com/robfig/cron/v3"

	"github.com/sisalud/appointment-notifier/internal/appointment"
	"github.com/sisalud/appointment-notifier/internal/config"
	"github.com/sisalud/appointment-notifier/internal/db"
	"github.com/sisalud/appointment-notifier/internal/flow"
	"github.com/sisalud/appointment-notifier/internal/gateway"
	"github.com/sisalud/appointment-notifier/internal/legacy"
	"github.com/sisalud/appointment-notifier/internal/notify"
	"github.com/sisalud/appointment-notifier/internal/observability/metrics"
	"github.com/sisalud/appointment-notifier/internal/redisclient"
	"github.com/sisalud/appointment-notifier/internal/reminder"
)

const reminderLockName = "reminder-daily-run"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("reminder-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.LegacyDSN == "" {
		log.Fatal("LEGACY_DSN is required")
	}
	loc := cfg.Location()

	log.Printf("running reminder worker in env=%s cron=%q tz=%s", cfg.Env, cfg.ReminderCron, loc)

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
	legacyClient := legacy.NewClient(legacyDB, cfg.LegacyDriver)
	gw := gateway.NewClient(cfg.MessageAPIURL, cfg.FlowAPIURL, cfg.GatewayTimeout)
	m := metrics.New(prometheus.DefaultRegisterer)

	resolver := notify.NewResolver(repo)
	dispatcher := notify.NewDispatcher(gw)
	flows := flow.NewOrchestrator(repo, gw, cfg.FlowName, cfg.ListenEndpoint())
	worker := reminder.NewWorker(repo, resolver, dispatcher, flows, m)
	queue := reminder.NewQueue(worker, cfg.RetryDelay, cfg.MaxRetries)
	defer queue.Stop()

	runner := reminder.NewRunner(
		reminder.NewSelector(repo, cfg.LookaheadDays, loc),
		legacyClient,
		reminder.NewScheduler(cfg.BatchSize, cfg.BatchWindow, cfg.AnchorHour, cfg.AnchorMinute, loc, nil),
		queue,
	)

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(cfg.ReminderCron, func() {
		runDaily(rootCtx, runner, locker)
	})
	if err != nil {
		log.Fatalf("invalid REMINDER_CRON %q: %v", cfg.ReminderCron, err)
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	<-rootCtx.Done()
	log.Println("shutdown signal received, stopping reminder worker")
}

func runDaily(ctx context.Context, runner *reminder.Runner, locker redisclient.Locker) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	err := locker.WithRunLock(runCtx, reminderLockName, func(ctx context.Context) error {
		return runner.RunDaily(ctx, time.Now())
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			log.Println("daily reminder run already running elsewhere, skipping")
			return
		}
		log.Printf("daily reminder run error: %v", err)
		return
	}
	log.Printf("daily reminder run complete in %s", time.Since(start))
}
