package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/Mutter0815/pacedmailer/internal/dispatch"
	"github.com/Mutter0815/pacedmailer/internal/schedule"
	"github.com/Mutter0815/pacedmailer/internal/store"
	"github.com/Mutter0815/pacedmailer/pkg/config"
	"github.com/Mutter0815/pacedmailer/pkg/db"
	"github.com/Mutter0815/pacedmailer/pkg/distlock"
	"github.com/Mutter0815/pacedmailer/pkg/logx"
	"github.com/Mutter0815/pacedmailer/pkg/metrics"
	"github.com/Mutter0815/pacedmailer/pkg/rmq"
)

func main() {
	logx.Init("dispatcher")
	defer logx.Sync()

	config.MustLoadDispatcher()
	cfg := config.Dispatcher
	loc := config.Location(cfg.Timezone)

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()

	if cfg.Migrate {
		if err := db.Migrate(sqlDB, cfg.MigrationsDir); err != nil {
			logx.L().Fatalw("db_migrate_error", "error", err)
		}
		logx.L().Infow("db_migrated", "dir", cfg.MigrationsDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	locks := distlock.Factory{DB: sqlDB}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logx.L().Warnw("redis_unavailable_using_pg_locks", "addr", cfg.RedisAddr, "error", err)
			_ = rdb.Close()
		} else {
			locks.Redis = rdb
			defer rdb.Close()
		}
	}

	pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.Queue)
	if err != nil {
		logx.L().Fatalw("rmq_init_error", "error", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logx.L().Warnw("rmq_publisher_close_error", "error", err)
		}
	}()

	st := store.New(sqlDB)
	pacer := schedule.NewPacer(nil)

	d := &dispatch.Dispatcher{
		Store: st,
		Init: &dispatch.Initializer{
			Store:     st,
			Mailboxes: st,
			Pacer:     pacer,
			Location:  loc,
		},
		Claimer: &dispatch.Claimer{
			Store:    st,
			Pacer:    pacer,
			Location: loc,
			WorkerID: "dispatcher-" + uuid.NewString(),
		},
		Pub:        pub,
		Locks:      locks,
		Location:   loc,
		BufferSize: cfg.InitBuffer,
		Interval:   cfg.PollInterval,
	}

	jan := &dispatch.Janitor{Store: st, Locks: locks}
	sched := cron.New(cron.WithLocation(loc))
	if _, err := jan.Register(ctx, sched, cfg.CleanupSchedule); err != nil {
		logx.L().Fatalw("cleanup_schedule_error", "spec", cfg.CleanupSchedule, "error", err)
	}
	sched.Start()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		logx.L().Infow("metrics_listen_start", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.L().Errorw("metrics_server_error", "error", err)
		}
	}()

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logx.L().Errorw("dispatcher_stopped_with_error", "error", err)
	}

	<-sched.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logx.L().Infow("dispatcher stopped gracefully")
}
