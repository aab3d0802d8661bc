package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/dispatch"
	"github.com/Mutter0815/pacedmailer/internal/schedule"
	"github.com/Mutter0815/pacedmailer/internal/sender"
	"github.com/Mutter0815/pacedmailer/internal/store"
	"github.com/Mutter0815/pacedmailer/pkg/config"
	"github.com/Mutter0815/pacedmailer/pkg/db"
	"github.com/Mutter0815/pacedmailer/pkg/logx"
	"github.com/Mutter0815/pacedmailer/pkg/metrics"
	"github.com/Mutter0815/pacedmailer/pkg/rmq"
	"github.com/Mutter0815/pacedmailer/services/sender-worker/worker"
)

func main() {
	logx.Init("sender-worker")
	defer logx.Sync()

	config.MustLoadWorker()
	cfg := config.Worker
	loc := config.Location(cfg.Timezone)

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()

	cons, err := rmq.NewConsumer(cfg.RMQURL, cfg.Queue, 10)
	if err != nil {
		logx.L().Fatalw("rmq_init_error", "error", err)
	}
	defer cons.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var snd sender.Sender
	switch cfg.Transport {
	case "ses":
		s, err := sender.NewSES(ctx, cfg.SESRegion, cfg.SESKey, cfg.SESSecret)
		if err != nil {
			logx.L().Fatalw("ses_init_error", "error", err)
		}
		snd = s
	default:
		snd = sender.NewSimulated(cfg.SimSuccess, nil)
	}
	logx.L().Infow("sender_selected", "transport", cfg.Transport)

	st := store.New(sqlDB)
	done := &dispatch.Completer{
		Store: st,
		Advancer: &dispatch.Advancer{
			Store:    st,
			Pacer:    schedule.NewPacer(nil),
			Location: loc,
		},
	}
	w := worker.New(st, done, sender.NewRenderer(), snd, cfg.FromName, cons)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.L().Errorw("metrics_server_error", "error", err)
		}
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logx.L().Errorw("worker_stopped_with_error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logx.L().Infow("sender-worker stopped gracefully")
}
