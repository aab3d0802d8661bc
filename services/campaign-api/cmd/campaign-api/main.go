package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/pacedmailer/internal/dispatch"
	"github.com/Mutter0815/pacedmailer/internal/schedule"
	"github.com/Mutter0815/pacedmailer/internal/store"
	"github.com/Mutter0815/pacedmailer/pkg/config"
	"github.com/Mutter0815/pacedmailer/pkg/db"
	"github.com/Mutter0815/pacedmailer/pkg/logx"
	"github.com/Mutter0815/pacedmailer/services/campaign-api/server"
)

func main() {
	logx.Init("campaign-api")
	defer logx.Sync()

	config.MustLoadAPI()
	cfg := config.API
	loc := config.Location(cfg.Timezone)

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		} else {
			logx.L().Infow("db_closed")
		}
	}()

	if cfg.Migrate {
		if err := db.Migrate(sqlDB, cfg.MigrationsDir); err != nil {
			logx.L().Fatalw("db_migrate_error", "error", err)
		}
		logx.L().Infow("db_migrated", "dir", cfg.MigrationsDir)
	}

	st := store.New(sqlDB)
	in := &dispatch.Initializer{
		Store:     st,
		Mailboxes: st,
		Pacer:     schedule.NewPacer(nil),
		Location:  loc,
	}
	jan := &dispatch.Janitor{Store: st}

	h := server.NewHandlers(st, in, jan, cfg.InitBuffer)
	srv := server.NewHTTPServer(":"+cfg.Port, h)

	go func() {
		logx.L().Infow("api_listen_start", "addr", ":"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logx.L().Infow("signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}

	logx.L().Infow("campaign-api stopped gracefully")
}
