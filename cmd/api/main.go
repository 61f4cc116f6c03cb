package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose"
	"go.uber.org/zap"

	// Registers the pgx stdlib driver for goose.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/you/faceoff/internal/api"
	"github.com/you/faceoff/internal/config"
	"github.com/you/faceoff/internal/credits"
	"github.com/you/faceoff/internal/store"
	"github.com/you/faceoff/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := newLogger(cfg.AppEnv)
	defer log.Sync() //nolint:errcheck

	if err := runMigrations(cfg.PostgresDSN); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()
	st := store.NewPostgres(db)

	em := telemetry.NewEmitter(st, log, cfg.TelemetryBufferSize)
	em.Start(ctx)
	defer em.Close()

	srv := &api.Server{
		Store:     st,
		Credits:   &credits.Applier{Store: st, Log: log},
		Telemetry: em,
		Log:       log,
	}
	httpServer := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "db/migrations")
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "prod" {
		log, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return log
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return log
}
