package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/cache"
	"github.com/you/faceoff/internal/config"
	"github.com/you/faceoff/internal/pipeline"
	"github.com/you/faceoff/internal/prompts"
	"github.com/you/faceoff/internal/provider"
	"github.com/you/faceoff/internal/store"
	"github.com/you/faceoff/internal/telemetry"
	"github.com/you/faceoff/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := newLogger(cfg.AppEnv)
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()
	st := store.NewPostgres(db)

	var rdb *r.Client
	if cfg.RedisAddr != "" {
		rdb = r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
	}

	em := telemetry.NewEmitter(st, log, cfg.TelemetryBufferSize)
	em.Start(ctx)
	defer em.Close()

	stages := &pipeline.Stages{
		Direct:      provider.NewDirectClient(),
		Images:      provider.NewImageFetcher(),
		Cache:       cache.NewListingCache(st, rdb, cfg.ScrapeCacheTTL, log),
		Lib:         prompts.Default(),
		Log:         log,
		VisionModel: cfg.OpenAIVisionModel,
		TextModel:   cfg.OpenAITextModel,
		ActorPolicy: provider.RetryPolicy{
			MaxAttempts: cfg.ApifyMaxAttempts,
			Base:        cfg.ApifyRetryBase,
		},
		DirectPolicy: provider.RetryPolicy{
			MaxAttempts: cfg.DirectMaxAttempts,
			Base:        cfg.DirectRetryBase,
		},
	}
	if cfg.ApifyAPIKey != "" {
		stages.Actor = provider.NewActorClient(cfg.ApifyAPIKey, cfg.ApifyActorID, cfg.ApifyRunTimeout, cfg.ApifyPollInterval)
		stages.ActorID = cfg.ApifyActorID
	}
	if cfg.OpenAIAPIKey != "" {
		scorer, err := provider.NewOpenAIScorer(cfg.OpenAIAPIKey)
		if err != nil {
			log.Fatal("openai scorer init failed", zap.Error(err))
		}
		stages.Scorer = scorer
	} else {
		log.Warn("no OpenAI key configured, scoring stages run heuristics only")
	}

	runner := &pipeline.Runner{
		Store:     st,
		Stages:    stages,
		Telemetry: em,
		Log:       log,
	}
	w := &worker.Worker{
		Store:  st,
		Runner: runner,
		Cfg:    cfg,
		Log:    log,
	}

	log.Info("worker starting",
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Bool("actor_enabled", stages.Actor != nil),
		zap.Bool("scorer_enabled", stages.Scorer != nil))
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Error("worker stopped", zap.Error(err))
	}
	log.Info("worker shut down")
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
