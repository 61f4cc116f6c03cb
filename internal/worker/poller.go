// Package worker runs the claim-and-execute loop: recover stale work on
// startup, then repeatedly claim the next eligible job with a compare-and-swap
// and drive it through the pipeline. Every claim is race-safe against other
// worker replicas; losing a claim is a normal outcome.
package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/config"
	"github.com/you/faceoff/internal/domain"
	"github.com/you/faceoff/internal/pipeline"
	"github.com/you/faceoff/internal/store"
)

// createdClaimGrace is how long a legacy "created" job must sit untouched
// before the claim loop picks it up; fresh ones are left for the seeding path
// to finish promoting.
const createdClaimGrace = 30 * time.Second

// JobRunner executes one claimed job to a terminal status.
type JobRunner interface {
	Run(ctx context.Context, jobID string) (pipeline.RunResult, error)
}

type Worker struct {
	Store  store.Store
	Runner JobRunner
	Cfg    config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

// Run blocks until ctx is cancelled. Loop errors are logged and absorbed; the
// loop itself only exits with the context.
func (w *Worker) Run(ctx context.Context) error {
	if counts, err := w.RecoverStale(ctx); err != nil {
		w.Log.Error("startup recovery failed", zap.Error(err))
	} else if counts.Processing+counts.Seeding > 0 {
		w.Log.Info("recovered stale jobs",
			zap.Int("processing", counts.Processing),
			zap.Int("seeding", counts.Seeding))
	}
	w.runCleanup(ctx)
	lastCleanup := w.now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.now().Sub(lastCleanup) >= w.Cfg.CleanupInterval {
			w.runCleanup(ctx)
			lastCleanup = w.now()
		}

		jobID, err := w.claimNext(ctx)
		if err != nil {
			w.Log.Error("claim failed", zap.Error(err))
			w.sleep(ctx, w.Cfg.PollInterval)
			continue
		}
		if jobID == "" {
			w.sleep(ctx, w.Cfg.PollInterval)
			continue
		}

		res, err := w.Runner.Run(ctx, jobID)
		if err != nil {
			w.Log.Error("pipeline run errored", zap.String("job_id", jobID), zap.Error(err))
			w.sleep(ctx, w.Cfg.PollInterval)
			continue
		}
		w.Log.Info("pipeline run finished",
			zap.String("job_id", res.JobID),
			zap.String("status", res.Status))
	}
}

// claimNext finds the next eligible job and claims it with a status CAS.
// Queued jobs go oldest-first; legacy "created" jobs are only eligible after
// the grace period and go newest-first. An empty id means nothing claimable.
func (w *Worker) claimNext(ctx context.Context) (string, error) {
	now := w.now()

	row, err := w.Store.SelectOne(ctx, store.TableJobs, store.Params{
		"status": "eq." + string(domain.JobQueued),
		"order":  "created_at.asc",
		"limit":  "1",
	})
	if err != nil {
		return "", errors.Wrap(err, "select queued job")
	}
	claimFrom := domain.JobQueued

	if row == nil {
		cutoff := now.Add(-createdClaimGrace)
		row, err = w.Store.SelectOne(ctx, store.TableJobs, store.Params{
			"status":     "eq." + string(domain.JobCreated),
			"created_at": "lt." + cutoff.Format(time.RFC3339Nano),
			"order":      "created_at.desc",
			"limit":      "1",
		})
		if err != nil {
			return "", errors.Wrap(err, "select legacy created job")
		}
		claimFrom = domain.JobCreated
	}
	if row == nil {
		return "", nil
	}

	jobID := row.Str("id")
	claimed, err := w.Store.UpdateMany(ctx, store.TableJobs,
		store.Params{
			"id":     "eq." + jobID,
			"status": "eq." + string(claimFrom),
		},
		map[string]any{
			"status":     string(domain.JobProcessing),
			"updated_at": now,
		})
	if err != nil {
		return "", errors.Wrap(err, "claim job")
	}
	if len(claimed) == 0 {
		// another replica won the race
		return "", nil
	}
	return jobID, nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
