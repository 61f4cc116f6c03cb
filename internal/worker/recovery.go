package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/domain"
	"github.com/you/faceoff/internal/store"
)

// RecoveryCounts reports how many jobs a sweep actually requeued.
type RecoveryCounts struct {
	Processing int
	Seeding    int
}

// RecoverStale requeues jobs abandoned by a crashed worker or API process:
// processing jobs untouched longer than the processing staleness window, and
// seeding jobs whose creator never finished promoting them. Each requeue is a
// CAS, so concurrent sweeps never double-recover a job. Requeued processing
// jobs also get their in-flight stage rows reset to pending so the next run
// starts those stages cleanly.
func (w *Worker) RecoverStale(ctx context.Context) (RecoveryCounts, error) {
	var counts RecoveryCounts
	var errs error

	n, err := w.recoverStatus(ctx, domain.JobProcessing, w.Cfg.ProcessingStale, true)
	counts.Processing = n
	errs = multierr.Append(errs, err)

	n, err = w.recoverStatus(ctx, domain.JobSeeding, w.Cfg.SeedingStale, false)
	counts.Seeding = n
	errs = multierr.Append(errs, err)

	return counts, errs
}

func (w *Worker) recoverStatus(ctx context.Context, status domain.JobStatus, staleAfter time.Duration, resetStages bool) (int, error) {
	cutoff := w.now().Add(-staleAfter)
	rows, err := w.Store.SelectMany(ctx, store.TableJobs, store.Params{
		"status":     "eq." + string(status),
		"updated_at": "lt." + cutoff.Format(time.RFC3339Nano),
		"order":      "updated_at.asc",
		"limit":      itoa(w.Cfg.RecoveryMaxJobs),
		"select":     "id,updated_at",
	})
	if err != nil {
		return 0, errors.Wrapf(err, "list stale %s jobs", status)
	}

	recovered := 0
	for _, row := range rows {
		jobID := row.Str("id")
		claimed, err := w.Store.UpdateMany(ctx, store.TableJobs,
			store.Params{
				"id":     "eq." + jobID,
				"status": "eq." + string(status),
			},
			map[string]any{
				"status":     string(domain.JobQueued),
				"updated_at": w.now(),
			})
		if err != nil {
			return recovered, errors.Wrapf(err, "requeue job %s", jobID)
		}
		if len(claimed) == 0 {
			continue
		}
		recovered++
		w.Log.Info("requeued stale job",
			zap.String("job_id", jobID),
			zap.String("was", string(status)),
			zap.Time("last_touched", row.Time("updated_at")))

		if !resetStages {
			continue
		}
		_, err = w.Store.UpdateMany(ctx, store.TableJobStages,
			store.Params{
				"job_id": "eq." + jobID,
				"status": "eq." + string(domain.StageInProgress),
			},
			map[string]any{
				"status":       string(domain.StagePending),
				"started_at":   nil,
				"completed_at": nil,
			})
		if err != nil {
			return recovered, errors.Wrapf(err, "reset stages for job %s", jobID)
		}
	}
	return recovered, nil
}
