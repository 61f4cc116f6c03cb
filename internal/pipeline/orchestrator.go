package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/faceoff/internal/domain"
	"github.com/you/faceoff/internal/store"
	"github.com/you/faceoff/internal/telemetry"
)

// StageRunner is the stage implementation the orchestrator drives. Split out
// so orchestration can be tested without providers.
type StageRunner interface {
	Stage0(ctx context.Context, job *domain.Job) (*Stage0Output, error)
	Stage1(ctx context.Context, job *domain.Job, s0 *Stage0Output) (*Stage1Output, error)
	Stage2(ctx context.Context, job *domain.Job, s0 *Stage0Output) (*Stage2Output, error)
	Stage3(ctx context.Context, job *domain.Job, s0 *Stage0Output) (*Stage3Output, error)
	Stage4(ctx context.Context, job *domain.Job, s1 *Stage1Output, s2 *Stage2Output, s3 *Stage3Output) (*Stage4Output, error)
	Stage5(ctx context.Context, job *domain.Job, s0 *Stage0Output, s1 *Stage1Output, s2 *Stage2Output, s3 *Stage3Output, s4 *Stage4Output) (*Stage5Output, error)
}

// RunResult is the terminal outcome of one pipeline run.
type RunResult struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"` // completed | failed | not_found
}

// Runner executes the full pipeline for one claimed job: stage 0 gates the
// run, stages 1-3 fan out concurrently and fail in isolation, stage 4 is
// defensive about missing inputs, and stage 5 is fatal because a job without
// a verdict is worthless.
type Runner struct {
	Store     store.Store
	Stages    StageRunner
	Telemetry *telemetry.Emitter
	Log       *zap.Logger
	Now       func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Run drives one job to a terminal status. It returns an error only for store
// failures; stage failures resolve to a failed job, not an error.
func (r *Runner) Run(ctx context.Context, jobID string) (RunResult, error) {
	job, err := r.loadJob(ctx, jobID)
	if err != nil {
		return RunResult{}, err
	}
	if job == nil {
		r.Log.Warn("job vanished before run", zap.String("job_id", jobID))
		return RunResult{JobID: jobID, Status: "not_found"}, nil
	}
	log := r.Log.With(zap.String("job_id", job.ID))

	if err := r.ensureStageRows(ctx, job.ID); err != nil {
		return RunResult{}, err
	}
	if err := r.setJobStatus(ctx, job.ID, domain.JobProcessing); err != nil {
		return RunResult{}, err
	}
	r.emit(job, "pipeline_started", nil, map[string]any{
		"asin_a": job.ASINA,
		"asin_b": job.ASINB,
	})

	// Stage 0: sequential and fatal.
	var s0 *Stage0Output
	out, err := r.runStage(ctx, job, 0, func(ctx context.Context) (StageOutput, error) {
		return r.Stages.Stage0(ctx, job)
	})
	if err != nil {
		return RunResult{}, err
	}
	if out != nil {
		s0 = out.(*Stage0Output)
	}
	if s0 == nil || !s0.OK {
		return r.failJob(ctx, job, 0, log)
	}

	// Stages 1-3: concurrent, each failure isolated to its own stage row.
	var s1 *Stage1Output
	var s2 *Stage2Output
	var s3 *Stage3Output
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := r.runStage(gctx, job, 1, func(ctx context.Context) (StageOutput, error) {
			return r.Stages.Stage1(ctx, job, s0)
		})
		if out != nil {
			s1 = out.(*Stage1Output)
		}
		return err
	})
	g.Go(func() error {
		out, err := r.runStage(gctx, job, 2, func(ctx context.Context) (StageOutput, error) {
			return r.Stages.Stage2(ctx, job, s0)
		})
		if out != nil {
			s2 = out.(*Stage2Output)
		}
		return err
	})
	g.Go(func() error {
		out, err := r.runStage(gctx, job, 3, func(ctx context.Context) (StageOutput, error) {
			return r.Stages.Stage3(ctx, job, s0)
		})
		if out != nil {
			s3 = out.(*Stage3Output)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return RunResult{}, err
	}

	// Stage 4: best-effort; missing upstream outputs are tolerated inside.
	var s4 *Stage4Output
	out, err = r.runStage(ctx, job, 4, func(ctx context.Context) (StageOutput, error) {
		return r.Stages.Stage4(ctx, job, s1, s2, s3)
	})
	if err != nil {
		return RunResult{}, err
	}
	if out != nil {
		s4 = out.(*Stage4Output)
	}

	// Stage 5: fatal; no verdict means no job.
	var s5 *Stage5Output
	out, err = r.runStage(ctx, job, 5, func(ctx context.Context) (StageOutput, error) {
		return r.Stages.Stage5(ctx, job, s0, s1, s2, s3, s4)
	})
	if err != nil {
		return RunResult{}, err
	}
	if out != nil {
		s5 = out.(*Stage5Output)
	}
	if s5 == nil {
		return r.failJob(ctx, job, 5, log)
	}

	if err := r.setJobStatus(ctx, job.ID, domain.JobCompleted); err != nil {
		return RunResult{}, err
	}
	r.emit(job, "pipeline_completed", nil, map[string]any{
		"winner":     s5.Winner,
		"confidence": s5.Confidence,
	})
	log.Info("pipeline completed",
		zap.String("winner", s5.Winner),
		zap.Float64("confidence", s5.Confidence))
	return RunResult{JobID: job.ID, Status: string(domain.JobCompleted)}, nil
}

// runStage wraps one stage execution with row bookkeeping: mark in_progress,
// run, gate the output through the schema, and persist the terminal state.
// A stage failure is absorbed into its row (nil output, nil error); only store
// failures surface as errors.
func (r *Runner) runStage(ctx context.Context, job *domain.Job, n int, fn func(ctx context.Context) (StageOutput, error)) (StageOutput, error) {
	started := r.now()
	if err := r.markStage(ctx, job.ID, n, map[string]any{
		"status":       string(domain.StageInProgress),
		"started_at":   started,
		"completed_at": nil,
	}); err != nil {
		return nil, err
	}

	out, err := fn(ctx)
	if err == nil && out != nil {
		err = Validate(n, out)
	}
	if err == nil && out == nil {
		err = errors.Errorf("stage %d returned no output", n)
	}
	completed := r.now()
	durMS := completed.Sub(started).Milliseconds()

	if err != nil {
		rec := map[string]any{
			"stage_name": domain.StageName(n),
			"error":      err.Error(),
		}
		if n == 0 {
			rec["ok"] = false
		}
		if serr := r.markStage(ctx, job.ID, n, map[string]any{
			"status":       string(domain.StageFailed),
			"completed_at": completed,
			"output":       rec,
		}); serr != nil {
			return nil, serr
		}
		r.emitStage(job, n, string(domain.StageFailed), "", durMS, err.Error())
		r.Log.Warn("stage failed",
			zap.String("job_id", job.ID),
			zap.Int("stage", n),
			zap.String("stage_name", domain.StageName(n)),
			zap.Error(err))
		return nil, nil
	}

	status := out.TerminalStatus()
	if serr := r.markStage(ctx, job.ID, n, map[string]any{
		"status":        string(status),
		"completed_at":  completed,
		"output":        out,
		"provider_used": out.ProviderTag(),
	}); serr != nil {
		return nil, serr
	}
	r.emitStage(job, n, string(status), out.ProviderTag(), durMS, "")
	return out, nil
}

func (r *Runner) failJob(ctx context.Context, job *domain.Job, failedStage int, log *zap.Logger) (RunResult, error) {
	if err := r.setJobStatus(ctx, job.ID, domain.JobFailed); err != nil {
		return RunResult{}, err
	}
	r.emit(job, "pipeline_failed", nil, map[string]any{
		"failed_stage":      failedStage,
		"failed_stage_name": domain.StageName(failedStage),
	})
	log.Warn("pipeline failed",
		zap.Int("failed_stage", failedStage),
		zap.String("failed_stage_name", domain.StageName(failedStage)))
	return RunResult{JobID: job.ID, Status: string(domain.JobFailed)}, nil
}

func (r *Runner) loadJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row, err := r.Store.SelectOne(ctx, store.TableJobs, store.Params{"id": "eq." + jobID})
	if err != nil {
		return nil, errors.Wrap(err, "load job")
	}
	if row == nil {
		return nil, nil
	}
	return jobFromRow(row), nil
}

func jobFromRow(row store.Row) *domain.Job {
	return &domain.Job{
		ID:                   row.Str("id"),
		UserID:               row.Str("user_id"),
		ASINA:                row.Str("asin_a"),
		ASINB:                row.Str("asin_b"),
		Status:               domain.JobStatus(row.Str("status")),
		CreatedAt:            row.Time("created_at"),
		UpdatedAt:            row.Time("updated_at"),
		PromptVersionsPinned: row.Map("prompt_versions_pinned"),
	}
}

// ensureStageRows pre-creates the six stage rows for a job. Rows that already
// exist (a re-run after recovery) are left alone.
func (r *Runner) ensureStageRows(ctx context.Context, jobID string) error {
	rows, err := r.Store.SelectMany(ctx, store.TableJobStages, store.Params{
		"job_id": "eq." + jobID,
		"select": "stage_number",
	})
	if err != nil {
		return errors.Wrap(err, "list stage rows")
	}
	have := map[int]bool{}
	for _, row := range rows {
		have[row.Int("stage_number")] = true
	}
	for n := 0; n < domain.StageCount; n++ {
		if have[n] {
			continue
		}
		_, err := r.Store.InsertOne(ctx, store.TableJobStages, map[string]any{
			"job_id":       jobID,
			"stage_number": n,
			"status":       string(domain.StagePending),
			"output":       map[string]any{"stage_name": domain.StageName(n)},
		})
		if err != nil {
			return errors.Wrapf(err, "seed stage row %d", n)
		}
	}
	return nil
}

func (r *Runner) setJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	_, err := r.Store.UpdateMany(ctx, store.TableJobs,
		store.Params{"id": "eq." + jobID},
		map[string]any{"status": string(status), "updated_at": r.now()})
	return errors.Wrapf(err, "set job %s", status)
}

func (r *Runner) markStage(ctx context.Context, jobID string, n int, patch map[string]any) error {
	_, err := r.Store.UpdateMany(ctx, store.TableJobStages,
		store.Params{"job_id": "eq." + jobID, "stage_number": "eq." + strconv.Itoa(n)},
		patch)
	return errors.Wrapf(err, "mark stage %d", n)
}

func (r *Runner) emit(job *domain.Job, name string, stage *int, props map[string]any) {
	if r.Telemetry == nil {
		return
	}
	r.Telemetry.Emit(telemetry.Event{
		UserID:      job.UserID,
		JobID:       job.ID,
		EventName:   name,
		StageNumber: stage,
		Properties:  props,
	})
}

func (r *Runner) emitStage(job *domain.Job, n int, status, provider string, durMS int64, errMsg string) {
	props := map[string]any{
		"stage_name":  domain.StageName(n),
		"status":      status,
		"duration_ms": durMS,
	}
	if provider != "" {
		props["provider"] = provider
	}
	if errMsg != "" {
		props["error"] = errMsg
	}
	r.emit(job, "stage_"+status, &n, props)
}
