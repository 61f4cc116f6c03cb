package pipeline

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/domain"
	"github.com/you/faceoff/internal/provider"
	"github.com/you/faceoff/internal/store"
)

// memStore is an in-memory Store good enough for orchestration tests: it
// understands eq. predicates and ignores ordering.
type memStore struct {
	mu     sync.Mutex
	tables map[string][]store.Row
}

func newMemStore() *memStore {
	return &memStore{tables: map[string][]store.Row{}}
}

func (m *memStore) InsertOne(ctx context.Context, table string, row map[string]any) (store.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := store.Row{}
	for k, v := range row {
		cp[k] = v
	}
	m.tables[table] = append(m.tables[table], cp)
	return cp, nil
}

func (m *memStore) SelectMany(ctx context.Context, table string, params store.Params) ([]store.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Row
	for _, row := range m.tables[table] {
		if matches(row, params) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memStore) SelectOne(ctx context.Context, table string, params store.Params) (store.Row, error) {
	rows, err := m.SelectMany(ctx, table, params)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (m *memStore) UpdateMany(ctx context.Context, table string, match store.Params, patch map[string]any) ([]store.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Row
	for _, row := range m.tables[table] {
		if matches(row, match) {
			for k, v := range patch {
				row[k] = v
			}
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memStore) DeleteMany(ctx context.Context, table string, match store.Params) ([]store.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []store.Row
	var out []store.Row
	for _, row := range m.tables[table] {
		if matches(row, match) {
			out = append(out, row)
			continue
		}
		kept = append(kept, row)
	}
	m.tables[table] = kept
	return out, nil
}

func matches(row store.Row, params store.Params) bool {
	for k, v := range params {
		switch k {
		case "select", "order", "limit":
			continue
		}
		if !strings.HasPrefix(v, "eq.") {
			return false
		}
		want := strings.TrimPrefix(v, "eq.")
		switch actual := row[k].(type) {
		case string:
			if actual != want {
				return false
			}
		case int:
			if strconv.Itoa(actual) != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (m *memStore) stage(t *testing.T, jobID string, n int) store.Row {
	t.Helper()
	row, err := m.SelectOne(context.Background(), store.TableJobStages, store.Params{
		"job_id":       "eq." + jobID,
		"stage_number": "eq." + strconv.Itoa(n),
	})
	require.NoError(t, err)
	require.NotNil(t, row, "stage %d row missing", n)
	return row
}

func (m *memStore) seedJob(job *domain.Job) {
	_, _ = m.InsertOne(context.Background(), store.TableJobs, map[string]any{
		"id":         job.ID,
		"user_id":    job.UserID,
		"asin_a":     job.ASINA,
		"asin_b":     job.ASINB,
		"status":     string(job.Status),
		"created_at": time.Now().UTC(),
		"updated_at": time.Now().UTC(),
	})
}

// scriptedStages returns canned outputs or errors per stage.
type scriptedStages struct {
	s0   *Stage0Output
	s1   *Stage1Output
	s2   *Stage2Output
	s3   *Stage3Output
	s4   *Stage4Output
	s5   *Stage5Output
	errs map[int]error
}

func (f *scriptedStages) Stage0(ctx context.Context, job *domain.Job) (*Stage0Output, error) {
	return f.s0, f.errs[0]
}
func (f *scriptedStages) Stage1(ctx context.Context, job *domain.Job, s0 *Stage0Output) (*Stage1Output, error) {
	return f.s1, f.errs[1]
}
func (f *scriptedStages) Stage2(ctx context.Context, job *domain.Job, s0 *Stage0Output) (*Stage2Output, error) {
	return f.s2, f.errs[2]
}
func (f *scriptedStages) Stage3(ctx context.Context, job *domain.Job, s0 *Stage0Output) (*Stage3Output, error) {
	return f.s3, f.errs[3]
}
func (f *scriptedStages) Stage4(ctx context.Context, job *domain.Job, s1 *Stage1Output, s2 *Stage2Output, s3 *Stage3Output) (*Stage4Output, error) {
	return f.s4, f.errs[4]
}
func (f *scriptedStages) Stage5(ctx context.Context, job *domain.Job, s0 *Stage0Output, s1 *Stage1Output, s2 *Stage2Output, s3 *Stage3Output, s4 *Stage4Output) (*Stage5Output, error) {
	return f.s5, f.errs[5]
}

func happyScript(job *domain.Job) *scriptedStages {
	s1, s2, s3, s4 := goldenInputs()
	return &scriptedStages{
		s0: &Stage0Output{
			StageName: domain.StageName(0),
			OK:        true,
			Provider:  "direct_html",
			ASINA:     provider.FetchResult{ASIN: job.ASINA, OK: true},
			ASINB:     provider.FetchResult{ASIN: job.ASINB, OK: true},
		},
		s1: s1,
		s2: s2,
		s3: s3,
		s4: s4,
		s5: &Stage5Output{
			StageName:        domain.StageName(5),
			Provider:         "deterministic",
			JobID:            job.ID,
			ASINA:            job.ASINA,
			ASINB:            job.ASINB,
			Winner:           "A",
			Confidence:       0.09,
			Scores:           VerdictScores{ASINA: SideTotals{0.74, 0.66, 0.61, 0.677}, ASINB: SideTotals{0.62, 0.58, 0.55, 0.587}},
			ProviderSummary:  map[string]string{},
			PrioritizedFixes: []Fix{},
		},
		errs: map[int]error{},
	}
}

func newTestRunner(st store.Store, stages StageRunner) *Runner {
	return &Runner{Store: st, Stages: stages, Log: zap.NewNop()}
}

func TestRunJobNotFound(t *testing.T) {
	r := newTestRunner(newMemStore(), &scriptedStages{errs: map[int]error{}})
	res, err := r.Run(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, "not_found", res.Status)
}

func TestRunCompletes(t *testing.T) {
	ms := newMemStore()
	job := testJob()
	ms.seedJob(job)
	r := newTestRunner(ms, happyScript(job))

	res, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.JobCompleted), res.Status)

	jobRow, err := ms.SelectOne(context.Background(), store.TableJobs, store.Params{"id": "eq." + job.ID})
	require.NoError(t, err)
	assert.Equal(t, string(domain.JobCompleted), jobRow.Str("status"))

	for n := 0; n < domain.StageCount; n++ {
		row := ms.stage(t, job.ID, n)
		assert.Equal(t, string(domain.StageCompleted), row.Str("status"), "stage %d", n)
		assert.NotEmpty(t, row.Str("provider_used"), "stage %d", n)
		assert.NotNil(t, row["started_at"], "stage %d", n)
		assert.NotNil(t, row["completed_at"], "stage %d", n)
	}
}

func TestRunStage0Fatal(t *testing.T) {
	ms := newMemStore()
	job := testJob()
	ms.seedJob(job)
	script := happyScript(job)
	script.s0.OK = false
	r := newTestRunner(ms, script)

	res, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.JobFailed), res.Status)

	assert.Equal(t, string(domain.StageFailed), ms.stage(t, job.ID, 0).Str("status"))
	// downstream stages never started
	for n := 1; n < domain.StageCount; n++ {
		assert.Equal(t, string(domain.StagePending), ms.stage(t, job.ID, n).Str("status"), "stage %d", n)
	}
}

func TestRunStage1FailureIsIsolated(t *testing.T) {
	ms := newMemStore()
	job := testJob()
	ms.seedJob(job)
	script := happyScript(job)
	script.errs[1] = errors.New("vision provider exploded")
	r := newTestRunner(ms, script)

	res, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.JobCompleted), res.Status)

	failed := ms.stage(t, job.ID, 1)
	assert.Equal(t, string(domain.StageFailed), failed.Str("status"))
	rec, ok := failed["output"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, domain.StageName(1), rec["stage_name"])
	assert.Contains(t, rec["error"], "vision provider exploded")

	assert.Equal(t, string(domain.StageCompleted), ms.stage(t, job.ID, 2).Str("status"))
	assert.Equal(t, string(domain.StageCompleted), ms.stage(t, job.ID, 3).Str("status"))
	assert.Equal(t, string(domain.StageCompleted), ms.stage(t, job.ID, 5).Str("status"))
}

func TestRunStage5Fatal(t *testing.T) {
	ms := newMemStore()
	job := testJob()
	ms.seedJob(job)
	script := happyScript(job)
	script.errs[5] = errors.New("fold broke")
	r := newTestRunner(ms, script)

	res, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.JobFailed), res.Status)
	assert.Equal(t, string(domain.StageFailed), ms.stage(t, job.ID, 5).Str("status"))
}

func TestRunSkippedStagePersistsAsSkipped(t *testing.T) {
	ms := newMemStore()
	job := testJob()
	ms.seedJob(job)
	script := happyScript(job)
	script.s1 = &Stage1Output{
		StageName: domain.StageName(1),
		Provider:  "none",
		Status:    "skipped",
		Reason:    "main image missing for at least one listing",
	}
	r := newTestRunner(ms, script)

	res, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.JobCompleted), res.Status)
	assert.Equal(t, string(domain.StageSkipped), ms.stage(t, job.ID, 1).Str("status"))
}

func TestRunValidationFailureFailsStage(t *testing.T) {
	ms := newMemStore()
	job := testJob()
	ms.seedJob(job)
	script := happyScript(job)
	// only two personas: violates the exactly-3 contract
	script.s4.Avatars = script.s4.Avatars[:2]
	r := newTestRunner(ms, script)

	res, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.JobCompleted), res.Status)

	failed := ms.stage(t, job.ID, 4)
	assert.Equal(t, string(domain.StageFailed), failed.Str("status"))
	rec, ok := failed["output"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, rec["error"], "failed validation")
}

func TestRunPreseededStageRowsNotDuplicated(t *testing.T) {
	ms := newMemStore()
	job := testJob()
	ms.seedJob(job)
	for n := 0; n < domain.StageCount; n++ {
		_, err := ms.InsertOne(context.Background(), store.TableJobStages, map[string]any{
			"job_id":       job.ID,
			"stage_number": n,
			"status":       string(domain.StagePending),
		})
		require.NoError(t, err)
	}
	r := newTestRunner(ms, happyScript(job))

	_, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)

	rows, err := ms.SelectMany(context.Background(), store.TableJobStages, store.Params{"job_id": "eq." + job.ID})
	require.NoError(t, err)
	assert.Len(t, rows, domain.StageCount)
}
