package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type JobStatus string

const (
	JobSeeding    JobStatus = "seeding"
	JobQueued     JobStatus = "queued"
	JobCreated    JobStatus = "created" // legacy alias of queued; tolerated, never produced
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageSkipped    StageStatus = "skipped"
	StageFailed     StageStatus = "failed"
)

// StageCount is fixed: the pipeline shape is visible from the moment a job is
// seeded, so stage rows are pre-created for all six stages.
const StageCount = 6

var stageNames = [StageCount]string{
	"listing_fetch",
	"main_image_ctr",
	"gallery_cvr",
	"text_alignment",
	"avatars",
	"verdict",
}

// StageName returns the fixed name for a stage number, or "stage_<n>" for an
// out-of-range number.
func StageName(n int) string {
	if n >= 0 && n < StageCount {
		return stageNames[n]
	}
	return "stage_" + strconv.Itoa(n)
}

// Job is one comparison request.
type Job struct {
	ID        string
	UserID    string
	ASINA     string
	ASINB     string
	Status    JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	// PromptVersionsPinned optionally maps prompt paths (or their short
	// top-level keys, possibly nested under "prompt_hashes") to sha256 hex
	// digests of the prompt text the job must be scored with.
	PromptVersionsPinned map[string]any
}

// Stage is one row of the per-job pipeline ledger.
type Stage struct {
	ID           string
	JobID        string
	StageNumber  int
	Status       StageStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Output       map[string]any
	ProviderUsed string
}

var asinRe = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// NormalizeASIN uppercases and trims a subject identifier and rejects anything
// that is not a 10-char alphanumeric code.
func NormalizeASIN(raw string) (string, error) {
	asin := strings.ToUpper(strings.TrimSpace(raw))
	if !asinRe.MatchString(asin) {
		return "", errors.Errorf("invalid ASIN %q: want 10 alphanumeric chars", raw)
	}
	return asin, nil
}
