package pipeline

import (
	"github.com/you/faceoff/internal/domain"
	"github.com/you/faceoff/internal/prompts"
	"github.com/you/faceoff/internal/provider"
)

// Stage outputs are tagged variants: one concrete type per stage number, each
// carrying its fixed stage_name and the provider that produced it. Internally
// constructed fallback records are well-formed by construction; the schema
// gate re-checks the shape whenever provider-derived data flowed in.

// StageOutput is what the orchestrator persists for a finished stage.
type StageOutput interface {
	// TerminalStatus is the stage-row status this output implies.
	TerminalStatus() domain.StageStatus
	// ProviderTag names the backend that produced the result.
	ProviderTag() string
}

// Reliability surfaces the retry budgets stage 0 ran with.
type Reliability struct {
	ActorMaxAttempts  int `json:"actor_max_attempts,omitempty"`
	DirectMaxAttempts int `json:"direct_max_attempts"`
}

type Stage0Output struct {
	StageName   string               `json:"stage_name"`
	OK          bool                 `json:"ok"`
	Provider    string               `json:"provider"`
	ActorID     string               `json:"actor_id,omitempty"`
	Reliability Reliability          `json:"reliability"`
	ASINA       provider.FetchResult `json:"asin_a"`
	ASINB       provider.FetchResult `json:"asin_b"`
}

func (o *Stage0Output) TerminalStatus() domain.StageStatus {
	if !o.OK {
		return domain.StageFailed
	}
	return domain.StageCompleted
}
func (o *Stage0Output) ProviderTag() string { return o.Provider }

// ImageSide is one listing's main-image evaluation.
type ImageSide struct {
	Image    *provider.ImageMeta `json:"image,omitempty"`
	Score    float64             `json:"score"`
	RawScore float64             `json:"raw_score_1_to_10,omitempty"`
}

type Stage1Output struct {
	StageName       string             `json:"stage_name"`
	Provider        string             `json:"provider"`
	Model           string             `json:"model,omitempty"`
	Status          string             `json:"status,omitempty"` // "skipped" when no main image
	Reason          string             `json:"reason,omitempty"`
	ASINA           *ImageSide         `json:"asin_a,omitempty"`
	ASINB           *ImageSide         `json:"asin_b,omitempty"`
	CTRWinner       string             `json:"ctr_winner,omitempty"`
	Confidence      float64            `json:"confidence,omitempty"`
	Evidence        []string           `json:"evidence,omitempty"`
	PromptIntegrity *prompts.Integrity `json:"prompt_integrity,omitempty"`
	FallbackReason  string             `json:"fallback_reason,omitempty"`
	Notes           []string           `json:"notes,omitempty"`
}

func (o *Stage1Output) TerminalStatus() domain.StageStatus {
	if o.Status == "skipped" {
		return domain.StageSkipped
	}
	return domain.StageCompleted
}
func (o *Stage1Output) ProviderTag() string { return o.Provider }

// GallerySide is one listing's gallery evaluation.
type GallerySide struct {
	GalleryURLsFound int                  `json:"gallery_urls_found"`
	SampledImages    []provider.ImageMeta `json:"sampled_images"`
	Score            float64              `json:"score"`
	RawScore         float64              `json:"raw_score_1_to_10,omitempty"`
}

type Stage2Output struct {
	StageName       string             `json:"stage_name"`
	Provider        string             `json:"provider"`
	Model           string             `json:"model,omitempty"`
	ASINA           GallerySide        `json:"asin_a"`
	ASINB           GallerySide        `json:"asin_b"`
	CVRWinner       string             `json:"cvr_winner"`
	Confidence      float64            `json:"confidence"`
	Evidence        []string           `json:"evidence,omitempty"`
	PromptIntegrity *prompts.Integrity `json:"prompt_integrity,omitempty"`
	FallbackReason  string             `json:"fallback_reason,omitempty"`
	Notes           []string           `json:"notes,omitempty"`
}

func (o *Stage2Output) TerminalStatus() domain.StageStatus { return domain.StageCompleted }
func (o *Stage2Output) ProviderTag() string                { return o.Provider }

// TextMetrics is the deterministic text evaluation for one listing.
type TextMetrics struct {
	Score              float64 `json:"score"`
	RawScore           float64 `json:"raw_score_1_to_10,omitempty"`
	TitleLen           int     `json:"title_len"`
	TitleWords         int     `json:"title_words"`
	BulletCount        int     `json:"bullet_count"`
	AvgBulletWords     float64 `json:"avg_bullet_words"`
	TitleLenScore      float64 `json:"title_len_score"`
	BulletCountScore   float64 `json:"bullet_count_score"`
	BulletQualityScore float64 `json:"bullet_quality_score"`
}

type TextSide struct {
	Metrics TextMetrics `json:"metrics"`
	Title   string      `json:"title,omitempty"`
	Bullets []string    `json:"bullets,omitempty"`
}

type Stage3Output struct {
	StageName       string             `json:"stage_name"`
	Provider        string             `json:"provider"`
	Model           string             `json:"model,omitempty"`
	ASINA           TextSide           `json:"asin_a"`
	ASINB           TextSide           `json:"asin_b"`
	TextWinner      string             `json:"text_winner"`
	Confidence      float64            `json:"confidence"`
	Analysis        string             `json:"analysis,omitempty"`
	KeywordOverlap  []string           `json:"keyword_overlap,omitempty"`
	PromptIntegrity *prompts.Integrity `json:"prompt_integrity,omitempty"`
	FallbackReason  string             `json:"fallback_reason,omitempty"`
	Notes           []string           `json:"notes,omitempty"`
}

func (o *Stage3Output) TerminalStatus() domain.StageStatus { return domain.StageCompleted }
func (o *Stage3Output) ProviderTag() string                { return o.Provider }

// Avatar is one synthesized buyer persona.
type Avatar struct {
	Name             string   `json:"name"`
	CaresAbout       []string `json:"cares_about,omitempty"`
	LeansTo          string   `json:"leans_to"`
	Why              string   `json:"why,omitempty"`
	DerivedFrom      string   `json:"derived_from,omitempty"`
	CTRReaction      string   `json:"ctr_reaction,omitempty"`
	CVRReaction      string   `json:"cvr_reaction,omitempty"`
	PrimaryObjection string   `json:"primary_objection,omitempty"`
	FixSuggestion    string   `json:"fix_suggestion,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
	KeyFactors       []string `json:"key_factors,omitempty"`
}

type Stage4Output struct {
	StageName       string             `json:"stage_name"`
	Provider        string             `json:"provider"`
	Model           string             `json:"model,omitempty"`
	Avatars         []Avatar           `json:"avatars"`
	PromptIntegrity *prompts.Integrity `json:"prompt_integrity,omitempty"`
	FallbackReason  string             `json:"fallback_reason,omitempty"`
	Notes           []string           `json:"notes,omitempty"`
}

func (o *Stage4Output) TerminalStatus() domain.StageStatus { return domain.StageCompleted }
func (o *Stage4Output) ProviderTag() string                { return o.Provider }

// SideTotals is the per-listing score breakdown in the verdict.
type SideTotals struct {
	Image   float64 `json:"image"`
	Gallery float64 `json:"gallery"`
	Text    float64 `json:"text"`
	Total   float64 `json:"total"`
}

// Fix is one prioritized improvement suggestion for the losing listing.
type Fix struct {
	Priority int    `json:"priority"`
	Title    string `json:"title"`
	Reason   string `json:"reason"`
}

type VerdictScores struct {
	ASINA SideTotals `json:"asin_a"`
	ASINB SideTotals `json:"asin_b"`
}

type Stage5Output struct {
	StageName        string            `json:"stage_name"`
	Provider         string            `json:"provider"`
	JobID            string            `json:"job_id"`
	ASINA            string            `json:"asin_a"`
	ASINB            string            `json:"asin_b"`
	Scores           VerdictScores     `json:"scores"`
	Winner           string            `json:"winner"`
	Confidence       float64           `json:"confidence"`
	ProviderSummary  map[string]string `json:"provider_summary"`
	AvatarsSummary   []string          `json:"avatars_summary,omitempty"`
	PrioritizedFixes []Fix             `json:"prioritized_fixes"`
	Notes            []string          `json:"notes,omitempty"`
}

func (o *Stage5Output) TerminalStatus() domain.StageStatus { return domain.StageCompleted }
func (o *Stage5Output) ProviderTag() string                { return o.Provider }
