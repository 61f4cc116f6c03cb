package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/faceoff/internal/domain"
	"github.com/you/faceoff/internal/prompts"
	"github.com/you/faceoff/internal/provider"
)

// ListingFetcher fetches one listing by ASIN.
type ListingFetcher interface {
	Fetch(ctx context.Context, asin string) provider.FetchResult
}

// ImageProber downloads at most maxBytes of one image and reports what it got.
type ImageProber interface {
	Fetch(ctx context.Context, url string, maxBytes int) provider.ImageMeta
}

// ListingCache is the optional cache tier in front of listing fetches.
type ListingCache interface {
	Get(ctx context.Context, asin string) (*provider.FetchResult, bool)
	Put(ctx context.Context, asin string, res provider.FetchResult)
}

const (
	gallerySampleMax     = 4
	galleryImageMaxBytes = 200_000
	keywordOverlapMax    = 20
	avatarCount          = 3
)

// Stages implements the six pipeline stages against the configured provider
// adapters. Stages 1-4 prefer the external scorer and fall back to the
// deterministic heuristics on provider failure; a prompt integrity violation
// is never swallowed by the fallback.
type Stages struct {
	Actor  ListingFetcher // nil disables the managed actor path
	Direct ListingFetcher
	Images ImageProber
	Scorer provider.Scorer // nil means heuristics-only scoring
	Cache  ListingCache    // nil disables listing caching
	Lib    *prompts.Library
	Log    *zap.Logger

	ActorID      string
	VisionModel  string
	TextModel    string
	ActorPolicy  provider.RetryPolicy
	DirectPolicy provider.RetryPolicy
}

// Stage0 fetches both listings concurrently. The job cannot proceed unless
// both sides produced a usable listing.
func (s *Stages) Stage0(ctx context.Context, job *domain.Job) (*Stage0Output, error) {
	var resA, resB provider.FetchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resA = s.fetchListing(gctx, job.ASINA)
		return nil
	})
	g.Go(func() error {
		resB = s.fetchListing(gctx, job.ASINB)
		return nil
	})
	_ = g.Wait()

	out := &Stage0Output{
		StageName: domain.StageName(0),
		OK:        resA.OK && resB.OK,
		Provider:  joinProviders(resA.Provider, resB.Provider),
		Reliability: Reliability{
			DirectMaxAttempts: s.DirectPolicy.MaxAttempts,
		},
		ASINA: resA,
		ASINB: resB,
	}
	if s.Actor != nil {
		out.ActorID = s.ActorID
		out.Reliability.ActorMaxAttempts = s.ActorPolicy.MaxAttempts
	}
	return out, nil
}

func (s *Stages) fetchListing(ctx context.Context, asin string) provider.FetchResult {
	if s.Cache != nil {
		if cached, ok := s.Cache.Get(ctx, asin); ok {
			cached.Cached = true
			return *cached
		}
	}

	var res provider.FetchResult
	if s.Actor != nil {
		res = provider.Reliably(ctx, s.ActorPolicy, func(ctx context.Context) provider.FetchResult {
			return s.Actor.Fetch(ctx, asin)
		})
		if !res.OK {
			actorErr := res.Error
			actorAttempts := res.Attempts
			res = provider.Reliably(ctx, s.DirectPolicy, func(ctx context.Context) provider.FetchResult {
				return s.Direct.Fetch(ctx, asin)
			})
			res.Provider = "direct_html_fallback"
			res.ActorError = actorErr
			res.ActorAttempts = actorAttempts
		}
	} else {
		res = provider.Reliably(ctx, s.DirectPolicy, func(ctx context.Context) provider.FetchResult {
			return s.Direct.Fetch(ctx, asin)
		})
	}

	if s.Cache != nil && res.OK {
		s.Cache.Put(ctx, asin, res)
	}
	return res
}

// Stage1 compares the two main images for click-through appeal. When either
// listing has no main image the stage is skipped rather than failed.
func (s *Stages) Stage1(ctx context.Context, job *domain.Job, s0 *Stage0Output) (*Stage1Output, error) {
	if s0 == nil || s0.ASINA.MainImageURL == "" || s0.ASINB.MainImageURL == "" {
		return &Stage1Output{
			StageName: domain.StageName(1),
			Provider:  "none",
			Status:    "skipped",
			Reason:    "main image missing for at least one listing",
		}, nil
	}

	var metaA, metaB provider.ImageMeta
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		metaA = s.Images.Fetch(gctx, s0.ASINA.MainImageURL, provider.DefaultImageMaxBytes)
		return nil
	})
	g.Go(func() error {
		metaB = s.Images.Fetch(gctx, s0.ASINB.MainImageURL, provider.DefaultImageMaxBytes)
		return nil
	})
	_ = g.Wait()

	heurA := imageScore(metaA)
	heurB := imageScore(metaB)
	out := &Stage1Output{
		StageName:  domain.StageName(1),
		Provider:   "heuristics",
		ASINA:      &ImageSide{Image: &metaA, Score: heurA},
		ASINB:      &ImageSide{Image: &metaB, Score: heurB},
		CTRWinner:  PickWithMargin(heurA, heurB, WinnerMargin),
		Confidence: round3(clamp01(abs(heurA-heurB) * 2)),
	}
	if s.Scorer == nil {
		return out, nil
	}

	prompt, integ, err := s.Lib.LoadWithIntegrity(job.PromptVersionsPinned, prompts.VisionCTR)
	if err != nil {
		return nil, err
	}
	parts := []llms.ContentPart{
		llms.TextPart("Image 1 is ASIN A's main image. Image 2 is ASIN B's main image."),
		llms.ImageURLPart(s0.ASINA.MainImageURL),
		llms.ImageURLPart(s0.ASINB.MainImageURL),
	}
	obj, cerr := s.Scorer.ChatJSON(ctx, s.VisionModel, prompt, parts)
	if cerr != nil {
		s.fellBack(1, cerr)
		out.Provider = "heuristics_fallback"
		out.FallbackReason = cerr.Error()
		return out, nil
	}
	rawA, rawB := safeFloat(obj["ctr_score_a"]), safeFloat(obj["ctr_score_b"])
	if rawA <= 0 || rawB <= 0 {
		out.Provider = "heuristics_fallback"
		out.FallbackReason = "model response missing scores"
		return out, nil
	}

	out.Provider = "openai_vision"
	out.Model = s.VisionModel
	out.PromptIntegrity = &integ
	out.ASINA.Score = round3(clamp01(rawA / 10))
	out.ASINA.RawScore = rawA
	out.ASINB.Score = round3(clamp01(rawB / 10))
	out.ASINB.RawScore = rawB
	out.CTRWinner = normalizeWinner(obj["ctr_winner"])
	if out.CTRWinner == "" {
		out.CTRWinner = PickWithMargin(out.ASINA.Score, out.ASINB.Score, WinnerMargin)
	}
	out.Confidence = round3(clamp01(safeFloat(obj["confidence"])))
	out.Evidence = stringSlice(obj["evidence"])
	return out, nil
}

// Stage2 compares the two image galleries for conversion potential on the
// detail page. Only a bounded sample of each gallery is downloaded.
func (s *Stages) Stage2(ctx context.Context, job *domain.Job, s0 *Stage0Output) (*Stage2Output, error) {
	urlsA, urlsB := dedupeGallery(s0.ASINA.ImageURLs), dedupeGallery(s0.ASINB.ImageURLs)

	var sampledA, sampledB []provider.ImageMeta
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sampledA = s.sampleGallery(gctx, urlsA)
		return nil
	})
	g.Go(func() error {
		sampledB = s.sampleGallery(gctx, urlsB)
		return nil
	})
	_ = g.Wait()

	heurA := galleryScore(len(urlsA), sampledA)
	heurB := galleryScore(len(urlsB), sampledB)
	out := &Stage2Output{
		StageName:  domain.StageName(2),
		Provider:   "heuristics",
		ASINA:      GallerySide{GalleryURLsFound: len(urlsA), SampledImages: sampledA, Score: heurA},
		ASINB:      GallerySide{GalleryURLsFound: len(urlsB), SampledImages: sampledB, Score: heurB},
		CVRWinner:  PickWithMargin(heurA, heurB, WinnerMargin),
		Confidence: round3(clamp01(abs(heurA-heurB) * 2)),
	}
	okImages := func(metas []provider.ImageMeta) int {
		n := 0
		for _, m := range metas {
			if m.OK {
				n++
			}
		}
		return n
	}
	if s.Scorer == nil || okImages(sampledA) == 0 || okImages(sampledB) == 0 {
		return out, nil
	}

	prompt, integ, err := s.Lib.LoadWithIntegrity(job.PromptVersionsPinned, prompts.VisionPDP)
	if err != nil {
		return nil, err
	}
	parts := []llms.ContentPart{
		llms.TextPart(fmt.Sprintf(
			"The first %d images belong to ASIN A's gallery; the remaining %d belong to ASIN B's gallery.",
			okImages(sampledA), okImages(sampledB))),
	}
	for _, m := range sampledA {
		if m.OK {
			parts = append(parts, llms.ImageURLPart(m.URL))
		}
	}
	for _, m := range sampledB {
		if m.OK {
			parts = append(parts, llms.ImageURLPart(m.URL))
		}
	}
	obj, cerr := s.Scorer.ChatJSON(ctx, s.VisionModel, prompt, parts)
	if cerr != nil {
		s.fellBack(2, cerr)
		out.Provider = "heuristics_fallback"
		out.FallbackReason = cerr.Error()
		return out, nil
	}
	rawA, rawB := safeFloat(obj["cvr_vision_score_a"]), safeFloat(obj["cvr_vision_score_b"])
	if rawA <= 0 || rawB <= 0 {
		out.Provider = "heuristics_fallback"
		out.FallbackReason = "model response missing scores"
		return out, nil
	}

	out.Provider = "openai_vision"
	out.Model = s.VisionModel
	out.PromptIntegrity = &integ
	out.ASINA.Score = round3(clamp01(rawA / 10))
	out.ASINA.RawScore = rawA
	out.ASINB.Score = round3(clamp01(rawB / 10))
	out.ASINB.RawScore = rawB
	out.CVRWinner = normalizeWinner(obj["cvr_vision_winner"])
	if out.CVRWinner == "" {
		out.CVRWinner = PickWithMargin(out.ASINA.Score, out.ASINB.Score, WinnerMargin)
	}
	out.Confidence = round3(clamp01(safeFloat(obj["confidence"])))
	out.Evidence = stringSlice(obj["evidence"])
	return out, nil
}

// Stage3 compares titles and bullets for clarity and buyer alignment.
func (s *Stages) Stage3(ctx context.Context, job *domain.Job, s0 *Stage0Output) (*Stage3Output, error) {
	metricsA := textMetrics(s0.ASINA.Title, s0.ASINA.Bullets)
	metricsB := textMetrics(s0.ASINB.Title, s0.ASINB.Bullets)

	out := &Stage3Output{
		StageName:      domain.StageName(3),
		Provider:       "heuristics",
		ASINA:          TextSide{Metrics: metricsA, Title: s0.ASINA.Title, Bullets: s0.ASINA.Bullets},
		ASINB:          TextSide{Metrics: metricsB, Title: s0.ASINB.Title, Bullets: s0.ASINB.Bullets},
		TextWinner:     PickWithMargin(metricsA.Score, metricsB.Score, WinnerMargin),
		Confidence:     round3(clamp01(abs(metricsA.Score-metricsB.Score) * 2)),
		KeywordOverlap: keywordOverlap(s0.ASINA, s0.ASINB, keywordOverlapMax),
	}
	if s.Scorer == nil {
		return out, nil
	}

	prompt, integ, err := s.Lib.LoadWithIntegrity(job.PromptVersionsPinned, prompts.TextAlign)
	if err != nil {
		return nil, err
	}
	payload, merr := json.Marshal(map[string]any{
		"asin_a": map[string]any{"title": s0.ASINA.Title, "bullets": s0.ASINA.Bullets},
		"asin_b": map[string]any{"title": s0.ASINB.Title, "bullets": s0.ASINB.Bullets},
	})
	if merr != nil {
		return nil, merr
	}
	obj, cerr := s.Scorer.ChatJSON(ctx, s.TextModel, prompt, []llms.ContentPart{llms.TextPart(string(payload))})
	if cerr != nil {
		s.fellBack(3, cerr)
		out.Provider = "heuristics_fallback"
		out.FallbackReason = cerr.Error()
		return out, nil
	}
	rawA, rawB := safeFloat(obj["text_score_a"]), safeFloat(obj["text_score_b"])
	if rawA <= 0 || rawB <= 0 {
		out.Provider = "heuristics_fallback"
		out.FallbackReason = "model response missing scores"
		return out, nil
	}

	out.Provider = "openai_text"
	out.Model = s.TextModel
	out.PromptIntegrity = &integ
	out.ASINA.Metrics.Score = round3(clamp01(rawA / 10))
	out.ASINA.Metrics.RawScore = rawA
	out.ASINB.Metrics.Score = round3(clamp01(rawB / 10))
	out.ASINB.Metrics.RawScore = rawB
	out.TextWinner = normalizeWinner(obj["text_winner"])
	if out.TextWinner == "" {
		out.TextWinner = PickWithMargin(out.ASINA.Metrics.Score, out.ASINB.Metrics.Score, WinnerMargin)
	}
	out.Analysis = safeString(obj["analysis"])
	return out, nil
}

// Stage4 synthesizes exactly three buyer personas from the upstream stage
// outputs. It is defensive: any missing upstream output is treated as an
// empty record rather than an error.
func (s *Stages) Stage4(ctx context.Context, job *domain.Job, s1 *Stage1Output, s2 *Stage2Output, s3 *Stage3Output) (*Stage4Output, error) {
	sigA, sigB := stageSignals(s1, s2, s3)

	heur := heuristicAvatars(sigA, sigB)
	out := &Stage4Output{
		StageName: domain.StageName(4),
		Provider:  "heuristics",
		Avatars:   heur,
	}
	if s.Scorer == nil {
		return out, nil
	}

	prompt, integ, err := s.Lib.LoadWithIntegrity(job.PromptVersionsPinned, prompts.AvatarPrompt)
	if err != nil {
		return nil, err
	}
	payload, merr := json.Marshal(map[string]any{
		"main_image":     stageSummary1(s1),
		"gallery":        stageSummary2(s2),
		"text_alignment": stageSummary3(s3),
	})
	if merr != nil {
		return nil, merr
	}
	obj, cerr := s.Scorer.ChatJSON(ctx, s.TextModel, prompt, []llms.ContentPart{llms.TextPart(string(payload))})
	if cerr != nil {
		s.fellBack(4, cerr)
		out.FallbackReason = cerr.Error()
		out.Provider = "heuristics_fallback"
		return out, nil
	}

	avatars := parseAvatars(obj["avatars"])
	if len(avatars) != avatarCount {
		out.Provider = "heuristics_fallback"
		out.FallbackReason = fmt.Sprintf("model returned %d usable personas, need %d", len(avatars), avatarCount)
		return out, nil
	}
	out.Provider = "openai_text"
	out.Model = s.TextModel
	out.PromptIntegrity = &integ
	out.Avatars = avatars
	return out, nil
}

// Stage5 folds the stage scores into the final verdict. It is fully
// deterministic; no provider is consulted.
func (s *Stages) Stage5(ctx context.Context, job *domain.Job, s0 *Stage0Output, s1 *Stage1Output, s2 *Stage2Output, s3 *Stage3Output, s4 *Stage4Output) (*Stage5Output, error) {
	sigA, sigB := stageSignals(s1, s2, s3)

	totalA := round3(0.4*sigA.image + 0.3*sigA.gallery + 0.3*sigA.text)
	totalB := round3(0.4*sigB.image + 0.3*sigB.gallery + 0.3*sigB.text)
	winner := PickWithMargin(totalA, totalB, WinnerMargin)

	out := &Stage5Output{
		StageName: domain.StageName(5),
		Provider:  "deterministic",
		JobID:     job.ID,
		ASINA:     job.ASINA,
		ASINB:     job.ASINB,
		Scores: VerdictScores{
			ASINA: SideTotals{Image: sigA.image, Gallery: sigA.gallery, Text: sigA.text, Total: totalA},
			ASINB: SideTotals{Image: sigB.image, Gallery: sigB.gallery, Text: sigB.text, Total: totalB},
		},
		Winner:           winner,
		Confidence:       round3(abs(totalA - totalB)),
		ProviderSummary:  providerSummary(s0, s1, s2, s3, s4),
		PrioritizedFixes: []Fix{},
	}
	if s1 != nil && s1.Status == "skipped" {
		out.Notes = append(out.Notes, "main image comparison skipped; image scores default to zero")
	}
	if s4 != nil {
		for i, av := range s4.Avatars {
			if i == avatarCount {
				break
			}
			out.AvatarsSummary = append(out.AvatarsSummary, fmt.Sprintf("%s leans %s", av.Name, av.LeansTo))
		}
	}

	loser := sigB
	loserName := "B"
	switch {
	case totalA < totalB:
		loser, loserName = sigA, "A"
	case totalA == totalB:
		loserName = ""
	}
	if loserName != "" {
		if loser.image < 0.7 {
			out.PrioritizedFixes = append(out.PrioritizedFixes, Fix{
				Priority: 1,
				Title:    "Upgrade the main image for ASIN " + loserName,
				Reason:   fmt.Sprintf("main image score %.3f is below 0.70; resolution and framing drive click-through", loser.image),
			})
		}
		if loser.gallery < 0.6 {
			out.PrioritizedFixes = append(out.PrioritizedFixes, Fix{
				Priority: 2,
				Title:    "Expand the image gallery for ASIN " + loserName,
				Reason:   fmt.Sprintf("gallery score %.3f is below 0.60; add lifestyle, scale and infographic shots", loser.gallery),
			})
		}
		if loser.text < 0.6 {
			out.PrioritizedFixes = append(out.PrioritizedFixes, Fix{
				Priority: 3,
				Title:    "Rework the title and bullets for ASIN " + loserName,
				Reason:   fmt.Sprintf("text score %.3f is below 0.60; frontload the product and lead bullets with benefits", loser.text),
			})
		}
	}
	return out, nil
}

func (s *Stages) fellBack(stage int, err error) {
	if s.Log != nil {
		s.Log.Warn("scorer failed, using heuristics",
			zap.Int("stage", stage),
			zap.String("stage_name", domain.StageName(stage)),
			zap.Error(err))
	}
}

// sideSignal is the per-listing score triple the persona and verdict stages
// fold over. Missing or skipped upstream stages contribute zero, so a partial
// run still folds to a verdict instead of aborting.
type sideSignal struct {
	image, gallery, text float64
}

func stageSignals(s1 *Stage1Output, s2 *Stage2Output, s3 *Stage3Output) (a, b sideSignal) {
	if s1 != nil && s1.Status != "skipped" && s1.ASINA != nil && s1.ASINB != nil {
		a.image, b.image = s1.ASINA.Score, s1.ASINB.Score
	}
	if s2 != nil {
		a.gallery, b.gallery = s2.ASINA.Score, s2.ASINB.Score
	}
	if s3 != nil {
		a.text, b.text = s3.ASINA.Metrics.Score, s3.ASINB.Metrics.Score
	}
	return a, b
}

// heuristicAvatars derives three fixed personas from the stage signals, each
// weighing the signals differently.
func heuristicAvatars(a, b sideSignal) []Avatar {
	persona := func(name, derived, why string, cares []string, scoreA, scoreB float64) Avatar {
		return Avatar{
			Name:        name,
			CaresAbout:  cares,
			LeansTo:     PickWithMargin(scoreA, scoreB, WinnerMargin),
			Why:         why,
			DerivedFrom: derived,
			Confidence:  round3(clamp01(abs(scoreA-scoreB) * 2)),
		}
	}
	return []Avatar{
		persona("Skimmer Shopper", "main image and text scores",
			"Decides from the search results page; the main image and title carry almost all the weight.",
			[]string{"main image", "title clarity"},
			0.7*a.image+0.3*a.text, 0.7*b.image+0.3*b.text),
		persona("Detail Reviewer", "gallery and text scores",
			"Opens both listings and reads everything; gallery depth and bullet quality decide it.",
			[]string{"gallery coverage", "bullet specificity"},
			0.5*a.gallery+0.5*a.text, 0.5*b.gallery+0.5*b.text),
		persona("Skeptical Comparator", "text scores",
			"Distrusts photos and compares the written claims side by side.",
			[]string{"claim specificity", "consistency"},
			a.text, b.text),
	}
}

// parseAvatars maps the model's persona records onto the Avatar shape,
// dropping records with no usable name or preference.
func parseAvatars(v any) []Avatar {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var avatars []Avatar
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		av := Avatar{
			Name:             strings.TrimSpace(safeString(m["persona_name"])),
			Why:              safeString(m["persona_profile"]),
			DerivedFrom:      safeString(m["derived_from"]),
			LeansTo:          normalizeWinner(m["preferred_asin"]),
			KeyFactors:       stringSlice(m["key_factors"]),
			CTRReaction:      safeString(m["ctr_reaction"]),
			CVRReaction:      safeString(m["cvr_reaction"]),
			PrimaryObjection: safeString(m["primary_objection"]),
			FixSuggestion:    safeString(m["fix_suggestion"]),
			Confidence:       round3(clamp01(safeFloat(m["confidence"]))),
		}
		if av.Name == "" || av.LeansTo == "" {
			continue
		}
		avatars = append(avatars, av)
	}
	return avatars
}

func providerSummary(s0 *Stage0Output, s1 *Stage1Output, s2 *Stage2Output, s3 *Stage3Output, s4 *Stage4Output) map[string]string {
	summary := map[string]string{
		domain.StageName(0): "missing",
		domain.StageName(1): "missing",
		domain.StageName(2): "missing",
		domain.StageName(3): "missing",
		domain.StageName(4): "missing",
	}
	if s0 != nil {
		summary[domain.StageName(0)] = s0.Provider
	}
	if s1 != nil {
		summary[domain.StageName(1)] = s1.Provider
	}
	if s2 != nil {
		summary[domain.StageName(2)] = s2.Provider
	}
	if s3 != nil {
		summary[domain.StageName(3)] = s3.Provider
	}
	if s4 != nil {
		summary[domain.StageName(4)] = s4.Provider
	}
	return summary
}

func stageSummary1(s1 *Stage1Output) map[string]any {
	if s1 == nil {
		return map[string]any{}
	}
	m := map[string]any{"winner": s1.CTRWinner, "confidence": s1.Confidence}
	if s1.Status == "skipped" {
		m["status"] = "skipped"
	}
	if s1.ASINA != nil && s1.ASINB != nil {
		m["score_a"] = s1.ASINA.Score
		m["score_b"] = s1.ASINB.Score
	}
	return m
}

func stageSummary2(s2 *Stage2Output) map[string]any {
	if s2 == nil {
		return map[string]any{}
	}
	return map[string]any{
		"winner":     s2.CVRWinner,
		"confidence": s2.Confidence,
		"score_a":    s2.ASINA.Score,
		"score_b":    s2.ASINB.Score,
		"evidence":   s2.Evidence,
	}
}

func stageSummary3(s3 *Stage3Output) map[string]any {
	if s3 == nil {
		return map[string]any{}
	}
	return map[string]any{
		"winner":   s3.TextWinner,
		"score_a":  s3.ASINA.Metrics.Score,
		"score_b":  s3.ASINB.Metrics.Score,
		"analysis": s3.Analysis,
	}
}

func (s *Stages) sampleGallery(ctx context.Context, urls []string) []provider.ImageMeta {
	n := len(urls)
	if n > gallerySampleMax {
		n = gallerySampleMax
	}
	metas := make([]provider.ImageMeta, 0, n)
	for _, u := range urls[:n] {
		metas = append(metas, s.Images.Fetch(ctx, u, galleryImageMaxBytes))
	}
	return metas
}

// dedupeGallery drops duplicate gallery URLs that differ only in their query
// string, preserving first-seen order.
func dedupeGallery(urls []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, u := range urls {
		base, _, _ := strings.Cut(u, "?")
		if base == "" || seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, u)
	}
	return out
}

func joinProviders(names ...string) string {
	seen := map[string]bool{}
	var uniq []string
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, "+")
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
