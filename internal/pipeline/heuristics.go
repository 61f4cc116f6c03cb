package pipeline

import (
	"math"
	"sort"
	"strings"

	"github.com/you/faceoff/internal/provider"
)

// WinnerMargin is the minimum score gap before a side is declared the winner;
// anything closer is a TIE.
const WinnerMargin = 0.05

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// PickWithMargin declares A or B the winner only when its score beats the
// other side by more than margin.
func PickWithMargin(a, b, margin float64) string {
	switch {
	case a > b+margin:
		return "A"
	case b > a+margin:
		return "B"
	default:
		return "TIE"
	}
}

// imageScore rates a single downloaded main image on resolution and aspect
// ratio. Undecodable or failed downloads score zero.
func imageScore(meta provider.ImageMeta) float64 {
	if !meta.OK || meta.Width <= 0 || meta.Height <= 0 {
		return 0
	}
	minDim := float64(meta.Width)
	if float64(meta.Height) < minDim {
		minDim = float64(meta.Height)
	}
	maxDim := float64(meta.Width)
	if float64(meta.Height) > maxDim {
		maxDim = float64(meta.Height)
	}

	resScore := clamp01(minDim / 1000)
	aspectScore := minDim / maxDim

	score := 0.7*resScore + 0.3*aspectScore
	if minDim >= 1000 {
		// zoom-eligible on the marketplace
		score += 0.1
	}
	return round3(clamp01(score))
}

// galleryScore rates a listing's sampled gallery images: half for image count
// against an ideal of 7, half for average resolution of the images that
// downloaded. With no usable downloads only the count half applies.
func galleryScore(urlsFound int, sampled []provider.ImageMeta) float64 {
	countScore := clamp01(float64(urlsFound) / 7)

	var minDims []float64
	for _, m := range sampled {
		if m.OK && m.Width > 0 && m.Height > 0 {
			d := float64(m.Width)
			if float64(m.Height) < d {
				d = float64(m.Height)
			}
			minDims = append(minDims, d)
		}
	}
	if len(minDims) == 0 {
		return round3(0.5 * countScore)
	}
	var sum float64
	for _, d := range minDims {
		sum += d
	}
	resScore := clamp01(sum / float64(len(minDims)) / 1000)

	return round3(0.5*countScore + 0.5*resScore)
}

// textMetrics computes the deterministic text quality breakdown for one
// listing: title length sweet spot, bullet count against an ideal of 5, and
// bullet length quality against an ideal of 18 words.
func textMetrics(title string, bullets []string) TextMetrics {
	titleLen := len(title)
	titleWords := len(strings.Fields(title))

	var titleLenScore float64
	switch {
	case titleLen == 0:
		titleLenScore = 0
	case titleLen < 60:
		titleLenScore = float64(titleLen) / 60
	case titleLen <= 180:
		titleLenScore = 1
	default:
		titleLenScore = clamp01(1 - float64(titleLen-180)/120)
	}

	bulletCountScore := clamp01(float64(len(bullets)) / 5)

	var avgWords float64
	if len(bullets) > 0 {
		total := 0
		for _, b := range bullets {
			total += len(strings.Fields(b))
		}
		avgWords = float64(total) / float64(len(bullets))
	}
	var bulletQualityScore float64
	if avgWords > 0 {
		bulletQualityScore = clamp01(1 - math.Abs(avgWords-18)/30)
	}

	score := 0.35*titleLenScore + 0.35*bulletCountScore + 0.30*bulletQualityScore

	return TextMetrics{
		Score:              round3(clamp01(score)),
		TitleLen:           titleLen,
		TitleWords:         titleWords,
		BulletCount:        len(bullets),
		AvgBulletWords:     round3(avgWords),
		TitleLenScore:      round3(titleLenScore),
		BulletCountScore:   round3(bulletCountScore),
		BulletQualityScore: round3(bulletQualityScore),
	}
}

// keywordOverlap returns the sorted intersection of meaningful words from both
// listings' text, capped at 20 entries.
func keywordOverlap(a, b provider.FetchResult, limit int) []string {
	wordsOf := func(res provider.FetchResult) map[string]bool {
		set := map[string]bool{}
		for _, w := range provider.SafeWords(res.Title) {
			set[w] = true
		}
		for _, bl := range res.Bullets {
			for _, w := range provider.SafeWords(bl) {
				set[w] = true
			}
		}
		return set
	}
	setA := wordsOf(a)
	setB := wordsOf(b)

	var overlap []string
	for w := range setA {
		if setB[w] {
			overlap = append(overlap, w)
		}
	}
	sort.Strings(overlap)
	if len(overlap) > limit {
		overlap = overlap[:limit]
	}
	return overlap
}

// safeFloat coerces a decoded JSON value to float64, zero when it is not a
// number.
func safeFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func safeString(v any) string {
	s, _ := v.(string)
	return s
}

// normalizeWinner maps free-form model output onto the A/B/TIE vocabulary.
func normalizeWinner(v any) string {
	s := strings.ToUpper(strings.TrimSpace(safeString(v)))
	switch s {
	case "A", "B", "TIE":
		return s
	}
	return ""
}
