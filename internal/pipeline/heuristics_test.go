package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/faceoff/internal/provider"
)

func TestPickWithMargin(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want string
	}{
		{"clear a win", 0.80, 0.70, "A"},
		{"clear b win", 0.70, 0.80, "B"},
		{"inside margin", 0.74, 0.71, "TIE"},
		{"exactly at margin", 0.75, 0.70, "TIE"},
		{"just past margin", 0.76, 0.70, "A"},
		{"equal", 0.50, 0.50, "TIE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PickWithMargin(tt.a, tt.b, WinnerMargin))
		})
	}
}

func TestPickWithMarginMirrors(t *testing.T) {
	// Swapping sides must swap A and B and leave TIE alone.
	pairs := [][2]float64{{0.9, 0.1}, {0.3, 0.8}, {0.52, 0.5}, {0.5, 0.5}}
	flip := map[string]string{"A": "B", "B": "A", "TIE": "TIE"}
	for _, p := range pairs {
		got := PickWithMargin(p[0], p[1], WinnerMargin)
		swapped := PickWithMargin(p[1], p[0], WinnerMargin)
		assert.Equal(t, flip[got], swapped, "pair %v", p)
	}
}

func TestImageScore(t *testing.T) {
	tests := []struct {
		name string
		meta provider.ImageMeta
		want float64
	}{
		{"failed download", provider.ImageMeta{OK: false, Width: 1000, Height: 1000}, 0},
		{"no dimensions", provider.ImageMeta{OK: true}, 0},
		{"square zoomable", provider.ImageMeta{OK: true, Width: 1000, Height: 1000}, 1},
		{"square small", provider.ImageMeta{OK: true, Width: 500, Height: 500}, 0.65},
		{"wide", provider.ImageMeta{OK: true, Width: 800, Height: 400}, 0.43},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, imageScore(tt.meta), 1e-9)
		})
	}
}

func TestGalleryScore(t *testing.T) {
	big := provider.ImageMeta{OK: true, Width: 1200, Height: 1000}

	assert.Zero(t, galleryScore(0, nil))
	// no usable downloads: only the count half applies
	assert.InDelta(t, 0.5, galleryScore(7, nil), 1e-9)
	assert.InDelta(t, 0.5, galleryScore(9, []provider.ImageMeta{{OK: false}}), 1e-9)
	// full count and high resolution
	assert.InDelta(t, 1.0, galleryScore(7, []provider.ImageMeta{big, big}), 1e-9)
	// half count, full resolution
	got := galleryScore(3, []provider.ImageMeta{big})
	assert.InDelta(t, 0.5*(3.0/7)+0.5, got, 1e-3)
}

func TestTextMetrics(t *testing.T) {
	t.Run("empty listing", func(t *testing.T) {
		m := textMetrics("", nil)
		assert.Zero(t, m.Score)
		assert.Zero(t, m.TitleLen)
		assert.Zero(t, m.BulletCount)
	})

	t.Run("ideal listing", func(t *testing.T) {
		title := "Stainless Steel Insulated Water Bottle 32oz Keeps Drinks Cold for 24 Hours Leakproof Lid"
		require.GreaterOrEqual(t, len(title), 60)
		require.LessOrEqual(t, len(title), 180)
		bullet := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen"
		require.Len(t, strings.Fields(bullet), 18)
		bullets := []string{bullet, bullet, bullet, bullet, bullet}

		m := textMetrics(title, bullets)
		assert.InDelta(t, 1.0, m.TitleLenScore, 1e-9)
		assert.InDelta(t, 1.0, m.BulletCountScore, 1e-9)
		assert.InDelta(t, 1.0, m.BulletQualityScore, 1e-9)
		assert.InDelta(t, 1.0, m.Score, 1e-9)
		assert.Equal(t, 5, m.BulletCount)
		assert.InDelta(t, 18.0, m.AvgBulletWords, 1e-9)
	})

	t.Run("short title ramps", func(t *testing.T) {
		m := textMetrics("Water Bottle 32oz AAAAA", nil) // 23 chars
		assert.InDelta(t, 23.0/60, m.TitleLenScore, 1e-3)
		assert.Zero(t, m.BulletCountScore)
		assert.Zero(t, m.BulletQualityScore)
	})

	t.Run("overlong title decays", func(t *testing.T) {
		long := make([]byte, 240)
		for i := range long {
			long[i] = 'x'
		}
		m := textMetrics(string(long), nil)
		assert.InDelta(t, 0.5, m.TitleLenScore, 1e-9) // 1 - 60/120
	})
}

func TestKeywordOverlap(t *testing.T) {
	a := provider.FetchResult{
		Title:   "Insulated Steel Water Bottle",
		Bullets: []string{"keeps drinks cold", "leakproof design"},
	}
	b := provider.FetchResult{
		Title:   "Steel Tumbler Keeps Drinks Cold",
		Bullets: []string{"durable steel body"},
	}
	overlap := keywordOverlap(a, b, 20)
	assert.Equal(t, []string{"cold", "drinks", "keeps", "steel"}, overlap)

	capped := keywordOverlap(a, b, 2)
	assert.Equal(t, []string{"cold", "drinks"}, capped)
}

func TestDedupeGallery(t *testing.T) {
	urls := []string{
		"https://img.example/a.jpg?sz=1",
		"https://img.example/a.jpg?sz=2",
		"https://img.example/b.jpg",
		"https://img.example/b.jpg",
		"",
	}
	assert.Equal(t, []string{
		"https://img.example/a.jpg?sz=1",
		"https://img.example/b.jpg",
	}, dedupeGallery(urls))
}
