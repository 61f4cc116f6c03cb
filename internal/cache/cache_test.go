package cache

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/provider"
	"github.com/you/faceoff/internal/store"
)

// rowStore fakes the durable tier: rows keyed by cache_key, freshness checked
// against the gte. predicate. Payloads are stored as the JSON bytes the real
// store would hand back for a jsonb column.
type rowStore struct {
	rows []store.Row
}

func (s *rowStore) InsertOne(ctx context.Context, table string, row map[string]any) (store.Row, error) {
	b, err := json.Marshal(row["payload"])
	if err != nil {
		return nil, err
	}
	cp := store.Row{
		"cache_key":  row["cache_key"],
		"asin":       row["asin"],
		"payload":    b,
		"created_at": time.Now().UTC(),
	}
	s.rows = append(s.rows, cp)
	return cp, nil
}

func (s *rowStore) SelectOne(ctx context.Context, table string, params store.Params) (store.Row, error) {
	cutoff, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(params["created_at"], "gte."))
	if err != nil {
		return nil, err
	}
	var newest store.Row
	for _, row := range s.rows {
		if "eq."+row.Str("cache_key") != params["cache_key"] {
			continue
		}
		if row.Time("created_at").Before(cutoff) {
			continue
		}
		if newest == nil || newest.Time("created_at").Before(row.Time("created_at")) {
			newest = row
		}
	}
	return newest, nil
}

func (s *rowStore) SelectMany(ctx context.Context, table string, params store.Params) ([]store.Row, error) {
	return nil, nil
}

func (s *rowStore) UpdateMany(ctx context.Context, table string, match store.Params, patch map[string]any) ([]store.Row, error) {
	return nil, nil
}

func (s *rowStore) DeleteMany(ctx context.Context, table string, match store.Params) ([]store.Row, error) {
	return nil, nil
}

func TestKeyStable(t *testing.T) {
	assert.Equal(t, Key("B00AAAAAA1"), Key("B00AAAAAA1"))
	assert.NotEqual(t, Key("B00AAAAAA1"), Key("B00BBBBBB2"))
	assert.True(t, strings.HasPrefix(Key("B00AAAAAA1"), "listing:"))
}

func TestPutGetRoundTrip(t *testing.T) {
	rs := &rowStore{}
	c := NewListingCache(rs, nil, time.Hour, zap.NewNop())
	ctx := context.Background()

	res := provider.FetchResult{
		ASIN:         "B00AAAAAA1",
		OK:           true,
		Provider:     "direct_html",
		Title:        "Insulated Steel Water Bottle",
		MainImageURL: "https://img.example/main.jpg",
	}
	c.Put(ctx, res.ASIN, res)
	require.Len(t, rs.rows, 1)

	got, ok := c.Get(ctx, res.ASIN)
	require.True(t, ok)
	assert.Equal(t, res.Title, got.Title)
	assert.Equal(t, res.MainImageURL, got.MainImageURL)
	assert.True(t, got.OK)

	_, ok = c.Get(ctx, "B00BBBBBB2")
	assert.False(t, ok)
}

func TestPutSkipsFailedFetches(t *testing.T) {
	rs := &rowStore{}
	c := NewListingCache(rs, nil, time.Hour, zap.NewNop())
	c.Put(context.Background(), "B00AAAAAA1", provider.FetchResult{ASIN: "B00AAAAAA1", OK: false})
	assert.Empty(t, rs.rows)
}

func TestGetIgnoresExpiredRows(t *testing.T) {
	rs := &rowStore{}
	c := NewListingCache(rs, nil, time.Hour, zap.NewNop())
	ctx := context.Background()
	c.Put(ctx, "B00AAAAAA1", provider.FetchResult{ASIN: "B00AAAAAA1", OK: true, Title: "old"})

	// advance the clock past the TTL
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok := c.Get(ctx, "B00AAAAAA1")
	assert.False(t, ok)
}
