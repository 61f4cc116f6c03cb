package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/store"
)

// CleanupCounts reports how many rows a retention sweep removed.
type CleanupCounts struct {
	ScrapeCache     int
	AnalyticsEvents int
}

// Cleanup removes scrape cache entries past their TTL and analytics events
// past the retention window. Both deletes run even if one fails; the combined
// error carries every failure.
func (w *Worker) Cleanup(ctx context.Context) (CleanupCounts, error) {
	var counts CleanupCounts
	var errs error
	now := w.now()

	deleted, err := w.Store.DeleteMany(ctx, store.TableScrapeCache, store.Params{
		"created_at": "lt." + now.Add(-w.Cfg.ScrapeCacheTTL).Format(time.RFC3339Nano),
	})
	if err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "purge scrape cache"))
	} else {
		counts.ScrapeCache = len(deleted)
	}

	deleted, err = w.Store.DeleteMany(ctx, store.TableAnalyticsEvents, store.Params{
		"created_at": "lt." + now.Add(-w.Cfg.AnalyticsRetention).Format(time.RFC3339Nano),
	})
	if err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "purge analytics events"))
	} else {
		counts.AnalyticsEvents = len(deleted)
	}

	return counts, errs
}

func (w *Worker) runCleanup(ctx context.Context) {
	counts, err := w.Cleanup(ctx)
	if err != nil {
		w.Log.Error("cleanup sweep failed", zap.Error(err))
		return
	}
	if counts.ScrapeCache+counts.AnalyticsEvents > 0 {
		w.Log.Info("cleanup sweep done",
			zap.Int("scrape_cache_deleted", counts.ScrapeCache),
			zap.Int("analytics_events_deleted", counts.AnalyticsEvents))
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
