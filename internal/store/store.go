// Package store is a generic row-level client for the relational store. The
// orchestrator and sweeps speak a small PostgREST-flavored protocol: a table
// name plus a flat string-keyed predicate map. Zero affected rows from an
// update or delete is a normal outcome (a lost race), never an error.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Tables touched by the worker and the inbound API.
const (
	TableJobs             = "jobs"
	TableJobStages        = "job_stages"
	TableCreditOperations = "credit_operations"
	TableScrapeCache      = "scrape_cache"
	TableAnalyticsEvents  = "analytics_events"
)

// Row is one record as returned by the store.
type Row map[string]any

// Params is the flat predicate map. Plain keys carry a prefixed predicate
// ("eq.", "neq.", "lt.", "lte.", "gt.", "gte."); the reserved keys "select",
// "order" ("col.asc" / "col.desc") and "limit" shape the result set.
type Params map[string]string

// Store is the four-operation row protocol from the worker's point of view.
type Store interface {
	InsertOne(ctx context.Context, table string, row map[string]any) (Row, error)
	SelectMany(ctx context.Context, table string, params Params) ([]Row, error)
	SelectOne(ctx context.Context, table string, params Params) (Row, error)
	UpdateMany(ctx context.Context, table string, match Params, patch map[string]any) ([]Row, error)
	DeleteMany(ctx context.Context, table string, match Params) ([]Row, error)
}

// Str returns a string column, tolerating absent or null values.
func (r Row) Str(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Int returns an integer column regardless of the driver's numeric width.
func (r Row) Int(key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Time returns a timestamp column, or the zero time when absent/null.
func (r Row) Time(key string) time.Time {
	if v, ok := r[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

// TimePtr returns a nullable timestamp column.
func (r Row) TimePtr(key string) *time.Time {
	if v, ok := r[key].(time.Time); ok {
		return &v
	}
	return nil
}

// Map returns a JSON object column decoded to a map. jsonb columns arrive
// either already decoded or as raw bytes depending on the access path.
func (r Row) Map(key string) map[string]any {
	switch v := r[key].(type) {
	case map[string]any:
		return v
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(v, &m); err == nil {
			return m
		}
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			return m
		}
	}
	return nil
}
