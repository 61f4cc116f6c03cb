// Package credits is the append-only credit ledger. Every grant or spend is
// one row keyed by a deterministic operation key, so replayed billing webhooks
// and double-submitted spends collapse into no-ops instead of double-charging.
package credits

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/store"
)

// OperationKey derives the idempotency key for one external billing event.
// The key is stable across retries of the same event and collision-free
// across event types sharing an id space.
func OperationKey(eventType, eventID string) string {
	sum := sha256.Sum256([]byte(eventType + ":" + eventID))
	return hex.EncodeToString(sum[:])
}

// Result is the outcome of one ledger apply.
type Result struct {
	Applied bool   `json:"applied"`
	Credits int    `json:"credits,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type Applier struct {
	Store store.Store
	Log   *zap.Logger
}

// Apply records one credit operation. Credits may be negative for spends.
// A duplicate operation key means the event was already applied; that is
// reported, not errored.
func (a *Applier) Apply(ctx context.Context, userID, eventType, eventID string, credits int, meta map[string]any) (Result, error) {
	if userID == "" {
		return Result{}, errors.New("credit operation requires a user id")
	}
	if meta == nil {
		meta = map[string]any{}
	}
	opKey := OperationKey(eventType, eventID)

	_, err := a.Store.InsertOne(ctx, store.TableCreditOperations, map[string]any{
		"user_id":    userID,
		"op_key":     opKey,
		"credits":    credits,
		"event_type": eventType,
		"event_id":   eventID,
		"metadata":   meta,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			a.Log.Info("credit operation already applied",
				zap.String("user_id", userID),
				zap.String("event_type", eventType),
				zap.String("event_id", eventID))
			return Result{Applied: false, Reason: "duplicate operation"}, nil
		}
		return Result{}, errors.Wrap(err, "record credit operation")
	}
	return Result{Applied: true, Credits: credits}, nil
}

// Balance sums the ledger for one user.
func (a *Applier) Balance(ctx context.Context, userID string) (int, error) {
	rows, err := a.Store.SelectMany(ctx, store.TableCreditOperations, store.Params{
		"user_id": "eq." + userID,
		"select":  "credits",
	})
	if err != nil {
		return 0, errors.Wrap(err, "load credit ledger")
	}
	total := 0
	for _, row := range rows {
		total += row.Int("credits")
	}
	return total, nil
}
