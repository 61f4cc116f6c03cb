package credits

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/faceoff/internal/store"
)

// ledgerStore keeps credit rows in memory and enforces the op_key unique
// constraint the way Postgres would: a duplicate insert fails with a wrapped
// *pgconn.PgError carrying SQLSTATE 23505.
type ledgerStore struct {
	rows []store.Row
	keys map[string]bool
}

func newLedgerStore() *ledgerStore {
	return &ledgerStore{keys: map[string]bool{}}
}

func (s *ledgerStore) InsertOne(ctx context.Context, table string, row map[string]any) (store.Row, error) {
	key, _ := row["op_key"].(string)
	if s.keys[key] {
		pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "credit_operations_op_key_key"}
		return nil, errors.Wrap(pgErr, "insert credit_operations")
	}
	s.keys[key] = true
	cp := store.Row{}
	for k, v := range row {
		cp[k] = v
	}
	s.rows = append(s.rows, cp)
	return cp, nil
}

func (s *ledgerStore) SelectOne(ctx context.Context, table string, params store.Params) (store.Row, error) {
	rows, err := s.SelectMany(ctx, table, params)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *ledgerStore) SelectMany(ctx context.Context, table string, params store.Params) ([]store.Row, error) {
	var out []store.Row
	for _, row := range s.rows {
		if user, ok := params["user_id"]; ok && "eq."+row.Str("user_id") != user {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *ledgerStore) UpdateMany(ctx context.Context, table string, match store.Params, patch map[string]any) ([]store.Row, error) {
	return nil, nil
}

func (s *ledgerStore) DeleteMany(ctx context.Context, table string, match store.Params) ([]store.Row, error) {
	return nil, nil
}

func newApplier(s store.Store) *Applier {
	return &Applier{Store: s, Log: zap.NewNop()}
}

func TestOperationKeyDeterministic(t *testing.T) {
	k1 := OperationKey("payment_succeeded", "evt_123")
	k2 := OperationKey("payment_succeeded", "evt_123")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	// same event id under a different type must not collide
	assert.NotEqual(t, k1, OperationKey("refund_issued", "evt_123"))
	assert.NotEqual(t, k1, OperationKey("payment_succeeded", "evt_124"))
}

func TestApplyGrantsOnce(t *testing.T) {
	ls := newLedgerStore()
	a := newApplier(ls)

	res, err := a.Apply(context.Background(), "user-1", "payment_succeeded", "evt_1", 150, map[string]any{"pack_id": "growth"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 150, res.Credits)

	// replayed webhook is a no-op, not an error
	res, err = a.Apply(context.Background(), "user-1", "payment_succeeded", "evt_1", 150, nil)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "duplicate operation", res.Reason)
	assert.Len(t, ls.rows, 1)
}

func TestApplyRequiresUser(t *testing.T) {
	_, err := newApplier(newLedgerStore()).Apply(context.Background(), "", "payment_succeeded", "evt_1", 50, nil)
	require.Error(t, err)
}

func TestApplyPropagatesOtherErrors(t *testing.T) {
	ls := newLedgerStore()
	a := newApplier(failingStore{ls})
	_, err := a.Apply(context.Background(), "user-1", "payment_succeeded", "evt_1", 50, nil)
	require.Error(t, err)
	var pgErr *pgconn.PgError
	assert.False(t, errors.As(err, &pgErr) && pgErr.Code == "23505")
}

type failingStore struct{ *ledgerStore }

func (failingStore) InsertOne(ctx context.Context, table string, row map[string]any) (store.Row, error) {
	return nil, errors.New("connection refused")
}

func TestBalanceSumsLedger(t *testing.T) {
	ls := newLedgerStore()
	a := newApplier(ls)
	ctx := context.Background()

	_, err := a.Apply(ctx, "user-1", "payment_succeeded", "evt_1", 150, nil)
	require.NoError(t, err)
	_, err = a.Apply(ctx, "user-1", "job_completed", "job-1", -10, nil)
	require.NoError(t, err)
	_, err = a.Apply(ctx, "user-2", "payment_succeeded", "evt_2", 50, nil)
	require.NoError(t, err)

	bal, err := a.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 140, bal)

	bal, err = a.Balance(ctx, "user-3")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestPackByID(t *testing.T) {
	p, ok := PackByID("growth")
	require.True(t, ok)
	assert.Equal(t, 150, p.Credits)
	assert.Equal(t, 4900, p.PriceCents)

	_, ok = PackByID("enterprise")
	assert.False(t, ok)
}
