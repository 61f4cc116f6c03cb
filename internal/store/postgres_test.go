package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWhere(t *testing.T) {
	where, args, err := buildWhere(Params{
		"status":     "eq.queued",
		"created_at": "lt.2025-06-01T12:00:00Z",
		"select":     "id",
		"order":      "created_at.asc",
		"limit":      "1",
	}, 0)
	require.NoError(t, err)

	// columns sorted, reserved keys skipped
	assert.Equal(t, " where created_at < $1 and status = $2", where)
	assert.Equal(t, []any{"2025-06-01T12:00:00Z", "queued"}, args)
}

func TestBuildWhereArgOffset(t *testing.T) {
	where, args, err := buildWhere(Params{"id": "eq.job-1"}, 3)
	require.NoError(t, err)
	assert.Equal(t, " where id = $4", where)
	assert.Equal(t, []any{"job-1"}, args)
}

func TestBuildWhereEmpty(t *testing.T) {
	where, args, err := buildWhere(Params{"select": "id", "limit": "5"}, 0)
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Nil(t, args)
}

func TestBuildWhereRejectsBadInput(t *testing.T) {
	_, _, err := buildWhere(Params{"id": "job-1"}, 0)
	assert.Error(t, err, "predicate without operator")

	_, _, err = buildWhere(Params{"id": "like.job%"}, 0)
	assert.Error(t, err, "unsupported operator")

	_, _, err = buildWhere(Params{"id; drop table jobs": "eq.x"}, 0)
	assert.Error(t, err, "hostile column name")
}

func TestSplitPredicate(t *testing.T) {
	op, val, err := splitPredicate("gte.10")
	require.NoError(t, err)
	assert.Equal(t, ">=", op)
	assert.Equal(t, "10", val)

	// value may itself contain dots
	op, val, err = splitPredicate("lt.2025-06-01T12:00:00.123Z")
	require.NoError(t, err)
	assert.Equal(t, "<", op)
	assert.Equal(t, "2025-06-01T12:00:00.123Z", val)

	_, _, err = splitPredicate("queued")
	assert.Error(t, err)
	_, _, err = splitPredicate(".queued")
	assert.Error(t, err)
}

func TestBuildOrder(t *testing.T) {
	clause, err := buildOrder("created_at")
	require.NoError(t, err)
	assert.Equal(t, "created_at asc", clause)

	clause, err = buildOrder("created_at.desc")
	require.NoError(t, err)
	assert.Equal(t, "created_at desc", clause)

	_, err = buildOrder("created_at.sideways")
	assert.Error(t, err)
	_, err = buildOrder("CreatedAt.asc")
	assert.Error(t, err, "mixed-case identifier")
}

func TestIdent(t *testing.T) {
	got, err := ident("job_stages")
	require.NoError(t, err)
	assert.Equal(t, "job_stages", got)

	for _, bad := range []string{"", "Jobs", "1jobs", "jobs; --", "jobs.stages"} {
		_, err := ident(bad)
		assert.Error(t, err, "%q", bad)
	}
}

func TestEncodeValue(t *testing.T) {
	now := time.Now()
	for _, v := range []any{nil, "text", true, 7, int64(7), 0.5, now, &now} {
		got, err := encodeValue(v)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	got, err := encodeValue(map[string]any{"stage_name": "verdict"})
	require.NoError(t, err)
	assert.Equal(t, `{"stage_name":"verdict"}`, got)

	got, err = encodeValue([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, got)
}

func TestNormalizeValueUUID(t *testing.T) {
	raw := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	assert.Equal(t, "12345678-9abc-def0-1234-56789abcdef0", normalizeValue(raw))
	assert.Equal(t, "plain", normalizeValue("plain"))
}
