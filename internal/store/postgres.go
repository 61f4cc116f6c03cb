package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Postgres implements Store over a pgx pool. It is the only component that
// knows SQL; everything above it speaks tables and predicate maps.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{db: db} }

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func ident(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", errors.Errorf("invalid identifier %q", name)
	}
	return name, nil
}

// encodeValue prepares a patch/insert value for the wire. Maps, slices and
// structs become JSON text, which the server coerces into jsonb by column type.
func encodeValue(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, []byte,
		time.Time, *time.Time:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode value")
	}
	return string(b), nil
}

func (s *Postgres) InsertOne(ctx context.Context, table string, row map[string]any) (Row, error) {
	tbl, err := ident(table)
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	names := make([]string, 0, len(cols))
	holders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		col, err := ident(c)
		if err != nil {
			return nil, err
		}
		v, err := encodeValue(row[c])
		if err != nil {
			return nil, err
		}
		names = append(names, col)
		holders = append(holders, "$"+strconv.Itoa(i+1))
		args = append(args, v)
	}

	q := fmt.Sprintf("insert into %s (%s) values (%s) returning *",
		tbl, strings.Join(names, ", "), strings.Join(holders, ", "))
	rows, err := s.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return Row{}, nil
	}
	return rows[0], nil
}

func (s *Postgres) SelectMany(ctx context.Context, table string, params Params) ([]Row, error) {
	tbl, err := ident(table)
	if err != nil {
		return nil, err
	}
	sel := "*"
	if v, ok := params["select"]; ok && v != "" && v != "*" {
		cols := strings.Split(v, ",")
		for i, c := range cols {
			col, err := ident(strings.TrimSpace(c))
			if err != nil {
				return nil, err
			}
			cols[i] = col
		}
		sel = strings.Join(cols, ", ")
	}

	where, args, err := buildWhere(params, 0)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("select %s from %s%s", sel, tbl, where)

	if v, ok := params["order"]; ok && v != "" {
		clause, err := buildOrder(v)
		if err != nil {
			return nil, err
		}
		q += " order by " + clause
	}
	if v, ok := params["limit"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.Errorf("invalid limit %q", v)
		}
		q += " limit " + strconv.Itoa(n)
	}
	return s.query(ctx, q, args)
}

func (s *Postgres) SelectOne(ctx context.Context, table string, params Params) (Row, error) {
	rows, err := s.SelectMany(ctx, table, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Postgres) UpdateMany(ctx context.Context, table string, match Params, patch map[string]any) ([]Row, error) {
	tbl, err := ident(table)
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(patch))
	for k := range patch {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		col, err := ident(c)
		if err != nil {
			return nil, err
		}
		v, err := encodeValue(patch[c])
		if err != nil {
			return nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, v)
	}

	where, whereArgs, err := buildWhere(match, len(args))
	if err != nil {
		return nil, err
	}
	args = append(args, whereArgs...)
	q := fmt.Sprintf("update %s set %s%s returning *", tbl, strings.Join(sets, ", "), where)
	return s.query(ctx, q, args)
}

func (s *Postgres) DeleteMany(ctx context.Context, table string, match Params) ([]Row, error) {
	tbl, err := ident(table)
	if err != nil {
		return nil, err
	}
	where, args, err := buildWhere(match, 0)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("delete from %s%s returning *", tbl, where)
	return s.query(ctx, q, args)
}

func (s *Postgres) query(ctx context.Context, q string, args []any) ([]Row, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", q)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		r := make(Row, len(fields))
		for i, f := range fields {
			r[string(f.Name)] = normalizeValue(vals[i])
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}
	return out, nil
}

// normalizeValue flattens driver-specific representations so callers only see
// plain Go values.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case [16]byte:
		// uuid column
		var b strings.Builder
		for i, c := range t {
			if i == 4 || i == 6 || i == 8 || i == 10 {
				b.WriteByte('-')
			}
			fmt.Fprintf(&b, "%02x", c)
		}
		return b.String()
	default:
		return v
	}
}

func buildWhere(params Params, argOffset int) (string, []any, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		switch k {
		case "select", "order", "limit":
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "", nil, nil
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		col, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		op, val, err := splitPredicate(params[k])
		if err != nil {
			return "", nil, errors.Wrapf(err, "predicate for %q", k)
		}
		argOffset++
		conds = append(conds, fmt.Sprintf("%s %s $%d", col, op, argOffset))
		args = append(args, val)
	}
	return " where " + strings.Join(conds, " and "), args, nil
}

var predicateOps = map[string]string{
	"eq":  "=",
	"neq": "<>",
	"lt":  "<",
	"lte": "<=",
	"gt":  ">",
	"gte": ">=",
}

func splitPredicate(raw string) (op string, val string, err error) {
	i := strings.IndexByte(raw, '.')
	if i <= 0 {
		return "", "", errors.Errorf("missing operator prefix in %q", raw)
	}
	sqlOp, ok := predicateOps[raw[:i]]
	if !ok {
		return "", "", errors.Errorf("unsupported operator %q", raw[:i])
	}
	return sqlOp, raw[i+1:], nil
}

func buildOrder(raw string) (string, error) {
	col, dir, found := strings.Cut(raw, ".")
	c, err := ident(col)
	if err != nil {
		return "", err
	}
	if !found || dir == "asc" {
		return c + " asc", nil
	}
	if dir == "desc" {
		return c + " desc", nil
	}
	return "", errors.Errorf("unsupported order direction %q", dir)
}
