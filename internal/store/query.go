package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/edgesync/internal/record"
)

// KeyRange bounds a cursor over primary or index keys. A nil bound is open-ended.
type KeyRange struct {
	Lower     record.Value
	Upper     record.Value
	LowerOpen bool
	UpperOpen bool
}

// Only matches exactly one key.
func Only(key record.Value) *KeyRange {
	return &KeyRange{Lower: key, Upper: key}
}

// Bound matches keys between lower and upper.
func Bound(lower, upper record.Value, lowerOpen, upperOpen bool) *KeyRange {
	return &KeyRange{Lower: lower, Upper: upper, LowerOpen: lowerOpen, UpperOpen: upperOpen}
}

// LowerBound matches keys at or above (or strictly above, if open) lower.
func LowerBound(lower record.Value, open bool) *KeyRange {
	return &KeyRange{Lower: lower, LowerOpen: open}
}

// UpperBound matches keys at or below (or strictly below, if open) upper.
func UpperBound(upper record.Value, open bool) *KeyRange {
	return &KeyRange{Upper: upper, UpperOpen: open}
}

func (r *KeyRange) clause(col string) (string, []any, error) {
	if r == nil {
		return "", nil, nil
	}
	var (
		parts []string
		args  []any
	)
	if r.Lower != nil {
		k, err := sqlKey(r.Lower)
		if err != nil {
			return "", nil, err
		}
		op := ">="
		if r.LowerOpen {
			op = ">"
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, k)
	}
	if r.Upper != nil {
		k, err := sqlKey(r.Upper)
		if err != nil {
			return "", nil, err
		}
		op := "<="
		if r.UpperOpen {
			op = "<"
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, k)
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	return " AND " + strings.Join(parts, " AND "), args, nil
}

// Direction is the cursor traversal order.
type Direction int

const (
	Next Direction = iota
	Prev
)

func (d Direction) sql() string {
	if d == Prev {
		return "DESC"
	}
	return "ASC"
}

// QueryOptions configures a cursor query.
//
// Offset skips that many cursor matches before Filter is consulted;
// items are then collected until Limit of them pass Filter. Filter
// must not call back into the Store.
type QueryOptions struct {
	Index     string
	Range     *KeyRange
	Direction Direction
	Limit     int
	Offset    int
	Filter    func(record.Object) bool
}

// CountOptions configures Count.
type CountOptions struct {
	Index string
	Range *KeyRange
}

func (tx *Tx) source(coll, index string, r *KeyRange) (from string, keyCol string, args []any, err error) {
	c, err := tx.collection(coll)
	if err != nil {
		return "", "", nil, err
	}
	if index == "" {
		from = `FROM items i WHERE i.collection = ?`
		keyCol = "i.pk"
		args = []any{coll}
	} else {
		if _, ok := c.index(index); !ok {
			return "", "", nil, fmt.Errorf("%w %q on %s", ErrUnknownIndex, index, coll)
		}
		from = `FROM index_entries e
			JOIN items i ON i.collection = e.collection AND i.pk = e.pk
			WHERE e.collection = ? AND e.index_name = ?`
		keyCol = "e.ikey"
		args = []any{coll, index}
	}
	where, rangeArgs, err := r.clause(keyCol)
	if err != nil {
		return "", "", nil, err
	}
	return from + where, keyCol, append(args, rangeArgs...), nil
}

// Query returns items matching opts in cursor order.
func (tx *Tx) Query(ctx context.Context, coll string, opts QueryOptions) ([]record.Object, error) {
	from, keyCol, args, err := tx.source(coll, opts.Index, opts.Range)
	if err != nil {
		return nil, err
	}
	dir := opts.Direction.sql()
	query := fmt.Sprintf("SELECT i.body %s ORDER BY %s %s", from, keyCol, dir)
	if opts.Index != "" {
		query += fmt.Sprintf(", i.pk %s", dir)
	}

	// Without a filter the limit can be pushed down to SQLite.
	limit := -1
	if opts.Filter == nil && opts.Limit > 0 {
		limit = opts.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return tx.scanBodies(rows, opts.Limit, opts.Filter)
}

// Count returns the number of cursor matches.
func (tx *Tx) Count(ctx context.Context, coll string, opts CountOptions) (int, error) {
	from, _, args, err := tx.source(coll, opts.Index, opts.Range)
	if err != nil {
		return 0, err
	}
	var n int
	if err := tx.q.QueryRowContext(ctx, "SELECT COUNT(*) "+from, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// Query returns items matching opts in cursor order.
func (s *Store) Query(ctx context.Context, coll string, opts QueryOptions) ([]record.Object, error) {
	var items []record.Object
	err := s.view(ctx, "query", coll, func(tx *Tx) error {
		var err error
		items, err = tx.Query(ctx, coll, opts)
		return err
	})
	return items, err
}

// Count returns the number of items (or index entries) in range.
func (s *Store) Count(ctx context.Context, coll string, opts CountOptions) (int, error) {
	var n int
	err := s.view(ctx, "count", coll, func(tx *Tx) error {
		var err error
		n, err = tx.Count(ctx, coll, opts)
		return err
	})
	return n, err
}
