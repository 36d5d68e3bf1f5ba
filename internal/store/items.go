package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/edgesync/internal/record"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a view of the store bound to one connection or transaction.
// Schema upgrade callbacks receive a Tx; so do batch writes internally.
type Tx struct {
	q    querier
	cols map[string]*Collection
}

func (tx *Tx) collection(name string) (*Collection, error) {
	c, ok := tx.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownCollection, name)
	}
	return c, nil
}

// sqlKey converts a key value to its SQLite binding.
func sqlKey(v record.Value) (any, error) {
	switch k := v.(type) {
	case record.String:
		return string(k), nil
	case record.Int:
		return int64(k), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidKey, v)
	}
}

func primaryKey(c *Collection, item record.Object) (record.Value, any, error) {
	v, ok := item.Lookup(c.KeyPath)
	if !ok {
		return nil, nil, fmt.Errorf("%w: item has no value at %q", ErrInvalidKey, c.KeyPath)
	}
	k, err := sqlKey(v)
	if err != nil {
		return nil, nil, err
	}
	return v, k, nil
}

// indexKeys returns the distinct index keys item contributes to ix.
func indexKeys(ix *Index, item record.Object) []any {
	v, ok := item.Lookup(ix.KeyPath)
	if !ok {
		return nil
	}
	if arr, isArr := v.(record.Array); isArr && ix.MultiEntry {
		seen := make(map[any]bool, len(arr))
		keys := make([]any, 0, len(arr))
		for _, elem := range arr {
			k, err := sqlKey(elem)
			if err != nil || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
		return keys
	}
	k, err := sqlKey(v)
	if err != nil {
		return nil
	}
	return []any{k}
}

// Add inserts item. Fails with ErrConstraint if the key or a unique
// index value already exists.
func (tx *Tx) Add(ctx context.Context, coll string, item record.Object) (record.Value, error) {
	return tx.write(ctx, coll, item, false)
}

// Put inserts or replaces item.
func (tx *Tx) Put(ctx context.Context, coll string, item record.Object) (record.Value, error) {
	return tx.write(ctx, coll, item, true)
}

func (tx *Tx) write(ctx context.Context, coll string, item record.Object, upsert bool) (record.Value, error) {
	c, err := tx.collection(coll)
	if err != nil {
		return nil, err
	}
	key, pk, err := primaryKey(c, item)
	if err != nil {
		return nil, err
	}
	body, err := record.MarshalCanonical(item)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}

	query := `INSERT INTO items (collection, pk, body) VALUES (?, ?, ?)`
	if upsert {
		query += ` ON CONFLICT(collection, pk) DO UPDATE SET body = excluded.body`
	}
	if _, err := tx.q.ExecContext(ctx, query, coll, pk, string(body)); err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	if err := tx.writeEntries(ctx, c, pk, item); err != nil {
		return nil, err
	}
	return key, nil
}

func (tx *Tx) writeEntries(ctx context.Context, c *Collection, pk any, item record.Object) error {
	if _, err := tx.q.ExecContext(ctx,
		`DELETE FROM index_entries WHERE collection = ? AND pk = ?`, c.Name, pk); err != nil {
		return fmt.Errorf("clear index entries: %w", err)
	}
	for i := range c.Indices {
		ix := &c.Indices[i]
		for _, ikey := range indexKeys(ix, item) {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO index_entries (collection, index_name, ikey, pk, is_unique)
				VALUES (?, ?, ?, ?, ?)
			`, c.Name, ix.Name, ikey, pk, boolInt(ix.Unique))
			if err != nil {
				return fmt.Errorf("index %s: %w", ix.Name, err)
			}
		}
	}
	return nil
}

// Get returns the item stored under key.
func (tx *Tx) Get(ctx context.Context, coll string, key record.Value) (record.Object, bool, error) {
	if _, err := tx.collection(coll); err != nil {
		return nil, false, err
	}
	pk, err := sqlKey(key)
	if err != nil {
		return nil, false, err
	}
	var body string
	err = tx.q.QueryRowContext(ctx,
		`SELECT body FROM items WHERE collection = ? AND pk = ?`, coll, pk).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select item: %w", err)
	}
	obj, err := record.ParseObject([]byte(body))
	if err != nil {
		return nil, false, fmt.Errorf("decode item: %w", err)
	}
	return obj, true, nil
}

// Delete removes the item under key. Deleting a missing key is a no-op.
func (tx *Tx) Delete(ctx context.Context, coll string, key record.Value) error {
	if _, err := tx.collection(coll); err != nil {
		return err
	}
	pk, err := sqlKey(key)
	if err != nil {
		return err
	}
	if _, err := tx.q.ExecContext(ctx,
		`DELETE FROM index_entries WHERE collection = ? AND pk = ?`, coll, pk); err != nil {
		return fmt.Errorf("delete index entries: %w", err)
	}
	if _, err := tx.q.ExecContext(ctx,
		`DELETE FROM items WHERE collection = ? AND pk = ?`, coll, pk); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// Clear removes every item in the collection.
func (tx *Tx) Clear(ctx context.Context, coll string) error {
	if _, err := tx.collection(coll); err != nil {
		return err
	}
	return tx.clear(ctx, coll)
}

func (tx *Tx) clear(ctx context.Context, coll string) error {
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM index_entries WHERE collection = ?`, coll); err != nil {
		return fmt.Errorf("clear index entries: %w", err)
	}
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM items WHERE collection = ?`, coll); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	return nil
}

// GetAll returns every item in key order.
func (tx *Tx) GetAll(ctx context.Context, coll string) ([]record.Object, error) {
	return tx.Query(ctx, coll, QueryOptions{})
}

func (tx *Tx) scanBodies(rows *sql.Rows, limit int, filter func(record.Object) bool) ([]record.Object, error) {
	defer rows.Close()
	items := []record.Object{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		obj, err := record.ParseObject([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		if filter != nil && !filter(obj) {
			continue
		}
		items = append(items, obj)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// writeCatalog replaces the catalog rows with the declared schema.
func (tx *Tx) writeCatalog(ctx context.Context, schema Schema) error {
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM indices`); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM collections`); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}
	for _, c := range schema.Collections {
		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO collections (name, key_path) VALUES (?, ?)`, c.Name, c.KeyPath); err != nil {
			return fmt.Errorf("catalog collection %s: %w", c.Name, err)
		}
		for _, ix := range c.Indices {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO indices (collection, name, key_path, is_unique, multi_entry)
				VALUES (?, ?, ?, ?, ?)
			`, c.Name, ix.Name, ix.KeyPath, boolInt(ix.Unique), boolInt(ix.MultiEntry))
			if err != nil {
				return fmt.Errorf("catalog index %s.%s: %w", c.Name, ix.Name, err)
			}
		}
	}
	return nil
}

// purgeUndeclared drops the items of collections the schema no longer declares.
func (tx *Tx) purgeUndeclared(ctx context.Context) error {
	rows, err := tx.q.QueryContext(ctx, `SELECT DISTINCT collection FROM items`)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan collection: %w", err)
		}
		if _, ok := tx.cols[name]; !ok {
			stale = append(stale, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate collections: %w", err)
	}
	for _, name := range stale {
		if err := tx.clear(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// reindex rebuilds every secondary index entry of a collection.
func (tx *Tx) reindex(ctx context.Context, coll string) error {
	c, err := tx.collection(coll)
	if err != nil {
		return err
	}
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM index_entries WHERE collection = ?`, coll); err != nil {
		return fmt.Errorf("reindex %s: %w", coll, err)
	}
	items, err := tx.GetAll(ctx, coll)
	if err != nil {
		return fmt.Errorf("reindex %s: %w", coll, err)
	}
	for _, item := range items {
		_, pk, err := primaryKey(c, item)
		if err != nil {
			return fmt.Errorf("reindex %s: %w", coll, err)
		}
		if err := tx.writeEntries(ctx, c, pk, item); err != nil {
			return fmt.Errorf("reindex %s: %w", coll, err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// OpKind selects the mutation a batch Op performs.
type OpKind int

const (
	OpPut OpKind = iota
	OpAdd
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Op is one mutation in a Batch. Item is used by put and add, Key by delete.
type Op struct {
	Kind OpKind
	Item record.Object
	Key  record.Value
}

// PutOp returns an upsert operation.
func PutOp(item record.Object) Op { return Op{Kind: OpPut, Item: item} }

// AddOp returns an insert operation.
func AddOp(item record.Object) Op { return Op{Kind: OpAdd, Item: item} }

// DeleteOp returns a delete operation.
func DeleteOp(key record.Value) Op { return Op{Kind: OpDelete, Key: key} }

func (tx *Tx) apply(ctx context.Context, coll string, op Op) error {
	var err error
	switch op.Kind {
	case OpPut:
		_, err = tx.Put(ctx, coll, op.Item)
	case OpAdd:
		_, err = tx.Add(ctx, coll, op.Item)
	case OpDelete:
		err = tx.Delete(ctx, coll, op.Key)
	default:
		err = fmt.Errorf("unknown op kind %v", op.Kind)
	}
	return err
}

// Add inserts item. Fails with ErrConstraint if the key or a unique
// index value already exists.
func (s *Store) Add(ctx context.Context, coll string, item record.Object) (record.Value, error) {
	var key record.Value
	err := s.update(ctx, "add", coll, func(tx *Tx) error {
		var err error
		key, err = tx.Add(ctx, coll, item)
		return err
	})
	return key, err
}

// Put inserts or replaces item.
func (s *Store) Put(ctx context.Context, coll string, item record.Object) (record.Value, error) {
	var key record.Value
	err := s.update(ctx, "put", coll, func(tx *Tx) error {
		var err error
		key, err = tx.Put(ctx, coll, item)
		return err
	})
	return key, err
}

// Get returns the item stored under key and whether it exists.
func (s *Store) Get(ctx context.Context, coll string, key record.Value) (record.Object, bool, error) {
	var (
		obj   record.Object
		found bool
	)
	err := s.view(ctx, "get", coll, func(tx *Tx) error {
		var err error
		obj, found, err = tx.Get(ctx, coll, key)
		return err
	})
	return obj, found, err
}

// Delete removes the item under key.
func (s *Store) Delete(ctx context.Context, coll string, key record.Value) error {
	return s.update(ctx, "delete", coll, func(tx *Tx) error {
		return tx.Delete(ctx, coll, key)
	})
}

// Clear removes every item in the collection.
func (s *Store) Clear(ctx context.Context, coll string) error {
	return s.update(ctx, "clear", coll, func(tx *Tx) error {
		return tx.Clear(ctx, coll)
	})
}

// GetAll returns a snapshot of every item in key order.
func (s *Store) GetAll(ctx context.Context, coll string) ([]record.Object, error) {
	var items []record.Object
	err := s.view(ctx, "get all", coll, func(tx *Tx) error {
		var err error
		items, err = tx.GetAll(ctx, coll)
		return err
	})
	return items, err
}

// Batch applies ops in one transaction. Either every op commits or none does.
func (s *Store) Batch(ctx context.Context, coll string, ops []Op) error {
	return s.update(ctx, "batch", coll, func(tx *Tx) error {
		for i, op := range ops {
			if err := tx.apply(ctx, coll, op); err != nil {
				return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
			}
		}
		return nil
	})
}
