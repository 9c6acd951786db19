// Package ordered provides a generic ordered collection with list
// semantics over a durable SQLite row store. Items occupy contiguous,
// zero-based ordinal positions; positional reads support negative
// indexing and slicing, and inserts and deletes renumber the key space
// so no gaps ever appear in iteration order.
package ordered

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
)

var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrUnknownField    = errors.New("unknown field")
	ErrZeroStep        = errors.New("slice step cannot be zero")
	ErrBadSchema       = errors.New("bad schema")
)

// Store is an ordered, durable collection of T. The primary key of the
// underlying table doubles as the order key: key = position + 1, so keys
// are strictly positive and the negate/shift renumbering used by Insert
// and Delete never collides with live keys.
//
// All mutating operations commit before returning. A store-level RWMutex
// serializes renumbering against concurrent reads, so a reader never
// observes a half-shifted key space.
type Store[T any] struct {
	mu     sync.RWMutex
	db     *sql.DB
	schema Schema[T]

	names      []string
	known      map[string]bool
	selectList string
	insertList string
	updateList string
}

// New creates the backing table if needed and returns a store bound to it.
func New[T any](ctx context.Context, db *sql.DB, schema Schema[T]) (*Store[T], error) {
	if schema.Table == "" || len(schema.Columns) == 0 {
		return nil, fmt.Errorf("%w: table and columns are required", ErrBadSchema)
	}

	if schema.Encode == nil || schema.Decode == nil {
		return nil, fmt.Errorf("%w: encode and decode are required", ErrBadSchema)
	}

	store := &Store[T]{
		db:     db,
		schema: schema,
		known:  make(map[string]bool, len(schema.Columns)),
	}

	defs := make([]string, 0, len(schema.Columns))
	placeholders := make([]string, 0, len(schema.Columns))
	sets := make([]string, 0, len(schema.Columns))

	for _, column := range schema.Columns {
		if column.Name == "id" || column.Name == PosKey {
			return nil, fmt.Errorf("%w: column name %q is reserved", ErrBadSchema, column.Name)
		}

		store.names = append(store.names, column.Name)
		store.known[column.Name] = true

		defs = append(defs, column.Name+" "+column.Type)
		placeholders = append(placeholders, "?")
		sets = append(sets, column.Name+" = ?")
	}

	store.selectList = "id, " + strings.Join(store.names, ", ")
	store.insertList = "(id, " + strings.Join(store.names, ", ") + ") VALUES (?, " + strings.Join(placeholders, ", ") + ")"
	store.updateList = strings.Join(sets, ", ")

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, %s)", schema.Table, strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("can't create table %s: %w", schema.Table, err)
	}

	return store, nil
}

// Len returns the number of stored items.
func (that *Store[T]) Len(ctx context.Context) (int, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.countLocked(ctx)
}

// Append adds the item after the last current position and returns its
// new position.
func (that *Store[T]) Append(ctx context.Context, item T) (int64, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.appendLocked(ctx, item)
}

// Insert places the item at the given position, shifting every existing
// item at or after it one slot later. Out-of-range positions clamp the
// way list insertion does: negative positions count from the end but
// never go below zero, and anything at or past the end appends.
//
// Making room renumbers every key at or after the target inside one
// transaction: keys are negated (moving them to the disjoint negative
// key space), shifted one slot later there, and negated back.
func (that *Store[T]) Insert(ctx context.Context, position int64, item T) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	length, err := that.countLocked(ctx)
	if err != nil {
		return err
	}

	if position < 0 {
		position += int64(length)
		if position < 0 {
			position = 0
		}
	}

	if position >= int64(length) {
		_, err = that.appendLocked(ctx, item)
		return err
	}

	row, err := that.schema.Encode(item)
	if err != nil {
		return fmt.Errorf("failed to encode item: %w", err)
	}

	tx, err := that.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	target := position + 1

	shifts := []string{
		fmt.Sprintf("UPDATE %s SET id = -id WHERE id >= ?", that.schema.Table),
		fmt.Sprintf("UPDATE %s SET id = id - 1 WHERE id < 0", that.schema.Table),
		fmt.Sprintf("UPDATE %s SET id = -id WHERE id < 0", that.schema.Table),
	}

	if _, err = tx.ExecContext(ctx, shifts[0], target); err != nil {
		return fmt.Errorf("failed to shift rows: %w", err)
	}

	for _, shift := range shifts[1:] {
		if _, err = tx.ExecContext(ctx, shift); err != nil {
			return fmt.Errorf("failed to shift rows: %w", err)
		}
	}

	if err = that.insertRowTx(ctx, tx, target, row); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert: %w", err)
	}

	return nil
}

// Get returns the item at the position. Negative positions count from
// the end; anything out of range fails with ErrIndexOutOfRange.
func (that *Store[T]) Get(ctx context.Context, position int64) (T, error) {
	var zero T

	that.mu.RLock()
	defer that.mu.RUnlock()

	length, err := that.countLocked(ctx)
	if err != nil {
		return zero, err
	}

	index, err := normalizeIndex(position, length)
	if err != nil {
		return zero, err
	}

	return that.getLocked(ctx, index)
}

// Slice returns the items selected by Python-style slice semantics:
// bounds clamp instead of failing, negative bounds count from the end,
// and step sets the stride (negative for descending). Only a zero step
// is an error.
func (that *Store[T]) Slice(ctx context.Context, start, stop, step int64) ([]T, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	length, err := that.countLocked(ctx)
	if err != nil {
		return nil, err
	}

	indices, err := sliceIndices(start, stop, step, length)
	if err != nil {
		return nil, err
	}

	items := make([]T, 0, len(indices))
	for _, index := range indices {
		item, err := that.getLocked(ctx, index)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

// Set replaces the item at the position in place, with the same indexing
// rules as Get.
func (that *Store[T]) Set(ctx context.Context, position int64, item T) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	length, err := that.countLocked(ctx)
	if err != nil {
		return err
	}

	index, err := normalizeIndex(position, length)
	if err != nil {
		return err
	}

	row, err := that.schema.Encode(item)
	if err != nil {
		return fmt.Errorf("failed to encode item: %w", err)
	}

	args := make([]any, 0, len(that.names)+1)
	for _, name := range that.names {
		args = append(args, row[name])
	}
	args = append(args, index+1)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", that.schema.Table, that.updateList)
	if _, err = that.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update row: %w", err)
	}

	return nil
}

// Delete removes the item at the position and renumbers the keys after it
// so the enumerable order stays gap-free.
func (that *Store[T]) Delete(ctx context.Context, position int64) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	length, err := that.countLocked(ctx)
	if err != nil {
		return err
	}

	index, err := normalizeIndex(position, length)
	if err != nil {
		return err
	}

	tx, err := that.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err = that.deleteTx(ctx, tx, index); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}

// DeleteSlice removes every item selected by the slice, using the same
// semantics as Slice. Removal happens highest position first so earlier
// removals don't displace later ones; the whole operation is one
// transaction.
func (that *Store[T]) DeleteSlice(ctx context.Context, start, stop, step int64) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	length, err := that.countLocked(ctx)
	if err != nil {
		return err
	}

	indices, err := sliceIndices(start, stop, step, length)
	if err != nil {
		return err
	}

	sort.Sort(sort.Reverse(sort.IntSlice(indices)))

	tx, err := that.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, index := range indices {
		if err = that.deleteTx(ctx, tx, index); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}

// FindBy returns, in ascending order, every item whose declared field
// equals the value. A field outside the schema fails with ErrUnknownField.
func (that *Store[T]) FindBy(ctx context.Context, field string, value any) ([]T, error) {
	if !that.known[field] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	that.mu.RLock()
	defer that.mu.RUnlock()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY id ASC", that.selectList, that.schema.Table, field)

	rows, err := that.db.QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query by %s: %w", field, err)
	}
	defer rows.Close()

	return that.decodeRows(rows)
}

// Ascending returns a lazy, single-pass iterator over the items in
// position order. The store is re-read every time the sequence is
// ranged, so mutations between iterations are visible.
func (that *Store[T]) Ascending(ctx context.Context) iter.Seq2[T, error] {
	return that.iterate(ctx, "ASC")
}

// Descending is Ascending in reverse position order.
func (that *Store[T]) Descending(ctx context.Context) iter.Seq2[T, error] {
	return that.iterate(ctx, "DESC")
}

// Equal reports whether the store's contents, in ascending order, equal
// the given sequence: same length, pairwise-equal elements under eq.
func (that *Store[T]) Equal(ctx context.Context, other []T, eq func(a, b T) bool) (bool, error) {
	items, err := that.Slice(ctx, 0, int64(len(other))+1, 1)
	if err != nil {
		return false, err
	}

	if len(items) != len(other) {
		return false, nil
	}

	for i, item := range items {
		if !eq(item, other[i]) {
			return false, nil
		}
	}

	return true, nil
}

func (that *Store[T]) iterate(ctx context.Context, order string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		rows, err := that.snapshotRows(ctx, order)
		if err != nil {
			yield(zero, err)
			return
		}

		for _, row := range rows {
			item, err := that.schema.Decode(row)
			if !yield(item, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// snapshotRows reads the raw rows under the read lock so an iterator
// never observes a renumbering in progress, then releases the lock so
// the caller's loop body may mutate the store.
func (that *Store[T]) snapshotRows(ctx context.Context, order string) ([]Row, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id %s", that.selectList, that.schema.Table, order)

	rows, err := that.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var snapshot []Row
	for rows.Next() {
		row, err := that.scanRow(rows)
		if err != nil {
			return nil, err
		}
		snapshot = append(snapshot, row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return snapshot, nil
}

func (that *Store[T]) countLocked(ctx context.Context) (int, error) {
	var count int

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", that.schema.Table)
	if err := that.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}

	return count, nil
}

func (that *Store[T]) appendLocked(ctx context.Context, item T) (int64, error) {
	row, err := that.schema.Encode(item)
	if err != nil {
		return 0, fmt.Errorf("failed to encode item: %w", err)
	}

	length, err := that.countLocked(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := that.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err = that.insertRowTx(ctx, tx, int64(length)+1, row); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit append: %w", err)
	}

	return int64(length), nil
}

func (that *Store[T]) insertRowTx(ctx context.Context, tx *sql.Tx, key int64, row Row) error {
	args := make([]any, 0, len(that.names)+1)
	args = append(args, key)
	for _, name := range that.names {
		args = append(args, row[name])
	}

	query := fmt.Sprintf("INSERT INTO %s %s", that.schema.Table, that.insertList)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}

	return nil
}

// deleteTx removes the row at the zero-based index and tightens the keys
// above it. The keys are negated into the disjoint negative space, then
// shifted one slot earlier and re-negated in a single statement: -j maps
// straight to j-1, so an ascending scan never lands on a key that still
// exists. (Shifting towards zero in two steps would: -4 becomes -3 while
// -3 is still occupied.)
func (that *Store[T]) deleteTx(ctx context.Context, tx *sql.Tx, index int) error {
	key := int64(index) + 1

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", that.schema.Table), key); err != nil {
		return fmt.Errorf("failed to delete row: %w", err)
	}

	negate := fmt.Sprintf("UPDATE %s SET id = -id WHERE id > ?", that.schema.Table)
	if _, err := tx.ExecContext(ctx, negate, key); err != nil {
		return fmt.Errorf("failed to tighten rows: %w", err)
	}

	tighten := fmt.Sprintf("UPDATE %s SET id = -(id + 1) WHERE id < 0", that.schema.Table)
	if _, err := tx.ExecContext(ctx, tighten); err != nil {
		return fmt.Errorf("failed to tighten rows: %w", err)
	}

	return nil
}

func (that *Store[T]) getLocked(ctx context.Context, index int) (T, error) {
	var zero T

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", that.selectList, that.schema.Table)

	rows, err := that.db.QueryContext(ctx, query, int64(index)+1)
	if err != nil {
		return zero, fmt.Errorf("failed to query row: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return zero, fmt.Errorf("failed to read row: %w", err)
		}
		return zero, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	row, err := that.scanRow(rows)
	if err != nil {
		return zero, err
	}

	return that.schema.Decode(row)
}

func (that *Store[T]) decodeRows(rows *sql.Rows) ([]T, error) {
	var items []T

	for rows.Next() {
		row, err := that.scanRow(rows)
		if err != nil {
			return nil, err
		}

		item, err := that.schema.Decode(row)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return items, nil
}

func (that *Store[T]) scanRow(rows *sql.Rows) (Row, error) {
	dest := make([]any, len(that.names)+1)
	for i := range dest {
		dest[i] = new(any)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	key, _ := (*dest[0].(*any)).(int64)

	row := make(Row, len(that.names)+1)
	row[PosKey] = key - 1

	for i, name := range that.names {
		value := *dest[i+1].(*any)
		if raw, ok := value.([]byte); ok {
			value = append([]byte(nil), raw...)
		}
		row[name] = value
	}

	return row, nil
}

func normalizeIndex(position int64, length int) (int, error) {
	index := position
	if index < 0 {
		index += int64(length)
	}

	if index < 0 || index >= int64(length) {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfRange, position)
	}

	return int(index), nil
}

// sliceIndices expands slice bounds into concrete indices with
// Python-style clamping: nothing here ever fails except a zero step.
func sliceIndices(start, stop, step int64, length int) ([]int, error) {
	if step == 0 {
		return nil, ErrZeroStep
	}

	size := int64(length)

	clamp := func(bound, low, high int64) int64 {
		if bound < 0 {
			bound += size
			if bound < low {
				bound = low
			}
		} else if bound > high {
			bound = high
		}
		return bound
	}

	var indices []int

	if step > 0 {
		start = clamp(start, 0, size)
		stop = clamp(stop, 0, size)
		for i := start; i < stop; i += step {
			indices = append(indices, int(i))
		}
		return indices, nil
	}

	start = clamp(start, -1, size-1)
	stop = clamp(stop, -1, size-1)
	for i := start; i > stop; i += step {
		indices = append(indices, int(i))
	}

	return indices, nil
}
