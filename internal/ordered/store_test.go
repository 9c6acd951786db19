package ordered

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninebox/ninebox-backend/testing/suite"
)

type note struct {
	Label string
	Score int64
}

func noteSchema() Schema[note] {
	return Schema[note]{
		Table: "notes",
		Columns: []Column{
			{Name: "label", Type: "TEXT"},
			{Name: "score", Type: "INTEGER"},
		},
		Encode: func(item note) (Row, error) {
			return Row{"label": item.Label, "score": item.Score}, nil
		},
		Decode: func(row Row) (note, error) {
			return note{Label: row.String("label"), Score: row.Int64("score")}, nil
		},
	}
}

func sameNote(a, b note) bool { return a == b }

func newNoteStore(t *testing.T) (context.Context, *Store[note]) {
	t.Helper()

	ctx, st := suite.New(t)

	store, err := New(ctx, st.Storage.Connection, noteSchema())
	require.NoError(t, err)

	return ctx, store
}

func seed(t *testing.T, labels ...string) (context.Context, *Store[note], []note) {
	t.Helper()

	ctx, store := newNoteStore(t)

	items := make([]note, 0, len(labels))
	for i, label := range labels {
		item := note{Label: label, Score: int64(i * 10)}
		items = append(items, item)

		pos, err := store.Append(ctx, item)
		require.NoError(t, err)
		require.Equal(t, int64(i), pos)
	}

	return ctx, store, items
}

func TestStore_AppendAndGet(t *testing.T) {
	t.Run("append assigns contiguous positions", func(t *testing.T) {
		// Given: an empty store
		ctx, store := newNoteStore(t)

		// When: three items are appended
		for i, label := range []string{"a", "b", "c"} {
			pos, err := store.Append(ctx, note{Label: label})

			// Then: each gets the next zero-based position
			require.NoError(t, err)
			assert.Equal(t, int64(i), pos)
		}

		length, err := store.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, length)
	})

	t.Run("negative index counts from the end", func(t *testing.T) {
		// Given: a store with three items
		ctx, store, items := seed(t, "a", "b", "c")

		// When: reading position -1
		last, err := store.Get(ctx, -1)

		// Then: it is the same item as position len-1
		require.NoError(t, err)
		assert.Equal(t, items[2], last)

		first, err := store.Get(ctx, -3)
		require.NoError(t, err)
		assert.Equal(t, items[0], first)
	})

	t.Run("out of range index fails", func(t *testing.T) {
		// Given: a store with three items
		ctx, store, _ := seed(t, "a", "b", "c")

		// When: reading one past either end
		_, errHigh := store.Get(ctx, 3)
		_, errLow := store.Get(ctx, -4)

		// Then: both fail with ErrIndexOutOfRange
		assert.ErrorIs(t, errHigh, ErrIndexOutOfRange)
		assert.ErrorIs(t, errLow, ErrIndexOutOfRange)
	})
}

func TestStore_Insert(t *testing.T) {
	t.Run("insert shifts later items without gaps", func(t *testing.T) {
		// Given: a store with three items
		ctx, store, _ := seed(t, "a", "b", "c")

		// When: inserting at position 1
		err := store.Insert(ctx, 1, note{Label: "x"})
		require.NoError(t, err)

		// Then: order matches the list equivalent
		equal, err := store.Equal(ctx, []note{
			{Label: "a"}, {Label: "x"}, {Label: "b", Score: 10}, {Label: "c", Score: 20},
		}, sameNote)
		require.NoError(t, err)
		assert.True(t, equal)
	})

	t.Run("insert at length behaves like append", func(t *testing.T) {
		// Given: a store with two items
		ctx, store, _ := seed(t, "a", "b")

		// When: inserting at position equal to the length
		err := store.Insert(ctx, 2, note{Label: "z"})
		require.NoError(t, err)

		// Then: the item lands at the end
		last, err := store.Get(ctx, -1)
		require.NoError(t, err)
		assert.Equal(t, "z", last.Label)
	})

	t.Run("deeply negative insert clamps to the front", func(t *testing.T) {
		// Given: a store with two items
		ctx, store, _ := seed(t, "a", "b")

		// When: inserting far below the front
		err := store.Insert(ctx, -100, note{Label: "z"})
		require.NoError(t, err)

		// Then: the item lands at position zero
		first, err := store.Get(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, "z", first.Label)
	})
}

func TestStore_Set(t *testing.T) {
	// Given: a store with three items
	ctx, store, _ := seed(t, "a", "b", "c")

	// When: replacing the middle item via a negative index
	err := store.Set(ctx, -2, note{Label: "B", Score: 99})
	require.NoError(t, err)

	// Then: only that position changed
	item, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, note{Label: "B", Score: 99}, item)

	length, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, length)
}

func TestStore_Delete(t *testing.T) {
	t.Run("delete tightens positions", func(t *testing.T) {
		// Given: a store with four items
		ctx, store, items := seed(t, "a", "b", "c", "d")

		// When: deleting position 1
		err := store.Delete(ctx, 1)
		require.NoError(t, err)

		// Then: the survivors keep their relative order, gap-free
		equal, err := store.Equal(ctx, []note{items[0], items[2], items[3]}, sameNote)
		require.NoError(t, err)
		assert.True(t, equal)
	})

	t.Run("deleting the front renumbers every later item", func(t *testing.T) {
		// Given: a store where the whole tail sits above the deleted position
		ctx, store, items := seed(t, "a", "b", "c", "d", "e")

		// When: deleting position 0
		err := store.Delete(ctx, 0)
		require.NoError(t, err)

		// Then: each remaining item is addressable one slot earlier
		for i, want := range items[1:] {
			got, getErr := store.Get(ctx, int64(i))
			require.NoError(t, getErr)
			assert.Equal(t, want.Label, got.Label)
		}

		equal, err := store.Equal(ctx, items[1:], sameNote)
		require.NoError(t, err)
		assert.True(t, equal)
	})

	t.Run("delete slice removes every selected position", func(t *testing.T) {
		// Given: a store with five items
		ctx, store, items := seed(t, "a", "b", "c", "d", "e")

		// When: deleting every second item
		err := store.DeleteSlice(ctx, 0, 5, 2)
		require.NoError(t, err)

		// Then: the odd positions remain
		equal, err := store.Equal(ctx, []note{items[1], items[3]}, sameNote)
		require.NoError(t, err)
		assert.True(t, equal)
	})
}

func TestStore_Slice(t *testing.T) {
	ctx, store, items := seed(t, "a", "b", "c", "d", "e")

	t.Run("bounds clamp instead of failing", func(t *testing.T) {
		got, err := store.Slice(ctx, -100, 100, 1)
		require.NoError(t, err)
		assert.Equal(t, items, got)
	})

	t.Run("stride selects every second item", func(t *testing.T) {
		got, err := store.Slice(ctx, 0, 5, 2)
		require.NoError(t, err)
		assert.Equal(t, []note{items[0], items[2], items[4]}, got)
	})

	t.Run("negative step walks backwards", func(t *testing.T) {
		got, err := store.Slice(ctx, -1, -100, -1)
		require.NoError(t, err)
		assert.Equal(t, []note{items[4], items[3], items[2], items[1], items[0]}, got)
	})

	t.Run("empty window yields no items", func(t *testing.T) {
		got, err := store.Slice(ctx, 3, 1, 1)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("zero step fails", func(t *testing.T) {
		_, err := store.Slice(ctx, 0, 5, 0)
		assert.ErrorIs(t, err, ErrZeroStep)
	})
}

func TestStore_FindBy(t *testing.T) {
	t.Run("matches by declared field in order", func(t *testing.T) {
		// Given: a store with a repeated label
		ctx, store := newNoteStore(t)
		for _, item := range []note{{Label: "a", Score: 1}, {Label: "b", Score: 2}, {Label: "a", Score: 3}} {
			_, err := store.Append(ctx, item)
			require.NoError(t, err)
		}

		// When: finding by the repeated label
		got, err := store.FindBy(ctx, "label", "a")

		// Then: both hits come back, ascending
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(1), got[0].Score)
		assert.Equal(t, int64(3), got[1].Score)
	})

	t.Run("unknown field fails", func(t *testing.T) {
		ctx, store := newNoteStore(t)

		_, err := store.FindBy(ctx, "color", "red")
		assert.ErrorIs(t, err, ErrUnknownField)
	})
}

func TestStore_Iteration(t *testing.T) {
	t.Run("ascending yields every item in order", func(t *testing.T) {
		ctx, store, items := seed(t, "a", "b", "c")

		var got []note
		for item, err := range store.Ascending(ctx) {
			require.NoError(t, err)
			got = append(got, item)
		}

		assert.Equal(t, items, got)
	})

	t.Run("descending is the reverse order", func(t *testing.T) {
		ctx, store, items := seed(t, "a", "b", "c")

		var got []note
		for item, err := range store.Descending(ctx) {
			require.NoError(t, err)
			got = append(got, item)
		}

		assert.Equal(t, []note{items[2], items[1], items[0]}, got)
	})

	t.Run("re-ranging observes mutations", func(t *testing.T) {
		ctx, store, _ := seed(t, "a")

		seq := store.Ascending(ctx)

		_, err := store.Append(ctx, note{Label: "b", Score: 10})
		require.NoError(t, err)

		count := 0
		for _, iterErr := range seq {
			require.NoError(t, iterErr)
			count++
		}

		assert.Equal(t, 2, count)
	})
}

func TestStore_Equal(t *testing.T) {
	ctx, store, items := seed(t, "a", "b")

	t.Run("equal contents", func(t *testing.T) {
		equal, err := store.Equal(ctx, items, sameNote)
		require.NoError(t, err)
		assert.True(t, equal)
	})

	t.Run("shorter sequence differs", func(t *testing.T) {
		equal, err := store.Equal(ctx, items[:1], sameNote)
		require.NoError(t, err)
		assert.False(t, equal)
	})

	t.Run("different element differs", func(t *testing.T) {
		equal, err := store.Equal(ctx, []note{items[0], {Label: "z"}}, sameNote)
		require.NoError(t, err)
		assert.False(t, equal)
	})
}

func TestStore_ListEquivalence(t *testing.T) {
	// Given: a store and a reference in-memory list
	ctx, store := newNoteStore(t)
	var reference []note

	appendBoth := func(item note) {
		_, err := store.Append(ctx, item)
		require.NoError(t, err)
		reference = append(reference, item)
	}
	insertBoth := func(pos int64, item note) {
		require.NoError(t, store.Insert(ctx, pos, item))
		index := pos
		if index < 0 {
			index += int64(len(reference))
			if index < 0 {
				index = 0
			}
		}
		if index > int64(len(reference)) {
			index = int64(len(reference))
		}
		reference = append(reference[:index], append([]note{item}, reference[index:]...)...)
	}
	deleteBoth := func(pos int64) {
		require.NoError(t, store.Delete(ctx, pos))
		index := pos
		if index < 0 {
			index += int64(len(reference))
		}
		reference = append(reference[:index], reference[index+1:]...)
	}
	setBoth := func(pos int64, item note) {
		require.NoError(t, store.Set(ctx, pos, item))
		index := pos
		if index < 0 {
			index += int64(len(reference))
		}
		reference[index] = item
	}

	// When: a mixed sequence of operations runs against both
	appendBoth(note{Label: "a"})
	appendBoth(note{Label: "b", Score: 1})
	insertBoth(0, note{Label: "c"})
	insertBoth(-1, note{Label: "d", Score: 2})
	appendBoth(note{Label: "e"})
	setBoth(-2, note{Label: "E", Score: 9})
	deleteBoth(1)
	insertBoth(100, note{Label: "f"})
	deleteBoth(-1)

	// Then: ascending iteration matches the reference list exactly
	equal, err := store.Equal(ctx, reference, sameNote)
	require.NoError(t, err)
	assert.True(t, equal)
}

func TestStore_SchemaValidation(t *testing.T) {
	ctx, st := suite.New(t)

	t.Run("reserved column name is rejected", func(t *testing.T) {
		schema := noteSchema()
		schema.Table = "bad_notes"
		schema.Columns = append(schema.Columns, Column{Name: "pos", Type: "INTEGER"})

		_, err := New(ctx, st.Storage.Connection, schema)
		assert.ErrorIs(t, err, ErrBadSchema)
	})

	t.Run("missing codec is rejected", func(t *testing.T) {
		schema := noteSchema()
		schema.Table = "bad_notes2"
		schema.Decode = nil

		_, err := New(ctx, st.Storage.Connection, schema)
		assert.ErrorIs(t, err, ErrBadSchema)
	})
}
