package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edgesync/internal/record"
)

func seedCounters(t *testing.T, s *Store, n int) {
	t.Helper()
	ops := make([]Op, 0, n)
	for i := 1; i <= n; i++ {
		ops = append(ops, PutOp(record.Obj(
			record.O("n", record.Int(i)),
			record.O("even", record.Bool(i%2 == 0)),
		)))
	}
	require.NoError(t, s.Batch(context.Background(), "counters", ops))
}

func ns(items []record.Object) []int64 {
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.GetInt("n")
	}
	return out
}

func TestQuery_Ranges(t *testing.T) {
	s := createTestStore(t)
	seedCounters(t, s, 10)
	ctx := context.Background()

	tests := []struct {
		name string
		opts QueryOptions
		want []int64
	}{
		{"only", QueryOptions{Range: Only(record.Int(4))}, []int64{4}},
		{"closed bound", QueryOptions{Range: Bound(record.Int(3), record.Int(5), false, false)}, []int64{3, 4, 5}},
		{"open bound", QueryOptions{Range: Bound(record.Int(3), record.Int(5), true, true)}, []int64{4}},
		{"lower", QueryOptions{Range: LowerBound(record.Int(8), false)}, []int64{8, 9, 10}},
		{"upper open", QueryOptions{Range: UpperBound(record.Int(3), true)}, []int64{1, 2}},
		{"prev", QueryOptions{Range: LowerBound(record.Int(8), false), Direction: Prev}, []int64{10, 9, 8}},
		{"limit", QueryOptions{Limit: 3}, []int64{1, 2, 3}},
		{"offset", QueryOptions{Offset: 8}, []int64{9, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := s.Query(ctx, "counters", tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ns(items))
		})
	}
}

func TestQuery_OffsetBeforeFilter(t *testing.T) {
	s := createTestStore(t)
	seedCounters(t, s, 10)

	// Offset skips cursor matches (1..3), then Limit counts filtered items.
	items, err := s.Query(context.Background(), "counters", QueryOptions{
		Offset: 3,
		Limit:  2,
		Filter: func(obj record.Object) bool { return obj.GetBool("even") },
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 6}, ns(items))
}

func TestQuery_EmptyResultIsNotNil(t *testing.T) {
	s := createTestStore(t)

	items, err := s.Query(context.Background(), "counters", QueryOptions{Range: Only(record.Int(99))})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestQuery_IndexOrderTiesByKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, p := range []record.Object{
		person("p3", "c@example.com", "Lisbon"),
		person("p1", "a@example.com", "Lisbon"),
		person("p2", "b@example.com", "Braga"),
	} {
		_, err := s.Put(ctx, "people", p)
		require.NoError(t, err)
	}

	items, err := s.Query(ctx, "people", QueryOptions{Index: "city"})
	require.NoError(t, err)
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.GetString("id")
	}
	assert.Equal(t, []string{"p2", "p1", "p3"}, ids)
}

func TestQuery_UnknownIndex(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Query(context.Background(), "people", QueryOptions{Index: "nope"})
	assert.ErrorIs(t, err, ErrUnknownIndex)
}

func TestCount(t *testing.T) {
	s := createTestStore(t)
	seedCounters(t, s, 5)
	ctx := context.Background()

	n, err := s.Count(ctx, "counters", CountOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = s.Count(ctx, "counters", CountOptions{Range: LowerBound(record.Int(4), false)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
