package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edgesync/internal/record"
)

func update(id, device string, base int64, data record.Object) record.SyncRecord {
	return record.SyncRecord{
		ID:          id,
		EntityType:  "booking",
		EntityID:    "b1",
		ChangeType:  record.ChangeUpdate,
		Data:        data,
		Timestamp:   time.UnixMilli(1000),
		DeviceID:    device,
		Status:      record.StatusPending,
		BaseVersion: base,
	}
}

func seats(n int64) record.Object { return record.Obj(record.O("seats", record.Int(n))) }

func TestMemory_ApplyIncrementsVersion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	res, err := m.Push(ctx, update("r1", "a", 0, seats(1)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, int64(1), res.Version)

	res, err = m.Push(ctx, update("r2", "a", 1, seats(2)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Version)

	ent, err := m.Fetch(ctx, "booking", "b1")
	require.NoError(t, err)
	assert.Equal(t, seats(2), ent.Data)
	assert.Equal(t, "a", ent.DeviceID)
}

func TestMemory_ConflictRules(t *testing.T) {
	tests := []struct {
		name   string
		device string
		base   int64
		force  bool
		want   Outcome
	}{
		{"other device stale base", "b", 0, false, OutcomeConflict},
		{"other device current base", "b", 1, false, OutcomeApplied},
		{"same device stale base", "a", 0, false, OutcomeApplied},
		{"forced", "b", 0, true, OutcomeApplied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory()
			m.Seed("booking", "b1", seats(5), "a")

			rec := update("r1", tt.device, tt.base, seats(9))
			rec.Force = tt.force
			res, err := m.Push(context.Background(), rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			if tt.want == OutcomeConflict {
				assert.Equal(t, seats(5), res.ServerData)
				assert.Equal(t, int64(1), res.Version)
				assert.False(t, res.ServerTimestamp.IsZero())
			}
		})
	}
}

func TestMemory_IdempotentReplay(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.Push(ctx, update("r1", "a", 0, seats(1)))
	require.NoError(t, err)
	again, err := m.Push(ctx, update("r1", "a", 0, seats(1)))
	require.NoError(t, err)

	assert.Equal(t, first, again)
	ent, err := m.Fetch(ctx, "booking", "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ent.Version, "replayed record applied twice")
	assert.Equal(t, 2, m.Pushes())
}

func TestMemory_ConflictIsNotRemembered(t *testing.T) {
	m := NewMemory()
	m.Seed("booking", "b1", seats(5), "a")
	ctx := context.Background()

	rec := update("r1", "b", 0, seats(9))
	res, err := m.Push(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, OutcomeConflict, res.Outcome)

	rec.Force = true
	res, err = m.Push(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, int64(2), res.Version)
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	m.Seed("booking", "b1", seats(5), "a")

	rec := update("r1", "a", 1, nil)
	rec.ChangeType = record.ChangeDelete
	_, err := m.Push(context.Background(), rec)
	require.NoError(t, err)

	ent, err := m.Fetch(context.Background(), "booking", "b1")
	require.NoError(t, err)
	assert.True(t, ent.Deleted)
	assert.Nil(t, ent.Data)
}

func TestMemory_Validation(t *testing.T) {
	m := NewMemory()

	_, err := m.Push(context.Background(), update("r1", "a", 0, nil))
	require.Error(t, err)
	assert.True(t, record.IsValidation(err))
	assert.False(t, record.Retryable(err))
}

func TestMemory_FailNext(t *testing.T) {
	m := NewMemory()
	boom := record.NetworkError("push", errors.New("timeout"))
	m.FailNext(boom)

	_, err := m.Push(context.Background(), update("r1", "a", 0, seats(1)))
	assert.ErrorIs(t, err, boom)

	_, err = m.Push(context.Background(), update("r1", "a", 0, seats(1)))
	assert.NoError(t, err)
}

func TestMemory_FetchNotFound(t *testing.T) {
	_, err := NewMemory().Fetch(context.Background(), "booking", "missing")
	assert.Equal(t, record.CodeNotFound, record.CodeOf(err))
}

func TestMemory_CanceledContextIsNetwork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Push(ctx, update("r1", "a", 0, seats(1)))
	assert.True(t, record.IsNetwork(err))
}
