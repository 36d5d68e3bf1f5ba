package identity

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edgesync/internal/store"
)

func schema() store.Schema {
	return store.Schema{Name: "identity-test", Version: 1, Collections: []store.Collection{CollectionSchema}}
}

func TestStoreProvider_StableAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")
	ctx := context.Background()

	s1, err := store.Open(ctx, path, schema())
	require.NoError(t, err)
	id1, err := NewStoreProvider(s1).DeviceID(ctx)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	parsed, err := uuid.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())

	s2, err := store.Open(ctx, path, schema())
	require.NoError(t, err)
	defer s2.Close()
	id2, err := NewStoreProvider(s2).DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestStoreProvider_Memoized(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "device.db"), schema())
	require.NoError(t, err)
	defer s.Close()

	p := NewStoreProvider(s)
	id1, err := p.DeviceID(ctx)
	require.NoError(t, err)

	// The cached id is returned even if the document goes away.
	require.NoError(t, s.Clear(ctx, Collection))
	id2, err := p.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestStatic(t *testing.T) {
	id, err := Static("device-a").DeviceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "device-a", id)
}
