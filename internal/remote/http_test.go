package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edgesync/internal/record"
)

func newTestServer(t *testing.T) (*Memory, *HTTPClient, *httptest.Server) {
	t.Helper()
	mem := NewMemory()
	srv := httptest.NewServer(NewServer(mem, nil).Routes())
	t.Cleanup(srv.Close)
	return mem, NewHTTPClient(srv.URL, nil), srv
}

func TestHTTP_PushApplied(t *testing.T) {
	mem, client, _ := newTestServer(t)

	rec := update("r1", "a", 0, record.Obj(
		record.O("seats", record.Int(2)),
		record.O("note", record.String("window <please>")),
	))
	res, err := client.Push(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, int64(1), res.Version)

	ent, err := mem.Fetch(context.Background(), "booking", "b1")
	require.NoError(t, err)
	assert.Equal(t, rec.Data, ent.Data)
}

func TestHTTP_PushConflict(t *testing.T) {
	mem, client, _ := newTestServer(t)
	mem.Seed("booking", "b1", seats(5), "other")

	res, err := client.Push(context.Background(), update("r1", "a", 0, seats(9)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	assert.Equal(t, seats(5), res.ServerData)
	assert.Equal(t, int64(1), res.Version)
	assert.False(t, res.ServerTimestamp.IsZero())
}

func TestHTTP_PushValidation(t *testing.T) {
	_, client, _ := newTestServer(t)

	_, err := client.Push(context.Background(), update("r1", "a", 0, nil))
	require.Error(t, err)
	assert.True(t, record.IsValidation(err))
	assert.Contains(t, err.Error(), "422")
}

func TestHTTP_ServerNetworkFailure(t *testing.T) {
	mem, client, _ := newTestServer(t)
	mem.FailNext(record.NetworkError("push", errors.New("upstream timeout")))

	_, err := client.Push(context.Background(), update("r1", "a", 0, seats(1)))
	require.Error(t, err)
	assert.True(t, record.IsNetwork(err))
	assert.True(t, record.Retryable(err))
}

func TestHTTP_TransportFailure(t *testing.T) {
	_, client, srv := newTestServer(t)
	srv.Close()

	_, err := client.Push(context.Background(), update("r1", "a", 0, seats(1)))
	require.Error(t, err)
	assert.True(t, record.IsNetwork(err))
}

func TestHTTP_Fetch(t *testing.T) {
	mem, client, _ := newTestServer(t)
	mem.Seed("booking", "b/1", seats(3), "a")

	ent, err := client.Fetch(context.Background(), "booking", "b/1")
	require.NoError(t, err)
	assert.Equal(t, seats(3), ent.Data)
	assert.Equal(t, int64(1), ent.Version)

	_, err = client.Fetch(context.Background(), "booking", "nope")
	assert.Equal(t, record.CodeNotFound, record.CodeOf(err))
}

func TestHTTP_Health(t *testing.T) {
	_, _, srv := newTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		req, err := http.NewRequest(method, srv.URL+"/healthz", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, method)
	}
}
