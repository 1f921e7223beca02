package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilnote/veilnote/pkg/profile"
)

func TestClientPush(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sync/v1/ops/push", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(PushResponse{Acks: []Ack{{OpID: "op-1", Accepted: true}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Push(context.Background(), "tok-1", PushRequest{
		DeviceID:   "device-1",
		Profile:    "real",
		Operations: []Operation{{OpID: "op-1", EntityID: "e1", OpType: OpUpsert, ClientTS: 42}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Acks, 1)
	assert.True(t, resp.Acks[0].Accepted)

	assert.Equal(t, "device-1", got.DeviceID)
	require.Len(t, got.Operations, 1)
	assert.Equal(t, int64(42), got.Operations[0].ClientTS)
}

func TestClientPull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/sync/v1/ops/pull", r.URL.Path)
		assert.Equal(t, "real", r.URL.Query().Get("profile"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "c41", r.URL.Query().Get("cursor"))

		json.NewEncoder(w).Encode(PullResponse{
			Cursor:     strptr("c42"),
			Operations: []RemoteOperation{{OpID: "op-7", EntityID: "e7"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Pull(context.Background(), "tok-1", profile.Real, 50, strptr("c41"))
	require.NoError(t, err)
	require.NotNil(t, resp.Cursor)
	assert.Equal(t, "c42", *resp.Cursor)
	require.Len(t, resp.Operations, 1)
	assert.Equal(t, "op-7", resp.Operations[0].OpID)
}

func TestClientPullFirstSyncOmitsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("cursor"))
		json.NewEncoder(w).Encode(PullResponse{})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Pull(context.Background(), "tok-1", profile.Real, 10, nil)
	require.NoError(t, err)
}

func TestClientRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/v1/devices/register", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "device-1", body["device_id"])
		assert.Equal(t, "decoy", body["profile"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Register(context.Background(), "tok-1", "device-1", profile.Decoy)
	require.NoError(t, err)
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Push(context.Background(), "tok-1", PushRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.NotErrorIs(t, err, ErrNetwork)
}

func TestClientNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	_, err := NewClient(srv.URL).Push(context.Background(), "tok-1", PushRequest{})
	require.ErrorIs(t, err, ErrNetwork)
}
