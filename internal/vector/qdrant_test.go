package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stroymat/matrag/internal/config"
)

func newTestClient(t *testing.T, handlerFn http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handlerFn)
	t.Cleanup(server.Close)
	return NewClient(config.QdrantConfig{
		Endpoint:   server.URL,
		APIKey:     "test-key",
		Collection: "materials",
		VectorDim:  4,
	})
}

func TestClientEnsureCollection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/collections/materials", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("api-key"))

		var req createCollectionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, 4, req.Vectors.Size)
		require.Equal(t, "Cosine", req.Vectors.Distance)
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, client.EnsureCollection(context.Background()))
}

func TestClientEnsureCollection_AlreadyExists(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":{"error":"collection materials already exists"}}`))
	})
	require.NoError(t, client.EnsureCollection(context.Background()))
}

func TestClientUpsert(t *testing.T) {
	var got upsertRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/materials/points", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := client.Upsert(context.Background(), []Point{
		{ID: "id-1", Vector: []float32{0.1, 0.2, 0.3, 0.4}, Payload: map[string]interface{}{"name": "гипсокартон"}},
	})
	require.NoError(t, err)
	require.Len(t, got.Points, 1)
	require.Equal(t, "id-1", got.Points[0].ID)
}

func TestClientUpsert_EmptyIsNoop(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	require.NoError(t, client.Upsert(context.Background(), nil))
}

func TestClientSearch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/collections/materials/points/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, 5, req.Limit)
		require.True(t, req.WithPayload)

		_, _ = w.Write([]byte(`{"result":[{"id":"id-1","score":0.91,"payload":{"name":"цемент"}},{"id":"id-2","score":0.63,"payload":null}]}`))
	})

	points, err := client.Search(context.Background(), []float32{0.1, 0.2, 0.3, 0.4}, 5)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, "id-1", points[0].ID)
	require.InDelta(t, 0.91, float64(points[0].Score), 1e-6)
	require.Equal(t, "цемент", points[0].Payload["name"])
}

func TestClientSearch_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	_, err := client.Search(context.Background(), []float32{0.1}, 1)
	require.Error(t, err)
}

func TestClientHealthy(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	require.True(t, client.Healthy(context.Background()))
}

func TestClientHealthy_Down(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	require.False(t, client.Healthy(context.Background()))
}
