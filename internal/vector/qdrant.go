package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stroymat/matrag/internal/config"
)

// Point is one indexed material vector. IDs must be UUIDs, which is
// what the service generates for materials.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// Client talks to Qdrant over its REST API.
type Client struct {
	endpoint   string
	apiKey     string
	collection string
	vectorDim  int
	httpClient *http.Client
}

func NewClient(cfg config.QdrantConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		vectorDim:  cfg.VectorDim,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Collection() string {
	return c.collection
}

type createCollectionRequest struct {
	Vectors vectorsConfig `json:"vectors"`
}

type vectorsConfig struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

// EnsureCollection creates the collection with cosine distance; an
// already-existing collection is not an error.
func (c *Client) EnsureCollection(ctx context.Context) error {
	body := createCollectionRequest{
		Vectors: vectorsConfig{Size: c.vectorDim, Distance: "Cosine"},
	}
	status, respBody, err := c.do(ctx, http.MethodPut, "/collections/"+c.collection, body)
	if err != nil {
		return err
	}
	if status == http.StatusConflict || strings.Contains(string(respBody), "already exists") {
		return nil
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("qdrant create collection failed: %d: %s", status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

type upsertRequest struct {
	Points []Point `json:"points"`
}

func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	status, respBody, err := c.do(ctx, http.MethodPut,
		"/collections/"+c.collection+"/points?wait=true", upsertRequest{Points: points})
	if err != nil {
		return err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("qdrant upsert failed: %d: %s", status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResponse struct {
	Result []struct {
		ID      interface{}            `json:"id"`
		Score   float32                `json:"score"`
		Payload map[string]interface{} `json:"payload"`
	} `json:"result"`
}

func (c *Client) Search(ctx context.Context, vector []float32, limit int) ([]ScoredPoint, error) {
	status, respBody, err := c.do(ctx, http.MethodPost,
		"/collections/"+c.collection+"/points/search",
		searchRequest{Vector: vector, Limit: limit, WithPayload: true})
	if err != nil {
		return nil, err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("qdrant search failed: %d: %s", status, strings.TrimSpace(string(respBody)))
	}
	var out searchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	points := make([]ScoredPoint, 0, len(out.Result))
	for _, item := range out.Result {
		points = append(points, ScoredPoint{
			ID:      fmt.Sprintf("%v", item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return points, nil
}

type deleteRequest struct {
	Points []string `json:"points"`
}

func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	status, respBody, err := c.do(ctx, http.MethodPost,
		"/collections/"+c.collection+"/points/delete?wait=true", deleteRequest{Points: ids})
	if err != nil {
		return err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("qdrant delete failed: %d: %s", status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

func (c *Client) Healthy(ctx context.Context) bool {
	status, _, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	return err == nil && status == http.StatusOK
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
