package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/stroymat/matrag/internal/config"
	"github.com/stroymat/matrag/internal/fallback"
	"github.com/stroymat/matrag/internal/filestore"
	"github.com/stroymat/matrag/internal/handler"
	"github.com/stroymat/matrag/internal/model"
	"github.com/stroymat/matrag/internal/parser"
	"github.com/stroymat/matrag/internal/pkg/errcode"
	"github.com/stroymat/matrag/internal/repo"
	"github.com/stroymat/matrag/internal/service"
	"github.com/stroymat/matrag/internal/testutil"
)

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vec := make([]float32, 1536)
	for i := range vec {
		vec[i] = 0.001
	}
	vec[int(text[0])%1536] = 1
	return vec, nil
}

func (s *stubEmbedder) ModelName() string {
	return "stub-embedding-model"
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, cleanup := testutil.OpenTestDB(t)
	t.Cleanup(cleanup)

	materialRepo := repo.NewMaterialRepo(db)
	processingRepo := repo.NewProcessingRepo(db)
	batchRepo := repo.NewBatchRepo(db)
	search := fallback.NewManager(nil, materialRepo, time.Minute)

	hybrid := parser.NewHybridParser(parser.NewRegexParser(), nil, 0.8)
	materials := service.NewMaterialService(hybrid, &stubEmbedder{}, materialRepo, search, 2000)
	batches := service.NewBatchService(materials, processingRepo, batchRepo, service.BatchConfig{
		Workers:     2,
		MaxAttempts: 2,
	})
	searchSvc := service.NewSearchService(&stubEmbedder{}, search, materialRepo, 10, 0.5)

	store, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)

	engine := gin.New()
	handler.RegisterRoutes(engine.Group("/api/v1"), handler.RouterDeps{
		Materials: handler.NewMaterialHandler(materials),
		Batches:   handler.NewBatchHandler(batches, store),
		Search:    handler.NewSearchHandler(searchSvc),
		Health:    handler.NewHealthHandler(db, nil, search, false),
	})
	return engine
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var parsed apiResponse
	if resp.Body.Len() > 0 {
		_ = json.Unmarshal(resp.Body.Bytes(), &parsed)
	}
	return resp, parsed
}

func TestMaterialEndpoints(t *testing.T) {
	router := setupRouter(t)

	resp, result := doJSON(t, router, http.MethodPost, "/api/v1/materials/process", map[string]interface{}{
		"name":  "Гипсокартон Knauf 12.5мм (50 шт/упак)",
		"unit":  "шт",
		"price": 15.0,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Zero(t, result.Code)

	var material model.Material
	require.NoError(t, json.Unmarshal(result.Data, &material))
	require.Equal(t, "Knauf", material.Brand)
	require.InDelta(t, 0.3, material.PricePerUnit, 1e-9)

	resp, result = doJSON(t, router, http.MethodGet, "/api/v1/materials/"+material.ID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var fetched model.Material
	require.NoError(t, json.Unmarshal(result.Data, &fetched))
	require.Equal(t, material.ID, fetched.ID)

	resp, result = doJSON(t, router, http.MethodGet, "/api/v1/materials/search?q=гипсокартон", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var searchResult service.SearchResult
	require.NoError(t, json.Unmarshal(result.Data, &searchResult))
	require.Equal(t, fallback.BackendPGVector, searchResult.Backend)

	resp, result = doJSON(t, router, http.MethodDelete, "/api/v1/materials/"+material.ID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Zero(t, result.Code)

	_, result = doJSON(t, router, http.MethodGet, "/api/v1/materials/"+material.ID, nil)
	require.Equal(t, errcode.ErrNotFound, result.Code)
}

func TestMaterialParse_DoesNotPersist(t *testing.T) {
	router := setupRouter(t)

	resp, result := doJSON(t, router, http.MethodPost, "/api/v1/materials/parse", map[string]interface{}{
		"name":  "Пена монтажная 65л",
		"unit":  "шт",
		"price": 250.0,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Zero(t, result.Code)

	var parsed model.ParsedMaterial
	require.NoError(t, json.Unmarshal(result.Data, &parsed))
	require.Equal(t, "Пена монтажная 65л", parsed.Name)
	require.Equal(t, parser.MethodRegex, parsed.ParseMethod)
}

func TestMaterialGet_NotFound(t *testing.T) {
	router := setupRouter(t)

	resp, result := doJSON(t, router, http.MethodGet, "/api/v1/materials/00000000-0000-0000-0000-000000000000", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, errcode.ErrNotFound, result.Code)
}

func TestMaterialProcess_BadRequest(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials/process", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var result apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, errcode.ErrInvalid, result.Code)
}

func TestBatchEndpoints(t *testing.T) {
	router := setupRouter(t)

	resp, result := doJSON(t, router, http.MethodPost, "/api/v1/materials/batch", map[string]interface{}{
		"items": []map[string]interface{}{
			{"name": "Цемент М500", "unit": "мешок", "price": 410},
			{"name": "Песок строительный", "unit": "т", "price": 900},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Zero(t, result.Code)

	var accepted struct {
		BatchID string `json:"batch_id"`
		Total   int    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(result.Data, &accepted))
	require.NotEmpty(t, accepted.BatchID)
	require.Equal(t, 2, accepted.Total)

	// the batch runs detached; poll until it settles
	deadline := time.Now().Add(10 * time.Second)
	var job model.BatchJob
	for {
		resp, result = doJSON(t, router, http.MethodGet, "/api/v1/materials/batch/"+accepted.BatchID, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		require.NoError(t, json.Unmarshal(result.Data, &job))
		if job.Status == model.BatchStatusDone || job.Status == model.BatchStatusFailed {
			break
		}
		require.True(t, time.Now().Before(deadline), "batch did not settle, status %s", job.Status)
		time.Sleep(100 * time.Millisecond)
	}
	require.Equal(t, model.BatchStatusDone, job.Status)
	require.Equal(t, 2, job.Completed)
	require.Zero(t, job.Failed)
}

func TestBatchUpload(t *testing.T) {
	router := setupRouter(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "prices.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("Наименование;Ед.;Цена\nГрунтовка глубокого проникновения;л;180\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials/batch/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var result apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Zero(t, result.Code)

	var accepted struct {
		BatchID string `json:"batch_id"`
		Total   int    `json:"total"`
		FileKey string `json:"file_key"`
	}
	require.NoError(t, json.Unmarshal(result.Data, &accepted))
	require.Equal(t, 1, accepted.Total)
	require.NotEmpty(t, accepted.FileKey)
}

func TestBatchUpload_RejectsNonCSV(t *testing.T) {
	router := setupRouter(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "prices.xlsx")
	require.NoError(t, err)
	_, err = part.Write([]byte("whatever"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials/batch/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var result apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, errcode.ErrInvalidFile, result.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var status struct {
		Database bool `json:"database"`
		Tunnel   bool `json:"tunnel"`
		Qdrant   bool `json:"qdrant"`
		AI       bool `json:"ai"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &status))
	require.True(t, status.Database)
	require.True(t, status.Tunnel)
	require.False(t, status.Qdrant)
	require.False(t, status.AI)
}
