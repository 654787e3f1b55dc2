package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/stroymat/matrag/internal/filestore"
	"github.com/stroymat/matrag/internal/model"
	"github.com/stroymat/matrag/internal/pkg/errcode"
	"github.com/stroymat/matrag/internal/pkg/response"
	"github.com/stroymat/matrag/internal/service"
)

const maxUploadSize = 16 << 20

type BatchHandler struct {
	batches *service.BatchService
	store   filestore.Store
}

func NewBatchHandler(batches *service.BatchService, store filestore.Store) *BatchHandler {
	return &BatchHandler{batches: batches, store: store}
}

type batchRequest struct {
	Items []service.BatchItem `json:"items"`
}

type batchAcceptedResponse struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
	FileKey string `json:"file_key,omitempty"`
}

func (h *BatchHandler) Submit(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	job, err := h.batches.Submit(c.Request.Context(), model.BatchSourceAPI, "", req.Items)
	if err != nil {
		handleError(c, err)
		return
	}
	h.runDetached(c, job.ID)
	response.Success(c, batchAcceptedResponse{BatchID: job.ID, Total: job.Total})
}

// Upload accepts a CSV price list, keeps the raw file in the store and
// queues a batch from its rows.
func (h *BatchHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if file.Size > maxUploadSize {
		response.Error(c, errcode.ErrInvalidFile, "file too large")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext != ".csv" && ext != ".txt" {
		response.Error(c, errcode.ErrInvalidFile, "csv file required")
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()

	items, err := service.ParsePriceList(opened)
	if err != nil {
		handleError(c, err)
		return
	}

	fileKey := buildFileKey(file.Filename)
	if _, err := opened.Seek(0, 0); err == nil {
		if err := h.store.Save(c.Request.Context(), fileKey, opened, file.Size); err != nil {
			logutil.GetLogger(c.Request.Context()).Warn("failed to store price list",
				zap.String("file_key", fileKey), zap.Error(err))
			fileKey = ""
		}
	}

	job, err := h.batches.Submit(c.Request.Context(), model.BatchSourceUpload, fileKey, items)
	if err != nil {
		handleError(c, err)
		return
	}
	h.runDetached(c, job.ID)
	response.Success(c, batchAcceptedResponse{BatchID: job.ID, Total: job.Total, FileKey: fileKey})
}

func (h *BatchHandler) Get(c *gin.Context) {
	job, err := h.batches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, job)
}

func (h *BatchHandler) Retry(c *gin.Context) {
	batchID := c.Param("id")
	requeued, err := h.batches.RetryFailed(c.Request.Context(), batchID)
	if err != nil {
		handleError(c, err)
		return
	}
	if requeued > 0 {
		h.runDetached(c, batchID)
	}
	response.Success(c, gin.H{"batch_id": batchID, "requeued": requeued})
}

// runDetached starts processing on a background context so the batch
// outlives the request.
func (h *BatchHandler) runDetached(c *gin.Context, batchID string) {
	ctx := context.Background()
	go func() {
		if err := h.batches.Run(ctx, batchID, nil); err != nil {
			logutil.GetLogger(ctx).Error("batch run failed",
				zap.String("batch_id", batchID), zap.Error(err))
		}
	}()
}

func buildFileKey(filename string) string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	ext := strings.ToLower(filepath.Ext(filename))
	return hex.EncodeToString(bytes) + ext
}
