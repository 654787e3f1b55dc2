package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stroymat/matrag/internal/pkg/errcode"
	"github.com/stroymat/matrag/internal/pkg/response"
	"github.com/stroymat/matrag/internal/service"
)

type SearchHandler struct {
	search *service.SearchService
}

func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		response.Error(c, errcode.ErrInvalid, "q is required")
		return
	}
	limit := 0
	if value := c.Query("limit"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	result, err := h.search.Search(c.Request.Context(), query, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
