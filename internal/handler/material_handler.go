package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/stroymat/matrag/internal/pkg/errcode"
	"github.com/stroymat/matrag/internal/pkg/response"
	"github.com/stroymat/matrag/internal/service"
)

type MaterialHandler struct {
	materials *service.MaterialService
}

func NewMaterialHandler(materials *service.MaterialService) *MaterialHandler {
	return &MaterialHandler{materials: materials}
}

type materialRequest struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Price float64 `json:"price"`
}

func (h *MaterialHandler) Parse(c *gin.Context) {
	var req materialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	parsed, err := h.materials.Parse(c.Request.Context(), service.ProcessInput{
		Name:  req.Name,
		Unit:  req.Unit,
		Price: req.Price,
	}, false)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, parsed)
}

func (h *MaterialHandler) Process(c *gin.Context) {
	h.process(c, false)
}

// ProcessEnhanced forces the AI pass even when the regex parser is
// confident.
func (h *MaterialHandler) ProcessEnhanced(c *gin.Context) {
	h.process(c, true)
}

func (h *MaterialHandler) process(c *gin.Context, enhanced bool) {
	var req materialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	material, err := h.materials.Process(c.Request.Context(), service.ProcessInput{
		Name:  req.Name,
		Unit:  req.Unit,
		Price: req.Price,
	}, enhanced)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, material)
}

func (h *MaterialHandler) Get(c *gin.Context) {
	material, err := h.materials.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, material)
}

func (h *MaterialHandler) Delete(c *gin.Context) {
	if err := h.materials.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
