package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hydrowatch/hydrorisk-backend/internal/analysis"
	"github.com/hydrowatch/hydrorisk-backend/internal/service"
	"github.com/hydrowatch/hydrorisk-backend/pkg/response"
)

// WatershedHandler handles on-demand watershed delineation
type WatershedHandler struct {
	service *service.WatershedService
}

// NewWatershedHandler creates a new watershed handler
func NewWatershedHandler(service *service.WatershedService) *WatershedHandler {
	return &WatershedHandler{service: service}
}

// Delineate returns the contributing area of a point
// POST /api/v1/watershed
func (h *WatershedHandler) Delineate(c *gin.Context) {
	var req service.WatershedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = c.GetString("user")
	}

	res, err := h.service.Delineate(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Health reports liveness and the registered analysis kinds
// GET /health
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "hydrorisk backend is running",
		"kinds":   analysis.Kinds(),
	})
}
