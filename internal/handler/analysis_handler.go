package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hydrowatch/hydrorisk-backend/internal/service"
	"github.com/hydrowatch/hydrorisk-backend/pkg/response"
)

// AnalysisHandler handles HTTP requests for analysis jobs
type AnalysisHandler struct {
	service *service.JobService
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(service *service.JobService) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

// Submit creates a new analysis job
// POST /api/v1/analyses
func (h *AnalysisHandler) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	// Get user from context (set by auth middleware)
	createdBy := c.GetString("user")

	job, err := h.service.Submit(c.Request.Context(), req, createdBy)
	if err != nil {
		response.FromError(c, err)
		return
	}

	c.Header("Location", "/api/v1/analyses/"+job.ID)
	response.Accepted(c, job)
}

// Get retrieves a job by ID
// GET /api/v1/analyses/:id
func (h *AnalysisHandler) Get(c *gin.Context) {
	job, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, job)
}

// List retrieves jobs
// GET /api/v1/analyses
func (h *AnalysisHandler) List(c *gin.Context) {
	kind := c.Query("kind")
	status := c.Query("status")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		offset = 0
	}

	jobs, err := h.service.List(c.Request.Context(), kind, status, limit, offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

// Result returns the FeatureCollection of a completed job
// GET /api/v1/analyses/:id/result
func (h *AnalysisHandler) Result(c *gin.Context) {
	raw, err := h.service.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// Events streams job progress as server-sent events
// GET /api/v1/analyses/:id/events
func (h *AnalysisHandler) Events(c *gin.Context) {
	events, stop, err := h.service.Subscribe(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	defer stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if ev.Status != "" {
				c.SSEvent("done", ev)
				return false
			}
			c.SSEvent("progress", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Cancel cancels a pending or running job
// DELETE /api/v1/analyses/:id
func (h *AnalysisHandler) Cancel(c *gin.Context) {
	job, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, job)
}
