// Package api exposes the transcoding manager over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

const maxListLimit = 500

// APIHandler serves the job endpoints
type APIHandler struct {
	service JobService
	logger  hclog.Logger
	started time.Time
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(service JobService, logger hclog.Logger) *APIHandler {
	return &APIHandler{
		service: service,
		logger:  logger.Named("api"),
		started: time.Now(),
	}
}

// Health handles GET /api/v1/health
func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// SubmitJob handles POST /api/v1/jobs
//
// Request body:
//
//	{
//	  "inputPath": "/media/movie.mkv",
//	  "subtitleDir": "/media/movie.subs",
//	  "jobKey": "movie",
//	  "encrypt": true
//	}
//
// Responds 202 with the created job. A job key already held by an active
// job is rejected with 409.
func (h *APIHandler) SubmitJob(c *gin.Context) {
	var req types.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	job, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "submit job", err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// ListJobs handles GET /api/v1/jobs
//
// Query parameters:
//   - state: comma-separated states to include
//   - limit: maximum number of jobs, newest first
//
// Response:
//
//	{
//	  "jobs": [...],
//	  "count": 2
//	}
func (h *APIHandler) ListJobs(c *gin.Context) {
	var filter types.JobFilter

	if raw := c.Query("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.States = append(filter.States, types.JobState(strings.TrimSpace(s)))
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		filter.Limit = limit
	}
	if filter.Limit == 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	jobs, err := h.service.List(filter)
	if err != nil {
		h.respondError(c, "list jobs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *APIHandler) GetJob(c *gin.Context) {
	job, err := h.service.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, "get job", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob handles DELETE /api/v1/jobs/:id
func (h *APIHandler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Cancel(id); err != nil {
		h.respondError(c, "cancel job", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":      id,
		"message": "Cancellation requested",
	})
}

// GetLicense handles GET /api/v1/jobs/:id/clearkey
//
// Response (W3C Clear Key license format):
//
//	{
//	  "keys": [{"kty": "oct", "kid": "<base64url>", "k": "<base64url>"}],
//	  "type": "temporary"
//	}
func (h *APIHandler) GetLicense(c *gin.Context) {
	license, err := h.service.License(c.Param("id"))
	if err != nil {
		h.respondError(c, "get license", err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, license)
}

func (h *APIHandler) respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
	} else {
		h.logger.Debug("request rejected", "op", op, "status", status, "error", err)
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tErrors.ErrJobNotFound), errors.Is(err, tErrors.ErrNoKey):
		return http.StatusNotFound
	case errors.Is(err, tErrors.ErrJobExists), errors.Is(err, tErrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, tErrors.ErrInvalidInput), tErrors.GetType(err) == tErrors.ErrorTypeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
