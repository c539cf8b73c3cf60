package controller

import (
	"strings"

	"gradeline/internal/common/http/middleware"
	"gradeline/internal/executor/service"
	pkgerrors "gradeline/pkg/errors"
	"gradeline/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ExecutorController serves the executor protocol.
type ExecutorController struct {
	executors *service.ExecutorService
	limiter   *middleware.PollLimiter
}

// NewExecutorController creates a controller; a nil limiter disables poll throttling.
func NewExecutorController(executors *service.ExecutorService, limiter *middleware.PollLimiter) *ExecutorController {
	return &ExecutorController{executors: executors, limiter: limiter}
}

// RegisterRoutes mounts the protocol on a group guarded by the executor secret.
func (h *ExecutorController) RegisterRoutes(r gin.IRoutes) {
	r.POST("/machines", h.Register)
	r.POST("/jobs/fetch", h.limiter.Middleware(), h.Fetch)
	r.POST("/results", h.PostResult)
}

// RegisterRequest announces an executor.
type RegisterRequest struct {
	Host    string `json:"host"`
	Address string `json:"address"`
	Config  string `json:"config"`
}

// FetchRequest asks for the next job.
type FetchRequest struct {
	Host string `json:"host"`
}

// ResultRequest carries a finished test.
type ResultRequest struct {
	Host     string `json:"host"`
	FileID   string `json:"file_id" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	Result   string `json:"result"`
	ExitCode *int   `json:"exit_code" binding:"required"`
	PerfData string `json:"perf_data"`
}

func (h *ExecutorController) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	host, ok := hostOf(c, req.Host)
	if !ok {
		response.BadRequest(c, hostMismatch)
		return
	}
	m, err := h.executors.Register(c.Request.Context(), service.RegisterInput{
		Host:    host,
		Address: req.Address,
		Config:  req.Config,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, m)
}

// Fetch returns {"job": null} when there is nothing to do.
func (h *ExecutorController) Fetch(c *gin.Context) {
	var req FetchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request parameters")
			return
		}
	}
	host, ok := hostOf(c, req.Host)
	if !ok {
		response.BadRequest(c, hostMismatch)
		return
	}
	job, err := h.executors.Fetch(c.Request.Context(), host)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"job": job})
}

func (h *ExecutorController) PostResult(c *gin.Context) {
	var req ResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if req.ExitCode == nil {
			response.ErrorWithCode(c, pkgerrors.MalformedResult, "exit_code is required")
			return
		}
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	host, ok := hostOf(c, req.Host)
	if !ok {
		response.BadRequest(c, hostMismatch)
		return
	}
	out, err := h.executors.PostResult(c.Request.Context(), service.ResultPost{
		Host:     host,
		FileID:   req.FileID,
		Kind:     req.Kind,
		Result:   req.Result,
		ExitCode: *req.ExitCode,
		PerfData: req.PerfData,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

const hostMismatch = "Executor host header and body disagree"

// hostOf returns the executor host header, which the poll limiter also keys
// on. The body host is used only without a header and must match otherwise.
func hostOf(c *gin.Context, body string) (string, bool) {
	header := strings.TrimSpace(c.GetHeader(middleware.ExecutorHostHeader))
	body = strings.TrimSpace(body)
	switch {
	case header == "":
		return body, true
	case body == "" || body == header:
		return header, true
	default:
		return "", false
	}
}
