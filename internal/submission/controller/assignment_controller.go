package controller

import (
	"strings"
	"time"

	"gradeline/internal/submission/model"
	"gradeline/internal/submission/service"
	"gradeline/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// AssignmentController exposes assignment configuration to operators.
type AssignmentController struct {
	assignments *service.AssignmentService
}

func NewAssignmentController(assignments *service.AssignmentService) *AssignmentController {
	return &AssignmentController{assignments: assignments}
}

// RegisterRoutes mounts the routes on an operator group.
func (h *AssignmentController) RegisterRoutes(r gin.IRoutes) {
	r.GET("/assignments", h.List)
	r.GET("/assignments/:id", h.Get)
	r.PUT("/assignments/:id", h.Save)
	r.PUT("/assignments/:id/scripts/:kind", h.UploadScript)
}

// AssignmentRequest is the operator payload for an assignment.
type AssignmentRequest struct {
	CourseID          string         `json:"course_id"`
	Title             string         `json:"title" binding:"required"`
	PublishAt         *time.Time     `json:"publish_at"`
	HardDeadline      *time.Time     `json:"hard_deadline"`
	CompileTest       bool           `json:"compile_test"`
	ValidityScriptKey string         `json:"validity_script_key"`
	FullScriptKey     string         `json:"full_script_key"`
	TimeoutSeconds    int            `json:"timeout_seconds"`
	CompileCommand    string         `json:"compile_command"`
	Owner             model.Author   `json:"owner"`
	Tutors            []model.Author `json:"tutors"`
}

func (h *AssignmentController) List(c *gin.Context) {
	list, err := h.assignments.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

func (h *AssignmentController) Get(c *gin.Context) {
	a, err := h.assignments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, a)
}

// Save creates or replaces an assignment.
func (h *AssignmentController) Save(c *gin.Context) {
	var req AssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	a := &model.Assignment{
		ID:                c.Param("id"),
		CourseID:          req.CourseID,
		Title:             req.Title,
		CompileTest:       req.CompileTest,
		ValidityScriptKey: req.ValidityScriptKey,
		FullScriptKey:     req.FullScriptKey,
		TimeoutSeconds:    req.TimeoutSeconds,
		CompileCommand:    req.CompileCommand,
		Owner:             req.Owner,
		Tutors:            req.Tutors,
	}
	if req.PublishAt != nil {
		a.PublishAt = req.PublishAt.UTC()
	}
	if req.HardDeadline != nil {
		a.HardDeadline = req.HardDeadline.UTC()
	}
	if err := h.assignments.Save(c.Request.Context(), a); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, a)
}

// UploadScript stores the request body as the validate or full test script.
// The script name comes from the "name" query parameter.
func (h *AssignmentController) UploadScript(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		response.BadRequest(c, "name is required")
		return
	}
	key, err := h.assignments.UploadScript(c.Request.Context(), c.Param("id"), model.TestKind(c.Param("kind")),
		name, c.Request.Body, c.Request.ContentLength)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"key": key})
}
