package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"gradeline/internal/common/http/middleware"
	"gradeline/internal/submission/model"
	"gradeline/internal/submission/service"
	appErr "gradeline/pkg/errors"
	"gradeline/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionController handles submission HTTP endpoints for authors and staff.
type SubmissionController struct {
	submissions *service.SubmissionService
	assignments *service.AssignmentService
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(submissions *service.SubmissionService, assignments *service.AssignmentService) *SubmissionController {
	return &SubmissionController{submissions: submissions, assignments: assignments}
}

// RegisterRoutes mounts the routes on a group that already requires an identity.
func (h *SubmissionController) RegisterRoutes(r gin.IRoutes) {
	r.POST("/submissions", h.Create)
	r.GET("/submissions/:id", h.Get)
	r.GET("/submissions/:id/file", h.Download)
	r.POST("/submissions/:id/file", h.Reupload)
	r.POST("/submissions/:id/withdraw", h.Withdraw)
	r.POST("/submissions/:id/grading/start", h.StartGrading)
	r.POST("/submissions/:id/grade", h.Grade)
	r.POST("/submissions/:id/grading/reopen", h.ReopenGrading)
	r.POST("/submissions/:id/close", h.Close)
	r.POST("/submissions/:id/full-retest", h.FullRetest)
	r.GET("/assignments/:id/submissions", h.ListByAssignment)
}

// Create accepts a multipart upload: assignment_id, file, notes and co_authors entries as "id:email".
func (h *SubmissionController) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	assignmentID := strings.TrimSpace(c.PostForm("assignment_id"))
	if assignmentID == "" {
		response.BadRequest(c, "assignment_id is required")
		return
	}
	coAuthors, err := parseCoAuthors(c.PostFormArray("co_authors"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	upload, closer, err := formUpload(c, false)
	if err != nil {
		response.Error(c, err)
		return
	}
	if closer != nil {
		defer closer.Close()
	}

	sub, err := h.submissions.Create(c.Request.Context(), actor, service.CreateInput{
		AssignmentID: assignmentID,
		CoAuthors:    coAuthors,
		Notes:        c.PostForm("notes"),
		File:         upload,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sub)
}

// Get returns the caller's view of a submission.
func (h *SubmissionController) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	view, err := h.submissions.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Download streams the current file.
func (h *SubmissionController) Download(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	reader, file, err := h.submissions.OpenFile(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer reader.Close()
	c.DataFromReader(http.StatusOK, file.Size, "application/octet-stream", reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", file.Name),
		"X-Content-SHA256":    file.SHA256,
	})
}

// Reupload replaces the file of a failed submission.
func (h *SubmissionController) Reupload(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	upload, closer, err := formUpload(c, true)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closer.Close()
	sub, err := h.submissions.Reupload(c.Request.Context(), actor, c.Param("id"), upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sub)
}

func (h *SubmissionController) Withdraw(c *gin.Context) {
	h.action(c, h.submissions.Withdraw)
}

func (h *SubmissionController) StartGrading(c *gin.Context) {
	h.action(c, h.submissions.StartGrading)
}

func (h *SubmissionController) ReopenGrading(c *gin.Context) {
	h.action(c, h.submissions.ReopenGrading)
}

func (h *SubmissionController) Close(c *gin.Context) {
	h.action(c, h.submissions.Close)
}

func (h *SubmissionController) FullRetest(c *gin.Context) {
	h.action(c, h.submissions.RequestFullRetest)
}

// GradeRequest defines the grading payload.
type GradeRequest struct {
	Title  string  `json:"title" binding:"required"`
	Passed bool    `json:"passed"`
	Notes  *string `json:"notes"`
}

// Grade records a grade.
func (h *SubmissionController) Grade(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	sub, err := h.submissions.Grade(c.Request.Context(), actor, c.Param("id"), service.GradeInput{
		Title:  req.Title,
		Passed: req.Passed,
		Notes:  req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sub)
}

// ListByAssignment lists submissions of an assignment for staff.
func (h *SubmissionController) ListByAssignment(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	list, err := h.assignments.ListSubmissions(c.Request.Context(), actor, c.Param("id"), service.Filter(c.Query("filter")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

func (h *SubmissionController) action(c *gin.Context, fn func(ctx context.Context, actor model.Actor, id string) (*model.Submission, error)) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	sub, err := fn(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sub)
}

func actorFrom(c *gin.Context) (model.Actor, bool) {
	id, ok := middleware.IdentityFrom(c)
	if !ok || id.UserID == "" {
		response.Error(c, appErr.New(appErr.Unauthorized))
		return model.Actor{}, false
	}
	return model.Actor{UserID: id.UserID, Email: id.Email, Admin: id.Admin}, true
}

func parseCoAuthors(values []string) ([]model.Author, error) {
	var out []model.Author
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		id, email, _ := strings.Cut(v, ":")
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("co_authors entry %q has no user id", v)
		}
		out = append(out, model.Author{UserID: strings.TrimSpace(id), Email: strings.TrimSpace(email)})
	}
	return out, nil
}

// formUpload opens the "file" form part. Without required, a missing part yields a nil upload.
func formUpload(c *gin.Context, required bool) (*service.Upload, io.Closer, error) {
	header, err := c.FormFile("file")
	if err != nil {
		if !required && errors.Is(err, http.ErrMissingFile) {
			return nil, nil, nil
		}
		return nil, nil, appErr.New(appErr.FileRequired)
	}
	f, err := header.Open()
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.InvalidParams, "read upload failed")
	}
	return uploadFrom(header, f), f, nil
}

func uploadFrom(header *multipart.FileHeader, f multipart.File) *service.Upload {
	return &service.Upload{Name: header.Filename, Size: header.Size, Content: f}
}
