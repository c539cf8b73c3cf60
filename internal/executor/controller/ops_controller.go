package controller

import (
	"gradeline/internal/executor/service"
	"gradeline/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// OpsController exposes stuck job handling and machine bindings to operators.
type OpsController struct {
	executors *service.ExecutorService
}

func NewOpsController(executors *service.ExecutorService) *OpsController {
	return &OpsController{executors: executors}
}

// RegisterRoutes mounts the routes on a group guarded by the operator secret.
func (h *OpsController) RegisterRoutes(r gin.IRoutes) {
	r.GET("/stuck-jobs", h.StuckJobs)
	r.POST("/stuck-jobs/:file_id/requeue", h.Requeue)
	r.GET("/machines", h.Machines)
	r.GET("/assignments/:id/machines", h.AssignmentMachines)
	r.PUT("/assignments/:id/machines/:host", h.Assign)
	r.DELETE("/assignments/:id/machines/:host", h.Unassign)
}

func (h *OpsController) StuckJobs(c *gin.Context) {
	jobs, err := h.executors.StuckJobs(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, jobs)
}

func (h *OpsController) Requeue(c *gin.Context) {
	job, err := h.executors.Requeue(c.Request.Context(), c.Param("file_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, job)
}

func (h *OpsController) Machines(c *gin.Context) {
	list, err := h.executors.Machines(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// AssignmentMachines lists the machines eligible for an assignment.
func (h *OpsController) AssignmentMachines(c *gin.Context) {
	list, err := h.executors.EligibleMachines(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

func (h *OpsController) Assign(c *gin.Context) {
	if err := h.executors.AssignMachine(c.Request.Context(), c.Param("id"), c.Param("host")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *OpsController) Unassign(c *gin.Context) {
	if err := h.executors.UnassignMachine(c.Request.Context(), c.Param("id"), c.Param("host")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
