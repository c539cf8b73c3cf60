package main

import (
	"net/http"
	"time"

	"gradeline/internal/common/http/middleware"
	excontroller "gradeline/internal/executor/controller"
	exservice "gradeline/internal/executor/service"
	subcontroller "gradeline/internal/submission/controller"
	subservice "gradeline/internal/submission/service"
	pkgerrors "gradeline/pkg/errors"
	"gradeline/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type routerDeps struct {
	Auth        AuthConfig
	Executor    ExecutorConfig
	Submissions *subservice.SubmissionService
	Assignments *subservice.AssignmentService
	Executors   *exservice.ExecutorService
}

func newRouter(deps routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContext())
	router.Use(requestLogger())
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	executor := router.Group("/api/v1/executor",
		middleware.RequireSecret(middleware.ExecutorSecretHeader, deps.Auth.ExecutorSecret, pkgerrors.ExecutorSecretInvalid))
	limiter := middleware.NewPollLimiter(middleware.PollLimitPolicy{
		Every: deps.Executor.PollInterval,
		Burst: deps.Executor.PollBurst,
	})
	excontroller.NewExecutorController(deps.Executors, limiter).RegisterRoutes(executor)

	ops := router.Group("/api/v1/ops",
		middleware.RequireSecret(middleware.OpsSecretHeader, deps.Auth.OpsSecret, pkgerrors.Unauthorized))
	subcontroller.NewAssignmentController(deps.Assignments).RegisterRoutes(ops)
	excontroller.NewOpsController(deps.Executors).RegisterRoutes(ops)

	api := router.Group("/api/v1", middleware.RequireIdentity(middleware.IdentityConfig{
		Secret: deps.Auth.JWTSecret,
		Issuer: deps.Auth.JWTIssuer,
	}))
	subcontroller.NewSubmissionController(deps.Submissions, deps.Assignments).RegisterRoutes(api)
	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
