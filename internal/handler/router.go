package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/lentera-edu/lms-api/internal/metrics"
	"github.com/lentera-edu/lms-api/internal/middleware"
	"github.com/lentera-edu/lms-api/internal/models"
	"github.com/lentera-edu/lms-api/pkg/config"
	pkgLogger "github.com/lentera-edu/lms-api/pkg/logger"
	"github.com/lentera-edu/lms-api/pkg/middleware/cors"
	"github.com/lentera-edu/lms-api/pkg/middleware/requestid"
)

// Handlers bundles every HTTP handler wired into the router.
type Handlers struct {
	Auth         *AuthHandler
	Applications *ApplicationHandler
	Courses      *CourseHandler
	Terms        *TermHandler
	Enrollments  *EnrollmentHandler
	Exports      *ExportHandler
}

// NewRouter assembles the gin engine with middleware, health probes and
// the versioned API surface.
func NewRouter(cfg *config.Config, logger *zap.Logger, db *sqlx.DB, registry *metrics.Registry, auth authService, handlers Handlers) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.Middleware())
	router.Use(pkgLogger.GinMiddleware(logger))
	router.Use(cors.New(cfg.CORS.AllowedOrigins))
	router.Use(middleware.Metrics(registry))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				logger.Warn("readiness probe failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group(cfg.APIPrefix)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", handlers.Auth.Login)
		authGroup.POST("/refresh", handlers.Auth.Refresh)
		authGroup.POST("/logout", middleware.Auth(auth), handlers.Auth.Logout)
		authGroup.PUT("/password", middleware.Auth(auth), handlers.Auth.ChangePassword)
	}

	applications := api.Group("/applications", middleware.Auth(auth))
	{
		applications.GET("", middleware.RequireRoles(), handlers.Applications.List)
		applications.GET("/:id", middleware.RequireRoles(models.RoleInstructor), handlers.Applications.Get)
		applications.POST("", middleware.RequireRoles(models.RoleInstructor), handlers.Applications.Submit)
		applications.POST("/:id/approve", middleware.RequireRoles(), handlers.Applications.Approve)
		applications.POST("/:id/reject", middleware.RequireRoles(), handlers.Applications.Reject)
	}

	courses := api.Group("/courses")
	{
		courses.GET("", handlers.Courses.List)
		courses.GET("/:id", handlers.Courses.Get)
		courses.PATCH("/:id", middleware.Auth(auth), middleware.RequireRoles(), handlers.Courses.Update)
		courses.PUT("/:id/status", middleware.Auth(auth), middleware.RequireRoles(), handlers.Courses.ChangeStatus)
		courses.DELETE("/:id", middleware.Auth(auth), middleware.RequireRoles(), handlers.Courses.Delete)
	}

	terms := api.Group("/terms")
	{
		terms.GET("", handlers.Terms.List)
		terms.GET("/:id", handlers.Terms.Get)
		terms.GET("/:id/seats", handlers.Terms.Seats)
		terms.POST("", middleware.Auth(auth), middleware.RequireRoles(), handlers.Terms.Create)
		terms.PATCH("/:id", middleware.Auth(auth), middleware.RequireRoles(), handlers.Terms.Update)
		terms.POST("/:id/cancel", middleware.Auth(auth), middleware.RequireRoles(), handlers.Terms.Cancel)
	}

	enrollments := api.Group("/enrollments", middleware.Auth(auth))
	{
		enrollments.GET("", handlers.Enrollments.List)
		enrollments.GET("/:id", handlers.Enrollments.Get)
		enrollments.POST("", middleware.RequireRoles(models.RoleStudent), handlers.Enrollments.Enroll)
		enrollments.POST("/:id/cancel", middleware.RequireRoles(models.RoleStudent), handlers.Enrollments.Cancel)
	}

	if handlers.Exports != nil {
		exports := api.Group("/exports")
		{
			exports.POST("", middleware.Auth(auth), middleware.RequireRoles(models.RoleInstructor), handlers.Exports.Create)
			exports.GET("/:id", middleware.Auth(auth), middleware.RequireRoles(models.RoleInstructor), handlers.Exports.Get)
			exports.GET("/download/:token", handlers.Exports.Download)
		}
	}

	return router
}
