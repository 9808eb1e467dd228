package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/fetch-service/internal/api/handler"
	"github.com/cuongbtq/fetch-service/internal/domain"
)

const healthTimeout = 3 * time.Second

// SetupRouter configures and returns the Gin router with all routes.
// metrics may be nil.
func SetupRouter(deps *handler.Dependencies, metrics http.Handler) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(deps.CORSOrigins))

	r.GET("/health", healthHandler(deps))
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	jobHandler := handler.NewJobHandler(deps)
	mediaHandler := handler.NewMediaHandler(deps)
	credentialHandler := handler.NewCredentialHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.DELETE("", jobHandler.DeleteAllJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
			jobs.GET("/:job_id/file", jobHandler.DownloadFile)
		}

		media := v1.Group("/media")
		{
			media.GET("/info", mediaHandler.GetInfo)
			media.GET("/formats", mediaHandler.GetFormats)
		}

		creds := v1.Group("/credentials")
		{
			creds.GET("", credentialHandler.ListCredentials)
			creds.PUT("/:name", credentialHandler.PutCredential)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()

			if err := deps.DB.HealthCheck(ctx); err != nil {
				_ = c.Error(err)
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": deps.ServiceName,
				})
				return
			}
		}

		body := gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		}
		if deps.Pool != nil {
			body["pool"] = deps.Pool.Stats()
		}
		if deps.Counter != nil {
			body["jobs"] = gin.H{
				"total":   deps.Counter.Len(),
				"pending": deps.Counter.CountByStatus(domain.StatusPending),
				"running": deps.Counter.CountByStatus(domain.StatusRunning),
			}
		}
		c.JSON(http.StatusOK, body)
	}
}
