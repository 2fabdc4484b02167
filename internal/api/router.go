package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hydrowatch/hydrorisk-backend/internal/handler"
	"github.com/hydrowatch/hydrorisk-backend/internal/middleware"
	"github.com/hydrowatch/hydrorisk-backend/internal/service"
)

// Deps are the services the router exposes
type Deps struct {
	Jobs       *service.JobService
	Watershed  *service.WatershedService
	Logger     *zap.Logger
	JWTSecret  string
	RateLimit  int // requests per minute and client; <= 0 disables limiting
	RateWindow time.Duration
}

// SetupRouter wires middleware and routes. The returned stop func releases
// the rate limiter.
func SetupRouter(d Deps) (*gin.Engine, func()) {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(d.Logger))

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	stop := func() {}
	if d.RateLimit > 0 {
		window := d.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		rl := middleware.NewRateLimiter(d.RateLimit, window)
		r.Use(rl.Handler())
		stop = rl.Stop
	}

	r.GET("/health", handler.Health)

	api := r.Group("/api/v1")
	api.Use(middleware.Auth(d.JWTSecret))
	{
		jobs := handler.NewAnalysisHandler(d.Jobs)
		analyses := api.Group("/analyses")
		{
			analyses.POST("", jobs.Submit)
			analyses.GET("", jobs.List)
			analyses.GET("/:id", jobs.Get)
			analyses.GET("/:id/result", jobs.Result)
			analyses.GET("/:id/events", jobs.Events)
			analyses.DELETE("/:id", jobs.Cancel)
		}

		ws := handler.NewWatershedHandler(d.Watershed)
		api.POST("/watershed", ws.Delineate)
	}

	return r, stop
}
