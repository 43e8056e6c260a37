package router

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"presence-service/internal/handler"
	"presence-service/internal/metrics"
	"presence-service/internal/middleware"
)

// Config holds router dependencies
type Config struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	BasePath string

	// Gatherer backs /metrics; nil means the default registry
	Gatherer prometheus.Gatherer

	Recorder     handler.EventRecorder
	History      handler.IntervalHistory
	Aggregator   handler.Aggregator
	Poller       handler.PollerControl
	DefaultLimit int
}

// Setup sets up the router with all routes and middleware
func Setup(cfg Config) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	metricsHandler := gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	healthHandler := handler.NewHealthHandler(cfg.DB, cfg.Redis, cfg.Poller)
	analyticsHandler := handler.NewAnalyticsHandler(cfg.Aggregator, cfg.DefaultLimit, cfg.Logger)
	presenceHandler := handler.NewPresenceHandler(cfg.Recorder, cfg.History, cfg.Poller, cfg.Logger)

	// Root level for probes and scraping
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", metricsHandler)

	api := r.Group(cfg.BasePath)
	if cfg.BasePath != "" && cfg.BasePath != "/" {
		api.GET("/health", healthHandler.Health)
		api.GET("/ready", healthHandler.Ready)
		api.GET("/metrics", metricsHandler)
	}

	analytics := api.Group("/analytics")
	{
		analytics.GET("/aggregate", analyticsHandler.Aggregate)
		analytics.GET("/heatmap", analyticsHandler.Heatmap)
		analytics.GET("/overview", analyticsHandler.Overview)
		analytics.GET("/entities/:entityId/hourly", analyticsHandler.HourlyPattern)
	}

	presence := api.Group("/presence")
	{
		presence.POST("/events", presenceHandler.RecordEvent)
		presence.GET("/poller", presenceHandler.GetPollerStatus)
		presence.POST("/poller/resume", presenceHandler.ResumePoller)
		presence.GET("/:entityId/intervals", presenceHandler.GetIntervals)
	}

	return r
}
