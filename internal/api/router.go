package api

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/presence/internal/api/handlers"
	"github.com/your-org/presence/internal/api/ws"
	"github.com/your-org/presence/internal/auth"
	"github.com/your-org/presence/internal/cache"
	"github.com/your-org/presence/internal/presence"
	"github.com/your-org/presence/internal/purge"
	"github.com/your-org/presence/internal/queue"
	"github.com/your-org/presence/internal/report"
	"github.com/your-org/presence/internal/roster"
	"github.com/your-org/presence/internal/storage"
	"github.com/your-org/presence/internal/vision"
)

type RouterConfig struct {
	APIKey      string
	ReportRPS   float64
	ReportBurst int
	Tolerance   float64

	// MaxClockSkew bounds client supplied observation timestamps.
	MaxClockSkew time.Duration

	Roster   *roster.Roster
	Tracker  *presence.Tracker
	Reports  *report.Service
	DB       *storage.PostgresStore
	Objects  *storage.ObjectStore
	Producer *queue.Producer
	Hub      *ws.Hub
	// Cache and Vision are optional.
	Cache  *cache.ReportCache
	Vision vision.Provider
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	checks := map[string]handlers.Check{
		"postgres": cfg.DB.Ping,
		"minio":    cfg.Objects.Ping,
		"nats":     func(context.Context) error { return cfg.Producer.Ping() },
	}
	if cfg.Cache != nil {
		checks["redis"] = cfg.Cache.Ping
	}
	systemH := handlers.NewSystemHandler(checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	v1.GET("/ws", cfg.Hub.HandleWS)

	identityH := handlers.NewIdentityHandler(cfg.Roster, cfg.Objects, cfg.Producer)
	identityH.Vision = cfg.Vision
	v1.POST("/identities", identityH.Create)
	v1.POST("/identities/enroll", identityH.Enroll)
	v1.GET("/identities", identityH.List)
	v1.GET("/identities/:id", identityH.Get)

	presenceH := handlers.NewPresenceHandler(cfg.Roster, cfg.Tracker, cfg.DB, cfg.Objects, cfg.Tolerance)
	presenceH.Publisher = cfg.Producer
	presenceH.MaxClockSkew = cfg.MaxClockSkew
	if cfg.Cache != nil {
		presenceH.Invalidator = cfg.Cache
	}
	v1.POST("/observations", presenceH.Observe)
	v1.POST("/match", presenceH.Match)
	v1.GET("/identities/:id/events", presenceH.Events)
	v1.GET("/identities/:id/events/:eventId/snapshot", presenceH.Snapshot)

	reportH := handlers.NewReportHandler(cfg.Reports)
	v1.GET("/identities/:id/status", reportH.Status)
	reports := v1.Group("/reports")
	if cfg.ReportRPS > 0 {
		reports.Use(NewRateLimiter(cfg.ReportRPS, cfg.ReportBurst).Middleware())
	}
	reports.GET("/daily/:id", reportH.Daily)
	reports.GET("/weekly/:id", reportH.Weekly)

	purger := &purge.Service{Records: cfg.DB, Objects: cfg.Objects, Roster: cfg.Roster, Notifier: cfg.Producer}
	if cfg.Cache != nil {
		purger.Cache = cfg.Cache
	}
	v1.POST("/admin/purge", handlers.NewAdminHandler(purger).Purge)

	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AddAllowHeaders("X-API-Key")
	return c
}
