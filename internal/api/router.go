// api/router.go
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"recordhub/internal/directory"
	"recordhub/internal/events"
	"recordhub/internal/metrics"
	"recordhub/internal/records"
	"recordhub/internal/schema"
)

type Deps struct {
	Registry  *schema.Registry
	Records   *records.Service
	Directory *directory.Directory
	Notifier  *events.Notifier
	Metrics   *metrics.Metrics // nil — без /metrics
	Logger    *slog.Logger

	// Ready проверяет хранилище для /healthz (nil — всегда готов)
	Ready func(ctx context.Context) error
	// KeepAlive — период комментариев в SSE-потоке, 0 — 15s
	KeepAlive time.Duration
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.KeepAlive <= 0 {
		d.KeepAlive = 15 * time.Second
	}
	useJSONFieldNames()

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger, d.Metrics))

	r.GET("/healthz", HealthHandler(d.Ready))
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	r.GET("/api/events", EventsHandler(d.Notifier, d.KeepAlive))

	rec := r.Group("/api/records")
	{
		// статические маршруты регистрируем первыми
		rec.POST("/schemas", RegisterSchemaHandler(d.Registry))
		rec.GET("/schemas", ListSchemasHandler(d.Registry))
		rec.GET("/schemas/:entity_type", GetSchemaHandler(d.Registry))

		rec.GET("/handles", HandlesHandler(d.Directory))
		rec.GET("/handles/resolve", ResolveHandlesHandler(d.Directory))
		rec.GET("/handles/:handle/mentions", BacklinksHandler(d.Records))

		// записи
		rec.GET("/:entity_type", ListHandler(d.Records))
		rec.POST("/:entity_type", CreateHandler(d.Records))
		rec.GET("/:entity_type/:entity_id", GetOneHandler(d.Records))
		rec.PUT("/:entity_type/:entity_id", UpdateHandler(d.Records))
		rec.GET("/:entity_type/:entity_id/activity", ActivityHandler(d.Records))
	}
	return r
}

func HealthHandler(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "message": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
