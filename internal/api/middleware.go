package api

import (
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"recordhub/internal/logging"
	"recordhub/internal/metrics"
)

// requestLogger кладёт логгер с request_id в контекст запроса, после ответа
// пишет строку в лог и latency в метрики.
func requestLogger(base *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		log := base.With("request_id", reqID)
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), log))
		c.Header("X-Request-ID", reqID)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		if m != nil {
			m.ObserveHTTP(c.Request.Method, route, strconv.Itoa(status), elapsed.Seconds())
		}

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", elapsed,
		)
	}
}

var tagNameOnce sync.Once

// useJSONFieldNames: ошибки валидатора gin называют поля по json-тегам.
func useJSONFieldNames() {
	tagNameOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}
