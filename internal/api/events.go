package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"recordhub/internal/events"
	"recordhub/internal/logging"
)

// GET /api/events — server-sent events. Поток живёт до отключения клиента
// или закрытия notifier'а; старые события не пересылаются.
func EventsHandler(n *events.Notifier, keepAlive time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := n.Subscribe()
		defer n.Unsubscribe(sub)

		log := logging.FromContext(c.Request.Context())
		log.Debug("event stream opened", "subscriber", sub.ID)
		defer log.Debug("event stream closed", "subscriber", sub.ID)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		// заголовки уходят сразу, не дожидаясь первого события
		_, _ = c.Writer.WriteString(": connected\n\n")
		c.Writer.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		ctx := c.Request.Context()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case e, ok := <-sub.Events():
				if !ok {
					return false
				}
				c.SSEvent("message", e)
				return true
			case <-ticker.C:
				_, err := io.WriteString(w, ": keepalive\n\n")
				return err == nil
			}
		})
	}
}
