package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Live streams newly stored scans as server-sent events until the client
// disconnects. A "ready" event is sent once the subscription is active and
// a "ping" keeps idle proxies from closing the stream.
func (h *Handler) Live(c *gin.Context) {
	sub := h.Hub.Subscribe()
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("ready", gin.H{"at": h.Clock.Now()})
	c.Writer.Flush()

	log := zerolog.Ctx(c.Request.Context())
	log.Debug().Msg("live session opened")
	defer func() { log.Debug().Msg("live session closed") }()

	ticker := h.Clock.NewTicker(h.LivePing)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			c.SSEvent(evt.Type, evt.Record)
			c.Writer.Flush()
		case now := <-ticker.Chan():
			c.SSEvent("ping", gin.H{"at": now})
			c.Writer.Flush()
		}
	}
}
