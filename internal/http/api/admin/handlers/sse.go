package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/probegate/probegate/internal/progress"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// SSEHandler streams live detection progress to the admin UI.
type SSEHandler struct {
	bus *progress.Bus
}

// NewSSEHandler constructs an SSEHandler.
func NewSSEHandler(bus *progress.Bus) *SSEHandler {
	return &SSEHandler{bus: bus}
}

// Progress serves the event stream. The first frame is a connected
// event; afterwards every progress event published on the bus is
// forwarded, with heartbeats in between.
func (h *SSEHandler) Progress(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	events := h.bus.Subscribe(ctx)

	writeEvent(c, progress.Event{Kind: progress.KindConnected})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeEvent(c, progress.Event{Kind: progress.KindHeartbeat})
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			writeEvent(c, event)
			flusher.Flush()
		}
	}
}

func writeEvent(c *gin.Context, event progress.Event) {
	fmt.Fprintf(c.Writer, "data: %s\n\n", event.Encode())
}
