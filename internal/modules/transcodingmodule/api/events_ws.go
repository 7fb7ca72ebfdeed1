package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	eventBufferLen = 64
)

// EventsHandler streams job events to WebSocket clients
type EventsHandler struct {
	bus      events.EventBus
	upgrader websocket.Upgrader
	logger   hclog.Logger
}

// NewEventsHandler creates a handler fed by bus
func NewEventsHandler(bus events.EventBus, logger hclog.Logger) *EventsHandler {
	return &EventsHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.Named("events-ws"),
	}
}

// Stream handles GET /api/v1/jobs/events
//
// Query parameters:
//   - job: only events of this job ID
//   - type: comma-separated event types, e.g. job.completed,job.failed
//
// Each message is one JSON-encoded event.
func (h *EventsHandler) Stream(c *gin.Context) {
	filter := events.EventFilter{JobID: c.Query("job")}
	if raw := c.Query("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, events.EventType(strings.TrimSpace(t)))
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(filter, eventBufferLen)
	defer sub.Close()

	h.logger.Debug("event stream opened", "remote", c.Request.RemoteAddr, "job", filter.JobID)

	// The read loop only exists to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			h.logger.Debug("event stream closed", "remote", c.Request.RemoteAddr)
			return
		}
	}
}
