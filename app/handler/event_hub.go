package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
	"camwatch/pkg/status"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // operator API sits behind the auth middleware
	},
}

// EventHub fans reconcile events out to websocket subscribers. Slow
// subscribers lose events rather than block the reconciler. Events are
// redacted before they leave the process.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[chan *interfaces.ReconcileEvent]struct{}
	sanitizer   *status.Sanitizer
}

var _ interfaces.EventRecorder = (*EventHub)(nil)

// NewEventHub creates an empty hub
func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[chan *interfaces.ReconcileEvent]struct{}),
		sanitizer:   status.NewSanitizer(),
	}
}

// Record implements interfaces.EventRecorder
func (h *EventHub) Record(ctx context.Context, event *interfaces.ReconcileEvent) error {
	if event == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.subscribers) == 0 {
		return nil
	}
	safe := h.sanitizer.SanitizeEvent(event)
	for ch := range h.subscribers {
		select {
		case ch <- safe:
		default:
			logger.DebugCtx(ctx, "event subscriber is full, dropping event %s", event.EventID)
		}
	}
	return nil
}

// Subscribe registers a subscriber; call the returned func to unsubscribe
func (h *EventHub) Subscribe() (<-chan *interfaces.ReconcileEvent, func()) {
	ch := make(chan *interfaces.ReconcileEvent, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers number of connected subscribers
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Stream upgrades to a websocket and pushes every event as JSON
// @Summary Live reconcile events
// @Tags Events
// @Param stream query string false "Only events for this stream"
// @Router /api/v1/events/ws [get]
func (h *EventHub) Stream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	filter := c.Query("stream")
	events, unsubscribe := h.Subscribe()
	defer unsubscribe()

	// the read loop only handles control frames and notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && event.Stream != filter {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(event); err != nil {
				logger.DebugCtx(c.Request.Context(), "websocket write failed: %v", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
