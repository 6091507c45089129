package webserver

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/framebridge/internal/sink"
)

const (
	previewWriteWait  = 10 * time.Second
	previewPongWait   = 60 * time.Second
	previewPingPeriod = 54 * time.Second
)

// previewHub tracks websocket preview clients. Each client holds at most one
// undelivered frame; a newer frame replaces it.
type previewHub struct {
	upgrader websocket.Upgrader
	interval time.Duration
	logger   *logrus.Entry

	mu      sync.Mutex
	clients map[*previewClient]struct{}
}

type previewClient struct {
	id       string
	conn     *websocket.Conn
	sink     *sink.Sink
	subID    uint64
	interval time.Duration
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	lastSent atomic.Int64
	sent     atomic.Int64
}

func newPreviewHub(interval time.Duration, logger *logrus.Entry) *previewHub {
	return &previewHub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		interval: interval,
		logger:   logger,
		clients:  make(map[*previewClient]struct{}),
	}
}

func (ws *WebServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.stream(mux.Vars(r)["name"])
	if !ok {
		ws.writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	h := ws.preview
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &previewClient{
		id:       uuid.NewString(),
		conn:     conn,
		sink:     s.Sink(),
		interval: h.interval,
		send:     make(chan []byte, 1),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	logger := h.logger.WithFields(logrus.Fields{"client": c.id, "stream": s.Name()})
	logger.Infof("Preview client connected from %s", conn.RemoteAddr())

	if applied, ok := c.sink.Current(); ok {
		c.offer(applied.Payload)
	}
	c.subID = c.sink.Subscribe(func(a sink.Applied) {
		c.offer(a.Payload)
	})

	go h.writePump(c, logger)
	go h.readPump(c, logger)
}

// offer queues payload without blocking the caller, replacing an undelivered
// frame. Frames arriving faster than the preview interval are skipped.
func (c *previewClient) offer(payload []byte) {
	now := time.Now().UnixNano()
	if last := c.lastSent.Load(); last != 0 && now-last < int64(c.interval) {
		return
	}
	c.lastSent.Store(now)

	select {
	case c.send <- payload:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (h *previewHub) remove(c *previewClient) {
	c.once.Do(func() {
		c.sink.Unsubscribe(c.subID)
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (h *previewHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *previewHub) closeAll() {
	h.mu.Lock()
	clients := make([]*previewClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		h.remove(c)
	}
}

// readPump only drains control frames so close and pong are observed.
func (h *previewHub) readPump(c *previewClient, logger *logrus.Entry) {
	defer h.remove(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(previewPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(previewPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("Preview read error: %v", err)
			}
			return
		}
	}
}

func (h *previewHub) writePump(c *previewClient, logger *logrus.Entry) {
	ticker := time.NewTicker(previewPingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
		logger.Infof("Preview client disconnected after %d frames", c.sent.Load())
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				logger.Debugf("Preview write error: %v", err)
				return
			}
			c.sent.Add(1)
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
