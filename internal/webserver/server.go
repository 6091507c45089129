// Package webserver serves the local admin API: stream status, the latest
// returned frame, a websocket preview and the metrics endpoint.
package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/framebridge/internal/config"
	"github.com/open-beagle/framebridge/internal/sink"
	"github.com/open-beagle/framebridge/internal/stream"
)

// StreamView is what the admin API needs from a stream.
type StreamView interface {
	Name() string
	Stats() stream.Stats
	Sink() *sink.Sink
}

// HostView exposes scheduler counters.
type HostView interface {
	Ticks() int64
	Applied() int64
}

// Option configures a WebServer.
type Option func(*WebServer)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(ws *WebServer) { ws.metricsHandler = h }
}

// WithHost adds scheduler counters to /api/status.
func WithHost(h HostView) Option {
	return func(ws *WebServer) { ws.host = h }
}

// WithVersion sets the version reported by /api/status.
func WithVersion(v string) Option {
	return func(ws *WebServer) { ws.version = v }
}

// WebServer Web服务器
type WebServer struct {
	config         *config.WebServerConfig
	server         *http.Server
	router         *mux.Router
	logger         *logrus.Entry
	metricsHandler http.Handler
	host           HostView
	version        string
	preview        *previewHub

	mutex     sync.RWMutex
	running   bool
	listener  net.Listener
	startTime time.Time
	streams   map[string]StreamView
}

// NewWebServer 创建Web服务器
func NewWebServer(cfg *config.WebServerConfig, opts ...Option) (*WebServer, error) {
	if cfg == nil {
		cfg = config.DefaultWebServerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ws := &WebServer{
		config:    cfg,
		logger:    config.GetLoggerWithPrefix("webserver"),
		version:   "dev",
		startTime: time.Now(),
		streams:   make(map[string]StreamView),
	}
	for _, opt := range opts {
		opt(ws)
	}
	ws.preview = newPreviewHub(cfg.PreviewInterval, ws.logger.WithField("component", "webserver-preview"))

	ws.setupRoutes()
	ws.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     config.GetStandardLoggerWithPrefix("webserver-http"),
	}
	return ws, nil
}

// Handler returns the router, for tests and embedding.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// RegisterStream 注册流
func (ws *WebServer) RegisterStream(s StreamView) error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if _, exists := ws.streams[s.Name()]; exists {
		return fmt.Errorf("stream %s already registered", s.Name())
	}
	ws.streams[s.Name()] = s
	ws.logger.Debugf("Stream %s registered", s.Name())
	return nil
}

func (ws *WebServer) stream(name string) (StreamView, bool) {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	s, ok := ws.streams[name]
	return s, ok
}

// sortedStreams returns registered streams ordered by name.
func (ws *WebServer) sortedStreams() []StreamView {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()

	out := make([]StreamView, 0, len(ws.streams))
	for _, s := range ws.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Start listens and serves in the background. It returns once the listener
// is bound.
func (ws *WebServer) Start() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if ws.running {
		return fmt.Errorf("webserver already running")
	}

	ln, err := net.Listen("tcp", ws.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.server.Addr, err)
	}
	ws.listener = ln
	ws.running = true
	ws.startTime = time.Now()

	ws.logger.Infof("Starting web server on %s", ln.Addr())
	go func() {
		var err error
		if ws.config.EnableTLS {
			err = ws.server.ServeTLS(ln, ws.config.TLS.CertFile, ws.config.TLS.KeyFile)
		} else {
			err = ws.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Errorf("Web server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (ws *WebServer) Addr() net.Addr {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	if ws.listener == nil {
		return nil
	}
	return ws.listener.Addr()
}

// Stop 停止Web服务器
func (ws *WebServer) Stop(ctx context.Context) error {
	ws.mutex.Lock()
	if !ws.running {
		ws.mutex.Unlock()
		return nil
	}
	ws.running = false
	ws.mutex.Unlock()

	ws.logger.Info("Stopping web server...")
	ws.preview.closeAll()
	return ws.server.Shutdown(ctx)
}

// IsRunning 检查服务器是否运行中
func (ws *WebServer) IsRunning() bool {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	return ws.running
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		ws.logger.Warnf("Failed to encode JSON: %v", err)
	}
}

func (ws *WebServer) writeError(w http.ResponseWriter, status int, msg string) {
	ws.writeJSON(w, status, map[string]string{"error": msg})
}
