package webserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

func (ws *WebServer) setupRoutes() {
	ws.router = mux.NewRouter()

	if ws.config.EnableCORS {
		ws.router.Use(ws.corsMiddleware)
	}
	ws.router.Use(ws.loggingMiddleware)

	ws.router.HandleFunc("/health", ws.handleHealth).Methods(http.MethodGet)
	if ws.metricsHandler != nil {
		ws.router.Handle("/metrics", ws.metricsHandler).Methods(http.MethodGet)
	}

	api := ws.router.PathPrefix("/api").Subrouter()
	if ws.config.AuthToken != "" {
		api.Use(ws.authMiddleware)
	}
	api.HandleFunc("/status", ws.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/health", ws.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/streams", ws.handleStreamList).Methods(http.MethodGet)
	api.HandleFunc("/streams/{name}", ws.handleStreamStats).Methods(http.MethodGet)
	api.HandleFunc("/streams/{name}/frame.jpg", ws.handleStreamFrame).Methods(http.MethodGet)
	api.HandleFunc("/streams/{name}/ws", ws.handlePreview).Methods(http.MethodGet)

	ws.router.Handle("/", GetStaticFileHandler()).Methods(http.MethodGet)
	ws.router.Handle("/index.html", GetStaticFileHandler()).Methods(http.MethodGet)

	// preflight requests only need a matched route for corsMiddleware to run
	ws.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	streams := ws.sortedStreams()
	running := 0
	for _, s := range streams {
		if s.Stats().Running {
			running++
		}
	}

	status := map[string]any{
		"status":          "running",
		"version":         ws.version,
		"timestamp":       time.Now().Unix(),
		"uptime":          time.Since(ws.startTime).Seconds(),
		"streams":         len(streams),
		"streams_running": running,
	}
	if ws.host != nil {
		status["host"] = map[string]any{
			"ticks":   ws.host.Ticks(),
			"applied": ws.host.Applied(),
		}
	}
	ws.writeJSON(w, http.StatusOK, status)
}

// handleHealth reports healthy when every registered stream is running.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]bool)
	healthy := true
	for _, s := range ws.sortedStreams() {
		ok := s.Stats().Running
		checks[s.Name()] = ok
		healthy = healthy && ok
	}

	code := http.StatusOK
	status := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	ws.writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (ws *WebServer) handleStreamList(w http.ResponseWriter, r *http.Request) {
	streams := ws.sortedStreams()
	out := make([]any, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.Stats())
	}
	ws.writeJSON(w, http.StatusOK, map[string]any{"streams": out})
}

func (ws *WebServer) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.stream(mux.Vars(r)["name"])
	if !ok {
		ws.writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	ws.writeJSON(w, http.StatusOK, s.Stats())
}

// handleStreamFrame serves the payload of the last applied frame as is.
func (ws *WebServer) handleStreamFrame(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.stream(mux.Vars(r)["name"])
	if !ok {
		ws.writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	applied, ok := s.Sink().Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Sequence", strconv.FormatUint(applied.Sequence, 10))
	_, _ = w.Write(applied.Payload)
}
