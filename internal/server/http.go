package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/sales-intake-service/internal/config"
	"github.com/skypro1111/sales-intake-service/internal/metrics"
	"github.com/skypro1111/sales-intake-service/internal/protocol"
	"github.com/skypro1111/sales-intake-service/internal/session"
	"github.com/skypro1111/sales-intake-service/internal/store"
)

const serviceName = "sales-intake-service"

// BranchLister is the read side of the branch store used by the API
type BranchLister interface {
	Branches() ([]store.BranchInfo, error)
	Stat(branch string) (*store.Receipt, error)
	ReadReport(branch string) ([]byte, error)
}

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	sessionMgr *session.Manager
	tcpServer  *TCPServer
	branches   BranchLister
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	listener   net.Listener

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. m and gatherer may be nil;
// a nil gatherer serves the default Prometheus registry.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, sessionMgr *session.Manager,
	tcpServer *TCPServer, branches BranchLister, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		sessionMgr: sessionMgr,
		tcpServer:  tcpServer,
		branches:   branches,
		metrics:    m,
		gatherer:   gatherer,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         appConfig.HTTP.ListenAddress(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/branches", h.withMetrics("/branches", h.handleBranches))
	mux.HandleFunc("/branches/", h.handleBranchPath)
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Not instrumented
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the API handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the HTTP listener and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.listener = listener

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address, nil before Start
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tcpStats := h.tcpServer.GetStatistics()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name": serviceName,
		},
		"components": map[string]interface{}{
			"tcp_server": map[string]interface{}{
				"status":               "running",
				"address":              tcpStats.Address,
				"connections_accepted": tcpStats.ConnectionsAccepted,
				"accept_errors":        tcpStats.AcceptErrors,
			},
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": tcpStats.ActiveSessions,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"tcp":       h.tcpServer.GetStatistics(),
		"sessions":  h.sessionMgr.GetStatistics(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.sessionMgr.GetAllSessions()
	infos := make([]session.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.GetSessionInfo())
	}

	response := map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleBranches implements the /branches endpoint
func (h *HTTPServer) handleBranches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	branches, err := h.branches.Branches()
	if err != nil {
		h.logger.Error("Failed to list branches", slog.String("error", err.Error()))
		http.Error(w, "Failed to list branches", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"total_branches": len(branches),
		"timestamp":      time.Now().UTC(),
		"branches":       branches,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleBranchPath routes /branches/{code} and /branches/{code}/report
func (h *HTTPServer) handleBranchPath(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(strings.TrimPrefix(r.URL.Path, "/branches/"), reportSuffix) {
		h.withMetrics("/branches/{code}/report", h.handleBranchReport)(w, r)
		return
	}
	h.withMetrics("/branches/{code}", h.handleBranchDetail)(w, r)
}

const reportSuffix = "/report"

// handleBranchDetail implements the /branches/{code} endpoint
func (h *HTTPServer) handleBranchDetail(w http.ResponseWriter, r *http.Request) {
	code, ok := h.branchCode(w, r, strings.TrimPrefix(r.URL.Path, "/branches/"))
	if !ok {
		return
	}

	receipt, err := h.branches.Stat(code)
	if err != nil {
		h.writeStoreError(w, code, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// handleBranchReport implements the /branches/{code}/report endpoint
func (h *HTTPServer) handleBranchReport(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/branches/"), reportSuffix)
	code, ok := h.branchCode(w, r, path)
	if !ok {
		return
	}

	report, err := h.branches.ReadReport(code)
	if err != nil {
		h.writeStoreError(w, code, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(report)))
	w.WriteHeader(http.StatusOK)
	w.Write(report)
}

// branchCode checks the method and the branch code taken from the path.
// It writes the error response and returns false when either is invalid.
func (h *HTTPServer) branchCode(w http.ResponseWriter, r *http.Request, code string) (string, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}

	if code == "" {
		http.Error(w, "Branch code required", http.StatusBadRequest)
		return "", false
	}

	if err := protocol.ValidateBranchCode(code); err != nil {
		http.Error(w, "Invalid branch code", http.StatusBadRequest)
		return "", false
	}

	return code, true
}

func (h *HTTPServer) writeStoreError(w http.ResponseWriter, code string, err error) {
	switch {
	case errors.Is(err, store.ErrBranchNotFound):
		http.Error(w, "Branch not found", http.StatusNotFound)
	case errors.Is(err, store.ErrReportNotFound):
		http.Error(w, "Report not found", http.StatusNotFound)
	default:
		h.logger.Error("Failed to read branch report",
			slog.String("branch", code),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Failed to read branch report", http.StatusInternalServerError)
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := map[string]interface{}{
		"server": map[string]interface{}{
			"bind_address":    h.config.Server.BindAddress,
			"port":            h.config.Server.Port,
			"frame_size":      h.config.Server.FrameSize,
			"max_sessions":    h.config.Server.MaxSessions,
			"session_timeout": h.config.Server.SessionTimeout,
		},
		"storage": map[string]interface{}{
			"data_dir":    h.config.Storage.DataDir,
			"report_file": h.config.Storage.ReportFile,
			"file_mode":   h.config.Storage.FileMode,
			"dir_mode":    h.config.Storage.DirMode,
		},
		"http": map[string]interface{}{
			"enabled": h.config.HTTP.Enabled,
			"address": h.config.HTTP.Address,
			"port":    h.config.HTTP.Port,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, cfg)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": serviceName,
		"endpoints": map[string]interface{}{
			"GET /":                       "API documentation",
			"GET /health":                 "Service health check",
			"GET /stats":                  "Listener and session totals",
			"GET /sessions":               "Sessions in flight",
			"GET /branches":               "Known branches and their reports",
			"GET /branches/{code}":        "Stored report receipt for a branch",
			"GET /branches/{code}/report": "Stored report contents for a branch",
			"GET /config":                 "Service configuration",
			"GET /metrics":                "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
