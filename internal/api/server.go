// Package api serves the loginwatch statistics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"loginwatch/internal/event"
	"loginwatch/internal/stats"
)

// DefaultPeriod is used when a graph-data request omits the period
// parameter.
const DefaultPeriod = event.Period7d

// MetricsFunc supplies one named metrics block for the /metrics
// endpoint.
type MetricsFunc func() any

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:8081",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server exposes statistics, graph data, health and metrics endpoints.
type Server struct {
	config   ServerConfig
	reporter *stats.Reporter
	metrics  map[string]MetricsFunc
	now      func() time.Time

	httpServer *http.Server
}

// NewServer creates a new API server backed by the given reporter.
func NewServer(cfg ServerConfig, reporter *stats.Reporter) *Server {
	return &Server{
		config:   cfg,
		reporter: reporter,
		metrics:  make(map[string]MetricsFunc),
		now:      time.Now,
	}
}

// WithClock overrides the server clock, for tests.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// RegisterMetrics adds a named metrics block to the /metrics response.
func (s *Server) RegisterMetrics(name string, fn MetricsFunc) {
	s.metrics[name] = fn
}

// RegisterRoutes registers the API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/statistics", s.HandleStatistics)
	mux.HandleFunc("GET /api/graph-data", s.HandleGraphData)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /metrics", s.HandleMetrics)
}

// Start starts the HTTP server in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         s.config.Address,
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	slog.Info("API server starting", "address", s.config.Address)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server failed", "error", err)
		}
	}()

	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// HandleStatistics serves the standard reporting-period counts.
func (s *Server) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	statistics, err := s.reporter.Compute(r.Context(), s.now())
	if err != nil {
		slog.Error("statistics query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to compute statistics")
		return
	}

	writeJSON(w, http.StatusOK, statistics)
}

// graphDataResponse is the dashboard graph payload.
type graphDataResponse struct {
	DataPoints       []event.GraphDataPoint `json:"dataPoints"`
	Period           event.TimePeriod       `json:"period"`
	AggregationLevel string                 `json:"aggregationLevel"`
	TotalEvents      int                    `json:"totalEvents"`
	DateRange        dateRange              `json:"dateRange"`
}

type dateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// HandleGraphData serves bucketed event counts for a time period. The
// period defaults to 7d; an unknown value is a client error.
func (s *Server) HandleGraphData(w http.ResponseWriter, r *http.Request) {
	period := event.TimePeriod(r.URL.Query().Get("period"))
	if period == "" {
		period = DefaultPeriod
	}

	start, end, err := stats.PeriodRange(period, s.now())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid period parameter")
		return
	}

	points, err := s.reporter.AggregatedCounts(r.Context(), start, end)
	if err != nil {
		slog.Error("graph data query failed", "error", err, "period", period)
		writeJSONError(w, http.StatusInternalServerError, "Failed to compute graph data")
		return
	}

	total := 0
	for _, p := range points {
		total += p.Count
	}

	writeJSON(w, http.StatusOK, graphDataResponse{
		DataPoints:       points,
		Period:           period,
		AggregationLevel: stats.AggregationLevel(start, end),
		TotalEvents:      total,
		DateRange: dateRange{
			Start: start.UTC().Format(event.TimestampFormat),
			End:   end.UTC().Format(event.TimestampFormat),
		},
	})
}

// HandleHealth serves the liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMetrics serves the registered metrics blocks.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	blocks := make(map[string]any, len(s.metrics))
	for name, fn := range s.metrics {
		blocks[name] = fn()
	}
	writeJSON(w, http.StatusOK, blocks)
}

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
