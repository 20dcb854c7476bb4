package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/voltz-protocol/lp-optimiser/internal/fixedpoint"
	"github.com/voltz-protocol/lp-optimiser/internal/logger"
	"github.com/voltz-protocol/lp-optimiser/internal/state"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// Strategies lists the strategy instances served by the API.
type Strategies interface {
	List() []*types.StrategyInstance
	Get(id types.StrategyID) (*types.StrategyInstance, error)
}

// Allocations exposes the committed allocation of an instance.
type Allocations interface {
	State(id types.StrategyID) (types.AllocationState, bool)
}

// Estimates exposes the live estimate of a sub-vault.
type Estimates interface {
	CurrentEstimate(id types.SubVaultID) (types.Estimate, error)
}

// Cycles is the persisted cycle history.
type Cycles interface {
	RecentCycles(strategy types.StrategyID, limit int) ([]types.CycleSnapshot, error)
	CycleByID(id int64) (*types.CycleSnapshot, error)
	Summaries() ([]state.StrategySummary, error)
	Ping(ctx context.Context) error
}

// Config holds the configuration for creating a new WebServer
type Config struct {
	Port        string
	Strategies  Strategies
	Allocations Allocations
	Estimates   Estimates
	Cycles      Cycles
	Metrics     http.Handler // served at /metrics when set
}

// WebServer serves the read-only operator API
type WebServer struct {
	router  *mux.Router
	port    string
	cfg     Config
	started time.Time
	logger  zerolog.Logger
	server  *http.Server
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg Config) (*WebServer, error) {
	if cfg.Strategies == nil {
		return nil, fmt.Errorf("strategies cannot be nil")
	}
	if cfg.Allocations == nil {
		return nil, fmt.Errorf("allocations cannot be nil")
	}
	if cfg.Estimates == nil {
		return nil, fmt.Errorf("estimates cannot be nil")
	}
	if cfg.Cycles == nil {
		return nil, fmt.Errorf("cycles cannot be nil")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	ws := &WebServer{
		router:  mux.NewRouter(),
		port:    cfg.Port,
		cfg:     cfg,
		started: time.Now(),
		logger:  logger.GetForComponent("web_server"),
	}
	ws.setupRoutes()
	return ws, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	if ws.cfg.Metrics != nil {
		ws.router.Handle("/metrics", ws.cfg.Metrics).Methods("GET")
	}

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/strategies", ws.handleGetStrategies).Methods("GET")
	api.HandleFunc("/strategies/{id}", ws.handleGetStrategy).Methods("GET")
	api.HandleFunc("/strategies/{id}/allocation", ws.handleGetAllocation).Methods("GET")
	api.HandleFunc("/strategies/{id}/estimates", ws.handleGetEstimates).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")
	api.HandleFunc("/cycles/{id:[0-9]+}", ws.handleGetCycle).Methods("GET")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler returns the router, for tests and embedding.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start starts the web server and blocks until it stops.
func (ws *WebServer) Start() error {
	ws.logger.Info().Str("port", ws.port).Msg("Starting web server")

	ws.server = &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a started server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	return ws.server.Shutdown(ctx)
}

// handleHealth reports database health and the latest cycle
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbHealthy := ws.cfg.Cycles.Ping(r.Context()) == nil

	cycleInfo := map[string]interface{}{
		"last_cycle_number": 0,
		"last_cycle_time":   nil,
		"last_cycle_failed": false,
	}
	latest, err := ws.cfg.Cycles.RecentCycles("", 1)
	if err == nil && len(latest) > 0 {
		cycleInfo["last_cycle_number"] = latest[0].CycleNumber
		cycleInfo["last_cycle_time"] = latest[0].Timestamp
		cycleInfo["last_cycle_failed"] = latest[0].Failed()
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"uptime_seconds":   int64(time.Since(ws.started).Seconds()),
		},
		"component": map[string]interface{}{
			"name": "lp-optimiser",
		},
		"optimiser_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"strategies":       len(ws.cfg.Strategies.List()),
			"cycle_info":       cycleInfo,
		},
	}
	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetStrategies lists every strategy instance
func (ws *WebServer) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	strategies := ws.cfg.Strategies.List()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"strategies": strategies,
		"count":      len(strategies),
	})
}

func (ws *WebServer) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	inst, ok := ws.lookupStrategy(w, r)
	if !ok {
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, inst)
}

// handleGetAllocation returns the committed allocation of a strategy
func (ws *WebServer) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	inst, ok := ws.lookupStrategy(w, r)
	if !ok {
		return
	}
	st, committed := ws.cfg.Allocations.State(inst.ID)
	if !committed {
		ws.writeErrorResponse(w, http.StatusNotFound, "No allocation committed yet")
		return
	}

	percent := make(map[string]string, len(st.Fractions))
	for id, f := range st.Fractions {
		percent[strconv.FormatUint(uint64(id), 10)] = fixedpoint.FormatWad(f.MulRaw(100))
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"allocation": st,
		"percent":    percent,
	})
}

type estimateEntry struct {
	SubVaultID types.SubVaultID `json:"sub_vault_id"`
	Pool       string           `json:"pool"`
	Estimate   *types.Estimate  `json:"estimate,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// handleGetEstimates returns the live rate estimate of every sub-vault of a strategy
func (ws *WebServer) handleGetEstimates(w http.ResponseWriter, r *http.Request) {
	inst, ok := ws.lookupStrategy(w, r)
	if !ok {
		return
	}
	entries := make([]estimateEntry, 0, len(inst.SubVaults))
	for _, sv := range inst.SubVaults {
		entry := estimateEntry{SubVaultID: sv.Config.ID, Pool: sv.Config.Pool}
		est, err := ws.cfg.Estimates.CurrentEstimate(sv.Config.ID)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Estimate = &est
		}
		entries = append(entries, entry)
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"strategy_id": inst.ID,
		"estimates":   entries,
	})
}

// handleGetCycles returns recent cycle snapshots, optionally for one strategy
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	strategy := types.StrategyID(r.URL.Query().Get("strategy"))

	cycles, err := ws.cfg.Cycles.RecentCycles(strategy, limit)
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get recent cycles")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}
	if cycles == nil {
		cycles = []types.CycleSnapshot{}
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
		"limit":  limit,
	})
}

// handleGetCycle returns a specific cycle by ID
func (ws *WebServer) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid cycle ID")
		return
	}
	cycle, err := ws.cfg.Cycles.CycleByID(id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			ws.writeErrorResponse(w, http.StatusNotFound, "Cycle not found")
			return
		}
		ws.logger.Error().Err(err).Int64("cycleId", id).Msg("Failed to get cycle")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycle")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, cycle)
}

// handleGetLatestCycle returns the most recent cycle
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	cycles, err := ws.cfg.Cycles.RecentCycles("", 1)
	if err != nil || len(cycles) == 0 {
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, cycles[0])
}

// handleGetSummary returns per-strategy cycle statistics
func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := ws.cfg.Cycles.Summaries()
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get strategy summaries")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve summary")
		return
	}
	if summaries == nil {
		summaries = []state.StrategySummary{}
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"strategies": summaries})
}

func (ws *WebServer) lookupStrategy(w http.ResponseWriter, r *http.Request) (*types.StrategyInstance, bool) {
	inst, err := ws.cfg.Strategies.Get(types.StrategyID(mux.Vars(r)["id"]))
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Strategy not found")
		return nil, false
	}
	return inst, true
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		ws.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}
	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		ws.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
