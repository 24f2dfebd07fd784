// Package api is the orchestrator's REST surface: event admission, NPC
// commands, spawn manifest, audit inspection, health, and simulation
// passthrough.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/neuralmesh/orchestrator/internal/aegis"
	"github.com/neuralmesh/orchestrator/internal/audit"
	"github.com/neuralmesh/orchestrator/internal/bus"
	"github.com/neuralmesh/orchestrator/internal/catalog"
	"github.com/neuralmesh/orchestrator/internal/core"
	"github.com/neuralmesh/orchestrator/internal/health"
	"github.com/neuralmesh/orchestrator/internal/pipeline"
	"github.com/neuralmesh/orchestrator/internal/router"
	"github.com/neuralmesh/orchestrator/internal/simulation"
)

// MaxCommandBatch caps the command batch endpoint.
const MaxCommandBatch = 50

// Server exposes the orchestration core over REST/JSON.
type Server struct {
	coordinator *pipeline.Coordinator
	catalog     *catalog.Catalog
	auditLog    *audit.Ring
	supervisor  *aegis.Supervisor
	router      *router.TierRouter
	aggregator  *health.Aggregator
	sim         *simulation.Client
	publisher   pipeline.Publisher
	limiter     *RateLimiter
	metrics     http.Handler

	httpSrv *http.Server
	logger  *log.Logger
}

// Deps collects the server's collaborators. Sim and Metrics may be nil; the
// corresponding endpoints answer 503 or are not mounted.
type Deps struct {
	Coordinator *pipeline.Coordinator
	Catalog     *catalog.Catalog
	AuditLog    *audit.Ring
	Supervisor  *aegis.Supervisor
	Router      *router.TierRouter
	Aggregator  *health.Aggregator
	Sim         *simulation.Client
	Publisher   pipeline.Publisher
	Limiter     *RateLimiter
	Metrics     http.Handler
}

func NewServer(deps Deps) *Server {
	return &Server{
		coordinator: deps.Coordinator,
		catalog:     deps.Catalog,
		auditLog:    deps.AuditLog,
		supervisor:  deps.Supervisor,
		router:      deps.Router,
		aggregator:  deps.Aggregator,
		sim:         deps.Sim,
		publisher:   deps.Publisher,
		limiter:     deps.Limiter,
		metrics:     deps.Metrics,
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Routes builds the router. Exposed for handler tests.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/health/deep", s.handleDeepHealth).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods("GET")
	}

	apiRouter := r.PathPrefix("/api").Subrouter()
	if s.limiter != nil {
		apiRouter.Use(s.limiter.Middleware)
	}

	apiRouter.HandleFunc("/events", s.handleEvent).Methods("POST")
	apiRouter.HandleFunc("/events/batch", s.handleEventBatch).Methods("POST")

	apiRouter.HandleFunc("/v1/npc/command", s.handleCommand).Methods("POST")
	apiRouter.HandleFunc("/v1/npc/command/batch", s.handleCommandBatch).Methods("POST")
	apiRouter.HandleFunc("/v1/npc/spawn-manifest", s.handleSpawnManifest).Methods("GET")

	apiRouter.HandleFunc("/audit", s.handleAudit).Methods("GET")
	apiRouter.HandleFunc("/audit/stats", s.handleAuditStats).Methods("GET")
	apiRouter.HandleFunc("/breakers", s.handleBreakers).Methods("GET")

	apiRouter.HandleFunc("/aegis", s.handleAegisGet).Methods("GET")
	apiRouter.HandleFunc("/aegis", s.handleAegisSet).Methods("POST")

	apiRouter.HandleFunc("/simulation/status", s.handleSimStatus).Methods("GET")
	apiRouter.HandleFunc("/simulation/advance", s.handleSimAdvance).Methods("POST")
	apiRouter.HandleFunc("/simulation/cleansing", s.handleSimCleansing).Methods("POST")

	return r
}

// Start listens on the given port until Shutdown.
func (s *Server) Start(port string) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Printf("🚀 Orchestration API listening on :%s", port)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ============================================================================
// EVENT ADMISSION
// ============================================================================

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var event core.GameEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, core.KindInvalidInput, "invalid JSON body")
		return
	}
	if event.EventType == "" {
		writeError(w, http.StatusBadRequest, core.KindInvalidInput, "eventType is required")
		return
	}

	resp, err := s.coordinator.ProcessEvent(r.Context(), &event)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEventBatch(w http.ResponseWriter, r *http.Request) {
	var events []*core.GameEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, core.KindInvalidInput, "invalid JSON body")
		return
	}
	for i, event := range events {
		if event == nil || event.EventType == "" {
			writeError(w, http.StatusBadRequest, core.KindInvalidInput,
				fmt.Sprintf("event %d: eventType is required", i))
			return
		}
	}

	responses, errs := s.coordinator.ProcessBatch(r.Context(), events)
	out := make([]interface{}, len(responses))
	for i := range responses {
		if errs[i] != nil {
			out[i] = map[string]interface{}{
				"eventId": events[i].EventID,
				"error":   errs[i].Error(),
				"kind":    string(core.KindOf(errs[i])),
			}
			continue
		}
		out[i] = responses[i]
	}
	writeJSON(w, http.StatusOK, out)
}

// ============================================================================
// NPC COMMANDS
// ============================================================================

type commandAck struct {
	Accepted    bool   `json:"accepted"`
	CommandID   string `json:"commandId"`
	CommandType string `json:"commandType"`
	NPCName     string `json:"npcName"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd catalog.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, core.KindInvalidInput, "invalid JSON body")
		return
	}
	ack, kind, err := s.dispatchCommand(r.Context(), &cmd)
	if err != nil {
		writeError(w, statusFor(kind), kind, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleCommandBatch(w http.ResponseWriter, r *http.Request) {
	var cmds []catalog.Command
	if err := json.NewDecoder(r.Body).Decode(&cmds); err != nil {
		writeError(w, http.StatusBadRequest, core.KindInvalidInput, "invalid JSON body")
		return
	}
	if len(cmds) > MaxCommandBatch {
		writeError(w, http.StatusBadRequest, core.KindInvalidInput,
			fmt.Sprintf("batch size %d exceeds maximum %d", len(cmds), MaxCommandBatch))
		return
	}

	type batchResult struct {
		CommandID string `json:"commandId"`
		Accepted  bool   `json:"accepted"`
		Error     string `json:"error,omitempty"`
	}
	results := make([]batchResult, 0, len(cmds))
	accepted := 0
	for i := range cmds {
		cmd := &cmds[i]
		_, _, err := s.dispatchCommand(r.Context(), cmd)
		if err != nil {
			results = append(results, batchResult{CommandID: cmd.CommandID, Error: err.Error()})
			continue
		}
		accepted++
		results = append(results, batchResult{CommandID: cmd.CommandID, Accepted: true})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":    len(cmds),
		"accepted": accepted,
		"rejected": len(cmds) - accepted,
		"results":  results,
	})
}

// dispatchCommand validates, resolves the subject, echoes the command on the
// bus, and reports it to the simulation best effort. The returned kind
// classifies the failure for statusFor.
func (s *Server) dispatchCommand(ctx context.Context, cmd *catalog.Command) (*commandAck, core.Kind, error) {
	if err := cmd.Validate(); err != nil {
		return nil, core.KindInvalidInput, err
	}
	npc, ok := s.catalog.Get(cmd.NPCID)
	if !ok {
		return nil, core.KindNotFound, fmt.Errorf("unknown npc %q", cmd.NPCID)
	}

	if s.publisher != nil {
		s.publisher.Publish(bus.ChannelNPCCommands, cmd)
	}
	if s.sim != nil {
		if _, err := s.sim.ProcessNPCAction(ctx, cmd.NPCID, cmd.CommandType, float64(cmd.Priority)/100, ""); err != nil {
			s.logger.Printf("Simulation did not accept command %s: %v", cmd.CommandID, err)
		}
	}

	return &commandAck{
		Accepted:    true,
		CommandID:   cmd.CommandID,
		CommandType: cmd.CommandType,
		NPCName:     npc.Name,
	}, "", nil
}

func (s *Server) handleSpawnManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.SpawnManifest())
}

// ============================================================================
// HEALTH & INTROSPECTION
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleDeepHealth(w http.ResponseWriter, r *http.Request) {
	report := s.aggregator.DeepCheck(r.Context())

	services := make(map[string]interface{}, len(report.Checks))
	for _, c := range report.Checks {
		services[c.Name] = map[string]interface{}{
			"status":    c.Status,
			"latencyMs": c.LatencyMs,
			"details":   c.Detail,
		}
	}
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":    report.Status,
		"services":  services,
		"timestamp": report.Timestamp,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	count := 20
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, core.KindInvalidInput, "count must be a positive integer")
			return
		}
		count = n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": s.auditLog.Recent(count),
	})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.auditLog.Stats())
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.router.Snapshots())
}

func (s *Server) handleAegisGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"level": s.supervisor.Level()})
}

func (s *Server) handleAegisSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level *int `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Level == nil {
		writeError(w, http.StatusBadRequest, core.KindInvalidInput, "level is required")
		return
	}
	s.supervisor.SetLevel(*req.Level)
	writeJSON(w, http.StatusOK, map[string]int{"level": s.supervisor.Level()})
}

// ============================================================================
// SIMULATION PASSTHROUGH
// ============================================================================

func (s *Server) handleSimStatus(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		writeError(w, http.StatusServiceUnavailable, core.KindUpstreamUnavailable, "simulation not configured")
		return
	}
	status, err := s.sim.Status(r.Context())
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSimAdvance(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		writeError(w, http.StatusServiceUnavailable, core.KindUpstreamUnavailable, "simulation not configured")
		return
	}
	var req struct {
		Ticks int32 `json:"ticks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, core.KindInvalidInput, "invalid JSON body")
		return
	}
	if req.Ticks <= 0 {
		req.Ticks = 1
	}
	status, err := s.sim.Advance(r.Context(), req.Ticks)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	if s.publisher != nil {
		s.publisher.Publish(bus.ChannelSimulationTicks, status)
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSimCleansing(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		writeError(w, http.StatusServiceUnavailable, core.KindUpstreamUnavailable, "simulation not configured")
		return
	}
	var req struct {
		NPCIDs []string `json:"npcIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.NPCIDs) == 0 {
		writeError(w, http.StatusBadRequest, core.KindInvalidInput, "npcIds is required")
		return
	}
	result, err := s.sim.DeployCleansing(r.Context(), req.NPCIDs)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	if s.publisher != nil {
		s.publisher.Publish(bus.ChannelSystemStatus, result)
	}
	writeJSON(w, http.StatusOK, result)
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	writeError(w, statusFor(kind), kind, err.Error())
}

func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	case core.KindUpstreamUnavailable:
		return http.StatusBadGateway
	case core.KindCircuitAllOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind core.Kind, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
		"kind":  string(kind),
	})
}
