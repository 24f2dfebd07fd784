package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neuralmesh/orchestrator/internal/aegis"
	"github.com/neuralmesh/orchestrator/internal/api"
	"github.com/neuralmesh/orchestrator/internal/audit"
	"github.com/neuralmesh/orchestrator/internal/bus"
	"github.com/neuralmesh/orchestrator/internal/catalog"
	"github.com/neuralmesh/orchestrator/internal/circuitbreaker"
	"github.com/neuralmesh/orchestrator/internal/classifier"
	"github.com/neuralmesh/orchestrator/internal/config"
	"github.com/neuralmesh/orchestrator/internal/health"
	"github.com/neuralmesh/orchestrator/internal/llm"
	"github.com/neuralmesh/orchestrator/internal/memory"
	"github.com/neuralmesh/orchestrator/internal/monitoring"
	"github.com/neuralmesh/orchestrator/internal/pipeline"
	"github.com/neuralmesh/orchestrator/internal/rails"
	"github.com/neuralmesh/orchestrator/internal/registry"
	"github.com/neuralmesh/orchestrator/internal/router"
	"github.com/neuralmesh/orchestrator/internal/simulation"
)

const auditCapacity = 1000

func main() {
	log.Println("🔥 Starting Neural Mesh Orchestration Core...")

	configPath := flag.String("config", "", "path to yaml config")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on process environment")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Config load failed: %v", err)
	}

	// 1. Routing core
	reg := registry.NewDefault()
	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		SuccessThreshold:    cfg.Breaker.SuccessThreshold,
		RecoveryTimeout:     cfg.Breaker.RecoveryTimeout(),
		HalfOpenMaxRequests: cfg.Breaker.HalfOpenMaxRequests,
		MonitoringWindow:    cfg.Breaker.MonitoringWindow(),
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.RecordBreakerTransition(name, from.String(), to.String())
		},
	})
	rt := router.New(reg, breakers)

	auditLog := audit.NewRing(auditCapacity)
	factory := llm.NewAdapterFactory(reg, llm.NewMockAdapter(llm.MockConfig{}))
	client := llm.NewResilientClient(rt, factory, auditLog, cfg.LLM.Mode)
	client.SetMetrics(metrics)
	log.Printf("LLM client mode: %s", client.Mode())

	// 2. Memory graph
	graph, err := buildGraph(cfg, metrics)
	if err != nil {
		log.Fatalf("Memory graph init failed: %v", err)
	}

	// 3. Broadcast bus
	broadcastBus := bus.New(cfg.Bus.Port)
	if err := broadcastBus.Start(); err != nil {
		log.Fatalf("Bus start failed: %v", err)
	}

	// 4. Simulation client (optional)
	var simClient *simulation.Client
	if cfg.Simulation.GRPCAddr != "" || cfg.Simulation.HTTPURL != "" {
		simClient, err = simulation.NewClient(cfg.Simulation.GRPCAddr, cfg.Simulation.HTTPURL,
			simulation.WithFallbackHook(metrics.SimFallbacks.Inc))
		if err != nil {
			log.Fatalf("Simulation client init failed: %v", err)
		}
	} else {
		log.Println("⚠️ No simulation endpoint configured, risk probes read zero")
	}

	// 5. Pipeline
	supervisor := aegis.New(0)
	var prober pipeline.RiskProber
	if simClient != nil {
		prober = simClient
	}
	coordinator := pipeline.New(
		classifier.New(cfg.Classifier.UrgencyThreshold),
		client,
		prober,
		rails.New(rails.Config{
			RiskThreshold:   cfg.Rails.RiskThreshold,
			LatencyBudgetMs: cfg.Rails.LatencyBudgetMs,
		}),
		supervisor,
		graph,
		broadcastBus,
		metrics,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var telemetry *simulation.TelemetryConsumer
	if simClient != nil {
		telemetry = simulation.NewTelemetryConsumer(simClient, nil, coordinator.HandleTelemetry)
		telemetry.Start(ctx)
	}

	// 6. Health probes
	aggregator := health.NewAggregator()
	if simClient != nil {
		aggregator.Register("simulation", func(ctx context.Context) (health.Status, string) {
			resp, err := simClient.Health(ctx)
			if err != nil {
				return health.StatusDown, err.Error()
			}
			if !resp.Healthy {
				return health.StatusDegraded, resp.Detail
			}
			return health.StatusHealthy, ""
		})
	}
	aggregator.Register("bus", func(ctx context.Context) (health.Status, string) {
		n := broadcastBus.ConnectionCount()
		if n < 0 {
			return health.StatusDown, "connection count unavailable"
		}
		metrics.BusConnections.Set(float64(n))
		return health.StatusHealthy, ""
	})

	// 7. HTTP surface
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerMinute)
	server := api.NewServer(api.Deps{
		Coordinator: coordinator,
		Catalog:     catalog.New(),
		AuditLog:    auditLog,
		Supervisor:  supervisor,
		Router:      rt,
		Aggregator:  aggregator,
		Sim:         simClient,
		Publisher:   broadcastBus,
		Limiter:     limiter,
		Metrics:     promhttp.Handler(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Server.Port) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if telemetry != nil {
		telemetry.Wait()
	}
	if err := graph.Shutdown(shutdownCtx); err != nil {
		log.Printf("Memory graph shutdown: %v", err)
	}
	if err := broadcastBus.Close(); err != nil {
		log.Printf("Bus close: %v", err)
	}
	if simClient != nil {
		_ = simClient.Close()
	}
	limiter.Stop()
	log.Println("Shutdown complete")
}

// buildGraph selects the persistence session from config. Redis and
// Postgres failures fall back to the in-memory session so the orchestrator
// still comes up.
func buildGraph(cfg *config.Config, metrics *monitoring.Metrics) (*memory.Graph, error) {
	queue := memory.NewRetryQueue(memory.QueueConfig{
		Capacity:      cfg.Queue.Capacity,
		MaxAge:        cfg.Queue.MaxAge(),
		FlushInterval: cfg.Queue.FlushInterval(),
		OnSize:        func(n int) { metrics.RetryQueueSize.Set(float64(n)) },
		OnDropped:     func(n int) { metrics.RetryQueueDrops.Add(float64(n)) },
	})

	var session memory.GraphSession
	switch cfg.Memory.Backend {
	case "redis":
		s, err := memory.NewRedisSession(cfg.Memory.RedisAddr, cfg.Memory.RedisPassword, cfg.Memory.RedisDB)
		if err != nil {
			log.Printf("⚠️ Redis unavailable (%v), using in-memory session", err)
			session = memory.NewInMemSession()
		} else {
			session = s
		}
	case "postgres":
		s, err := memory.NewPostgresSession(cfg.Memory.PostgresDSN)
		if err != nil {
			log.Printf("⚠️ Postgres unavailable (%v), using in-memory session", err)
			session = memory.NewInMemSession()
		} else {
			session = s
		}
	default:
		session = memory.NewInMemSession()
	}
	return memory.NewGraph(session, queue), nil
}
