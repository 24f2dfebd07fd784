// Sentinel supervises the orchestrator process with a bounded restart
// budget, externalising its state to a pid file, line log, and status
// document.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/neuralmesh/orchestrator/internal/sentinel"
)

func main() {
	var (
		command   = flag.String("command", "./orchestrator", "worker command line")
		stateDir  = flag.String("state-dir", "./sentinel-state", "directory for pid file, log, and status document")
		healthURL = flag.String("health-url", "http://localhost:8090/health", "worker health endpoint")
		cycle     = flag.Duration("cycle", sentinel.DefaultCycle, "detection cycle period")
		maxFails  = flag.Int("max-failures", sentinel.DefaultMaxFailures, "consecutive health failures before restart")
		maxMemMB  = flag.Int64("memory-limit-mb", sentinel.DefaultMemoryLimitMB, "resident memory limit")
		restarts  = flag.Int("max-restarts", sentinel.DefaultMaxRestarts, "restart budget per window")
		window    = flag.Duration("restart-window", sentinel.DefaultRestartWindow, "sliding restart window")
	)
	flag.Parse()

	httpClient := &http.Client{Timeout: 3 * time.Second}
	probes := sentinel.Probes{
		ProcessAlive: processAlive,
		HealthOK: func(ctx context.Context) bool {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, *healthURL, nil)
			if err != nil {
				return false
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		},
		ResidentMemoryMB: residentMemoryMB,
	}

	s, err := sentinel.New(sentinel.Config{
		Command:       strings.Fields(*command),
		Cycle:         *cycle,
		MaxFailures:   *maxFails,
		MemoryLimitMB: *maxMemMB,
		MaxRestarts:   *restarts,
		RestartWindow: *window,
		StateDir:      *stateDir,
	}, probes)
	if err != nil {
		log.Fatalf("Sentinel init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log.Printf("🛡️ Sentinel supervising %q (budget %d restarts / %s)", *command, *restarts, *window)
	if err := s.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Sentinel exited: %v", err)
	}
}

// processAlive checks pid liveness with a null signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// residentMemoryMB reads VmRSS from /proc. Returns 0 when unavailable so
// the memory signal never false-positives.
func residentMemoryMB(pid int) int64 {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		var kb int64
		if _, err := fmt.Sscanf(fields[1], "%d", &kb); err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}
