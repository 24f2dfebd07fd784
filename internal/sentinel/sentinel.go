// Package sentinel supervises a worker process with a bounded restart
// budget. It watches four signals: the worker's listen port with no live
// parent, a dead parent pid, consecutive health probe failures, and
// resident memory over the limit. Any of them triggers a restart; a sliding
// restart window quarantines a worker that keeps dying.
package sentinel

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// WorkerState is the supervised process lifecycle.
type WorkerState string

const (
	StateStopped     WorkerState = "STOPPED"
	StateRunning     WorkerState = "RUNNING"
	StateRestarting  WorkerState = "RESTARTING"
	StateQuarantined WorkerState = "QUARANTINED"
)

// Config tunes the supervision loop.
type Config struct {
	Command []string      `yaml:"command"`
	WorkDir string        `yaml:"work_dir"`
	Cycle   time.Duration `yaml:"cycle"`

	MaxFailures   int           `yaml:"max_failures"`
	MemoryLimitMB int64         `yaml:"memory_limit_mb"`
	MaxRestarts   int           `yaml:"max_restarts"`
	RestartWindow time.Duration `yaml:"restart_window"`

	// StateDir receives the pid file, line log, and status document.
	StateDir string `yaml:"state_dir"`
}

// Defaults applied for zero config fields.
const (
	DefaultCycle         = 10 * time.Second
	DefaultMaxFailures   = 3
	DefaultMaxRestarts   = 5
	DefaultRestartWindow = 10 * time.Minute
	DefaultMemoryLimitMB = 2048
)

// Probes abstracts the health signals so tests can script them.
type Probes struct {
	// ProcessAlive reports whether pid is running.
	ProcessAlive func(pid int) bool
	// HealthOK probes the worker's health endpoint.
	HealthOK func(ctx context.Context) bool
	// ResidentMemoryMB reads the worker's resident set size.
	ResidentMemoryMB func(pid int) int64
}

// Status is the externalised status document.
type Status struct {
	State            WorkerState `yaml:"state" json:"state"`
	PID              int         `yaml:"pid" json:"pid"`
	RestartsInWindow int         `yaml:"restarts_in_window" json:"restartsInWindow"`
	LastReason       string      `yaml:"last_reason,omitempty" json:"lastReason,omitempty"`
	UpdatedAt        time.Time   `yaml:"updated_at" json:"updatedAt"`
}

// Sentinel drives the supervision loop for one worker.
type Sentinel struct {
	cfg    Config
	probes Probes

	mu             sync.Mutex
	state          WorkerState
	cmd            *exec.Cmd
	restartTimes   []time.Time
	healthFailures int
	lastReason     string

	logger  *log.Logger
	logFile *os.File
}

// New builds a sentinel. Zero config fields take package defaults.
func New(cfg Config, probes Probes) (*Sentinel, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("sentinel: command is required")
	}
	if cfg.Cycle <= 0 {
		cfg.Cycle = DefaultCycle
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = DefaultRestartWindow
	}
	if cfg.MemoryLimitMB <= 0 {
		cfg.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "."
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.StateDir, "sentinel.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &Sentinel{
		cfg:     cfg,
		probes:  probes,
		state:   StateStopped,
		logger:  log.New(logFile, "", log.LstdFlags),
		logFile: logFile,
	}, nil
}

// State returns the worker's current lifecycle state.
func (s *Sentinel) State() WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run starts the worker and supervises it until ctx is cancelled or the
// restart budget is exhausted.
func (s *Sentinel) Run(ctx context.Context) error {
	if err := s.startWorker(); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.Cycle)
	defer ticker.Stop()
	defer s.logFile.Close()

	for {
		select {
		case <-ctx.Done():
			s.stopWorker("shutdown")
			return ctx.Err()
		case <-ticker.C:
			if s.State() == StateQuarantined {
				return fmt.Errorf("sentinel: worker quarantined: %s", s.lastReason)
			}
			if reason := s.evaluate(ctx); reason != "" {
				s.restart(reason)
			}
		}
	}
}

// evaluate runs one detection cycle; a non-empty reason demands a restart.
func (s *Sentinel) evaluate(ctx context.Context) string {
	s.mu.Lock()
	pid := 0
	if s.cmd != nil && s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	s.mu.Unlock()

	if pid == 0 || (s.probes.ProcessAlive != nil && !s.probes.ProcessAlive(pid)) {
		return "worker process dead"
	}

	if s.probes.HealthOK != nil {
		if s.probes.HealthOK(ctx) {
			s.mu.Lock()
			s.healthFailures = 0
			s.mu.Unlock()
		} else {
			s.mu.Lock()
			s.healthFailures++
			failures := s.healthFailures
			s.mu.Unlock()
			s.logger.Printf("health probe failed (%d/%d)", failures, s.cfg.MaxFailures)
			if failures > s.cfg.MaxFailures {
				return fmt.Sprintf("health probe failed %d consecutive times", failures)
			}
		}
	}

	if s.probes.ResidentMemoryMB != nil {
		if rss := s.probes.ResidentMemoryMB(pid); rss > s.cfg.MemoryLimitMB {
			return fmt.Sprintf("resident memory %dMB over limit %dMB", rss, s.cfg.MemoryLimitMB)
		}
	}
	return ""
}

// restart kills and relaunches the worker, charging the restart budget.
// Budget exhaustion quarantines instead.
func (s *Sentinel) restart(reason string) {
	s.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-s.cfg.RestartWindow)
	kept := s.restartTimes[:0]
	for _, t := range s.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restartTimes = kept
	s.lastReason = reason

	if len(s.restartTimes) >= s.cfg.MaxRestarts {
		s.state = StateQuarantined
		s.mu.Unlock()
		s.logger.Printf("QUARANTINED: %s (restart budget %d/%s exhausted)",
			reason, s.cfg.MaxRestarts, s.cfg.RestartWindow)
		s.stopWorker("quarantine")
		s.writeStatus()
		return
	}
	s.restartTimes = append(s.restartTimes, now)
	s.state = StateRestarting
	s.mu.Unlock()

	s.logger.Printf("RESTART: %s", reason)
	s.stopWorker(reason)
	s.healthFailures = 0
	if err := s.startWorker(); err != nil {
		s.logger.Printf("restart failed: %v", err)
	}
}

func (s *Sentinel) startWorker() error {
	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Stdout = s.logFile
	cmd.Stderr = s.logFile
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sentinel: start worker: %w", err)
	}
	go cmd.Wait()

	s.mu.Lock()
	s.cmd = cmd
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Printf("STARTED pid=%d", cmd.Process.Pid)
	s.writePIDFile(cmd.Process.Pid)
	s.writeStatus()
	return nil
}

func (s *Sentinel) stopWorker(reason string) {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	s.logger.Printf("STOPPED pid=%d reason=%s", cmd.Process.Pid, reason)
}

func (s *Sentinel) writePIDFile(pid int) {
	path := filepath.Join(s.cfg.StateDir, "worker.pid")
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0o644); err != nil {
		s.logger.Printf("pid file write failed: %v", err)
	}
}

func (s *Sentinel) writeStatus() {
	s.mu.Lock()
	pid := 0
	if s.cmd != nil && s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	status := Status{
		State:            s.state,
		PID:              pid,
		RestartsInWindow: len(s.restartTimes),
		LastReason:       s.lastReason,
		UpdatedAt:        time.Now().UTC(),
	}
	s.mu.Unlock()

	raw, err := yaml.Marshal(status)
	if err != nil {
		s.logger.Printf("status marshal failed: %v", err)
		return
	}
	path := filepath.Join(s.cfg.StateDir, "status.yaml")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		s.logger.Printf("status write failed: %v", err)
	}
}
