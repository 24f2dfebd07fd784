package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Bus        BusConfig        `yaml:"bus"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Rails      RailsConfig      `yaml:"rails"`
	Queue      QueueConfig      `yaml:"queue"`
	Memory     MemoryConfig     `yaml:"memory"`
	Simulation SimulationConfig `yaml:"simulation"`
	LLM        LLMConfig        `yaml:"llm"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type BusConfig struct {
	Port int `yaml:"port"`
}

type BreakerConfig struct {
	FailureThreshold    int `yaml:"failure_threshold"`
	SuccessThreshold    int `yaml:"success_threshold"`
	RecoveryTimeoutSecs int `yaml:"recovery_timeout_seconds"`
	HalfOpenMaxRequests int `yaml:"half_open_max_requests"`
	MonitoringWindowSec int `yaml:"monitoring_window_seconds"`
}

type ClassifierConfig struct {
	UrgencyThreshold float64 `yaml:"urgency_threshold"`
}

type RailsConfig struct {
	RiskThreshold   float64 `yaml:"risk_threshold"`
	LatencyBudgetMs int64   `yaml:"latency_budget_ms"`
}

type QueueConfig struct {
	Capacity          int `yaml:"capacity"`
	MaxAgeSeconds     int `yaml:"max_age_seconds"`
	FlushIntervalSecs int `yaml:"flush_interval_seconds"`
}

// MemoryConfig selects the graph session backend: "memory", "redis", or
// "postgres".
type MemoryConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

type SimulationConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPURL  string `yaml:"http_url"`
}

type LLMConfig struct {
	Mode string `yaml:"mode"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server:     ServerConfig{Port: "8090", Env: "development"},
		Bus:        BusConfig{Port: 8091},
		Breaker:    BreakerConfig{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeoutSecs: 30, HalfOpenMaxRequests: 3, MonitoringWindowSec: 60},
		Classifier: ClassifierConfig{UrgencyThreshold: 0.8},
		Rails:      RailsConfig{RiskThreshold: 0.8, LatencyBudgetMs: 5000},
		Queue:      QueueConfig{Capacity: 1000, MaxAgeSeconds: 300, FlushIntervalSecs: 5},
		Memory:     MemoryConfig{Backend: "memory"},
		Simulation: SimulationConfig{},
		LLM:        LLMConfig{Mode: ""},
		RateLimit:  RateLimitConfig{RequestsPerMinute: 120},
	}
}

// LoadConfig reads a yaml file over the defaults. Environment variables
// PORT, BUS_PORT are applied last so container platforms can override the
// bind points.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(cfg); err != nil {
			return nil, err
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if busPort := os.Getenv("BUS_PORT"); busPort != "" {
		n, err := strconv.Atoi(busPort)
		if err != nil {
			return nil, fmt.Errorf("config: invalid BUS_PORT %q: %w", busPort, err)
		}
		cfg.Bus.Port = n
	}
	return cfg, nil
}

func (c *BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSecs) * time.Second
}

func (c *BreakerConfig) MonitoringWindow() time.Duration {
	return time.Duration(c.MonitoringWindowSec) * time.Second
}

func (c *QueueConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

func (c *QueueConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSecs) * time.Second
}
