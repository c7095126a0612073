package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the correlator service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Store       StoreConfig       `yaml:"store"`
	Topology    TopologyConfig    `yaml:"topology"`
	Rules       RulesConfig       `yaml:"rules"`
	Correlation CorrelationConfig `yaml:"correlation"`
	History     HistoryConfig     `yaml:"history"`
	Notifier    NotifierConfig    `yaml:"notifier"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig controls the in-process signal store.
type StoreConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SkewTolerance time.Duration `yaml:"skewTolerance"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// TopologyConfig points at the service dependency document.
type TopologyConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// RulesConfig controls rule-pack loading for the diagnosis ranker.
type RulesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// CorrelationConfig holds the correlation search bounds. These are tuning
// knobs, not fixed law.
type CorrelationConfig struct {
	Window           time.Duration `yaml:"window"`
	DeploymentWindow time.Duration `yaml:"deploymentWindow"`
	HopLimit         int           `yaml:"hopLimit"`
	CandidateCap     int           `yaml:"candidateCap"`
	DebounceWindow   time.Duration `yaml:"debounceWindow"`
	Budget           time.Duration `yaml:"budget"`
}

// HistoryConfig selects the incident history backend.
type HistoryConfig struct {
	Backend  string        `yaml:"backend"` // "memory" or "valkey"
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// NotifierConfig selects the outbound report publisher.
type NotifierConfig struct {
	Backend       string `yaml:"backend"` // "log" or "nats"
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CORRELATOR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":9100",
			GracefulTimeout: 10 * time.Second,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Store: StoreConfig{
			Retention:     24 * time.Hour,
			SkewTolerance: 2 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Topology: TopologyConfig{Path: "configs/topology.yaml", Watch: false},
		Rules:    RulesConfig{Path: "configs/rules/default.yaml", Watch: false},
		Correlation: CorrelationConfig{
			Window:           30 * time.Minute,
			DeploymentWindow: time.Hour,
			HopLimit:         2,
			CandidateCap:     500,
			DebounceWindow:   time.Minute,
			Budget:           5 * time.Second,
		},
		History: HistoryConfig{
			Backend: "memory",
			TTL:     72 * time.Hour,
		},
		Notifier: NotifierConfig{
			Backend:       "log",
			SubjectPrefix: "incident",
		},
	}
}

func (c *Config) validate() error {
	if c.Correlation.HopLimit < 0 {
		return fmt.Errorf("correlation.hopLimit must be >= 0")
	}
	if c.Correlation.CandidateCap <= 0 {
		return fmt.Errorf("correlation.candidateCap must be > 0")
	}
	if c.Correlation.Window <= 0 {
		return fmt.Errorf("correlation.window must be > 0")
	}
	if c.Store.Retention < c.Correlation.DeploymentWindow {
		return fmt.Errorf("store.retention must cover correlation.deploymentWindow")
	}
	switch c.History.Backend {
	case "memory", "valkey":
	default:
		return fmt.Errorf("history.backend must be memory or valkey, got %q", c.History.Backend)
	}
	switch c.Notifier.Backend {
	case "log", "nats":
	default:
		return fmt.Errorf("notifier.backend must be log or nats, got %q", c.Notifier.Backend)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORRELATOR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CORRELATOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("CORRELATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CORRELATOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("CORRELATOR_TOPOLOGY_PATH"); v != "" {
		cfg.Topology.Path = v
	}
	if v := os.Getenv("CORRELATOR_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("CORRELATOR_HISTORY_BACKEND"); v != "" {
		cfg.History.Backend = v
	}
	if v := os.Getenv("CORRELATOR_HISTORY_ADDR"); v != "" {
		cfg.History.Addr = v
	}
	if v := os.Getenv("CORRELATOR_HISTORY_USERNAME"); v != "" {
		cfg.History.Username = v
	}
	if v := os.Getenv("CORRELATOR_HISTORY_PASSWORD"); v != "" {
		cfg.History.Password = v
	}
	if v := os.Getenv("CORRELATOR_HISTORY_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.History.DB = db
		}
	}
	if v := os.Getenv("CORRELATOR_NOTIFIER_BACKEND"); v != "" {
		cfg.Notifier.Backend = v
	}
	if v := os.Getenv("CORRELATOR_NATS_URL"); v != "" {
		cfg.Notifier.URL = v
	}
	if v := os.Getenv("CORRELATOR_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.Window = d
		}
	}
	if v := os.Getenv("CORRELATOR_CORRELATION_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.Budget = d
		}
	}
	if v := os.Getenv("CORRELATOR_CANDIDATE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Correlation.CandidateCap = n
		}
	}
	if v := os.Getenv("CORRELATOR_HOP_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Correlation.HopLimit = n
		}
	}
}
