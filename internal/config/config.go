// Package config provides configuration for the conformance runner and the
// reference gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the gateway address used when nothing else is configured.
const DefaultBaseURL = "http://127.0.0.1:18789"

// Config holds the conformance runner configuration.
type Config struct {
	// Target
	BaseURL string
	WSPath  string
	Token   string

	// Execution
	Scenarios       []string
	Concurrency     int
	ScenarioTimeout time.Duration
	WaitTimeout     time.Duration

	// Outputs
	JSON        bool
	NoColor     bool
	PolicyFile  string
	HistoryDB   string
	MetricsFile string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		BaseURL:         getEnv("RECLAW_BASE_URL", DefaultBaseURL),
		WSPath:          getEnv("RECLAW_WS_PATH", "/ws"),
		Token:           getEnv("RECLAW_TOKEN", ""),
		Scenarios:       getEnvList("RECLAW_SCENARIOS"),
		Concurrency:     getEnvInt("RECLAW_CONCURRENCY", 4),
		ScenarioTimeout: time.Duration(getEnvInt("RECLAW_SCENARIO_TIMEOUT_MS", 30000)) * time.Millisecond,
		WaitTimeout:     time.Duration(getEnvInt("RECLAW_WAIT_TIMEOUT_MS", 10000)) * time.Millisecond,
		PolicyFile:      getEnv("RECLAW_POLICY_FILE", ""),
		HistoryDB:       getEnv("RECLAW_HISTORY_DB", ""),
		MetricsFile:     getEnv("RECLAW_METRICS_FILE", ""),
		LogLevel:        getEnv("LOG_LEVEL", "warn"),
	}
}

// fileConfig mirrors Config with durations spelled as strings ("5s", "250ms").
type fileConfig struct {
	BaseURL         string   `yaml:"base_url" toml:"base_url"`
	WSPath          string   `yaml:"ws_path" toml:"ws_path"`
	Token           string   `yaml:"token" toml:"token"`
	Scenarios       []string `yaml:"scenarios" toml:"scenarios"`
	Concurrency     int      `yaml:"concurrency" toml:"concurrency"`
	ScenarioTimeout string   `yaml:"scenario_timeout" toml:"scenario_timeout"`
	WaitTimeout     string   `yaml:"wait_timeout" toml:"wait_timeout"`
	JSON            *bool    `yaml:"json" toml:"json"`
	NoColor         *bool    `yaml:"no_color" toml:"no_color"`
	PolicyFile      string   `yaml:"policy_file" toml:"policy_file"`
	HistoryDB       string   `yaml:"history_db" toml:"history_db"`
	MetricsFile     string   `yaml:"metrics_file" toml:"metrics_file"`
	LogLevel        string   `yaml:"log_level" toml:"log_level"`
}

// MergeFile overlays the YAML or TOML file at path onto c. The format is chosen by
// extension; .toml is TOML and everything else is YAML. Empty fields are ignored.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &fc); err != nil {
			return fmt.Errorf("parse toml config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	}

	if fc.BaseURL != "" {
		c.BaseURL = fc.BaseURL
	}
	if fc.WSPath != "" {
		c.WSPath = fc.WSPath
	}
	if fc.Token != "" {
		c.Token = fc.Token
	}
	if len(fc.Scenarios) > 0 {
		c.Scenarios = fc.Scenarios
	}
	if fc.Concurrency > 0 {
		c.Concurrency = fc.Concurrency
	}
	if fc.ScenarioTimeout != "" {
		d, err := time.ParseDuration(fc.ScenarioTimeout)
		if err != nil {
			return fmt.Errorf("config %s: scenario_timeout: %w", path, err)
		}
		c.ScenarioTimeout = d
	}
	if fc.WaitTimeout != "" {
		d, err := time.ParseDuration(fc.WaitTimeout)
		if err != nil {
			return fmt.Errorf("config %s: wait_timeout: %w", path, err)
		}
		c.WaitTimeout = d
	}
	if fc.JSON != nil {
		c.JSON = *fc.JSON
	}
	if fc.NoColor != nil {
		c.NoColor = *fc.NoColor
	}
	if fc.PolicyFile != "" {
		c.PolicyFile = fc.PolicyFile
	}
	if fc.HistoryDB != "" {
		c.HistoryDB = fc.HistoryDB
	}
	if fc.MetricsFile != "" {
		c.MetricsFile = fc.MetricsFile
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.ScenarioTimeout <= 0 {
		return fmt.Errorf("scenario timeout must be positive")
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	if c.WaitTimeout >= c.ScenarioTimeout {
		return fmt.Errorf("wait timeout %s must be shorter than scenario timeout %s", c.WaitTimeout, c.ScenarioTimeout)
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("ws path must start with /, got %q", c.WSPath)
	}
	return nil
}

// GatewayConfig holds the reference gateway configuration.
type GatewayConfig struct {
	Addr string

	// Run simulation
	RunStartDelay time.Duration
	RunDuration   time.Duration

	// Auth settings
	Token string // Required connect token when non-empty

	// WebSocket settings
	WriteTimeout   time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// LoadGateway loads the reference gateway configuration from environment variables.
func LoadGateway() *GatewayConfig {
	return &GatewayConfig{
		Addr:           getEnv("GATEWAY_ADDR", "127.0.0.1:18789"),
		RunStartDelay:  time.Duration(getEnvInt("GATEWAY_RUN_START_DELAY_MS", 20)) * time.Millisecond,
		RunDuration:    time.Duration(getEnvInt("GATEWAY_RUN_DURATION_MS", 200)) * time.Millisecond,
		Token:          getEnv("GATEWAY_TOKEN", ""),
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
