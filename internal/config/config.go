package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Spooler       SpoolerConfig       `yaml:"spooler"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Pricing       PricingConfig       `yaml:"pricing"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Auth          AuthConfig          `yaml:"auth"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`

	// Job outcomes older than ArchiveAfter are moved to archive files
	// under ArchivePath; zero keeps everything in the main database.
	ArchiveAfter      time.Duration `yaml:"archive_after"`
	ArchivePath       string        `yaml:"archive_path"`
	ArchivePassphrase string        `yaml:"archive_passphrase"`
}

type SpoolerConfig struct {
	Driver   string   `yaml:"driver"`
	Printers []string `yaml:"printers"`
}

type MonitorConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	StepTimeout      time.Duration `yaml:"step_timeout"`
	InspectSettle    time.Duration `yaml:"inspect_settle"`
	InspectAttempts  int           `yaml:"inspect_attempts"`
	SettledRetention time.Duration `yaml:"settled_retention"`
	StaleTimeout     time.Duration `yaml:"stale_timeout"`
}

type PricingConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type LedgerConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type NotificationsConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Secret      string        `yaml:"secret"`
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
}

type AuthConfig struct {
	PasswordHash string        `yaml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:      true,
			Port:         8631,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:         "./data/printwatch.db",
			ArchiveAfter: 90 * 24 * time.Hour,
			ArchivePath:  "./data/archives",
		},
		Spooler: SpoolerConfig{
			Driver: "windows",
		},
		Monitor: MonitorConfig{
			PollInterval:     300 * time.Millisecond,
			StepTimeout:      5 * time.Second,
			InspectSettle:    200 * time.Millisecond,
			InspectAttempts:  10,
			SettledRetention: 10 * time.Minute,
			StaleTimeout:     2 * time.Minute,
		},
		Pricing: PricingConfig{
			CacheTTL: 60 * time.Second,
		},
		Ledger: LedgerConfig{
			MaxAttempts: 3,
		},
		Notifications: NotificationsConfig{
			RetryCount:  3,
			RetryDelay:  2 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Auth: AuthConfig{
			TokenTTL: 12 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv returns defaults overridden by PRINTWATCH_* variables.
func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.ApplyEnv()
	return cfg
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("PRINTWATCH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTWATCH_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("PRINTWATCH_ARCHIVE_PASSPHRASE"); v != "" {
		c.Database.ArchivePassphrase = v
	}

	if v := os.Getenv("PRINTWATCH_SPOOLER"); v != "" {
		c.Spooler.Driver = v
	}

	if v := os.Getenv("PRINTWATCH_PRINTERS"); v != "" {
		c.Spooler.Printers = strings.Split(v, ",")
	}

	if v := os.Getenv("PRINTWATCH_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}

	if v := os.Getenv("PRINTWATCH_WEBHOOK_SECRET"); v != "" {
		c.Notifications.Secret = v
	}

	if v := os.Getenv("PRINTWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// pipelineSteps is the most step-timeout-bounded calls one job makes:
// hold, inspect, pricing, deduct, resume or cancel, and the audit write.
const pipelineSteps = 6

// PipelineBound is the longest a single job can stay in flight.
func (m MonitorConfig) PipelineBound() time.Duration {
	return pipelineSteps*m.StepTimeout + time.Duration(m.InspectAttempts)*m.InspectSettle
}

func (c *Config) Validate() error {
	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth jwt secret is required when the admin server is enabled")
		}
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.ArchiveAfter < 0 {
		return fmt.Errorf("database archive_after must be non-negative")
	}

	if c.Database.ArchiveAfter > 0 && c.Database.ArchivePath == "" {
		return fmt.Errorf("database archive_path is required when archiving is enabled")
	}

	switch c.Spooler.Driver {
	case "windows", "memory":
	default:
		return fmt.Errorf("invalid spooler driver: %s (valid: windows, memory)", c.Spooler.Driver)
	}

	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor poll interval must be positive")
	}

	if c.Monitor.StepTimeout <= 0 {
		return fmt.Errorf("monitor step timeout must be positive")
	}

	if c.Monitor.InspectSettle < 0 {
		return fmt.Errorf("monitor inspect settle must be non-negative")
	}

	if c.Monitor.InspectAttempts < 1 {
		return fmt.Errorf("monitor inspect attempts must be at least 1")
	}

	if c.Monitor.SettledRetention < 0 {
		return fmt.Errorf("monitor settled retention must be non-negative")
	}

	if bound := c.Monitor.PipelineBound(); c.Monitor.StaleTimeout <= bound {
		return fmt.Errorf("monitor stale timeout must exceed the longest job pipeline (%s)", bound)
	}

	if c.Pricing.CacheTTL < 0 {
		return fmt.Errorf("pricing cache ttl must be non-negative")
	}

	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger max attempts must be at least 1")
	}

	if c.Notifications.RetryCount < 0 {
		return fmt.Errorf("notification retry count must be non-negative")
	}

	if c.Notifications.WorkerCount < 1 {
		return fmt.Errorf("notification worker count must be at least 1")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}

	return nil
}
