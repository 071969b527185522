package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the crewline system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Transport TransportConfig `mapstructure:"transport"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFile        string        `mapstructure:"log_file"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, openai-compatible
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model to use for each oracle call
type LLMRoutingConfig struct {
	Planning  string `mapstructure:"planning"`  // initial plan proposal
	Review    string `mapstructure:"review"`    // per-step progress review
	Failure   string `mapstructure:"failure"`   // failure analysis
	Synthesis string `mapstructure:"synthesis"` // final answer synthesis
	Fallback  string `mapstructure:"fallback"`  // used when a task route is unset
}

// ModelFor resolves the model key for a task, falling back to the
// configured fallback model.
func (r LLMRoutingConfig) ModelFor(task string) string {
	m := ""
	switch task {
	case "planning":
		m = r.Planning
	case "review":
		m = r.Review
	case "failure":
		m = r.Failure
	case "synthesis":
		m = r.Synthesis
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// WorkflowConfig tunes the execution engine
type WorkflowConfig struct {
	Coordinator string              `mapstructure:"coordinator"`
	Domains     map[string][]string `mapstructure:"domains"` // capability domain -> keywords
}

// WorkersConfig locates worker card definitions
type WorkersConfig struct {
	CardsDir string `mapstructure:"cards_dir"`
}

// TransportConfig contains remote worker transport settings
type TransportConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	CardMaxRetries int           `mapstructure:"card_max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

func (t TransportConfig) Normalize() TransportConfig {
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = 10 * time.Second
	}
	if t.ReadTimeout <= 0 {
		t.ReadTimeout = 300 * time.Second
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = 30 * time.Second
	}
	if t.CardMaxRetries <= 0 {
		t.CardMaxRetries = 3
	}
	if t.RetryBackoff <= 0 {
		t.RetryBackoff = 500 * time.Millisecond
	}
	return t
}

// SessionConfig bounds conversation history kept per session
type SessionConfig struct {
	MaxTurns int           `mapstructure:"max_turns"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func (s SessionConfig) Normalize() SessionConfig {
	if s.MaxTurns <= 0 {
		s.MaxTurns = 12
	}
	if s.TTL <= 0 {
		s.TTL = 24 * time.Hour
	}
	return s
}

// StorageConfig groups persistence backends
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, sslmode)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns the host:port address.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// SchedulerConfig controls recurring workflow runs
type SchedulerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

func (s SchedulerConfig) Normalize() SchedulerConfig {
	if s.LockTTL <= 0 {
		s.LockTTL = 10 * time.Minute
	}
	return s
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "300s")
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("workflow.coordinator", "MainAgent")
	viper.SetDefault("workers.cards_dir", "./cards")
	viper.SetDefault("session.max_turns", 12)
	viper.SetDefault("session.ttl", "24h")
	viper.SetDefault("transport.connect_timeout", "10s")
	viper.SetDefault("transport.read_timeout", "300s")
	viper.SetDefault("transport.write_timeout", "30s")
	viper.SetDefault("transport.card_max_retries", 3)
	viper.SetDefault("transport.retry_backoff", "500ms")
	viper.SetDefault("scheduler.lock_ttl", "10m")

	if path == "" {
		viper.AddConfigPath("./app/config")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CREWLINE")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (CREWLINE_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	config.Transport = config.Transport.Normalize()
	config.Session = config.Session.Normalize()
	config.Scheduler = config.Scheduler.Normalize()

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	return &config
}
