// Package config loads and validates the platform configuration from an
// optional YAML file plus OPTIINFRA_* environment overrides. Environment
// always wins over the file; defaults fill the rest.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/optiinfra/optiinfra/internal/logger"
)

// Config is the complete OptiInfra configuration.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Log         logger.Config    `yaml:"log"`
	Database    DatabaseConfig   `yaml:"database"`
	Redis       RedisConfig      `yaml:"redis"`
	Qdrant      QdrantConfig     `yaml:"qdrant"`
	NATS        NATSConfig       `yaml:"nats"`
	Vault       VaultConfig      `yaml:"vault"`
	SMTP        SMTPConfig       `yaml:"smtp"`
	Credentials CredentialConfig `yaml:"credentials"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	Agent       AgentConfig      `yaml:"agent"`
	Workflow    WorkflowConfig   `yaml:"workflow"`
	Memory      MemoryConfig     `yaml:"memory"`
	Tracing     TracingConfig    `yaml:"tracing"`
	Timeouts    TimeoutConfig    `yaml:"timeouts"`
}

// ServerConfig covers the orchestrator HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig covers the shared PostgreSQL cluster hosting both the
// relational and time-series schemas.
type DatabaseConfig struct {
	Host         string `yaml:"host" validate:"required"`
	Port         int    `yaml:"port" validate:"min=1,max=65535"`
	User         string `yaml:"user" validate:"required"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name" validate:"required"`
	SSLMode      string `yaml:"ssl_mode" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"min=1"`
	MaxIdleConns int    `yaml:"max_idle_conns" validate:"min=0"`
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QdrantConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// VaultConfig selects HashiCorp Vault as the credential master-key source.
// When Address is empty the key comes from OPTIINFRA_CREDENTIAL_KEY.
type VaultConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	KeyPath string `yaml:"key_path"`
}

type SMTPConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

func (s SMTPConfig) Enabled() bool { return s.Host != "" && len(s.Recipients) > 0 }

// CredentialConfig covers encryption and caching of provider credentials.
type CredentialConfig struct {
	// EncryptionKey is only ever read from OPTIINFRA_CREDENTIAL_KEY or
	// Vault; it has no YAML representation.
	EncryptionKey string        `yaml:"-"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// IntervalOverride pins a collection interval for one (provider, data_type).
type IntervalOverride struct {
	Provider string        `yaml:"provider" validate:"required"`
	DataType string        `yaml:"data_type" validate:"required"`
	Interval time.Duration `yaml:"interval" validate:"min=1m"`
}

// SchedulerConfig covers the collection engine.
type SchedulerConfig struct {
	DefaultInterval   time.Duration      `yaml:"default_interval" validate:"min=1m"`
	IntervalOverrides []IntervalOverride `yaml:"interval_overrides"`
	MaxLookback       time.Duration      `yaml:"max_lookback" validate:"min=1m"`
	Workers           int                `yaml:"workers" validate:"min=1"`
	PerProviderLimit  int                `yaml:"per_provider_limit" validate:"min=1"`
	RetentionDays     int                `yaml:"retention_days" validate:"min=0"`
	JanitorInterval   time.Duration      `yaml:"janitor_interval"`
}

// Interval resolves the tick interval for one (provider, data_type).
func (s SchedulerConfig) Interval(provider, dataType string) time.Duration {
	for _, o := range s.IntervalOverrides {
		if o.Provider == provider && o.DataType == dataType {
			return o.Interval
		}
	}
	return s.DefaultInterval
}

// AgentConfig covers the per-agent runtime (used by cmd/optiinfra-agent).
type AgentConfig struct {
	Type              string        `yaml:"type" validate:"omitempty,oneof=cost performance resource application"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port" validate:"min=0,max=65535"`
	OrchestratorURL   string        `yaml:"orchestrator_url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"min=1s"`
	GraceFactor       int           `yaml:"grace_factor" validate:"min=1"`
}

func (a AgentConfig) Addr() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// Endpoint is the URL peers use to reach this agent.
func (a AgentConfig) Endpoint() string {
	host := a.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, a.Port)
}

// WorkflowConfig covers approval gates and gradual rollout.
type WorkflowConfig struct {
	RolloutPhases              []int         `yaml:"rollout_phases" validate:"min=1,dive,min=1,max=100"`
	ApprovalThreshold          float64       `yaml:"approval_threshold" validate:"min=0,max=1"`
	QualityRegressionThreshold float64       `yaml:"quality_regression_threshold" validate:"min=0,max=1"`
	StepTimeout                time.Duration `yaml:"step_timeout" validate:"min=1s"`
	MaxStepRetries             int           `yaml:"max_step_retries" validate:"min=0"`
	LockRetryInterval          time.Duration `yaml:"lock_retry_interval"`
	LockMaxWait                time.Duration `yaml:"lock_max_wait"`
}

// MemoryConfig selects the embedding function for semantic memory.
type MemoryConfig struct {
	Embedder  string `yaml:"embedder" validate:"oneof=deterministic remote"`
	Endpoint  string `yaml:"endpoint"`
	Dimension int    `yaml:"dimension" validate:"min=8"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"min=0,max=1"`
	Stdout      bool    `yaml:"stdout"`
}

// TimeoutConfig holds the edge deadlines for every suspension point.
type TimeoutConfig struct {
	Adapter   time.Duration `yaml:"adapter" validate:"min=1s"`
	Reader    time.Duration `yaml:"reader" validate:"min=1s"`
	Approval  time.Duration `yaml:"approval" validate:"min=1s"`
	Embedding time.Duration `yaml:"embedding" validate:"min=1s"`
}

// Load reads the optional YAML file at path, applies defaults, environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvironmentOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Log:    logger.Config{Level: "info", Format: "json", Output: "stdout"},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			User:         "optiinfra",
			Name:         "optiinfra",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Qdrant: QdrantConfig{Addr: "localhost:6334"},
		NATS:   NATSConfig{URL: "nats://localhost:4222"},
		Credentials: CredentialConfig{
			CacheTTL: 5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			DefaultInterval:  15 * time.Minute,
			MaxLookback:      24 * time.Hour,
			Workers:          8,
			PerProviderLimit: 2,
			JanitorInterval:  24 * time.Hour,
		},
		Agent: AgentConfig{
			Host:              "0.0.0.0",
			Port:              8081,
			OrchestratorURL:   "http://localhost:8080",
			HeartbeatInterval: 30 * time.Second,
			GraceFactor:       3,
		},
		Workflow: WorkflowConfig{
			RolloutPhases:              []int{10, 50, 100},
			ApprovalThreshold:          0.75,
			QualityRegressionThreshold: 0.05,
			StepTimeout:                60 * time.Second,
			MaxStepRetries:             2,
			LockRetryInterval:          500 * time.Millisecond,
			LockMaxWait:                10 * time.Second,
		},
		Memory: MemoryConfig{
			Embedder:  "deterministic",
			Dimension: 256,
		},
		Tracing: TracingConfig{SampleRatio: 1.0},
		Timeouts: TimeoutConfig{
			Adapter:   60 * time.Second,
			Reader:    10 * time.Second,
			Approval:  15 * time.Second,
			Embedding: 5 * time.Second,
		},
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setString("OPTIINFRA_SERVER_HOST", &cfg.Server.Host)
	setInt("OPTIINFRA_SERVER_PORT", &cfg.Server.Port)
	setString("OPTIINFRA_LOG_LEVEL", &cfg.Log.Level)
	setString("OPTIINFRA_LOG_FORMAT", &cfg.Log.Format)

	setString("OPTIINFRA_DB_HOST", &cfg.Database.Host)
	setInt("OPTIINFRA_DB_PORT", &cfg.Database.Port)
	setString("OPTIINFRA_DB_USER", &cfg.Database.User)
	setString("OPTIINFRA_DB_PASSWORD", &cfg.Database.Password)
	setString("OPTIINFRA_DB_NAME", &cfg.Database.Name)
	setString("OPTIINFRA_DB_SSLMODE", &cfg.Database.SSLMode)

	setBool("OPTIINFRA_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("OPTIINFRA_REDIS_ADDR", &cfg.Redis.Addr)
	setString("OPTIINFRA_REDIS_PASSWORD", &cfg.Redis.Password)

	setBool("OPTIINFRA_QDRANT_ENABLED", &cfg.Qdrant.Enabled)
	setString("OPTIINFRA_QDRANT_ADDR", &cfg.Qdrant.Addr)

	setBool("OPTIINFRA_NATS_ENABLED", &cfg.NATS.Enabled)
	setString("OPTIINFRA_NATS_URL", &cfg.NATS.URL)

	setString("OPTIINFRA_VAULT_ADDR", &cfg.Vault.Address)
	setString("OPTIINFRA_VAULT_TOKEN", &cfg.Vault.Token)
	setString("OPTIINFRA_VAULT_KEY_PATH", &cfg.Vault.KeyPath)

	setString("OPTIINFRA_CREDENTIAL_KEY", &cfg.Credentials.EncryptionKey)
	setDuration("OPTIINFRA_CREDENTIAL_CACHE_TTL", &cfg.Credentials.CacheTTL)

	setDuration("OPTIINFRA_SCHEDULER_INTERVAL", &cfg.Scheduler.DefaultInterval)
	setDuration("OPTIINFRA_SCHEDULER_MAX_LOOKBACK", &cfg.Scheduler.MaxLookback)
	setInt("OPTIINFRA_SCHEDULER_WORKERS", &cfg.Scheduler.Workers)
	setInt("OPTIINFRA_SCHEDULER_PROVIDER_LIMIT", &cfg.Scheduler.PerProviderLimit)
	setInt("OPTIINFRA_RETENTION_DAYS", &cfg.Scheduler.RetentionDays)

	setString("OPTIINFRA_AGENT_TYPE", &cfg.Agent.Type)
	setString("OPTIINFRA_AGENT_HOST", &cfg.Agent.Host)
	setInt("OPTIINFRA_AGENT_PORT", &cfg.Agent.Port)
	setString("OPTIINFRA_ORCHESTRATOR_URL", &cfg.Agent.OrchestratorURL)
	setDuration("OPTIINFRA_HEARTBEAT_INTERVAL", &cfg.Agent.HeartbeatInterval)
	setInt("OPTIINFRA_HEARTBEAT_GRACE_FACTOR", &cfg.Agent.GraceFactor)

	if v := os.Getenv("OPTIINFRA_ROLLOUT_PHASES"); v != "" {
		var phases []int
		for _, part := range strings.Split(v, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				phases = append(phases, n)
			}
		}
		if len(phases) > 0 {
			cfg.Workflow.RolloutPhases = phases
		}
	}
	setFloat("OPTIINFRA_APPROVAL_THRESHOLD", &cfg.Workflow.ApprovalThreshold)
	setFloat("OPTIINFRA_QUALITY_THRESHOLD", &cfg.Workflow.QualityRegressionThreshold)

	setString("OPTIINFRA_EMBEDDER", &cfg.Memory.Embedder)
	setString("OPTIINFRA_EMBEDDER_ENDPOINT", &cfg.Memory.Endpoint)
	setInt("OPTIINFRA_EMBEDDING_DIM", &cfg.Memory.Dimension)

	setBool("OPTIINFRA_TRACING_ENABLED", &cfg.Tracing.Enabled)
	setString("OPTIINFRA_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)

	setString("OPTIINFRA_SMTP_HOST", &cfg.SMTP.Host)
	setInt("OPTIINFRA_SMTP_PORT", &cfg.SMTP.Port)
}

// Validate checks struct tags plus the cross-field rules that tags cannot
// express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	phases := cfg.Workflow.RolloutPhases
	for i := 1; i < len(phases); i++ {
		if phases[i] <= phases[i-1] {
			return fmt.Errorf("config validation: rollout phases must be strictly increasing, got %v", phases)
		}
	}
	if len(phases) > 0 && phases[len(phases)-1] != 100 {
		return fmt.Errorf("config validation: final rollout phase must be 100, got %v", phases)
	}

	if cfg.Memory.Embedder == "remote" && cfg.Memory.Endpoint == "" {
		return fmt.Errorf("config validation: remote embedder requires memory.endpoint")
	}
	return nil
}
