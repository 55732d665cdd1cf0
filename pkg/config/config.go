package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logger       LoggerConfig       `yaml:"logger"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	NATS         NATSConfig         `yaml:"nats"`
	AWS          AWSConfig          `yaml:"aws"`
	Registry     RegistryConfig     `yaml:"registry"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Store        StoreConfig        `yaml:"store"`
	Supervisor   SupervisorConfig   `yaml:"supervisor"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler"`
	Sweeper      SweeperConfig      `yaml:"sweeper"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Notification NotificationConfig `yaml:"notification"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for operator endpoints (optional, if empty, auth is disabled)
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	Format string           `yaml:"format"` // console (default), json
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RedisConfig Redis configuration (empty Addr disables Redis)
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"` // audit history and/or the mysql assignment store
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	MaxOpenConns int `yaml:"max_open_conns"` // default 10
}

// DSN builds the go-sql-driver DSN
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// NATSConfig NATS JetStream configuration
type NATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"` // KV bucket holding assignments
}

// AWSConfig AWS SDK configuration
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`     // optional, default credential chain when empty
	SecretAccessKey string `yaml:"secret_access_key"` // optional
	Endpoint        string `yaml:"endpoint"`          // optional override (e.g. localstack)
}

// RegistryConfig stream registry configuration
type RegistryConfig struct {
	Type    string   `yaml:"type"`    // kinesisvideo, static
	Prefix  string   `yaml:"prefix"`  // only streams whose name starts with this prefix
	Streams []string `yaml:"streams"` // static stream ids
}

// MetricsConfig metric source configuration
type MetricsConfig struct {
	Type          string                  `yaml:"type"`           // cloudwatch, static
	PeriodSeconds int                     `yaml:"period_seconds"` // datapoint period
	WindowSeconds int                     `yaml:"window_seconds"` // trailing window length
	LagSeconds    *int                    `yaml:"lag_seconds"`    // window ends this far before now; 0 is allowed
	Static        map[string]StaticSample `yaml:"static"`
}

// Lag how far the metric window ends before now
func (c MetricsConfig) Lag() time.Duration {
	if c.LagSeconds == nil {
		return defaultLagSeconds * time.Second
	}
	return time.Duration(*c.LagSeconds) * time.Second
}

// StaticSample fixed counters for a stream; nil means unknown
type StaticSample struct {
	Producer *float64 `yaml:"producer"`
	Consumer *float64 `yaml:"consumer"`
}

// StoreConfig assignment store configuration
type StoreConfig struct {
	Type      string `yaml:"type"`       // redis, mysql, dynamodb, jetstream, memory
	Table     string `yaml:"table"`      // DynamoDB table name
	KeyPrefix string `yaml:"key_prefix"` // Redis key prefix
}

// SupervisorConfig task supervisor configuration
type SupervisorConfig struct {
	Type string    `yaml:"type"` // ecs, k8s
	ECS  ECSConfig `yaml:"ecs"`
	K8s  K8sConfig `yaml:"k8s"`
}

// ECSConfig ECS task configuration
type ECSConfig struct {
	Cluster        string   `yaml:"cluster"`
	TaskDefinition string   `yaml:"task_definition"`
	LaunchType     string   `yaml:"launch_type"` // FARGATE (default) or EC2
	ContainerName  string   `yaml:"container_name"`
	Subnets        []string `yaml:"subnets"`
	SecurityGroups []string `yaml:"security_groups"`
	AssignPublicIP bool     `yaml:"assign_public_ip"`
}

// K8sConfig K8s worker pod configuration
type K8sConfig struct {
	Namespace    string `yaml:"namespace"`
	TemplatePath string `yaml:"template_path"` // worker pod template (YAML)
	Image        string `yaml:"image"`         // overrides the template image when set
	Kubeconfig   string `yaml:"kubeconfig"`    // optional, in-cluster config when empty
}

// ReconcilerConfig reconciler configuration
type ReconcilerConfig struct {
	Enabled            bool `yaml:"enabled"`
	Concurrency        int  `yaml:"concurrency"`          // streams reconciled in parallel
	CallTimeoutSeconds int  `yaml:"call_timeout_seconds"` // per external call
	MaxRetries         *int `yaml:"max_retries"`          // transient-error retries per call; 0 disables retries
	LockEnabled        bool `yaml:"lock_enabled"`         // cycle-level Redis lock across replicas
}

// CallTimeout per-call timeout
func (c ReconcilerConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// Retries transient-error retries per call
func (c ReconcilerConfig) Retries() int {
	if c.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.MaxRetries
}

// SweeperConfig orphan sweeper configuration
type SweeperConfig struct {
	Enabled            bool `yaml:"enabled"`
	IntervalSeconds    int  `yaml:"interval_seconds"`
	GracePeriodSeconds int  `yaml:"grace_period_seconds"` // tasks younger than this are never swept
}

// Interval sweep interval
func (c SweeperConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// GracePeriod minimum task age before it may be swept
func (c SweeperConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// SchedulerConfig reconcile trigger configuration
type SchedulerConfig struct {
	Mode            string `yaml:"mode"` // ticker, asynq, once
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// Interval reconcile interval
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// NotificationConfig operator alert configuration
type NotificationConfig struct {
	FeishuWebhookURL string `yaml:"feishu_webhook_url"`
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads, expands, defaults and validates the configuration at path.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	// .env is optional; existing environment variables win
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse expands ${VAR} references in data and decodes it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
