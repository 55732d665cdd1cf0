package config

import (
	"fmt"
	"strings"
)

const (
	defaultPort                = 8080
	defaultPeriodSeconds       = 60
	defaultWindowSeconds       = 120
	defaultLagSeconds          = 60
	defaultCallTimeoutSeconds  = 5
	defaultMaxRetries          = 2
	defaultSchedulerInterval   = 60
	defaultSweeperInterval     = 300
	defaultSweeperGraceSeconds = 300
	defaultTable               = "camwatch-task-mapping"
	defaultBucket              = "camwatch-assignments"
	defaultKeyPrefix           = "camwatch:"
)

// applyDefaults fills unset or invalid values
func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "console"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}
	if cfg.Logger.File.Path == "" {
		cfg.Logger.File.Path = "logs/camwatch.log"
	}
	if cfg.Logger.File.MaxSizeMB <= 0 {
		cfg.Logger.File.MaxSizeMB = 100
	}
	if cfg.MySQL.Port <= 0 {
		cfg.MySQL.Port = 3306
	}
	if cfg.MySQL.MaxOpenConns <= 0 {
		cfg.MySQL.MaxOpenConns = 10
	}

	if cfg.Registry.Type == "" {
		cfg.Registry.Type = "kinesisvideo"
	}
	if cfg.Metrics.Type == "" {
		cfg.Metrics.Type = "cloudwatch"
	}
	if cfg.Metrics.PeriodSeconds <= 0 {
		cfg.Metrics.PeriodSeconds = defaultPeriodSeconds
	}
	if cfg.Metrics.WindowSeconds <= 0 {
		cfg.Metrics.WindowSeconds = defaultWindowSeconds
	}
	if cfg.Metrics.LagSeconds == nil || *cfg.Metrics.LagSeconds < 0 {
		cfg.Metrics.LagSeconds = intPtr(defaultLagSeconds)
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "dynamodb"
	}
	if cfg.Store.Table == "" {
		cfg.Store.Table = defaultTable
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = defaultKeyPrefix
	}
	if cfg.NATS.Bucket == "" {
		cfg.NATS.Bucket = defaultBucket
	}
	if cfg.Supervisor.Type == "" {
		cfg.Supervisor.Type = "ecs"
	}
	if cfg.Supervisor.ECS.LaunchType == "" {
		cfg.Supervisor.ECS.LaunchType = "FARGATE"
	}
	if cfg.Supervisor.K8s.Namespace == "" {
		cfg.Supervisor.K8s.Namespace = "default"
	}

	if cfg.Reconciler.Concurrency <= 0 {
		cfg.Reconciler.Concurrency = 1
	}
	if cfg.Reconciler.CallTimeoutSeconds <= 0 {
		cfg.Reconciler.CallTimeoutSeconds = defaultCallTimeoutSeconds
	}
	if cfg.Reconciler.MaxRetries == nil || *cfg.Reconciler.MaxRetries < 0 {
		cfg.Reconciler.MaxRetries = intPtr(defaultMaxRetries)
	}
	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = defaultSweeperInterval
	}
	if cfg.Sweeper.GracePeriodSeconds <= 0 {
		cfg.Sweeper.GracePeriodSeconds = defaultSweeperGraceSeconds
	}
	if cfg.Scheduler.Mode == "" {
		cfg.Scheduler.Mode = "ticker"
	}
	if cfg.Scheduler.IntervalSeconds <= 0 {
		cfg.Scheduler.IntervalSeconds = defaultSchedulerInterval
	}
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if err := oneOf("logger.format", c.Logger.Format, "console", "json"); err != nil {
		return err
	}
	if err := oneOf("registry.type", c.Registry.Type, "kinesisvideo", "static"); err != nil {
		return err
	}
	if err := oneOf("metrics.type", c.Metrics.Type, "cloudwatch", "static"); err != nil {
		return err
	}
	if err := oneOf("store.type", c.Store.Type, "redis", "mysql", "dynamodb", "jetstream", "memory"); err != nil {
		return err
	}
	if err := oneOf("supervisor.type", c.Supervisor.Type, "ecs", "k8s", "kubernetes"); err != nil {
		return err
	}
	if err := oneOf("scheduler.mode", c.Scheduler.Mode, "ticker", "asynq", "once"); err != nil {
		return err
	}

	if c.Supervisor.Type == "ecs" {
		if c.Supervisor.ECS.Cluster == "" || c.Supervisor.ECS.TaskDefinition == "" {
			return fmt.Errorf("supervisor.ecs: cluster and task_definition are required")
		}
		if len(c.Supervisor.ECS.Subnets) == 0 {
			return fmt.Errorf("supervisor.ecs: not enough subnets specified")
		}
	}
	if c.Store.Type == "redis" && !c.Redis.Enabled() {
		return fmt.Errorf("store.type redis requires redis.addr")
	}
	if c.Store.Type == "mysql" && !c.MySQL.Enabled {
		return fmt.Errorf("store.type mysql requires mysql.enabled")
	}
	if c.Store.Type == "jetstream" && c.NATS.URL == "" {
		return fmt.Errorf("store.type jetstream requires nats.url")
	}
	if c.Scheduler.Mode == "asynq" && !c.Redis.Enabled() {
		return fmt.Errorf("scheduler.mode asynq requires redis.addr")
	}
	return nil
}

func intPtr(v int) *int {
	return &v
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (allowed: %s)", field, value, strings.Join(allowed, ", "))
}
