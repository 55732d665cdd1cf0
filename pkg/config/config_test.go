package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalECS = `
supervisor:
  type: ecs
  ecs:
    cluster: video-cluster
    task_definition: arn:aws:ecs:us-east-1:123456789012:task-definition/kvs-frame-parser:3
    subnets: [subnet-a, subnet-b]
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalECS))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "kinesisvideo", cfg.Registry.Type)
	assert.Equal(t, "cloudwatch", cfg.Metrics.Type)
	assert.Equal(t, 60, cfg.Metrics.PeriodSeconds)
	assert.Equal(t, 120, cfg.Metrics.WindowSeconds)
	assert.Equal(t, time.Minute, cfg.Metrics.Lag())
	assert.Equal(t, 2, cfg.Reconciler.Retries())
	assert.Equal(t, "dynamodb", cfg.Store.Type)
	assert.Equal(t, "FARGATE", cfg.Supervisor.ECS.LaunchType)
	assert.Equal(t, 1, cfg.Reconciler.Concurrency)
	assert.Equal(t, 5, cfg.Reconciler.CallTimeoutSeconds)
	assert.Equal(t, "ticker", cfg.Scheduler.Mode)
	assert.Equal(t, 60, cfg.Scheduler.IntervalSeconds)
}

func TestParse_KeepsExplicitZeroLagAndRetries(t *testing.T) {
	cfg, err := Parse([]byte(minimalECS + `
metrics:
  lag_seconds: 0
reconciler:
  max_retries: 0
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Metrics.LagSeconds)
	assert.Equal(t, 0, *cfg.Metrics.LagSeconds)
	assert.Equal(t, time.Duration(0), cfg.Metrics.Lag())
	assert.Equal(t, 0, cfg.Reconciler.Retries())
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("CAMWATCH_CLUSTER", "from-env")

	cfg, err := Parse([]byte(`
supervisor:
  type: ecs
  ecs:
    cluster: ${CAMWATCH_CLUSTER}
    task_definition: td
    subnets: [subnet-a]
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Supervisor.ECS.Cluster)
}

func TestParse_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown store", minimalECS + "store:\n  type: etcd\n"},
		{"unknown supervisor", "supervisor:\n  type: nomad\n"},
		{"ecs without subnets", "supervisor:\n  type: ecs\n  ecs:\n    cluster: c\n    task_definition: td\n"},
		{"redis store without addr", minimalECS + "store:\n  type: redis\n"},
		{"mysql store disabled", minimalECS + "store:\n  type: mysql\n"},
		{"jetstream without url", minimalECS + "store:\n  type: jetstream\n"},
		{"asynq without redis", minimalECS + "scheduler:\n  mode: asynq\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_K8sSupervisorNeedsNoSubnets(t *testing.T) {
	cfg, err := Parse([]byte("supervisor:\n  type: k8s\nstore:\n  type: memory\n"))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Supervisor.K8s.Namespace)
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalECS), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "video-cluster", cfg.Supervisor.ECS.Cluster)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestMySQLConfig_DSN(t *testing.T) {
	c := MySQLConfig{User: "u", Password: "p", Host: "db", Port: 3306, Database: "camwatch"}
	assert.Equal(t, "u:p@tcp(db:3306)/camwatch?charset=utf8mb4&parseTime=True&loc=UTC", c.DSN())
}
