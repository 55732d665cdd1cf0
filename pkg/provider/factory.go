package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/kinesisvideo"
	"github.com/nats-io/nats.go/jetstream"

	"camwatch/pkg/config"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/registry"
	"camwatch/pkg/store/dynamodb"
	jsstore "camwatch/pkg/store/jetstream"
	"camwatch/pkg/store/memory"
	mysqlstore "camwatch/pkg/store/mysql"
	redisstore "camwatch/pkg/store/redis"
	"camwatch/pkg/streammetrics"
	"camwatch/pkg/supervisor/ecs"
	"camwatch/pkg/supervisor/k8s"
)

// Clients connections the application shell opened; any may be nil when the
// matching section is not configured.
type Clients struct {
	AWS   *aws.Config
	Redis *redisstore.RedisClient
	MySQL *mysqlstore.Repository
	KV    jetstream.KeyValue
}

// ProviderFactory builds the reconciler collaborators selected by config
type ProviderFactory struct {
	cfg     *config.Config
	clients Clients
}

// NewProviderFactory creates provider factory
func NewProviderFactory(cfg *config.Config, clients Clients) *ProviderFactory {
	return &ProviderFactory{cfg: cfg, clients: clients}
}

// StoreFactory creates an assignment store
type StoreFactory func(f *ProviderFactory) (interfaces.AssignmentStore, error)

// SupervisorFactory creates a task supervisor
type SupervisorFactory func(f *ProviderFactory) (interfaces.TaskSupervisor, error)

var (
	storeFactories      = map[string]StoreFactory{}
	supervisorFactories = map[string]SupervisorFactory{}
)

// RegisterStore registers new assignment store factory
func RegisterStore(name string, factory StoreFactory) {
	if name == "" || factory == nil {
		return
	}
	storeFactories[strings.ToLower(name)] = factory
}

// RegisterSupervisor registers new task supervisor factory
func RegisterSupervisor(name string, factory SupervisorFactory) {
	if name == "" || factory == nil {
		return
	}
	supervisorFactories[strings.ToLower(name)] = factory
}

func init() {
	RegisterStore("memory", newMemoryStore)
	RegisterStore("redis", newRedisStore)
	RegisterStore("mysql", newMySQLStore)
	RegisterStore("dynamodb", newDynamoDBStore)
	RegisterStore("jetstream", newJetStreamStore)

	RegisterSupervisor("ecs", newECSSupervisor)
	RegisterSupervisor("k8s", newK8sSupervisor)
	RegisterSupervisor("kubernetes", newK8sSupervisor)
}

func (f *ProviderFactory) awsConfig(component string) (aws.Config, error) {
	if f.clients.AWS == nil {
		return aws.Config{}, fmt.Errorf("%s requires an AWS config", component)
	}
	return *f.clients.AWS, nil
}

func newMemoryStore(f *ProviderFactory) (interfaces.AssignmentStore, error) {
	return memory.NewAssignmentStore(), nil
}

func newRedisStore(f *ProviderFactory) (interfaces.AssignmentStore, error) {
	if f.clients.Redis == nil {
		return nil, fmt.Errorf("redis store requires a redis client")
	}
	return redisstore.NewAssignmentRepository(f.clients.Redis, f.cfg.Store.KeyPrefix), nil
}

func newMySQLStore(f *ProviderFactory) (interfaces.AssignmentStore, error) {
	if f.clients.MySQL == nil {
		return nil, fmt.Errorf("mysql store requires a mysql connection")
	}
	return f.clients.MySQL.Assignment, nil
}

func newDynamoDBStore(f *ProviderFactory) (interfaces.AssignmentStore, error) {
	awsCfg, err := f.awsConfig("dynamodb store")
	if err != nil {
		return nil, err
	}
	return dynamodb.NewAssignmentTable(awsdynamodb.NewFromConfig(awsCfg), f.cfg.Store.Table), nil
}

func newJetStreamStore(f *ProviderFactory) (interfaces.AssignmentStore, error) {
	if f.clients.KV == nil {
		return nil, fmt.Errorf("jetstream store requires a KV bucket")
	}
	return jsstore.NewAssignmentKV(f.clients.KV), nil
}

func newECSSupervisor(f *ProviderFactory) (interfaces.TaskSupervisor, error) {
	awsCfg, err := f.awsConfig("ecs supervisor")
	if err != nil {
		return nil, err
	}
	return ecs.NewSupervisor(awsecs.NewFromConfig(awsCfg), f.cfg.Supervisor.ECS), nil
}

func newK8sSupervisor(f *ProviderFactory) (interfaces.TaskSupervisor, error) {
	k8sCfg := f.cfg.Supervisor.K8s
	client, err := k8s.NewClientset(k8sCfg.Kubeconfig)
	if err != nil {
		return nil, err
	}
	renderer, err := k8s.NewTemplateRenderer(k8sCfg.TemplatePath)
	if err != nil {
		return nil, err
	}
	return k8s.NewSupervisor(client, k8sCfg.Namespace, k8sCfg.Image, renderer), nil
}

// CreateAssignmentStore creates the store selected by store.type
func (f *ProviderFactory) CreateAssignmentStore() (interfaces.AssignmentStore, error) {
	factory, ok := storeFactories[strings.ToLower(f.cfg.Store.Type)]
	if !ok {
		return nil, fmt.Errorf("unsupported assignment store type: %s", f.cfg.Store.Type)
	}
	return factory(f)
}

// CreateTaskSupervisor creates the supervisor selected by supervisor.type
func (f *ProviderFactory) CreateTaskSupervisor() (interfaces.TaskSupervisor, error) {
	factory, ok := supervisorFactories[strings.ToLower(f.cfg.Supervisor.Type)]
	if !ok {
		return nil, fmt.Errorf("unsupported task supervisor type: %s", f.cfg.Supervisor.Type)
	}
	return factory(f)
}

// CreateStreamRegistry creates the registry selected by registry.type
func (f *ProviderFactory) CreateStreamRegistry() (interfaces.StreamRegistry, error) {
	switch f.cfg.Registry.Type {
	case "static":
		return registry.NewStaticRegistry(f.cfg.Registry.Streams), nil
	case "kinesisvideo", "":
		awsCfg, err := f.awsConfig("kinesisvideo registry")
		if err != nil {
			return nil, err
		}
		return registry.NewKinesisVideoRegistry(kinesisvideo.NewFromConfig(awsCfg), f.cfg.Registry.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported stream registry type: %s", f.cfg.Registry.Type)
	}
}

// CreateMetricSource creates the metric source selected by metrics.type
func (f *ProviderFactory) CreateMetricSource() (interfaces.MetricSource, error) {
	switch f.cfg.Metrics.Type {
	case "static":
		return streammetrics.NewStaticSource(f.cfg.Metrics.Static), nil
	case "cloudwatch", "":
		awsCfg, err := f.awsConfig("cloudwatch metrics")
		if err != nil {
			return nil, err
		}
		return streammetrics.NewCloudWatchSource(cloudwatch.NewFromConfig(awsCfg), f.cfg.Metrics.PeriodSeconds), nil
	default:
		return nil, fmt.Errorf("unsupported metric source type: %s", f.cfg.Metrics.Type)
	}
}

// WindowFunc the metric window for a cycle starting at now
func (f *ProviderFactory) WindowFunc() func(now time.Time) interfaces.TimeWindow {
	return streammetrics.NewWindowFunc(
		time.Duration(f.cfg.Metrics.WindowSeconds)*time.Second,
		f.cfg.Metrics.Lag(),
	)
}

// BusinessProviders the reconciler collaborators
type BusinessProviders struct {
	Registry   interfaces.StreamRegistry
	Metrics    interfaces.MetricSource
	Store      interfaces.AssignmentStore
	Supervisor interfaces.TaskSupervisor
}

// CreateBusinessProviders creates every collaborator
func (f *ProviderFactory) CreateBusinessProviders() (*BusinessProviders, error) {
	reg, err := f.CreateStreamRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to create stream registry: %w", err)
	}
	metrics, err := f.CreateMetricSource()
	if err != nil {
		return nil, fmt.Errorf("failed to create metric source: %w", err)
	}
	store, err := f.CreateAssignmentStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create assignment store: %w", err)
	}
	supervisor, err := f.CreateTaskSupervisor()
	if err != nil {
		return nil, fmt.Errorf("failed to create task supervisor: %w", err)
	}

	return &BusinessProviders{
		Registry:   reg,
		Metrics:    metrics,
		Store:      store,
		Supervisor: supervisor,
	}, nil
}
