package ecs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"camwatch/pkg/config"
	"camwatch/pkg/constants"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
)

const (
	stopReason       = "AutoScaling Scale In"
	describeBatchMax = 100
)

// API the subset of the ECS client used here
type API interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
	StopTask(ctx context.Context, params *ecs.StopTaskInput, optFns ...func(*ecs.Options)) (*ecs.StopTaskOutput, error)
	ListTasks(ctx context.Context, params *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
}

// Supervisor runs one ECS task per stream. Task ARNs are the worker ids.
type Supervisor struct {
	client API
	cfg    config.ECSConfig
}

// NewSupervisor creates an ECS task supervisor
func NewSupervisor(client API, cfg config.ECSConfig) *Supervisor {
	if cfg.LaunchType == "" {
		cfg.LaunchType = string(types.LaunchTypeFargate)
	}
	return &Supervisor{client: client, cfg: cfg}
}

// Start launches one task tagged with the stream
func (s *Supervisor) Start(ctx context.Context, stream string) (*interfaces.WorkerTask, error) {
	out, err := s.client.RunTask(ctx, s.runTaskInput(stream))
	if err != nil {
		return nil, fmt.Errorf("%w: run task for %s: %v", interfaces.ErrLaunchFailed, stream, err)
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return nil, fmt.Errorf("%w: run task for %s: %s %s", interfaces.ErrLaunchFailed,
			stream, aws.ToString(f.Reason), aws.ToString(f.Detail))
	}
	if len(out.Tasks) == 0 {
		return nil, fmt.Errorf("%w: run task for %s returned no task", interfaces.ErrLaunchFailed, stream)
	}

	task := toWorkerTask(out.Tasks[0])
	if task.StreamID == "" {
		task.StreamID = stream
	}
	if !task.State.Live() {
		return nil, fmt.Errorf("%w: task %s for %s is %s", interfaces.ErrLaunchFailed, task.ID, stream, task.State)
	}

	logger.InfoCtx(ctx, "launched ecs task %s for stream %s (%s)", task.ID, stream, task.State)
	return task, nil
}

func (s *Supervisor) runTaskInput(stream string) *ecs.RunTaskInput {
	assignIP := types.AssignPublicIpDisabled
	if s.cfg.AssignPublicIP {
		assignIP = types.AssignPublicIpEnabled
	}

	input := &ecs.RunTaskInput{
		Cluster:        aws.String(s.cfg.Cluster),
		TaskDefinition: aws.String(s.cfg.TaskDefinition),
		Count:          aws.Int32(1),
		LaunchType:     types.LaunchType(s.cfg.LaunchType),
		StartedBy:      aws.String(constants.StartedBy),
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        s.cfg.Subnets,
				SecurityGroups: s.cfg.SecurityGroups,
				AssignPublicIp: assignIP,
			},
		},
		Tags: []types.Tag{{
			Key:   aws.String(constants.TagStream),
			Value: aws.String(stream),
		}},
	}
	if s.cfg.ContainerName != "" {
		input.Overrides = &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{{
				Name: aws.String(s.cfg.ContainerName),
				Environment: []types.KeyValuePair{{
					Name:  aws.String(constants.EnvStreamName),
					Value: aws.String(stream),
				}},
			}},
		}
	}
	return input
}

// Stop asks ECS to stop the task; only a STOPPED desired status acknowledges it
func (s *Supervisor) Stop(ctx context.Context, workerID string) error {
	out, err := s.client.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: aws.String(s.cfg.Cluster),
		Task:    aws.String(workerID),
		Reason:  aws.String(stopReason),
	})
	if err != nil {
		if isTaskNotFound(err) {
			logger.InfoCtx(ctx, "ecs task %s already gone", workerID)
			return nil
		}
		var invalid *types.InvalidParameterException
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: stop task %s: %v", interfaces.ErrTerminationFailed, workerID, err)
		}
		return fmt.Errorf("stop task %s: %w", workerID, err)
	}

	if out.Task == nil {
		return fmt.Errorf("%w: stop task %s: no task in response", interfaces.ErrTerminationFailed, workerID)
	}
	if desired := aws.ToString(out.Task.DesiredStatus); desired != string(types.DesiredStatusStopped) {
		return fmt.Errorf("%w: task %s desired status %s", interfaces.ErrTerminationFailed, workerID, desired)
	}

	logger.InfoCtx(ctx, "stopped ecs task %s", workerID)
	return nil
}

// List returns the running tasks started by this controller
func (s *Supervisor) List(ctx context.Context) ([]*interfaces.WorkerTask, error) {
	var arns []string
	input := &ecs.ListTasksInput{
		Cluster:       aws.String(s.cfg.Cluster),
		StartedBy:     aws.String(constants.StartedBy),
		DesiredStatus: types.DesiredStatusRunning,
	}
	for {
		out, err := s.client.ListTasks(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		arns = append(arns, out.TaskArns...)
		if aws.ToString(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}

	tasks := make([]*interfaces.WorkerTask, 0, len(arns))
	for start := 0; start < len(arns); start += describeBatchMax {
		end := start + describeBatchMax
		if end > len(arns) {
			end = len(arns)
		}
		out, err := s.client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
			Cluster: aws.String(s.cfg.Cluster),
			Tasks:   arns[start:end],
			Include: []types.TaskField{types.TaskFieldTags},
		})
		if err != nil {
			return nil, fmt.Errorf("describe tasks: %w", err)
		}
		for _, t := range out.Tasks {
			tasks = append(tasks, toWorkerTask(t))
		}
	}
	return tasks, nil
}

func toWorkerTask(t types.Task) *interfaces.WorkerTask {
	task := &interfaces.WorkerTask{
		ID:    aws.ToString(t.TaskArn),
		State: mapState(aws.ToString(t.LastStatus), aws.ToString(t.DesiredStatus)),
	}
	for _, tag := range t.Tags {
		if aws.ToString(tag.Key) == constants.TagStream {
			task.StreamID = aws.ToString(tag.Value)
		}
	}
	switch {
	case t.CreatedAt != nil:
		task.StartedAt = *t.CreatedAt
	case t.StartedAt != nil:
		task.StartedAt = *t.StartedAt
	}
	return task
}

// mapState folds the ECS task lifecycle onto TaskState
func mapState(last, desired string) constants.TaskState {
	if desired == string(types.DesiredStatusStopped) && last != "STOPPED" && last != "DELETED" {
		return constants.TaskStateStopping
	}
	switch last {
	case "PROVISIONING":
		return constants.TaskStateProvisioning
	case "PENDING", "ACTIVATING":
		return constants.TaskStatePending
	case "RUNNING":
		return constants.TaskStateRunning
	case "DEACTIVATING", "STOPPING", "DEPROVISIONING":
		return constants.TaskStateStopping
	case "STOPPED", "DELETED":
		return constants.TaskStateStopped
	default:
		return constants.TaskStateUnknown
	}
}

func isTaskNotFound(err error) bool {
	var invalid *types.InvalidParameterException
	return errors.As(err, &invalid) && strings.Contains(strings.ToLower(invalid.ErrorMessage()), "not found")
}
