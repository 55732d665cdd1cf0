package k8s

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"

	"camwatch/pkg/constants"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
)

// Supervisor runs one bare Pod per stream. Pod names are the worker ids.
type Supervisor struct {
	client    kubernetes.Interface
	namespace string
	image     string
	renderer  *TemplateRenderer
}

// NewSupervisor creates a pod supervisor
func NewSupervisor(client kubernetes.Interface, namespace, image string, renderer *TemplateRenderer) *Supervisor {
	if namespace == "" {
		namespace = "default"
	}
	return &Supervisor{client: client, namespace: namespace, image: image, renderer: renderer}
}

func (s *Supervisor) selector() string {
	return labels.SelectorFromSet(labels.Set{
		constants.LabelManagedBy: constants.ManagedByCamwatch,
		constants.LabelComponent: constants.ComponentWorker,
	}).String()
}

// Start creates the worker pod for stream
func (s *Supervisor) Start(ctx context.Context, stream string) (*interfaces.WorkerTask, error) {
	key := streamKey(stream)
	rc := &RenderContext{
		PodName:    fmt.Sprintf("camwatch-%s-%s", key, uuid.NewString()[:8]),
		Namespace:  s.namespace,
		Image:      s.image,
		StreamName: stream,
		StreamKey:  key,
	}
	pod, err := s.renderer.Render(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrLaunchFailed, err)
	}

	pod.Name = rc.PodName
	pod.Namespace = s.namespace
	if pod.Labels == nil {
		pod.Labels = map[string]string{}
	}
	pod.Labels[constants.LabelManagedBy] = constants.ManagedByCamwatch
	pod.Labels[constants.LabelComponent] = constants.ComponentWorker
	pod.Labels[constants.LabelStream] = key
	if pod.Annotations == nil {
		pod.Annotations = map[string]string{}
	}
	pod.Annotations[constants.AnnotationStream] = stream
	if len(pod.Spec.Containers) > 0 {
		if s.image != "" {
			pod.Spec.Containers[0].Image = s.image
		}
		setStreamEnv(&pod.Spec.Containers[0], stream)
	}

	created, err := s.client.CoreV1().Pods(s.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: create pod for %s: %v", interfaces.ErrLaunchFailed, stream, err)
	}

	task := toWorkerTask(created)
	logger.InfoCtx(ctx, "created worker pod %s/%s for stream %s", s.namespace, task.ID, stream)
	return task, nil
}

// Stop deletes the pod; a missing pod counts as stopped
func (s *Supervisor) Stop(ctx context.Context, workerID string) error {
	err := s.client.CoreV1().Pods(s.namespace).Delete(ctx, workerID, metav1.DeleteOptions{})
	switch {
	case err == nil:
		logger.InfoCtx(ctx, "deleted worker pod %s/%s", s.namespace, workerID)
		return nil
	case errors.IsNotFound(err):
		logger.InfoCtx(ctx, "worker pod %s/%s already gone", s.namespace, workerID)
		return nil
	case errors.IsForbidden(err), errors.IsInvalid(err), errors.IsConflict(err):
		return fmt.Errorf("%w: delete pod %s: %v", interfaces.ErrTerminationFailed, workerID, err)
	default:
		return fmt.Errorf("delete pod %s: %w", workerID, err)
	}
}

// List returns the worker pods this controller created
func (s *Supervisor) List(ctx context.Context) ([]*interfaces.WorkerTask, error) {
	pods, err := s.client.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{LabelSelector: s.selector()})
	if err != nil {
		return nil, fmt.Errorf("list worker pods: %w", err)
	}

	tasks := make([]*interfaces.WorkerTask, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		if !isManagedPod(pod) {
			continue
		}
		tasks = append(tasks, toWorkerTask(pod))
	}
	return tasks, nil
}

func toWorkerTask(pod *corev1.Pod) *interfaces.WorkerTask {
	return &interfaces.WorkerTask{
		ID:        pod.Name,
		StreamID:  pod.Annotations[constants.AnnotationStream],
		State:     podState(pod),
		StartedAt: pod.CreationTimestamp.Time,
	}
}
