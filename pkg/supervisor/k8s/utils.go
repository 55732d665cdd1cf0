package k8s

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"camwatch/pkg/constants"
)

var invalidLabelChars = regexp.MustCompile(`[^a-z0-9-]+`)

const maxStreamKeyLen = 40

// streamKey turns a stream id into a DNS-1123 label fragment. Ids that had to
// be altered get a short hash suffix so distinct ids stay distinct.
func streamKey(stream string) string {
	key := strings.Trim(invalidLabelChars.ReplaceAllString(strings.ToLower(stream), "-"), "-")
	if key == stream && len(key) <= maxStreamKeyLen {
		return key
	}

	sum := sha1.Sum([]byte(stream))
	suffix := hex.EncodeToString(sum[:])[:8]
	if len(key) > maxStreamKeyLen-9 {
		key = strings.Trim(key[:maxStreamKeyLen-9], "-")
	}
	if key == "" {
		return suffix
	}
	return key + "-" + suffix
}

// podState folds the pod lifecycle onto TaskState
func podState(pod *corev1.Pod) constants.TaskState {
	if pod.DeletionTimestamp != nil {
		return constants.TaskStateStopping
	}
	switch string(pod.Status.Phase) {
	case "":
		return constants.TaskStateProvisioning
	case constants.PodPhasePending:
		return constants.TaskStatePending
	case constants.PodPhaseRunning:
		return constants.TaskStateRunning
	case constants.PodPhaseSucceeded, constants.PodPhaseFailed:
		return constants.TaskStateStopped
	default:
		return constants.TaskStateUnknown
	}
}

// isManagedPod checks if pod was created by this controller
func isManagedPod(pod *corev1.Pod) bool {
	return pod != nil && pod.Labels[constants.LabelManagedBy] == constants.ManagedByCamwatch
}

// setStreamEnv sets STREAM_NAME to the raw stream id, whatever the template rendered
func setStreamEnv(c *corev1.Container, stream string) {
	for i := range c.Env {
		if c.Env[i].Name == constants.EnvStreamName {
			c.Env[i].Value = stream
			c.Env[i].ValueFrom = nil
			return
		}
	}
	c.Env = append(c.Env, corev1.EnvVar{Name: constants.EnvStreamName, Value: stream})
}
