package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"camwatch/pkg/interfaces"

	"github.com/go-redis/redis/v8"
)

const (
	assignmentKeyPrefix = "assignment:"         // Hash per stream {worker, version, updated_at}
	assignmentSetKey    = "assignments:streams" // Every stream with a record

	fieldWorker    = "worker"
	fieldVersion   = "version"
	fieldUpdatedAt = "updated_at"
)

// casScript writes the assignment only when the stored version matches.
// Returns the new version, or -1 on conflict.
var casScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "version")
if not cur then
	cur = "0"
end
if tonumber(cur) ~= tonumber(ARGV[1]) then
	return -1
end
local nv = tonumber(cur) + 1
redis.call("HSET", KEYS[1], "worker", ARGV[2], "version", nv, "updated_at", ARGV[3])
redis.call("SADD", KEYS[2], ARGV[4])
return nv
`)

// AssignmentRepository stream assignments in Redis hashes with Lua CAS
type AssignmentRepository struct {
	redis  *redis.Client
	prefix string
}

// NewAssignmentRepository creates an assignment repository; prefix namespaces all keys
func NewAssignmentRepository(redisClient *RedisClient, prefix string) *AssignmentRepository {
	return &AssignmentRepository{
		redis:  redisClient.GetClient(),
		prefix: prefix,
	}
}

func (r *AssignmentRepository) key(stream string) string {
	return r.prefix + assignmentKeyPrefix + stream
}

func (r *AssignmentRepository) setKey() string {
	return r.prefix + assignmentSetKey
}

// Get reads the assignment of a stream
func (r *AssignmentRepository) Get(ctx context.Context, stream string) (*interfaces.Assignment, error) {
	fields, err := r.redis.HGetAll(ctx, r.key(stream)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment %s: %w", stream, err)
	}
	return decodeAssignment(stream, fields)
}

// CompareAndSet writes workerID if the stored version equals expectedVersion
func (r *AssignmentRepository) CompareAndSet(ctx context.Context, stream string, expectedVersion int64, workerID string) (*interfaces.Assignment, error) {
	now := time.Now().UTC()
	version, err := casScript.Run(ctx, r.redis,
		[]string{r.key(stream), r.setKey()},
		expectedVersion, workerID, now.UnixMilli(), stream,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to set assignment %s: %w", stream, err)
	}
	if version < 0 {
		return nil, fmt.Errorf("%w: stream %s changed since version %d", interfaces.ErrStoreConflict, stream, expectedVersion)
	}

	return &interfaces.Assignment{
		StreamID:  stream,
		WorkerID:  workerID,
		Version:   version,
		UpdatedAt: time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

// List returns every recorded assignment
func (r *AssignmentRepository) List(ctx context.Context) ([]*interfaces.Assignment, error) {
	streams, err := r.redis.SMembers(ctx, r.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	if len(streams) == 0 {
		return []*interfaces.Assignment{}, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, 0, len(streams))
	for _, stream := range streams {
		cmds = append(cmds, pipe.HGetAll(ctx, r.key(stream)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	out := make([]*interfaces.Assignment, 0, len(streams))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		a, err := decodeAssignment(streams[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func decodeAssignment(stream string, fields map[string]string) (*interfaces.Assignment, error) {
	if len(fields) == 0 {
		return interfaces.Unassigned(stream), nil
	}

	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid assignment version for %s: %w", stream, err)
	}

	a := &interfaces.Assignment{
		StreamID: stream,
		WorkerID: fields[fieldWorker],
		Version:  version,
	}
	if ms, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64); err == nil {
		a.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return a, nil
}
