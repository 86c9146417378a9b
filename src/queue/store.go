package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
)

// Redis key layout for the durable queue.
const (
	jobKeyPrefix      = "webhook:job:"
	pendingListKey    = "webhook:queue:pending"
	processingListKey = "webhook:queue:processing"
	delayedSetKey     = "webhook:queue:delayed"

	// Jobs expire from the store a day after their last update; by then they
	// are either complete, dead-lettered or stuck beyond recovery.
	jobTTL = 24 * time.Hour
)

// ErrEmpty is returned by PopPending when no job became available within the
// blocking timeout.
var ErrEmpty = errors.New("queue empty")

// JobStore persists jobs and drives the pending/processing/delayed structures.
type JobStore interface {
	Put(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
	Delete(ctx context.Context, jobID string) error

	PushPending(ctx context.Context, jobID string) error
	// PopPending atomically moves the next pending job id to the processing
	// list and loads the job. Blocks up to timeout; returns ErrEmpty when
	// nothing arrived.
	PopPending(ctx context.Context, timeout time.Duration) (*models.Job, error)
	RemoveProcessing(ctx context.Context, jobID string) error
	ProcessingIDs(ctx context.Context) ([]string, error)

	ScheduleRetry(ctx context.Context, jobID string, at time.Time) error
	// DueRetries removes and returns the ids of delayed jobs whose retry time
	// has passed.
	DueRetries(ctx context.Context, now time.Time) ([]string, error)
}

// RedisJobStore is the shared-store implementation of JobStore.
type RedisJobStore struct {
	client *redis.Client
}

// NewRedisJobStore creates a job store on the given client.
func NewRedisJobStore(client *redis.Client) *RedisJobStore {
	return &RedisJobStore{client: client}
}

func (s *RedisJobStore) Put(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.client.Set(ctx, jobKeyPrefix+job.ID, data, jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := s.client.Get(ctx, jobKeyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *RedisJobStore) Delete(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, jobKeyPrefix+jobID).Err()
}

func (s *RedisJobStore) PushPending(ctx context.Context, jobID string) error {
	return s.client.LPush(ctx, pendingListKey, jobID).Err()
}

func (s *RedisJobStore) PopPending(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	jobID, err := s.client.BRPopLPush(ctx, pendingListKey, processingListKey, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop pending job: %w", err)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		// Job body is gone; drop the stray list entry.
		_ = s.RemoveProcessing(ctx, jobID)
		return nil, err
	}
	return job, nil
}

func (s *RedisJobStore) RemoveProcessing(ctx context.Context, jobID string) error {
	return s.client.LRem(ctx, processingListKey, 1, jobID).Err()
}

func (s *RedisJobStore) ProcessingIDs(ctx context.Context) ([]string, error) {
	return s.client.LRange(ctx, processingListKey, 0, -1).Result()
}

func (s *RedisJobStore) ScheduleRetry(ctx context.Context, jobID string, at time.Time) error {
	return s.client.ZAdd(ctx, delayedSetKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: jobID,
	}).Err()
}

func (s *RedisJobStore) DueRetries(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, delayedSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, err
	}

	var due []string
	for _, id := range ids {
		// ZRem decides the winner when several promoters race on the same id.
		removed, err := s.client.ZRem(ctx, delayedSetKey, id).Result()
		if err != nil {
			return due, err
		}
		if removed > 0 {
			due = append(due, id)
		}
	}
	return due, nil
}

var _ JobStore = (*RedisJobStore)(nil)
