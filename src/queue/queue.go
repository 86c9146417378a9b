package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/logging"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
)

// Dedup and lock key layout in the shared store.
const (
	dedupKeyPrefix   = "webhook:"
	processingSuffix = ":processing"
	completeSuffix   = ":complete"
)

// ErrDuplicate is returned by Enqueue when the event was already accepted,
// is currently being dispatched, or completed within the dedup window.
// Callers still answer 200 to the vendor: dedup must not look like failure.
var ErrDuplicate = errors.New("duplicate event")

// Markers is the subset of shared-store operations used for dedup markers and
// the per-event processing lock.
type Markers interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	Del(ctx context.Context, keys ...string) error
}

// Dispatcher hands one event to its subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.CanonicalEvent) error
}

// DeadLetterSink retains events that exhausted all retry attempts.
type DeadLetterSink interface {
	Record(ctx context.Context, dl *models.DeadLetter) error
}

// Options tunes the queue. Zero values fall back to the defaults below.
type Options struct {
	Workers       int
	MaxAttempts   int
	BaseDelay     time.Duration
	JobTimeout    time.Duration
	ProcessingTTL time.Duration
	CompleteTTL   time.Duration
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 30 * time.Second
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Second
	}
	if o.ProcessingTTL <= 0 {
		o.ProcessingTTL = 5 * time.Minute
	}
	if o.CompleteTTL <= 0 {
		o.CompleteTTL = 24 * time.Hour
	}
}

// Queue is the durable queue and retry scheduler. Accepted events are
// persisted in the shared store and dispatched by a pool of workers with
// bounded retries, exponential backoff and a dead-letter path.
type Queue struct {
	jobs       JobStore
	markers    Markers
	dispatcher Dispatcher
	deadLetter DeadLetterSink
	opts       Options
	log        zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a queue. Start must be called before events are dispatched.
func New(jobs JobStore, markers Markers, dispatcher Dispatcher, deadLetter DeadLetterSink, opts Options) *Queue {
	opts.applyDefaults()
	return &Queue{
		jobs:       jobs,
		markers:    markers,
		dispatcher: dispatcher,
		deadLetter: deadLetter,
		opts:       opts,
		log:        logging.NewLogger("queue"),
		stopCh:     make(chan struct{}),
	}
}

// Enqueue persists an event for asynchronous dispatch. The dedup marker is
// claimed with a single set-if-not-exists so concurrent deliveries of the
// same event race safely; losers get ErrDuplicate.
func (q *Queue) Enqueue(ctx context.Context, event *models.CanonicalEvent) error {
	n, err := q.markers.Exists(ctx,
		dedupKeyPrefix+event.ID+processingSuffix,
		dedupKeyPrefix+event.ID+completeSuffix,
	)
	if err != nil {
		return fmt.Errorf("failed to check dedup markers: %w", err)
	}
	if n > 0 {
		return ErrDuplicate
	}

	ok, err := q.markers.SetNX(ctx, dedupKeyPrefix+event.ID, "1", q.opts.CompleteTTL)
	if err != nil {
		return fmt.Errorf("failed to claim dedup marker: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}

	now := time.Now()
	job := &models.Job{
		ID:          event.ID,
		Event:       *event,
		State:       models.JobStatePending,
		MaxAttempts: q.opts.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.jobs.Put(ctx, job); err != nil {
		return err
	}
	if err := q.jobs.PushPending(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.log.Debug().
		Str("event_id", event.ID).
		Str("kind", string(event.Kind)).
		Str("tenant_id", event.TenantID).
		Msg("event enqueued")
	return nil
}

// Requeue clears an event's dedup markers and enqueues it again. This is the
// manual dead-letter recovery path; the automatic scheduler never calls it.
func (q *Queue) Requeue(ctx context.Context, event *models.CanonicalEvent) error {
	err := q.markers.Del(ctx,
		dedupKeyPrefix+event.ID,
		dedupKeyPrefix+event.ID+processingSuffix,
		dedupKeyPrefix+event.ID+completeSuffix,
	)
	if err != nil {
		return fmt.Errorf("failed to clear dedup markers: %w", err)
	}
	return q.Enqueue(ctx, event)
}

// Start launches the worker pool, the retry promoter and the stuck-job
// sweeper.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.running = true

	q.log.Info().Int("workers", q.opts.Workers).Msg("starting queue workers")
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(2)
	go q.promoter(time.Second)
	go q.sweeper(time.Minute)
}

// Stop shuts the workers down and waits for in-flight jobs to finish their
// current attempt.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	q.log.Info().Msg("queue workers stopped")
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		job, err := q.jobs.PopPending(ctx, time.Second)
		if err != nil {
			if !errors.Is(err, ErrEmpty) {
				q.log.Error().Err(err).Int("worker", id).Msg("failed to dequeue job")
				time.Sleep(time.Second)
			}
			continue
		}

		q.process(ctx, job)
	}
}

// process drives one dispatch attempt for a dequeued job.
func (q *Queue) process(ctx context.Context, job *models.Job) {
	eventID := job.Event.ID
	processingKey := dedupKeyPrefix + eventID + processingSuffix
	completeKey := dedupKeyPrefix + eventID + completeSuffix

	defer func() {
		if err := q.jobs.RemoveProcessing(ctx, job.ID); err != nil {
			q.log.Error().Err(err).Str("event_id", eventID).Msg("failed to clear processing entry")
		}
	}()

	// Very-late redelivery: completed within the dedup window, drop.
	if n, err := q.markers.Exists(ctx, completeKey); err == nil && n > 0 {
		_ = q.jobs.Delete(ctx, job.ID)
		return
	}

	// The TTL-bounded lock keeps at most one worker on a given event. If a
	// worker dies mid-dispatch, expiry makes the event retryable again.
	locked, err := q.markers.SetNX(ctx, processingKey, "1", q.opts.ProcessingTTL)
	if err != nil {
		q.log.Error().Err(err).Str("event_id", eventID).Msg("failed to acquire processing lock")
		_ = q.jobs.ScheduleRetry(ctx, job.ID, time.Now().Add(q.opts.BaseDelay))
		return
	}
	if !locked {
		// Another worker holds the event; try again after its lock resolves.
		_ = q.jobs.ScheduleRetry(ctx, job.ID, time.Now().Add(q.opts.BaseDelay))
		return
	}

	job.MarkProcessing()
	if err := q.jobs.Put(ctx, job); err != nil {
		q.log.Error().Err(err).Str("event_id", eventID).Msg("failed to persist job state")
	}

	dispatchErr := q.dispatchWithTimeout(ctx, &job.Event)

	if dispatchErr == nil {
		if _, err := q.markers.SetNX(ctx, completeKey, "1", q.opts.CompleteTTL); err != nil {
			q.log.Error().Err(err).Str("event_id", eventID).Msg("failed to set complete marker")
		}
		_ = q.markers.Del(ctx, processingKey)
		job.MarkComplete()
		_ = q.jobs.Delete(ctx, job.ID)
		q.log.Info().
			Str("event_id", eventID).
			Int("attempts", job.Attempts).
			Msg("event dispatched")
		return
	}

	_ = q.markers.Del(ctx, processingKey)
	job.MarkFailed(dispatchErr.Error())

	if job.Retryable() {
		delay := backoffDelay(q.opts.BaseDelay, job.Attempts)
		if err := q.jobs.Put(ctx, job); err != nil {
			q.log.Error().Err(err).Str("event_id", eventID).Msg("failed to persist job state")
		}
		if err := q.jobs.ScheduleRetry(ctx, job.ID, time.Now().Add(delay)); err != nil {
			q.log.Error().Err(err).Str("event_id", eventID).Msg("failed to schedule retry")
		}
		q.log.Warn().
			Err(dispatchErr).
			Str("event_id", eventID).
			Int("attempt", job.Attempts).
			Int("max_attempts", job.MaxAttempts).
			Dur("retry_in", delay).
			Msg("dispatch failed, retry scheduled")
		return
	}

	q.toDeadLetter(ctx, job)
}

// dispatchWithTimeout runs one attempt under the hard per-job timeout. A
// handler result arriving after the deadline is discarded; the attempt still
// counts.
func (q *Queue) dispatchWithTimeout(ctx context.Context, event *models.CanonicalEvent) error {
	ctx, cancel := context.WithTimeout(ctx, q.opts.JobTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- q.dispatcher.Dispatch(ctx, event)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("dispatch timed out after %s", q.opts.JobTimeout)
	}
}

// toDeadLetter retires a job that exhausted its attempts. Dead letters are
// kept for manual inspection and never retried automatically.
func (q *Queue) toDeadLetter(ctx context.Context, job *models.Job) {
	dl := &models.DeadLetter{
		ID:        uuid.New(),
		EventID:   job.Event.ID,
		Kind:      job.Event.Kind,
		TenantID:  job.Event.TenantID,
		Payload:   job.Event.RawPayload,
		Attempts:  job.Attempts,
		LastError: job.LastError,
		FailedAt:  time.Now(),
	}
	if err := q.deadLetter.Record(ctx, dl); err != nil {
		q.log.Error().Err(err).Str("event_id", job.Event.ID).Msg("failed to record dead letter")
		// Keep the job body around so the failure is not silently lost.
		_ = q.jobs.Put(ctx, job)
		return
	}

	_ = q.jobs.Delete(ctx, job.ID)
	q.log.Error().
		Str("event_id", job.Event.ID).
		Int("attempts", job.Attempts).
		Str("last_error", job.LastError).
		Msg("event dead-lettered")
}

// promoter moves delayed retries whose time has come back onto the pending
// list.
func (q *Queue) promoter(interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			due, err := q.jobs.DueRetries(ctx, time.Now())
			if err != nil {
				q.log.Error().Err(err).Msg("failed to promote delayed jobs")
				continue
			}
			for _, id := range due {
				if err := q.jobs.PushPending(ctx, id); err != nil {
					q.log.Error().Err(err).Str("job_id", id).Msg("failed to requeue delayed job")
				}
			}
		}
	}
}

// sweeper recovers jobs stranded on the processing list by crashed workers.
// Expiry of the processing lock is the recovery signal.
func (q *Queue) sweeper(interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sweep(ctx)
		}
	}
}

func (q *Queue) sweep(ctx context.Context) {
	ids, err := q.jobs.ProcessingIDs(ctx)
	if err != nil {
		q.log.Error().Err(err).Msg("sweeper failed to list processing jobs")
		return
	}

	for _, id := range ids {
		job, err := q.jobs.Get(ctx, id)
		if err != nil {
			_ = q.jobs.RemoveProcessing(ctx, id)
			continue
		}
		if job.State != models.JobStateProcessing {
			continue
		}

		n, err := q.markers.Exists(ctx, dedupKeyPrefix+job.Event.ID+processingSuffix)
		if err != nil || n > 0 {
			// Lock still held; the owning worker is alive.
			continue
		}

		q.log.Warn().Str("event_id", job.Event.ID).Msg("recovering job with expired processing lock")
		_ = q.jobs.RemoveProcessing(ctx, id)
		job.MarkFailed("processing lock expired")
		if job.Retryable() {
			_ = q.jobs.Put(ctx, job)
			_ = q.jobs.ScheduleRetry(ctx, job.ID, time.Now())
		} else {
			q.toDeadLetter(ctx, job)
		}
	}
}
