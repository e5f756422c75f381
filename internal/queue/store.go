// Package queue implements the redis-backed probe job store: a durable
// waiting/delayed/active queue with retry bookkeeping, the detection
// stop flag, and the global and per-channel admission semaphores.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys used by the job store.
const (
	keyWaiting      = "detection:jobs:waiting"
	keyDelayed      = "detection:jobs:delayed"
	keyActive       = "detection:jobs:active"
	keyCompleted    = "detection:jobs:completed"
	keyFailed       = "detection:jobs:failed"
	keyStop         = "detection:stop"
	keyPendingModel = "detection:pending:model:%d"
	keySemGlobal    = "detection:semaphore:global"
	keySemChannel   = "detection:semaphore:channel:%d"

	// ControlChannel carries stop fan-out to worker pools.
	ControlChannel = "detection:control"
	// ControlStop is the drain message published on ControlChannel.
	ControlStop = "stop"
)

// Queue retention and paging limits.
const (
	completedRetention = time.Hour
	failedRetention    = 24 * time.Hour
	completedCap       = 1000
	failedCap          = 500

	waitingPageLimit = 1000
	delayedPageLimit = 1000
	activePageLimit  = 100

	stopFlagTTL = time.Hour
)

// Default retry policy.
const (
	MaxAttempts     = 3
	BackoffBase     = 5 * time.Second
	RequeueDelay    = 2 * time.Second
	pendingModelTTL = 24 * time.Hour
)

// Store is the redis-backed job store.
type Store struct {
	rdb *redis.Client
}

// NewStore constructs a Store on the given redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Enqueue appends jobs to the waiting list.
func (s *Store) Enqueue(ctx context.Context, jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	payloads := make([]interface{}, 0, len(jobs))
	for _, j := range jobs {
		payloads = append(payloads, j.Encode())
	}
	return s.rdb.RPush(ctx, keyWaiting, payloads...).Err()
}

// EnqueueDelayed schedules a job to become waiting after the delay.
func (s *Store) EnqueueDelayed(ctx context.Context, job Job, delay time.Duration) error {
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	return s.rdb.ZAdd(ctx, keyDelayed, redis.Z{Score: readyAt, Member: job.Encode()}).Err()
}

// PromoteDelayed moves due delayed jobs onto the waiting list. Returns
// the number of promoted jobs.
func (s *Store) PromoteDelayed(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := s.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: int64(delayedPageLimit),
	}).Result()
	if err != nil || len(due) == 0 {
		return 0, err
	}
	pipe := s.rdb.TxPipeline()
	for _, payload := range due {
		pipe.ZRem(ctx, keyDelayed, payload)
		pipe.RPush(ctx, keyWaiting, payload)
	}
	if _, errExec := pipe.Exec(ctx); errExec != nil {
		return 0, errExec
	}
	return len(due), nil
}

// Lease pops one waiting job and marks it active. Returns nil when the
// queue is empty.
func (s *Store) Lease(ctx context.Context) (*Job, error) {
	payload, err := s.rdb.LPop(ctx, keyWaiting).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job, errDecode := DecodeJob(payload)
	if errDecode != nil {
		return nil, errDecode
	}
	if errActive := s.rdb.HSet(ctx, keyActive, job.ID, payload).Err(); errActive != nil {
		return nil, errActive
	}
	return &job, nil
}

// Requeue returns a leased job to the delayed set without consuming an
// attempt. Used when semaphore admission is refused.
func (s *Store) Requeue(ctx context.Context, job Job) error {
	if err := s.rdb.HDel(ctx, keyActive, job.ID).Err(); err != nil {
		return err
	}
	return s.EnqueueDelayed(ctx, job, RequeueDelay)
}

// Ack removes a leased job from the active set without recording an
// outcome. Used when a stop drops the job.
func (s *Store) Ack(ctx context.Context, job Job) error {
	return s.rdb.HDel(ctx, keyActive, job.ID).Err()
}

// Retry re-schedules a failed job with exponential backoff, or reports
// false when attempts are exhausted.
func (s *Store) Retry(ctx context.Context, job Job) (bool, error) {
	if err := s.rdb.HDel(ctx, keyActive, job.ID).Err(); err != nil {
		return false, err
	}
	job.Attempts++
	if job.Attempts >= MaxAttempts {
		return false, nil
	}
	backoff := BackoffBase * time.Duration(1<<uint(job.Attempts-1))
	return true, s.EnqueueDelayed(ctx, job, backoff)
}

// Complete removes a job from the active set and records its outcome in
// the completed or failed retention sets.
func (s *Store) Complete(ctx context.Context, job Job, success bool) error {
	if err := s.rdb.HDel(ctx, keyActive, job.ID).Err(); err != nil {
		return err
	}
	key, cap, retention := keyCompleted, completedCap, completedRetention
	if !success {
		key, cap, retention = keyFailed, failedCap, failedRetention
	}
	now := time.Now()
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: job.Encode()})
	pipe.ZRemRangeByScore(ctx, key, "-inf",
		strconv.FormatInt(now.Add(-retention).UnixMilli(), 10))
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-cap-1))
	_, err := pipe.Exec(ctx)
	return err
}

// DrainPending clears waiting and delayed jobs and returns how many
// were removed.
func (s *Store) DrainPending(ctx context.Context) (int, error) {
	pipe := s.rdb.TxPipeline()
	waitingLen := pipe.LLen(ctx, keyWaiting)
	delayedLen := pipe.ZCard(ctx, keyDelayed)
	pipe.Del(ctx, keyWaiting, keyDelayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(waitingLen.Val() + delayedLen.Val()), nil
}

// ActiveJobs returns up to the paging limit of in-flight jobs.
func (s *Store) ActiveJobs(ctx context.Context) ([]Job, error) {
	entries, err := s.rdb.HGetAll(ctx, keyActive).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(entries))
	for _, payload := range entries {
		if len(jobs) >= activePageLimit {
			break
		}
		job, errDecode := DecodeJob(payload)
		if errDecode != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Counts summarizes the queue for inspection calls.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Counts returns current queue depths.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	pipe := s.rdb.Pipeline()
	waiting := pipe.LLen(ctx, keyWaiting)
	active := pipe.HLen(ctx, keyActive)
	delayed := pipe.ZCard(ctx, keyDelayed)
	completed := pipe.ZCard(ctx, keyCompleted)
	failed := pipe.ZCard(ctx, keyFailed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// HasPending reports whether any job is waiting, delayed, or active.
func (s *Store) HasPending(ctx context.Context) (bool, error) {
	counts, err := s.Counts(ctx)
	if err != nil {
		return false, err
	}
	return counts.Waiting > 0 || counts.Active > 0 || counts.Delayed > 0, nil
}

// ChannelInFlight reports whether any pending or active job targets the
// channel.
func (s *Store) ChannelInFlight(ctx context.Context, channelID uint64) (bool, error) {
	jobs, err := s.PendingJobs(ctx)
	if err != nil {
		return false, err
	}
	for _, j := range jobs {
		if j.ChannelID == channelID {
			return true, nil
		}
	}
	return false, nil
}

// PendingJobs enumerates waiting, delayed, and active jobs under the
// paging limits (1000 waiting + 1000 delayed + 100 active).
func (s *Store) PendingJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	waiting, err := s.rdb.LRange(ctx, keyWaiting, 0, int64(waitingPageLimit-1)).Result()
	if err != nil {
		return nil, err
	}
	delayed, err := s.rdb.ZRange(ctx, keyDelayed, 0, int64(delayedPageLimit-1)).Result()
	if err != nil {
		return nil, err
	}
	for _, payload := range append(waiting, delayed...) {
		job, errDecode := DecodeJob(payload)
		if errDecode != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	active, err := s.ActiveJobs(ctx)
	if err != nil {
		return nil, err
	}
	return append(jobs, active...), nil
}

// SetStop raises the detection stop flag with its TTL.
func (s *Store) SetStop(ctx context.Context) error {
	return s.rdb.Set(ctx, keyStop, "1", stopFlagTTL).Err()
}

// ClearStop removes the detection stop flag.
func (s *Store) ClearStop(ctx context.Context) error {
	return s.rdb.Del(ctx, keyStop).Err()
}

// Stopped reports whether the stop flag is set.
func (s *Store) Stopped(ctx context.Context) (bool, error) {
	_, err := s.rdb.Get(ctx, keyStop).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PublishStop fans the stop signal out to worker pools so in-flight
// probes get cancelled.
func (s *Store) PublishStop(ctx context.Context) error {
	return s.rdb.Publish(ctx, ControlChannel, ControlStop).Err()
}

// SubscribeControl subscribes to the worker control channel.
func (s *Store) SubscribeControl(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, ControlChannel)
}

// InitModelPending records how many endpoint probes remain for a model
// in the current detection run.
func (s *Store) InitModelPending(ctx context.Context, modelID uint64, endpoints int) error {
	key := fmt.Sprintf(keyPendingModel, modelID)
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, endpoints, pendingModelTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// DecrModelPending decrements the per-model endpoint countdown and
// reports whether the model finished all endpoints for this run.
func (s *Store) DecrModelPending(ctx context.Context, modelID uint64) (bool, error) {
	key := fmt.Sprintf(keyPendingModel, modelID)
	remaining, err := s.rdb.Decr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if remaining <= 0 {
		_ = s.rdb.Del(ctx, key).Err()
		return true, nil
	}
	return false, nil
}
