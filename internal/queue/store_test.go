package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb), mr
}

func testJob(channelID, modelID uint64, endpoint string) Job {
	return Job{
		ID:          NewJobID(channelID, modelID, endpoint),
		ChannelID:   channelID,
		ChannelName: "chan",
		BaseURL:     "https://u.example",
		APIKey:      "K",
		ModelID:     modelID,
		ModelName:   "gpt-4o",
		Endpoint:    endpoint,
	}
}

func TestStore_EnqueueLeaseComplete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job := testJob(1, 10, "CHAT")
	if err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Waiting != 1 {
		t.Fatalf("expected waiting=1, got %d", counts.Waiting)
	}

	leased, err := s.Lease(ctx)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if leased == nil || leased.ID != job.ID {
		t.Fatalf("expected leased job %q, got %+v", job.ID, leased)
	}

	counts, _ = s.Counts(ctx)
	if counts.Waiting != 0 || counts.Active != 1 {
		t.Fatalf("expected waiting=0 active=1, got %+v", counts)
	}

	if err := s.Complete(ctx, *leased, true); err != nil {
		t.Fatalf("complete: %v", err)
	}
	counts, _ = s.Counts(ctx)
	if counts.Active != 0 || counts.Completed != 1 {
		t.Fatalf("expected active=0 completed=1, got %+v", counts)
	}
}

func TestStore_LeaseEmptyReturnsNil(t *testing.T) {
	s, _ := newTestStore(t)
	leased, err := s.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if leased != nil {
		t.Fatalf("expected nil job from empty queue, got %+v", leased)
	}
}

func TestStore_PromoteDelayed(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueDelayed(ctx, testJob(1, 10, "CHAT"), 50*time.Millisecond); err != nil {
		t.Fatalf("enqueue delayed: %v", err)
	}
	promoted, err := s.PromoteDelayed(ctx)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted != 0 {
		t.Fatalf("expected no promotion before delay elapses, got %d", promoted)
	}

	time.Sleep(80 * time.Millisecond)

	promoted, err = s.PromoteDelayed(ctx)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("expected 1 promotion, got %d", promoted)
	}
	counts, _ := s.Counts(ctx)
	if counts.Waiting != 1 || counts.Delayed != 0 {
		t.Fatalf("expected waiting=1 delayed=0, got %+v", counts)
	}
}

func TestStore_RetryBacksOffThenExhausts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	job := testJob(1, 10, "CHAT")
	retried, err := s.Retry(ctx, job)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !retried {
		t.Fatalf("expected first retry to reschedule")
	}

	job.Attempts = MaxAttempts - 1
	retried, err = s.Retry(ctx, job)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried {
		t.Fatalf("expected retries exhausted at %d attempts", MaxAttempts)
	}
}

func TestStore_DrainPending(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Enqueue(ctx, testJob(1, uint64(i), "CHAT")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := s.EnqueueDelayed(ctx, testJob(2, 99, "CLAUDE"), time.Minute); err != nil {
		t.Fatalf("enqueue delayed: %v", err)
	}

	cleared, err := s.DrainPending(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if cleared != 6 {
		t.Fatalf("expected cleared=6, got %d", cleared)
	}

	// Idempotent: second drain clears nothing.
	cleared, err = s.DrainPending(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if cleared != 0 {
		t.Fatalf("expected cleared=0 on second drain, got %d", cleared)
	}
}

func TestStore_StopFlag(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	stopped, err := s.Stopped(ctx)
	if err != nil {
		t.Fatalf("stopped: %v", err)
	}
	if stopped {
		t.Fatalf("expected stop flag clear initially")
	}

	if err := s.SetStop(ctx); err != nil {
		t.Fatalf("set stop: %v", err)
	}
	stopped, _ = s.Stopped(ctx)
	if !stopped {
		t.Fatalf("expected stop flag set")
	}

	if err := s.ClearStop(ctx); err != nil {
		t.Fatalf("clear stop: %v", err)
	}
	stopped, _ = s.Stopped(ctx)
	if stopped {
		t.Fatalf("expected stop flag cleared")
	}
}

func TestStore_ModelPendingCountdown(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.InitModelPending(ctx, 7, 2); err != nil {
		t.Fatalf("init pending: %v", err)
	}
	done, err := s.DecrModelPending(ctx, 7)
	if err != nil {
		t.Fatalf("decr: %v", err)
	}
	if done {
		t.Fatalf("expected model incomplete after first endpoint")
	}
	done, err = s.DecrModelPending(ctx, 7)
	if err != nil {
		t.Fatalf("decr: %v", err)
	}
	if !done {
		t.Fatalf("expected model complete after last endpoint")
	}
}

func TestSemaphore_CapsAndReset(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := s.AcquireGlobal(ctx, 3)
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if !ok {
			t.Fatalf("expected slot %d granted", i)
		}
	}
	ok, err := s.AcquireGlobal(ctx, 3)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected refusal at cap")
	}

	if err := s.ReleaseGlobal(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = s.AcquireGlobal(ctx, 3)
	if !ok {
		t.Fatalf("expected slot after release")
	}

	okChan, err := s.AcquireChannel(ctx, 42, 1)
	if err != nil {
		t.Fatalf("acquire channel: %v", err)
	}
	if !okChan {
		t.Fatalf("expected channel slot granted")
	}
	okChan, _ = s.AcquireChannel(ctx, 42, 1)
	if okChan {
		t.Fatalf("expected channel refusal at cap")
	}

	if err := s.ResetSemaphores(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	global, perChannel, err := s.SemaphoreValues(ctx, []uint64{42})
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if global != 0 || perChannel[42] != 0 {
		t.Fatalf("expected zeroed semaphores, got global=%d channel=%d", global, perChannel[42])
	}
}

func TestSemaphore_ReleaseClampsAtZero(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.ReleaseGlobal(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err := s.AcquireGlobal(ctx, 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected acquire to succeed after clamped release")
	}
}

func TestStore_PendingJobsEnumeration(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Enqueue(ctx, testJob(1, 10, "CHAT"), testJob(2, 20, "CLAUDE")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueDelayed(ctx, testJob(3, 30, "GEMINI"), time.Minute); err != nil {
		t.Fatalf("enqueue delayed: %v", err)
	}

	jobs, err := s.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("pending jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 pending jobs, got %d", len(jobs))
	}

	inFlight, err := s.ChannelInFlight(ctx, 2)
	if err != nil {
		t.Fatalf("channel in flight: %v", err)
	}
	if !inFlight {
		t.Fatalf("expected channel 2 in flight")
	}
	inFlight, _ = s.ChannelInFlight(ctx, 99)
	if inFlight {
		t.Fatalf("expected channel 99 not in flight")
	}
}
