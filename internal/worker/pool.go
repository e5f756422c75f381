// Package worker runs the probe worker pool: goroutines that lease
// jobs from the redis queue, execute probes under the global and
// per-channel admission semaphores, persist outcomes, and broadcast
// progress events.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/probegate/probegate/internal/detector"
	"github.com/probegate/probegate/internal/models"
	"github.com/probegate/probegate/internal/progress"
	"github.com/probegate/probegate/internal/queue"
	"github.com/probegate/probegate/internal/transport"
)

// StopMessage is recorded on probes cancelled by an operator stop.
const StopMessage = "Detection stopped by user"

const (
	leasePollInterval = 500 * time.Millisecond
	promoteInterval   = time.Second
)

// Settings are the tunables a worker reads per job, so scheduler
// config updates apply without a restart.
type Settings struct {
	GlobalConcurrency  int
	ChannelConcurrency int
	MinDelayMs         int
	MaxDelayMs         int
	Prompt             string
}

// Pool is a fixed-size probe worker pool.
type Pool struct {
	store    *queue.Store
	bus      *progress.Bus
	db       *gorm.DB
	client   *transport.Client
	settings func() Settings
	workers  int

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewPool constructs a worker pool. settings is called once per job.
func NewPool(store *queue.Store, bus *progress.Bus, db *gorm.DB, client *transport.Client, workers int, settings func() Settings) *Pool {
	return &Pool{
		store:    store,
		bus:      bus,
		db:       db,
		client:   client,
		settings: settings,
		workers:  workers,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Run starts the pool and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.promoteLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.controlLoop(ctx)
	}()

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workLoop(ctx, id)
		}(i)
	}
	wg.Wait()
}

// promoteLoop moves due delayed jobs onto the waiting list.
func (p *Pool) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.store.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("delayed job promotion failed")
			}
		}
	}
}

// controlLoop cancels all in-flight probes when a stop is published.
func (p *Pool) controlLoop(ctx context.Context) {
	sub := p.store.SubscribeControl(ctx)
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Payload == queue.ControlStop {
				p.cancelAll()
			}
		}
	}
}

func (p *Pool) cancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cancel := range p.inflight {
		cancel()
		delete(p.inflight, id)
	}
}

func (p *Pool) register(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight[jobID] = cancel
}

func (p *Pool) unregister(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, jobID)
}

func (p *Pool) workLoop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.store.Lease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("worker", id).Warn("job lease failed")
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(leasePollInterval):
			}
			continue
		}
		p.handle(ctx, *job)
	}
}

// handle runs one leased job through admission, jitter, probe, and
// outcome recording. Semaphores are released on every path.
func (p *Pool) handle(ctx context.Context, job queue.Job) {
	stopped, err := p.store.Stopped(ctx)
	if err != nil {
		log.WithError(err).Warn("stop flag check failed")
	}
	if stopped {
		p.drop(ctx, job)
		return
	}

	s := p.settings()
	granted, err := p.store.AcquireGlobal(ctx, s.GlobalConcurrency)
	if err != nil || !granted {
		if err != nil {
			log.WithError(err).Warn("global semaphore acquire failed")
		}
		p.requeue(ctx, job)
		return
	}
	defer func() {
		if errRel := p.store.ReleaseGlobal(ctx); errRel != nil {
			log.WithError(errRel).Warn("global semaphore release failed")
		}
	}()

	granted, err = p.store.AcquireChannel(ctx, job.ChannelID, s.ChannelConcurrency)
	if err != nil || !granted {
		if err != nil {
			log.WithError(err).Warn("channel semaphore acquire failed")
		}
		p.requeue(ctx, job)
		return
	}
	defer func() {
		if errRel := p.store.ReleaseChannel(ctx, job.ChannelID); errRel != nil {
			log.WithError(errRel).Warn("channel semaphore release failed")
		}
	}()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.register(job.ID, cancel)
	defer p.unregister(job.ID)

	if !p.jitterSleep(jobCtx, s.MinDelayMs, s.MaxDelayMs) {
		if ctx.Err() == nil {
			p.drop(ctx, job)
		}
		return
	}

	res := detector.Run(jobCtx, p.client, detector.Probe{
		ChannelID: job.ChannelID,
		BaseURL:   job.BaseURL,
		APIKey:    job.APIKey,
		ProxyURL:  job.ProxyURL,
		ModelID:   job.ModelID,
		ModelName: job.ModelName,
		Endpoint:  job.Endpoint,
		Prompt:    s.Prompt,
	})

	if jobCtx.Err() != nil && ctx.Err() == nil {
		res = detector.Result{Status: models.ProbeStatusFail, ErrorMessage: StopMessage}
	} else if res.Status == models.ProbeStatusFail && res.UpstreamStatus == 0 {
		// The upstream never answered; transient transport failures get
		// another attempt with backoff.
		retried, errRetry := p.store.Retry(ctx, job)
		if errRetry != nil {
			log.WithError(errRetry).WithField("job", job.ID).Warn("retry scheduling failed")
		} else if retried {
			log.WithFields(log.Fields{
				"job": job.ID, "attempt": job.Attempts + 1,
			}).Debug("probe rescheduled after transport failure")
			return
		}
	}

	p.finish(ctx, job, res)
}

// jitterSleep waits a uniform random delay in [minMs, maxMs]. Returns
// false when the context is cancelled first.
func (p *Pool) jitterSleep(ctx context.Context, minMs, maxMs int) bool {
	if maxMs <= 0 || maxMs < minMs {
		return ctx.Err() == nil
	}
	delay := minMs
	if maxMs > minMs {
		delay += rand.Intn(maxMs - minMs + 1)
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Duration(delay) * time.Millisecond):
		return true
	}
}

// drop acknowledges a job whose probe never ran. Nothing is recorded:
// no log row, no model update, no progress event.
func (p *Pool) drop(ctx context.Context, job queue.Job) {
	if err := p.store.Ack(ctx, job); err != nil {
		log.WithError(err).WithField("job", job.ID).Warn("stopped job ack failed")
	}
}

// finish persists the outcome, removes the job from the active set,
// and broadcasts a progress event.
func (p *Pool) finish(ctx context.Context, job queue.Job, res detector.Result) {
	p.record(job, res)

	success := res.Status == models.ProbeStatusSuccess
	if err := p.store.Complete(ctx, job, success); err != nil {
		log.WithError(err).WithField("job", job.ID).Warn("job completion failed")
	}
	done, err := p.store.DecrModelPending(ctx, job.ModelID)
	if err != nil {
		log.WithError(err).WithField("job", job.ID).Warn("pending countdown failed")
	}

	p.bus.Publish(ctx, progress.Event{
		Kind:            progress.KindProgress,
		ChannelID:       job.ChannelID,
		ModelID:         job.ModelID,
		ModelName:       job.ModelName,
		Status:          res.Status,
		LatencyMs:       res.LatencyMs,
		EndpointType:    job.Endpoint,
		IsModelComplete: done,
	})
}

// record inserts the probe log row and rolls the probe outcome into
// the model's detection state.
func (p *Pool) record(job queue.Job, res detector.Result) {
	logRow := models.ProbeLog{
		ModelID:        job.ModelID,
		EndpointType:   job.Endpoint,
		Status:         res.Status,
		LatencyMs:      res.LatencyMs,
		UpstreamStatus: res.UpstreamStatus,
		ErrorMessage:   res.ErrorMessage,
		ResponseText:   res.ResponsePreview,
	}
	if err := p.db.Create(&logRow).Error; err != nil {
		log.WithError(err).WithField("job", job.ID).Warn("probe log insert failed")
	}

	var model models.Model
	if err := p.db.First(&model, job.ModelID).Error; err != nil {
		log.WithError(err).WithField("model", job.ModelID).Warn("model lookup failed")
		return
	}
	now := time.Now()
	updates := map[string]interface{}{
		"last_checked_at": &now,
	}
	if res.Status == models.ProbeStatusSuccess {
		updates["detected_endpoints"] = model.WithEndpoint(job.Endpoint)
		updates["last_status"] = models.ModelStatusReachable
		updates["last_latency_ms"] = res.LatencyMs
	} else {
		updates["last_status"] = models.ModelStatusUnreachable
	}
	if err := p.db.Model(&model).Updates(updates).Error; err != nil {
		log.WithError(err).WithField("model", job.ModelID).Warn("model update failed")
	}
}

func (p *Pool) requeue(ctx context.Context, job queue.Job) {
	if err := p.store.Requeue(ctx, job); err != nil {
		log.WithError(err).WithField("job", job.ID).Warn("job requeue failed")
	}
}
