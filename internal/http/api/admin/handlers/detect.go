package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/probegate/probegate/internal/queue"
	"github.com/probegate/probegate/internal/scheduler"
)

// DetectHandler manages detection run endpoints.
type DetectHandler struct {
	scheduler *scheduler.Scheduler
	store     *queue.Store
}

// NewDetectHandler constructs a DetectHandler.
func NewDetectHandler(sched *scheduler.Scheduler, store *queue.Store) *DetectHandler {
	return &DetectHandler{scheduler: sched, store: store}
}

// Start triggers a detection run: the whole fleet, one channel when
// channel_id is given, or selected models of that channel. Replies 409
// with a queue snapshot while a conflicting run is in progress.
func (h *DetectHandler) Start(c *gin.Context) {
	var body struct {
		ChannelID uint64   `json:"channel_id"`
		ModelID   uint64   `json:"model_id"`
		ModelIDs  []uint64 `json:"model_ids"`
		WithSync  bool     `json:"with_sync"`
	}
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	modelIDs := body.ModelIDs
	if body.ModelID != 0 {
		modelIDs = append(modelIDs, body.ModelID)
	}
	if len(modelIDs) > 0 && body.ChannelID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model selection requires channel_id"})
		return
	}

	ctx := c.Request.Context()
	var (
		summary scheduler.Summary
		errRun  error
	)
	if body.ChannelID != 0 {
		summary, errRun = h.scheduler.TriggerChannel(ctx, body.ChannelID, modelIDs, body.WithSync)
	} else {
		summary, errRun = h.scheduler.TriggerFull(ctx, body.WithSync)
	}
	if errors.Is(errRun, scheduler.ErrDetectionRunning) {
		counts, _ := h.store.Counts(ctx)
		c.JSON(http.StatusConflict, gin.H{
			"error": "detection already running",
			"queue": counts,
		})
		return
	}
	if errRun != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errRun.Error()})
		return
	}
	c.JSON(http.StatusAccepted, summary)
}

// Status reports queue depths, the stop flag, and in-flight jobs.
func (h *DetectHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	counts, errCounts := h.store.Counts(ctx)
	if errCounts != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue inspection failed"})
		return
	}
	stopped, errStop := h.store.Stopped(ctx)
	if errStop != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stop flag check failed"})
		return
	}
	active, errActive := h.store.ActiveJobs(ctx)
	if errActive != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "active job listing failed"})
		return
	}
	pending, errPending := h.store.PendingJobs(ctx)
	if errPending != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pending job listing failed"})
		return
	}
	channelIDs, modelIDs := testingIDs(pending)
	c.JSON(http.StatusOK, gin.H{
		"waiting":           counts.Waiting,
		"active":            counts.Active,
		"delayed":           counts.Delayed,
		"completed":         counts.Completed,
		"failed":            counts.Failed,
		"stopped":           stopped,
		"running":           counts.Waiting > 0 || counts.Active > 0 || counts.Delayed > 0,
		"activeJobs":        active,
		"testingChannelIds": channelIDs,
		"testingModelIds":   modelIDs,
	})
}

// testingIDs collects the distinct channel and model ids touched by
// the given jobs, in first-seen order.
func testingIDs(jobs []queue.Job) ([]uint64, []uint64) {
	channelIDs := make([]uint64, 0, len(jobs))
	modelIDs := make([]uint64, 0, len(jobs))
	seenChannel := make(map[uint64]bool)
	seenModel := make(map[uint64]bool)
	for _, j := range jobs {
		if !seenChannel[j.ChannelID] {
			seenChannel[j.ChannelID] = true
			channelIDs = append(channelIDs, j.ChannelID)
		}
		if !seenModel[j.ModelID] {
			seenModel[j.ModelID] = true
			modelIDs = append(modelIDs, j.ModelID)
		}
	}
	return channelIDs, modelIDs
}

// Stop raises the stop flag, cancels in-flight probes, drains pending
// jobs, and resets the admission semaphores. The reply reports how
// many jobs were cleared, in-flight cancellations included.
func (h *DetectHandler) Stop(c *gin.Context) {
	ctx := c.Request.Context()

	if errStop := h.store.SetStop(ctx); errStop != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "set stop flag failed"})
		return
	}
	if errPublish := h.store.PublishStop(ctx); errPublish != nil {
		log.WithError(errPublish).Warn("stop broadcast failed")
	}

	active, errActive := h.store.ActiveJobs(ctx)
	if errActive != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "active job listing failed"})
		return
	}
	// Drop actives from the queue immediately so a new run can start
	// without waiting for the cancelled probes to unwind.
	for _, job := range active {
		if errAck := h.store.Ack(ctx, job); errAck != nil {
			log.WithError(errAck).WithField("job", job.ID).Warn("active job ack failed")
		}
	}
	drained, errDrain := h.store.DrainPending(ctx)
	if errDrain != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "drain failed"})
		return
	}
	if errReset := h.store.ResetSemaphores(ctx); errReset != nil {
		log.WithError(errReset).Warn("semaphore reset failed")
	}

	c.JSON(http.StatusOK, gin.H{
		"cleared":   drained + len(active),
		"drained":   drained,
		"cancelled": len(active),
	})
}
