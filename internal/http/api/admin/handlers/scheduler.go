package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/probegate/probegate/internal/models"
	"github.com/probegate/probegate/internal/scheduler"
)

// SchedulerHandler manages the schedule configuration endpoints.
type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
}

// NewSchedulerHandler constructs a SchedulerHandler.
func NewSchedulerHandler(sched *scheduler.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: sched}
}

// Get returns the current schedule configuration.
func (h *SchedulerHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Config())
}

type schedulerBody struct {
	Enabled            *bool    `json:"enabled"`
	CronExpr           string   `json:"cron_expr"`
	Timezone           string   `json:"timezone"`
	ChannelConcurrency *int     `json:"channel_concurrency"`
	GlobalConcurrency  *int     `json:"global_concurrency"`
	MinDelayMs         *int     `json:"min_delay_ms"`
	MaxDelayMs         *int     `json:"max_delay_ms"`
	ProbeAllChannels   *bool    `json:"probe_all_channels"`
	SelectedChannelIDs []uint64 `json:"selected_channel_ids"`
	// SelectedModelIDs maps channel id to the model ids probed on it.
	SelectedModelIDs map[uint64][]uint64 `json:"selected_model_ids"`
}

// Update validates and applies a new schedule configuration. The cron
// entry is rebuilt immediately; no restart needed.
func (h *SchedulerHandler) Update(c *gin.Context) {
	var body schedulerBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	cfg := h.scheduler.Config()
	if body.Enabled != nil {
		cfg.Enabled = *body.Enabled
	}
	if body.CronExpr != "" {
		cfg.CronExpr = body.CronExpr
	}
	if body.Timezone != "" {
		cfg.Timezone = body.Timezone
	}
	if body.ChannelConcurrency != nil {
		cfg.ChannelConcurrency = *body.ChannelConcurrency
	}
	if body.GlobalConcurrency != nil {
		cfg.GlobalConcurrency = *body.GlobalConcurrency
	}
	if body.MinDelayMs != nil {
		cfg.MinDelayMs = *body.MinDelayMs
	}
	if body.MaxDelayMs != nil {
		cfg.MaxDelayMs = *body.MaxDelayMs
	}
	if body.ProbeAllChannels != nil {
		cfg.ProbeAllChannels = *body.ProbeAllChannels
	}
	if body.SelectedChannelIDs != nil {
		cfg.SelectedChannelIDs = models.EncodeIDList(body.SelectedChannelIDs)
	}
	if body.SelectedModelIDs != nil {
		cfg.SelectedModelIDs = models.EncodeIDMap(body.SelectedModelIDs)
	}

	if errValidate := scheduler.Validate(cfg); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}
	if errUpdate := h.scheduler.UpdateConfig(c.Request.Context(), cfg); errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update scheduler config failed"})
		return
	}
	c.JSON(http.StatusOK, h.scheduler.Config())
}
