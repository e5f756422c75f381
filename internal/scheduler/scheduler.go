// Package scheduler owns the detection control plane: the singleton
// schedule configuration, cron-driven full detections, manual
// triggers, and probe log retention.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/probegate/probegate/internal/config"
	"github.com/probegate/probegate/internal/models"
	"github.com/probegate/probegate/internal/queue"
	"github.com/probegate/probegate/internal/transport"
	"github.com/probegate/probegate/internal/worker"
)

// ErrDetectionRunning is returned when a trigger is refused because
// jobs are still pending or in flight.
var ErrDetectionRunning = errors.New("detection already running")

var (
	errInvalidCron  = errors.New("invalid cron expression")
	errInvalidDelay = errors.New("invalid delay range")
	errInvalidTZ    = errors.New("invalid timezone")
)

// Scheduler wires the cron runner to detection triggers.
type Scheduler struct {
	db     *gorm.DB
	store  *queue.Store
	client *transport.Client
	appCfg config.AppConfig

	cron           *cron.Cron
	detectEntry    cron.EntryID
	retentionEntry cron.EntryID

	mu  sync.RWMutex
	cfg models.SchedulerConfig
}

// New constructs a Scheduler. Call Start to begin cron execution.
func New(db *gorm.DB, store *queue.Store, client *transport.Client, appCfg config.AppConfig) *Scheduler {
	return &Scheduler{
		db:     db,
		store:  store,
		client: client,
		appCfg: appCfg,
		cron:   cron.New(),
	}
}

// Start loads (or seeds) the schedule configuration, installs the cron
// entries, and starts the runner.
func (s *Scheduler) Start(ctx context.Context) error {
	cfg, err := s.loadOrSeed(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	if err := s.installDetectEntry(cfg); err != nil {
		return err
	}
	s.retentionEntry, err = s.cron.AddFunc(s.appCfg.LogRetentionSchedule, func() {
		if err := s.PurgeOldLogs(context.Background()); err != nil {
			log.WithError(err).Warn("probe log retention failed")
		}
	})
	if err != nil {
		return fmt.Errorf("retention schedule: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron runner and waits for running entries.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Config returns a copy of the current schedule configuration.
func (s *Scheduler) Config() models.SchedulerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Settings exposes the live worker tunables derived from the schedule
// configuration.
func (s *Scheduler) Settings() worker.Settings {
	cfg := s.Config()
	return worker.Settings{
		GlobalConcurrency:  cfg.GlobalConcurrency,
		ChannelConcurrency: cfg.ChannelConcurrency,
		MinDelayMs:         cfg.MinDelayMs,
		MaxDelayMs:         cfg.MaxDelayMs,
		Prompt:             s.appCfg.DetectPrompt,
	}
}

// Validate checks a schedule configuration before it is saved.
func Validate(cfg models.SchedulerConfig) error {
	if _, err := cron.ParseStandard(cfg.CronExpr); err != nil {
		return fmt.Errorf("%w: %v", errInvalidCron, err)
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("%w: %q", errInvalidTZ, cfg.Timezone)
		}
	}
	if cfg.MinDelayMs < 0 || cfg.MaxDelayMs < cfg.MinDelayMs {
		return fmt.Errorf("%w: [%d, %d]", errInvalidDelay, cfg.MinDelayMs, cfg.MaxDelayMs)
	}
	if cfg.GlobalConcurrency <= 0 || cfg.ChannelConcurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive", errInvalidDelay)
	}
	return nil
}

// UpdateConfig validates, persists, and applies a new schedule
// configuration, rebuilding the cron entry in place.
func (s *Scheduler) UpdateConfig(ctx context.Context, cfg models.SchedulerConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	cfg.ID = models.SchedulerConfigID
	if err := s.db.WithContext(ctx).Save(&cfg).Error; err != nil {
		return fmt.Errorf("save scheduler config: %w", err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	if s.detectEntry != 0 {
		s.cron.Remove(s.detectEntry)
		s.detectEntry = 0
	}
	return s.installDetectEntry(cfg)
}

// installDetectEntry adds the periodic full-detection entry when the
// schedule is enabled.
func (s *Scheduler) installDetectEntry(cfg models.SchedulerConfig) error {
	if !cfg.Enabled {
		return nil
	}
	spec := cfg.CronExpr
	if cfg.Timezone != "" {
		spec = "CRON_TZ=" + cfg.Timezone + " " + cfg.CronExpr
	}
	entry, err := s.cron.AddFunc(spec, func() {
		summary, err := s.TriggerScheduled(context.Background())
		if errors.Is(err, ErrDetectionRunning) {
			log.Warn("scheduled detection skipped: previous run still in progress")
			return
		}
		if err != nil {
			log.WithError(err).Error("scheduled detection failed")
			return
		}
		log.WithFields(log.Fields{
			"channels": summary.Channels, "models": summary.Models, "jobs": summary.Jobs,
		}).Info("scheduled detection started")
	})
	if err != nil {
		return fmt.Errorf("detect schedule: %w", err)
	}
	s.detectEntry = entry
	return nil
}

// loadOrSeed fetches the singleton configuration row, creating it from
// environment defaults on first boot.
func (s *Scheduler) loadOrSeed(ctx context.Context) (models.SchedulerConfig, error) {
	var cfg models.SchedulerConfig
	err := s.db.WithContext(ctx).First(&cfg, models.SchedulerConfigID).Error
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return cfg, fmt.Errorf("load scheduler config: %w", err)
	}
	cfg = models.SchedulerConfig{
		ID:                 models.SchedulerConfigID,
		Enabled:            s.appCfg.AutoDetectEnabled,
		CronExpr:           s.appCfg.CronSchedule,
		Timezone:           s.appCfg.CronTimezone,
		ChannelConcurrency: s.appCfg.ChannelConcurrency,
		GlobalConcurrency:  s.appCfg.MaxGlobalConcurrency,
		MinDelayMs:         s.appCfg.DetectionMinDelayMs,
		MaxDelayMs:         s.appCfg.DetectionMaxDelayMs,
		ProbeAllChannels:   true,
	}
	if err := s.db.WithContext(ctx).Create(&cfg).Error; err != nil {
		return cfg, fmt.Errorf("seed scheduler config: %w", err)
	}
	return cfg, nil
}

// PurgeOldLogs deletes probe logs older than the retention window.
func (s *Scheduler) PurgeOldLogs(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.appCfg.LogRetentionDays)
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.ProbeLog{})
	if res.Error != nil {
		return fmt.Errorf("purge probe logs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.WithField("rows", res.RowsAffected).Info("purged old probe logs")
	}
	return nil
}
