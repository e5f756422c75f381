package scheduler

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/probegate/probegate/internal/adapter"
	"github.com/probegate/probegate/internal/models"
	"github.com/probegate/probegate/internal/queue"
)

// Summary reports what a detection trigger enqueued.
type Summary struct {
	Channels int `json:"channels"`
	Models   int `json:"models"`
	Jobs     int `json:"jobs"`
}

// TriggerFull starts a detection run over every enabled channel.
// Refused with ErrDetectionRunning while jobs are pending.
func (s *Scheduler) TriggerFull(ctx context.Context, withSync bool) (Summary, error) {
	pending, err := s.store.HasPending(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("check pending: %w", err)
	}
	if pending {
		return Summary{}, ErrDetectionRunning
	}
	var channels []models.Channel
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&channels).Error; err != nil {
		return Summary{}, fmt.Errorf("list channels: %w", err)
	}
	return s.trigger(ctx, channels, nil, withSync)
}

// TriggerChannel starts a detection run for one channel, optionally
// restricted to the given models. Only a run already touching this
// channel is refused; other channels may keep probing.
func (s *Scheduler) TriggerChannel(ctx context.Context, channelID uint64, modelIDs []uint64, withSync bool) (Summary, error) {
	inFlight, err := s.store.ChannelInFlight(ctx, channelID)
	if err != nil {
		return Summary{}, fmt.Errorf("check channel in flight: %w", err)
	}
	if inFlight {
		return Summary{}, ErrDetectionRunning
	}
	var channel models.Channel
	if err := s.db.WithContext(ctx).First(&channel, channelID).Error; err != nil {
		return Summary{}, fmt.Errorf("load channel: %w", err)
	}
	if !channel.Enabled {
		return Summary{}, fmt.Errorf("channel %d is disabled", channelID)
	}
	var filter map[uint64][]uint64
	if len(modelIDs) > 0 {
		filter = map[uint64][]uint64{channelID: modelIDs}
	}
	return s.trigger(ctx, []models.Channel{channel}, filter, withSync)
}

// TriggerScheduled starts the periodic run honoring the configured
// channel and model selection.
func (s *Scheduler) TriggerScheduled(ctx context.Context) (Summary, error) {
	cfg := s.Config()
	if cfg.ProbeAllChannels {
		return s.TriggerFull(ctx, true)
	}
	pending, err := s.store.HasPending(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("check pending: %w", err)
	}
	if pending {
		return Summary{}, ErrDetectionRunning
	}
	selected := cfg.SelectedChannels()
	if len(selected) == 0 {
		return Summary{}, nil
	}
	var channels []models.Channel
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND id IN ?", true, selected).
		Find(&channels).Error; err != nil {
		return Summary{}, fmt.Errorf("list selected channels: %w", err)
	}
	return s.trigger(ctx, channels, cfg.SelectedModels(), false)
}

// trigger runs the shared enqueue path: clear a leftover stop flag,
// optionally sync models, then enqueue one job per (model, candidate
// endpoint). Callers gate on pending work before getting here.
func (s *Scheduler) trigger(ctx context.Context, channels []models.Channel, modelFilter map[uint64][]uint64, withSync bool) (Summary, error) {
	if err := s.store.ClearStop(ctx); err != nil {
		return Summary{}, fmt.Errorf("clear stop flag: %w", err)
	}

	summary := Summary{Channels: len(channels)}
	var jobs []queue.Job
	for _, channel := range channels {
		if withSync {
			if err := s.SyncChannelModels(ctx, channel); err != nil {
				log.WithError(err).WithField("channel", channel.Name).Warn("model sync failed")
			}
		}
		keys := models.SplitCredentials(channel.Credential)
		if len(keys) == 0 {
			log.WithField("channel", channel.Name).Warn("channel has no credential, skipped")
			continue
		}

		var channelModels []models.Model
		query := s.db.WithContext(ctx).Where("channel_id = ?", channel.ID)
		if allowed, ok := modelFilter[channel.ID]; ok && len(allowed) > 0 {
			query = query.Where("id IN ?", allowed)
		}
		if err := query.Find(&channelModels).Error; err != nil {
			return Summary{}, fmt.Errorf("list models for channel %d: %w", channel.ID, err)
		}

		for _, model := range channelModels {
			endpoints := adapter.EndpointsForModel(model.Name)
			if err := s.store.InitModelPending(ctx, model.ID, len(endpoints)); err != nil {
				return Summary{}, fmt.Errorf("init pending for model %d: %w", model.ID, err)
			}
			for _, endpoint := range endpoints {
				jobs = append(jobs, queue.Job{
					ID:          queue.NewJobID(channel.ID, model.ID, endpoint),
					ChannelID:   channel.ID,
					ChannelName: channel.Name,
					BaseURL:     channel.BaseURL,
					APIKey:      keys[0],
					ProxyURL:    s.proxyFor(channel),
					ModelID:     model.ID,
					ModelName:   model.Name,
					Endpoint:    endpoint,
				})
			}
			summary.Models++
		}
	}

	if err := s.store.Enqueue(ctx, jobs...); err != nil {
		return Summary{}, fmt.Errorf("enqueue jobs: %w", err)
	}
	summary.Jobs = len(jobs)
	return summary, nil
}

// proxyFor resolves the outbound proxy for a channel, falling back to
// the global proxy.
func (s *Scheduler) proxyFor(channel models.Channel) string {
	if channel.ProxyURL != "" {
		return channel.ProxyURL
	}
	return s.appCfg.GlobalProxy
}

// SyncChannelModels pulls the upstream model list and creates rows for
// models not yet known. Existing rows and their detection history are
// left untouched; models that disappeared upstream are kept.
func (s *Scheduler) SyncChannelModels(ctx context.Context, channel models.Channel) error {
	keys := models.SplitCredentials(channel.Credential)
	if len(keys) == 0 {
		return fmt.Errorf("channel %d has no credential", channel.ID)
	}
	listed, err := adapter.FetchModelList(ctx, s.client, channel.BaseURL, keys[0], s.proxyFor(channel))
	if err != nil {
		return err
	}
	listed = filterByKeyword(listed, channel.ModelKeyword)
	if len(listed) == 0 {
		return nil
	}

	var existing []models.Model
	if err := s.db.WithContext(ctx).Where("channel_id = ?", channel.ID).Find(&existing).Error; err != nil {
		return fmt.Errorf("list existing models: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, m := range existing {
		known[m.Name] = true
	}

	var created int
	for _, name := range listed {
		if known[name] {
			continue
		}
		row := models.Model{
			ChannelID:  channel.ID,
			Name:       name,
			LastStatus: models.ModelStatusUnknown,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("create model %q: %w", name, err)
		}
		created++
	}
	if created > 0 {
		log.WithFields(log.Fields{"channel": channel.Name, "created": created}).Info("model sync added models")
	}
	return nil
}

// filterByKeyword keeps model names containing any of the
// comma-separated keywords, case-insensitive. An empty keyword keeps
// everything.
func filterByKeyword(names []string, keyword string) []string {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return names
	}
	var keywords []string
	for _, k := range strings.Split(keyword, ",") {
		if trimmed := strings.TrimSpace(strings.ToLower(k)); trimmed != "" {
			keywords = append(keywords, trimmed)
		}
	}
	if len(keywords) == 0 {
		return names
	}
	var out []string
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
