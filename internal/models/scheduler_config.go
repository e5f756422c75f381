package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SchedulerConfig is the singleton detection schedule configuration.
type SchedulerConfig struct {
	ID uint64 `gorm:"primaryKey" json:"id"` // Always 1.

	Enabled  bool   `gorm:"not null;default:false" json:"enabled"`
	CronExpr string `gorm:"type:varchar(64);not null" json:"cron_expr"`
	Timezone string `gorm:"type:varchar(64);not null;default:'UTC'" json:"timezone"`

	ChannelConcurrency int `gorm:"not null;default:5" json:"channel_concurrency"`
	GlobalConcurrency  int `gorm:"not null;default:30" json:"global_concurrency"`
	MinDelayMs         int `gorm:"not null;default:3000" json:"min_delay_ms"`
	MaxDelayMs         int `gorm:"not null;default:5000" json:"max_delay_ms"`

	ProbeAllChannels   bool           `gorm:"not null;default:true" json:"probe_all_channels"`
	SelectedChannelIDs datatypes.JSON `gorm:"type:jsonb" json:"selected_channel_ids"`
	SelectedModelIDs   datatypes.JSON `gorm:"type:jsonb" json:"selected_model_ids"` // Keyed by channel id.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// SchedulerConfigID is the fixed primary key of the singleton row.
const SchedulerConfigID = 1

// SelectedChannels decodes the selected channel id column.
func (c *SchedulerConfig) SelectedChannels() []uint64 {
	return decodeIDList(c.SelectedChannelIDs)
}

// EncodeIDMap encodes a channel-to-model-ids map for a JSON column.
func EncodeIDMap(m map[uint64][]uint64) datatypes.JSON {
	if m == nil {
		m = map[uint64][]uint64{}
	}
	raw, _ := json.Marshal(m)
	return datatypes.JSON(raw)
}

// SelectedModels decodes the per-channel selected model ids.
func (c *SchedulerConfig) SelectedModels() map[uint64][]uint64 {
	if len(c.SelectedModelIDs) == 0 {
		return nil
	}
	var out map[uint64][]uint64
	if err := json.Unmarshal(c.SelectedModelIDs, &out); err != nil {
		return nil
	}
	return out
}
