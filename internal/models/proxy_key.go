package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ProxyKey is a credential accepted at the gateway boundary.
type ProxyKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"` // Primary key.

	Name    string `gorm:"type:varchar(191);not null" json:"name"`       // Display name.
	Key     string `gorm:"type:varchar(191);not null;uniqueIndex" json:"key"` // Secret value.
	Enabled bool   `gorm:"not null;default:true" json:"enabled"`

	AllowAllModels    bool           `gorm:"not null;default:false" json:"allow_all_models"`
	AllowedChannelIDs datatypes.JSON `gorm:"type:jsonb" json:"allowed_channel_ids"`
	AllowedModelIDs   datatypes.JSON `gorm:"type:jsonb" json:"allowed_model_ids"`

	LastUsedAt *time.Time `json:"last_used_at"`
	UsageCount uint64     `gorm:"not null;default:0" json:"usage_count"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// ChannelIDList decodes the allowed channel id column.
func (k *ProxyKey) ChannelIDList() []uint64 { return decodeIDList(k.AllowedChannelIDs) }

// ModelIDList decodes the allowed model id column.
func (k *ProxyKey) ModelIDList() []uint64 { return decodeIDList(k.AllowedModelIDs) }

// Allows reports whether the key may target the (channel, model) pair.
// Empty allow-lists deny everything unless AllowAllModels is set.
func (k *ProxyKey) Allows(channelID, modelID uint64) bool {
	if k.AllowAllModels {
		return true
	}
	for _, id := range k.ChannelIDList() {
		if id == channelID {
			return true
		}
	}
	for _, id := range k.ModelIDList() {
		if id == modelID {
			return true
		}
	}
	return false
}

func decodeIDList(raw datatypes.JSON) []uint64 {
	if len(raw) == 0 {
		return nil
	}
	var out []uint64
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// EncodeIDList encodes an id slice for a JSON list column.
func EncodeIDList(ids []uint64) datatypes.JSON {
	if ids == nil {
		ids = []uint64{}
	}
	raw, _ := json.Marshal(ids)
	return datatypes.JSON(raw)
}
