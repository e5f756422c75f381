package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Model probe status values.
const (
	ModelStatusUnknown     = "unknown"     // Never probed.
	ModelStatusReachable   = "reachable"   // Last probe succeeded.
	ModelStatusUnreachable = "unreachable" // Last probe failed.
)

// Model is a (channel, model-name) pair known to the gateway.
type Model struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"` // Primary key.

	ChannelID uint64 `gorm:"not null;index;uniqueIndex:idx_channel_model,priority:1" json:"channel_id"`
	Name      string `gorm:"type:varchar(191);not null;uniqueIndex:idx_channel_model,priority:2" json:"name"`

	DetectedEndpoints datatypes.JSON `gorm:"type:jsonb" json:"detected_endpoints"` // Endpoint types confirmed reachable at least once.
	LastStatus        string         `gorm:"type:varchar(16);not null;default:'unknown'" json:"last_status"`
	LastLatencyMs     int64          `gorm:"not null;default:0" json:"last_latency_ms"`
	LastCheckedAt     *time.Time     `json:"last_checked_at"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// EndpointList decodes the detected-endpoints column.
func (m *Model) EndpointList() []string {
	if len(m.DetectedEndpoints) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(m.DetectedEndpoints, &out); err != nil {
		return nil
	}
	return out
}

// HasEndpoint reports whether the endpoint type was ever detected.
func (m *Model) HasEndpoint(endpoint string) bool {
	for _, e := range m.EndpointList() {
		if e == endpoint {
			return true
		}
	}
	return false
}

// WithEndpoint returns the endpoint list with the endpoint added, set
// semantics.
func (m *Model) WithEndpoint(endpoint string) datatypes.JSON {
	list := m.EndpointList()
	for _, e := range list {
		if e == endpoint {
			return m.DetectedEndpoints
		}
	}
	list = append(list, endpoint)
	raw, _ := json.Marshal(list)
	return datatypes.JSON(raw)
}
