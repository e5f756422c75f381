package models

import "time"

// Probe outcome status values.
const (
	ProbeStatusSuccess = "SUCCESS"
	ProbeStatusFail    = "FAIL"
)

// ProbeLog records the outcome of a single probe. Rows are append-only
// and purged by the retention job.
type ProbeLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"` // Primary key.

	ModelID        uint64 `gorm:"not null;index:idx_probe_model_created,priority:1" json:"model_id"`
	EndpointType   string `gorm:"type:varchar(16);not null" json:"endpoint_type"`
	Status         string `gorm:"type:varchar(16);not null" json:"status"`
	LatencyMs      int64  `gorm:"not null;default:0" json:"latency_ms"`
	UpstreamStatus int    `gorm:"not null;default:0" json:"upstream_status"`
	ErrorMessage   string `gorm:"type:text" json:"error_message"`   // Truncated diagnostic.
	ResponseText   string `gorm:"type:text" json:"response_text"`   // Truncated response preview.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index;index:idx_probe_model_created,priority:2" json:"created_at"`
}
