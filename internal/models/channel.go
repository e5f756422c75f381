package models

import (
	"strings"
	"time"
)

// Channel is a named upstream inference provider.
type Channel struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"` // Primary key.

	Name         string `gorm:"type:varchar(191);not null" json:"name"` // Display name.
	BaseURL      string `gorm:"type:text;not null" json:"base_url"`     // Upstream base URL.
	Credential   string `gorm:"type:text;not null" json:"-"`            // Upstream API key(s), comma or newline separated.
	ProxyURL     string `gorm:"type:text" json:"proxy_url"`             // Optional per-channel outbound proxy.
	ModelKeyword string `gorm:"type:text" json:"model_keyword"`         // Optional keyword filter for model sync.
	Enabled      bool   `gorm:"not null;default:true;index" json:"enabled"`
	SortOrder    int    `gorm:"not null;default:0;index" json:"sort_order"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// SplitCredentials splits a channel credential into individual upstream
// keys. Keys are separated by commas or newlines; blanks are dropped.
func SplitCredentials(credential string) []string {
	fields := strings.FieldsFunc(credential, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}
