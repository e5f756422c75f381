// Package webdav mirrors the channel list to a WebDAV share and pulls
// it back, so several deployments can share one channel catalog. It
// also owns the yaml exchange format used by channel import/export.
package webdav

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/studio-b12/gowebdav"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/probegate/probegate/internal/models"
)

// MirrorFile is the fixed object name on the share.
const MirrorFile = "channels.yaml"

// ChannelSpec is one channel in the yaml exchange format.
type ChannelSpec struct {
	Name         string `yaml:"name" json:"name"`
	BaseURL      string `yaml:"base_url" json:"base_url"`
	Credential   string `yaml:"credential" json:"credential"`
	ProxyURL     string `yaml:"proxy_url,omitempty" json:"proxy_url,omitempty"`
	ModelKeyword string `yaml:"model_keyword,omitempty" json:"model_keyword,omitempty"`
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	SortOrder    int    `yaml:"sort_order" json:"sort_order"`
}

type channelFile struct {
	Channels []ChannelSpec `yaml:"channels"`
}

// EncodeChannels serializes channels into the yaml exchange format.
func EncodeChannels(channels []models.Channel) ([]byte, error) {
	file := channelFile{Channels: make([]ChannelSpec, 0, len(channels))}
	for _, c := range channels {
		file.Channels = append(file.Channels, ChannelSpec{
			Name:         c.Name,
			BaseURL:      c.BaseURL,
			Credential:   c.Credential,
			ProxyURL:     c.ProxyURL,
			ModelKeyword: c.ModelKeyword,
			Enabled:      c.Enabled,
			SortOrder:    c.SortOrder,
		})
	}
	return yaml.Marshal(file)
}

// DecodeChannels parses the yaml exchange format.
func DecodeChannels(raw []byte) ([]ChannelSpec, error) {
	var file channelFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse channel file: %w", err)
	}
	for i, c := range file.Channels {
		if c.Name == "" || c.BaseURL == "" {
			return nil, fmt.Errorf("channel %d: name and base_url are required", i)
		}
	}
	return file.Channels, nil
}

// Reconcile merges channel specs into the database. Channels are keyed
// by (base_url, credential): unknown pairs are created, known pairs
// left alone so local edits survive a pull. Returns how many were
// created.
func Reconcile(db *gorm.DB, specs []ChannelSpec) (int, error) {
	var existing []models.Channel
	if err := db.Find(&existing).Error; err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c.BaseURL+"\x00"+c.Credential] = true
	}

	var created int
	for _, spec := range specs {
		if known[spec.BaseURL+"\x00"+spec.Credential] {
			continue
		}
		channel := models.Channel{
			Name:         spec.Name,
			BaseURL:      spec.BaseURL,
			Credential:   spec.Credential,
			ProxyURL:     spec.ProxyURL,
			ModelKeyword: spec.ModelKeyword,
			Enabled:      spec.Enabled,
			SortOrder:    spec.SortOrder,
		}
		if err := db.Create(&channel).Error; err != nil {
			return created, fmt.Errorf("create channel %q: %w", spec.Name, err)
		}
		created++
	}
	return created, nil
}

// Mirror pushes and pulls the channel list against a WebDAV share.
type Mirror struct {
	client *gowebdav.Client
	db     *gorm.DB
}

// NewMirror constructs a Mirror, or nil when no share is configured.
func NewMirror(db *gorm.DB, url, username, password string) *Mirror {
	if url == "" {
		return nil
	}
	return &Mirror{client: gowebdav.NewClient(url, username, password), db: db}
}

// Push uploads the current channel list to the share.
func (m *Mirror) Push() error {
	var channels []models.Channel
	if err := m.db.Find(&channels).Error; err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	raw, err := EncodeChannels(channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	if err := m.client.Write(MirrorFile, raw, 0644); err != nil {
		return fmt.Errorf("webdav write: %w", err)
	}
	log.WithField("channels", len(channels)).Info("channel list pushed to webdav")
	return nil
}

var errMirrorEmpty = errors.New("mirror file is empty")

// Pull downloads the shared channel list and reconciles it into the
// database. Returns how many channels were created.
func (m *Mirror) Pull() (int, error) {
	raw, err := m.client.Read(MirrorFile)
	if err != nil {
		return 0, fmt.Errorf("webdav read: %w", err)
	}
	if len(raw) == 0 {
		return 0, errMirrorEmpty
	}
	specs, err := DecodeChannels(raw)
	if err != nil {
		return 0, err
	}
	created, err := Reconcile(m.db, specs)
	if err != nil {
		return created, err
	}
	log.WithField("created", created).Info("channel list pulled from webdav")
	return created, nil
}
