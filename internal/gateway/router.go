package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/probegate/probegate/internal/db"
	"github.com/probegate/probegate/internal/models"
)

// ErrNoRoute means no permitted (channel, model) pair matched the
// requested model name.
var ErrNoRoute = errors.New("no route for model")

// keyChannelCursor is the round-robin credential cursor per channel.
const keyChannelCursor = "channel:rr:%d"

// Route is a resolved upstream target.
type Route struct {
	Channel models.Channel
	Model   models.Model
	// UpstreamModel is the model name sent upstream, with any channel
	// prefix stripped.
	UpstreamModel string
}

// Router resolves requested model names to upstream channels.
type Router struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewRouter constructs a Router.
func NewRouter(db *gorm.DB, rdb *redis.Client) *Router {
	return &Router{db: db, rdb: rdb}
}

// Resolve maps a requested model name to a route the key may use.
// "channel/model" pins the channel by name; a bare model name matches
// the first enabled channel carrying it, ordered by sort order, then
// channel name, then id. Denied and unmatched requests are
// indistinguishable: both return ErrNoRoute.
func (r *Router) Resolve(ctx context.Context, requested string, key *models.ProxyKey) (*Route, error) {
	channelName, modelName := splitModelRef(requested)

	query := r.db.WithContext(ctx).Where("enabled = ?", true)
	if channelName != "" {
		query = query.Where("name = ?", channelName)
	}
	var channels []models.Channel
	if err := query.Order("sort_order ASC, name ASC, id ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	for _, channel := range channels {
		var model models.Model
		err := r.db.WithContext(ctx).
			Where("channel_id = ? AND name = ?", channel.ID, modelName).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup model: %w", err)
		}
		if !key.Allows(channel.ID, model.ID) {
			continue
		}
		return &Route{Channel: channel, Model: model, UpstreamModel: modelName}, nil
	}
	return nil, ErrNoRoute
}

// splitModelRef splits an optional "channel/model" reference at the
// first slash. A slash always makes the first segment a channel name;
// an unknown prefix yields no route rather than a retry of the bare
// name.
func splitModelRef(requested string) (channel, model string) {
	if i := strings.Index(requested, "/"); i > 0 {
		return requested[:i], requested[i+1:]
	}
	return "", requested
}

// NextCredential picks the upstream key for a request. Channels with
// multiple keys rotate through them with a shared redis cursor so all
// replicas participate in the same rotation.
func (r *Router) NextCredential(ctx context.Context, channel models.Channel) (string, error) {
	keys := models.SplitCredentials(channel.Credential)
	if len(keys) == 0 {
		return "", fmt.Errorf("channel %d has no credential", channel.ID)
	}
	if len(keys) == 1 {
		return keys[0], nil
	}
	n, err := r.rdb.Incr(ctx, fmt.Sprintf(keyChannelCursor, channel.ID)).Result()
	if err != nil {
		// Redis unavailability degrades to the first key rather than
		// failing the request.
		return keys[0], nil
	}
	return keys[(n-1)%int64(len(keys))], nil
}

// InvalidateCursor resets a channel's rotation cursor. Called when the
// channel's credential list changes.
func (r *Router) InvalidateCursor(ctx context.Context, channelID uint64) error {
	return r.rdb.Del(ctx, fmt.Sprintf(keyChannelCursor, channelID)).Err()
}

// ModelEntry is one row of the /v1/models listing.
type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModels returns the "channel/model" catalog visible to a key:
// models on enabled channels with at least one detected endpoint, in
// routing order.
func (r *Router) ListModels(ctx context.Context, key *models.ProxyKey) ([]ModelEntry, error) {
	var channels []models.Channel
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).
		Order("sort_order ASC, name ASC, id ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	entries := make([]ModelEntry, 0)
	for _, channel := range channels {
		var channelModels []models.Model
		if err := r.db.WithContext(ctx).
			Where("channel_id = ?", channel.ID).
			Where(db.JSONArrayNotEmptyExpr(r.db, "detected_endpoints")).
			Order("name ASC").Find(&channelModels).Error; err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		for _, model := range channelModels {
			if !key.Allows(channel.ID, model.ID) {
				continue
			}
			entries = append(entries, ModelEntry{
				ID:      channel.Name + "/" + model.Name,
				Object:  "model",
				Created: 0,
				OwnedBy: channel.Name,
			})
		}
	}
	return entries, nil
}
