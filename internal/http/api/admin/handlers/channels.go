package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/probegate/probegate/internal/gateway"
	"github.com/probegate/probegate/internal/models"
	"github.com/probegate/probegate/internal/scheduler"
	"github.com/probegate/probegate/internal/webdav"
)

// ChannelHandler manages upstream channel endpoints.
type ChannelHandler struct {
	db        *gorm.DB
	router    *gateway.Router
	scheduler *scheduler.Scheduler
	mirror    *webdav.Mirror
}

// NewChannelHandler constructs a ChannelHandler. mirror may be nil
// when no WebDAV share is configured.
func NewChannelHandler(db *gorm.DB, router *gateway.Router, sched *scheduler.Scheduler, mirror *webdav.Mirror) *ChannelHandler {
	return &ChannelHandler{db: db, router: router, scheduler: sched, mirror: mirror}
}

type channelBody struct {
	Name         string `json:"name"`
	BaseURL      string `json:"base_url"`
	Credential   string `json:"credential"`
	ProxyURL     string `json:"proxy_url"`
	ModelKeyword string `json:"model_keyword"`
	Enabled      *bool  `json:"enabled"`
	SortOrder    *int   `json:"sort_order"`
}

// Create registers a new upstream channel.
func (h *ChannelHandler) Create(c *gin.Context) {
	var body channelBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	baseURL := strings.TrimSpace(body.BaseURL)
	if name == "" || baseURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name or base_url"})
		return
	}
	if strings.Contains(name, "/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel name must not contain '/'"})
		return
	}
	row := models.Channel{
		Name:         name,
		BaseURL:      baseURL,
		Credential:   strings.TrimSpace(body.Credential),
		ProxyURL:     strings.TrimSpace(body.ProxyURL),
		ModelKeyword: strings.TrimSpace(body.ModelKeyword),
		Enabled:      true,
	}
	if body.Enabled != nil {
		row.Enabled = *body.Enabled
	}
	if body.SortOrder != nil {
		row.SortOrder = *body.SortOrder
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create channel failed"})
		return
	}
	h.mirrorAsync()
	c.JSON(http.StatusCreated, row)
}

// List returns all channels in routing order.
func (h *ChannelHandler) List(c *gin.Context) {
	var rows []models.Channel
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("sort_order ASC, name ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list channels failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": rows})
}

// Get returns one channel.
func (h *ChannelHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var row models.Channel
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// Update modifies a channel. A credential change resets the
// round-robin cursor so rotation restarts over the new key list.
func (h *ChannelHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var row models.Channel
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	var body channelBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	credentialChanged := false
	if name := strings.TrimSpace(body.Name); name != "" {
		if strings.Contains(name, "/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel name must not contain '/'"})
			return
		}
		row.Name = name
	}
	if baseURL := strings.TrimSpace(body.BaseURL); baseURL != "" {
		row.BaseURL = baseURL
	}
	if body.Credential != "" {
		credential := strings.TrimSpace(body.Credential)
		if credential != row.Credential {
			row.Credential = credential
			credentialChanged = true
		}
	}
	row.ProxyURL = strings.TrimSpace(body.ProxyURL)
	row.ModelKeyword = strings.TrimSpace(body.ModelKeyword)
	if body.Enabled != nil {
		row.Enabled = *body.Enabled
	}
	if body.SortOrder != nil {
		row.SortOrder = *body.SortOrder
	}

	if errSave := h.db.WithContext(c.Request.Context()).Save(&row).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update channel failed"})
		return
	}
	if credentialChanged {
		_ = h.router.InvalidateCursor(c.Request.Context(), row.ID)
	}
	h.mirrorAsync()
	c.JSON(http.StatusOK, row)
}

// Delete removes a channel along with its models and probe logs.
func (h *ChannelHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var modelIDs []uint64
		if errList := tx.Model(&models.Model{}).Where("channel_id = ?", id).
			Pluck("id", &modelIDs).Error; errList != nil {
			return errList
		}
		if len(modelIDs) > 0 {
			if errLogs := tx.Where("model_id IN ?", modelIDs).
				Delete(&models.ProbeLog{}).Error; errLogs != nil {
				return errLogs
			}
		}
		if errModels := tx.Where("channel_id = ?", id).Delete(&models.Model{}).Error; errModels != nil {
			return errModels
		}
		return tx.Delete(&models.Channel{}, id).Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete channel failed"})
		return
	}
	_ = h.router.InvalidateCursor(ctx, id)
	h.mirrorAsync()
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// Sync pulls the upstream model list for one channel.
func (h *ChannelHandler) Sync(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var row models.Channel
	if errFind := h.db.WithContext(ctx).First(&row, id).Error; errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	if errSync := h.scheduler.SyncChannelModels(ctx, row); errSync != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": errSync.Error()})
		return
	}
	var count int64
	if errCount := h.db.WithContext(ctx).Model(&models.Model{}).
		Where("channel_id = ?", id).Count(&count).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count models failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel_id": id, "models": count})
}

// Export downloads the channel list in the yaml exchange format.
func (h *ChannelHandler) Export(c *gin.Context) {
	var rows []models.Channel
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("sort_order ASC, name ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list channels failed"})
		return
	}
	raw, errEncode := webdav.EncodeChannels(rows)
	if errEncode != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode channels failed"})
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+webdav.MirrorFile)
	c.Data(http.StatusOK, "application/yaml", raw)
}

// Import merges a yaml channel list into the database.
func (h *ChannelHandler) Import(c *gin.Context) {
	raw, errRead := c.GetRawData()
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	specs, errDecode := webdav.DecodeChannels(raw)
	if errDecode != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errDecode.Error()})
		return
	}
	created, errReconcile := webdav.Reconcile(h.db.WithContext(c.Request.Context()), specs)
	if errReconcile != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import channels failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created, "received": len(specs)})
}

// MirrorPush uploads the channel list to the WebDAV share.
func (h *ChannelHandler) MirrorPush(c *gin.Context) {
	if h.mirror == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "webdav mirror not configured"})
		return
	}
	if errPush := h.mirror.Push(); errPush != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": errPush.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pushed": true})
}

// MirrorPull downloads and reconciles the shared channel list.
func (h *ChannelHandler) MirrorPull(c *gin.Context) {
	if h.mirror == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "webdav mirror not configured"})
		return
	}
	created, errPull := h.mirror.Pull()
	if errPull != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": errPull.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": created})
}

// mirrorAsync uploads the channel list to the WebDAV share in the
// background after a write. Failures are logged, not surfaced: the
// mirror is a backup, not part of the write path.
func (h *ChannelHandler) mirrorAsync() {
	if h.mirror == nil {
		return
	}
	go func() {
		if errPush := h.mirror.Push(); errPush != nil {
			log.WithError(errPush).Warn("webdav mirror push failed")
		}
	}()
}

// parseID reads the :id route parameter, replying 400 on garbage.
func parseID(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
