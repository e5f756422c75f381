package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/probegate/probegate/internal/models"
	"github.com/probegate/probegate/internal/security"
)

// ProxyKeyHandler manages gateway proxy key endpoints.
type ProxyKeyHandler struct {
	db *gorm.DB
}

// NewProxyKeyHandler constructs a ProxyKeyHandler.
func NewProxyKeyHandler(db *gorm.DB) *ProxyKeyHandler {
	return &ProxyKeyHandler{db: db}
}

type proxyKeyBody struct {
	Name              string   `json:"name"`
	Enabled           *bool    `json:"enabled"`
	AllowAllModels    *bool    `json:"allow_all_models"`
	AllowedChannelIDs []uint64 `json:"allowed_channel_ids"`
	AllowedModelIDs   []uint64 `json:"allowed_model_ids"`
}

// Create issues a new proxy key. The secret is generated server side
// and returned once in full.
func (h *ProxyKeyHandler) Create(c *gin.Context) {
	var body proxyKeyBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	secret, errGenerate := security.GenerateProxyKey()
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate key failed"})
		return
	}
	row := models.ProxyKey{
		Name:              name,
		Key:               secret,
		Enabled:           true,
		AllowedChannelIDs: models.EncodeIDList(body.AllowedChannelIDs),
		AllowedModelIDs:   models.EncodeIDList(body.AllowedModelIDs),
	}
	if body.Enabled != nil {
		row.Enabled = *body.Enabled
	}
	if body.AllowAllModels != nil {
		row.AllowAllModels = *body.AllowAllModels
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create proxy key failed"})
		return
	}
	c.JSON(http.StatusCreated, row)
}

// List returns all proxy keys.
func (h *ProxyKeyHandler) List(c *gin.Context) {
	var rows []models.ProxyKey
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("created_at DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list proxy keys failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proxy_keys": rows})
}

// Update modifies a proxy key's name, state, or permissions. The
// secret itself never changes here; use Regenerate.
func (h *ProxyKeyHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var row models.ProxyKey
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proxy key not found"})
		return
	}
	var body proxyKeyBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if name := strings.TrimSpace(body.Name); name != "" {
		row.Name = name
	}
	if body.Enabled != nil {
		row.Enabled = *body.Enabled
	}
	if body.AllowAllModels != nil {
		row.AllowAllModels = *body.AllowAllModels
	}
	if body.AllowedChannelIDs != nil {
		row.AllowedChannelIDs = models.EncodeIDList(body.AllowedChannelIDs)
	}
	if body.AllowedModelIDs != nil {
		row.AllowedModelIDs = models.EncodeIDList(body.AllowedModelIDs)
	}
	if errSave := h.db.WithContext(c.Request.Context()).Save(&row).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update proxy key failed"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// Delete removes a proxy key.
func (h *ProxyKeyHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if errDelete := h.db.WithContext(c.Request.Context()).
		Delete(&models.ProxyKey{}, id).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete proxy key failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// Regenerate replaces the secret of an existing key, invalidating the
// old value immediately.
func (h *ProxyKeyHandler) Regenerate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var row models.ProxyKey
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proxy key not found"})
		return
	}
	secret, errGenerate := security.GenerateProxyKey()
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate key failed"})
		return
	}
	row.Key = secret
	if errSave := h.db.WithContext(c.Request.Context()).Save(&row).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "regenerate proxy key failed"})
		return
	}
	c.JSON(http.StatusOK, row)
}
