package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/probegate/probegate/internal/models"
)

// Listing page sizes.
const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ListingHandler serves the admin model and probe log views.
type ListingHandler struct {
	db *gorm.DB
}

// NewListingHandler constructs a ListingHandler.
func NewListingHandler(db *gorm.DB) *ListingHandler {
	return &ListingHandler{db: db}
}

// Models lists detected models, optionally filtered by channel or
// status.
func (h *ListingHandler) Models(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Model(&models.Model{})
	if channelID := strings.TrimSpace(c.Query("channel_id")); channelID != "" {
		id, errParse := strconv.ParseUint(channelID, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel_id"})
			return
		}
		query = query.Where("channel_id = ?", id)
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("last_status = ?", status)
	}

	var rows []models.Model
	if errFind := query.Order("channel_id ASC, name ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list models failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": rows})
}

// Logs lists probe logs newest first with paging and optional model,
// status, and endpoint filters.
func (h *ListingHandler) Logs(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Model(&models.ProbeLog{})
	if modelID := strings.TrimSpace(c.Query("model_id")); modelID != "" {
		id, errParse := strconv.ParseUint(modelID, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid model_id"})
			return
		}
		query = query.Where("model_id = ?", id)
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	if endpoint := strings.TrimSpace(c.Query("endpoint")); endpoint != "" {
		query = query.Where("endpoint_type = ?", endpoint)
	}

	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	size := queryInt(c, "page_size", defaultPageSize)
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count logs failed"})
		return
	}
	var rows []models.ProbeLog
	if errFind := query.Order("created_at DESC, id DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list logs failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":      rows,
		"total":     total,
		"page":      page,
		"page_size": size,
	})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback
	}
	v, errParse := strconv.Atoi(raw)
	if errParse != nil {
		return fallback
	}
	return v
}
