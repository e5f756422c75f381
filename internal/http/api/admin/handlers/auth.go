package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/probegate/probegate/internal/security"
)

// AuthHandler manages admin session endpoints.
type AuthHandler struct {
	adminPassword string
	jwtSecret     string
	jwtExpiry     time.Duration
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(adminPassword, jwtSecret string, jwtExpiry time.Duration) *AuthHandler {
	return &AuthHandler{adminPassword: adminPassword, jwtSecret: jwtSecret, jwtExpiry: jwtExpiry}
}

// Login exchanges the admin password for a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var body struct {
		Password string `json:"password"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !security.CheckPassword(h.adminPassword, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}
	token, errIssue := security.IssueToken(h.jwtSecret, h.jwtExpiry)
	if errIssue != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(h.jwtExpiry.Seconds()),
	})
}
