// Package admin registers the authenticated control plane API.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/probegate/probegate/internal/config"
	"github.com/probegate/probegate/internal/gateway"
	handlers "github.com/probegate/probegate/internal/http/api/admin/handlers"
	"github.com/probegate/probegate/internal/progress"
	"github.com/probegate/probegate/internal/queue"
	"github.com/probegate/probegate/internal/scheduler"
	"github.com/probegate/probegate/internal/security"
	"github.com/probegate/probegate/internal/webdav"
)

// Deps carries everything the admin API needs.
type Deps struct {
	DB        *gorm.DB
	Store     *queue.Store
	Bus       *progress.Bus
	Scheduler *scheduler.Scheduler
	Router    *gateway.Router
	Mirror    *webdav.Mirror
	Config    config.AppConfig
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	api := r.Group("/api")

	authHandler := handlers.NewAuthHandler(deps.Config.AdminPassword, deps.Config.JWTSecret, deps.Config.JWTExpiry)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(adminAuthMiddleware(deps.Config.JWTSecret))

	channelHandler := handlers.NewChannelHandler(deps.DB, deps.Router, deps.Scheduler, deps.Mirror)
	authed.POST("/channels", channelHandler.Create)
	authed.GET("/channels", channelHandler.List)
	authed.GET("/channels/export", channelHandler.Export)
	authed.POST("/channels/import", channelHandler.Import)
	authed.POST("/channels/mirror/push", channelHandler.MirrorPush)
	authed.POST("/channels/mirror/pull", channelHandler.MirrorPull)
	authed.GET("/channels/:id", channelHandler.Get)
	authed.PUT("/channels/:id", channelHandler.Update)
	authed.DELETE("/channels/:id", channelHandler.Delete)
	authed.POST("/channels/:id/sync", channelHandler.Sync)

	proxyKeyHandler := handlers.NewProxyKeyHandler(deps.DB)
	authed.POST("/proxy-keys", proxyKeyHandler.Create)
	authed.GET("/proxy-keys", proxyKeyHandler.List)
	authed.PUT("/proxy-keys/:id", proxyKeyHandler.Update)
	authed.DELETE("/proxy-keys/:id", proxyKeyHandler.Delete)
	authed.POST("/proxy-keys/:id/regenerate", proxyKeyHandler.Regenerate)

	detectHandler := handlers.NewDetectHandler(deps.Scheduler, deps.Store)
	authed.POST("/detect", detectHandler.Start)
	authed.GET("/detect", detectHandler.Status)
	authed.DELETE("/detect", detectHandler.Stop)

	schedulerHandler := handlers.NewSchedulerHandler(deps.Scheduler)
	authed.GET("/scheduler/config", schedulerHandler.Get)
	authed.PUT("/scheduler/config", schedulerHandler.Update)

	sseHandler := handlers.NewSSEHandler(deps.Bus)
	authed.GET("/sse/progress", sseHandler.Progress)

	listingHandler := handlers.NewListingHandler(deps.DB)
	authed.GET("/models", listingHandler.Models)
	authed.GET("/logs", listingHandler.Logs)
}

// adminAuthMiddleware validates admin JWTs. The SSE endpoint also
// accepts the token as a query parameter because EventSource cannot
// set headers.
func adminAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			trimmed := strings.TrimPrefix(authHeader, "Bearer ")
			if trimmed == authHeader {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
				return
			}
			token = strings.TrimSpace(trimmed)
		} else {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		if _, errJWT := security.ParseToken(jwtSecret, token); errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
