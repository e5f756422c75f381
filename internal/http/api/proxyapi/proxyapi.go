// Package proxyapi registers the gateway data plane: the upstream-
// compatible inference endpoints that route by model name and forward
// bodies untouched except for the model rewrite.
package proxyapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/probegate/probegate/internal/adapter"
	"github.com/probegate/probegate/internal/gateway"
	"github.com/probegate/probegate/internal/models"
	"github.com/probegate/probegate/internal/transport"
)

// maxRequestBody caps inbound request bodies.
const maxRequestBody = 32 << 20

// ProxyHandler serves the inference passthrough endpoints.
type ProxyHandler struct {
	keys   *gateway.KeyService
	router *gateway.Router
	client *transport.Client

	// globalProxy is applied when the channel has no proxy of its own.
	globalProxy string
}

// NewProxyHandler constructs a ProxyHandler.
func NewProxyHandler(keys *gateway.KeyService, router *gateway.Router, client *transport.Client, globalProxy string) *ProxyHandler {
	return &ProxyHandler{keys: keys, router: router, client: client, globalProxy: globalProxy}
}

// RegisterProxyRoutes registers the data plane routes.
func RegisterProxyRoutes(r *gin.Engine, h *ProxyHandler) {
	if r == nil || h == nil {
		return
	}
	r.POST("/v1/chat/completions", h.ChatCompletions)
	r.POST("/v1/messages", h.Messages)
	r.POST("/v1/responses", h.Responses)
	r.POST("/v1beta/models/*action", h.Gemini)
	r.GET("/v1/models", h.ListModels)
}

// ChatCompletions forwards OpenAI-style chat requests.
func (h *ProxyHandler) ChatCompletions(c *gin.Context) {
	h.forwardJSON(c, adapter.PathChat)
}

// Messages forwards Anthropic-style message requests.
func (h *ProxyHandler) Messages(c *gin.Context) {
	h.forwardJSON(c, adapter.PathClaude)
}

// Responses forwards OpenAI responses-API requests.
func (h *ProxyHandler) Responses(c *gin.Context) {
	h.forwardJSON(c, adapter.PathCodex)
}

// ListModels returns the model catalog visible to the caller's key.
func (h *ProxyHandler) ListModels(c *gin.Context) {
	key, ok := h.authenticate(c)
	if !ok {
		return
	}
	entries, errList := h.router.ListModels(c.Request.Context(), key)
	if errList != nil {
		writeProxyError(c, http.StatusInternalServerError, "model listing failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": entries})
}

// authenticate resolves the caller's proxy key, replying 401 on
// failure.
func (h *ProxyHandler) authenticate(c *gin.Context) (*models.ProxyKey, bool) {
	raw := gateway.ExtractKey(c.Request)
	key, errResolve := h.keys.Resolve(c.Request.Context(), raw)
	if errResolve != nil {
		message := "invalid api key"
		if errors.Is(errResolve, gateway.ErrNoKey) {
			message = "missing api key"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
			"message": message,
			"type":    "authentication_error",
		}})
		return nil, false
	}
	return key, true
}

// readBody drains the inbound request body under the size cap.
func readBody(c *gin.Context) ([]byte, bool) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if errRead != nil {
		writeProxyError(c, http.StatusBadRequest, "read request body failed")
		return nil, false
	}
	return body, true
}

// requestedModel extracts the model field from a JSON request body.
func requestedModel(body []byte) string {
	return strings.TrimSpace(gjson.GetBytes(body, "model").String())
}

// writeProxyError emits the gateway error envelope.
func writeProxyError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": gin.H{
		"message": message,
		"type":    "proxy_error",
	}})
}

// writeRouteMiss replies 404 for unknown and denied models alike.
func writeRouteMiss(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
		"message": "model not found",
		"type":    "invalid_request_error",
	}})
}
