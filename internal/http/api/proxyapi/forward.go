package proxyapi

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/probegate/probegate/internal/adapter"
	"github.com/probegate/probegate/internal/gateway"
	"github.com/probegate/probegate/internal/transport"
)

// maxErrorBody caps upstream error bodies read into the envelope.
const maxErrorBody = 1 << 20

// forwardIdleTimeout aborts a relay whose upstream goes silent.
var forwardIdleTimeout = transport.ForwardIdleTimeout

// forwardJSON handles the endpoints whose model lives in the JSON
// body: the body goes upstream byte for byte except for the model
// rewrite that strips the channel prefix.
func (h *ProxyHandler) forwardJSON(c *gin.Context, path string) {
	key, ok := h.authenticate(c)
	if !ok {
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}
	requested := requestedModel(body)
	if requested == "" {
		writeProxyError(c, http.StatusBadRequest, "missing model field")
		return
	}

	route, errRoute := h.router.Resolve(c.Request.Context(), requested, key)
	if errRoute != nil {
		writeRouteMiss(c)
		return
	}
	if route.UpstreamModel != requested {
		rewritten, errSet := sjson.SetBytes(body, "model", route.UpstreamModel)
		if errSet != nil {
			writeProxyError(c, http.StatusInternalServerError, "model rewrite failed")
			return
		}
		body = rewritten
	}

	h.forward(c, route, path, body, h.upstreamHeaders(c, path, route))
}

// Gemini handles the path-addressed Gemini endpoints, e.g.
// /v1beta/models/gemini-2.0-flash:generateContent.
func (h *ProxyHandler) Gemini(c *gin.Context) {
	key, ok := h.authenticate(c)
	if !ok {
		return
	}
	modelName, action, ok := parseGeminiAction(c.Param("action"))
	if !ok {
		writeProxyError(c, http.StatusBadRequest, "malformed model action")
		return
	}
	body, okRead := readBody(c)
	if !okRead {
		return
	}

	route, errRoute := h.router.Resolve(c.Request.Context(), modelName, key)
	if errRoute != nil {
		writeRouteMiss(c)
		return
	}

	path := "/v1beta/models/" + route.UpstreamModel + ":" + action
	if alt := c.Query("alt"); alt != "" {
		path += "?alt=" + alt
	}
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	h.withCredential(c, route, headers, func(upstreamKey string) {
		headers["x-goog-api-key"] = upstreamKey
	})
	h.forward(c, route, path, body, headers)
}

// parseGeminiAction splits the wildcard "/<model>:<action>" segment.
func parseGeminiAction(raw string) (model, action string, ok bool) {
	raw = strings.TrimPrefix(raw, "/")
	model, action, found := strings.Cut(raw, ":")
	if !found || model == "" || action == "" {
		return "", "", false
	}
	return model, action, true
}

// upstreamHeaders builds the credentialed header set for a JSON-body
// endpoint, matching the dialect the path implies.
func (h *ProxyHandler) upstreamHeaders(c *gin.Context, path string, route *gateway.Route) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	h.withCredential(c, route, headers, func(upstreamKey string) {
		if path == adapter.PathClaude {
			headers["x-api-key"] = upstreamKey
			version := c.GetHeader("anthropic-version")
			if version == "" {
				version = adapter.AnthropicVersion
			}
			headers["anthropic-version"] = version
			if beta := c.GetHeader("anthropic-beta"); beta != "" {
				headers["anthropic-beta"] = beta
			}
			return
		}
		headers["Authorization"] = "Bearer " + upstreamKey
	})
	return headers
}

// withCredential resolves the rotating upstream key and hands it to
// the header writer.
func (h *ProxyHandler) withCredential(c *gin.Context, route *gateway.Route, headers map[string]string, apply func(string)) {
	upstreamKey, errKey := h.router.NextCredential(c.Request.Context(), route.Channel)
	if errKey != nil {
		log.WithError(errKey).WithField("channel", route.Channel.Name).Warn("credential selection failed")
		return
	}
	apply(upstreamKey)
}

// forward sends the request upstream and relays the response. Bodies
// stream back unbuffered so SSE responses arrive as they are
// produced; cancelling the client request or an idle upstream aborts
// the call.
func (h *ProxyHandler) forward(c *gin.Context, route *gateway.Route, path string, body []byte, headers map[string]string) {
	proxyURL := route.Channel.ProxyURL
	if proxyURL == "" {
		proxyURL = h.globalProxy
	}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	resp, errDo := h.client.Do(ctx, transport.Request{
		Method:   http.MethodPost,
		URL:      adapter.NormalizeBaseURL(route.Channel.BaseURL) + path,
		Headers:  headers,
		Body:     body,
		ProxyURL: proxyURL,
	})
	if errDo != nil {
		writeProxyError(c, http.StatusBadGateway, errDo.Error())
		return
	}
	upstream := transport.WithIdleTimeout(resp.Body, forwardIdleTimeout, cancel)
	defer upstream.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(upstream, maxErrorBody))
		message, bad := adapter.BodyError(raw)
		if !bad {
			message = strings.TrimSpace(string(raw))
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		writeProxyError(c, resp.StatusCode, message)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Header("Content-Type", contentType)
	if isStreamingRequest(path, body) || strings.HasPrefix(contentType, "text/event-stream") {
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
	}
	c.Status(resp.StatusCode)

	relay(c.Writer, upstream)
}

// isStreamingRequest reports whether the caller asked for a streamed
// reply. Gemini streams chunked JSON without an SSE content type, so
// the request decides, not the response headers.
func isStreamingRequest(path string, body []byte) bool {
	if strings.Contains(path, ":streamGenerateContent") {
		return true
	}
	return gjson.GetBytes(body, "stream").Bool()
}

// relay copies the upstream body to the client, flushing after every
// chunk so streamed tokens are not held back.
func relay(w gin.ResponseWriter, body io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, errRead := body.Read(buf)
		if n > 0 {
			if _, errWrite := w.Write(buf[:n]); errWrite != nil {
				return
			}
			w.Flush()
		}
		if errRead != nil {
			return
		}
	}
}
