// Package adapter builds probe requests and parses probe responses for
// each supported upstream protocol.
package adapter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Endpoint types understood by the gateway.
const (
	EndpointChat   = "CHAT"
	EndpointClaude = "CLAUDE"
	EndpointGemini = "GEMINI"
	EndpointCodex  = "CODEX"
	EndpointImage  = "IMAGE"
)

// AnthropicVersion is pinned for Claude-protocol requests.
const AnthropicVersion = "2023-06-01"

// Canonical upstream paths per endpoint type.
const (
	PathChat   = "/v1/chat/completions"
	PathClaude = "/v1/messages"
	PathCodex  = "/v1/responses"
	PathImage  = "/v1/images/generations"
	PathModels = "/v1/models"
)

var (
	codexGPT4o   = regexp.MustCompile(`gpt-4o`)
	codexGPT5    = regexp.MustCompile(`gpt-5`)
	codexOSeries = regexp.MustCompile(`^o[134](-|$)`)
)

// NormalizeBaseURL strips a trailing slash and a trailing /v1 segment so
// canonical paths can be appended safely.
func NormalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	trimmed = strings.TrimSuffix(trimmed, "/v1")
	return strings.TrimRight(trimmed, "/")
}

// EndpointsForModel returns the endpoint types to probe for a model
// name. CHAT is always included.
func EndpointsForModel(modelName string) []string {
	name := strings.ToLower(strings.TrimSpace(modelName))
	switch {
	case strings.HasPrefix(name, "claude"):
		return []string{EndpointChat, EndpointClaude}
	case strings.HasPrefix(name, "gemini"):
		return []string{EndpointChat, EndpointGemini}
	case codexGPT4o.MatchString(name), codexGPT5.MatchString(name), codexOSeries.MatchString(name):
		return []string{EndpointChat, EndpointCodex}
	default:
		return []string{EndpointChat}
	}
}

// ProbeURL returns the full probe URL for an endpoint type.
func ProbeURL(baseURL, endpoint, modelName string) string {
	base := NormalizeBaseURL(baseURL)
	switch endpoint {
	case EndpointClaude:
		return base + PathClaude
	case EndpointGemini:
		return fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, modelName)
	case EndpointCodex:
		return base + PathCodex
	case EndpointImage:
		return base + PathImage
	default:
		return base + PathChat
	}
}

// ProbeHeaders returns the header set for an endpoint type.
func ProbeHeaders(endpoint, apiKey string) map[string]string {
	switch endpoint {
	case EndpointClaude:
		return map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": AnthropicVersion,
			"Content-Type":      "application/json",
		}
	case EndpointGemini:
		return map[string]string{
			"x-goog-api-key": apiKey,
			"Content-Type":   "application/json",
		}
	default:
		return map[string]string{
			"Authorization": "Bearer " + apiKey,
			"Content-Type":  "application/json",
		}
	}
}

// ProbeBody returns the canonical small request body for an endpoint.
func ProbeBody(endpoint, modelName, prompt string) []byte {
	var payload map[string]any
	switch endpoint {
	case EndpointClaude:
		payload = map[string]any{
			"model":      modelName,
			"max_tokens": 50,
			"stream":     false,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		}
	case EndpointGemini:
		payload = map[string]any{
			"contents": []map[string]any{
				{"parts": []map[string]any{{"text": prompt}}},
			},
			"generationConfig": map[string]any{"maxOutputTokens": 10},
		}
	case EndpointCodex:
		payload = map[string]any{
			"model":  modelName,
			"stream": false,
			"input": []map[string]any{
				{
					"role": "user",
					"content": []map[string]any{
						{"type": "input_text", "text": prompt},
					},
				},
			},
		}
	case EndpointImage:
		payload = map[string]any{
			"model":  modelName,
			"prompt": prompt,
			"n":      1,
			"size":   "1024x1024",
		}
	default:
		payload = map[string]any{
			"model":      modelName,
			"max_tokens": 50,
			"stream":     false,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		}
	}
	raw, _ := json.Marshal(payload)
	return raw
}
