package adapter

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// PreviewLimit caps extracted response previews.
const PreviewLimit = 500

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking removes reasoning sentinels from extracted text.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkBlockRe.ReplaceAllString(s, ""))
}

// Truncate clips s to at most limit bytes on a rune boundary.
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	out := make([]rune, 0, limit)
	size := 0
	for _, r := range runes {
		size += len(string(r))
		if size > limit {
			break
		}
		out = append(out, r)
	}
	return string(out)
}

// ExtractContent pulls the human-readable response text out of an
// upstream probe response body for the given endpoint type.
func ExtractContent(endpoint string, body []byte) string {
	raw := string(body)
	var text string
	switch endpoint {
	case EndpointClaude:
		text = extractClaude(raw)
	case EndpointGemini:
		text = extractGemini(raw)
	case EndpointCodex:
		text = extractCodex(raw)
	case EndpointImage:
		text = extractImage(raw)
	default:
		text = extractChat(raw)
	}
	return Truncate(StripThinking(text), PreviewLimit)
}

func extractChat(raw string) string {
	for _, path := range []string{
		"choices.0.message.content",
		"choices.0.message.reasoning_content",
		"choices.0.message.refusal",
		"choices.0.delta.content",
		"choices.0.text",
	} {
		if v := gjson.Get(raw, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func extractClaude(raw string) string {
	var text string
	gjson.Get(raw, "content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text = block.Get("text").String()
			return false
		}
		return true
	})
	return text
}

func extractGemini(raw string) string {
	parts := gjson.Get(raw, "candidates.0.content.parts")
	var first, answer string
	parts.ForEach(func(_, part gjson.Result) bool {
		text := part.Get("text").String()
		if text == "" {
			return true
		}
		if first == "" {
			first = text
		}
		if !part.Get("thought").Bool() {
			answer = text
			return false
		}
		return true
	})
	if answer != "" {
		return answer
	}
	return first
}

func extractCodex(raw string) string {
	var text string
	gjson.Get(raw, "output").ForEach(func(_, item gjson.Result) bool {
		item.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "output_text" && block.Get("text").String() != "" {
				text = block.Get("text").String()
				return false
			}
			return true
		})
		if text != "" {
			return false
		}
		if fallback := item.Get("text").String(); fallback != "" {
			text = fallback
			return false
		}
		return true
	})
	return text
}

func extractImage(raw string) string {
	first := gjson.Get(raw, "data.0")
	if !first.Exists() {
		return ""
	}
	var parts []string
	if u := first.Get("url").String(); u != "" {
		parts = append(parts, "url: "+u)
	}
	if b64 := first.Get("b64_json").String(); b64 != "" {
		parts = append(parts, "b64_json: "+Truncate(b64, 32)+"...")
	}
	if rp := first.Get("revised_prompt").String(); rp != "" {
		parts = append(parts, "revised_prompt: "+rp)
	}
	return strings.Join(parts, "; ")
}

// ImageProbeOK reports whether an image probe response carries a result.
func ImageProbeOK(body []byte) bool {
	raw := string(body)
	return gjson.Get(raw, "data.0.url").String() != "" ||
		gjson.Get(raw, "data.0.b64_json").String() != ""
}
