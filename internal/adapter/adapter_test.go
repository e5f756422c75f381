package adapter

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://u.example", "https://u.example"},
		{"https://u.example/", "https://u.example"},
		{"https://u.example/v1", "https://u.example"},
		{"https://u.example/v1/", "https://u.example"},
		{"https://u.example/api/v1", "https://u.example/api"},
	}
	for _, tc := range cases {
		if got := NormalizeBaseURL(tc.in); got != tc.want {
			t.Fatalf("NormalizeBaseURL(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEndpointsForModel(t *testing.T) {
	cases := []struct {
		model string
		want  []string
	}{
		{"claude-3-5-sonnet", []string{EndpointChat, EndpointClaude}},
		{"Claude-Opus", []string{EndpointChat, EndpointClaude}},
		{"gemini-2.0-flash", []string{EndpointChat, EndpointGemini}},
		{"gpt-4o-mini", []string{EndpointChat, EndpointCodex}},
		{"gpt-5", []string{EndpointChat, EndpointCodex}},
		{"o1-preview", []string{EndpointChat, EndpointCodex}},
		{"o3", []string{EndpointChat, EndpointCodex}},
		{"o4-mini", []string{EndpointChat, EndpointCodex}},
		{"llama-3-70b", []string{EndpointChat}},
		{"deepseek-chat", []string{EndpointChat}},
	}
	for _, tc := range cases {
		got := EndpointsForModel(tc.model)
		if len(got) != len(tc.want) {
			t.Fatalf("EndpointsForModel(%q)=%v, want %v", tc.model, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("EndpointsForModel(%q)=%v, want %v", tc.model, got, tc.want)
			}
		}
	}
}

func TestProbeURL(t *testing.T) {
	if got := ProbeURL("https://u.example/v1/", EndpointChat, "gpt-4o"); got != "https://u.example/v1/chat/completions" {
		t.Fatalf("unexpected chat url %q", got)
	}
	if got := ProbeURL("https://u.example", EndpointGemini, "gemini-2.0-flash"); got != "https://u.example/v1beta/models/gemini-2.0-flash:generateContent" {
		t.Fatalf("unexpected gemini url %q", got)
	}
	if got := ProbeURL("https://u.example", EndpointClaude, "claude-3"); got != "https://u.example/v1/messages" {
		t.Fatalf("unexpected claude url %q", got)
	}
}

func TestProbeHeaders(t *testing.T) {
	h := ProbeHeaders(EndpointClaude, "sk-a")
	if h["x-api-key"] != "sk-a" || h["anthropic-version"] != AnthropicVersion {
		t.Fatalf("unexpected claude headers %v", h)
	}
	h = ProbeHeaders(EndpointGemini, "sk-g")
	if h["x-goog-api-key"] != "sk-g" {
		t.Fatalf("unexpected gemini headers %v", h)
	}
	h = ProbeHeaders(EndpointChat, "sk-c")
	if h["Authorization"] != "Bearer sk-c" {
		t.Fatalf("unexpected chat headers %v", h)
	}
}

func TestProbeBody_Shapes(t *testing.T) {
	var chat map[string]any
	if err := json.Unmarshal(ProbeBody(EndpointChat, "gpt-4o", "hi"), &chat); err != nil {
		t.Fatalf("unmarshal chat body: %v", err)
	}
	if chat["model"] != "gpt-4o" || chat["max_tokens"] != float64(50) || chat["stream"] != false {
		t.Fatalf("unexpected chat body %v", chat)
	}

	var gemini map[string]any
	if err := json.Unmarshal(ProbeBody(EndpointGemini, "gemini-2.0-flash", "hi"), &gemini); err != nil {
		t.Fatalf("unmarshal gemini body: %v", err)
	}
	if _, ok := gemini["contents"]; !ok {
		t.Fatalf("gemini body missing contents: %v", gemini)
	}
	if _, ok := gemini["model"]; ok {
		t.Fatalf("gemini body must not carry model field: %v", gemini)
	}

	var codex map[string]any
	if err := json.Unmarshal(ProbeBody(EndpointCodex, "gpt-5", "hi"), &codex); err != nil {
		t.Fatalf("unmarshal codex body: %v", err)
	}
	if _, ok := codex["input"]; !ok {
		t.Fatalf("codex body missing input: %v", codex)
	}
}

func TestExtractContent_Chat(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"yes"}}]}`)
	if got := ExtractContent(EndpointChat, body); got != "yes" {
		t.Fatalf("expected %q, got %q", "yes", got)
	}

	body = []byte(`{"choices":[{"message":{"reasoning_content":"thinking hard"}}]}`)
	if got := ExtractContent(EndpointChat, body); got != "thinking hard" {
		t.Fatalf("expected reasoning fallback, got %q", got)
	}

	body = []byte(`{"choices":[{"delta":{"content":"partial"}}]}`)
	if got := ExtractContent(EndpointChat, body); got != "partial" {
		t.Fatalf("expected delta fallback, got %q", got)
	}
}

func TestExtractContent_StripsThinking(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"<think>internal monologue</think>yes"}}]}`)
	if got := ExtractContent(EndpointChat, body); got != "yes" {
		t.Fatalf("expected stripped content, got %q", got)
	}
}

func TestExtractContent_Claude(t *testing.T) {
	body := []byte(`{"content":[{"type":"thinking","thinking":"..."},{"type":"text","text":"no"}]}`)
	if got := ExtractContent(EndpointClaude, body); got != "no" {
		t.Fatalf("expected %q, got %q", "no", got)
	}
}

func TestExtractContent_GeminiSkipsThoughts(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"internal","thought":true},{"text":"yes"}]}}]}`)
	if got := ExtractContent(EndpointGemini, body); got != "yes" {
		t.Fatalf("expected non-thought part, got %q", got)
	}

	// All-thought responses fall back to the first text part.
	body = []byte(`{"candidates":[{"content":{"parts":[{"text":"only thought","thought":true}]}}]}`)
	if got := ExtractContent(EndpointGemini, body); got != "only thought" {
		t.Fatalf("expected fallback part, got %q", got)
	}
}

func TestExtractContent_Codex(t *testing.T) {
	body := []byte(`{"output":[{"content":[{"type":"reasoning","text":"r"},{"type":"output_text","text":"yes"}]}]}`)
	if got := ExtractContent(EndpointCodex, body); got != "yes" {
		t.Fatalf("expected output_text, got %q", got)
	}
}

func TestExtractContent_TruncatesLongContent(t *testing.T) {
	long := strings.Repeat("a", 2000)
	body := []byte(`{"choices":[{"message":{"content":"` + long + `"}}]}`)
	if got := ExtractContent(EndpointChat, body); len(got) > PreviewLimit {
		t.Fatalf("expected preview <= %d bytes, got %d", PreviewLimit, len(got))
	}
}

func TestBodyError(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantMsg string
		wantBad bool
	}{
		{"error object", `{"error":{"message":"quota exceeded"}}`, "quota exceeded", true},
		{"error string", `{"error":"bad key"}`, "bad key", true},
		{"success false", `{"success":false,"message":"denied"}`, "denied", true},
		{"nonzero code", `{"code":1308,"message":"upstream busy"}`, "[1308] upstream busy", true},
		{"status failed", `{"status":"failed","message":"broken"}`, "broken", true},
		{"clean", `{"choices":[{"message":{"content":"yes"}}]}`, "", false},
		{"code zero", `{"code":0,"message":"ok"}`, "", false},
		{"not json", `plain text`, "", false},
	}
	for _, tc := range cases {
		msg, bad := BodyError([]byte(tc.body))
		if bad != tc.wantBad {
			t.Fatalf("%s: BodyError bad=%v, want %v", tc.name, bad, tc.wantBad)
		}
		if tc.wantBad && msg != tc.wantMsg {
			t.Fatalf("%s: BodyError msg=%q, want %q", tc.name, msg, tc.wantMsg)
		}
	}
}

func TestImageProbeOK(t *testing.T) {
	if !ImageProbeOK([]byte(`{"data":[{"url":"https://img.example/x.png"}]}`)) {
		t.Fatalf("expected url response to pass")
	}
	if !ImageProbeOK([]byte(`{"data":[{"b64_json":"aGVsbG8="}]}`)) {
		t.Fatalf("expected b64 response to pass")
	}
	if ImageProbeOK([]byte(`{"data":[]}`)) {
		t.Fatalf("expected empty data to fail")
	}
}
