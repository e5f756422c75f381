package detector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/probegate/probegate/internal/adapter"
	"github.com/probegate/probegate/internal/models"
	"github.com/probegate/probegate/internal/transport"
)

func TestRun_ChatSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer K" {
			t.Errorf("unexpected auth %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["model"] != "gpt-4o" {
			t.Errorf("unexpected model %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"yes"}}]}`))
	}))
	defer upstream.Close()

	res := Run(context.Background(), transport.NewClient(""), Probe{
		BaseURL:   upstream.URL,
		APIKey:    "K",
		ModelName: "gpt-4o",
		Endpoint:  adapter.EndpointChat,
		Prompt:    "1+1=2? yes or no",
	})
	if res.Status != models.ProbeStatusSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.ErrorMessage)
	}
	if res.ResponsePreview != "yes" {
		t.Fatalf("expected preview %q, got %q", "yes", res.ResponsePreview)
	}
	if res.LatencyMs < 0 {
		t.Fatalf("expected non-negative latency, got %d", res.LatencyMs)
	}
	if res.UpstreamStatus != http.StatusOK {
		t.Fatalf("expected upstream 200, got %d", res.UpstreamStatus)
	}
}

func TestRun_BodyErrorDowngradesTo200Fail(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer upstream.Close()

	res := Run(context.Background(), transport.NewClient(""), Probe{
		BaseURL:   upstream.URL,
		APIKey:    "K",
		ModelName: "gpt-4o",
		Endpoint:  adapter.EndpointChat,
	})
	if res.Status != models.ProbeStatusFail {
		t.Fatalf("expected fail, got %s", res.Status)
	}
	if res.UpstreamStatus != http.StatusOK {
		t.Fatalf("expected upstream 200, got %d", res.UpstreamStatus)
	}
	if res.ErrorMessage != "quota exceeded" {
		t.Fatalf("expected error message %q, got %q", "quota exceeded", res.ErrorMessage)
	}
}

func TestRun_Non2xxFails(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer upstream.Close()

	res := Run(context.Background(), transport.NewClient(""), Probe{
		BaseURL:   upstream.URL,
		APIKey:    "bad",
		ModelName: "gpt-4o",
		Endpoint:  adapter.EndpointChat,
	})
	if res.Status != models.ProbeStatusFail {
		t.Fatalf("expected fail, got %s", res.Status)
	}
	if res.UpstreamStatus != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.UpstreamStatus)
	}
	if res.ErrorMessage != "invalid api key" {
		t.Fatalf("unexpected error message %q", res.ErrorMessage)
	}
}

func TestRun_TransportErrorFails(t *testing.T) {
	res := Run(context.Background(), transport.NewClient(""), Probe{
		BaseURL:   "http://127.0.0.1:1",
		APIKey:    "K",
		ModelName: "gpt-4o",
		Endpoint:  adapter.EndpointChat,
	})
	if res.Status != models.ProbeStatusFail {
		t.Fatalf("expected fail, got %s", res.Status)
	}
	if res.ErrorMessage == "" {
		t.Fatalf("expected transport diagnostic in error message")
	}
}

func TestRun_GeminiEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.0-flash:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "G" {
			t.Errorf("unexpected key header %q", got)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"yes"}]}}]}`))
	}))
	defer upstream.Close()

	res := Run(context.Background(), transport.NewClient(""), Probe{
		BaseURL:   upstream.URL,
		APIKey:    "G",
		ModelName: "gemini-2.0-flash",
		Endpoint:  adapter.EndpointGemini,
	})
	if res.Status != models.ProbeStatusSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.ErrorMessage)
	}
	if res.ResponsePreview != "yes" {
		t.Fatalf("unexpected preview %q", res.ResponsePreview)
	}
}

func TestRun_ImageProbeRequiresData(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"created":1}`))
	}))
	defer upstream.Close()

	res := Run(context.Background(), transport.NewClient(""), Probe{
		BaseURL:   upstream.URL,
		APIKey:    "K",
		ModelName: "dall-e-3",
		Endpoint:  adapter.EndpointImage,
	})
	if res.Status != models.ProbeStatusFail {
		t.Fatalf("expected fail for image response without data, got %s", res.Status)
	}
}
