// Package detector executes single model probes against upstream
// channels and classifies the outcome.
package detector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/probegate/probegate/internal/adapter"
	"github.com/probegate/probegate/internal/models"
	"github.com/probegate/probegate/internal/transport"
)

const maxProbeBody = 1 << 20

// errorMessageLimit caps stored probe error messages.
const errorMessageLimit = 500

// Probe describes one detection request.
type Probe struct {
	ChannelID uint64
	BaseURL   string
	APIKey    string
	ProxyURL  string
	ModelID   uint64
	ModelName string
	Endpoint  string
	Prompt    string
}

// Result is the classified outcome of one probe.
type Result struct {
	Status          string
	LatencyMs       int64
	UpstreamStatus  int
	ErrorMessage    string
	ResponsePreview string
}

// Run executes the probe synchronously. Latency is measured from
// pre-send until the body is fully read and decoded. Transport errors
// become FAIL results carrying the transport diagnostic.
func Run(ctx context.Context, client *transport.Client, p Probe) Result {
	probeCtx, cancel := context.WithTimeout(ctx, transport.ProbeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Do(probeCtx, transport.Request{
		Method:   http.MethodPost,
		URL:      adapter.ProbeURL(p.BaseURL, p.Endpoint, p.ModelName),
		Headers:  adapter.ProbeHeaders(p.Endpoint, p.APIKey),
		Body:     adapter.ProbeBody(p.Endpoint, p.ModelName, p.Prompt),
		ProxyURL: p.ProxyURL,
	})
	if err != nil {
		return Result{
			Status:       models.ProbeStatusFail,
			LatencyMs:    time.Since(start).Milliseconds(),
			ErrorMessage: adapter.Truncate(err.Error(), errorMessageLimit),
		}
	}
	defer resp.Body.Close()

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	latency := time.Since(start).Milliseconds()
	if errRead != nil {
		classified := transport.Classify(probeCtx, errRead)
		return Result{
			Status:         models.ProbeStatusFail,
			LatencyMs:      latency,
			UpstreamStatus: resp.StatusCode,
			ErrorMessage:   adapter.Truncate(classified.Error(), errorMessageLimit),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, bad := adapter.BodyError(body)
		if !bad {
			msg = fmt.Sprintf("upstream status %d: %s", resp.StatusCode, string(body))
		}
		return Result{
			Status:         models.ProbeStatusFail,
			LatencyMs:      latency,
			UpstreamStatus: resp.StatusCode,
			ErrorMessage:   adapter.Truncate(msg, errorMessageLimit),
		}
	}

	if msg, bad := adapter.BodyError(body); bad {
		return Result{
			Status:         models.ProbeStatusFail,
			LatencyMs:      latency,
			UpstreamStatus: resp.StatusCode,
			ErrorMessage:   adapter.Truncate(msg, errorMessageLimit),
		}
	}

	if p.Endpoint == adapter.EndpointImage && !adapter.ImageProbeOK(body) {
		return Result{
			Status:         models.ProbeStatusFail,
			LatencyMs:      latency,
			UpstreamStatus: resp.StatusCode,
			ErrorMessage:   "image response missing data[0].url or b64_json",
		}
	}

	return Result{
		Status:          models.ProbeStatusSuccess,
		LatencyMs:       latency,
		UpstreamStatus:  resp.StatusCode,
		ResponsePreview: adapter.ExtractContent(p.Endpoint, body),
	}
}
