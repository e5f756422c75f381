package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/probegate/probegate/internal/transport"
	"github.com/tidwall/gjson"
)

// FetchModelList retrieves the upstream model ids from /v1/models using
// OpenAI-style bearer auth. Multi-key credentials use the first key.
func FetchModelList(ctx context.Context, client *transport.Client, baseURL, apiKey, proxyURL string) ([]string, error) {
	resp, err := client.Do(ctx, transport.Request{
		Method:   http.MethodGet,
		URL:      NormalizeBaseURL(baseURL) + PathModels,
		Headers:  map[string]string{"Authorization": "Bearer " + apiKey},
		ProxyURL: proxyURL,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read model list: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model list returned status %d: %s",
			resp.StatusCode, Truncate(string(body), 200))
	}
	if msg, bad := BodyError(body); bad {
		return nil, fmt.Errorf("model list error: %s", msg)
	}

	var ids []string
	gjson.GetBytes(body, "data").ForEach(func(_, item gjson.Result) bool {
		if id := strings.TrimSpace(item.Get("id").String()); id != "" {
			ids = append(ids, id)
		}
		return true
	})
	return ids, nil
}
