package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

// HTTPSource pulls samples from an ERP monitoring endpoint that serves
// GET {base}/api/v1/samples as JSON.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(cfg config.MetricSourceConfig) (*HTTPSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("metric_source.url is required for http")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type samplesResponse struct {
	Samples []struct {
		Timestamp time.Time `json:"timestamp"`
		Value     float64   `json:"value"`
		Resource  string    `json:"resource"`
	} `json:"samples"`
}

func (h *HTTPSource) Sample(ctx context.Context, key models.MetricKey, from, to time.Time) ([]models.MetricSample, error) {
	query := url.Values{}
	query.Set("name", key.Name)
	query.Set("type", key.Type)
	if key.Class != "" {
		query.Set("class", key.Class)
	}
	query.Set("environment", key.Environment)
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))

	endpoint := fmt.Sprintf("%s/api/v1/samples?%s", h.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch samples: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metric source returned status %d", resp.StatusCode)
	}

	var body samplesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode samples: %w", err)
	}

	samples := make([]models.MetricSample, 0, len(body.Samples))
	for _, s := range body.Samples {
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		samples = append(samples, models.MetricSample{
			Key:       key,
			Timestamp: s.Timestamp.UTC(),
			Value:     s.Value,
			Resource:  s.Resource,
		})
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}
