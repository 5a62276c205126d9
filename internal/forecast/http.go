package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kumanofoo/tako/internal/model"
)

// apiResponse is the wire format of the forecast service:
// GET {base}?place={place}&date={YYYY-MM-DD}
type apiResponse struct {
	Category   string `json:"category"`
	Summary    string `json:"summary"`
	ReportedAt string `json:"reported_at"`
	Pops       []struct {
		Time    string `json:"time"`
		Percent int    `json:"percent"`
	} `json:"pops"`
}

// HTTPProvider fetches forecasts from a JSON HTTP endpoint with a bounded
// timeout so a slow service can never stall round scheduling.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider for the given endpoint.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Fetch(ctx context.Context, place, date string) (model.Forecast, error) {
	q := url.Values{}
	q.Set("place", place)
	q.Set("date", date)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return model.Forecast{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return model.Forecast{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Forecast{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.Forecast{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var ar apiResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return model.Forecast{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !Valid(ar.Category) {
		return model.Forecast{}, fmt.Errorf("%w: unknown category %q", ErrUnavailable, ar.Category)
	}

	f := model.Forecast{
		Category: ar.Category,
		Summary:  ar.Summary,
	}
	if ts, err := time.Parse(time.RFC3339, ar.ReportedAt); err == nil {
		f.ReportedAt = ts
	}
	for _, p := range ar.Pops {
		f.Pops = append(f.Pops, model.Pop{Time: p.Time, Percent: p.Percent})
	}
	return f, nil
}
