package regime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// CueProvider supplies the global inputs (overnight US move, SGX Nifty,
// institutional flows) that are not on the broker feed.
type CueProvider interface {
	Fetch(ctx context.Context) (GlobalCues, error)
}

// GlobalCues is the external slice of classifier inputs.
type GlobalCues struct {
	SPXChangePct  float64 `json:"spx_change_pct"`
	SGXPremiumPct float64 `json:"sgx_premium_pct"`
	NetFlowsCrore float64 `json:"net_flows_crore"`
}

// HTTPCueProvider pulls cues from a JSON endpoint. A zero value (no URL)
// yields neutral cues so classification degrades instead of failing.
type HTTPCueProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPCueProvider(baseURL string) *HTTPCueProvider {
	return &HTTPCueProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPCueProvider) Fetch(ctx context.Context) (GlobalCues, error) {
	if p.baseURL == "" {
		return GlobalCues{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/global", nil)
	if err != nil {
		return GlobalCues{}, fmt.Errorf("build cues request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return GlobalCues{}, fmt.Errorf("fetch global cues: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GlobalCues{}, fmt.Errorf("global cues: status %d", resp.StatusCode)
	}

	var cues GlobalCues
	if err := json.NewDecoder(resp.Body).Decode(&cues); err != nil {
		return GlobalCues{}, fmt.Errorf("decode global cues: %w", err)
	}

	log.Debug().Float64("spx", cues.SPXChangePct).Float64("sgx", cues.SGXPremiumPct).
		Float64("flows", cues.NetFlowsCrore).Msg("Global cues fetched")
	return cues, nil
}
