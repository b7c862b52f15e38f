package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/numberoneson/nos-analytics/analytics/internal/metrics"
	"github.com/numberoneson/nos-analytics/common/logging"
)

// DefaultEndpoint is the ip-api.com JSON lookup base URL.
const DefaultEndpoint = "http://ip-api.com/json/"

// IPAPI looks addresses up against an ip-api.com compatible endpoint.
type IPAPI struct {
	endpoint string
	client   *http.Client
	logger   *logging.Logger
}

// NewIPAPI creates an IPAPI locator. Each lookup is bounded by timeout.
func NewIPAPI(endpoint string, timeout time.Duration, logger *logging.Logger) *IPAPI {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &IPAPI{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type ipapiResponse struct {
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
}

func (g *IPAPI) Locate(ctx context.Context, addr string) Location {
	if IsLocal(addr) {
		return Local
	}
	loc, err := g.lookup(ctx, addr)
	if err != nil {
		metrics.GeoFailures.Inc()
		g.logger.DebugContext(ctx, "geo lookup failed", logging.IP(addr), logging.Error(err))
		return Unknown
	}
	return loc
}

func (g *IPAPI) lookup(ctx context.Context, addr string) (Location, error) {
	u := g.endpoint + url.PathEscape(addr) + "?fields=country,regionName,city"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Location{}, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return Location{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geo lookup returned status %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("failed to decode geo response: %w", err)
	}
	loc := Location{Country: body.Country, Region: body.RegionName, City: body.City}
	if loc.Country == "" {
		loc.Country = Unknown.Country
	}
	return loc, nil
}
