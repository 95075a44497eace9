package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensbom/sbom-enrich/model"
)

// CveManagerClient talks to the external vulnerability scoring service
type CveManagerClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewCveManagerClient creates a cve-manager client for the given service URL
func NewCveManagerClient(baseURL string) *CveManagerClient {
	return &CveManagerClient{
		BaseURL:    baseURL,
		HTTPClient: http.DefaultClient,
	}
}

// NeedsRequest reports whether the client will issue network requests.
// With no service URL configured the pipeline runs in offline mode and the
// chunk source yields nothing.
func (c *CveManagerClient) NeedsRequest() bool {
	return c.BaseURL != ""
}

// GetComponentReport issues one bulk query for a deduplicated set of
// canonical purls and returns the findings for each
func (c *CveManagerClient) GetComponentReport(ctx context.Context, purls []string) (*model.ComponentReport, error) {
	if len(purls) == 0 {
		return &model.ComponentReport{}, nil
	}

	body, err := json.Marshal(map[string][]string{"purls": purls})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal component query: %w", err)
	}

	u := c.BaseURL + "/api/v1/components/report"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create component report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query cve-manager: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("component report request failed: %s", resp.Status)
	}

	var report model.ComponentReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode component report: %w", err)
	}
	return &report, nil
}
