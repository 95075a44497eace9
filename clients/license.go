// Package clients holds the HTTP clients for the external license and
// vulnerability intelligence services consumed by the enrichment core.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensbom/sbom-enrich/model"
	"github.com/opensbom/sbom-enrich/util"
)

// LicenseClient talks to the external license-intelligence service
type LicenseClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewLicenseClient creates a license client for the given service URL
func NewLicenseClient(baseURL string) *LicenseClient {
	return &LicenseClient{
		BaseURL:    baseURL,
		HTTPClient: http.DefaultClient,
	}
}

// GetPurlForLicense maps a package purl to the lookup key the license
// service understands for the given product: the canonical purl with
// qualifiers and subpath dropped, so refs differing only in build
// coordinates share one key in the batched query. Returns "" when the
// purl does not parse; such refs are dropped.
func (c *LicenseClient) GetPurlForLicense(purl, productType, productVersion string) string {
	canonical, err := util.CanonicalPURL(purl)
	if err != nil {
		return ""
	}
	return canonical
}

// GetLicenseInfoByPurls issues one batched query for all distinct lookup
// keys and returns the per-key license results
func (c *LicenseClient) GetLicenseInfoByPurls(ctx context.Context, purls []string) (map[string]*model.LicenseInfo, error) {
	if len(purls) == 0 {
		return map[string]*model.LicenseInfo{}, nil
	}

	body, err := json.Marshal(map[string][]string{"purls": purls})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal license query: %w", err)
	}

	u := c.BaseURL + "/api/v1/licenses/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create license request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query license service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("license query failed: %s", resp.Status)
	}

	var result map[string]*model.LicenseInfo
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode license response: %w", err)
	}
	return result, nil
}
