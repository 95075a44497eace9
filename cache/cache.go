// Package cache holds the process-wide read-through caches used during
// enrichment: the license standard-name map, canonical license objects, and
// first-party repo metadata. All caches are read-mostly; population is
// idempotent, so concurrent misses recomputing the same value are harmless.
package cache

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/opensbom/sbom-enrich/model"
	"gopkg.in/yaml.v2"
)

// LicenseStandardMap maps lowercased raw license spellings to their
// standardized identifiers. Loaded once from a YAML file; unmapped names
// pass through unchanged at lookup time.
type LicenseStandardMap struct {
	mu      sync.RWMutex
	mapping map[string]string
}

// NewLicenseStandardMap creates an empty standard-name map
func NewLicenseStandardMap() *LicenseStandardMap {
	return &LicenseStandardMap{
		mapping: make(map[string]string),
	}
}

// LoadFile populates the map from a YAML file of raw -> standard names.
// Keys are lowercased so lookups are case-insensitive.
func (m *LicenseStandardMap) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read license standard map: %w", err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return fmt.Errorf("failed to parse license standard map: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range raw {
		m.mapping[strings.ToLower(k)] = v
	}
	return nil
}

// Put adds a single mapping, lowercasing the raw name
func (m *LicenseStandardMap) Put(raw, standard string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapping[strings.ToLower(raw)] = standard
}

// Standardize returns the standard name for a raw license spelling, or the
// raw spelling unchanged when no mapping exists
func (m *LicenseStandardMap) Standardize(raw string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if std, ok := m.mapping[strings.ToLower(raw)]; ok {
		return std
	}
	return raw
}

// LicenseObjectCache deduplicates canonical License records by identifier
type LicenseObjectCache struct {
	mu       sync.RWMutex
	licenses map[string]*model.License
}

// NewLicenseObjectCache creates an empty license object cache
func NewLicenseObjectCache() *LicenseObjectCache {
	return &LicenseObjectCache{
		licenses: make(map[string]*model.License),
	}
}

// Get returns the cached License for an identifier, creating it on first
// sight. Legality is fixed on creation; later calls reuse the cached object.
func (c *LicenseObjectCache) Get(spdx string, isLegal bool) *model.License {
	c.mu.RLock()
	lic, ok := c.licenses[spdx]
	c.mu.RUnlock()
	if ok {
		return lic
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lic, ok = c.licenses[spdx]; ok {
		return lic
	}
	lic = model.NewLicense()
	lic.Spdx = spdx
	lic.IsLegal = isLegal
	c.licenses[spdx] = lic
	return lic
}

// Len reports the number of distinct licenses seen
func (c *LicenseObjectCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.licenses)
}

// RepoMetaFetcher resolves repo metadata by repo name and branch
type RepoMetaFetcher func(repoName, branch string) (*model.RepoMeta, error)

// RepoMetaCache caches first-party repo metadata keyed by repoName@branch,
// fetching on miss via the configured fetcher
type RepoMetaCache struct {
	mu    sync.RWMutex
	metas map[string]*model.RepoMeta
	fetch RepoMetaFetcher
}

// NewRepoMetaCache creates a repo metadata cache backed by the given fetcher
func NewRepoMetaCache(fetch RepoMetaFetcher) *RepoMetaCache {
	return &RepoMetaCache{
		metas: make(map[string]*model.RepoMeta),
		fetch: fetch,
	}
}

// Get returns the metadata for (repoName, branch), fetching and caching it
// on first use. A redundant concurrent fetch overwrites with an identical
// value, which is safe.
func (c *RepoMetaCache) Get(repoName, branch string) (*model.RepoMeta, error) {
	key := repoName + "@" + branch

	c.mu.RLock()
	meta, ok := c.metas[key]
	c.mu.RUnlock()
	if ok {
		return meta, nil
	}

	meta, err := c.fetch(repoName, branch)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.metas[key] = meta
	c.mu.Unlock()
	return meta, nil
}
