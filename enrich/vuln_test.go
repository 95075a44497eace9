package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opensbom/sbom-enrich/model"
)

// mockVulStore records every upsert keyed by composite identity, mirroring
// the unique indexes the real store maintains
type mockVulStore struct {
	mu       sync.Mutex
	packages []*model.Package

	vuls    map[string]int
	refs    map[string]int
	scores  map[string]int
	extRefs map[string]*model.ExternalVulRef
}

func newMockVulStore(packages []*model.Package) *mockVulStore {
	return &mockVulStore{
		packages: packages,
		vuls:     make(map[string]int),
		refs:     make(map[string]int),
		scores:   make(map[string]int),
		extRefs:  make(map[string]*model.ExternalVulRef),
	}
}

func (m *mockVulStore) PackagesWithChecksumRefs(ctx context.Context, bomKey string) ([]*model.Package, error) {
	return m.packages, nil
}

func (m *mockVulStore) UpsertVulnerability(ctx context.Context, vul *model.Vulnerability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vuls[vul.VulID]++
	return nil
}

func (m *mockVulStore) UpsertVulReference(ctx context.Context, ref *model.VulReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[ref.VulID+"|"+ref.Source+"|"+ref.URL]++
	return nil
}

func (m *mockVulStore) UpsertVulScore(ctx context.Context, score *model.VulScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[fmt.Sprintf("%s|%s|%g", score.VulID, score.ScoringSystem, score.Score)]++
	return nil
}

func (m *mockVulStore) UpsertExternalVulRef(ctx context.Context, ref *model.ExternalVulRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ref.PkgKey + "|" + ref.VulID + "|" + ref.Purl
	if existing, ok := m.extRefs[key]; ok {
		// the update leg preserves the stored status
		ref.Status = existing.Status
	}
	m.extRefs[key] = ref
	return nil
}

// mockVulIntel records the purl set of every bulk query
type mockVulIntel struct {
	mu      sync.Mutex
	batches [][]string
	report  func(purls []string) (*model.ComponentReport, error)
}

func (m *mockVulIntel) NeedsRequest() bool { return true }

func (m *mockVulIntel) GetComponentReport(ctx context.Context, purls []string) (*model.ComponentReport, error) {
	m.mu.Lock()
	m.batches = append(m.batches, purls)
	m.mu.Unlock()
	if m.report == nil {
		return &model.ComponentReport{}, nil
	}
	return m.report(purls)
}

func (m *mockVulIntel) batchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make([]int, 0, len(m.batches))
	for _, batch := range m.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

func packagesWithPurls(n int) []*model.Package {
	pkgs := make([]*model.Package, 0, n)
	for i := 0; i < n; i++ {
		pkg := model.NewPackage()
		pkg.Key = fmt.Sprintf("pkg-%04d", i)
		pkg.ExternalPurlRefs = []model.ExternalPurlRef{{
			PkgKey: pkg.Key,
			Type:   model.PurlRefTypeChecksum,
			Purl:   fmt.Sprintf("pkg:rpm/openeuler/comp-%04d@1.0.0", i),
		}}
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

func TestIngestPartitionsIntoBoundedBatches(t *testing.T) {
	store := newMockVulStore(packagesWithPurls(300))
	client := &mockVulIntel{}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	_, err := ingestor.Ingest(context.Background(), "bom-1", true)
	require.NoError(t, err)
	assert.Equal(t, []int{128, 128, 44}, client.batchSizes())
}

func TestIngestNoPurlsNoQueries(t *testing.T) {
	store := newMockVulStore(nil)
	client := &mockVulIntel{}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	_, err := ingestor.Ingest(context.Background(), "bom-1", true)
	require.NoError(t, err)
	assert.Empty(t, client.batches)
}

func TestIngestDeduplicatesCanonicalPurls(t *testing.T) {
	// two packages whose refs differ only in qualifiers
	pkgA := model.NewPackage()
	pkgA.Key = "pkg-a"
	pkgA.ExternalPurlRefs = []model.ExternalPurlRef{{
		PkgKey: "pkg-a", Type: model.PurlRefTypeChecksum,
		Purl: "pkg:rpm/openeuler/zlib@1.2.11?arch=x86_64",
	}}
	pkgB := model.NewPackage()
	pkgB.Key = "pkg-b"
	pkgB.ExternalPurlRefs = []model.ExternalPurlRef{{
		PkgKey: "pkg-b", Type: model.PurlRefTypeChecksum,
		Purl: "pkg:rpm/openeuler/zlib@1.2.11?arch=aarch64",
	}}

	store := newMockVulStore([]*model.Package{pkgA, pkgB})
	client := &mockVulIntel{}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	_, err := ingestor.Ingest(context.Background(), "bom-1", true)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, client.batchSizes())
}

func TestIngestSkipsUnparsablePurls(t *testing.T) {
	pkg := model.NewPackage()
	pkg.Key = "pkg-a"
	pkg.ExternalPurlRefs = []model.ExternalPurlRef{
		{PkgKey: "pkg-a", Type: model.PurlRefTypeChecksum, Purl: "not a purl"},
		{PkgKey: "pkg-a", Type: model.PurlRefTypeChecksum, Purl: "pkg:npm/ok@1.0.0"},
	}

	store := newMockVulStore([]*model.Package{pkg})
	client := &mockVulIntel{}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	_, err := ingestor.Ingest(context.Background(), "bom-1", true)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, client.batchSizes())
}

func reportFor(cve string) func(purls []string) (*model.ComponentReport, error) {
	return func(purls []string) (*model.ComponentReport, error) {
		report := &model.ComponentReport{}
		for _, purl := range purls {
			report.Data = append(report.Data, model.Finding{
				Purl:        purl,
				CveNum:      cve,
				CveURL:      "https://nvd.nist.gov/vuln/detail/" + cve,
				Cvss2Score:  7.5,
				Cvss2Vector: "AV:N/AC:L/Au:N/C:P/I:P/A:P",
				Cvss3Score:  9.8,
				Cvss3Vector: "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H",
			})
		}
		return report, nil
	}
}

func TestIngestMergesFindings(t *testing.T) {
	store := newMockVulStore(packagesWithPurls(2))
	client := &mockVulIntel{report: reportFor("CVE-2024-0001")}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	_, err := ingestor.Ingest(context.Background(), "bom-1", true)
	require.NoError(t, err)

	assert.Len(t, store.vuls, 1)
	assert.Len(t, store.refs, 1)
	// one CVSS2 and one CVSS3 score per vulnerability
	assert.Len(t, store.scores, 2)
	// one external ref per affected package
	assert.Len(t, store.extRefs, 2)
	for _, ref := range store.extRefs {
		assert.Equal(t, model.VulStatusAffected, ref.Status)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	store := newMockVulStore(packagesWithPurls(3))
	client := &mockVulIntel{report: reportFor("CVE-2024-0002")}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	_, err := ingestor.Ingest(context.Background(), "bom-1", true)
	require.NoError(t, err)
	vuls, refs, scores, extRefs := len(store.vuls), len(store.refs), len(store.scores), len(store.extRefs)

	_, err = ingestor.Ingest(context.Background(), "bom-1", true)
	require.NoError(t, err)

	// a repeated run merges into the same rows, it never widens the sets
	assert.Equal(t, vuls, len(store.vuls))
	assert.Equal(t, refs, len(store.refs))
	assert.Equal(t, scores, len(store.scores))
	assert.Equal(t, extRefs, len(store.extRefs))
}

func TestIngestPreservesExistingStatus(t *testing.T) {
	store := newMockVulStore(packagesWithPurls(1))
	fixed := model.NewExternalVulRef()
	fixed.PkgKey = "pkg-0000"
	fixed.VulID = "CVE-2024-0003"
	fixed.Purl = "pkg:rpm/openeuler/comp-0000@1.0.0"
	fixed.Status = model.VulStatusFixed
	store.extRefs[fixed.PkgKey+"|"+fixed.VulID+"|"+fixed.Purl] = fixed

	client := &mockVulIntel{report: reportFor("CVE-2024-0003")}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	_, err := ingestor.Ingest(context.Background(), "bom-1", true)
	require.NoError(t, err)

	require.Len(t, store.extRefs, 1)
	for _, ref := range store.extRefs {
		assert.Equal(t, model.VulStatusFixed, ref.Status)
	}
}

func TestIngestBlockingErrorTerminatesLoop(t *testing.T) {
	store := newMockVulStore(packagesWithPurls(300))
	client := &mockVulIntel{report: func(purls []string) (*model.ComponentReport, error) {
		return nil, errors.New("504 gateway timeout")
	}}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	_, err := ingestor.Ingest(context.Background(), "bom-1", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vulnerability fetch failed for bom bom-1")
	// the first failed batch stops the loop, later batches are never queried
	assert.Equal(t, []int{128}, client.batchSizes())
}

func TestIngestNonBlockingErrorDoesNotHaltLaterBatches(t *testing.T) {
	store := newMockVulStore(packagesWithPurls(300))
	client := &mockVulIntel{report: func(purls []string) (*model.ComponentReport, error) {
		return nil, errors.New("504 gateway timeout")
	}}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	wait, err := ingestor.Ingest(context.Background(), "bom-1", false)
	require.NoError(t, err)
	wait()
	assert.Len(t, client.batchSizes(), 3)
}

func TestIngestNonBlockingMergesAllBatches(t *testing.T) {
	store := newMockVulStore(packagesWithPurls(200))
	client := &mockVulIntel{report: reportFor("CVE-2024-0004")}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	wait, err := ingestor.Ingest(context.Background(), "bom-1", false)
	require.NoError(t, err)
	wait()

	assert.Len(t, store.extRefs, 200)
	assert.Len(t, store.vuls, 1)
}

func TestIngestConcurrentNonBlockingRunsAreIndependent(t *testing.T) {
	// two overlapping non-blocking ingestions on one shared ingestor; each
	// wait handle covers only its own batches
	store := newMockVulStore(packagesWithPurls(200))
	client := &mockVulIntel{report: reportFor("CVE-2024-0005")}
	ingestor := NewVulIngestor(store, client, zap.NewNop().Sugar())

	waits := make(chan func(), 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			wait, err := ingestor.Ingest(context.Background(), "bom-1", false)
			errs <- err
			waits <- wait
		}()
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	for i := 0; i < 2; i++ {
		(<-waits)()
	}

	// 200 refs split into 2 batches per ingestion
	assert.Len(t, client.batchSizes(), 4)
	assert.Len(t, store.extRefs, 200)
	assert.Len(t, store.vuls, 1)
}

func TestPartition(t *testing.T) {
	entries := make([]vulRefEntry, 5)
	batches := partition(entries, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)

	assert.Nil(t, partition(nil, 2))
}
