package enrich

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensbom/sbom-enrich/model"
	"github.com/opensbom/sbom-enrich/util"
	"go.uber.org/zap"
)

// VulStore is the slice of the store the vulnerability ingestor writes to
type VulStore interface {
	PackagesWithChecksumRefs(ctx context.Context, bomKey string) ([]*model.Package, error)
	UpsertVulnerability(ctx context.Context, vul *model.Vulnerability) error
	UpsertVulReference(ctx context.Context, ref *model.VulReference) error
	UpsertVulScore(ctx context.Context, score *model.VulScore) error
	UpsertExternalVulRef(ctx context.Context, ref *model.ExternalVulRef) error
}

// VulIntel is the external vulnerability-intelligence client surface
type VulIntel interface {
	NeedsRequest() bool
	GetComponentReport(ctx context.Context, purls []string) (*model.ComponentReport, error)
}

// vulRefEntry pairs a purl ref with its owning package and the canonical
// purl used to match findings
type vulRefEntry struct {
	pkg       *model.Package
	ref       *model.ExternalPurlRef
	canonical string
}

// VulIngestor fetches vulnerability findings in bounded batches and merges
// them into existing records by composite identity
type VulIngestor struct {
	store  VulStore
	client VulIntel
	log    *zap.SugaredLogger
}

// NewVulIngestor creates a vulnerability ingestor over the given collaborators
func NewVulIngestor(store VulStore, client VulIntel, log *zap.SugaredLogger) *VulIngestor {
	return &VulIngestor{
		store:  store,
		client: client,
		log:    log,
	}
}

// Ingest flattens the bom's purl refs, partitions them into batches of
// model.BulkRequestSize, and queries the scoring service once per batch.
// In blocking mode each batch is fetched and merged before the next starts;
// a query error terminates the loop and is returned. In non-blocking mode
// fetch and merge run on a goroutine per batch and a failure there is
// logged without halting later batches.
//
// The returned wait function blocks until every batch dispatched by this
// call has finished. The group behind it is scoped to the call, so
// concurrent ingestions for different boms never share a counter.
func (v *VulIngestor) Ingest(ctx context.Context, bomKey string, blocking bool) (func(), error) {
	v.log.Infow("start vulnerability ingestion", "bom", bomKey, "blocking", blocking)

	var wg sync.WaitGroup
	wait := wg.Wait

	packages, err := v.store.PackagesWithChecksumRefs(ctx, bomKey)
	if err != nil {
		return wait, fmt.Errorf("failed to load packages for bom %s: %w", bomKey, err)
	}

	var entries []vulRefEntry
	for _, pkg := range packages {
		for i := range pkg.ExternalPurlRefs {
			ref := &pkg.ExternalPurlRefs[i]
			canonical, err := util.CanonicalPURL(ref.Purl)
			if err != nil {
				v.log.Warnw("skipping unparsable purl", "purl", ref.Purl, "error", err)
				continue
			}
			entries = append(entries, vulRefEntry{pkg: pkg, ref: ref, canonical: canonical})
		}
	}

	batches := partition(entries, model.BulkRequestSize)
	for i, batch := range batches {
		v.log.Infow("fetch vulnerabilities for purl batch",
			"bom", bomKey, "batch", i+1, "total", len(batches))

		if blocking {
			if err := v.fetchAndMerge(ctx, batch); err != nil {
				v.log.Errorw("failed to fetch vulnerabilities", "bom", bomKey, "batch", i+1, "error", err)
				return wait, fmt.Errorf("vulnerability fetch failed for bom %s: %w", bomKey, err)
			}
			continue
		}

		wg.Add(1)
		go func(batch []vulRefEntry, n int) {
			defer wg.Done()
			if err := v.fetchAndMerge(ctx, batch); err != nil {
				v.log.Errorw("failed to fetch vulnerabilities", "bom", bomKey, "batch", n, "error", err)
			}
		}(batch, i+1)
	}

	v.log.Infow("end vulnerability ingestion", "bom", bomKey)
	return wait, nil
}

func (v *VulIngestor) fetchAndMerge(ctx context.Context, batch []vulRefEntry) error {
	seen := make(map[string]bool)
	var purls []string
	for _, entry := range batch {
		if !seen[entry.canonical] {
			seen[entry.canonical] = true
			purls = append(purls, entry.canonical)
		}
	}

	report, err := v.client.GetComponentReport(ctx, purls)
	if err != nil {
		return err
	}
	return v.merge(ctx, report, batch)
}

// merge upserts every finding matched to a ref by canonical purl equality.
// Writes are persisted per finding so partial progress within a batch
// survives a failure on a later finding.
func (v *VulIngestor) merge(ctx context.Context, report *model.ComponentReport, batch []vulRefEntry) error {
	if report == nil || len(report.Data) == 0 {
		return nil
	}

	for _, entry := range batch {
		for i := range report.Data {
			finding := &report.Data[i]
			if finding.Purl != entry.canonical {
				continue
			}
			if err := v.mergeFinding(ctx, entry, finding); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *VulIngestor) mergeFinding(ctx context.Context, entry vulRefEntry, finding *model.Finding) error {
	vul := model.NewVulnerability()
	vul.VulID = finding.CveNum
	if err := v.store.UpsertVulnerability(ctx, vul); err != nil {
		return fmt.Errorf("failed to upsert vulnerability %s: %w", vul.VulID, err)
	}

	vulRef := model.NewVulReference()
	vulRef.VulID = vul.VulID
	vulRef.Source = model.VulRefSourceNVD
	vulRef.URL = finding.CveURL
	if err := v.store.UpsertVulReference(ctx, vulRef); err != nil {
		return fmt.Errorf("failed to upsert reference for %s: %w", vul.VulID, err)
	}

	scores := []struct {
		system string
		score  float64
		vector string
	}{
		{model.VulScoringSystemCVSS2, finding.Cvss2Score, finding.Cvss2Vector},
		{model.VulScoringSystemCVSS3, finding.Cvss3Score, finding.Cvss3Vector},
	}
	for _, sc := range scores {
		score := model.NewVulScore()
		score.VulID = vul.VulID
		score.ScoringSystem = sc.system
		score.Score = sc.score
		score.Vector = sc.vector
		if err := v.store.UpsertVulScore(ctx, score); err != nil {
			return fmt.Errorf("failed to upsert %s score for %s: %w", sc.system, vul.VulID, err)
		}
	}

	extRef := model.NewExternalVulRef()
	extRef.PkgKey = entry.pkg.Key
	extRef.VulID = vul.VulID
	extRef.Purl = finding.Purl
	extRef.Status = model.VulStatusAffected
	if err := v.store.UpsertExternalVulRef(ctx, extRef); err != nil {
		return fmt.Errorf("failed to upsert external vul ref for %s: %w", vul.VulID, err)
	}
	return nil
}

// partition splits entries into consecutive slices of at most size elements
func partition(entries []vulRefEntry, size int) [][]vulRefEntry {
	var batches [][]vulRefEntry
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[start:end])
	}
	return batches
}
