package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/opensbom/sbom-enrich/model"
	"go.uber.org/zap"
)

// Named failure reasons recorded on a failed run
const (
	FailureLicenseResolution = "license_resolution"
	FailurePersistence       = "persistence"
	FailureVulFetch          = "vulnerability_fetch"
)

// Store is the full persistence surface the runner coordinates over
type Store interface {
	PackageSource
	LicenseStore
	VulStore
	SavePackage(ctx context.Context, pkg *model.Package) error
	SaveLicenses(ctx context.Context, licenses []*model.License) error
	SavePkgLicenseRelps(ctx context.Context, relps []*model.PkgLicenseRelp) error
	SaveRun(ctx context.Context, run *model.EnrichmentRun) error
	FindLatestRunByBom(ctx context.Context, bomKey string) (*model.EnrichmentRun, error)
}

// Runner drives one enrichment run for a bom: it drains the chunk source
// through the license resolver, persists the staged results, then hands the
// bom to the vulnerability ingestor. On failure it persists the resume
// cursor so the next invocation repeats only unfinished work.
type Runner struct {
	store    Store
	resolver *LicenseResolver
	ingestor *VulIngestor
	probe    OfflineProber
	log      *zap.SugaredLogger
}

// NewRunner creates a runner over the given engines
func NewRunner(store Store, resolver *LicenseResolver, ingestor *VulIngestor, probe OfflineProber, log *zap.SugaredLogger) *Runner {
	return &Runner{
		store:    store,
		resolver: resolver,
		ingestor: ingestor,
		probe:    probe,
		log:      log,
	}
}

// Run executes one enrichment pass. A prior failed run for the same bom is
// resumed on its persisted cursor instead of starting over.
func (r *Runner) Run(ctx context.Context, bomKey string, blocking bool) (*model.EnrichmentRun, error) {
	run, err := r.prepareRun(ctx, bomKey)
	if err != nil {
		return nil, err
	}

	source := NewChunkSource(r.store, r.probe, r.log)
	if err := source.Init(ctx, bomKey, run.RemainingSize); err != nil {
		// nothing was consumed, the prior cursor is still accurate
		return run, r.failRun(ctx, run, FailurePersistence, run.RemainingSize, err)
	}

	for {
		chunk := source.ReadChunk(model.BulkRequestSize)
		if len(chunk) == 0 {
			break
		}

		refs := checksumRefs(chunk)
		result, err := r.resolver.Resolve(ctx, bomKey, refs)
		if err != nil {
			// remaining = unconsumed queue + the chunk that was in flight
			return run, r.failRun(ctx, run, FailureLicenseResolution, source.Remaining()+len(chunk), err)
		}

		if err := r.persistResult(ctx, result); err != nil {
			return run, r.failRun(ctx, run, FailurePersistence, source.Remaining()+len(chunk), err)
		}

		run.PackageCount += len(result.Packages)
		run.LicenseCount += len(result.Licenses)
		run.RelpCount += len(result.Relps)
	}

	if _, err := r.ingestor.Ingest(ctx, bomKey, blocking); err != nil {
		return run, r.failRun(ctx, run, FailureVulFetch, 0, err)
	}

	run.Status = model.RunStatusCompleted
	run.RemainingSize = 0
	run.FailureReason = ""
	run.FinishedAt = time.Now()
	if err := r.store.SaveRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to persist completed run: %w", err)
	}

	r.log.Infow("enrichment run completed",
		"bom", bomKey,
		"run", run.Key,
		"packages", run.PackageCount,
		"licenses", run.LicenseCount,
		"relps", run.RelpCount)
	return run, nil
}

// prepareRun resumes the latest failed run for the bom or creates a new one
func (r *Runner) prepareRun(ctx context.Context, bomKey string) (*model.EnrichmentRun, error) {
	run, err := r.store.FindLatestRunByBom(ctx, bomKey)
	if err != nil {
		return nil, fmt.Errorf("failed to look up runs for bom %s: %w", bomKey, err)
	}

	if run == nil || run.Status != model.RunStatusFailed {
		run = model.NewEnrichmentRun()
		run.BomKey = bomKey
	} else {
		r.log.Infow("resuming failed run",
			"bom", bomKey, "run", run.Key, "remaining", run.RemainingSize)
	}

	run.Status = model.RunStatusRunning
	run.StartedAt = time.Now()
	if err := r.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run for bom %s: %w", bomKey, err)
	}
	return run, nil
}

func (r *Runner) persistResult(ctx context.Context, result *ExtractResult) error {
	licenses := make([]*model.License, 0, len(result.Licenses))
	for _, lic := range result.Licenses {
		licenses = append(licenses, lic)
	}
	if err := r.store.SaveLicenses(ctx, licenses); err != nil {
		return fmt.Errorf("failed to save licenses: %w", err)
	}
	if err := r.store.SavePkgLicenseRelps(ctx, result.Relps); err != nil {
		return fmt.Errorf("failed to save package license relps: %w", err)
	}
	for _, pkg := range result.Packages {
		if err := r.store.SavePackage(ctx, pkg); err != nil {
			return fmt.Errorf("failed to save package %s: %w", pkg.Key, err)
		}
	}
	return nil
}

// failRun marks the run failed with a named reason and the resume cursor,
// then returns the original error
func (r *Runner) failRun(ctx context.Context, run *model.EnrichmentRun, reason string, remaining int, cause error) error {
	run.Status = model.RunStatusFailed
	run.FailureReason = reason
	run.RemainingSize = remaining
	run.FinishedAt = time.Now()

	if err := r.store.SaveRun(ctx, run); err != nil {
		r.log.Errorw("failed to persist failed run", "bom", run.BomKey, "error", err)
	}

	r.log.Errorw("enrichment run failed",
		"bom", run.BomKey,
		"run", run.Key,
		"reason", reason,
		"remaining", remaining,
		"error", cause)
	return cause
}

// checksumRefs flattens the checksum-typed purl refs of a package chunk
func checksumRefs(chunk []*model.Package) []*model.ExternalPurlRef {
	var refs []*model.ExternalPurlRef
	for _, pkg := range chunk {
		for i := range pkg.ExternalPurlRefs {
			if pkg.ExternalPurlRefs[i].Type == model.PurlRefTypeChecksum {
				refs = append(refs, &pkg.ExternalPurlRefs[i])
			}
		}
	}
	return refs
}
