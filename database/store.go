package database

import (
	"context"
	"fmt"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/opensbom/sbom-enrich/model"
)

// Store implements the persistence operations the enrichment pipeline and
// the API handlers need. All merge-sensitive writes go through AQL UPSERT
// keyed by the entity's composite identity, so re-running a pass can never
// duplicate rows.
type Store struct {
	db DBConnection
}

// NewStore wraps an initialized database connection
func NewStore(db DBConnection) *Store {
	return &Store{db: db}
}

func (s *Store) queryOne(ctx context.Context, query string, bindVars map[string]interface{}, out interface{}) (bool, error) {
	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return false, err
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return false, nil
	}
	if _, err := cursor.ReadDocument(ctx, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) exec(ctx context.Context, query string, bindVars map[string]interface{}) error {
	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return err
	}
	cursor.Close()
	return nil
}

// FindBomByKey returns the bom with the given key, or nil when it does not exist
func (s *Store) FindBomByKey(ctx context.Context, key string) (*model.Bom, error) {
	query := `
		FOR b IN bom
			FILTER b._key == @key
			LIMIT 1
			RETURN b
	`
	var bom model.Bom
	found, err := s.queryOne(ctx, query, map[string]interface{}{"key": key}, &bom)
	if err != nil || !found {
		return nil, err
	}
	return &bom, nil
}

// FindProductByBomKey returns the product that owns the given bom
func (s *Store) FindProductByBomKey(ctx context.Context, bomKey string) (*model.Product, error) {
	query := `
		FOR b IN bom
			FILTER b._key == @key
			FOR p IN product
				FILTER p._key == b.product_key
				LIMIT 1
				RETURN p
	`
	var product model.Product
	found, err := s.queryOne(ctx, query, map[string]interface{}{"key": bomKey}, &product)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no product for bom %s", bomKey)
	}
	return &product, nil
}

// FindPackageByKey returns a single package with its purl refs populated
func (s *Store) FindPackageByKey(ctx context.Context, key string) (*model.Package, error) {
	query := `
		FOR pkg IN package
			FILTER pkg._key == @key
			LIMIT 1
			RETURN MERGE(pkg, {
				external_purl_refs: (
					FOR ref IN purlref
						FILTER ref.pkg_key == pkg._key
						RETURN ref
				)
			})
	`
	var pkg model.Package
	found, err := s.queryOne(ctx, query, map[string]interface{}{"key": key}, &pkg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("package %s not found", key)
	}
	return &pkg, nil
}

// PackagesWithChecksumRefs returns the bom's packages that carry at least
// one purl ref of type "checksum", refs populated, ordered by key so that
// resume truncation sees a stable sequence
func (s *Store) PackagesWithChecksumRefs(ctx context.Context, bomKey string) ([]*model.Package, error) {
	query := `
		FOR pkg IN package
			FILTER pkg.bom_key == @bomKey
			LET refs = (
				FOR ref IN purlref
					FILTER ref.pkg_key == pkg._key
					RETURN ref
			)
			FILTER LENGTH(refs[* FILTER CURRENT.type == @refType]) > 0
			SORT pkg._key
			RETURN MERGE(pkg, { external_purl_refs: refs })
	`
	bindVars := map[string]interface{}{
		"bomKey":  bomKey,
		"refType": model.PurlRefTypeChecksum,
	}

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var packages []*model.Package
	for cursor.HasMore() {
		var pkg model.Package
		if _, err := cursor.ReadDocument(ctx, &pkg); err != nil {
			return nil, err
		}
		packages = append(packages, &pkg)
	}
	return packages, nil
}

// SavePackage persists the enriched copyright/license fields of a package
func (s *Store) SavePackage(ctx context.Context, pkg *model.Package) error {
	query := `
		UPDATE @key WITH {
			copyright: @copyright,
			license_concluded: @licenseConcluded
		} IN package
	`
	return s.exec(ctx, query, map[string]interface{}{
		"key":              pkg.Key,
		"copyright":        pkg.Copyright,
		"licenseConcluded": pkg.LicenseConcluded,
	})
}

// SaveLicenses upserts canonical license records by their spdx identifier
func (s *Store) SaveLicenses(ctx context.Context, licenses []*model.License) error {
	if len(licenses) == 0 {
		return nil
	}
	query := `
		FOR lic IN @licenses
			UPSERT { spdx: lic.spdx }
			INSERT lic
			UPDATE { is_legal: lic.is_legal } IN license
	`
	return s.exec(ctx, query, map[string]interface{}{"licenses": licenses})
}

// SavePkgLicenseRelps upserts package-license associations by (pkg, license)
func (s *Store) SavePkgLicenseRelps(ctx context.Context, relps []*model.PkgLicenseRelp) error {
	if len(relps) == 0 {
		return nil
	}
	query := `
		FOR relp IN @relps
			UPSERT { pkg_key: relp.pkg_key, license_spdx: relp.license_spdx }
			INSERT relp
			UPDATE {} IN pkglicense
	`
	return s.exec(ctx, query, map[string]interface{}{"relps": relps})
}

// UpsertVulnerability find-or-creates a vulnerability by its external id
func (s *Store) UpsertVulnerability(ctx context.Context, vul *model.Vulnerability) error {
	query := `
		UPSERT { vul_id: @vulId }
		INSERT { vul_id: @vulId, type: @type, objtype: "Vulnerability" }
		UPDATE { type: @type } IN vulnerability
	`
	return s.exec(ctx, query, map[string]interface{}{
		"vulId": vul.VulID,
		"type":  vul.Type,
	})
}

// UpsertVulReference upserts a reference by (vul id, source, url)
func (s *Store) UpsertVulReference(ctx context.Context, ref *model.VulReference) error {
	query := `
		UPSERT { vul_id: @vulId, source: @source, url: @url }
		INSERT { vul_id: @vulId, source: @source, url: @url, objtype: "VulReference" }
		UPDATE {} IN vulreference
	`
	return s.exec(ctx, query, map[string]interface{}{
		"vulId":  ref.VulID,
		"source": ref.Source,
		"url":    ref.URL,
	})
}

// UpsertVulScore upserts a score by (vul id, scoring system, score),
// refreshing the vector on reuse
func (s *Store) UpsertVulScore(ctx context.Context, score *model.VulScore) error {
	query := `
		UPSERT { vul_id: @vulId, scoring_system: @system, score: @score }
		INSERT { vul_id: @vulId, scoring_system: @system, score: @score, vector: @vector, objtype: "VulScore" }
		UPDATE { vector: @vector } IN vulscore
	`
	return s.exec(ctx, query, map[string]interface{}{
		"vulId":  score.VulID,
		"system": score.ScoringSystem,
		"score":  score.Score,
		"vector": score.Vector,
	})
}

// UpsertExternalVulRef upserts a package-vulnerability link by
// (pkg, vul id, purl). A previously set status is preserved; new links
// default to "affected".
func (s *Store) UpsertExternalVulRef(ctx context.Context, ref *model.ExternalVulRef) error {
	query := `
		UPSERT { pkg_key: @pkgKey, vul_id: @vulId, purl: @purl }
		INSERT {
			pkg_key: @pkgKey, vul_id: @vulId, purl: @purl,
			category: @category, type: @type, status: @status,
			objtype: "ExternalVulRef"
		}
		UPDATE { category: @category, type: @type } IN extvulref
	`
	return s.exec(ctx, query, map[string]interface{}{
		"pkgKey":   ref.PkgKey,
		"vulId":    ref.VulID,
		"purl":     ref.Purl,
		"category": ref.Category,
		"type":     ref.Type,
		"status":   ref.Status,
	})
}

// QueryRepoMetaByPackageName returns repo metadata rows matching the
// product coordinates and package name
func (s *Store) QueryRepoMetaByPackageName(ctx context.Context, productType, productVersion, name string) ([]*model.RepoMeta, error) {
	query := `
		FOR meta IN repometa
			FILTER meta.product_type == @productType
			   AND meta.product_version == @productVersion
			   AND meta.package_name == @name
			RETURN meta
	`
	bindVars := map[string]interface{}{
		"productType":    productType,
		"productVersion": productVersion,
		"name":           name,
	}

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var metas []*model.RepoMeta
	for cursor.HasMore() {
		var meta model.RepoMeta
		if _, err := cursor.ReadDocument(ctx, &meta); err != nil {
			return nil, err
		}
		metas = append(metas, &meta)
	}
	return metas, nil
}

// GetRepoMeta returns the metadata document for (repo name, branch)
func (s *Store) GetRepoMeta(ctx context.Context, repoName, branch string) (*model.RepoMeta, error) {
	query := `
		FOR meta IN repometa
			FILTER meta.repo_name == @repoName AND meta.branch == @branch
			LIMIT 1
			RETURN meta
	`
	var meta model.RepoMeta
	found, err := s.queryOne(ctx, query, map[string]interface{}{
		"repoName": repoName,
		"branch":   branch,
	}, &meta)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no repo meta for %s@%s", repoName, branch)
	}
	return &meta, nil
}

// SaveRun creates or updates an enrichment run document
func (s *Store) SaveRun(ctx context.Context, run *model.EnrichmentRun) error {
	if run.Key == "" {
		meta, err := s.db.Collections["run"].CreateDocument(ctx, run)
		if err != nil {
			return err
		}
		run.Key = meta.Key
		return nil
	}
	_, err := s.db.Collections["run"].ReplaceDocument(ctx, run.Key, run)
	return err
}

// FindRunByKey returns the run with the given key, or nil when absent
func (s *Store) FindRunByKey(ctx context.Context, key string) (*model.EnrichmentRun, error) {
	query := `
		FOR r IN run
			FILTER r._key == @key
			LIMIT 1
			RETURN r
	`
	var run model.EnrichmentRun
	found, err := s.queryOne(ctx, query, map[string]interface{}{"key": key}, &run)
	if err != nil || !found {
		return nil, err
	}
	return &run, nil
}

// FindLatestRunByBom returns the most recent run for a bom, or nil
func (s *Store) FindLatestRunByBom(ctx context.Context, bomKey string) (*model.EnrichmentRun, error) {
	query := `
		FOR r IN run
			FILTER r.bom_key == @bomKey
			SORT r.started_at DESC
			LIMIT 1
			RETURN r
	`
	var run model.EnrichmentRun
	found, err := s.queryOne(ctx, query, map[string]interface{}{"bomKey": bomKey}, &run)
	if err != nil || !found {
		return nil, err
	}
	return &run, nil
}

// FindFailedRuns lists runs that terminated with a failure and still hold a
// resume cursor, for the retry scheduler
func (s *Store) FindFailedRuns(ctx context.Context) ([]*model.EnrichmentRun, error) {
	query := `
		FOR r IN run
			FILTER r.status == @status
			SORT r.started_at
			RETURN r
	`
	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"status": model.RunStatusFailed},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var runs []*model.EnrichmentRun
	for cursor.HasMore() {
		var run model.EnrichmentRun
		if _, err := cursor.ReadDocument(ctx, &run); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

// CreateBom persists a new bom with its product
func (s *Store) CreateBom(ctx context.Context, bom *model.Bom, product *model.Product) error {
	productMeta, err := s.db.Collections["product"].CreateDocument(ctx, product)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	product.Key = productMeta.Key
	bom.ProductKey = productMeta.Key

	bomMeta, err := s.db.Collections["bom"].CreateDocument(ctx, bom)
	if err != nil {
		return fmt.Errorf("failed to save bom: %w", err)
	}
	bom.Key = bomMeta.Key
	return nil
}

// CreatePackage persists a new package and its purl refs
func (s *Store) CreatePackage(ctx context.Context, pkg *model.Package) error {
	refs := pkg.ExternalPurlRefs
	pkg.ExternalPurlRefs = nil

	pkgMeta, err := s.db.Collections["package"].CreateDocument(ctx, pkg)
	if err != nil {
		return fmt.Errorf("failed to save package: %w", err)
	}
	pkg.Key = pkgMeta.Key

	for i := range refs {
		refs[i].PkgKey = pkg.Key
		refMeta, err := s.db.Collections["purlref"].CreateDocument(ctx, refs[i])
		if err != nil {
			return fmt.Errorf("failed to save purl ref: %w", err)
		}
		refs[i].Key = refMeta.Key
	}
	pkg.ExternalPurlRefs = refs
	return nil
}

// PendingBoms lists boms that have never had a completed enrichment run
func (s *Store) PendingBoms(ctx context.Context) ([]*model.Bom, error) {
	query := `
		FOR b IN bom
			LET done = (
				FOR r IN run
					FILTER r.bom_key == b._key AND r.status == @status
					LIMIT 1
					RETURN 1
			)
			FILTER LENGTH(done) == 0
			RETURN b
	`
	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"status": model.RunStatusCompleted},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var boms []*model.Bom
	for cursor.HasMore() {
		var bom model.Bom
		if _, err := cursor.ReadDocument(ctx, &bom); err != nil {
			return nil, err
		}
		boms = append(boms, &bom)
	}
	return boms, nil
}
