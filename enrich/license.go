package enrich

import (
	"context"
	"fmt"

	"github.com/opensbom/sbom-enrich/cache"
	"github.com/opensbom/sbom-enrich/model"
	"github.com/opensbom/sbom-enrich/util"
	"go.uber.org/zap"
)

// ProductTypeOpenEuler selects the first-party metadata strategy; every
// other product type resolves through the external license service.
const ProductTypeOpenEuler = "openEuler"

// LicenseStore is the slice of the store the license resolver needs
type LicenseStore interface {
	FindProductByBomKey(ctx context.Context, bomKey string) (*model.Product, error)
	FindPackageByKey(ctx context.Context, key string) (*model.Package, error)
	QueryRepoMetaByPackageName(ctx context.Context, productType, productVersion, name string) ([]*model.RepoMeta, error)
}

// LicenseIntel is the external license-intelligence client surface
type LicenseIntel interface {
	GetPurlForLicense(purl, productType, productVersion string) string
	GetLicenseInfoByPurls(ctx context.Context, purls []string) (map[string]*model.LicenseInfo, error)
}

// ExtractResult is the staged output of resolving one chunk: the touched
// packages, the canonical licenses, and the new package-license relps.
type ExtractResult struct {
	Packages map[string]*model.Package
	Licenses map[string]*model.License
	Relps    []*model.PkgLicenseRelp

	staged map[string]map[string]bool // pkg key -> license spdx already staged
}

func newExtractResult() *ExtractResult {
	return &ExtractResult{
		Packages: make(map[string]*model.Package),
		Licenses: make(map[string]*model.License),
		staged:   make(map[string]map[string]bool),
	}
}

func (r *ExtractResult) hasRelp(pkgKey, spdx string) bool {
	return r.staged[pkgKey][spdx]
}

func (r *ExtractResult) addRelp(pkg *model.Package, spdx string) {
	relp := model.NewPkgLicenseRelp()
	relp.PkgKey = pkg.Key
	relp.LicenseSpdx = spdx
	r.Relps = append(r.Relps, relp)

	if r.staged[pkg.Key] == nil {
		r.staged[pkg.Key] = make(map[string]bool)
	}
	r.staged[pkg.Key][spdx] = true
}

// refInfo pairs a purl ref with the license lookup result for it
type refInfo struct {
	ref  *model.ExternalPurlRef
	info *model.LicenseInfo
}

// licenseStrategy resolves license info for a chunk of purl refs. Adding a
// provider means adding an implementation; the merge/dedup logic below never
// changes.
type licenseStrategy interface {
	extract(ctx context.Context, chunk []*model.ExternalPurlRef, product *model.Product) ([]refInfo, error)
}

// LicenseResolver resolves and stages license facts for chunks of purl refs
type LicenseResolver struct {
	store       LicenseStore
	client      LicenseIntel
	standardMap *cache.LicenseStandardMap
	licCache    *cache.LicenseObjectCache
	repoMetas   *cache.RepoMetaCache
	log         *zap.SugaredLogger
}

// NewLicenseResolver creates a license resolver over the given collaborators
func NewLicenseResolver(store LicenseStore, client LicenseIntel, standardMap *cache.LicenseStandardMap,
	licCache *cache.LicenseObjectCache, repoMetas *cache.RepoMetaCache, log *zap.SugaredLogger) *LicenseResolver {
	return &LicenseResolver{
		store:       store,
		client:      client,
		standardMap: standardMap,
		licCache:    licCache,
		repoMetas:   repoMetas,
		log:         log,
	}
}

// Resolve looks up license info for one chunk of purl refs and folds it into
// an ExtractResult. Idempotent per chunk: repeated runs stage the same state.
func (l *LicenseResolver) Resolve(ctx context.Context, bomKey string, chunk []*model.ExternalPurlRef) (*ExtractResult, error) {
	l.log.Infow("start license extraction", "bom", bomKey, "chunk_size", len(chunk))

	product, err := l.store.FindProductByBomKey(ctx, bomKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find product for bom %s: %w", bomKey, err)
	}

	var strategy licenseStrategy
	if product.ProductType == ProductTypeOpenEuler {
		strategy = &firstPartyStrategy{store: l.store, repoMetas: l.repoMetas, log: l.log}
	} else {
		strategy = &externalStrategy{client: l.client}
	}

	pairs, err := strategy.extract(ctx, chunk, product)
	if err != nil {
		return nil, err
	}

	result, err := l.merge(ctx, pairs)
	if err != nil {
		return nil, err
	}

	l.log.Infow("finish license extraction",
		"bom", bomKey,
		"packages", len(result.Packages),
		"licenses", len(result.Licenses),
		"relps", len(result.Relps))
	return result, nil
}

// merge applies the strategy-independent steps: first-wins field assignment,
// license standardization, legality classification, and association dedup.
func (l *LicenseResolver) merge(ctx context.Context, pairs []refInfo) (*ExtractResult, error) {
	result := newExtractResult()
	chunkIllegal := make(map[string][]string)

	for _, pair := range pairs {
		if pair.info == nil {
			continue // nothing to do for this ref
		}

		pkg, err := l.store.FindPackageByKey(ctx, pair.ref.PkgKey)
		if err != nil {
			return nil, fmt.Errorf("failed to find package %s: %w", pair.ref.PkgKey, err)
		}
		if cached, ok := result.Packages[pkg.Key]; ok {
			pkg = cached
		}

		if len(pair.info.RepoLicenseIllegal) > 0 {
			chunkIllegal[pkg.Name] = pair.info.RepoLicenseIllegal
		}

		setLicenseAndCopyright(pair.info, pkg)

		candidates := make([]string, 0, len(pair.info.RepoLicenseIllegal)+len(pair.info.RepoLicenseLegal))
		candidates = append(candidates, pair.info.RepoLicenseIllegal...)
		candidates = append(candidates, pair.info.RepoLicenseLegal...)

		for _, raw := range candidates {
			spdx := l.standardMap.Standardize(raw)
			legal := !util.Contains(pair.info.RepoLicenseIllegal, spdx)
			license := l.licCache.Get(spdx, legal)
			result.Licenses[spdx] = license
			result.Packages[pkg.Key] = pkg
			if !result.hasRelp(pkg.Key, spdx) {
				result.addRelp(pkg, spdx)
			}
		}
	}

	if len(chunkIllegal) > 0 {
		l.log.Warnw("illegal licenses in chunk", "packages", chunkIllegal)
	}
	return result, nil
}

// setLicenseAndCopyright assigns the first legal copyright and the first raw
// license to the package. First-wins: an already populated field is kept, so
// repeated runs are stable.
func setLicenseAndCopyright(info *model.LicenseInfo, pkg *model.Package) {
	if len(info.RepoCopyrightLegal) > 0 && pkg.Copyright == "" {
		pkg.Copyright = info.RepoCopyrightLegal[0]
	}
	if len(info.RepoLicense) > 0 && pkg.LicenseConcluded == "" {
		pkg.LicenseConcluded = info.RepoLicense[0]
	}
}

// firstPartyStrategy resolves licenses from first-party repository metadata
type firstPartyStrategy struct {
	store     LicenseStore
	repoMetas *cache.RepoMetaCache
	log       *zap.SugaredLogger
}

func (s *firstPartyStrategy) extract(ctx context.Context, chunk []*model.ExternalPurlRef, product *model.Product) ([]refInfo, error) {
	var pairs []refInfo
	var noMetaPkgs []string

	for _, ref := range chunk {
		name := util.PurlName(ref.Purl)
		metas, err := s.store.QueryRepoMetaByPackageName(ctx, product.ProductType, product.ProductVersion, name)
		if err != nil {
			return nil, fmt.Errorf("failed to query repo meta for %s: %w", name, err)
		}
		if len(metas) == 0 {
			noMetaPkgs = append(noMetaPkgs, name)
			continue
		}

		meta, err := s.repoMetas.Get(metas[0].RepoName, metas[0].Branch)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch repo meta %s@%s: %w", metas[0].RepoName, metas[0].Branch, err)
		}
		if meta.AttrStrings(model.RepoAttrLicense) == nil {
			continue // repo carries no license data for this package
		}

		pairs = append(pairs, refInfo{
			ref: ref,
			info: &model.LicenseInfo{
				RepoLicense:        meta.AttrStrings(model.RepoAttrLicense),
				RepoLicenseLegal:   meta.AttrStrings(model.RepoAttrLicenseLegal),
				RepoLicenseIllegal: meta.AttrStrings(model.RepoAttrLicenseIllegal),
				RepoCopyrightLegal: meta.AttrStrings(model.RepoAttrCopyright),
			},
		})
	}

	if len(noMetaPkgs) > 0 {
		s.log.Warnw("no repo meta for packages",
			"product_version", product.ProductVersion,
			"packages", noMetaPkgs)
	}
	return pairs, nil
}

// externalStrategy resolves licenses through the external license service
// with one batched query per chunk
type externalStrategy struct {
	client LicenseIntel
}

func (s *externalStrategy) extract(ctx context.Context, chunk []*model.ExternalPurlRef, product *model.Product) ([]refInfo, error) {
	lookupKeys := make(map[string]bool)
	refKeys := make(map[*model.ExternalPurlRef]string)

	for _, ref := range chunk {
		key := s.client.GetPurlForLicense(ref.Purl, product.ProductType, product.ProductVersion)
		if key == "" {
			continue // no mapping, drop the ref
		}
		refKeys[ref] = key
		lookupKeys[key] = true
	}

	distinct := make([]string, 0, len(lookupKeys))
	for key := range lookupKeys {
		distinct = append(distinct, key)
	}

	infoMap, err := s.client.GetLicenseInfoByPurls(ctx, distinct)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch license info: %w", err)
	}

	var pairs []refInfo
	for _, ref := range chunk {
		key, ok := refKeys[ref]
		if !ok {
			continue
		}
		pairs = append(pairs, refInfo{ref: ref, info: infoMap[key]})
	}
	return pairs, nil
}
