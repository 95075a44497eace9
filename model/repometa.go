// Package model - RepoMeta holds first-party repository metadata, read-only to the enrichment core
package model

// Extended attribute keys carried by first-party repo metadata
const (
	RepoAttrLicense        = "license"
	RepoAttrLicenseLegal   = "license_legal"
	RepoAttrLicenseIllegal = "license_illegal"
	RepoAttrCopyright      = "copyright"
)

// RepoMeta is per-package repository metadata keyed by (repo name, branch)
// or (product type, product version, package name)
type RepoMeta struct {
	Key            string         `json:"_key,omitempty"`
	ObjType        string         `json:"objtype,omitempty"`
	RepoName       string         `json:"repo_name"`
	Branch         string         `json:"branch"`
	ProductType    string         `json:"product_type,omitempty"`
	ProductVersion string         `json:"product_version,omitempty"`
	PackageName    string         `json:"package_name,omitempty"`
	ExtendedAttr   map[string]any `json:"extended_attr,omitempty"`
}

// NewRepoMeta creates a new RepoMeta instance
func NewRepoMeta() *RepoMeta {
	return &RepoMeta{
		ObjType: "RepoMeta",
	}
}

// AttrStrings reads a string array out of the extended-attributes map.
// Returns nil when the key is absent or not an array.
func (r *RepoMeta) AttrStrings(key string) []string {
	if r.ExtendedAttr == nil {
		return nil
	}
	raw, ok := r.ExtendedAttr[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
