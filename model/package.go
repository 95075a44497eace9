// Package model - Package and its external purl references
package model

// PurlRefTypeChecksum marks refs eligible for enrichment
const PurlRefTypeChecksum = "checksum"

// Package is one software component instance within a bom
type Package struct {
	Key              string `json:"_key,omitempty"`
	ObjType          string `json:"objtype,omitempty"`
	BomKey           string `json:"bom_key"`
	Name             string `json:"name"`
	Version          string `json:"version,omitempty"`
	Copyright        string `json:"copyright,omitempty"`
	LicenseConcluded string `json:"license_concluded,omitempty"`

	// ExternalPurlRefs is populated by the store on read, not stored inline
	ExternalPurlRefs []ExternalPurlRef `json:"external_purl_refs,omitempty"`
}

// NewPackage creates a new Package instance
func NewPackage() *Package {
	return &Package{
		ObjType: "Package",
	}
}

// HasChecksumRef reports whether the package carries at least one purl ref of type "checksum"
func (p *Package) HasChecksumRef() bool {
	for _, ref := range p.ExternalPurlRefs {
		if ref.Type == PurlRefTypeChecksum {
			return true
		}
	}
	return false
}

// ExternalPurlRef is a typed external identifier attached to exactly one package
type ExternalPurlRef struct {
	Key     string `json:"_key,omitempty"`
	ObjType string `json:"objtype,omitempty"`
	PkgKey  string `json:"pkg_key"`
	Type    string `json:"type"`
	Purl    string `json:"purl"`
}

// NewExternalPurlRef creates a new ExternalPurlRef instance
func NewExternalPurlRef() *ExternalPurlRef {
	return &ExternalPurlRef{
		ObjType: "ExternalPurlRef",
	}
}
