// Package model - License entities and the transient per-lookup license result
package model

// License is a canonical, deduplicated license identifier shared by many packages.
// Identity is the normalized Spdx string.
type License struct {
	Key     string `json:"_key,omitempty"`
	ObjType string `json:"objtype,omitempty"`
	Spdx    string `json:"spdx"`
	IsLegal bool   `json:"is_legal"`
}

// NewLicense creates a new License instance
func NewLicense() *License {
	return &License{
		ObjType: "License",
	}
}

// PkgLicenseRelp joins one package to one license.
// No duplicate (pkg, license) pair may exist after any number of runs.
type PkgLicenseRelp struct {
	Key         string `json:"_key,omitempty"`
	ObjType     string `json:"objtype,omitempty"`
	PkgKey      string `json:"pkg_key"`
	LicenseSpdx string `json:"license_spdx"`
}

// NewPkgLicenseRelp creates a new PkgLicenseRelp instance
func NewPkgLicenseRelp() *PkgLicenseRelp {
	return &PkgLicenseRelp{
		ObjType: "PkgLicenseRelp",
	}
}

// LicenseInfo is the transient result of a single license resolution lookup.
// It is folded into persisted entities and then discarded.
type LicenseInfo struct {
	RepoLicense        []string `json:"repo_license"`
	RepoLicenseLegal   []string `json:"repo_license_legal"`
	RepoLicenseIllegal []string `json:"repo_license_illegal"`
	RepoCopyrightLegal []string `json:"repo_copyright_legal"`
}
