// Package model - Vulnerability entities merged by composite identity on every ingestion pass
package model

// Reference source and type constants for vulnerability records
const (
	VulRefSourceNVD      = "NVD"
	VulTypeCVE           = "cve"
	ReferenceCategorySec = "SECURITY"

	VulScoringSystemCVSS2 = "CVSS2"
	VulScoringSystemCVSS3 = "CVSS3"

	VulStatusAffected = "affected"
	VulStatusFixed    = "fixed"
)

// Vulnerability is a canonical vulnerability record identified by its external id
type Vulnerability struct {
	Key     string `json:"_key,omitempty"`
	ObjType string `json:"objtype,omitempty"`
	VulID   string `json:"vul_id"`
	Type    string `json:"type"`
}

// NewVulnerability creates a new Vulnerability instance
func NewVulnerability() *Vulnerability {
	return &Vulnerability{
		ObjType: "Vulnerability",
		Type:    VulTypeCVE,
	}
}

// VulReference is a (source, url) pair describing where a vulnerability is documented.
// Identity for merge is (vul id, source, url).
type VulReference struct {
	Key     string `json:"_key,omitempty"`
	ObjType string `json:"objtype,omitempty"`
	VulID   string `json:"vul_id"`
	Source  string `json:"source"`
	URL     string `json:"url"`
}

// NewVulReference creates a new VulReference instance
func NewVulReference() *VulReference {
	return &VulReference{
		ObjType: "VulReference",
	}
}

// VulScore is one scoring-system score owned by a vulnerability.
// Identity for merge is (vul id, scoring system, score).
type VulScore struct {
	Key           string  `json:"_key,omitempty"`
	ObjType       string  `json:"objtype,omitempty"`
	VulID         string  `json:"vul_id"`
	ScoringSystem string  `json:"scoring_system"`
	Score         float64 `json:"score"`
	Vector        string  `json:"vector,omitempty"`
}

// NewVulScore creates a new VulScore instance
func NewVulScore() *VulScore {
	return &VulScore{
		ObjType: "VulScore",
	}
}

// ExternalVulRef joins a package (via its canonical purl) to a vulnerability.
// Identity for merge is (vul id, purl) scoped to the owning package.
type ExternalVulRef struct {
	Key      string `json:"_key,omitempty"`
	ObjType  string `json:"objtype,omitempty"`
	PkgKey   string `json:"pkg_key"`
	VulID    string `json:"vul_id"`
	Purl     string `json:"purl"`
	Category string `json:"category"`
	Type     string `json:"type"`
	Status   string `json:"status"`
}

// NewExternalVulRef creates a new ExternalVulRef instance
func NewExternalVulRef() *ExternalVulRef {
	return &ExternalVulRef{
		ObjType:  "ExternalVulRef",
		Category: ReferenceCategorySec,
		Type:     VulTypeCVE,
	}
}
