// Package model - ComponentReport is the wire shape returned by the vulnerability-intelligence service
package model

// ComponentReport is one bulk answer from the external scoring service
type ComponentReport struct {
	Data []Finding `json:"data"`
}

// Finding is one vulnerability record returned for a queried canonical purl
type Finding struct {
	Purl        string  `json:"purl"`
	CveNum      string  `json:"cve_num"`
	CveURL      string  `json:"cve_url"`
	Cvss2Score  float64 `json:"cvss2_score"`
	Cvss2Vector string  `json:"cvss2_vector"`
	Cvss3Score  float64 `json:"cvss3_score"`
	Cvss3Vector string  `json:"cvss3_vector"`
}
