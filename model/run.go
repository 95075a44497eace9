// Package model - EnrichmentRun is the job-scoped execution context for one enrichment pass
package model

import "time"

// Run status values
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// BulkRequestSize bounds external request payloads; typical upstream
// services reject larger identifier sets.
const BulkRequestSize = 128

// EnrichmentRun records one enrichment invocation for a bom, including the
// resume cursor (RemainingSize) persisted across failed attempts.
type EnrichmentRun struct {
	Key           string    `json:"_key,omitempty"`
	ObjType       string    `json:"objtype,omitempty"`
	BomKey        string    `json:"bom_key"`
	Status        string    `json:"status"`
	RemainingSize int       `json:"remaining_size"`
	FailureReason string    `json:"failure_reason,omitempty"`
	PackageCount  int       `json:"package_count"`
	LicenseCount  int       `json:"license_count"`
	RelpCount     int       `json:"relp_count"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// NewEnrichmentRun creates a new EnrichmentRun instance
func NewEnrichmentRun() *EnrichmentRun {
	return &EnrichmentRun{
		ObjType: "EnrichmentRun",
		Status:  RunStatusPending,
	}
}
