// ABOUTME: Common types shared across the VulnRisk system.
// ABOUTME: Defines inventory records, catalog records, images, findings, and scored results.

package types

import "time"

// Column names used by the inventory and catalog tables
const (
	ColumnSystemID             = "System_ID"
	ColumnSoftwareVersion      = "Software_Version"
	ColumnComponentName        = "Component_Name"
	ColumnTimestamp            = "Timestamp"
	ColumnCVEID                = "CVE_ID"
	ColumnProduct              = "Product"
	ColumnDescription          = "Description"
	ColumnSeverity             = "Severity"
	ColumnCVSSScore            = "CVSS_Score"
	ColumnCriticalityLevel     = "Criticality_Level"
	ColumnExploitStatus        = "Exploit_Status"
	ColumnPatchAvailability    = "Patch_Availability"
	ColumnNetworkAccessLevel   = "Network_Access_Level"
	ColumnPatchLevel           = "Patch_Level"
	ColumnHistoricalAttackData = "Historical_Attack_Data"
	ColumnRiskScore            = "DAIVERP_Risk_Score"
)

// SystemRecord is one row of inventory data
type SystemRecord struct {
	SystemID           string
	SoftwareVersion    string // Free text, may embed a product name and version
	ComponentName      string
	NetworkAccessLevel string // Optional categorical field
	PatchLevel         string // Optional categorical field
	Timestamp          string
}

// VulnerabilityRecord is one row of the vulnerability catalog
type VulnerabilityRecord struct {
	CVEID                string
	Product              string
	Description          string
	CVSSScore            float64
	CriticalityLevel     string // High, Medium, Low
	ExploitStatus        string
	PatchAvailability    string
	HistoricalAttackData float64
}

// ImageInfo represents a discovered container image with its Kubernetes context
type ImageInfo struct {
	URI          string
	Namespace    string
	Workload     string
	WorkloadType string // "Deployment", "StatefulSet", etc.
	Container    string
	Annotations  map[string]string
}

// VulnerabilityFinding represents a single registry scan finding
type VulnerabilityFinding struct {
	Name             string  `json:"name"`              // CVE ID
	Description      string  `json:"description"`       // Vulnerability description
	Severity         string  `json:"severity"`          // CRITICAL, HIGH, MEDIUM, LOW
	PackageName      string  `json:"package_name"`      // Vulnerable package name
	PackageVersion   string  `json:"package_version"`   // Current package version
	FixVersion       string  `json:"fix_version"`       // Version with fix (if available)
	ExploitAvailable string  `json:"exploit_available"` // YES, NO, or unknown
	FixAvailable     string  `json:"fix_available"`     // YES, NO, PARTIAL, or unknown
	Score            float64 `json:"score"`             // CVSS or provider-specific score
}

// RiskScore is the scored outcome for one matched (system, vulnerability) pair
type RiskScore struct {
	CVEID            string  `json:"CVE_ID"`
	SystemID         string  `json:"System_ID"`
	Product          string  `json:"Product"`
	RiskScorePercent string  `json:"DAIVERP_Risk_Score"`
	Raw              float64 `json:"-"`
}

// PredictionResult is the final output table of one scoring run
type PredictionResult struct {
	RunID      string
	Model      string
	OutputPath string
	CreatedAt  time.Time
	Rows       []RiskScore
}

// MaxRisk returns the highest raw score in the result, ignoring missing scores
func (p *PredictionResult) MaxRisk() float64 {
	highest := 0.0
	for _, row := range p.Rows {
		if row.Raw > highest {
			highest = row.Raw
		}
	}
	return highest
}
