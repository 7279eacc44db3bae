// ABOUTME: Builders that turn typed inventory and catalog records into frames.
// ABOUTME: Used by sources that do not read tabular files (cluster discovery, registry scans, mocks).

package table

import (
	"github.com/jfeddern/VulnRisk/internal/types"
)

// SystemFrame builds an inventory frame with the standard system columns
func SystemFrame(records []types.SystemRecord) *Frame {
	n := len(records)
	ids := make([]string, n)
	versions := make([]string, n)
	components := make([]string, n)
	access := make([]string, n)
	patch := make([]string, n)
	timestamps := make([]string, n)

	for i, rec := range records {
		ids[i] = rec.SystemID
		versions[i] = rec.SoftwareVersion
		components[i] = rec.ComponentName
		access[i] = rec.NetworkAccessLevel
		patch[i] = rec.PatchLevel
		timestamps[i] = rec.Timestamp
	}

	frame, _ := FromColumns(
		NewTextColumn(types.ColumnSystemID, ids),
		NewTextColumn(types.ColumnSoftwareVersion, versions),
		NewTextColumn(types.ColumnComponentName, components),
		NewTextColumn(types.ColumnNetworkAccessLevel, access),
		NewTextColumn(types.ColumnPatchLevel, patch),
		NewTextColumn(types.ColumnTimestamp, timestamps),
	)
	return frame
}

// CatalogFrame builds a vulnerability catalog frame with the standard catalog columns
func CatalogFrame(records []types.VulnerabilityRecord) *Frame {
	n := len(records)
	ids := make([]string, n)
	products := make([]string, n)
	descriptions := make([]string, n)
	cvss := make([]float64, n)
	criticality := make([]string, n)
	exploit := make([]string, n)
	patch := make([]string, n)
	history := make([]float64, n)

	for i, rec := range records {
		ids[i] = rec.CVEID
		products[i] = rec.Product
		descriptions[i] = rec.Description
		cvss[i] = rec.CVSSScore
		criticality[i] = rec.CriticalityLevel
		exploit[i] = rec.ExploitStatus
		patch[i] = rec.PatchAvailability
		history[i] = rec.HistoricalAttackData
	}

	frame, _ := FromColumns(
		NewTextColumn(types.ColumnCVEID, ids),
		NewTextColumn(types.ColumnProduct, products),
		NewTextColumn(types.ColumnDescription, descriptions),
		NewNumericColumn(types.ColumnCVSSScore, cvss),
		NewTextColumn(types.ColumnCriticalityLevel, criticality),
		NewTextColumn(types.ColumnExploitStatus, exploit),
		NewTextColumn(types.ColumnPatchAvailability, patch),
		NewNumericColumn(types.ColumnHistoricalAttackData, history),
	)
	return frame
}
