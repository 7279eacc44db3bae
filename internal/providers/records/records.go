// ABOUTME: Converts discovered images and registry scan findings into inventory and catalog records.
// ABOUTME: Shared by the cluster, local and mock providers so every source yields the same columns.

package records

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jfeddern/VulnRisk/internal/types"
)

// Workload annotations that override discovered values
const (
	AnnotationSoftwareVersion    = "vulnrisk.io/software-version"
	AnnotationNetworkAccessLevel = "vulnrisk.io/network-access-level"
	AnnotationPatchLevel         = "vulnrisk.io/patch-level"
	AnnotationDiscoveredAt       = "vulnrisk.io/discovered-at"
)

// ProductResolver maps free text to a canonical product name
type ProductResolver interface {
	Extract(text string) (string, bool)
}

// ImageDiscoverer lists the container images running in an environment
type ImageDiscoverer interface {
	DiscoverImages(ctx context.Context) ([]types.ImageInfo, error)
}

// ImageFindings pairs an image with its scan findings
type ImageFindings struct {
	Image    types.ImageInfo
	Findings []types.VulnerabilityFinding
}

// SystemID identifies a container by namespace, workload and container name
func SystemID(image types.ImageInfo) string {
	parts := []string{image.Namespace, image.Workload}
	if image.Container != "" {
		parts = append(parts, image.Container)
	}
	return strings.Join(parts, "/")
}

// annotation looks up a per-container key (<key>.<container>) before the plain key
func annotation(image types.ImageInfo, key string) string {
	if image.Container != "" {
		if v, ok := image.Annotations[key+"."+image.Container]; ok {
			return v
		}
	}
	return image.Annotations[key]
}

// FromImage builds the inventory record for one discovered container image
func FromImage(image types.ImageInfo) types.SystemRecord {
	version := annotation(image, AnnotationSoftwareVersion)
	if version == "" {
		version = image.URI
	}
	return types.SystemRecord{
		SystemID:           SystemID(image),
		SoftwareVersion:    version,
		ComponentName:      image.Container,
		NetworkAccessLevel: annotation(image, AnnotationNetworkAccessLevel),
		PatchLevel:         annotation(image, AnnotationPatchLevel),
		Timestamp:          image.Annotations[AnnotationDiscoveredAt],
	}
}

// FromImages builds inventory records in image order
func FromImages(images []types.ImageInfo) []types.SystemRecord {
	out := make([]types.SystemRecord, len(images))
	for i, image := range images {
		out[i] = FromImage(image)
	}
	return out
}

// FormatTimestamp renders discovery times the way inventory exports write them
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// Criticality maps a scanner severity to the ordinal criticality label
func Criticality(severity string) string {
	switch strings.ToUpper(severity) {
	case "CRITICAL", "HIGH":
		return "High"
	case "MEDIUM":
		return "Medium"
	case "LOW", "INFORMATIONAL":
		return "Low"
	default:
		return ""
	}
}

// ExploitStatus maps scanner exploit availability to the catalog category
func ExploitStatus(exploitAvailable string) string {
	switch strings.ToUpper(exploitAvailable) {
	case "YES":
		return "Yes"
	case "NO":
		return "No"
	default:
		return ""
	}
}

// PatchAvailability maps scanner fix availability to the catalog category
func PatchAvailability(fixAvailable string) string {
	switch strings.ToUpper(fixAvailable) {
	case "YES":
		return "Available"
	case "NO":
		return "Not Available"
	case "PARTIAL":
		return "Partial"
	default:
		return ""
	}
}

var severityRank = map[string]int{
	"High":   3,
	"Medium": 2,
	"Low":    1,
}

type catalogKey struct {
	cve     string
	product string
}

type catalogEntry struct {
	record types.VulnerabilityRecord
	images map[string]bool
}

// Catalog aggregates scan findings into one record per (CVE, product). The
// product comes from the vulnerable package name, falling back to the image's
// software version; findings with no resolvable product are counted as skipped.
// Historical_Attack_Data is the number of distinct images carrying the CVE.
// Records are sorted by product, then CVE.
func Catalog(scans []ImageFindings, resolver ProductResolver) ([]types.VulnerabilityRecord, int) {
	entries := make(map[catalogKey]*catalogEntry)
	skipped := 0

	for _, scan := range scans {
		for _, finding := range scan.Findings {
			if finding.Name == "" {
				skipped++
				continue
			}
			product, ok := resolver.Extract(finding.PackageName)
			if !ok {
				product, ok = resolver.Extract(FromImage(scan.Image).SoftwareVersion)
			}
			if !ok {
				skipped++
				continue
			}

			key := catalogKey{cve: finding.Name, product: product}
			entry, exists := entries[key]
			if !exists {
				entry = &catalogEntry{
					record: types.VulnerabilityRecord{
						CVEID:     finding.Name,
						Product:   product,
						CVSSScore: math.NaN(),
					},
					images: make(map[string]bool),
				}
				entries[key] = entry
			}
			merge(&entry.record, finding)
			entry.images[scan.Image.URI] = true
		}
	}

	out := make([]types.VulnerabilityRecord, 0, len(entries))
	for _, entry := range entries {
		entry.record.HistoricalAttackData = float64(len(entry.images))
		out = append(out, entry.record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Product != out[j].Product {
			return out[i].Product < out[j].Product
		}
		return out[i].CVEID < out[j].CVEID
	})
	return out, skipped
}

// merge folds one finding into a catalog record, keeping the worst case
func merge(record *types.VulnerabilityRecord, finding types.VulnerabilityFinding) {
	if record.Description == "" {
		record.Description = finding.Description
	}
	if finding.Score > 0 && (math.IsNaN(record.CVSSScore) || finding.Score > record.CVSSScore) {
		record.CVSSScore = finding.Score
	}
	if c := Criticality(finding.Severity); severityRank[c] > severityRank[record.CriticalityLevel] {
		record.CriticalityLevel = c
	}
	if status := ExploitStatus(finding.ExploitAvailable); status != "" && record.ExploitStatus != "Yes" {
		record.ExploitStatus = status
	}
	if patch := PatchAvailability(finding.FixAvailable); patch != "" {
		// Any image still lacking a fix makes the pair unpatched
		if record.PatchAvailability == "" || patch == "Not Available" {
			record.PatchAvailability = patch
		}
	}
}
