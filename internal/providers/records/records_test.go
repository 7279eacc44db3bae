// ABOUTME: Tests for image-to-inventory and findings-to-catalog conversion.
// ABOUTME: Covers annotation overrides, category mappings and per-product aggregation.

package records

import (
	"math"
	"testing"
	"time"

	"github.com/jfeddern/VulnRisk/internal/matcher"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver() ProductResolver {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return matcher.NewProductMatcher(nil, logger)
}

func TestFromImage(t *testing.T) {
	tests := []struct {
		name     string
		image    types.ImageInfo
		expected types.SystemRecord
	}{
		{
			name: "image reference as version",
			image: types.ImageInfo{
				URI:       "123456789012.dkr.ecr.us-east-1.amazonaws.com/nginx:1.25.3",
				Namespace: "ingress",
				Workload:  "edge",
				Container: "proxy",
			},
			expected: types.SystemRecord{
				SystemID:        "ingress/edge/proxy",
				SoftwareVersion: "123456789012.dkr.ecr.us-east-1.amazonaws.com/nginx:1.25.3",
				ComponentName:   "proxy",
			},
		},
		{
			name: "annotations override",
			image: types.ImageInfo{
				URI:       "registry.local/app:2",
				Namespace: "shop",
				Workload:  "storefront",
				Container: "php",
				Annotations: map[string]string{
					AnnotationSoftwareVersion:          "generic",
					AnnotationSoftwareVersion + ".php": "WordPress 6.4.2",
					AnnotationNetworkAccessLevel:       "Public",
					AnnotationPatchLevel:               "Outdated",
					AnnotationDiscoveredAt:             "2025-01-15 10:30:00",
				},
			},
			expected: types.SystemRecord{
				SystemID:           "shop/storefront/php",
				SoftwareVersion:    "WordPress 6.4.2",
				ComponentName:      "php",
				NetworkAccessLevel: "Public",
				PatchLevel:         "Outdated",
				Timestamp:          "2025-01-15 10:30:00",
			},
		},
		{
			name:  "no container name",
			image: types.ImageInfo{URI: "mysql:8.0", Namespace: "local", Workload: "local"},
			expected: types.SystemRecord{
				SystemID:        "local/local",
				SoftwareVersion: "mysql:8.0",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FromImage(tt.image))
		})
	}
}

func TestCategoryMappings(t *testing.T) {
	assert.Equal(t, "High", Criticality("CRITICAL"))
	assert.Equal(t, "High", Criticality("high"))
	assert.Equal(t, "Medium", Criticality("MEDIUM"))
	assert.Equal(t, "Low", Criticality("INFORMATIONAL"))
	assert.Equal(t, "", Criticality("UNDEFINED"))

	assert.Equal(t, "Yes", ExploitStatus("YES"))
	assert.Equal(t, "No", ExploitStatus("NO"))
	assert.Equal(t, "", ExploitStatus("unknown"))

	assert.Equal(t, "Available", PatchAvailability("YES"))
	assert.Equal(t, "Not Available", PatchAvailability("NO"))
	assert.Equal(t, "Partial", PatchAvailability("PARTIAL"))
	assert.Equal(t, "", PatchAvailability(""))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "", FormatTimestamp(time.Time{}))
	at := time.Date(2025, 1, 15, 11, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2025-01-15 10:30:00", FormatTimestamp(at))
}

func TestCatalogAggregatesPerProduct(t *testing.T) {
	scans := []ImageFindings{
		{
			Image: types.ImageInfo{URI: "registry/web:1"},
			Findings: []types.VulnerabilityFinding{
				{Name: "CVE-2024-0001", PackageName: "openssl", Severity: "MEDIUM", Score: 5.3, ExploitAvailable: "NO", FixAvailable: "YES", Description: "first"},
				{Name: "CVE-2024-0002", PackageName: "nginx", Severity: "LOW", Score: 3.1, FixAvailable: "YES"},
				{Name: "CVE-2024-0003", PackageName: "libxml2", Severity: "HIGH", Score: 7.5},
			},
		},
		{
			Image: types.ImageInfo{URI: "registry/api:2"},
			Findings: []types.VulnerabilityFinding{
				{Name: "CVE-2024-0001", PackageName: "OpenSSL", Severity: "CRITICAL", Score: 9.1, ExploitAvailable: "YES", FixAvailable: "NO", Description: "second"},
				{Name: "", PackageName: "openssl"},
			},
		},
		{
			// Package unknown, product taken from the image reference
			Image: types.ImageInfo{URI: "registry/mysql:8.0"},
			Findings: []types.VulnerabilityFinding{
				{Name: "CVE-2024-0004", PackageName: "zlib", Severity: "HIGH"},
			},
		},
	}

	records, skipped := Catalog(scans, newResolver())
	assert.Equal(t, 2, skipped)
	require.Len(t, records, 3)

	assert.Equal(t, "MySQL", records[0].Product)
	assert.Equal(t, "CVE-2024-0004", records[0].CVEID)
	assert.True(t, math.IsNaN(records[0].CVSSScore))
	assert.Equal(t, 1.0, records[0].HistoricalAttackData)

	assert.Equal(t, "Nginx", records[1].Product)
	assert.Equal(t, "Available", records[1].PatchAvailability)
	assert.Equal(t, "", records[1].ExploitStatus)

	openssl := records[2]
	assert.Equal(t, "OpenSSL", openssl.Product)
	assert.Equal(t, "CVE-2024-0001", openssl.CVEID)
	assert.Equal(t, "first", openssl.Description)
	assert.Equal(t, 9.1, openssl.CVSSScore)
	assert.Equal(t, "High", openssl.CriticalityLevel)
	assert.Equal(t, "Yes", openssl.ExploitStatus)
	assert.Equal(t, "Not Available", openssl.PatchAvailability)
	assert.Equal(t, 2.0, openssl.HistoricalAttackData)
}
