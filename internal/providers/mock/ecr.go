// ABOUTME: Mock ECR vulnerability catalog for local testing and development.
// ABOUTME: Generates realistic scan findings per image profile without requiring AWS credentials.

package mock

import (
	"context"
	"fmt"
	"strings"

	"github.com/jfeddern/VulnRisk/internal/providers/records"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
)

// MockECRCatalog implements CatalogSource with mock scan findings
type MockECRCatalog struct {
	images   records.ImageDiscoverer
	resolver records.ProductResolver
	logger   *logrus.Logger
}

// NewMockECRCatalog creates a mock catalog over the images found by the discoverer
func NewMockECRCatalog(images records.ImageDiscoverer, resolver records.ProductResolver, logger *logrus.Logger) *MockECRCatalog {
	return &MockECRCatalog{
		images:   images,
		resolver: resolver,
		logger:   logger,
	}
}

// Name returns the source name
func (m *MockECRCatalog) Name() string {
	return "mock-ecr"
}

// LoadCatalog aggregates mock findings of every discovered image
func (m *MockECRCatalog) LoadCatalog(ctx context.Context) (*table.Frame, error) {
	images, err := m.images.DiscoverImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover images: %w", err)
	}

	scans := make([]records.ImageFindings, 0, len(images))
	for _, image := range images {
		findings, err := m.ImageFindings(image.URI)
		if err != nil {
			m.logger.WithError(err).WithField("image_uri", image.URI).Warn("Skipping image without scan findings")
			continue
		}
		scans = append(scans, records.ImageFindings{Image: image, Findings: findings})
	}

	catalog, skipped := records.Catalog(scans, m.resolver)
	m.logger.WithFields(logrus.Fields{
		"images_scanned":   len(scans),
		"catalog_rows":     len(catalog),
		"skipped_findings": skipped,
	}).Info("Built mock vulnerability catalog")

	return table.CatalogFrame(catalog), nil
}

// ParseImageURI parses an image URI into repository and tag
func ParseImageURI(imageURI string) (repository, tag string, err error) {
	parts := strings.Split(imageURI, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid image URI format: %s", imageURI)
	}

	repoWithTag := strings.Join(parts[1:], "/")
	repoParts := strings.Split(repoWithTag, ":")
	if len(repoParts) != 2 {
		return "", "", fmt.Errorf("invalid image URI format, missing tag: %s", imageURI)
	}

	return repoParts[0], repoParts[1], nil
}

// ImageFindings returns the mock findings for an image, chosen by repository name
func (m *MockECRCatalog) ImageFindings(imageURI string) ([]types.VulnerabilityFinding, error) {
	repo, _, err := ParseImageURI(imageURI)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(repo, "nginx"):
		return webServerFindings(), nil
	case strings.Contains(repo, "wordpress"):
		return cmsFindings(), nil
	case strings.Contains(repo, "mysql") || strings.Contains(repo, "postgres"):
		return databaseFindings(), nil
	case strings.Contains(repo, "orders") || strings.Contains(repo, "struts"):
		return javaAppFindings(), nil
	case strings.Contains(repo, "tls") || strings.Contains(repo, "gateway"):
		return gatewayFindings(), nil
	case strings.Contains(repo, "legacy"):
		return legacyFindings(), nil
	case strings.Contains(repo, "python"):
		return pythonAPIFindings(), nil
	default:
		return genericAppFindings(), nil
	}
}

// finding builds a mock scan finding; an empty fix version means no fixed release
func finding(cve, pkg, version, fix, severity, exploit, fixAvailable string, score float64, description string) types.VulnerabilityFinding {
	return types.VulnerabilityFinding{
		Name:             cve,
		Description:      description,
		Severity:         severity,
		PackageName:      pkg,
		PackageVersion:   version,
		FixVersion:       fix,
		ExploitAvailable: exploit,
		FixAvailable:     fixAvailable,
		Score:            score,
	}
}

func webServerFindings() []types.VulnerabilityFinding {
	return []types.VulnerabilityFinding{
		finding("CVE-2024-7592", "nginx", "1.20.1", "1.20.2", "CRITICAL", "YES", "YES", 9.8, "nginx HTTP/2 module buffer overflow"),
		finding("CVE-2024-2961", "libc6", "2.35-0ubuntu3.1", "2.35-0ubuntu3.8", "MEDIUM", "NO", "YES", 5.5, "GNU libc iconv out-of-bounds write"),
	}
}

func cmsFindings() []types.VulnerabilityFinding {
	return []types.VulnerabilityFinding{
		finding("CVE-2024-31210", "wordpress", "6.4.2", "6.4.3", "HIGH", "YES", "YES", 7.2, "WordPress plugin upload allows remote code execution"),
		finding("CVE-2024-0727", "openssl", "3.0.2", "3.0.13", "MEDIUM", "NO", "YES", 5.5, "OpenSSL PKCS12 null dereference"),
	}
}

func databaseFindings() []types.VulnerabilityFinding {
	return []types.VulnerabilityFinding{
		finding("CVE-2024-21096", "mysql-server", "8.0.35", "8.0.37", "HIGH", "NO", "YES", 7.2, "mysqldump privilege escalation"),
		finding("CVE-2024-3094", "xz-utils", "5.6.0", "5.6.2", "CRITICAL", "YES", "YES", 10.0, "xz utils liblzma backdoor"),
	}
}

func javaAppFindings() []types.VulnerabilityFinding {
	return []types.VulnerabilityFinding{
		finding("CVE-2023-50164", "struts2-core", "2.5.30", "2.5.33", "CRITICAL", "YES", "YES", 9.8, "Apache Struts file upload path traversal leading to remote code execution"),
		finding("CVE-2017-5638", "struts2-core", "2.5.30", "", "CRITICAL", "YES", "NO", 10.0, "Apache Struts Jakarta multipart parser remote code execution"),
	}
}

func gatewayFindings() []types.VulnerabilityFinding {
	return []types.VulnerabilityFinding{
		finding("CVE-2024-5535", "libssl3", "3.0.2", "3.0.14", "LOW", "NO", "YES", 3.7, "OpenSSL SSL_select_next_proto buffer overread"),
		finding("CVE-2024-0727", "openssl", "3.0.2", "3.0.13", "MEDIUM", "NO", "NO", 5.5, "OpenSSL PKCS12 null dereference"),
	}
}

func legacyFindings() []types.VulnerabilityFinding {
	return []types.VulnerabilityFinding{
		finding("CVE-2024-20931", "weblogic", "12.2.1.4", "", "HIGH", "YES", "PARTIAL", 7.5, "Oracle WebLogic Server T3/IIOP remote access vulnerability"),
	}
}

func pythonAPIFindings() []types.VulnerabilityFinding {
	return []types.VulnerabilityFinding{
		finding("CVE-2024-6232", "urllib3", "1.26.5", "1.26.18", "MEDIUM", "NO", "YES", 4.8, "tarfile header parsing ReDoS"),
		finding("CVE-2024-35195", "requests", "2.25.1", "2.32.0", "HIGH", "NO", "YES", 7.5, "requests session ignores verify=False after first request"),
	}
}

func genericAppFindings() []types.VulnerabilityFinding {
	return []types.VulnerabilityFinding{
		finding("CVE-2024-2398", "curl", "7.81.0", "7.81.0-1ubuntu1.16", "LOW", "NO", "YES", 3.4, "curl HTTP/2 push headers memory leak"),
	}
}
