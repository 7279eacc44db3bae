// ABOUTME: AWS ECR vulnerability catalog built from image scan findings.
// ABOUTME: Handles authentication, paginated scan retrieval and caching of per-image findings.

package aws

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jfeddern/VulnRisk/internal/cache"
	"github.com/jfeddern/VulnRisk/internal/providers/records"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
)

// ECRCatalog implements CatalogSource for Amazon ECR
type ECRCatalog struct {
	client   ecr.DescribeImageScanFindingsAPIClient
	images   records.ImageDiscoverer
	resolver records.ProductResolver
	cache    *cache.FindingsCache
	logger   *logrus.Logger
}

// NewECRCatalog creates a catalog that scans the images found by the discoverer
func NewECRCatalog(ctx context.Context, accountID, region string, images records.ImageDiscoverer, resolver records.ProductResolver, ttl time.Duration, logger *logrus.Logger) (*ECRCatalog, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Check if we need to assume a role based on AWS_IAM_ASSUME_ROLE_ARN environment variable
	if assumeRoleARN := os.Getenv("AWS_IAM_ASSUME_ROLE_ARN"); assumeRoleARN != "" {
		logger.WithField("role_arn", assumeRoleARN).Info("Assuming role from AWS_IAM_ASSUME_ROLE_ARN environment variable")
		stsClient := sts.NewFromConfig(cfg.Copy())
		cfg.Credentials = stscreds.NewAssumeRoleProvider(stsClient, assumeRoleARN)
	} else {
		// Fallback: assume the scoring role when the registry lives in another account
		stsClient := sts.NewFromConfig(cfg.Copy())
		identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			logger.WithError(err).Warn("Could not get caller identity, proceeding with default credentials")
		} else if currentAccountID := aws.ToString(identity.Account); currentAccountID != accountID {
			roleARN := fmt.Sprintf("arn:aws:iam::%s:role/VulnRiskScoringRole", accountID)
			logger.WithFields(logrus.Fields{
				"current_account": currentAccountID,
				"target_account":  accountID,
				"role_arn":        roleARN,
			}).Info("Assuming cross-account role")
			cfg.Credentials = stscreds.NewAssumeRoleProvider(stsClient, roleARN)
		}
	}

	return NewECRCatalogWithClient(ecr.NewFromConfig(cfg), images, resolver, ttl, logger), nil
}

// NewECRCatalogWithClient creates a catalog over an existing scan findings client
func NewECRCatalogWithClient(client ecr.DescribeImageScanFindingsAPIClient, images records.ImageDiscoverer, resolver records.ProductResolver, ttl time.Duration, logger *logrus.Logger) *ECRCatalog {
	return &ECRCatalog{
		client:   client,
		images:   images,
		resolver: resolver,
		cache:    cache.NewFindingsCache(ttl, logger),
		logger:   logger,
	}
}

// Name returns the source name
func (e *ECRCatalog) Name() string {
	return "aws-ecr"
}

// Close stops the findings cache cleanup
func (e *ECRCatalog) Close() {
	e.cache.Close()
}

// ParseImageURI extracts the repository and the tag or digest from an ECR image URI
// Expected format: account.dkr.ecr.region.amazonaws.com/repository(:tag|@sha256:digest)
func ParseImageURI(imageURI string) (repository string, id ecrtypes.ImageIdentifier, err error) {
	slash := strings.Index(imageURI, "/")
	if slash < 0 || slash == len(imageURI)-1 {
		return "", id, fmt.Errorf("invalid image URI format: %s", imageURI)
	}
	path := imageURI[slash+1:]

	if at := strings.Index(path, "@"); at >= 0 {
		if at == 0 || at == len(path)-1 {
			return "", id, fmt.Errorf("invalid image URI format, bad digest: %s", imageURI)
		}
		id.ImageDigest = aws.String(path[at+1:])
		return path[:at], id, nil
	}

	repoParts := strings.Split(path, ":")
	if len(repoParts) != 2 || repoParts[0] == "" || repoParts[1] == "" {
		return "", id, fmt.Errorf("invalid image URI format, missing tag: %s", imageURI)
	}
	id.ImageTag = aws.String(repoParts[1])
	return repoParts[0], id, nil
}

// LoadCatalog scans every discovered registry image and aggregates the
// findings into one catalog row per (CVE, product)
func (e *ECRCatalog) LoadCatalog(ctx context.Context) (*table.Frame, error) {
	logger := e.logger.WithField("operation", "load_catalog")

	images, err := e.images.DiscoverImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover images: %w", err)
	}

	seen := make(map[string]bool)
	var scans []records.ImageFindings
	failed := 0
	for _, image := range images {
		if !IsRegistryImage(image.URI) || seen[image.URI] {
			continue
		}
		seen[image.URI] = true

		findings, err := e.ImageFindings(ctx, image.URI)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WithError(err).WithField("image_uri", image.URI).Warn("Skipping image without scan findings")
			failed++
			continue
		}
		scans = append(scans, records.ImageFindings{Image: image, Findings: findings})
	}

	if failed > 0 && len(scans) == 0 {
		return nil, fmt.Errorf("failed to retrieve scan findings for all %d images", failed)
	}

	catalog, skipped := records.Catalog(scans, e.resolver)
	logger.WithFields(logrus.Fields{
		"images_scanned":   len(scans),
		"images_failed":    failed,
		"catalog_rows":     len(catalog),
		"skipped_findings": skipped,
	}).Info("Built vulnerability catalog from ECR")

	return table.CatalogFrame(catalog), nil
}

// ImageFindings returns the scan findings of one image, served from the cache when fresh
func (e *ECRCatalog) ImageFindings(ctx context.Context, imageURI string) ([]types.VulnerabilityFinding, error) {
	if findings, ok := e.cache.Get(imageURI); ok {
		return findings, nil
	}

	logger := e.logger.WithField("image_uri", imageURI)

	repo, id, err := ParseImageURI(imageURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse image URI: %w", err)
	}

	paginator := ecr.NewDescribeImageScanFindingsPaginator(e.client, &ecr.DescribeImageScanFindingsInput{
		RepositoryName: aws.String(repo),
		ImageId:        &id,
	})

	var findings []types.VulnerabilityFinding
	basic, enhanced := 0, 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			logger.WithError(err).Error("Failed to describe image scan findings")
			return nil, err
		}
		if page.ImageScanFindings == nil {
			continue
		}
		for _, finding := range page.ImageScanFindings.Findings {
			findings = append(findings, basicFinding(finding))
			basic++
		}
		for _, finding := range page.ImageScanFindings.EnhancedFindings {
			findings = append(findings, enhancedFinding(finding))
			enhanced++
		}
	}

	logger.WithFields(logrus.Fields{
		"repository":              repo,
		"basic_findings_count":    basic,
		"enhanced_findings_count": enhanced,
	}).Debug("Retrieved scan findings")

	e.cache.Set(imageURI, findings)
	return findings, nil
}

// basicFinding converts a basic scanning finding; package and score come from its attributes
func basicFinding(finding ecrtypes.ImageScanFinding) types.VulnerabilityFinding {
	out := types.VulnerabilityFinding{
		Name:             aws.ToString(finding.Name),
		Description:      aws.ToString(finding.Description),
		Severity:         string(finding.Severity),
		ExploitAvailable: "unknown",
		FixAvailable:     "unknown",
	}

	var cvss2 float64
	for _, attr := range finding.Attributes {
		value := aws.ToString(attr.Value)
		switch aws.ToString(attr.Key) {
		case "package_name":
			out.PackageName = value
		case "package_version":
			out.PackageVersion = value
		case "CVSS3_SCORE":
			if score, err := strconv.ParseFloat(value, 64); err == nil {
				out.Score = score
			}
		case "CVSS2_SCORE":
			if score, err := strconv.ParseFloat(value, 64); err == nil {
				cvss2 = score
			}
		}
	}
	if out.Score == 0 {
		out.Score = cvss2
	}
	return out
}

// enhancedFinding converts an Amazon Inspector finding
func enhancedFinding(finding ecrtypes.EnhancedImageScanFinding) types.VulnerabilityFinding {
	out := types.VulnerabilityFinding{
		Name:             aws.ToString(finding.Title),
		Description:      aws.ToString(finding.Description),
		Severity:         aws.ToString(finding.Severity),
		Score:            finding.Score,
		ExploitAvailable: "unknown",
		FixAvailable:     "unknown",
	}
	if finding.ExploitAvailable != nil {
		out.ExploitAvailable = *finding.ExploitAvailable
	}
	if finding.FixAvailable != nil {
		out.FixAvailable = *finding.FixAvailable
	}

	if details := finding.PackageVulnerabilityDetails; details != nil {
		if details.VulnerabilityId != nil {
			out.Name = *details.VulnerabilityId
		}
		// Use first package for simplicity
		if len(details.VulnerablePackages) > 0 {
			pkg := details.VulnerablePackages[0]
			out.PackageName = aws.ToString(pkg.Name)
			out.PackageVersion = aws.ToString(pkg.Version)
			out.FixVersion = aws.ToString(pkg.FixedInVersion)
		}
	}
	return out
}
