// ABOUTME: Factory for creating system inventory and vulnerability catalog sources.
// ABOUTME: Centralizes source instantiation and configuration logic.

package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/jfeddern/VulnRisk/internal/engine"
	"github.com/jfeddern/VulnRisk/internal/providers/aws"
	"github.com/jfeddern/VulnRisk/internal/providers/local"
	"github.com/jfeddern/VulnRisk/internal/providers/mock"
	"github.com/jfeddern/VulnRisk/internal/providers/records"
	"github.com/sirupsen/logrus"
)

// ProviderConfig holds configuration for creating sources
type ProviderConfig struct {
	Mode          string
	Namespace     string // Cluster namespace, empty for all
	ECRAccountID  string
	ECRRegion     string
	ImageListFile string
	SystemFile    string // Inventory CSV
	CatalogFile   string // Vulnerability catalog CSV
	CacheTTL      time.Duration
	MockMode      bool // Enable mock providers for local testing
}

// CreateSystemSource creates the system inventory source based on configuration
func CreateSystemSource(config *ProviderConfig, logger *logrus.Logger) (engine.SystemSource, error) {
	// Check for mock mode first
	if config.MockMode {
		logger.Info("Using mock system inventory for testing")
		return mock.NewMockEKSInventory(logger), nil
	}

	switch config.Mode {
	case ModeCluster:
		return aws.NewEKSInventory(config.Namespace, logger)
	case ModeLocal:
		switch {
		case config.SystemFile != "":
			return local.NewSystemFile(config.SystemFile, logger), nil
		case config.ImageListFile != "":
			return local.NewImageList(config.ImageListFile, logger), nil
		default:
			return nil, fmt.Errorf("local mode requires a system file or an image list file")
		}
	default:
		return nil, fmt.Errorf("unsupported mode: %s", config.Mode)
	}
}

// CreateCatalogSource creates the vulnerability catalog source based on
// configuration. Registry-backed catalogs scan the images of the given system
// source, which must be able to discover images.
func CreateCatalogSource(ctx context.Context, config *ProviderConfig, systems engine.SystemSource, resolver records.ProductResolver, logger *logrus.Logger) (engine.CatalogSource, error) {
	discoverer, canDiscover := systems.(records.ImageDiscoverer)

	// Check for mock mode first
	if config.MockMode {
		logger.Info("Using mock vulnerability catalog for testing")
		if !canDiscover {
			discoverer = mock.NewMockEKSInventory(logger)
		}
		return mock.NewMockECRCatalog(discoverer, resolver, logger), nil
	}

	if config.CatalogFile != "" {
		return local.NewCatalogFile(config.CatalogFile, logger), nil
	}

	if config.ECRAccountID != "" && config.ECRRegion != "" {
		if !canDiscover {
			return nil, fmt.Errorf("ECR catalog requires an image discovering system source")
		}
		return aws.NewECRCatalog(ctx, config.ECRAccountID, config.ECRRegion, discoverer, resolver, config.CacheTTL, logger)
	}

	return nil, fmt.Errorf("no vulnerability catalog configured")
}
