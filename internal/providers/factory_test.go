// ABOUTME: Tests for the source factory.
// ABOUTME: Covers source selection per mode and a full mock scoring run through the engine.

package providers

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jfeddern/VulnRisk/internal/engine"
	"github.com/jfeddern/VulnRisk/internal/matcher"
	"github.com/jfeddern/VulnRisk/internal/model"
	"github.com/jfeddern/VulnRisk/internal/providers/local"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestCreateSystemSource(t *testing.T) {
	logger := quietLogger()

	tests := []struct {
		name        string
		config      *ProviderConfig
		expectError bool
		expectType  string
	}{
		{
			name:       "mock mode",
			config:     &ProviderConfig{Mode: ModeCluster, MockMode: true},
			expectType: "mock-eks",
		},
		{
			name:       "local mode with system file",
			config:     &ProviderConfig{Mode: ModeLocal, SystemFile: "systems.csv", ImageListFile: "images.json"},
			expectType: "local-systems",
		},
		{
			name:       "local mode with image list",
			config:     &ProviderConfig{Mode: ModeLocal, ImageListFile: createTestImageList(t)},
			expectType: "local",
		},
		{
			name:        "local mode without input",
			config:      &ProviderConfig{Mode: ModeLocal},
			expectError: true,
		},
		{
			name:        "unsupported mode",
			config:      &ProviderConfig{Mode: "unsupported"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, err := CreateSystemSource(tt.config, logger)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if source.Name() != tt.expectType {
				t.Errorf("Expected source type %s, got %s", tt.expectType, source.Name())
			}
		})
	}
}

func TestCreateSystemSourceCluster(t *testing.T) {
	source, err := CreateSystemSource(&ProviderConfig{Mode: ModeCluster}, quietLogger())
	if err != nil {
		t.Logf("Cluster mode failed as expected without cluster access: %v", err)
		return
	}
	if source.Name() != "aws-eks" {
		t.Errorf("Expected source type aws-eks, got %s", source.Name())
	}
}

func TestCreateCatalogSource(t *testing.T) {
	logger := quietLogger()
	resolver := matcher.NewProductMatcher(nil, logger)
	ctx := context.Background()

	tests := []struct {
		name        string
		config      *ProviderConfig
		systems     engine.SystemSource
		expectError bool
		expectType  string
	}{
		{
			name:       "mock mode over a mock inventory",
			config:     &ProviderConfig{MockMode: true},
			systems:    nil,
			expectType: "mock-ecr",
		},
		{
			name:       "mock mode over a file inventory",
			config:     &ProviderConfig{MockMode: true},
			systems:    local.NewSystemFile("systems.csv", logger),
			expectType: "mock-ecr",
		},
		{
			name:       "catalog file",
			config:     &ProviderConfig{CatalogFile: "catalog.csv", ECRAccountID: "123456789012", ECRRegion: "us-east-1"},
			expectType: "local-catalog",
		},
		{
			name:        "registry without image discovery",
			config:      &ProviderConfig{ECRAccountID: "123456789012", ECRRegion: "us-east-1"},
			systems:     local.NewSystemFile("systems.csv", logger),
			expectError: true,
		},
		{
			name:        "account without region",
			config:      &ProviderConfig{ECRAccountID: "123456789012"},
			expectError: true,
		},
		{
			name:        "nothing configured",
			config:      &ProviderConfig{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, err := CreateCatalogSource(ctx, tt.config, tt.systems, resolver, logger)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if source.Name() != tt.expectType {
				t.Errorf("Expected source type %s, got %s", tt.expectType, source.Name())
			}
			Close(source)
		})
	}
}

func TestFactoryIntegration(t *testing.T) {
	logger := quietLogger()
	config := &ProviderConfig{Mode: ModeCluster, MockMode: true}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	systems, err := CreateSystemSource(config, logger)
	if err != nil {
		t.Fatalf("Failed to create system source: %v", err)
	}

	loader, err := model.NewLoader(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("Failed to create model loader: %v", err)
	}
	engineConfig := engine.DefaultConfig()
	engineConfig.OutputDir = t.TempDir()
	scoring := engine.NewEngine(loader, engineConfig, logger)

	catalog, err := CreateCatalogSource(ctx, config, systems, scoring.Matcher(), logger)
	if err != nil {
		t.Fatalf("Failed to create catalog source: %v", err)
	}
	defer Close(systems, catalog)

	output := filepath.Join(engineConfig.OutputDir, "predictions.csv")
	result, err := scoring.Run(ctx, engine.Request{
		Systems:    systems,
		Catalog:    catalog,
		Model:      model.BaselineID,
		OutputPath: output,
	})
	if err != nil {
		t.Fatalf("Scoring run failed: %v", err)
	}

	// Six resolvable workloads, ten scored pairs
	if len(result.Rows) != 10 {
		t.Errorf("Expected 10 scored pairs, got %d", len(result.Rows))
	}
	for _, row := range result.Rows {
		if math.IsNaN(row.Raw) {
			t.Errorf("Unexpected NaN score for %s/%s", row.SystemID, row.CVEID)
		}
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("Expected output file: %v", err)
	}
}

// Helper function to create a test image list file
func createTestImageList(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "images.json")
	content := `[
		"123456789012.dkr.ecr.us-east-1.amazonaws.com/test-app:v1.0.0",
		"123456789012.dkr.ecr.us-east-1.amazonaws.com/api-service:latest"
	]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write image list: %v", err)
	}
	return path
}
