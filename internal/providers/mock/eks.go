// ABOUTME: Mock EKS system inventory for local testing and development.
// ABOUTME: Provides a realistic set of cluster workloads without requiring cluster access.

package mock

import (
	"context"

	"github.com/jfeddern/VulnRisk/internal/providers/records"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
)

const registry = "123456789012.dkr.ecr.us-east-1.amazonaws.com/"

// MockEKSInventory implements SystemSource with mock data
type MockEKSInventory struct {
	logger *logrus.Logger
}

// NewMockEKSInventory creates a new mock EKS inventory
func NewMockEKSInventory(logger *logrus.Logger) *MockEKSInventory {
	return &MockEKSInventory{
		logger: logger,
	}
}

// Name returns the source name
func (m *MockEKSInventory) Name() string {
	return "mock-eks"
}

func workload(uri, namespace, name, kind, container, access, patch string, extra map[string]string) types.ImageInfo {
	annotations := map[string]string{
		records.AnnotationNetworkAccessLevel: access,
		records.AnnotationPatchLevel:         patch,
		records.AnnotationDiscoveredAt:       "2025-01-15 08:00:00",
	}
	for k, v := range extra {
		annotations[k] = v
	}
	return types.ImageInfo{
		URI:          registry + uri,
		Namespace:    namespace,
		Workload:     name,
		WorkloadType: kind,
		Container:    container,
		Annotations:  annotations,
	}
}

// DiscoverImages returns mock image data simulating a Kubernetes cluster
func (m *MockEKSInventory) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	m.logger.Info("Discovering mock images from simulated EKS cluster")

	images := []types.ImageInfo{
		workload("nginx-proxy:1.21.6", "ingress-system", "nginx-proxy", "Deployment", "nginx", "Public", "Outdated", nil),
		workload("wordpress:6.4.2", "production", "storefront", "Deployment", "php", "Public", "Up-to-date", nil),
		workload("mysql:8.0.35", "production", "mysql-db", "StatefulSet", "mysql", "Internal", "Up-to-date", nil),
		workload("orders-api:v2.1.0", "production", "orders-api", "Deployment", "api", "Public", "Outdated", map[string]string{
			records.AnnotationSoftwareVersion: "Apache Struts 2.5.30",
		}),
		workload("tls-gateway:3.0.2", "production", "tls-gateway", "Deployment", "gateway", "Public", "Up-to-date", map[string]string{
			records.AnnotationSoftwareVersion: "OpenSSL 3.0.2",
		}),
		workload("legacy-app:v1.0.0", "legacy", "legacy-app", "Deployment", "app", "Internal", "Outdated", map[string]string{
			records.AnnotationSoftwareVersion: "Oracle Database 12c",
		}),
		workload("python-api:dev-abc123", "staging", "python-api", "Deployment", "api", "Internal", "Up-to-date", nil),
		workload("monitoring-agent:v3.4.1", "monitoring", "monitoring-agent", "DaemonSet", "agent", "Internal", "Up-to-date", nil),
	}

	m.logger.WithField("image_count", len(images)).Info("Mock image discovery completed")
	return images, nil
}

// LoadSystems returns the inventory table of the simulated cluster
func (m *MockEKSInventory) LoadSystems(ctx context.Context) (*table.Frame, error) {
	images, err := m.DiscoverImages(ctx)
	if err != nil {
		return nil, err
	}
	return table.SystemFrame(records.FromImages(images)), nil
}
