// ABOUTME: Source modes and lifecycle helpers shared by the provider factory.
// ABOUTME: Sources implement the engine's SystemSource and CatalogSource contracts.

package providers

// Supported source modes
const (
	ModeCluster = "cluster" // EKS inventory, ECR catalog
	ModeLocal   = "local"   // CSV files or a JSON image list
)

// closer is implemented by sources holding background resources
type closer interface {
	Close()
}

// Close releases the resources of every source that holds any
func Close(sources ...any) {
	for _, source := range sources {
		if c, ok := source.(closer); ok {
			c.Close()
		}
	}
}
