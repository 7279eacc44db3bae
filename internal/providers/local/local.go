// ABOUTME: Local file-based sources for development, batch scoring and uploads.
// ABOUTME: Reads inventory and catalog CSV files and JSON image lists without cloud API dependencies.

package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jfeddern/VulnRisk/internal/providers/records"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
)

// SystemFile implements SystemSource over an inventory CSV file
type SystemFile struct {
	path   string
	logger *logrus.Logger
}

// NewSystemFile creates a system source reading the given CSV file
func NewSystemFile(path string, logger *logrus.Logger) *SystemFile {
	return &SystemFile{path: path, logger: logger}
}

// Name returns the source name
func (s *SystemFile) Name() string {
	return "local-systems"
}

// Path returns the file the source reads
func (s *SystemFile) Path() string {
	return s.path
}

// LoadSystems reads the inventory table
func (s *SystemFile) LoadSystems(ctx context.Context) (*table.Frame, error) {
	return readFile(ctx, s.path, "load_systems", s.logger)
}

// CatalogFile implements CatalogSource over a vulnerability catalog CSV file
type CatalogFile struct {
	path   string
	logger *logrus.Logger
}

// NewCatalogFile creates a catalog source reading the given CSV file
func NewCatalogFile(path string, logger *logrus.Logger) *CatalogFile {
	return &CatalogFile{path: path, logger: logger}
}

// Name returns the source name
func (c *CatalogFile) Name() string {
	return "local-catalog"
}

// Path returns the file the source reads
func (c *CatalogFile) Path() string {
	return c.path
}

// LoadCatalog reads the vulnerability catalog table
func (c *CatalogFile) LoadCatalog(ctx context.Context) (*table.Frame, error) {
	return readFile(ctx, c.path, "load_catalog", c.logger)
}

func readFile(ctx context.Context, path, operation string, logger *logrus.Logger) (*table.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame, err := table.ReadCSVFile(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Error("Failed to read CSV file")
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"operation": operation,
		"path":      path,
		"rows":      frame.Len(),
		"columns":   len(frame.Names()),
	}).Debug("Read CSV file")
	return frame, nil
}

// ImageList implements SystemSource for a JSON file listing container image URIs
type ImageList struct {
	imageListFile string
	logger        *logrus.Logger
}

// NewImageList creates a new image list source
func NewImageList(imageListFile string, logger *logrus.Logger) *ImageList {
	return &ImageList{
		imageListFile: imageListFile,
		logger:        logger,
	}
}

// Name returns the source name
func (l *ImageList) Name() string {
	return "local"
}

// DiscoverImages reads container images from a JSON file
func (l *ImageList) DiscoverImages(ctx context.Context) ([]types.ImageInfo, error) {
	logger := l.logger.WithField("operation", "discover_images_local")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.imageListFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewError(types.KindInputNotFound, "image list file not found: %s", l.imageListFile)
		}
		return nil, fmt.Errorf("failed to read image list file '%s': %w", l.imageListFile, err)
	}

	var imageURIs []string
	if err := json.Unmarshal(data, &imageURIs); err != nil {
		return nil, types.WrapError(types.KindSchemaError, err, "failed to parse image list JSON")
	}

	var images []types.ImageInfo
	for i, uri := range imageURIs {
		if uri == "" {
			continue
		}
		images = append(images, types.ImageInfo{
			URI:          uri,
			Namespace:    "local",
			Workload:     fmt.Sprintf("image-%d", i+1),
			WorkloadType: "Local",
		})
	}

	logger.WithFields(logrus.Fields{
		"image_count":  len(imageURIs),
		"valid_images": len(images),
	}).Info("Local image discovery completed")
	return images, nil
}

// LoadSystems returns one inventory row per listed image
func (l *ImageList) LoadSystems(ctx context.Context) (*table.Frame, error) {
	images, err := l.DiscoverImages(ctx)
	if err != nil {
		return nil, err
	}
	return table.SystemFrame(records.FromImages(images)), nil
}
