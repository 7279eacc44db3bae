// ABOUTME: Resolves model identifiers to artifacts in the model directory and loads them.
// ABOUTME: Version names map to filenames through defaults or an optional models.yaml registry.

package model

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// RegistryFile is read from the model directory when present
	RegistryFile = "models.yaml"
	// BaselineID selects the built-in model
	BaselineID     = "baseline"
	DefaultVersion = "V1"
)

// DefaultVersions maps published model versions to artifact filenames
var DefaultVersions = map[string]string{
	"V1": "daiverp_rf_model_V1.json",
	"V2": "daiverp_rf_model_V2.json",
}

// registry is the layout of models.yaml
type registry struct {
	Default string            `yaml:"default"`
	Models  map[string]string `yaml:"models"`
}

// Model is a loaded regressor with the identity it was resolved to
type Model struct {
	Regressor
	Version string
	Path    string
}

// Loader loads model artifacts from a directory
type Loader struct {
	dir            string
	versions       map[string]string
	defaultVersion string
	logger         *logrus.Logger
}

// NewLoader creates a loader for dir. A models.yaml in dir adds or replaces
// version mappings; an unreadable registry is an error.
func NewLoader(dir string, logger *logrus.Logger) (*Loader, error) {
	l := &Loader{
		dir:            dir,
		versions:       make(map[string]string, len(DefaultVersions)),
		defaultVersion: DefaultVersion,
		logger:         logger,
	}
	for version, file := range DefaultVersions {
		l.versions[version] = file
	}

	data, err := os.ReadFile(filepath.Join(dir, RegistryFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return l, nil
	case err != nil:
		return nil, types.WrapError(types.KindModelLoadError, err, "failed to read model registry")
	}

	var reg registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, types.WrapError(types.KindModelLoadError, err, "invalid model registry %s", RegistryFile)
	}
	for version, file := range reg.Models {
		l.versions[version] = file
	}
	if reg.Default != "" {
		if _, ok := l.versions[reg.Default]; !ok {
			return nil, types.NewError(types.KindModelLoadError, "registry default %q is not a known version", reg.Default)
		}
		l.defaultVersion = reg.Default
	}

	logger.WithFields(logrus.Fields{
		"component": "model_loader",
		"versions":  len(l.versions),
		"default":   l.defaultVersion,
	}).Debug("Loaded model registry")

	return l, nil
}

// Versions returns the known version names, sorted
func (l *Loader) Versions() []string {
	out := make([]string, 0, len(l.versions))
	for version := range l.versions {
		out = append(out, version)
	}
	sort.Strings(out)
	return out
}

// Resolve maps an identifier to a version label and artifact filename.
// Accepted identifiers are a version name, an artifact filename (.json, or a
// legacy .pkl name whose .json sibling is used) and the baseline model. Empty
// or unknown identifiers resolve to the default version.
func (l *Loader) Resolve(id string) (version, file string) {
	id = strings.TrimSpace(id)
	switch {
	case strings.EqualFold(id, BaselineID):
		return BaselineID, ""
	case strings.HasSuffix(id, ".json"):
		return l.versionOf(filepath.Base(id)), filepath.Base(id)
	case strings.HasSuffix(id, ".pkl"):
		file := strings.TrimSuffix(filepath.Base(id), ".pkl") + ".json"
		return l.versionOf(file), file
	}
	if file, ok := l.versions[id]; ok {
		return id, file
	}
	if file, ok := l.versions[strings.ToUpper(id)]; ok {
		return strings.ToUpper(id), file
	}
	if id != "" {
		l.logger.WithFields(logrus.Fields{
			"component": "model_loader",
			"model":     id,
			"fallback":  l.defaultVersion,
		}).Warn("Unknown model identifier, using default version")
	}
	return l.defaultVersion, l.versions[l.defaultVersion]
}

// versionOf names an artifact file by its registered version, or by the file
// stem when no version maps to it
func (l *Loader) versionOf(file string) string {
	for _, version := range l.Versions() {
		if l.versions[version] == file {
			return version
		}
	}
	return strings.TrimSuffix(file, ".json")
}

// Load resolves id and decodes its artifact. Missing or corrupt artifacts are
// reported as ModelLoadError.
func (l *Loader) Load(id string) (*Model, error) {
	version, file := l.Resolve(id)
	if version == BaselineID {
		return &Model{Regressor: Baseline(), Version: BaselineID}, nil
	}

	path := filepath.Join(l.dir, file)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.NewError(types.KindModelLoadError, "model artifact not found: %s", path)
		}
		return nil, types.WrapError(types.KindModelLoadError, err, "failed to read model artifact %s", path)
	}

	regressor, err := Decode(data)
	if err != nil {
		return nil, types.WrapError(types.KindModelLoadError, err, "failed to load model %s", path)
	}

	l.logger.WithFields(logrus.Fields{
		"component": "model_loader",
		"version":   version,
		"path":      path,
		"features":  len(regressor.FeatureNames()),
	}).Info("Model loaded")

	return &Model{Regressor: regressor, Version: version, Path: path}, nil
}
