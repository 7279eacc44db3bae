// ABOUTME: Tests for artifact decoding, version resolution and batched scoring.
// ABOUTME: Verifies tree routing, load failures, feature checks and batch-size invariance.

package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/jfeddern/VulnRisk/internal/features"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const forestJSON = `{
  "kind": "random_forest",
  "version": "test",
  "feature_names": ["a", "b"],
  "trees": [
    {
      "children_left":  [1, -1, -1],
      "children_right": [2, -1, -1],
      "feature":        [0, -2, -2],
      "threshold":      [0.5, -2, -2],
      "value":          [0, 0.2, 0.8],
      "missing_left":   [true, false, false]
    },
    {
      "children_left":  [1, -1, -1],
      "children_right": [2, -1, -1],
      "feature":        [1, -2, -2],
      "threshold":      [10, -2, -2],
      "value":          [0, 0.4, 0.6]
    }
  ]
}`

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestDecodeForest(t *testing.T) {
	regressor, err := Decode([]byte(forestJSON))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, regressor.FeatureNames())

	scores, err := regressor.Predict([][]float64{
		{0.5, 10},        // left, left
		{0.9, 11},        // right, right
		{math.NaN(), 20}, // missing goes left, right
		{1, math.NaN()},  // right, missing goes right by default
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.3, scores[0], 1e-12)
	assert.InDelta(t, 0.7, scores[1], 1e-12)
	assert.InDelta(t, 0.4, scores[2], 1e-12)
	assert.InDelta(t, 0.7, scores[3], 1e-12)
}

func TestDecodeLinear(t *testing.T) {
	regressor, err := Decode([]byte(`{"kind":"linear","feature_names":["a","b"],"coefficients":[0.5,0.25],"intercept":0.1}`))
	require.NoError(t, err)

	scores, err := regressor.Predict([][]float64{{1, 2}, {0, 0}})
	require.NoError(t, err)
	assert.InDelta(t, 1.1, scores[0], 1e-12)
	assert.InDelta(t, 0.1, scores[1], 1e-12)

	_, err = regressor.Predict([][]float64{{1}})
	assert.Error(t, err)
}

func TestDecodeInvalidArtifacts(t *testing.T) {
	tests := []struct {
		name     string
		artifact string
	}{
		{name: "not json", artifact: "pickle"},
		{name: "unknown kind", artifact: `{"kind":"svm","feature_names":["a"]}`},
		{name: "no features", artifact: `{"kind":"linear","coefficients":[]}`},
		{name: "coefficient count", artifact: `{"kind":"linear","feature_names":["a"],"coefficients":[1,2]}`},
		{name: "no trees", artifact: `{"kind":"random_forest","feature_names":["a"]}`},
		{name: "ragged tree", artifact: `{"kind":"random_forest","feature_names":["a"],"trees":[{"children_left":[-1],"children_right":[],"feature":[0],"threshold":[0],"value":[1]}]}`},
		{name: "cyclic tree", artifact: `{"kind":"random_forest","feature_names":["a"],"trees":[{"children_left":[0,-1],"children_right":[1,-1],"feature":[0,0],"threshold":[0,0],"value":[0,1]}]}`},
		{name: "unknown split feature", artifact: `{"kind":"random_forest","feature_names":["a"],"trees":[{"children_left":[1,-1,-1],"children_right":[2,-1,-1],"feature":[3,0,0],"threshold":[0,0,0],"value":[0,1,2]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.artifact))
			assert.Error(t, err)
		})
	}
}

func TestBaselineUsesDefaultFeatures(t *testing.T) {
	baseline := Baseline()
	assert.Equal(t, features.DefaultFeatures, baseline.FeatureNames())

	scores, err := baseline.Predict([][]float64{{1, 1, 1, 1, 1, 1, 1}, {0, 0, 0, 0, 0, 0, 0}})
	require.NoError(t, err)
	assert.Greater(t, scores[0], scores[1])
}

func TestLoaderResolve(t *testing.T) {
	loader, err := NewLoader(t.TempDir(), newTestLogger())
	require.NoError(t, err)

	tests := []struct {
		id      string
		version string
		file    string
	}{
		{id: "V1", version: "V1", file: "daiverp_rf_model_V1.json"},
		{id: "V2", version: "V2", file: "daiverp_rf_model_V2.json"},
		{id: "v2", version: "V2", file: "daiverp_rf_model_V2.json"},
		{id: "", version: "V1", file: "daiverp_rf_model_V1.json"},
		{id: "V9", version: "V1", file: "daiverp_rf_model_V1.json"},
		{id: "daiverp_rf_model_V2.json", version: "V2", file: "daiverp_rf_model_V2.json"},
		{id: "daiverp_rf_model_V1.pkl", version: "V1", file: "daiverp_rf_model_V1.json"},
		{id: "../../etc/custom.json", version: "custom", file: "custom.json"},
		{id: "Baseline", version: BaselineID, file: ""},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			version, file := loader.Resolve(tt.id)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.file, file)
		})
	}
}

func TestLoaderRegistry(t *testing.T) {
	dir := t.TempDir()
	registry := "default: V3\nmodels:\n  V3: risk_v3.json\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, RegistryFile), []byte(registry), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "risk_v3.json"), []byte(forestJSON), 0o644))

	loader, err := NewLoader(dir, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"V1", "V2", "V3"}, loader.Versions())

	m, err := loader.Load("")
	require.NoError(t, err)
	assert.Equal(t, "V3", m.Version)
	assert.Equal(t, filepath.Join(dir, "risk_v3.json"), m.Path)
	assert.Equal(t, []string{"a", "b"}, m.FeatureNames())
}

func TestLoaderRegistryErrors(t *testing.T) {
	tests := []struct {
		name     string
		registry string
	}{
		{name: "invalid yaml", registry: "models: [unterminated"},
		{name: "unknown default", registry: "default: V7\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, RegistryFile), []byte(tt.registry), 0o644))

			_, err := NewLoader(dir, newTestLogger())
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrModelLoad))
		})
	}
}

func TestLoaderLoadErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daiverp_rf_model_V2.json"), []byte("{corrupt"), 0o644))

	loader, err := NewLoader(dir, newTestLogger())
	require.NoError(t, err)

	_, err = loader.Load("V1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrModelLoad))
	assert.Contains(t, err.Error(), "not found")

	_, err = loader.Load("V2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrModelLoad))

	baseline, err := loader.Load(BaselineID)
	require.NoError(t, err)
	assert.Equal(t, BaselineID, baseline.Version)
}

func featureFrame(t *testing.T, rows int) *table.Frame {
	t.Helper()
	a := make([]float64, rows)
	b := make([]float64, rows)
	for i := 0; i < rows; i++ {
		a[i] = float64(i%7) / 7
		b[i] = float64(i % 23)
	}
	a[3] = math.NaN()
	frame, err := table.FromColumns(
		table.NewNumericColumn("b", b),
		table.NewNumericColumn("a", a),
		table.NewNumericColumn("extra", make([]float64, rows)),
	)
	require.NoError(t, err)
	return frame
}

func TestAdapterBatchSizeInvariance(t *testing.T) {
	regressor, err := Decode([]byte(forestJSON))
	require.NoError(t, err)
	frame := featureFrame(t, 1234)

	reference, err := NewAdapter(regressor, frame.Len(), newTestLogger()).Score(frame)
	require.NoError(t, err)
	require.Len(t, reference, 1234)

	for _, size := range []int{1, 7, 500, 0} {
		t.Run(fmt.Sprintf("batch_%d", size), func(t *testing.T) {
			scores, err := NewAdapter(regressor, size, newTestLogger()).Score(frame)
			require.NoError(t, err)
			assert.Equal(t, reference, scores)
		})
	}
}

func TestAdapterMissingFeatures(t *testing.T) {
	regressor, err := Decode([]byte(`{"kind":"linear","feature_names":["a","c","d"],"coefficients":[1,1,1]}`))
	require.NoError(t, err)

	_, err = NewAdapter(regressor, 0, newTestLogger()).Score(featureFrame(t, 3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFeatureMismatch))
	assert.Contains(t, err.Error(), "c, d")
}

func TestAdapterCoercesText(t *testing.T) {
	regressor, err := Decode([]byte(`{"kind":"linear","feature_names":["a"],"coefficients":[2]}`))
	require.NoError(t, err)
	adapter := NewAdapter(regressor, 0, newTestLogger())

	frame, err := table.FromColumns(table.NewTextColumn("a", []string{"1.5", ""}))
	require.NoError(t, err)
	scores, err := adapter.Score(frame)
	require.NoError(t, err)
	assert.Equal(t, 3.0, scores[0])
	assert.True(t, math.IsNaN(scores[1]))

	frame, err = table.FromColumns(table.NewTextColumn("a", []string{"yes"}))
	require.NoError(t, err)
	_, err = adapter.Score(frame)
	assert.True(t, errors.Is(err, types.ErrNonNumericResidue))
}

func TestInstancesFrame(t *testing.T) {
	regressor, err := Decode([]byte(`{"kind":"linear","feature_names":["a","b"],"coefficients":[1,10],"intercept":0.5}`))
	require.NoError(t, err)

	// Columns arrive in caller order and are selected by name
	frame, err := InstancesFrame([]string{"b", "a"}, [][]float64{{1, 2}, {0, 3}})
	require.NoError(t, err)
	scores, err := NewAdapter(regressor, 0, newTestLogger()).Score(frame)
	require.NoError(t, err)
	assert.Equal(t, []float64{12.5, 3.5}, scores)

	tests := []struct {
		name      string
		names     []string
		instances [][]float64
	}{
		{name: "no names", instances: [][]float64{{1}}},
		{name: "ragged instance", names: []string{"a", "b"}, instances: [][]float64{{1, 2}, {3}}},
		{name: "duplicate name", names: []string{"a", "a"}, instances: [][]float64{{1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InstancesFrame(tt.names, tt.instances)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrSchema))
		})
	}
}
