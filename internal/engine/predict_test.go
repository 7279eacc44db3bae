// ABOUTME: Tests for direct inference over feature rows.
// ABOUTME: Covers default feature order, named columns, mismatches and null encoding of NaN scores.

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/jfeddern/VulnRisk/internal/features"
	"github.com/jfeddern/VulnRisk/internal/model"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictInstancesInModelOrder(t *testing.T) {
	engine, _ := newTestEngine(t)

	prediction, err := engine.Predict(context.Background(), PredictRequest{
		Instances: [][]float64{
			{0, 0, 0, 0, 0, 0, 0},
			{1, 1, 1, 1, 1, 1, 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.BaselineID, prediction.Model)
	require.Len(t, prediction.Predictions, 2)
	assert.InDelta(t, 0.1, prediction.Predictions[0], 1e-9)
	assert.InDelta(t, 1.0, prediction.Predictions[1], 1e-9)
}

func TestPredictNamedFeatures(t *testing.T) {
	engine, _ := newTestEngine(t)

	// Reversed column order with an unused extra column scores the same
	names := append([]string{"unused"}, features.DefaultFeatures...)
	for i, j := 1, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	instance := make([]float64, len(names))
	for i, name := range names {
		if name == types.ColumnHistoricalAttackData {
			instance[i] = 1
		}
	}

	prediction, err := engine.Predict(context.Background(), PredictRequest{
		FeatureNames: names,
		Instances:    [][]float64{instance},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, prediction.Predictions[0], 1e-9)
}

func TestPredictFeatureFrame(t *testing.T) {
	engine, _ := newTestEngine(t)

	columns := make([]*table.Column, len(features.DefaultFeatures))
	for i, name := range features.DefaultFeatures {
		columns[i] = table.NewNumericColumn(name, []float64{0, math.NaN()})
	}
	frame, err := table.FromColumns(columns...)
	require.NoError(t, err)

	prediction, err := engine.Predict(context.Background(), PredictRequest{Features: frame})
	require.NoError(t, err)
	require.Len(t, prediction.Predictions, 2)
	assert.InDelta(t, 0.1, prediction.Predictions[0], 1e-9)
	assert.True(t, math.IsNaN(prediction.Predictions[1]))

	encoded, err := json.Marshal(prediction)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"baseline","predictions":[0.1,null]}`, string(encoded))
}

func TestPredictErrors(t *testing.T) {
	tests := []struct {
		name    string
		loader  *MockLoader
		req     PredictRequest
		wantErr error
	}{
		{
			name:    "missing features",
			loader:  &MockLoader{},
			req:     PredictRequest{FeatureNames: []string{"a"}, Instances: [][]float64{{1}}},
			wantErr: types.ErrFeatureMismatch,
		},
		{
			name:    "wrong width",
			loader:  &MockLoader{},
			req:     PredictRequest{Instances: [][]float64{{1, 2}}},
			wantErr: types.ErrSchema,
		},
		{
			name:    "model load failure",
			loader:  &MockLoader{err: types.NewError(types.KindModelLoadError, "model artifact not found")},
			req:     PredictRequest{Instances: [][]float64{{0, 0, 0, 0, 0, 0, 0}}},
			wantErr: types.ErrModelLoad,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(t)
			engine.loader = tt.loader

			prediction, err := engine.Predict(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, prediction)
			assert.True(t, errors.Is(err, tt.wantErr), err.Error())
		})
	}
}
