// ABOUTME: Direct inference over already engineered feature rows.
// ABOUTME: Loads the requested model and scores a feature table or JSON instances without matching.

package engine

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/jfeddern/VulnRisk/internal/model"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PredictRequest holds feature rows for direct inference. Features takes
// precedence over Instances. Instances without FeatureNames are read in the
// model's declared feature order.
type PredictRequest struct {
	Model        string       `json:"model,omitempty"`
	FeatureNames []string     `json:"feature_names,omitempty"`
	Instances    [][]float64  `json:"instances"`
	Features     *table.Frame `json:"-"`
}

// Predictions marshals non-finite scores as null
type Predictions []float64

func (p Predictions) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(p))
	for i := range p {
		if math.IsNaN(p[i]) || math.IsInf(p[i], 0) {
			continue
		}
		out[i] = &p[i]
	}
	return json.Marshal(out)
}

// Prediction is the outcome of direct inference
type Prediction struct {
	Model       string      `json:"model"`
	Predictions Predictions `json:"predictions"`
}

// Predict scores feature rows with the requested model, one value per row in
// input order. A missing feature is a feature mismatch.
func (e *Engine) Predict(ctx context.Context, req PredictRequest) (*Prediction, error) {
	started := time.Now()
	modelID := req.Model
	if modelID == "" {
		modelID = e.config.DefaultModel
	}
	logger := e.logger.WithFields(logrus.Fields{
		"component": "scoring_engine",
		"operation": "predict",
	})

	_, span := e.tracer.Start(ctx, "scoring.predict", trace.WithAttributes(
		attribute.String("model.requested", modelID),
	))
	defer span.End()

	prediction, err := e.predict(modelID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).Error("Prediction failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("result.rows", len(prediction.Predictions)))
	logger.WithFields(logrus.Fields{
		"model":    prediction.Model,
		"rows":     len(prediction.Predictions),
		"duration": time.Since(started),
	}).Info("Prediction completed")
	return prediction, nil
}

func (e *Engine) predict(modelID string, req PredictRequest) (*Prediction, error) {
	m, err := e.loader.Load(modelID)
	if err != nil {
		return nil, err
	}
	adapter := model.NewAdapter(m.Regressor, e.config.BatchSize, e.logger)

	frame := req.Features
	if frame == nil {
		names := req.FeatureNames
		if len(names) == 0 {
			names = adapter.FeatureNames()
		}
		if frame, err = model.InstancesFrame(names, req.Instances); err != nil {
			return nil, err
		}
	}

	scores, err := adapter.Score(frame)
	if err != nil {
		return nil, err
	}
	return &Prediction{Model: m.Version, Predictions: Predictions(scores)}, nil
}
