// ABOUTME: Batched prediction over a normalized feature table.
// ABOUTME: Checks declared features, coerces cells to float64 and scores contiguous batches in row order.

package model

import (
	"strings"

	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
)

const DefaultBatchSize = 500

// Adapter scores feature tables with a regressor
type Adapter struct {
	model     Regressor
	batchSize int
	logger    *logrus.Logger
}

// NewAdapter wraps a regressor. A non-positive batch size selects DefaultBatchSize.
func NewAdapter(model Regressor, batchSize int, logger *logrus.Logger) *Adapter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Adapter{
		model:     model,
		batchSize: batchSize,
		logger:    logger,
	}
}

// FeatureNames returns the features the wrapped model requires
func (a *Adapter) FeatureNames() []string {
	return a.model.FeatureNames()
}

// Score predicts one value per frame row. Every declared feature must be a
// column of the frame; missing features are reported by name and never filled.
func (a *Adapter) Score(frame *table.Frame) ([]float64, error) {
	logger := a.logger.WithField("operation", "score")

	names := a.model.FeatureNames()
	selected, missing := frame.Select(names)
	if len(missing) > 0 {
		return nil, types.NewError(types.KindFeatureMismatch, "missing required features: %s", strings.Join(missing, ", "))
	}

	rows, err := matrix(selected)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, 0, len(rows))
	batches := 0
	for start := 0; start < len(rows); start += a.batchSize {
		end := min(start+a.batchSize, len(rows))
		batch, err := a.model.Predict(rows[start:end])
		if err != nil {
			return nil, types.WrapError(types.KindInternal, err, "prediction failed for rows %d-%d", start, end-1)
		}
		scores = append(scores, batch...)
		batches++
	}

	logger.WithFields(logrus.Fields{
		"rows":    len(rows),
		"batches": batches,
	}).Debug("Scored feature table")

	return scores, nil
}

// InstancesFrame builds a numeric feature table from row-major instances.
// Every instance must hold one value per name.
func InstancesFrame(names []string, instances [][]float64) (*table.Frame, error) {
	if len(names) == 0 {
		return nil, types.NewError(types.KindSchemaError, "no feature names given")
	}
	columns := make([]*table.Column, len(names))
	seen := make(map[string]bool, len(names))
	for j, name := range names {
		if seen[name] {
			return nil, types.NewError(types.KindSchemaError, "duplicate feature name %s", name)
		}
		seen[name] = true
		values := make([]float64, len(instances))
		for i, instance := range instances {
			if len(instance) != len(names) {
				return nil, types.NewError(types.KindSchemaError, "instance %d has %d values, expected %d", i, len(instance), len(names))
			}
			values[i] = instance[j]
		}
		columns[j] = table.NewNumericColumn(name, values)
	}
	return table.FromColumns(columns...)
}

// matrix coerces the selected columns to a row-major float64 matrix. Missing
// cells become NaN; text that does not parse is a residue failure.
func matrix(frame *table.Frame) ([][]float64, error) {
	names := frame.Names()
	rows := make([][]float64, frame.Len())
	for i := range rows {
		rows[i] = make([]float64, len(names))
	}
	for j, name := range names {
		col, _ := frame.Column(name)
		for i := range rows {
			v, ok := col.Float(i)
			if !ok && !col.IsMissing(i) {
				return nil, types.NewError(types.KindNonNumericResidue, "feature %s has non-numeric value at row %d", name, i)
			}
			rows[i][j] = v
		}
	}
	return rows, nil
}
