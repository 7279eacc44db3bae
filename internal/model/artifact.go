// ABOUTME: Pre-fitted regression models decoded from JSON artifacts.
// ABOUTME: Supports tree ensembles averaged over regression trees and plain linear models.

package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/jfeddern/VulnRisk/internal/features"
)

// Artifact kinds
const (
	KindRandomForest = "random_forest"
	KindLinear       = "linear"
)

// Regressor is an opaque pre-fitted model. Implementations never change after
// they are constructed.
type Regressor interface {
	// FeatureNames returns the ordered input feature names
	FeatureNames() []string
	// Predict returns one score per input row, in row order
	Predict(rows [][]float64) ([]float64, error)
}

// Artifact is the serialized form of a model
type Artifact struct {
	Kind         string    `json:"kind"`
	Version      string    `json:"version,omitempty"`
	FeatureNames []string  `json:"feature_names"`
	Trees        []Tree    `json:"trees,omitempty"`
	Coefficients []float64 `json:"coefficients,omitempty"`
	Intercept    float64   `json:"intercept,omitempty"`
}

// Tree is one regression tree in flat array form. Node 0 is the root; a node
// whose left child is -1 is a leaf. Rows with x <= threshold go left, NaN
// follows MissingLeft.
type Tree struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	Value         []float64 `json:"value"`
	MissingLeft   []bool    `json:"missing_left,omitempty"`
}

// Forest averages the predictions of its trees
type Forest struct {
	features []string
	trees    []Tree
}

// Linear scores rows as intercept + coefficients . row
type Linear struct {
	features     []string
	coefficients []float64
	intercept    float64
}

// Decode parses and validates a JSON model artifact
func Decode(data []byte) (Regressor, error) {
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("invalid model artifact: %w", err)
	}
	return artifact.Build()
}

// Build validates the artifact and returns the regressor it describes
func (a *Artifact) Build() (Regressor, error) {
	if len(a.FeatureNames) == 0 {
		return nil, fmt.Errorf("model artifact declares no feature names")
	}

	switch a.Kind {
	case KindRandomForest:
		if len(a.Trees) == 0 {
			return nil, fmt.Errorf("forest artifact has no trees")
		}
		for i := range a.Trees {
			if err := a.Trees[i].validate(len(a.FeatureNames)); err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
		}
		return &Forest{features: a.FeatureNames, trees: a.Trees}, nil

	case KindLinear:
		if len(a.Coefficients) != len(a.FeatureNames) {
			return nil, fmt.Errorf("linear artifact has %d coefficients for %d features", len(a.Coefficients), len(a.FeatureNames))
		}
		return &Linear{features: a.FeatureNames, coefficients: a.Coefficients, intercept: a.Intercept}, nil

	default:
		return nil, fmt.Errorf("unsupported model kind %q", a.Kind)
	}
}

func (t *Tree) validate(numFeatures int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("node arrays have inconsistent lengths")
	}
	if t.MissingLeft != nil && len(t.MissingLeft) != n {
		return fmt.Errorf("missing_left has %d entries for %d nodes", len(t.MissingLeft), n)
	}
	for node := 0; node < n; node++ {
		left, right := t.ChildrenLeft[node], t.ChildrenRight[node]
		if left == -1 {
			continue
		}
		// Children always follow their parent, so traversal terminates
		if left <= node || left >= n || right <= node || right >= n {
			return fmt.Errorf("node %d has invalid children %d/%d", node, left, right)
		}
		if t.Feature[node] < 0 || t.Feature[node] >= numFeatures {
			return fmt.Errorf("node %d splits on unknown feature %d", node, t.Feature[node])
		}
	}
	return nil
}

func (t *Tree) predict(row []float64) float64 {
	node := 0
	for t.ChildrenLeft[node] != -1 {
		x := row[t.Feature[node]]
		switch {
		case math.IsNaN(x):
			if t.MissingLeft != nil && t.MissingLeft[node] {
				node = t.ChildrenLeft[node]
			} else {
				node = t.ChildrenRight[node]
			}
		case x <= t.Threshold[node]:
			node = t.ChildrenLeft[node]
		default:
			node = t.ChildrenRight[node]
		}
	}
	return t.Value[node]
}

// FeatureNames returns a copy of the ordered input features
func (f *Forest) FeatureNames() []string {
	return append([]string(nil), f.features...)
}

// Predict averages the tree outputs for each row
func (f *Forest) Predict(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(f.features) {
			return nil, fmt.Errorf("row %d has %d values, model expects %d", i, len(row), len(f.features))
		}
		sum := 0.0
		for j := range f.trees {
			sum += f.trees[j].predict(row)
		}
		out[i] = sum / float64(len(f.trees))
	}
	return out, nil
}

// FeatureNames returns a copy of the ordered input features
func (l *Linear) FeatureNames() []string {
	return append([]string(nil), l.features...)
}

// Predict returns intercept + coefficients . row for each row
func (l *Linear) Predict(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(l.features) {
			return nil, fmt.Errorf("row %d has %d values, model expects %d", i, len(row), len(l.features))
		}
		score := l.intercept
		for j, c := range l.coefficients {
			score += c * row[j]
		}
		out[i] = score
	}
	return out, nil
}

// Baseline returns the built-in linear model over the default features. It is
// used for demo and mock runs where no trained artifact is deployed.
func Baseline() Regressor {
	return &Linear{
		features:     append([]string(nil), features.DefaultFeatures...),
		coefficients: []float64{0.15, 0.2, 0.35, 0.15, 0.1, 0.05, -0.1},
		intercept:    0.1,
	}
}
