// ABOUTME: Feature engineering from joined inventory/catalog rows to the numeric model input.
// ABOUTME: Scales CVSS and attack history, weights criticality, indicator-encodes categoricals, prunes text.

package features

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
)

// Derived feature names
const (
	ColumnNormalizedCVSS    = "Normalized_CVSS"
	ColumnCriticalityWeight = "Criticality_Weight"
	columnBaseRisk          = "Base_Risk"
)

// DefaultFeatures is the feature order of the published risk models
var DefaultFeatures = []string{
	types.ColumnHistoricalAttackData,
	ColumnCriticalityWeight,
	ColumnNormalizedCVSS,
	"Exploit_Status_Yes",
	"Patch_Availability_Not Available",
	"Network_Access_Level_Public",
	"Patch_Level_Up-to-date",
}

// CriticalityWeights maps ordinal criticality labels to weights
var CriticalityWeights = map[string]float64{
	"High":   1.0,
	"Medium": 0.7,
	"Low":    0.4,
}

// CategoricalColumns are indicator-encoded with the first level dropped
var CategoricalColumns = []string{
	types.ColumnExploitStatus,
	types.ColumnPatchAvailability,
	types.ColumnNetworkAccessLevel,
	types.ColumnPatchLevel,
}

// DroppedColumns are identifiers and free text that never reach the model
var DroppedColumns = []string{
	types.ColumnCVEID,
	types.ColumnProduct,
	types.ColumnDescription,
	types.ColumnSeverity,
	types.ColumnSystemID,
	types.ColumnComponentName,
	types.ColumnSoftwareVersion,
	"Configuration_Details",
	"Owner",
	types.ColumnTimestamp,
	types.ColumnTimestamp + "_x",
	types.ColumnTimestamp + "_y",
	types.ColumnCriticalityLevel,
}

// Normalizer turns a joined frame into the exact feature table a model requires
type Normalizer struct {
	required []string
	logger   *logrus.Logger
}

// NewNormalizer creates a normalizer for the given ordered feature names.
// An empty list selects DefaultFeatures.
func NewNormalizer(required []string, logger *logrus.Logger) *Normalizer {
	if len(required) == 0 {
		required = DefaultFeatures
	}
	return &Normalizer{
		required: required,
		logger:   logger,
	}
}

// Required returns the ordered feature names the output is restricted to
func (n *Normalizer) Required() []string {
	out := make([]string, len(n.required))
	copy(out, n.required)
	return out
}

// Normalize engineers features on a copy of the input frame. The result holds
// exactly the required feature columns, all numeric, in input row order.
// Running it again on its own output returns the same table.
func (n *Normalizer) Normalize(joined *table.Frame) (*table.Frame, error) {
	logger := n.logger.WithField("operation", "normalize")

	frame := joined.Drop(columnBaseRisk)

	var err error
	if frame, err = normalizeCVSS(frame); err != nil {
		return nil, err
	}
	if frame, err = scaleHistory(frame); err != nil {
		return nil, err
	}
	if frame, err = weightCriticality(frame); err != nil {
		return nil, err
	}
	if frame, err = n.encodeCategoricals(frame); err != nil {
		return nil, err
	}

	frame = frame.Drop(DroppedColumns...)

	if residue := frame.TextColumns(); len(residue) > 0 {
		return nil, types.NewError(types.KindNonNumericResidue, "non-numeric columns detected: %s", strings.Join(residue, ", "))
	}

	features, missing := frame.Select(n.required)
	if len(missing) > 0 {
		return nil, types.NewError(types.KindFeatureMismatch, "missing required features: %s", strings.Join(missing, ", "))
	}

	logger.WithFields(logrus.Fields{
		"rows":     features.Len(),
		"features": len(n.required),
	}).Debug("Normalized feature table")

	return features, nil
}

// normalizeCVSS rescales CVSS_Score from 0-10 to 0-1 and drops the raw column
func normalizeCVSS(frame *table.Frame) (*table.Frame, error) {
	raw, ok := frame.Column(types.ColumnCVSSScore)
	if !ok {
		if frame.Has(ColumnNormalizedCVSS) {
			return frame, nil
		}
		return nil, types.NewError(types.KindSchemaError, "%s column is missing", types.ColumnCVSSScore)
	}

	values, ok := numericValues(raw)
	if !ok {
		return nil, types.NewError(types.KindNonNumericResidue, "%s holds non-numeric values", types.ColumnCVSSScore)
	}
	for i := range values {
		values[i] /= 10
	}

	out := frame.Drop(types.ColumnCVSSScore)
	if err := out.Set(table.NewNumericColumn(ColumnNormalizedCVSS, values)); err != nil {
		return nil, types.WrapError(types.KindInternal, err, "failed to set %s", ColumnNormalizedCVSS)
	}
	return out, nil
}

// scaleHistory divides Historical_Attack_Data by its maximum in this batch. A
// zero or undefined maximum leaves values unscaled. Text that does not parse is
// left in place for the residue check.
func scaleHistory(frame *table.Frame) (*table.Frame, error) {
	col, ok := frame.Column(types.ColumnHistoricalAttackData)
	if !ok {
		return frame, nil
	}
	values, ok := numericValues(col)
	if !ok {
		return frame, nil
	}

	highest := math.NaN()
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(highest) || v > highest {
			highest = v
		}
	}
	if !math.IsNaN(highest) && highest != 0 {
		for i := range values {
			values[i] /= highest
		}
	}

	out := frame.Clone()
	if err := out.Set(table.NewNumericColumn(types.ColumnHistoricalAttackData, values)); err != nil {
		return nil, types.WrapError(types.KindInternal, err, "failed to set %s", types.ColumnHistoricalAttackData)
	}
	return out, nil
}

// weightCriticality maps Criticality_Level labels to Criticality_Weight;
// unknown or missing labels become NaN
func weightCriticality(frame *table.Frame) (*table.Frame, error) {
	col, ok := frame.Column(types.ColumnCriticalityLevel)
	if !ok {
		return frame, nil
	}

	weights := make([]float64, col.Len())
	for i := range weights {
		weights[i] = math.NaN()
		label, ok := col.Text(i)
		if !ok {
			continue
		}
		if w, known := CriticalityWeights[label]; known {
			weights[i] = w
		}
	}

	out := frame.Clone()
	if err := out.Set(table.NewNumericColumn(ColumnCriticalityWeight, weights)); err != nil {
		return nil, types.WrapError(types.KindInternal, err, "failed to set %s", ColumnCriticalityWeight)
	}
	return out, nil
}

// encodeCategoricals replaces each present categorical column with drop-first
// indicators named <column>_<category>, categories in sorted order. Required
// indicators of a present column that were not emitted, such as the reference
// level, are added as equality indicators.
func (n *Normalizer) encodeCategoricals(frame *table.Frame) (*table.Frame, error) {
	out := frame
	for _, name := range CategoricalColumns {
		col, ok := frame.Column(name)
		if !ok {
			continue
		}

		labels := make([]string, col.Len())
		present := make([]bool, col.Len())
		integral := integerColumn(col)
		for i := range labels {
			labels[i], present[i] = categoryLabel(col, i, integral)
		}

		var indicators []*table.Column
		emitted := make(map[string]bool)
		for _, category := range sortedCategories(col, labels, present)[1:] {
			indicators = append(indicators, indicator(name, category, labels, present))
			emitted[name+"_"+category] = true
		}

		prefix := name + "_"
		for _, feature := range n.required {
			if emitted[feature] || !strings.HasPrefix(feature, prefix) {
				continue
			}
			indicators = append(indicators, indicator(name, strings.TrimPrefix(feature, prefix), labels, present))
			emitted[feature] = true
		}

		out = out.Drop(name)
		for _, ind := range indicators {
			if err := out.Set(ind); err != nil {
				return nil, types.WrapError(types.KindInternal, err, "failed to encode %s", name)
			}
		}
	}
	return out, nil
}

// categoryLabel renders cell i as an indicator suffix. Integer columns
// label as "2", any other numeric column as "2.0".
func categoryLabel(col *table.Column, i int, integral bool) (string, bool) {
	if col.Numeric {
		v := col.Floats[i]
		if math.IsNaN(v) {
			return "", false
		}
		if integral {
			return strconv.FormatInt(int64(v), 10), true
		}
		return table.FormatDecimal(v), true
	}
	return col.Text(i)
}

// integerColumn reports whether a numeric column holds only whole numbers
// with no missing cells, the case that reads back as an integer column.
func integerColumn(col *table.Column) bool {
	if !col.Numeric || col.Len() == 0 {
		return false
	}
	for _, v := range col.Floats {
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || math.Abs(v) >= 1<<53 {
			return false
		}
	}
	return true
}

// sortedCategories returns the distinct present labels. Numeric columns sort by
// value, text columns lexically. Always holds at least one entry so the
// reference level can be sliced off.
func sortedCategories(col *table.Column, labels []string, present []bool) []string {
	seen := make(map[string]float64)
	var categories []string
	for i, label := range labels {
		if !present[i] {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		value := 0.0
		if col.Numeric {
			value = col.Floats[i]
		}
		seen[label] = value
		categories = append(categories, label)
	}
	if col.Numeric {
		sort.Slice(categories, func(a, b int) bool {
			return seen[categories[a]] < seen[categories[b]]
		})
	} else {
		sort.Strings(categories)
	}
	if len(categories) == 0 {
		return []string{""}
	}
	return categories
}

func indicator(column, category string, labels []string, present []bool) *table.Column {
	values := make([]float64, len(labels))
	for i, label := range labels {
		if present[i] && label == category {
			values[i] = 1
		}
	}
	return table.NewNumericColumn(column+"_"+category, values)
}

// numericValues copies a column as floats. Missing cells become NaN; the second
// return value is false if any present cell does not parse as a number.
func numericValues(col *table.Column) ([]float64, bool) {
	values := make([]float64, col.Len())
	if col.Numeric {
		copy(values, col.Floats)
		return values, true
	}
	for i := range values {
		v, ok := col.Float(i)
		if !ok && !col.IsMissing(i) {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}
