// ABOUTME: Scoring pipeline that matches inventory to vulnerabilities and predicts risk per pair.
// ABOUTME: Runs LOADING, MATCHING, PREPROCESSING, SCORING and FORMATTING, then writes the result table.

package engine

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jfeddern/VulnRisk/internal/features"
	"github.com/jfeddern/VulnRisk/internal/matcher"
	"github.com/jfeddern/VulnRisk/internal/model"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is a pipeline stage
type State string

const (
	StateLoading       State = "LOADING"
	StateMatching      State = "MATCHING"
	StatePreprocessing State = "PREPROCESSING"
	StateScoring       State = "SCORING"
	StateFormatting    State = "FORMATTING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

const tracerName = "github.com/jfeddern/VulnRisk/internal/engine"

// SystemSource supplies the system inventory table
type SystemSource interface {
	Name() string
	LoadSystems(ctx context.Context) (*table.Frame, error)
}

// CatalogSource supplies the vulnerability catalog table
type CatalogSource interface {
	Name() string
	LoadCatalog(ctx context.Context) (*table.Frame, error)
}

// ModelLoader resolves a model identifier to a loaded model
type ModelLoader interface {
	Load(id string) (*model.Model, error)
}

// Observer receives pipeline progress. Calls happen on the goroutine running
// the pipeline.
type Observer interface {
	StageCompleted(stage State, duration time.Duration)
	RunFinished(report *Report)
}

// Report summarizes a finished run, successful or not
type Report struct {
	RunID    string
	Model    string
	State    State // DONE or FAILED
	Stage    State // Last stage entered
	Err      error
	Result   *types.PredictionResult
	Duration time.Duration
	Finished time.Time
}

// Config holds configuration for the scoring pipeline
type Config struct {
	DefaultModel   string
	OutputDir      string
	MaxRows        int    // Per-side row cap before the join
	Seed           uint64 // Subsample seed
	BatchSize      int
	Products       []string // Product catalog in priority order; empty uses the default
	ScrapeInterval time.Duration
}

// DefaultConfig returns the standard pipeline settings
func DefaultConfig() *Config {
	return &Config{
		DefaultModel:   model.DefaultVersion,
		OutputDir:      ".",
		MaxRows:        matcher.DefaultMaxRows,
		Seed:           matcher.DefaultSeed,
		BatchSize:      model.DefaultBatchSize,
		ScrapeInterval: 5 * time.Minute,
	}
}

// Request describes one scoring run
type Request struct {
	Systems    SystemSource
	Catalog    CatalogSource
	Model      string // Model identifier; empty uses Config.DefaultModel
	OutputPath string // Empty writes a timestamped file in Config.OutputDir
}

// Engine runs scoring pipelines. Runs share no mutable state apart from the
// last-result snapshot.
type Engine struct {
	loader    ModelLoader
	matcher   *matcher.ProductMatcher
	config    *Config
	observers []Observer
	tracer    trace.Tracer
	logger    *logrus.Logger

	mutex      sync.RWMutex
	lastResult *types.PredictionResult
	lastRun    time.Time
}

// NewEngine creates a scoring engine
func NewEngine(loader ModelLoader, config *Config, logger *logrus.Logger, observers ...Observer) *Engine {
	return &Engine{
		loader:    loader,
		matcher:   matcher.NewProductMatcher(config.Products, logger),
		config:    config,
		observers: observers,
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
	}
}

// Matcher returns the product matcher used by the engine
func (e *Engine) Matcher() *matcher.ProductMatcher {
	return e.matcher
}

// run carries the state of one pipeline execution
type run struct {
	id     string
	state  State
	model  string
	logger *logrus.Entry
}

// Run executes the pipeline once. On success the output file holds the full
// result table; on failure nothing is written and a *types.ScoringError is
// returned.
func (e *Engine) Run(ctx context.Context, req Request) (*types.PredictionResult, error) {
	started := time.Now()
	r := &run{id: uuid.NewString(), model: req.Model}
	if r.model == "" {
		r.model = e.config.DefaultModel
	}
	r.logger = e.logger.WithFields(logrus.Fields{
		"component": "scoring_engine",
		"run_id":    r.id,
	})

	ctx, span := e.tracer.Start(ctx, "scoring.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("model.requested", r.model),
	))
	defer span.End()

	result, err := e.execute(ctx, r, req)

	report := &Report{
		RunID:    r.id,
		Model:    r.model,
		Stage:    r.state,
		Result:   result,
		Duration: time.Since(started),
		Finished: time.Now(),
	}
	if err != nil {
		report.State = StateFailed
		report.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.WithError(err).WithField("stage", r.state).Error("Scoring run failed")
	} else {
		report.State = StateDone
		span.SetAttributes(attribute.Int("result.rows", len(result.Rows)))
		r.logger.WithFields(logrus.Fields{
			"rows":     len(result.Rows),
			"output":   result.OutputPath,
			"duration": report.Duration,
		}).Info("Scoring run completed")

		e.mutex.Lock()
		e.lastResult = result
		e.lastRun = report.Finished
		e.mutex.Unlock()
	}

	for _, o := range e.observers {
		o.RunFinished(report)
	}
	return result, err
}

func (e *Engine) execute(ctx context.Context, r *run, req Request) (*types.PredictionResult, error) {
	var (
		m        *model.Model
		systems  *table.Frame
		catalog  *table.Frame
		joined   *matcher.JoinResult
		featured *table.Frame
		scores   []float64
		result   *types.PredictionResult
	)

	err := e.stage(ctx, r, StateLoading, func() error {
		var err error
		if m, err = e.loader.Load(r.model); err != nil {
			return err
		}
		r.model = m.Version
		if systems, err = load(ctx, "system inventory", req.Systems, func(ctx context.Context) (*table.Frame, error) {
			return req.Systems.LoadSystems(ctx)
		}); err != nil {
			return err
		}
		if err := requireColumns(systems, "system inventory", types.ColumnSystemID, types.ColumnSoftwareVersion); err != nil {
			return err
		}
		if catalog, err = load(ctx, "vulnerability catalog", req.Catalog, func(ctx context.Context) (*table.Frame, error) {
			return req.Catalog.LoadCatalog(ctx)
		}); err != nil {
			return err
		}
		if err := requireColumns(catalog, "vulnerability catalog", types.ColumnCVEID, types.ColumnProduct, types.ColumnCVSSScore); err != nil {
			return err
		}
		r.logger.WithFields(logrus.Fields{
			"model":           m.Version,
			"systems":         systems.Len(),
			"catalog_records": catalog.Len(),
		}).Info("System and catalog tables loaded")
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, r, StateMatching, func() error {
		var err error
		joined, err = e.matcher.Join(systems, catalog, matcher.Options{MaxRows: e.config.MaxRows, Seed: e.config.Seed})
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, r, StatePreprocessing, func() error {
		var err error
		featured, err = features.NewNormalizer(m.FeatureNames(), e.logger).Normalize(joined.Joined)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, r, StateScoring, func() error {
		var err error
		scores, err = model.NewAdapter(m, e.config.BatchSize, e.logger).Score(featured)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, r, StateFormatting, func() error {
		var err error
		outputPath := req.OutputPath
		if outputPath == "" {
			outputPath = filepath.Join(e.config.OutputDir, DefaultOutputName(time.Now(), r.id))
		}
		result, err = buildResult(r, joined.Joined, scores, outputPath)
		if err != nil {
			return err
		}
		return writeResult(result)
	})
	if err != nil {
		return nil, err
	}

	r.state = StateDone
	return result, nil
}

// stage runs one pipeline step, stamping failures with the stage name
func (e *Engine) stage(ctx context.Context, r *run, state State, fn func() error) error {
	r.state = state
	if err := ctx.Err(); err != nil {
		return stamp(types.WrapError(types.KindInternal, err, "run cancelled"), state)
	}

	_, span := e.tracer.Start(ctx, "scoring."+string(state))
	defer span.End()

	r.logger.WithField("stage", state).Debug("Entering stage")
	started := time.Now()
	if err := fn(); err != nil {
		err = stamp(err, state)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	duration := time.Since(started)
	for _, o := range e.observers {
		o.StageCompleted(state, duration)
	}
	return nil
}

// stamp converts any failure to a ScoringError carrying the stage it happened in
func stamp(err error, state State) *types.ScoringError {
	scoringErr, ok := err.(*types.ScoringError)
	if !ok {
		scoringErr = types.WrapError(types.KindOf(err), err, "%s failed", state)
	}
	if scoringErr.Stage == "" {
		scoringErr.Stage = string(state)
	}
	return scoringErr
}

func load(ctx context.Context, what string, source interface{ Name() string }, fn func(context.Context) (*table.Frame, error)) (*table.Frame, error) {
	if source == nil {
		return nil, types.NewError(types.KindInputNotFound, "no %s source configured", what)
	}
	frame, err := fn(ctx)
	if err != nil {
		if types.KindOf(err) == types.KindInternal {
			return nil, types.WrapError(types.KindSchemaError, err, "failed to read %s from %s", what, source.Name())
		}
		return nil, err
	}
	return frame, nil
}

func requireColumns(frame *table.Frame, what string, names ...string) error {
	var missing []string
	for _, name := range names {
		if !frame.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return types.NewError(types.KindSchemaError, "%s is missing required columns: %v", what, missing)
	}
	return nil
}

// buildResult attaches formatted scores to the join's identity columns
func buildResult(r *run, joined *table.Frame, scores []float64, outputPath string) (*types.PredictionResult, error) {
	if len(scores) != joined.Len() {
		return nil, types.NewError(types.KindInternal, "model returned %d scores for %d rows", len(scores), joined.Len())
	}

	cves, err := identityColumn(joined, types.ColumnCVEID, "_x")
	if err != nil {
		return nil, err
	}
	systems, err := identityColumn(joined, types.ColumnSystemID, "_y")
	if err != nil {
		return nil, err
	}
	products, err := identityColumn(joined, types.ColumnProduct, "")
	if err != nil {
		return nil, err
	}

	rows := make([]types.RiskScore, len(scores))
	for i, score := range scores {
		rows[i] = types.RiskScore{
			CVEID:            cellText(cves, i),
			SystemID:         cellText(systems, i),
			Product:          cellText(products, i),
			RiskScorePercent: FormatRiskScore(score),
			Raw:              score,
		}
	}

	return &types.PredictionResult{
		RunID:      r.id,
		Model:      r.model,
		OutputPath: outputPath,
		CreatedAt:  time.Now().UTC(),
		Rows:       rows,
	}, nil
}

// identityColumn finds an output column, allowing for the merge suffix it gets
// when both inputs carried it
func identityColumn(frame *table.Frame, name, suffix string) (*table.Column, error) {
	if col, ok := frame.Column(name); ok {
		return col, nil
	}
	if suffix != "" {
		if col, ok := frame.Column(name + suffix); ok {
			return col, nil
		}
	}
	return nil, types.NewError(types.KindInternal, "joined table has no %s column", name)
}

func cellText(col *table.Column, i int) string {
	text, _ := col.Text(i)
	return text
}

// writeResult persists the result table atomically
func writeResult(result *types.PredictionResult) error {
	n := len(result.Rows)
	cves := make([]string, n)
	systems := make([]string, n)
	products := make([]string, n)
	scores := make([]string, n)
	for i, row := range result.Rows {
		cves[i] = row.CVEID
		systems[i] = row.SystemID
		products[i] = row.Product
		scores[i] = row.RiskScorePercent
	}

	frame, err := table.FromColumns(
		table.NewTextColumn(types.ColumnCVEID, cves),
		table.NewTextColumn(types.ColumnSystemID, systems),
		table.NewTextColumn(types.ColumnProduct, products),
		table.NewTextColumn(types.ColumnRiskScore, scores),
	)
	if err != nil {
		return types.WrapError(types.KindInternal, err, "failed to build result table")
	}
	if err := table.WriteCSVFile(result.OutputPath, frame); err != nil {
		return types.WrapError(types.KindInternal, err, "failed to write predictions to %s", result.OutputPath)
	}
	return nil
}

// FormatRiskScore renders a raw score as a percentage rounded to two decimals.
// Rounding is half-to-even on the binary value of s*100*100, and the number is
// printed with at least one fractional digit: 0.8765 -> "87.65%", 1 -> "100.0%".
// A missing score renders as "nan%".
func FormatRiskScore(s float64) string {
	if math.IsNaN(s) {
		return "nan%"
	}
	percent := s * 100
	rounded := math.RoundToEven(percent*100) / 100
	return table.FormatDecimal(rounded) + "%"
}

// DefaultOutputName is the result filename for a run: the UTC timestamp
// followed by the first eight characters of the run id
func DefaultOutputName(t time.Time, runID string) string {
	if len(runID) > 8 {
		runID = runID[:8]
	}
	return fmt.Sprintf("predictions_%s_%s.csv", t.UTC().Format("20060102150405"), runID)
}

// LastResult returns the most recent successful result and when it finished
func (e *Engine) LastResult() (*types.PredictionResult, time.Time) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.lastResult, e.lastRun
}

// Start scores the request immediately and then on every scrape interval until
// ctx is done. Each run writes its own timestamped output file.
func (e *Engine) Start(ctx context.Context, req Request) {
	logger := e.logger.WithField("component", "scoring_engine")

	periodic := req
	periodic.OutputPath = ""

	if _, err := e.Run(ctx, periodic); err != nil {
		logger.WithError(err).Error("Initial scoring run failed")
	}

	interval := e.config.ScrapeInterval
	if interval <= 0 {
		interval = DefaultConfig().ScrapeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.WithField("interval", interval).Info("Starting periodic scoring")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scoring engine stopping")
			return
		case <-ticker.C:
			if _, err := e.Run(ctx, periodic); err != nil {
				logger.WithError(err).Error("Periodic scoring run failed")
			}
		}
	}
}
