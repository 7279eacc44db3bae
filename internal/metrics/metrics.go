// ABOUTME: Prometheus metrics for scoring runs, the latest risk result and run history.
// ABOUTME: PipelineMetrics observes the engine; MetricsHandler serves the /metrics endpoint.

package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/jfeddern/VulnRisk/internal/engine"
	"github.com/jfeddern/VulnRisk/internal/history"
	"github.com/jfeddern/VulnRisk/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ResultProvider exposes the most recent successful scoring result
type ResultProvider interface {
	LastResult() (*types.PredictionResult, time.Time)
}

// PipelineMetrics counts runs and times stages. It implements engine.Observer.
type PipelineMetrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	scoredPairs   prometheus.Counter
}

// NewPipelineMetrics creates the pipeline collectors
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulnrisk_scoring_runs_total",
				Help: "Number of finished scoring runs by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulnrisk_scoring_failures_total",
				Help: "Number of failed scoring runs by error kind and stage",
			},
			[]string{"kind", "stage"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vulnrisk_stage_duration_seconds",
				Help:    "Duration of scoring pipeline stages",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		scoredPairs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vulnrisk_scored_pairs_total",
				Help: "Number of (system, vulnerability) pairs scored",
			},
		),
	}
}

// StageCompleted records a stage duration
func (p *PipelineMetrics) StageCompleted(stage engine.State, duration time.Duration) {
	p.stageDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())
}

// RunFinished counts the run outcome
func (p *PipelineMetrics) RunFinished(report *engine.Report) {
	model := sanitizeLabelValue(report.Model)
	if report.State == engine.StateDone {
		p.runs.WithLabelValues(model, "success").Inc()
		if report.Result != nil {
			p.scoredPairs.Add(float64(len(report.Result.Rows)))
		}
		return
	}
	p.runs.WithLabelValues(model, "failure").Inc()
	p.failures.WithLabelValues(string(types.KindOf(report.Err)), string(report.Stage)).Inc()
}

func (p *PipelineMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{p.runs, p.failures, p.stageDuration, p.scoredPairs}
}

type MetricsHandler struct {
	results  ResultProvider
	history  history.Store
	pipeline *PipelineMetrics
	logger   *logrus.Logger

	// Latest result
	productMaxRisk *prometheus.GaugeVec
	productPairs   *prometheus.GaugeVec
	resultInfo     *prometheus.GaugeVec

	// History
	dailyPredictions prometheus.Gauge
	modelUsage       *prometheus.GaugeVec
}

// NewMetricsHandler creates the /metrics handler. Any provider may be nil.
func NewMetricsHandler(results ResultProvider, store history.Store, pipeline *PipelineMetrics, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		results:  results,
		history:  store,
		pipeline: pipeline,
		logger:   logger,

		productMaxRisk: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnrisk_product_max_risk_score",
				Help: "Highest risk score percentage per product in the latest result",
			},
			[]string{"product", "model"},
		),

		productPairs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnrisk_product_scored_pairs",
				Help: "Number of scored pairs per product in the latest result",
			},
			[]string{"product", "model"},
		),

		resultInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnrisk_result_info",
				Help: "Information about the latest scoring result",
			},
			[]string{"info_type"},
		),

		dailyPredictions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vulnrisk_history_predictions_24h",
				Help: "Number of recorded scoring runs in the last 24 hours",
			},
		),

		modelUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vulnrisk_history_model_usage",
				Help: "Number of recorded scoring runs per model generation",
			},
			[]string{"model"},
		),
	}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Create a new registry for this request to avoid conflicts
	registry := prometheus.NewRegistry()

	registry.MustRegister(m.productMaxRisk)
	registry.MustRegister(m.productPairs)
	registry.MustRegister(m.resultInfo)
	registry.MustRegister(m.dailyPredictions)
	registry.MustRegister(m.modelUsage)
	if m.pipeline != nil {
		registry.MustRegister(m.pipeline.collectors()...)
	}

	// Reset all metrics to avoid stale data
	m.productMaxRisk.Reset()
	m.productPairs.Reset()
	m.resultInfo.Reset()
	m.modelUsage.Reset()
	m.dailyPredictions.Set(0)

	if m.results != nil {
		m.populateResult()
	}
	if m.history != nil {
		records := m.history.List()
		usage := history.ModelUsage(records)
		m.dailyPredictions.Set(float64(history.DailyPredictions(records, time.Now())))
		m.modelUsage.WithLabelValues("V1").Set(float64(usage.V1Count))
		m.modelUsage.WithLabelValues("V2").Set(float64(usage.V2Count))
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	handler.ServeHTTP(w, r)
}

func (m *MetricsHandler) populateResult() {
	result, finished := m.results.LastResult()
	if result == nil {
		return
	}

	model := sanitizeLabelValue(result.Model)
	highest := make(map[string]float64)
	pairs := make(map[string]int)
	for _, row := range result.Rows {
		product := sanitizeLabelValue(row.Product)
		pairs[product]++
		if score, ok := highest[product]; !ok || row.Raw > score {
			highest[product] = row.Raw
		}
	}
	for product, score := range highest {
		m.productMaxRisk.WithLabelValues(product, model).Set(score * 100)
		m.productPairs.WithLabelValues(product, model).Set(float64(pairs[product]))
	}

	m.resultInfo.WithLabelValues("last_run_timestamp").Set(float64(finished.Unix()))
	m.resultInfo.WithLabelValues("scored_pairs").Set(float64(len(result.Rows)))
	m.resultInfo.WithLabelValues("max_risk_score").Set(result.MaxRisk() * 100)

	m.logger.WithFields(logrus.Fields{
		"run_id":   result.RunID,
		"products": len(highest),
	}).Debug("Populated result metrics")
}

// sanitizeLabelValue cleans strings for use as Prometheus labels
func sanitizeLabelValue(value string) string {
	if value == "" {
		return "unknown"
	}

	// Remove newlines and carriage returns
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\t", " ")

	// Limit length to prevent excessive label sizes
	if len(value) > 200 {
		value = value[:200] + "..."
	}

	return strings.TrimSpace(value)
}
