// ABOUTME: Tests for the scoring pipeline state machine and result formatting.
// ABOUTME: Runs end-to-end scenarios against in-memory sources and checks failure handling.

package engine

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jfeddern/VulnRisk/internal/model"
	"github.com/jfeddern/VulnRisk/internal/table"
	"github.com/jfeddern/VulnRisk/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations for testing
type MockSource struct {
	name string
	csv  string
	err  error
}

func (m *MockSource) Name() string {
	return m.name
}

func (m *MockSource) LoadSystems(ctx context.Context) (*table.Frame, error) {
	return m.load()
}

func (m *MockSource) LoadCatalog(ctx context.Context) (*table.Frame, error) {
	return m.load()
}

func (m *MockSource) load() (*table.Frame, error) {
	if m.err != nil {
		return nil, m.err
	}
	return table.ReadCSV(strings.NewReader(m.csv))
}

type MockLoader struct {
	err error
}

func (m *MockLoader) Load(id string) (*model.Model, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &model.Model{Regressor: model.Baseline(), Version: model.BaselineID}, nil
}

type MockObserver struct {
	mutex   sync.Mutex
	stages  []State
	reports []*Report
}

func (m *MockObserver) StageCompleted(stage State, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stages = append(m.stages, stage)
}

func (m *MockObserver) RunFinished(report *Report) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.reports = append(m.reports, report)
}

func (m *MockObserver) runs() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.reports)
}

const (
	strutsSystems = "System_ID,Software_Version,Network_Access_Level,Patch_Level,Timestamp\n" +
		"SYS-001,Apache Struts 2.5,Public,Outdated,2024-03-01 10:00:00\n"

	strutsCatalog = "CVE_ID,Product,Description,CVSS_Score,Criticality_Level,Exploit_Status,Patch_Availability,Historical_Attack_Data,Timestamp\n" +
		"CVE-2017-5638,Apache Struts,Remote code execution,7.5,High,Yes,Not Available,12,2024-02-01\n"
)

func newTestEngine(t *testing.T, observers ...Observer) (*Engine, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	dir := t.TempDir()
	config := DefaultConfig()
	config.OutputDir = dir
	config.ScrapeInterval = 20 * time.Millisecond

	return NewEngine(&MockLoader{}, config, logger, observers...), dir
}

func request(systems, catalog, output string) Request {
	return Request{
		Systems:    &MockSource{name: "systems", csv: systems},
		Catalog:    &MockSource{name: "catalog", csv: catalog},
		Model:      model.BaselineID,
		OutputPath: output,
	}
}

func readOutput(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return records
}

func TestNewEngine(t *testing.T) {
	engine, _ := newTestEngine(t)

	require.NotNil(t, engine)
	assert.NotNil(t, engine.Matcher())
	assert.NotNil(t, engine.tracer)

	result, when := engine.LastResult()
	assert.Nil(t, result)
	assert.True(t, when.IsZero())
}

func TestRunSingleMatch(t *testing.T) {
	observer := &MockObserver{}
	engine, dir := newTestEngine(t, observer)
	output := filepath.Join(dir, "predictions.csv")

	result, err := engine.Run(context.Background(), request(strutsSystems, strutsCatalog, output))
	require.NoError(t, err)

	require.Len(t, result.Rows, 1)
	row := result.Rows[0]
	assert.Equal(t, "CVE-2017-5638", row.CVEID)
	assert.Equal(t, "SYS-001", row.SystemID)
	assert.Equal(t, "Apache Struts", row.Product)
	assert.True(t, strings.HasSuffix(row.RiskScorePercent, "%"))
	assert.Equal(t, FormatRiskScore(row.Raw), row.RiskScorePercent)
	assert.Equal(t, model.BaselineID, result.Model)

	records := readOutput(t, output)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"CVE_ID", "System_ID", "Product", "DAIVERP_Risk_Score"}, records[0])
	assert.Equal(t, []string{"CVE-2017-5638", "SYS-001", "Apache Struts", row.RiskScorePercent}, records[1])

	assert.Equal(t, []State{StateLoading, StateMatching, StatePreprocessing, StateScoring, StateFormatting}, observer.stages)
	require.Len(t, observer.reports, 1)
	assert.Equal(t, StateDone, observer.reports[0].State)
	assert.NoError(t, observer.reports[0].Err)

	last, when := engine.LastResult()
	assert.Equal(t, result, last)
	assert.False(t, when.IsZero())
}

func TestRunNoOverlapWritesNothing(t *testing.T) {
	observer := &MockObserver{}
	engine, dir := newTestEngine(t, observer)
	output := filepath.Join(dir, "predictions.csv")

	systems := "System_ID,Software_Version\nSYS-001,Microsoft Windows 10\n"
	_, err := engine.Run(context.Background(), request(systems, strutsCatalog, output))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNoOverlap))

	var scoringErr *types.ScoringError
	require.True(t, errors.As(err, &scoringErr))
	assert.Equal(t, string(StateMatching), scoringErr.Stage)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))

	require.Len(t, observer.reports, 1)
	assert.Equal(t, StateFailed, observer.reports[0].State)
	assert.Equal(t, StateMatching, observer.reports[0].Stage)
}

func TestRunMissingCVSSFailsBeforeMatching(t *testing.T) {
	observer := &MockObserver{}
	engine, dir := newTestEngine(t, observer)
	output := filepath.Join(dir, "predictions.csv")

	catalog := "CVE_ID,Product,Criticality_Level\nCVE-2017-5638,Apache Struts,High\n"
	_, err := engine.Run(context.Background(), request(strutsSystems, catalog, output))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrSchema))
	assert.Contains(t, err.Error(), "CVSS_Score")

	assert.Empty(t, observer.stages)
	assert.Equal(t, StateLoading, observer.reports[0].Stage)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunLoadingFailures(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		loader   *MockLoader
		expected error
	}{
		{
			name: "system file missing",
			req: Request{
				Systems: &MockSource{name: "systems", err: types.NewError(types.KindInputNotFound, "file not found: systems.csv")},
				Catalog: &MockSource{name: "catalog", csv: strutsCatalog},
			},
			loader:   &MockLoader{},
			expected: types.ErrInputNotFound,
		},
		{
			name: "no catalog source",
			req: Request{
				Systems: &MockSource{name: "systems", csv: strutsSystems},
			},
			loader:   &MockLoader{},
			expected: types.ErrInputNotFound,
		},
		{
			name: "unreadable catalog",
			req: Request{
				Systems: &MockSource{name: "systems", csv: strutsSystems},
				Catalog: &MockSource{name: "catalog", err: errors.New("connection reset")},
			},
			loader:   &MockLoader{},
			expected: types.ErrSchema,
		},
		{
			name: "system table without versions",
			req: Request{
				Systems: &MockSource{name: "systems", csv: "System_ID\nSYS-001\n"},
				Catalog: &MockSource{name: "catalog", csv: strutsCatalog},
			},
			loader:   &MockLoader{},
			expected: types.ErrSchema,
		},
		{
			name:     "model artifact missing",
			req:      request(strutsSystems, strutsCatalog, ""),
			loader:   &MockLoader{err: types.NewError(types.KindModelLoadError, "model artifact not found")},
			expected: types.ErrModelLoad,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, dir := newTestEngine(t)
			engine.loader = tt.loader

			_, err := engine.Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.expected), "got %v", err)

			entries, readErr := os.ReadDir(dir)
			require.NoError(t, readErr)
			assert.Empty(t, entries)
		})
	}
}

func TestRunDefaultOutputName(t *testing.T) {
	engine, dir := newTestEngine(t)

	result, err := engine.Run(context.Background(), request(strutsSystems, strutsCatalog, ""))
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(result.OutputPath))
	assert.Regexp(t, `^predictions_\d{14}_[0-9a-f]{8}\.csv$`, filepath.Base(result.OutputPath))
	_, statErr := os.Stat(result.OutputPath)
	assert.NoError(t, statErr)
}

func TestRunIsReproducible(t *testing.T) {
	engine, dir := newTestEngine(t)

	var systems, catalog strings.Builder
	systems.WriteString("System_ID,Software_Version,Network_Access_Level,Patch_Level\n")
	catalog.WriteString("CVE_ID,Product,CVSS_Score,Criticality_Level,Exploit_Status,Patch_Availability,Historical_Attack_Data\n")
	access := []string{"Public", "Internal"}
	patch := []string{"Up-to-date", "Outdated"}
	for i := 0; i < 700; i++ {
		systems.WriteString("SYS-" + strconv.Itoa(i) + ",Nginx 1." + strconv.Itoa(i%20) + "," + access[i%2] + "," + patch[i%3%2] + "\n")
	}
	exploit := []string{"Yes", "No"}
	criticality := []string{"High", "Medium", "Low"}
	for i := 0; i < 40; i++ {
		catalog.WriteString("CVE-2024-" + strconv.Itoa(i) + ",Nginx," + strconv.Itoa(i%10) + ".5," + criticality[i%3] + "," + exploit[i%2] + ",Available," + strconv.Itoa(i) + "\n")
	}

	first, err := engine.Run(context.Background(), request(systems.String(), catalog.String(), filepath.Join(dir, "a.csv")))
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), request(systems.String(), catalog.String(), filepath.Join(dir, "b.csv")))
	require.NoError(t, err)

	// 40 catalog rows joined with the 500 sampled systems
	assert.Len(t, first.Rows, 40*500)
	require.Equal(t, len(first.Rows), len(second.Rows))
	for i := range first.Rows {
		assert.Equal(t, first.Rows[i].SystemID, second.Rows[i].SystemID)
		assert.Equal(t, first.Rows[i].RiskScorePercent, second.Rows[i].RiskScorePercent)
	}

	a, err := os.ReadFile(filepath.Join(dir, "a.csv"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRunCancelled(t *testing.T) {
	engine, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, request(strutsSystems, strutsCatalog, ""))
	require.Error(t, err)
	assert.Equal(t, types.KindInternal, types.KindOf(err))
}

func TestFormatRiskScore(t *testing.T) {
	tests := []struct {
		raw      float64
		expected string
	}{
		{raw: 0.8765, expected: "87.65%"},
		{raw: 1.0, expected: "100.0%"},
		{raw: 0.12345, expected: "12.34%"},
		{raw: 0.72, expected: "72.0%"},
		{raw: 0.333333, expected: "33.33%"},
		{raw: 0.005, expected: "0.5%"},
		{raw: 0, expected: "0.0%"},
		{raw: math.NaN(), expected: "nan%"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatRiskScore(tt.raw))
		})
	}
}

func TestDefaultOutputName(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "predictions_20240309130507_1b4e28ba.csv", DefaultOutputName(at, "1b4e28ba-2fa1-11d2-883f-0016d3cca427"))
	assert.Equal(t, "predictions_20240309130507_abc.csv", DefaultOutputName(at, "abc"))
}

func TestRunsInSameSecondWriteSeparateFiles(t *testing.T) {
	engine, dir := newTestEngine(t)

	first, err := engine.Run(context.Background(), request(strutsSystems, strutsCatalog, ""))
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), request(strutsSystems, strutsCatalog, ""))
	require.NoError(t, err)

	assert.NotEqual(t, first.OutputPath, second.OutputPath)
	matches, err := filepath.Glob(filepath.Join(dir, "predictions_*.csv"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestEngineStartAndStop(t *testing.T) {
	observer := &MockObserver{}
	engine, _ := newTestEngine(t, observer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Start(ctx, request(strutsSystems, strutsCatalog, "ignored.csv"))
		close(done)
	}()

	require.Eventually(t, func() bool { return observer.runs() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after context cancellation")
	}

	result, _ := engine.LastResult()
	require.NotNil(t, result)
	assert.NotEqual(t, "ignored.csv", result.OutputPath)
}
